package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

type rateLimited struct {
	next    Oracle
	limiter *rate.Limiter
}

// WithRateLimit 为 Oracle 增加进程级请求限速；requestsPerMinute<=0 时原样返回。
func WithRateLimit(next Oracle, requestsPerMinute float64, burst int) Oracle {
	if requestsPerMinute <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &rateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(requestsPerMinute/60.0), burst),
	}
}

func (r *rateLimited) Complete(ctx context.Context, prompt string, stop []string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("oracle rate limit: %w", err)
	}
	return r.next.Complete(ctx, prompt, stop)
}
