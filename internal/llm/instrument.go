package llm

import (
	"context"
	"time"

	"github.com/wwwzy/PennyAgent/internal/metrics"
	"github.com/wwwzy/PennyAgent/internal/telemetry"
)

type instrumented struct {
	next Oracle
}

// Instrument 记录每次模型调用的耗时、结果与 span。
func Instrument(next Oracle) Oracle {
	return &instrumented{next: next}
}

func (i *instrumented) Complete(ctx context.Context, prompt string, stop []string) (string, error) {
	ctx, span := telemetry.StartOracleSpan(ctx, IterationFromContext(ctx))
	start := time.Now()
	out, err := i.next.Complete(ctx, prompt, stop)
	metrics.OracleDuration.Observe(time.Since(start).Seconds())
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.OracleCallTotal.WithLabelValues(status).Inc()
	telemetry.End(span, err)
	return out, err
}

type iterationKey struct{}

// WithIteration 标记当前是回合内第几次模型调用，仅用于观测。
func WithIteration(ctx context.Context, n int) context.Context {
	return context.WithValue(ctx, iterationKey{}, n)
}

func IterationFromContext(ctx context.Context) int {
	if v, ok := ctx.Value(iterationKey{}).(int); ok {
		return v
	}
	return 0
}
