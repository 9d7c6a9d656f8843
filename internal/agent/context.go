package agent

import (
	"context"

	"github.com/rs/zerolog"
)

// turnMeta 为一次回合在 context 中携带的标识，审计记录与日志都从这里取值。
type turnMeta struct {
	sessionID string
	traceID   string
}

type turnMetaKey struct{}

func metaFrom(ctx context.Context) turnMeta {
	m, _ := ctx.Value(turnMetaKey{}).(turnMeta)
	return m
}

// WithTraceID 将 TraceID 注入 context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	m := metaFrom(ctx)
	m.traceID = traceID
	return context.WithValue(ctx, turnMetaKey{}, m)
}

func GetTraceID(ctx context.Context) string {
	return metaFrom(ctx).traceID
}

// WithSessionID 将会话 ID 注入 context
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	m := metaFrom(ctx)
	m.sessionID = sessionID
	return context.WithValue(ctx, turnMetaKey{}, m)
}

func GetSessionID(ctx context.Context) string {
	return metaFrom(ctx).sessionID
}

// loggerFor 返回带上会话与链路字段的 logger；字段为空时不添加。
func loggerFor(ctx context.Context, log zerolog.Logger) zerolog.Logger {
	m := metaFrom(ctx)
	if m.sessionID == "" && m.traceID == "" {
		return log
	}
	lc := log.With()
	if m.sessionID != "" {
		lc = lc.Str("session_id", m.sessionID)
	}
	if m.traceID != "" {
		lc = lc.Str("trace_id", m.traceID)
	}
	return lc.Logger()
}
