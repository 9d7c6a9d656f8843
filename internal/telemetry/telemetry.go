package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "pennyagent"

// Config OpenTelemetry 配置；Enabled=false 时使用全局 noop provider。
type Config struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	Endpoint    string `mapstructure:"endpoint"`
	Insecure    bool   `mapstructure:"insecure"`
}

// Init 初始化 OTLP/HTTP tracer；返回的 shutdown 需要在进程退出前调用以刷出缓冲的 span。
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = tracerName
	}

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create otel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// StartTurnSpan 开始一个对话回合 span
func StartTurnSpan(ctx context.Context, sessionID string, mode string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "penny.turn",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("turn.mode", mode),
		),
	)
}

// StartOracleSpan 开始一次模型调用 span
func StartOracleSpan(ctx context.Context, iteration int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "penny.oracle",
		trace.WithAttributes(
			attribute.Int("oracle.iteration", iteration),
		),
	)
}

// StartToolSpan 开始一次工具调用 span
func StartToolSpan(ctx context.Context, toolName string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "penny.tool",
		trace.WithAttributes(
			attribute.String("tool.name", toolName),
		),
	)
}

// End 按 err 设置 span 状态后结束。
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
