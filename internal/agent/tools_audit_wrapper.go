package agent

import (
	"context"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/wwwzy/PennyAgent/internal/metrics"
	"github.com/wwwzy/PennyAgent/internal/storage"
	"github.com/wwwzy/PennyAgent/internal/telemetry"
)

const (
	auditTruncateLimit = 2048
)

// AuditedTool 是一个工具包装器：记录指标与 span，并在配置了存储时于执行前后写审计记录
type AuditedTool struct {
	impl  tool.InvokableTool
	store *storage.Storage
	log   zerolog.Logger
}

// wrapWithAudit 将普通工具包装为带审计功能的工具；store 可以为 nil（只记指标）
func wrapWithAudit(t tool.InvokableTool, store *storage.Storage, log zerolog.Logger) tool.InvokableTool {
	return &AuditedTool{impl: t, store: store, log: log}
}

func (t *AuditedTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return t.impl.Info(ctx)
}

func (t *AuditedTool) InvokableRun(ctx context.Context, input string, opts ...tool.Option) (string, error) {
	// 1. 获取工具信息（主要是 Action 名）
	info, err := t.impl.Info(ctx)
	action := "unknown"
	if err == nil && info != nil {
		action = info.Name
	}

	ctx, span := telemetry.StartToolSpan(ctx, action)
	start := time.Now().UTC()
	log := loggerFor(ctx, t.log).With().Str("tool", action).Logger()

	// 2. 插入初始记录（Status=running）
	// 插入失败只打日志，不阻断工具执行
	record := &storage.AuditRecord{
		SessionID:  GetSessionID(ctx),
		TraceID:    GetTraceID(ctx),
		Action:     action,
		ParamsJSON: truncate(input, auditTruncateLimit),
		Status:     "running",
		StartedAt:  start,
	}
	if t.store != nil {
		if err := t.store.InsertAuditRecord(ctx, record); err != nil {
			log.Warn().Err(err).Msg("insert audit record failed")
		}
	}

	// 3. 执行原始工具逻辑
	result, runErr := t.impl.InvokableRun(ctx, input, opts...)

	// 4. 更新审计记录与指标
	finishedAt := time.Now().UTC()
	status := "success"
	var errMsg *string
	var resultJSON *string
	if runErr != nil {
		status = "failed"
		e := truncate(runErr.Error(), auditTruncateLimit)
		errMsg = &e
	} else {
		r := truncate(result, auditTruncateLimit)
		resultJSON = &r
	}

	metricStatus := status
	if runErr == nil && result == UnavailableText {
		metricStatus = "unavailable"
	}
	metrics.ToolCallTotal.WithLabelValues(action, metricStatus).Inc()
	metrics.ToolDuration.WithLabelValues(action).Observe(finishedAt.Sub(start).Seconds())
	telemetry.End(span, runErr)

	log.Debug().
		Str("status", metricStatus).
		Dur("took", finishedAt.Sub(start)).
		Msg("tool finished")

	// 只有在 Insert 成功且有了 ID 后，才能 Update
	if t.store != nil && record.ID != 0 {
		update := storage.AuditUpdate{
			Status:       &status,
			ResultJSON:   resultJSON,
			ErrorMessage: errMsg,
			FinishedAt:   &finishedAt,
		}
		if err := t.store.UpdateAuditRecord(ctx, record.ID, update); err != nil {
			log.Warn().Err(err).Msg("update audit record failed")
		}
	}

	return result, runErr
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "...(truncated)"
}
