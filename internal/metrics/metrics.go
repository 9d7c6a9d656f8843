package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// DefaultRegistry 为进程内唯一的 Registry，serve 模式通过 /metrics 暴露。
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		TurnTotal, TurnDuration, TurnIterations,
		OracleCallTotal, OracleDuration,
		ToolCallTotal, ToolDuration,
		ActiveSessions,
	)
}

// TurnTotal 回合总数（按模式与结果）
var TurnTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "penny_turn_total",
		Help: "对话回合总数",
	},
	[]string{"mode", "outcome"}, // mode: tools | direct；outcome: final | iteration_limit | unknown_tool | error
)

// TurnDuration 单个回合耗时（秒），包含所有模型调用与工具调用
var TurnDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "penny_turn_duration_seconds",
		Help:    "单个回合耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"mode"},
)

// TurnIterations 每个回合实际发生的模型调用次数
var TurnIterations = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "penny_turn_iterations",
		Help:    "每个回合的模型调用次数",
		Buckets: []float64{1, 2, 3, 4},
	},
)

// OracleCallTotal 模型调用次数（按结果）
var OracleCallTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "penny_oracle_call_total",
		Help: "模型调用总数",
	},
	[]string{"status"}, // ok | error
)

// OracleDuration 模型调用耗时（秒）
var OracleDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "penny_oracle_duration_seconds",
		Help:    "模型调用耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
)

// ToolCallTotal 工具调用次数（按工具与结果）
var ToolCallTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "penny_tool_call_total",
		Help: "工具调用总数",
	},
	[]string{"tool", "status"}, // status: success | failed
)

// ToolDuration 工具调用耗时（秒）
var ToolDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "penny_tool_duration_seconds",
		Help:    "工具调用耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"tool"},
)

// ActiveSessions 当前会话存储中的会话数
var ActiveSessions = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "penny_active_sessions",
		Help: "当前活跃会话数",
	},
)

// WritePrometheus 将 Prometheus 文本格式写入 w（供 Hertz handler 复用）
func WritePrometheus(w io.Writer) error {
	mfs, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
