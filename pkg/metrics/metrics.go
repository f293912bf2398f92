package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// 全局 Registry，供 API/CLI 注册与暴露
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		TurnTotal, TurnDuration,
		ToolDuration, ToolCallsTotal, ToolRetriesTotal, ChainDepth,
		LLMTokensTotal, RateLimitWaitSeconds,
		ThreadsActive,
	)
}

// TurnTotal 对话轮次总数（按终态）
var TurnTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "finagent_turn_total",
		Help: "对话轮次总数（按终态）",
	},
	[]string{"outcome"}, // done | clarified | errored | cancelled
)

// TurnDuration 单轮耗时（秒）
var TurnDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "finagent_turn_duration_seconds",
		Help:    "单轮耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"outcome"},
)

// ToolDuration 工具调用耗时（秒）
var ToolDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "finagent_tool_duration_seconds",
		Help:    "工具调用耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"tool"},
)

// ToolCallsTotal 工具调用次数（按结果）
var ToolCallsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "finagent_tool_calls_total",
		Help: "工具调用次数（按结果）",
	},
	[]string{"tool", "outcome"}, // valid | empty | schema_violation | tool_error
)

// ToolRetriesTotal 工具重试次数
var ToolRetriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "finagent_retries_total",
		Help: "工具重试次数",
	},
	[]string{"tool"},
)

// ChainDepth 每轮串联的不同工具数
var ChainDepth = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "finagent_chain_depth",
		Help:    "每轮串联的不同工具数",
		Buckets: []float64{0, 1, 2, 3, 4},
	},
)

// LLMTokensTotal LLM 调用 token 数
var LLMTokensTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "finagent_llm_tokens_total",
		Help: "LLM 调用 token 总数",
	},
	[]string{"direction"}, // input | output
)

// RateLimitWaitSeconds 限流等待时长
var RateLimitWaitSeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "finagent_rate_limit_wait_seconds",
		Help:    "LLM 限流等待时长（秒）",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	},
	[]string{"provider"},
)

// ThreadsActive 正在执行的会话数
var ThreadsActive = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "finagent_threads_active",
		Help: "正在执行轮次的会话数",
	},
)

// WritePrometheus 将 Prometheus 文本格式写入 w（供 Hertz 等复用）
func WritePrometheus(w io.Writer) error {
	metrics, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range metrics {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
