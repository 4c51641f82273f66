package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	ChatOutcomeAnswered = "answered"
	ChatOutcomeEmpty    = "empty"
	ChatOutcomeFailed   = "failed"
	ChatOutcomeTimeout  = "timeout"
	ChatOutcomeRejected = "rejected"
)

var (
	chatRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlchat_chat_requests_total",
			Help: "Total number of chat requests by outcome.",
		},
		[]string{"outcome"},
	)
	agentDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlchat_agent_duration_seconds",
			Help:    "Wall-clock time spent answering a question.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
	)
	agentStepsPerRun = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlchat_agent_steps",
			Help:    "Number of model turns needed per question.",
			Buckets: []float64{1, 2, 3, 4, 6, 8, 12, 16, 25},
		},
	)
	agentToolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlchat_agent_tool_calls_total",
			Help: "Total number of tool calls issued by the model.",
		},
		[]string{"tool", "status"},
	)
	llmRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlchat_llm_requests_total",
			Help: "Total number of chat completion requests sent to the provider.",
		},
		[]string{"status"},
	)
	archivedExchangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlchat_archived_exchanges_total",
			Help: "Chat exchanges handled by the transcript archive.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		chatRequestsTotal,
		agentDurationSeconds,
		agentStepsPerRun,
		agentToolCallsTotal,
		llmRequestsTotal,
		archivedExchangesTotal,
	)
}

func ObserveChat(outcome string, elapsed time.Duration, steps int) {
	chatRequestsTotal.WithLabelValues(outcome).Inc()
	if outcome == ChatOutcomeRejected {
		return
	}
	agentDurationSeconds.Observe(elapsed.Seconds())
	if steps > 0 {
		agentStepsPerRun.Observe(float64(steps))
	}
}

func IncrementToolCall(tool string, failed bool) {
	status := "ok"
	if failed {
		status = "error"
	}
	agentToolCallsTotal.WithLabelValues(tool, status).Inc()
}

func IncrementLLMRequest(failed bool) {
	status := "ok"
	if failed {
		status = "error"
	}
	llmRequestsTotal.WithLabelValues(status).Inc()
}

// ObserveArchive counts exchanges by archive result: "written", "dropped" or "failed".
func ObserveArchive(result string, count int) {
	if count <= 0 {
		return
	}
	archivedExchangesTotal.WithLabelValues(result).Add(float64(count))
}
