package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects runtime counters and histograms.
type Metrics struct {
	// LLMRequestDuration measures model call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts model calls.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (input|output)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool dispatches.
	// Labels: tool, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool
	ToolExecutionDuration *prometheus.HistogramVec

	// RunCounter counts agent runs by terminal status.
	// Labels: agent, status
	RunCounter *prometheus.CounterVec

	// RunDuration measures full run time in seconds.
	// Labels: agent
	RunDuration *prometheus.HistogramVec

	// ActiveSessions gauges sessions currently executing.
	ActiveSessions prometheus.Gauge

	// EpicRoundCounter counts orchestrator rounds by judge decision.
	// Labels: decision
	EpicRoundCounter *prometheus.CounterVec

	// WorkflowResumeCounter counts resume attempts.
	// Labels: outcome (completed|waiting|failed|duplicate|invalid)
	WorkflowResumeCounter *prometheus.CounterVec

	// HTTPRequestDuration measures API latency in seconds.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts API requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// ErrorCounter tracks errors by component and kind.
	// Labels: component (loop|executor|epic|workflow|server), kind
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics registers all metrics with the default registry. Call once
// at startup.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers against a specific registerer. Tests use a
// fresh registry to avoid duplicate registration panics.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	auto := promauto.With(reg)
	return &Metrics{
		LLMRequestDuration: auto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "maestro_llm_request_duration_seconds",
				Help:    "Duration of model calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		LLMRequestCounter: auto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maestro_llm_requests_total",
				Help: "Model calls by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		LLMTokensUsed: auto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maestro_llm_tokens_total",
				Help: "Tokens consumed by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		ToolExecutionCounter: auto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maestro_tool_executions_total",
				Help: "Tool dispatches by tool and status",
			},
			[]string{"tool", "status"},
		),
		ToolExecutionDuration: auto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "maestro_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),
		RunCounter: auto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maestro_runs_total",
				Help: "Agent runs by agent and terminal status",
			},
			[]string{"agent", "status"},
		),
		RunDuration: auto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "maestro_run_duration_seconds",
				Help:    "Duration of full agent runs in seconds",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
			},
			[]string{"agent"},
		),
		ActiveSessions: auto.NewGauge(
			prometheus.GaugeOpts{
				Name: "maestro_active_sessions",
				Help: "Sessions currently executing",
			},
		),
		EpicRoundCounter: auto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maestro_epic_rounds_total",
				Help: "Orchestrator rounds by judge decision",
			},
			[]string{"decision"},
		),
		WorkflowResumeCounter: auto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maestro_workflow_resumes_total",
				Help: "Workflow resume attempts by outcome",
			},
			[]string{"outcome"},
		),
		HTTPRequestDuration: auto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "maestro_http_request_duration_seconds",
				Help:    "HTTP API request latency in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestCounter: auto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maestro_http_requests_total",
				Help: "HTTP API requests by method, path, and status",
			},
			[]string{"method", "path", "status_code"},
		),
		ErrorCounter: auto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maestro_errors_total",
				Help: "Errors by component and kind",
			},
			[]string{"component", "kind"},
		),
	}
}
