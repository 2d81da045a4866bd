package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hupe1980/meshchat/core"
)

// Metrics holds the Prometheus collectors of the orchestrator.
type Metrics struct {
	tasks            *prometheus.CounterVec
	agentInvocations *prometheus.CounterVec
	agentLatency     *prometheus.HistogramVec
	taskDuration     prometheus.Histogram
	tokens           prometheus.Counter
	cost             prometheus.Counter
	inFlight         prometheus.Gauge
}

// NewMetrics registers the orchestrator collectors with reg. Passing
// prometheus.DefaultRegisterer exposes them on the default /metrics handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		tasks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meshchat_tasks_total",
				Help: "Total number of orchestrated tasks by final state",
			},
			[]string{"state"},
		),
		agentInvocations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meshchat_agent_invocations_total",
				Help: "Total number of agent invocations by outcome",
			},
			[]string{"agent", "outcome"},
		),
		agentLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meshchat_agent_latency_seconds",
				Help:    "Agent invocation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"agent"},
		),
		taskDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "meshchat_task_duration_seconds",
				Help:    "End-to-end task execution time in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		tokens: f.NewCounter(
			prometheus.CounterOpts{
				Name: "meshchat_tokens_total",
				Help: "Total number of tokens consumed by agents",
			},
		),
		cost: f.NewCounter(
			prometheus.CounterOpts{
				Name: "meshchat_cost_total",
				Help: "Total declared and usage based agent cost",
			},
		),
		inFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "meshchat_tasks_in_flight",
				Help: "Number of tasks currently executing",
			},
		),
	}
}

func (m *Metrics) observeAgent(r core.AgentResult) {
	if m == nil || r.AgentID == core.FallbackAgentID {
		return
	}

	outcome := "success"
	if !r.Success {
		outcome = "failure"
	}

	m.agentInvocations.WithLabelValues(r.AgentID, outcome).Inc()
	m.agentLatency.WithLabelValues(r.AgentID).Observe(r.Latency.Seconds())
}

func (m *Metrics) observeTask(res *core.ExecutionResult) {
	if m == nil {
		return
	}

	m.tasks.WithLabelValues(string(res.State)).Inc()
	m.taskDuration.Observe(res.ExecutionTime.Seconds())
	m.tokens.Add(float64(res.TotalTokens))
	if res.TotalCost > 0 {
		m.cost.Add(res.TotalCost)
	}
}

func (m *Metrics) taskStarted() func() {
	if m == nil {
		return func() {}
	}

	m.inFlight.Inc()

	return m.inFlight.Dec
}
