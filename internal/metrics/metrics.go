package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
// Recording methods are safe on a nil receiver so components can run without metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsCreated prometheus.Counter
	SessionsEvicted *prometheus.CounterVec

	// Orchestration metrics
	OrchestrationsTotal   *prometheus.CounterVec
	OrchestrationDuration prometheus.Histogram

	// Agent metrics
	AgentRunsTotal   *prometheus.CounterVec
	AgentRunDuration *prometheus.HistogramVec

	// Probe and flow metrics
	ProbeAttemptsTotal *prometheus.CounterVec
	FlowStepsTotal     *prometheus.CounterVec

	// Dispatch metrics
	DispatchQueueDepth prometheus.Gauge
	DispatchWait       prometheus.Histogram
	DispatchTasksTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "uxorbit_sessions_active",
				Help: "Number of sessions currently held in the store",
			},
		),
		SessionsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "uxorbit_sessions_created_total",
				Help: "Total number of sessions created",
			},
		),
		SessionsEvicted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uxorbit_sessions_evicted_total",
				Help: "Total number of sessions evicted, by reason",
			},
			[]string{"reason"},
		),

		OrchestrationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uxorbit_orchestrations_total",
				Help: "Total number of finished orchestrations, by terminal status",
			},
			[]string{"status"},
		),
		OrchestrationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "uxorbit_orchestration_duration_seconds",
				Help:    "Duration of orchestrations in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
		),

		AgentRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uxorbit_agent_runs_total",
				Help: "Total number of agent runs",
			},
			[]string{"role", "status"},
		),
		AgentRunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "uxorbit_agent_run_duration_seconds",
				Help:    "Duration of agent runs in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"role"},
		),

		ProbeAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uxorbit_probe_attempts_total",
				Help: "Total number of link probe attempts, by outcome",
			},
			[]string{"outcome"},
		),
		FlowStepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uxorbit_flow_steps_total",
				Help: "Total number of executed flow steps, by result",
			},
			[]string{"result"},
		),

		DispatchQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "uxorbit_dispatch_queue_depth",
				Help: "Number of orchestrations waiting for a run slot",
			},
		),
		DispatchWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "uxorbit_dispatch_wait_seconds",
				Help:    "Time orchestrations spent queued before starting",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60},
			},
		),
		DispatchTasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uxorbit_dispatch_tasks_total",
				Help: "Total number of dispatched tasks, by result",
			},
			[]string{"result"},
		),
	}

	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.SessionsActive)
	m.registry.MustRegister(m.SessionsCreated)
	m.registry.MustRegister(m.SessionsEvicted)

	m.registry.MustRegister(m.OrchestrationsTotal)
	m.registry.MustRegister(m.OrchestrationDuration)

	m.registry.MustRegister(m.AgentRunsTotal)
	m.registry.MustRegister(m.AgentRunDuration)

	m.registry.MustRegister(m.ProbeAttemptsTotal)
	m.registry.MustRegister(m.FlowStepsTotal)

	m.registry.MustRegister(m.DispatchQueueDepth)
	m.registry.MustRegister(m.DispatchWait)
	m.registry.MustRegister(m.DispatchTasksTotal)
}

// SessionCreated records a new session and the resulting store size.
func (m *Metrics) SessionCreated(active int) {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
	m.SessionsActive.Set(float64(active))
}

// SessionsRemoved records evictions for reason and the resulting store size.
func (m *Metrics) SessionsRemoved(reason string, n, active int) {
	if m == nil {
		return
	}
	if n > 0 {
		m.SessionsEvicted.WithLabelValues(reason).Add(float64(n))
	}
	m.SessionsActive.Set(float64(active))
}

// OrchestrationFinished records a terminal orchestration.
func (m *Metrics) OrchestrationFinished(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.OrchestrationsTotal.WithLabelValues(status).Inc()
	m.OrchestrationDuration.Observe(d.Seconds())
}

// AgentRun records one agent run.
func (m *Metrics) AgentRun(role string, failed bool, d time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if failed {
		status = "error"
	}
	m.AgentRunsTotal.WithLabelValues(role, status).Inc()
	m.AgentRunDuration.WithLabelValues(role).Observe(d.Seconds())
}

// ProbeAttempt records one probe attempt. Outcome is ok, transient or terminal.
func (m *Metrics) ProbeAttempt(outcome string) {
	if m == nil {
		return
	}
	m.ProbeAttemptsTotal.WithLabelValues(outcome).Inc()
}

// FlowStep records one executed flow step.
func (m *Metrics) FlowStep(success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.FlowStepsTotal.WithLabelValues(result).Inc()
}

// QueueDepth sets the number of waiting orchestrations.
func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.DispatchQueueDepth.Set(float64(n))
}

// DispatchStarted records how long a task waited for a run slot.
func (m *Metrics) DispatchStarted(waited time.Duration) {
	if m == nil {
		return
	}
	m.DispatchWait.Observe(waited.Seconds())
}

// DispatchCompleted counts a settled task.
func (m *Metrics) DispatchCompleted(failed bool) {
	if m == nil {
		return
	}
	result := "success"
	if failed {
		result = "error"
	}
	m.DispatchTasksTotal.WithLabelValues(result).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
