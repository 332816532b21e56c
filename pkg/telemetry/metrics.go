package telemetry

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for estimation runs. A Metrics built
// from a disabled config is a no-op.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	activeRuns    prometheus.Gauge

	// Service metrics
	servicesConfigured *prometheus.CounterVec
	serviceDuration    *prometheus.HistogramVec

	// Action metrics
	actionAttempts *prometheus.CounterVec
	actionDuration *prometheus.HistogramVec
	actionsSkipped *prometheus.CounterVec

	// Session metrics
	sessionEvents *prometheus.CounterVec

	// Link metrics
	linksGenerated *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec

	// Event pipeline metrics
	eventsDropped prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of estimation runs started",
			},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of estimation runs completed, by final state",
			},
			[]string{"state"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of estimation runs in seconds",
				Buckets:   buckets,
			},
			[]string{"state"},
		),
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active estimation runs",
			},
		),

		servicesConfigured: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "services_configured_total",
				Help:      "Total number of services configured, by kind and result",
			},
			[]string{"kind", "status"},
		),
		serviceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "service_duration_seconds",
				Help:      "Time spent configuring one service in seconds",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),

		actionAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "action_attempts_total",
				Help:      "Total number of UI action attempts, by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		actionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "action_duration_seconds",
				Help:      "Duration of UI action attempts including verification",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
		actionsSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_skipped_total",
				Help:      "Idempotent actions skipped because the page already matched",
			},
			[]string{"operation"},
		),

		sessionEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_events_total",
				Help:      "Browser session lifecycle events",
			},
			[]string{"event", "outcome"},
		),

		linksGenerated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "links_generated_total",
				Help:      "Estimate link generation attempts",
			},
			[]string{"outcome"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of failures by error class",
			},
			[]string{"class"},
		),

		eventsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dropped_total",
				Help:      "Events dropped because the event buffer was full",
			},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.activeRuns,
		m.servicesConfigured,
		m.serviceDuration,
		m.actionAttempts,
		m.actionDuration,
		m.actionsSkipped,
		m.sessionEvents,
		m.linksGenerated,
		m.errorsByClass,
		m.eventsDropped,
	)

	return m, nil
}

// Enabled reports whether metrics are collected.
func (m *Metrics) Enabled() bool {
	return m.registry != nil
}

// Registry returns the registry backing the metrics, or nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Run Metrics

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted() {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a finished run with its final state and duration.
func (m *Metrics) RecordRunCompleted(state string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(state).Inc()
	m.runDuration.WithLabelValues(state).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// Service Metrics

// RecordService records one configured service.
func (m *Metrics) RecordService(kind, status string, duration time.Duration) {
	if m.servicesConfigured == nil {
		return
	}
	m.servicesConfigured.WithLabelValues(kind, status).Inc()
	m.serviceDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// Action Metrics

// RecordActionAttempt records one attempt of a UI action. outcome is
// "success" or the failure class.
func (m *Metrics) RecordActionAttempt(operation, outcome string, duration time.Duration) {
	if m.actionAttempts == nil {
		return
	}
	m.actionAttempts.WithLabelValues(operation, outcome).Inc()
	m.actionDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordActionSkipped records an idempotent action that needed no work.
func (m *Metrics) RecordActionSkipped(operation string) {
	if m.actionsSkipped == nil {
		return
	}
	m.actionsSkipped.WithLabelValues(operation).Inc()
}

// RecordSessionEvent records a session lifecycle event.
func (m *Metrics) RecordSessionEvent(event, outcome string) {
	if m.sessionEvents == nil {
		return
	}
	m.sessionEvents.WithLabelValues(event, outcome).Inc()
}

// RecordLinks records a link generation attempt.
func (m *Metrics) RecordLinks(success bool) {
	if m.linksGenerated == nil {
		return
	}
	m.linksGenerated.WithLabelValues(outcome(success)).Inc()
}

// RecordError records a failure by class.
func (m *Metrics) RecordError(errorClass string) {
	if m.errorsByClass == nil || errorClass == "" {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
}

// RecordEventDropped counts an event lost to a full buffer.
func (m *Metrics) RecordEventDropped() {
	if m.eventsDropped == nil {
		return
	}
	m.eventsDropped.Inc()
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server exposing metrics and returns it
// so the caller can shut it down. It returns nil when metrics are disabled.
func (m *Metrics) StartMetricsServer(logger *Logger) *http.Server {
	if !m.config.Enabled {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// the run goes on without a metrics endpoint
			logger.WithError(err).Warn("Metrics server stopped")
		}
	}()

	return server
}
