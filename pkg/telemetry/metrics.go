package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics provides Prometheus metrics for profile runs and unit builds.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted *prometheus.CounterVec
	runsTotal   *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	activeRuns  prometheus.Gauge

	// Unit metrics
	unitBuilds        *prometheus.CounterVec
	unitBuildDuration *prometheus.HistogramVec

	// Resolution metrics
	plansResolved    *prometheus.CounterVec
	structuralErrors *prometheus.CounterVec
	errorsByClass    *prometheus.CounterVec

	// Registry metrics
	registryCapabilities *prometheus.GaugeVec

	registry *prometheus.Registry
	server   *http.Server
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
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

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of runs started",
			},
			[]string{"profile"},
		),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of runs finished, by outcome",
			},
			[]string{"profile", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of profile runs in seconds",
				Buckets:   buckets,
			},
			[]string{"profile", "status"},
		),
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active runs",
			},
		),

		unitBuilds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unit_builds_total",
				Help:      "Total number of unit builds, by outcome",
			},
			[]string{"unit", "status"},
		),
		unitBuildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "unit_build_duration_seconds",
				Help:      "Duration of unit builds in seconds",
				Buckets:   buckets,
			},
			[]string{"unit"},
		),

		plansResolved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plans_resolved_total",
				Help:      "Total number of plan resolutions, by outcome",
			},
			[]string{"profile", "outcome"},
		),
		structuralErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "structural_errors_total",
				Help:      "Total number of structural errors by error code",
			},
			[]string{"code"},
		),
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),

		registryCapabilities: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "registry_capabilities",
				Help:      "Number of capabilities in the registry at the end of the last run",
			},
			[]string{"profile"},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsTotal,
		m.runDuration,
		m.activeRuns,
		m.unitBuilds,
		m.unitBuildDuration,
		m.plansResolved,
		m.structuralErrors,
		m.errorsByClass,
		m.registryCapabilities,
	)

	return m, nil
}

// Enabled reports whether metrics are collected.
func (m *Metrics) Enabled() bool {
	return m.registry != nil
}

// Registry returns the Prometheus registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(profile string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(profile).Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a finished run with its status and duration.
func (m *Metrics) RecordRunCompleted(profile, status string, duration time.Duration, capabilities int) {
	if m.runsTotal == nil {
		return
	}
	m.runsTotal.WithLabelValues(profile, status).Inc()
	m.runDuration.WithLabelValues(profile, status).Observe(duration.Seconds())
	m.registryCapabilities.WithLabelValues(profile).Set(float64(capabilities))
	m.activeRuns.Dec()
}

// RecordUnitBuild records one unit build.
func (m *Metrics) RecordUnitBuild(unit, status string, duration time.Duration) {
	if m.unitBuilds == nil {
		return
	}
	m.unitBuilds.WithLabelValues(unit, status).Inc()
	m.unitBuildDuration.WithLabelValues(unit).Observe(duration.Seconds())
}

// RecordPlanResolved records a resolution outcome ("resolved" or "rejected").
func (m *Metrics) RecordPlanResolved(profile, outcome string) {
	if m.plansResolved == nil {
		return
	}
	m.plansResolved.WithLabelValues(profile, outcome).Inc()
}

// RecordStructuralError records a resolution or registration error by code.
func (m *Metrics) RecordStructuralError(code string) {
	if m.structuralErrors == nil || code == "" {
		return
	}
	m.structuralErrors.WithLabelValues(code).Inc()
}

// RecordError records an error by class.
func (m *Metrics) RecordError(errorClass string) {
	if m.errorsByClass == nil || errorClass == "" {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
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

// StartMetricsServer starts an HTTP server to expose metrics. It does nothing
// when metrics are disabled or no listen address is configured.
func (m *Metrics) StartMetricsServer(logger zerolog.Logger) error {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	m.server = &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// Log error but don't fail the application
			logger.Error().Err(err).Str("addr", m.config.ListenAddress).Msg("Metrics server stopped")
		}
	}()

	logger.Info().Str("addr", m.config.ListenAddress).Str("path", m.config.Path).Msg("Serving metrics")
	return nil
}

// Shutdown stops the metrics server if one was started.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
