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

// Metrics provides Prometheus metrics for benchmark runs. A disabled
// instance accepts every call and records nothing.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Phase metrics
	phaseDuration *prometheus.HistogramVec
	phaseSetup    *prometheus.HistogramVec
	phasesTotal   *prometheus.CounterVec

	// Step and helper metrics
	buildSteps     *prometheus.CounterVec
	stepDuration   *prometheus.HistogramVec
	deleteAttempts *prometheus.CounterVec
	daemonCommands *prometheus.CounterVec

	errorsByCode *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector with its own registry.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return &Metrics{config: cfg}
	}

	namespace := cfg.Namespace
	buckets := cfg.PhaseBuckets
	if len(buckets) == 0 {
		buckets = prometheus.ExponentialBuckets(10, 2, 10)
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of benchmark runs by outcome",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Wall-clock duration of whole benchmark runs",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "phase_compile_seconds",
				Help:      "Timed compile duration of each benchmark phase",
				Buckets:   buckets,
			},
			[]string{"phase"},
		),
		phaseSetup: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "phase_setup_seconds",
				Help:      "Untimed setup duration (configure and makefiles) of each phase",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
			[]string{"phase"},
		),
		phasesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "phases_total",
				Help:      "Total number of phases run by outcome",
			},
			[]string{"phase", "status"},
		),

		buildSteps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "build_steps_total",
				Help:      "Total number of build steps by outcome",
			},
			[]string{"phase", "step", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "build_step_duration_seconds",
				Help:      "Duration of individual build steps",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 14),
			},
			[]string{"step"},
		),
		deleteAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "delete_attempts_total",
				Help:      "Directory delete and move attempts by outcome",
			},
			[]string{"op", "status"},
		),
		daemonCommands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "daemon_commands_total",
				Help:      "Cache daemon commands by outcome",
			},
			[]string{"command", "status"},
		),

		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of run failures by error code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.runsCompleted,
		m.runDuration,
		m.phaseDuration,
		m.phaseSetup,
		m.phasesTotal,
		m.buildSteps,
		m.stepDuration,
		m.deleteAttempts,
		m.daemonCommands,
		m.errorsByCode,
	)

	return m
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// RecordRunCompleted records a finished run.
func (m *Metrics) RecordRunCompleted(success bool, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status(success)).Inc()
	m.runDuration.WithLabelValues(status(success)).Observe(duration.Seconds())
}

// RecordPhase records a phase outcome. Durations are only observed for
// successful phases.
func (m *Metrics) RecordPhase(phase string, success bool, elapsed, setup time.Duration) {
	if m.phasesTotal == nil {
		return
	}
	m.phasesTotal.WithLabelValues(phase, status(success)).Inc()
	if success {
		m.phaseDuration.WithLabelValues(phase).Observe(elapsed.Seconds())
		m.phaseSetup.WithLabelValues(phase).Observe(setup.Seconds())
	}
}

// RecordBuildStep records one build step.
func (m *Metrics) RecordBuildStep(phase, step string, success bool, duration time.Duration) {
	if m.buildSteps == nil {
		return
	}
	m.buildSteps.WithLabelValues(phase, step, status(success)).Inc()
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordDeleteAttempt records one delete or move attempt.
func (m *Metrics) RecordDeleteAttempt(op string, success bool) {
	if m.deleteAttempts == nil {
		return
	}
	m.deleteAttempts.WithLabelValues(op, status(success)).Inc()
}

// RecordDaemonCommand records one cache daemon command.
func (m *Metrics) RecordDaemonCommand(command string, success bool) {
	if m.daemonCommands == nil {
		return
	}
	m.daemonCommands.WithLabelValues(command, status(success)).Inc()
}

// RecordError records a run failure by error code.
func (m *Metrics) RecordError(code string) {
	if m.errorsByCode == nil || code == "" {
		return
	}
	m.errorsByCode.WithLabelValues(code).Inc()
}

// Registry exposes the underlying registry, nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
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

// WriteTextfile writes the current metrics in the text exposition format,
// suitable for the node exporter's textfile collector.
func (m *Metrics) WriteTextfile() error {
	if m.registry == nil || m.config.TextfilePath == "" {
		return nil
	}
	return prometheus.WriteToTextfile(m.config.TextfilePath, m.registry)
}

// StartMetricsServer serves metrics until ctx is done. It is a no-op when
// metrics are disabled or no listen address is configured.
func (m *Metrics) StartMetricsServer(ctx context.Context, logger zerolog.Logger) {
	if m.registry == nil || m.config.ListenAddress == "" {
		return
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
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	go func() {
		logger.Info().Str("address", m.config.ListenAddress).Str("path", path).Msg("Serving metrics")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
}

// Timer measures elapsed time for an operation.
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
