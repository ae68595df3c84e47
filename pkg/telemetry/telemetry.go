package telemetry

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// Telemetry bundles the tracer and metrics of one harness process.
type Telemetry struct {
	Tracer  *Tracer
	Metrics *Metrics
	config  Config
	logger  zerolog.Logger
}

// New creates telemetry from cfg.
func New(cfg Config, logger zerolog.Logger) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Tracer:  tracer,
		Metrics: NewMetrics(cfg.Metrics),
		config:  cfg,
		logger:  logger.With().Str("component", "telemetry").Logger(),
	}, nil
}

// Serve starts the metrics endpoint until ctx is done.
func (t *Telemetry) Serve(ctx context.Context) {
	t.Metrics.StartMetricsServer(ctx, t.logger)
}

// Shutdown writes the metrics textfile and flushes pending spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if err := t.Metrics.WriteTextfile(); err != nil {
		errs = append(errs, err)
	} else if t.config.Metrics.TextfilePath != "" {
		t.logger.Debug().Str("path", t.config.Metrics.TextfilePath).Msg("Metrics textfile written")
	}
	if err := t.Tracer.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
