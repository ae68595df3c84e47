package bench

import (
	"context"
	"fmt"
	"time"

	"github.com/cclash/oslbench/pkg/build"
	"github.com/cclash/oslbench/pkg/daemon"
	"github.com/cclash/oslbench/pkg/fsops"
	"github.com/cclash/oslbench/pkg/harness"
	"github.com/cclash/oslbench/pkg/stores"
	"github.com/cclash/oslbench/pkg/telemetry"
	"github.com/cclash/oslbench/pkg/toolenv"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// EnvironmentSource produces and checks the base toolchain environment.
type EnvironmentSource interface {
	Resolve(ctx context.Context) (toolenv.Environment, error)
	Validate(env toolenv.Environment) error
}

// SourceProvider fetches the archive and extracts working trees.
type SourceProvider interface {
	TreeProvider
	EnsureArchive(ctx context.Context) error
}

// DaemonController drives the cache daemon.
type DaemonController interface {
	Start(ctx context.Context, cfg daemon.Config) error
	Stop(ctx context.Context, cfg daemon.Config) error
	Stats(ctx context.Context, cfg daemon.Config) (string, error)
}

// RunStore persists finished runs.
type RunStore interface {
	SaveRun(ctx context.Context, run *stores.Run) error
}

// Components are the collaborators of a Harness. Builder and Daemon are
// factories because both need the base environment, which is only known
// once the run has resolved it.
type Components struct {
	Environment EnvironmentSource
	Source      SourceProvider
	Files       TreeDeleter
	Builder     func(base toolenv.Environment) Builder
	Daemon      func(base toolenv.Environment) DaemonController

	// Store and Telemetry are optional.
	Store     RunStore
	Telemetry *telemetry.Telemetry
}

// Options configure one harness.
type Options struct {
	// LockPath is the run lock file; empty disables locking.
	LockPath string

	// Release labels persisted runs.
	Release string

	Cache daemon.Config

	// Stats queries the daemon before the first and after the last phase.
	Stats bool
}

// Report is the outcome of a run.
type Report struct {
	RunID       string
	Results     []build.PhaseResult
	StatsBefore string
	StatsAfter  string
	StartedAt   time.Time
	Duration    time.Duration
}

// Harness runs a whole benchmark: environment, archive, daemon lifecycle,
// the phases themselves and persistence of the results.
type Harness struct {
	components Components
	options    Options
	logger     zerolog.Logger
}

// NewHarness creates a harness.
func NewHarness(components Components, options Options, logger zerolog.Logger) *Harness {
	return &Harness{
		components: components,
		options:    options,
		logger:     logger.With().Str("component", "harness").Logger(),
	}
}

// Run executes the selected phases. The report is returned even when the run
// fails and holds every phase result produced before the failure.
func (h *Harness) Run(ctx context.Context, phases []PhaseSpec) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), StartedAt: time.Now()}
	logger := h.logger.With().Str("run_id", report.RunID).Logger()

	if h.options.LockPath != "" {
		lock, err := fsops.AcquireRunLock(h.options.LockPath)
		if err != nil {
			return report, err
		}
		defer lock.Release()
	}

	tel := h.components.Telemetry
	var runSpan trace.Span
	if tel != nil {
		ctx, runSpan = tel.Tracer.StartRunSpan(ctx, report.RunID, h.options.Release)
		defer runSpan.End()
	}

	logger.Info().Int("phases", len(phases)).Msg("Benchmark run starting")

	err := h.run(ctx, logger, phases, report)
	report.Duration = time.Since(report.StartedAt)

	if tel != nil {
		tel.Metrics.RecordRunCompleted(err == nil, report.Duration)
		if herr, ok := harness.AsError(err); ok {
			tel.Metrics.RecordError(string(herr.Code))
		}
		if err != nil {
			telemetry.RecordError(runSpan, err)
		} else {
			telemetry.RecordSuccess(runSpan)
		}
	}

	h.persist(logger, report, err)

	if err != nil {
		logger.Error().Err(err).Dur("duration", report.Duration).Msg("Benchmark run failed")
		return report, err
	}
	logger.Info().Dur("duration", report.Duration).Msg("Benchmark run completed")
	return report, nil
}

func (h *Harness) run(ctx context.Context, logger zerolog.Logger, phases []PhaseSpec, report *Report) error {
	if usesCache(phases) && h.options.Cache.BinDir == "" {
		return harness.NewConfigInvalid("cached phases need the compiler wrapper directory (cache.bin_dir)", nil)
	}

	env, err := h.components.Environment.Resolve(ctx)
	if err != nil {
		return err
	}
	if err := h.components.Environment.Validate(env); err != nil {
		return err
	}

	if err := h.components.Source.EnsureArchive(ctx); err != nil {
		return err
	}

	builder := h.components.Builder(env)
	seq := NewSequencer(h.components.Source, builder, h.components.Files, h.options.Cache, h.logger)
	if tel := h.components.Telemetry; tel != nil {
		seq.SetTracer(tel.Tracer)
		seq.SetObserver(tel.Metrics)
	}

	if !usesCache(phases) {
		report.Results, err = seq.Run(ctx, phases)
		return err
	}

	ctrl := h.components.Daemon(env)
	cache := h.options.Cache

	// A daemon left over from an earlier run would serve a stale cache.
	if err := ctrl.Stop(ctx, cache); err != nil {
		logger.Warn().Err(err).Msg("Failed to stop stale daemon")
	}
	if err := ctrl.Start(ctx, cache); err != nil {
		return err
	}
	defer func() {
		// Teardown runs even when ctx was cancelled.
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cache.StopTimeout+30*time.Second)
		defer cancel()
		if err := ctrl.Stop(stopCtx, cache); err != nil {
			logger.Warn().Err(err).Msg("Failed to stop daemon")
		}
		if h.options.Stats {
			report.StatsAfter = h.stats(stopCtx, logger, ctrl)
		}
	}()

	if h.options.Stats {
		report.StatsBefore = h.stats(ctx, logger, ctrl)
	}

	report.Results, err = seq.Run(ctx, phases)
	return err
}

func (h *Harness) stats(ctx context.Context, logger zerolog.Logger, ctrl DaemonController) string {
	out, err := ctrl.Stats(ctx, h.options.Cache)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to query daemon stats")
		return ""
	}
	return out
}

func (h *Harness) persist(logger zerolog.Logger, report *Report, runErr error) {
	if h.components.Store == nil {
		return
	}

	finished := report.StartedAt.Add(report.Duration)
	run := &stores.Run{
		ID:         report.RunID,
		Release:    h.options.Release,
		Status:     stores.RunStatusCompleted,
		StartedAt:  report.StartedAt,
		FinishedAt: &finished,
		Stats:      report.StatsAfter,
	}
	if runErr != nil {
		msg := runErr.Error()
		run.Status = stores.RunStatusFailed
		run.Error = &msg
		if herr, ok := harness.AsError(runErr); ok {
			code := string(herr.Code)
			run.ErrorCode = &code
		}
	}
	for _, r := range report.Results {
		run.Phases = append(run.Phases, stores.PhaseRecord{
			Phase:      string(r.Phase),
			Success:    r.Success,
			Elapsed:    r.Elapsed,
			Setup:      r.Setup,
			FailedStep: string(r.FailedStep),
			ExitCode:   r.ExitCode,
			StartedAt:  r.StartedAt,
			FinishedAt: r.FinishedAt,
		})
	}

	// Persist even if the run was cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.components.Store.SaveRun(ctx, run); err != nil {
		logger.Error().Err(err).Msg("Failed to persist run")
	}
}

func usesCache(phases []PhaseSpec) bool {
	for _, p := range phases {
		if p.UsesCache {
			return true
		}
	}
	return false
}

// Summary renders results as one line per phase.
func Summary(results []build.PhaseResult) []string {
	lines := make([]string, 0, len(results))
	for _, r := range results {
		if r.Success {
			lines = append(lines, fmt.Sprintf("%-8s %8.1fs (setup %.1fs)", r.Phase, r.Elapsed.Seconds(), r.Setup.Seconds()))
			continue
		}
		lines = append(lines, fmt.Sprintf("%-8s FAILED at %s (exit %d)", r.Phase, r.FailedStep, r.ExitCode))
	}
	return lines
}
