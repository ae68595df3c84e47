package build

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cclash/oslbench/pkg/harness"
	"github.com/cclash/oslbench/pkg/procexec"
	"github.com/cclash/oslbench/pkg/source"
	"github.com/cclash/oslbench/pkg/toolenv"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Config holds the build command lines and makefile handling.
type Config struct {
	Configure []string
	Makefiles []string
	Compile   []string

	// Makefile is the generated makefile, relative to the tree root.
	Makefile string

	// DisableDebugSymbols applies Rewrites to Makefile before compiling.
	DisableDebugSymbols bool
	Rewrites            []Rewrite

	// StreamOutput copies step output to the log while it runs.
	StreamOutput bool
}

// DefaultConfig returns the VC-WIN32 nmake build.
func DefaultConfig() Config {
	return Config{
		Configure:           []string{"perl", "Configure", "VC-WIN32", "no-asm", `--prefix=c:\openssl`},
		Makefiles:           []string{`ms\do_ms.bat`},
		Compile:             []string{"nmake", "-f", `ms\nt.mak`},
		Makefile:            filepath.Join("ms", "nt.mak"),
		DisableDebugSymbols: true,
		Rewrites:            DefaultRewrites(),
	}
}

// Observer is notified about every finished step.
type Observer interface {
	RecordBuildStep(phase, step string, success bool, duration time.Duration)
}

// Runner runs the configure, makefile and compile steps of one phase.
type Runner struct {
	config   Config
	procs    procexec.Runner
	base     toolenv.Environment
	logger   zerolog.Logger
	observer Observer
	tracer   trace.Tracer
}

// NewRunner creates a build runner. Every phase starts from base.
func NewRunner(cfg Config, procs procexec.Runner, base toolenv.Environment, logger zerolog.Logger) *Runner {
	return &Runner{
		config: cfg,
		procs:  procs,
		base:   base,
		logger: logger.With().Str("component", "build").Logger(),
		tracer: otel.Tracer("oslbench/build"),
	}
}

// SetObserver registers obs for step outcomes.
func (r *Runner) SetObserver(obs Observer) {
	r.observer = obs
}

// Run builds the tree with overlay applied on top of the base environment.
// Only the compile step counts towards PhaseResult.Elapsed. A failing step
// yields an unsuccessful result carrying its output together with a
// BUILD_STEP_FAILED error.
func (r *Runner) Run(ctx context.Context, phase Phase, tree source.WorkingTree, overlay toolenv.Overlay) (PhaseResult, error) {
	env := overlay.Apply(r.base).Environ()
	logger := r.logger.With().Str("phase", string(phase)).Logger()

	result := PhaseResult{Phase: phase, StartedAt: time.Now()}
	finish := func(err error) (PhaseResult, error) {
		result.FinishedAt = time.Now()
		return result, err
	}

	for _, step := range []struct {
		name Step
		argv []string
	}{
		{StepConfigure, r.config.Configure},
		{StepMakefiles, r.config.Makefiles},
	} {
		if _, err := r.step(ctx, logger, &result, step.name, step.argv, env, tree.Root); err != nil {
			return finish(err)
		}
	}

	if r.config.DisableDebugSymbols {
		if err := r.rewrite(ctx, logger, &result, tree); err != nil {
			return finish(err)
		}
	}
	result.Setup = time.Since(result.StartedAt)

	res, err := r.step(ctx, logger, &result, StepCompile, r.config.Compile, env, tree.Root)
	if err != nil {
		return finish(err)
	}

	result.Elapsed = res.Duration
	result.Success = true
	logger.Info().
		Dur("elapsed", result.Elapsed).
		Dur("setup", result.Setup).
		Msgf("Build finished in %.1fs", result.Elapsed.Seconds())
	return finish(nil)
}

func (r *Runner) step(ctx context.Context, logger zerolog.Logger, result *PhaseResult, name Step, argv, env []string, dir string) (*procexec.Result, error) {
	ctx, span := r.tracer.Start(ctx, "build."+string(name), trace.WithAttributes(
		attribute.String("phase", string(result.Phase)),
		attribute.String("step", string(name)),
	))
	defer span.End()

	if len(argv) == 0 {
		err := harness.NewBuildStepFailed(string(name), -1, nil)
		err.Err = fmt.Errorf("no command configured")
		return nil, r.fail(span, result, name, err)
	}

	inv := procexec.Invocation{
		Executable: argv[0],
		Args:       argv[1:],
		Env:        env,
		Dir:        dir,
	}
	if r.config.StreamOutput {
		inv.Stream = logger.With().Str("step", string(name)).Logger()
	}

	logger.Info().Str("step", string(name)).Str("command", inv.String()).Msg("Running build step")
	res, err := r.procs.Run(ctx, inv)
	if err != nil {
		herr := harness.NewBuildStepFailed(string(name), -1, nil)
		herr.Err = err
		return nil, r.fail(span, result, name, herr)
	}

	r.record(result.Phase, name, res.Success(), res.Duration)
	if !res.Success() {
		result.ExitCode = res.ExitCode
		result.Output = res.Output
		span.SetAttributes(attribute.Int("exit_code", res.ExitCode))
		return nil, r.fail(span, result, name, harness.NewBuildStepFailed(string(name), res.ExitCode, res.Output))
	}

	span.SetStatus(codes.Ok, "")
	return res, nil
}

func (r *Runner) rewrite(ctx context.Context, logger zerolog.Logger, result *PhaseResult, tree source.WorkingTree) error {
	_, span := r.tracer.Start(ctx, "build.rewrite")
	defer span.End()

	start := time.Now()
	path := tree.Path(r.config.Makefile)
	changed, err := RewriteMakefile(path, r.config.Rewrites)
	r.record(result.Phase, StepRewrite, err == nil, time.Since(start))
	if err != nil {
		herr := harness.NewBuildStepFailed(string(StepRewrite), -1, nil)
		herr.Err = err
		herr.Path = path
		return r.fail(span, result, StepRewrite, herr)
	}

	logger.Debug().Str("makefile", path).Int("changed", changed).Msg("Makefile rewritten")
	span.SetStatus(codes.Ok, "")
	return nil
}

func (r *Runner) fail(span trace.Span, result *PhaseResult, name Step, err *harness.Error) error {
	result.FailedStep = name
	if result.ExitCode == 0 {
		result.ExitCode = err.ExitCode
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	r.logger.Error().
		Str("phase", string(result.Phase)).
		Str("step", string(name)).
		Int("exit_code", err.ExitCode).
		Msg("Build step failed")
	return err
}

func (r *Runner) record(phase Phase, step Step, success bool, d time.Duration) {
	if r.observer != nil {
		r.observer.RecordBuildStep(string(phase), string(step), success, d)
	}
}
