// Package bench sequences the three benchmark phases and wires the run-level
// flow around them.
package bench

import (
	"context"
	"time"

	"github.com/cclash/oslbench/pkg/build"
	"github.com/cclash/oslbench/pkg/daemon"
	"github.com/cclash/oslbench/pkg/harness"
	"github.com/cclash/oslbench/pkg/source"
	"github.com/cclash/oslbench/pkg/telemetry"
	"github.com/cclash/oslbench/pkg/toolenv"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// PhaseSpec describes how a phase runs and what it depends on.
type PhaseSpec struct {
	Phase build.Phase

	// Predecessor must have succeeded before this phase may run.
	Predecessor build.Phase

	// UsesCache builds with the cache daemon overlay.
	UsesCache bool

	// ResetsCache empties the cache directory first.
	ResetsCache bool
}

// DefaultPhases returns NoCache, ColdCache and WarmCache in run order.
func DefaultPhases() []PhaseSpec {
	return []PhaseSpec{
		{Phase: build.PhaseNoCache},
		{Phase: build.PhaseColdCache, UsesCache: true, ResetsCache: true},
		{Phase: build.PhaseWarmCache, Predecessor: build.PhaseColdCache, UsesCache: true},
	}
}

// SelectPhases keeps the named phases of DefaultPhases, preserving run
// order. An empty selection keeps all of them.
func SelectPhases(names []build.Phase) []PhaseSpec {
	all := DefaultPhases()
	if len(names) == 0 {
		return all
	}
	want := make(map[build.Phase]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []PhaseSpec
	for _, ps := range all {
		if want[ps.Phase] {
			out = append(out, ps)
		}
	}
	return out
}

// TreeProvider hands out a freshly extracted working tree.
type TreeProvider interface {
	FreshExtract(ctx context.Context) (source.WorkingTree, error)
}

// Builder runs one build.
type Builder interface {
	Run(ctx context.Context, phase build.Phase, tree source.WorkingTree, overlay toolenv.Overlay) (build.PhaseResult, error)
}

// TreeDeleter removes a directory tree with retries.
type TreeDeleter interface {
	DeleteTree(ctx context.Context, path string) error
}

// PhaseObserver is notified about every finished phase.
type PhaseObserver interface {
	RecordPhase(phase string, success bool, elapsed, setup time.Duration)
}

// Sequencer runs phases strictly in order, enforcing the warm-cache gate.
type Sequencer struct {
	trees    TreeProvider
	builder  Builder
	files    TreeDeleter
	cache    daemon.Config
	logger   zerolog.Logger
	tracer   *telemetry.Tracer
	observer PhaseObserver
}

// NewSequencer creates a sequencer. cache supplies the overlay for cached
// phases and the directory reset before ColdCache.
func NewSequencer(trees TreeProvider, builder Builder, files TreeDeleter, cache daemon.Config, logger zerolog.Logger) *Sequencer {
	tracer, _ := telemetry.NewTracer(telemetry.TracingConfig{}, "oslbench", "")
	return &Sequencer{
		trees:   trees,
		builder: builder,
		files:   files,
		cache:   cache,
		logger:  logger.With().Str("component", "sequencer").Logger(),
		tracer:  tracer,
	}
}

// SetTracer replaces the tracer used for phase spans.
func (s *Sequencer) SetTracer(tracer *telemetry.Tracer) {
	if tracer != nil {
		s.tracer = tracer
	}
}

// SetObserver registers obs for phase outcomes.
func (s *Sequencer) SetObserver(obs PhaseObserver) {
	s.observer = obs
}

// RunPhase runs a single phase. The gate is checked before anything else, so
// a phase whose predecessor did not succeed never touches the tree or the
// build tools.
func (s *Sequencer) RunPhase(ctx context.Context, ps PhaseSpec, predecessor *build.PhaseResult) (build.PhaseResult, error) {
	if ps.Predecessor != "" {
		if predecessor == nil || predecessor.Phase != ps.Predecessor || !predecessor.Success {
			return build.PhaseResult{}, harness.NewPredecessorNotSatisfied(string(ps.Phase), string(ps.Predecessor))
		}
	}

	ctx, span := s.tracer.StartPhaseSpan(ctx, string(ps.Phase))
	defer span.End()

	logger := s.logger.With().Str("phase", string(ps.Phase)).Logger()
	logger.Info().Bool("uses_cache", ps.UsesCache).Msg("Starting phase")

	if ps.ResetsCache && s.cache.CacheDir != "" {
		logger.Info().Str("cache_dir", s.cache.CacheDir).Msg("Resetting cache directory")
		if err := s.files.DeleteTree(ctx, s.cache.CacheDir); err != nil {
			telemetry.RecordError(span, err)
			return build.PhaseResult{}, err
		}
	}

	tree, err := s.trees.FreshExtract(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return build.PhaseResult{}, err
	}

	var overlay toolenv.Overlay
	if ps.UsesCache {
		overlay = s.cache.Overlay()
	}

	result, err := s.builder.Run(ctx, ps.Phase, tree, overlay)
	if s.observer != nil {
		s.observer.RecordPhase(string(result.Phase), result.Success, result.Elapsed, result.Setup)
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return result, err
	}

	span.SetAttributes(attribute.Float64("elapsed_seconds", result.Elapsed.Seconds()))
	telemetry.RecordSuccess(span)
	return result, nil
}

// Run runs phases in order and stops at the first failure. Every result that
// was produced is returned, including the failing one.
func (s *Sequencer) Run(ctx context.Context, phases []PhaseSpec) ([]build.PhaseResult, error) {
	var results []build.PhaseResult
	byPhase := make(map[build.Phase]build.PhaseResult, len(phases))

	for _, ps := range phases {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		var predecessor *build.PhaseResult
		if prev, ok := byPhase[ps.Predecessor]; ok {
			predecessor = &prev
		}

		result, err := s.RunPhase(ctx, ps, predecessor)
		if result.Phase != "" {
			results = append(results, result)
			byPhase[ps.Phase] = result
		}
		if err != nil {
			return results, err
		}
	}
	return results, nil
}
