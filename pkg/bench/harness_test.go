package bench

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cclash/oslbench/pkg/build"
	"github.com/cclash/oslbench/pkg/daemon"
	"github.com/cclash/oslbench/pkg/fsops"
	"github.com/cclash/oslbench/pkg/harness"
	"github.com/cclash/oslbench/pkg/stores"
	"github.com/cclash/oslbench/pkg/telemetry"
	"github.com/cclash/oslbench/pkg/toolenv"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnvironment struct {
	resolveErr  error
	validateErr error
}

func (f *fakeEnvironment) Resolve(ctx context.Context) (toolenv.Environment, error) {
	if f.resolveErr != nil {
		return toolenv.Environment{}, f.resolveErr
	}
	return toolenv.FromMap(map[string]string{"VCINSTALLDIR": `C:\VC`, "PATH": `C:\VC\bin`}), nil
}

func (f *fakeEnvironment) Validate(env toolenv.Environment) error {
	return f.validateErr
}

type fakeSource struct {
	fakeTrees
	archiveErr error
	ensured    int
}

func (f *fakeSource) EnsureArchive(ctx context.Context) error {
	f.ensured++
	return f.archiveErr
}

// fakeDaemon records the order of commands it receives.
type fakeDaemon struct {
	mu       sync.Mutex
	commands []string
	startErr error
	stopErr  error
}

func (f *fakeDaemon) record(cmd string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
}

func (f *fakeDaemon) Start(ctx context.Context, cfg daemon.Config) error {
	f.record("start")
	return f.startErr
}

func (f *fakeDaemon) Stop(ctx context.Context, cfg daemon.Config) error {
	f.record("stop")
	return f.stopErr
}

func (f *fakeDaemon) Stats(ctx context.Context, cfg daemon.Config) (string, error) {
	f.record("stats")
	return "hits: 42", nil
}

type fakeStore struct {
	runs []*stores.Run
}

func (f *fakeStore) SaveRun(ctx context.Context, run *stores.Run) error {
	f.runs = append(f.runs, run)
	return nil
}

type harnessFixture struct {
	env     *fakeEnvironment
	source  *fakeSource
	builder *fakeBuilder
	daemon  *fakeDaemon
	store   *fakeStore
	files   *fakeFiles
}

func newFixture() *harnessFixture {
	return &harnessFixture{
		env:     &fakeEnvironment{},
		source:  &fakeSource{},
		builder: &fakeBuilder{},
		daemon:  &fakeDaemon{},
		store:   &fakeStore{},
		files:   &fakeFiles{},
	}
}

func (f *harnessFixture) harness(t *testing.T, opts Options) *Harness {
	t.Helper()
	if opts.Cache.CacheDir == "" {
		opts.Cache = cacheConfig()
	}
	return NewHarness(Components{
		Environment: f.env,
		Source:      f.source,
		Files:       f.files,
		Builder:     func(toolenv.Environment) Builder { return f.builder },
		Daemon:      func(toolenv.Environment) DaemonController { return f.daemon },
		Store:       f.store,
	}, opts, zerolog.Nop())
}

func TestHarnessRunSucceeds(t *testing.T) {
	f := newFixture()
	h := f.harness(t, Options{Release: "1.0.2-stable", Stats: true})

	report, err := h.Run(context.Background(), DefaultPhases())
	require.NoError(t, err)

	require.Len(t, report.Results, 3)
	assert.Equal(t, build.PhaseNoCache, report.Results[0].Phase)
	assert.Equal(t, build.PhaseWarmCache, report.Results[2].Phase)
	assert.Equal(t, "hits: 42", report.StatsBefore)
	assert.Equal(t, "hits: 42", report.StatsAfter)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 1, f.source.ensured)

	// Stale stop, start, stats, then teardown stop and final stats.
	assert.Equal(t, []string{"stop", "start", "stats", "stop", "stats"}, f.daemon.commands)

	require.Len(t, f.store.runs, 1)
	run := f.store.runs[0]
	assert.Equal(t, report.RunID, run.ID)
	assert.Equal(t, stores.RunStatusCompleted, run.Status)
	assert.Equal(t, "1.0.2-stable", run.Release)
	assert.Len(t, run.Phases, 3)
	assert.Nil(t, run.Error)
}

func TestHarnessNoCacheOnlySkipsDaemon(t *testing.T) {
	f := newFixture()
	h := f.harness(t, Options{})

	report, err := h.Run(context.Background(), SelectPhases([]build.Phase{build.PhaseNoCache}))
	require.NoError(t, err)
	assert.Len(t, report.Results, 1)
	assert.Empty(t, f.daemon.commands)
	assert.Empty(t, f.files.deleted)
}

func TestHarnessFailures(t *testing.T) {
	tests := []struct {
		name         string
		setup        func(*harnessFixture)
		wantCode     harness.Code
		wantResults  int
		wantCommands []string
	}{
		{
			name: "toolchain missing",
			setup: func(f *harnessFixture) {
				f.env.resolveErr = harness.NewToolchainNotFound([]string{`C:\VC\vcvarsall.bat`})
			},
			wantCode: harness.CodeToolchainNotFound,
		},
		{
			name: "toolchain invalid",
			setup: func(f *harnessFixture) {
				f.env.validateErr = harness.NewToolchainEnvInvalid([]string{"VCINSTALLDIR"})
			},
			wantCode: harness.CodeToolchainEnvInvalid,
		},
		{
			name: "download fails",
			setup: func(f *harnessFixture) {
				f.source.archiveErr = harness.NewDownloadFailed("https://example.invalid", errors.New("503"))
			},
			wantCode: harness.CodeDownloadFailed,
		},
		{
			name: "daemon start fails",
			setup: func(f *harnessFixture) {
				f.daemon.startErr = harness.NewDaemonStartFailed("cclash.exe", errors.New("not found"))
			},
			wantCode:     harness.CodeDaemonStartFailed,
			wantCommands: []string{"stop", "start"},
		},
		{
			name: "cold build fails and daemon is still stopped",
			setup: func(f *harnessFixture) {
				f.builder.exitCode = map[build.Phase]int{build.PhaseColdCache: 2}
			},
			wantCode:     harness.CodeBuildStepFailed,
			wantResults:  2,
			wantCommands: []string{"stop", "start", "stop"},
		},
		{
			name: "teardown stop failure is not fatal",
			setup: func(f *harnessFixture) {
				f.daemon.stopErr = errors.New("no server")
				f.builder.exitCode = map[build.Phase]int{build.PhaseNoCache: 1}
			},
			wantCode:     harness.CodeBuildStepFailed,
			wantResults:  1,
			wantCommands: []string{"stop", "start", "stop"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.setup(f)
			h := f.harness(t, Options{})

			report, err := h.Run(context.Background(), DefaultPhases())
			require.Error(t, err)
			assert.True(t, harness.HasCode(err, tt.wantCode), "got %v", err)
			assert.Len(t, report.Results, tt.wantResults)
			assert.Equal(t, tt.wantCommands, f.daemon.commands)

			require.Len(t, f.store.runs, 1)
			run := f.store.runs[0]
			assert.Equal(t, stores.RunStatusFailed, run.Status)
			require.NotNil(t, run.ErrorCode)
			assert.Equal(t, string(tt.wantCode), *run.ErrorCode)
		})
	}
}

func TestHarnessCachedPhasesNeedWrapper(t *testing.T) {
	f := newFixture()
	cache := cacheConfig()
	cache.BinDir = ""
	h := f.harness(t, Options{Cache: cache})

	_, err := h.Run(context.Background(), DefaultPhases())
	assert.True(t, harness.HasCode(err, harness.CodeConfigInvalid), "got %v", err)
	assert.Empty(t, f.builder.calls, "no phase may build with the plain compiler")
	assert.Empty(t, f.daemon.commands)

	_, err = h.Run(context.Background(), SelectPhases([]build.Phase{build.PhaseNoCache}))
	assert.NoError(t, err)
}

func TestHarnessLockHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oslbench.lock")
	held, err := fsops.AcquireRunLock(path)
	require.NoError(t, err)
	defer held.Release()

	f := newFixture()
	h := f.harness(t, Options{LockPath: path})

	_, err = h.Run(context.Background(), DefaultPhases())
	assert.True(t, harness.HasCode(err, harness.CodeLockHeld), "got %v", err)
	assert.Zero(t, f.source.ensured)
	assert.Empty(t, f.store.runs)
}

func TestHarnessRecordsTelemetry(t *testing.T) {
	cfg := telemetry.DefaultConfig()
	tel, err := telemetry.New(cfg, zerolog.Nop())
	require.NoError(t, err)

	f := newFixture()
	h := NewHarness(Components{
		Environment: f.env,
		Source:      f.source,
		Files:       f.files,
		Builder:     func(toolenv.Environment) Builder { return f.builder },
		Daemon:      func(toolenv.Environment) DaemonController { return f.daemon },
		Telemetry:   tel,
	}, Options{Cache: cacheConfig()}, zerolog.Nop())

	_, err = h.Run(context.Background(), DefaultPhases())
	require.NoError(t, err)

	families, err := tel.Metrics.Registry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["oslbench_phases_total"])
	assert.True(t, names["oslbench_runs_completed_total"])
	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestSummary(t *testing.T) {
	lines := Summary([]build.PhaseResult{
		{Phase: build.PhaseNoCache, Success: true, Elapsed: 300e9},
		{Phase: build.PhaseColdCache, FailedStep: build.StepCompile, ExitCode: 2},
	})
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "300.0s")
	assert.Contains(t, lines[1], "FAILED at compile (exit 2)")
}
