package daemon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cclash/oslbench/pkg/harness"
	"github.com/cclash/oslbench/pkg/procexec"
	"github.com/cclash/oslbench/pkg/toolenv"
	"github.com/rs/zerolog"
)

// Observer is notified about every daemon command.
type Observer interface {
	RecordDaemonCommand(command string, success bool)
}

// Controller starts, stops and queries the cache daemon. All commands run
// with the daemon configuration layered over the base environment.
type Controller struct {
	runner   procexec.Runner
	base     toolenv.Environment
	logger   zerolog.Logger
	observer Observer

	mu     sync.Mutex
	server *server
}

type server struct {
	cancel context.CancelFunc
	done   chan struct{}
	result *procexec.Result
	err    error
}

// NewController creates a controller running commands through runner.
func NewController(runner procexec.Runner, base toolenv.Environment, logger zerolog.Logger) *Controller {
	return &Controller{
		runner: runner,
		base:   base,
		logger: logger.With().Str("component", "daemon").Logger(),
	}
}

// SetObserver registers obs for command outcomes.
func (c *Controller) SetObserver(obs Observer) {
	c.observer = obs
}

// Start launches the daemon. A spawn failure is fatal; a start command that
// runs but exits non-zero is only logged, since the daemon may already be up.
func (c *Controller) Start(ctx context.Context, cfg Config) error {
	if cfg.Mode == ModeForeground {
		return c.startForeground(cfg)
	}

	result, err := c.run(ctx, cfg, "start", cfg.Args.Start)
	if err != nil {
		return harness.NewDaemonStartFailed(cfg.Binary, err)
	}
	if !result.Success() {
		c.logger.Warn().
			Int("exit_code", result.ExitCode).
			Str("output", strings.TrimSpace(string(result.Output))).
			Msg("Daemon start command exited non-zero")
		return nil
	}
	c.logger.Info().Str("binary", cfg.Binary).Msg("Cache daemon started")
	return nil
}

func (c *Controller) startForeground(cfg Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.server != nil {
		select {
		case <-c.server.done:
			c.server = nil
		default:
			c.logger.Warn().Msg("Foreground daemon already running")
			return nil
		}
	}

	// The server outlives the caller's context; it ends on Stop.
	serverCtx, cancel := context.WithCancel(context.Background())
	srv := &server{cancel: cancel, done: make(chan struct{})}
	inv := c.invocation(cfg, cfg.Args.Server)

	c.logger.Info().Str("command", inv.String()).Msg("Launching foreground daemon")
	go func() {
		defer close(srv.done)
		srv.result, srv.err = c.runner.Run(serverCtx, inv)
	}()

	grace := time.NewTimer(cfg.StartupGrace)
	defer grace.Stop()

	select {
	case <-srv.done:
		cancel()
		if srv.err != nil {
			c.record("server", false)
			return harness.NewDaemonStartFailed(cfg.Binary, srv.err)
		}
		// Only a spawn failure is fatal, as in background mode.
		c.record("server", srv.result.Success())
		event := c.logger.Info()
		if !srv.result.Success() {
			event = c.logger.Warn()
		}
		event.Int("exit_code", srv.result.ExitCode).
			Str("output", strings.TrimSpace(string(srv.result.Output))).
			Msg("Foreground daemon exited during startup grace")
		return nil
	case <-grace.C:
	}

	c.record("server", true)
	c.server = srv
	return nil
}

// Stop asks the daemon to shut down. A non-zero exit means there was nothing
// to stop and counts as success. In foreground mode it then joins the server
// goroutine, cancelling it when it outlives StopTimeout.
func (c *Controller) Stop(ctx context.Context, cfg Config) error {
	result, err := c.run(ctx, cfg, "stop", cfg.Args.Stop)
	if err != nil {
		c.joinServer(cfg)
		return fmt.Errorf("failed to run daemon stop: %w", err)
	}
	if !result.Success() {
		c.logger.Debug().Int("exit_code", result.ExitCode).Msg("Daemon was not running")
	}

	c.joinServer(cfg)
	return nil
}

func (c *Controller) joinServer(cfg Config) {
	c.mu.Lock()
	srv := c.server
	c.server = nil
	c.mu.Unlock()

	if srv == nil {
		return
	}

	timer := time.NewTimer(cfg.StopTimeout)
	defer timer.Stop()

	select {
	case <-srv.done:
	case <-timer.C:
		c.logger.Warn().Dur("timeout", cfg.StopTimeout).Msg("Foreground daemon did not exit, cancelling")
		srv.cancel()
		<-srv.done
	}
	srv.cancel()

	if srv.err != nil && !errors.Is(srv.err, context.Canceled) {
		c.logger.Warn().Err(srv.err).Msg("Foreground daemon ended with error")
		return
	}
	if srv.result != nil {
		c.logger.Info().Int("exit_code", srv.result.ExitCode).Msg("Foreground daemon exited")
	}
}

// Running reports whether a foreground server goroutine is alive.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.server == nil {
		return false
	}
	select {
	case <-c.server.done:
		return false
	default:
		return true
	}
}

// Stats returns the daemon's statistics report.
func (c *Controller) Stats(ctx context.Context, cfg Config) (string, error) {
	result, err := c.run(ctx, cfg, "stats", cfg.Args.Stats)
	if err != nil {
		return "", fmt.Errorf("failed to query daemon stats: %w", err)
	}
	if !result.Success() {
		return "", fmt.Errorf("daemon stats exited with code %d: %s",
			result.ExitCode, strings.TrimSpace(string(result.Output)))
	}
	return string(result.Output), nil
}

func (c *Controller) run(ctx context.Context, cfg Config, command string, args []string) (*procexec.Result, error) {
	result, err := c.runner.Run(ctx, c.invocation(cfg, args))
	c.record(command, err == nil && result.Success())
	return result, err
}

func (c *Controller) invocation(cfg Config, args []string) procexec.Invocation {
	env := cfg.Overlay().Apply(c.base)
	return procexec.Invocation{
		Executable: cfg.Executable(),
		Args:       append([]string(nil), args...),
		Env:        env.Environ(),
	}
}

func (c *Controller) record(command string, success bool) {
	if c.observer != nil {
		c.observer.RecordDaemonCommand(command, success)
	}
}
