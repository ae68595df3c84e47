// Package procexec models every external tool call made by the harness as a
// single typed operation: an Invocation goes in, a Result comes out.
package procexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Invocation describes one external process run.
type Invocation struct {
	// Executable is the program name or path.
	Executable string

	// Args are the program arguments.
	Args []string

	// Env is the complete environment in NAME=value form.
	// A nil Env inherits the harness's own environment.
	Env []string

	// Dir is the working directory. Empty means the current directory.
	Dir string

	// Stream, if set, receives the combined output while the process runs.
	Stream io.Writer

	// CmdLine, if set, is passed to the process verbatim instead of a
	// command line quoted from Executable and Args. Only Windows honors it;
	// cmd.exe does not understand the escaping applied to Args.
	CmdLine string
}

// String renders the invocation as a shell-like command line for logs.
func (inv Invocation) String() string {
	if len(inv.Args) == 0 {
		return inv.Executable
	}
	return inv.Executable + " " + strings.Join(inv.Args, " ")
}

// Result is the outcome of a process that was started successfully.
type Result struct {
	// ExitCode is the process exit status.
	ExitCode int

	// Output is the combined stdout and stderr.
	Output []byte

	// StartedAt is when the process was launched.
	StartedAt time.Time

	// Duration is the wall-clock time until the process exited.
	Duration time.Duration
}

// Success reports whether the process exited with status zero.
func (r *Result) Success() bool {
	return r.ExitCode == 0
}

// Runner executes invocations. Run returns an error only when the process
// could not be started or waited for; a non-zero exit is reported through
// Result.ExitCode.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (*Result, error)
}

// ExecRunner runs invocations with os/exec.
type ExecRunner struct {
	logger zerolog.Logger
}

// NewExecRunner creates a runner that spawns real processes.
func NewExecRunner(logger zerolog.Logger) *ExecRunner {
	return &ExecRunner{
		logger: logger.With().Str("component", "procexec").Logger(),
	}
}

// Run executes the invocation and waits for it to exit.
func (r *ExecRunner) Run(ctx context.Context, inv Invocation) (*Result, error) {
	if inv.Executable == "" {
		return nil, fmt.Errorf("executable is required")
	}

	executable := inv.Executable
	if inv.Env != nil {
		if path, ok := LookPathEnv(inv.Executable, inv.Env); ok {
			executable = path
		}
	}

	cmd := exec.CommandContext(ctx, executable, inv.Args...)
	cmd.Args[0] = inv.Executable
	cmd.Dir = inv.Dir
	if inv.Env != nil {
		cmd.Env = inv.Env
	}
	if inv.CmdLine != "" {
		setCmdLine(cmd, inv.CmdLine)
	}

	// exec serializes writes when Stdout and Stderr are the same writer.
	var combined bytes.Buffer
	var out io.Writer = &combined
	if inv.Stream != nil {
		out = io.MultiWriter(&combined, inv.Stream)
	}
	cmd.Stdout = out
	cmd.Stderr = out

	r.logger.Debug().
		Str("command", inv.String()).
		Str("path", cmd.Path).
		Str("dir", inv.Dir).
		Msg("executing command")

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	result := &Result{
		Output:    combined.Bytes(),
		StartedAt: start,
		Duration:  duration,
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to execute %s: %w", inv.Executable, err)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	r.logger.Debug().
		Str("command", inv.String()).
		Int("exit_code", result.ExitCode).
		Int("output_len", len(result.Output)).
		Dur("duration", duration).
		Msg("command completed")

	return result, nil
}
