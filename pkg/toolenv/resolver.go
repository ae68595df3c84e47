package toolenv

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/cclash/oslbench/pkg/harness"
	"github.com/cclash/oslbench/pkg/procexec"
	"github.com/rs/zerolog"
)

// DefaultRequiredVars are the markers a resolved Visual C++ environment carries.
var DefaultRequiredVars = []string{"LIB", "VCINSTALLDIR"}

// DefaultCandidates lists the Visual Studio vcvars scripts, newest first.
func DefaultCandidates() []string {
	var out []string
	for _, ver := range []string{"13.0", "12.0", "11.0"} {
		out = append(out, fmt.Sprintf(`C:\Program Files (x86)\Microsoft Visual Studio %s\VC\bin\vcvars32.bat`, ver))
	}
	return out
}

// ResolverConfig configures toolchain discovery.
type ResolverConfig struct {
	// Candidates are init-script paths probed in order.
	Candidates []string

	// RequiredVars must be present in a valid environment.
	RequiredVars []string

	// Shell overrides the native shell command line used to run the script.
	// The script path replaces the "{script}" placeholder in the last element.
	// Empty selects the platform default.
	Shell []string

	// UseAmbient skips script discovery and takes the harness's own
	// environment, for operators who already initialized the toolchain.
	UseAmbient bool
}

// Resolver discovers the native toolchain and captures its environment.
type Resolver struct {
	config ResolverConfig
	runner procexec.Runner
	logger zerolog.Logger
	stat   func(string) (os.FileInfo, error)
}

// NewResolver creates a resolver that runs the init script through runner.
func NewResolver(cfg ResolverConfig, runner procexec.Runner, logger zerolog.Logger) *Resolver {
	if len(cfg.RequiredVars) == 0 {
		cfg.RequiredVars = DefaultRequiredVars
	}
	return &Resolver{
		config: cfg,
		runner: runner,
		logger: logger.With().Str("component", "toolenv").Logger(),
		stat:   os.Stat,
	}
}

// Locate returns the first candidate init script that exists.
func (r *Resolver) Locate() (string, error) {
	for _, candidate := range r.config.Candidates {
		info, err := r.stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", harness.NewToolchainNotFound(r.config.Candidates)
}

// Resolve locates the toolchain init script, runs it in the native shell and
// parses the resulting variables into an Environment.
func (r *Resolver) Resolve(ctx context.Context) (Environment, error) {
	if r.config.UseAmbient {
		r.logger.Info().Msg("Using ambient toolchain environment")
		return FromProcess(), nil
	}

	script, err := r.Locate()
	if err != nil {
		return Environment{}, err
	}

	r.logger.Info().Str("script", script).Msg("Capturing toolchain environment")

	result, err := r.runner.Run(ctx, r.shellInvocation(script))
	if err != nil {
		return Environment{}, fmt.Errorf("failed to run toolchain script %s: %w", script, err)
	}
	if !result.Success() {
		return Environment{}, fmt.Errorf("toolchain script %s exited with code %d: %s",
			script, result.ExitCode, strings.TrimSpace(string(result.Output)))
	}

	env := ParseAssignments(result.Output)
	r.logger.Debug().Int("variables", env.Len()).Msg("Toolchain environment captured")
	return env, nil
}

// Validate checks that every required marker variable is present.
func (r *Resolver) Validate(env Environment) error {
	var missing []string
	for _, name := range r.config.RequiredVars {
		if !env.Has(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return harness.NewToolchainEnvInvalid(missing)
	}
	return nil
}

func (r *Resolver) shellInvocation(script string) procexec.Invocation {
	return shellInvocation(runtime.GOOS, r.config.Shell, script)
}

func shellInvocation(goos string, shell []string, script string) procexec.Invocation {
	if len(shell) == 0 {
		shell = defaultShell(goos)
	}
	args := make([]string, len(shell)-1)
	copy(args, shell[1:])
	if len(args) > 0 {
		last := len(args) - 1
		args[last] = strings.ReplaceAll(args[last], "{script}", script)
	}
	inv := procexec.Invocation{Executable: shell[0], Args: args}
	if goos == "windows" && isCmd(shell[0]) {
		inv.CmdLine = cmdLine(shell[0], args)
	}
	return inv
}

func defaultShell(goos string) []string {
	if goos == "windows" {
		return []string{"cmd", "/d", "/s", "/c", `"{script}" >nul && set`}
	}
	return []string{"sh", "-c", `. "{script}" >/dev/null && env`}
}

func isCmd(executable string) bool {
	base := strings.ToLower(executable)
	if i := strings.LastIndexAny(base, `\/`); i >= 0 {
		base = base[i+1:]
	}
	return base == "cmd" || base == "cmd.exe"
}

// cmdLine renders a cmd.exe command line by hand. The last argument is the
// command string; with /s cmd.exe strips exactly one pair of quotes around
// it and keeps the inner quotes.
func cmdLine(executable string, args []string) string {
	parts := []string{executable}
	if strings.ContainsAny(executable, " \t") {
		parts[0] = `"` + executable + `"`
	}
	if len(args) == 0 {
		return parts[0]
	}
	parts = append(parts, args[:len(args)-1]...)
	parts = append(parts, `"`+args[len(args)-1]+`"`)
	return strings.Join(parts, " ")
}

// ParseAssignments parses name=value lines, splitting at the first '='.
// Lines without '=' are skipped.
func ParseAssignments(output []byte) Environment {
	var pairs []string
	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.Contains(line, "=") {
			pairs = append(pairs, line)
		}
	}
	return New(pairs)
}
