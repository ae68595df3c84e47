// Package daemon controls the compiler-cache daemon the cached benchmark
// phases build through.
package daemon

import (
	"time"

	"github.com/cclash/oslbench/pkg/procexec"
	"github.com/cclash/oslbench/pkg/toolenv"
)

// Mode selects how the daemon is launched.
type Mode string

const (
	// ModeBackground asks the daemon binary to detach itself.
	ModeBackground Mode = "background"

	// ModeForeground runs the server process on a goroutine owned by the controller.
	ModeForeground Mode = "foreground"
)

// Default option variables understood by the cache daemon.
const (
	VarCacheDir    = "CCLASH_DIR"
	VarObjectEmbed = "CCLASH_Z7_OBJ"
	VarServerMode  = "CCLASH_SERVER"
	VarTrackerMode = "CCLASH_TRACKER_MODE"
)

// Args holds the command lines for each daemon operation.
type Args struct {
	Server []string
	Start  []string
	Stop   []string
	Stats  []string
}

// DefaultArgs returns the daemon's lifecycle command lines.
func DefaultArgs() Args {
	return Args{
		Server: []string{"--server"},
		Start:  []string{"--cache", "--start"},
		Stop:   []string{"--cache", "--stop"},
		Stats:  []string{"--cache"},
	}
}

// Config describes the cache daemon and the cache it serves. It only ever
// reaches child processes as environment variables.
type Config struct {
	// Binary is the daemon executable, usually the compiler wrapper itself.
	Binary string

	// CacheDir is the on-disk cache location.
	CacheDir string

	// CacheDirVar names the variable carrying CacheDir.
	CacheDirVar string

	// Options are extra variables such as object-embedding, server and tracker mode.
	Options map[string]string

	// BinDir is put first on PATH so the wrapper shadows the real compiler.
	BinDir string

	Mode Mode
	Args Args

	// StartupGrace is how long a foreground server must survive to count as started.
	StartupGrace time.Duration

	// StopTimeout bounds the wait for a foreground server after a stop request.
	StopTimeout time.Duration
}

// DefaultConfig returns a background-mode configuration with the option set
// the benchmark always used.
func DefaultConfig(binary, cacheDir string) Config {
	return Config{
		Binary:      binary,
		CacheDir:    cacheDir,
		CacheDirVar: VarCacheDir,
		Options: map[string]string{
			VarObjectEmbed: "yes",
			VarServerMode:  "1",
			VarTrackerMode: "no",
		},
		Mode:         ModeBackground,
		Args:         DefaultArgs(),
		StartupGrace: 2 * time.Second,
		StopTimeout:  30 * time.Second,
	}
}

// Executable is the daemon binary to run. A bare Binary name found in BinDir
// resolves to that file so the wrapper wins over a compiler of the same name.
func (c Config) Executable() string {
	if c.BinDir == "" {
		return c.Binary
	}
	if path, ok := procexec.LookPathEnv(c.Binary, []string{toolenv.PathVar + "=" + c.BinDir}); ok {
		return path
	}
	return c.Binary
}

// Overlay renders the configuration as environment variables.
func (c Config) Overlay() toolenv.Overlay {
	set := make(map[string]string, len(c.Options)+1)
	for k, v := range c.Options {
		set[k] = v
	}
	if c.CacheDir != "" {
		name := c.CacheDirVar
		if name == "" {
			name = VarCacheDir
		}
		set[name] = c.CacheDir
	}

	var prepend []string
	if c.BinDir != "" {
		prepend = []string{c.BinDir}
	}
	return toolenv.Overlay{Set: set, PathPrepend: prepend}
}
