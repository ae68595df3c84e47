package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cclash/oslbench/pkg/build"
	"github.com/cclash/oslbench/pkg/daemon"
	"github.com/cclash/oslbench/pkg/fsops"
	"github.com/cclash/oslbench/pkg/harness"
	"github.com/cclash/oslbench/pkg/source"
	"github.com/cclash/oslbench/pkg/stores"
	"github.com/cclash/oslbench/pkg/telemetry"
	"github.com/cclash/oslbench/pkg/toolenv"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the variable that points at the configuration file
// when no --config flag is given.
const EnvConfigPath = "OSLBENCH_CONFIG"

// DefaultFileName is the configuration file written by `oslbench init`.
const DefaultFileName = "oslbench.yaml"

// Config is the complete harness configuration.
type Config struct {
	// WorkDir holds the archive, the working tree, the cache and the run lock.
	WorkDir string `yaml:"work_dir" validate:"required"`

	Release     ReleaseConfig     `yaml:"release"`
	Toolchain   ToolchainConfig   `yaml:"toolchain"`
	Build       BuildConfig       `yaml:"build"`
	Cache       CacheConfig       `yaml:"cache"`
	Retry       RetryConfig       `yaml:"retry"`
	WorkingTree WorkingTreeConfig `yaml:"working_tree"`
	Store       StoreConfig       `yaml:"store"`
	Telemetry   telemetry.Config  `yaml:"telemetry"`
}

// ReleaseConfig identifies the source archive.
type ReleaseConfig struct {
	Version     string `yaml:"version" validate:"required"`
	URL         string `yaml:"url" validate:"required,url"`
	ArchiveName string `yaml:"archive_name" validate:"required"`
	SHA256      string `yaml:"sha256,omitempty" validate:"omitempty,len=64,hexadecimal"`
}

// ToolchainConfig controls how the native build environment is obtained.
type ToolchainConfig struct {
	Candidates   []string `yaml:"candidates"`
	RequiredVars []string `yaml:"required_vars" validate:"dive,required"`
	Shell        []string `yaml:"shell,omitempty"`
	UseAmbient   bool     `yaml:"use_ambient"`
}

// BuildConfig holds the build command lines.
type BuildConfig struct {
	Configure           []string        `yaml:"configure" validate:"min=1"`
	Makefiles           []string        `yaml:"makefiles" validate:"min=1"`
	Compile             []string        `yaml:"compile" validate:"min=1"`
	Makefile            string          `yaml:"makefile" validate:"required"`
	DisableDebugSymbols bool            `yaml:"disable_debug_symbols"`
	CFlagRewrites       []build.Rewrite `yaml:"cflag_rewrites" validate:"dive"`
	StreamOutput        bool            `yaml:"stream_output"`
}

// CacheConfig describes the cache daemon.
type CacheConfig struct {
	Binary       string            `yaml:"binary" validate:"required"`
	Dir          string            `yaml:"dir"`
	DirVar       string            `yaml:"dir_var" validate:"required"`
	Options      map[string]string `yaml:"options"`
	BinDir       string            `yaml:"bin_dir"`
	Mode         daemon.Mode       `yaml:"mode" validate:"oneof=background foreground"`
	Args         CacheArgs         `yaml:"args"`
	StartupGrace time.Duration     `yaml:"startup_grace" validate:"gte=0"`
	StopTimeout  time.Duration     `yaml:"stop_timeout" validate:"gt=0"`

	// Stats queries the daemon before the first and after the last cached phase.
	Stats bool `yaml:"stats"`
}

// CacheArgs are the daemon command lines.
type CacheArgs struct {
	Server []string `yaml:"server"`
	Start  []string `yaml:"start" validate:"min=1"`
	Stop   []string `yaml:"stop" validate:"min=1"`
	Stats  []string `yaml:"stats" validate:"min=1"`
}

// RetryConfig bounds delete retries.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" validate:"gte=1,lte=1000"`
	Delay       time.Duration `yaml:"delay" validate:"gte=0"`
	Backoff     fsops.Backoff `yaml:"backoff" validate:"oneof=fixed exponential"`
	MaxDelay    time.Duration `yaml:"max_delay" validate:"gte=0"`
}

// WorkingTreeConfig controls how a previous tree is cleared.
type WorkingTreeConfig struct {
	KeepPrevious bool `yaml:"keep_previous"`
}

// StoreConfig locates the results database. An empty path disables history.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// Default returns the stock OpenSSL 1.0.2 benchmark configuration.
func Default() *Config {
	release := source.DefaultRelease()
	b := build.DefaultConfig()
	d := daemon.DefaultConfig("cl", "")
	r := fsops.DefaultRetryPolicy()

	return &Config{
		WorkDir: ".",
		Release: ReleaseConfig{
			Version:     release.Version,
			URL:         release.URL,
			ArchiveName: release.ArchiveName,
		},
		Toolchain: ToolchainConfig{
			Candidates:   toolenv.DefaultCandidates(),
			RequiredVars: append([]string(nil), toolenv.DefaultRequiredVars...),
		},
		Build: BuildConfig{
			Configure:           b.Configure,
			Makefiles:           b.Makefiles,
			Compile:             b.Compile,
			Makefile:            filepath.ToSlash(b.Makefile),
			DisableDebugSymbols: b.DisableDebugSymbols,
			CFlagRewrites:       b.Rewrites,
		},
		Cache: CacheConfig{
			Binary:  d.Binary,
			DirVar:  d.CacheDirVar,
			Options: d.Options,
			Mode:    d.Mode,
			Args: CacheArgs{
				Server: d.Args.Server,
				Start:  d.Args.Start,
				Stop:   d.Args.Stop,
				Stats:  d.Args.Stats,
			},
			StartupGrace: d.StartupGrace,
			StopTimeout:  d.StopTimeout,
			Stats:        true,
		},
		Retry: RetryConfig{
			MaxAttempts: r.MaxAttempts,
			Delay:       r.Delay,
			Backoff:     r.Backoff,
			MaxDelay:    r.MaxDelay,
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Load reads path over Default. An empty path falls back to
// OSLBENCH_CONFIG and then to the defaults alone.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, harness.NewConfigInvalid(fmt.Sprintf("failed to read %s", path), err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, harness.NewConfigInvalid(fmt.Sprintf("failed to parse %s", path), err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as YAML. It refuses to overwrite an existing file.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// Validate checks struct tags and the rules that span several fields.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return harness.NewConfigInvalid(describe(err), err)
	}

	if err := c.Telemetry.Validate(); err != nil {
		return harness.NewConfigInvalid("invalid telemetry section", err)
	}
	if !c.Toolchain.UseAmbient && len(c.Toolchain.Candidates) == 0 {
		return harness.NewConfigInvalid("toolchain.candidates is empty and toolchain.use_ambient is off", nil)
	}
	if c.Cache.Mode == daemon.ModeForeground && len(c.Cache.Args.Server) == 0 {
		return harness.NewConfigInvalid("cache.args.server is required in foreground mode", nil)
	}
	if c.Build.DisableDebugSymbols && len(c.Build.CFlagRewrites) == 0 {
		return harness.NewConfigInvalid("build.cflag_rewrites is empty but build.disable_debug_symbols is on", nil)
	}
	if c.Retry.Backoff == fsops.BackoffExponential && c.Retry.MaxDelay > 0 && c.Retry.MaxDelay < c.Retry.Delay {
		return harness.NewConfigInvalid("retry.max_delay is smaller than retry.delay", nil)
	}
	return nil
}

// ValidatePhases checks the settings the selected phases depend on. The
// cached phases build through the wrapper in cache.bin_dir; without it they
// would compile with the plain toolchain and measure nothing.
func (c *Config) ValidatePhases(phases []build.Phase) error {
	if len(phases) == 0 {
		phases = build.Phases
	}
	for _, p := range phases {
		if p != build.PhaseNoCache && c.Cache.BinDir == "" {
			return harness.NewConfigInvalid(
				fmt.Sprintf("cache.bin_dir is required for the %s phase", p), nil)
		}
	}
	return nil
}

// describe turns validator errors into one line naming every failed field.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return "invalid configuration: " + strings.Join(parts, ", ")
}

// CacheDir is the daemon's cache directory, defaulting to oslcache under WorkDir.
func (c *Config) CacheDir() string {
	if c.Cache.Dir != "" {
		return c.Cache.Dir
	}
	return filepath.Join(c.WorkDir, "oslcache")
}

// LockPath is the run lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.WorkDir, "oslbench.lock")
}

// StorePath is the results database, or "" when history is disabled.
func (c *Config) StorePath() string {
	return c.Store.Path
}

// ReleaseSpec converts the release section.
func (c *Config) ReleaseSpec() source.Release {
	return source.Release{
		Version:     c.Release.Version,
		URL:         c.Release.URL,
		ArchiveName: c.Release.ArchiveName,
		SHA256:      c.Release.SHA256,
	}
}

// SourceConfig converts the release and working tree sections.
func (c *Config) SourceConfig() source.Config {
	return source.Config{
		Release:      c.ReleaseSpec(),
		WorkDir:      c.WorkDir,
		KeepPrevious: c.WorkingTree.KeepPrevious,
	}
}

// ResolverConfig converts the toolchain section.
func (c *Config) ResolverConfig() toolenv.ResolverConfig {
	return toolenv.ResolverConfig{
		Candidates:   c.Toolchain.Candidates,
		RequiredVars: c.Toolchain.RequiredVars,
		Shell:        c.Toolchain.Shell,
		UseAmbient:   c.Toolchain.UseAmbient,
	}
}

// BuildConfig converts the build section.
func (c *Config) BuildConfig() build.Config {
	return build.Config{
		Configure:           c.Build.Configure,
		Makefiles:           c.Build.Makefiles,
		Compile:             c.Build.Compile,
		Makefile:            filepath.FromSlash(c.Build.Makefile),
		DisableDebugSymbols: c.Build.DisableDebugSymbols,
		Rewrites:            c.Build.CFlagRewrites,
		StreamOutput:        c.Build.StreamOutput,
	}
}

// DaemonConfig converts the cache section.
func (c *Config) DaemonConfig() daemon.Config {
	return daemon.Config{
		Binary:      c.Cache.Binary,
		CacheDir:    c.CacheDir(),
		CacheDirVar: c.Cache.DirVar,
		Options:     c.Cache.Options,
		BinDir:      c.Cache.BinDir,
		Mode:        c.Cache.Mode,
		Args: daemon.Args{
			Server: c.Cache.Args.Server,
			Start:  c.Cache.Args.Start,
			Stop:   c.Cache.Args.Stop,
			Stats:  c.Cache.Args.Stats,
		},
		StartupGrace: c.Cache.StartupGrace,
		StopTimeout:  c.Cache.StopTimeout,
	}
}

// RetryPolicy converts the retry section.
func (c *Config) RetryPolicy() fsops.RetryPolicy {
	return fsops.RetryPolicy{
		MaxAttempts: c.Retry.MaxAttempts,
		Delay:       c.Retry.Delay,
		Backoff:     c.Retry.Backoff,
		MaxDelay:    c.Retry.MaxDelay,
	}
}

// StoreConfig converts the store section.
func (c *Config) StoreConfig() stores.Config {
	return stores.Config{Path: c.Store.Path}
}
