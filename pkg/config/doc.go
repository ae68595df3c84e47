// Package config loads, validates and converts the oslbench configuration.
//
// # Overview
//
// The configuration is a single YAML file. Load reads it over Default, so a
// file only needs the keys it changes. Durations are written as strings:
//
//	work_dir: D:\bench
//	cache:
//	  binary: cl
//	  bin_dir: D:\cclash\bin\Release
//	  mode: foreground
//	  startup_grace: 5s
//	retry:
//	  max_attempts: 10
//	  backoff: exponential
//	store:
//	  path: D:\bench\history.db
//
// # Sources
//
// The file path comes from the --config flag, then from OSLBENCH_CONFIG. With
// neither set the defaults are used unchanged.
//
// # Validation
//
// Struct tags are checked with go-playground/validator, followed by the rules
// that span sections, such as foreground mode requiring a server command
// line. Every failure is a harness error with code CONFIG_INVALID.
//
// # Conversion
//
// Each section converts into the configuration of the component it drives:
// ResolverConfig, SourceConfig, BuildConfig, DaemonConfig, RetryPolicy and
// StoreConfig.
package config
