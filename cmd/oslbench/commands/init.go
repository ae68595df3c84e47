package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cclash/oslbench/pkg/config"
	"github.com/cclash/oslbench/pkg/stores"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newInitCommand() *cobra.Command {
	var (
		workDir   string
		binDir    string
		withStore bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration",
		Long: `Write the default configuration to --config (or oslbench.yaml) and create
the work directory. An existing configuration file is never overwritten.

With --store a results database is created in the work directory and
recorded in the configuration.`,
		Example: `  # Initialize in the current directory
  oslbench init

  # Separate work directory with run history
  oslbench init --work-dir D:\bench --store

  # Point the cached phases at a built wrapper
  oslbench init --bin-dir D:\cclash\bin\Release`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				path = config.DefaultFileName
			}

			cfg := config.Default()
			cfg.WorkDir = workDir
			cfg.Cache.BinDir = binDir
			if binDir == "" {
				log.Warn().Msg("No --bin-dir given; set cache.bin_dir before running the cached phases")
			}

			log.Info().Str("config", path).Str("work_dir", workDir).Msg("Initializing workspace")

			out := cmd.OutOrStdout()
			if err := os.MkdirAll(workDir, 0755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", workDir, err)
			}
			fmt.Fprintf(out, "✓ Created directory: %s\n", workDir)

			if withStore {
				cfg.Store.Path = filepath.Join(workDir, "oslbench.db")
				ctx := cmd.Context()
				store, err := stores.NewSQLiteStore(cfg.StoreConfig())
				if err != nil {
					return fmt.Errorf("failed to create store: %w", err)
				}
				if err := store.Init(ctx); err != nil {
					return fmt.Errorf("failed to initialize store: %w", err)
				}
				defer store.Close()
				if err := store.Migrate(ctx); err != nil {
					return fmt.Errorf("failed to run migrations: %w", err)
				}
				fmt.Fprintf(out, "✓ Created results database: %s\n", cfg.Store.Path)
			}

			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.Save(cfg, path); err != nil {
				return err
			}
			fmt.Fprintf(out, "✓ Wrote configuration: %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&workDir, "work-dir", ".", "directory for the archive, working tree and cache")
	cmd.Flags().StringVar(&binDir, "bin-dir", "", "directory holding the compiler wrapper")
	cmd.Flags().BoolVar(&withStore, "store", false, "create a results database")
	return cmd
}
