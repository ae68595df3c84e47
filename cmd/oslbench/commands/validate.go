package commands

import (
	"fmt"

	"github.com/cclash/oslbench/pkg/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	var toolchain bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		Long: `Load the configuration and check every section.

With --toolchain the toolchain environment is resolved and checked as well.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log.Debug().Str("work_dir", cfg.WorkDir).Msg("Configuration loaded")

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "✓ Configuration is valid")
			fmt.Fprintf(out, "  release:   %s (%s)\n", cfg.Release.Version, cfg.Release.URL)
			fmt.Fprintf(out, "  cache:     %s via %s (%s)\n", cfg.CacheDir(), cfg.Cache.Binary, cfg.Cache.Mode)
			fmt.Fprintf(out, "  rewrite:   %v\n", cfg.Build.DisableDebugSymbols)

			if !toolchain {
				return nil
			}

			ctx := cmd.Context()
			a, err := loadApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			env, err := a.resolver.Resolve(ctx)
			if err != nil {
				return err
			}
			if err := a.resolver.Validate(env); err != nil {
				return err
			}
			fmt.Fprintln(out, "✓ Toolchain environment is valid")
			return nil
		},
	}

	cmd.Flags().BoolVar(&toolchain, "toolchain", false, "also resolve and check the toolchain")
	return cmd
}
