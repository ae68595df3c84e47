package commands

import (
	"context"
	"fmt"

	"github.com/cclash/oslbench/pkg/daemon"
	"github.com/spf13/cobra"
)

func newDaemonCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Control the cache daemon",
		Long: `Start, stop or query the cache daemon with the configured cache settings.

The daemon is always started in background mode here; a foreground server
would end with this command.`,
	}

	cmd.AddCommand(newDaemonActionCommand("start", "Start the cache daemon",
		func(ctx context.Context, ctrl *daemon.Controller, cfg daemon.Config) (string, error) {
			cfg.Mode = daemon.ModeBackground
			return "✓ Daemon started", ctrl.Start(ctx, cfg)
		}))
	cmd.AddCommand(newDaemonActionCommand("stop", "Stop the cache daemon",
		func(ctx context.Context, ctrl *daemon.Controller, cfg daemon.Config) (string, error) {
			return "✓ Daemon stopped", ctrl.Stop(ctx, cfg)
		}))
	cmd.AddCommand(newDaemonActionCommand("stats", "Print cache statistics",
		func(ctx context.Context, ctrl *daemon.Controller, cfg daemon.Config) (string, error) {
			return ctrl.Stats(ctx, cfg)
		}))

	return cmd
}

type daemonAction func(ctx context.Context, ctrl *daemon.Controller, cfg daemon.Config) (string, error)

func newDaemonActionCommand(use, short string, action daemonAction) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
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

			out, err := action(ctx, a.controller(env), a.config.DaemonConfig())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
}
