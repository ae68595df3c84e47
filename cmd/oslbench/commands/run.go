package commands

import (
	"fmt"

	"github.com/cclash/oslbench/pkg/bench"
	"github.com/cclash/oslbench/pkg/build"
	"github.com/cclash/oslbench/pkg/daemon"
	"github.com/spf13/cobra"
)

func newRunCommand() *cobra.Command {
	var (
		phases  []string
		binDir  string
		tracker bool
		noStats bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the benchmark",
		Long: `Run the benchmark phases in order: nocache, cold and warm.

Before the first cached phase any daemon left over from an earlier run is
stopped and a fresh one started; it is stopped again when the run ends, also
after a failure or an interrupt. A failed build prints the captured output of
the failing step.`,
		Example: `  # Run all three phases
  oslbench run

  # Only the cached phases, with a locally built wrapper
  oslbench run --phase cold --phase warm --bin-dir D:\cclash\bin\Debug

  # Enable the file tracker in the daemon
  oslbench run --tracker`,
		RunE: func(cmd *cobra.Command, args []string) error {
			selected := make([]build.Phase, 0, len(phases))
			for _, name := range phases {
				phase, ok := build.ParsePhase(name)
				if !ok {
					return fmt.Errorf("unknown phase %q, expected one of %v", name, build.Phases)
				}
				selected = append(selected, phase)
			}

			ctx := cmd.Context()
			a, err := loadApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			stats := a.config.Cache.Stats && !noStats
			if binDir != "" {
				// A wrapper from a build tree has no stats worth reporting.
				a.config.Cache.BinDir = binDir
				stats = false
			}
			if err := a.config.ValidatePhases(selected); err != nil {
				return err
			}
			cache := a.config.DaemonConfig()
			if tracker {
				options := make(map[string]string, len(cache.Options)+1)
				for k, v := range cache.Options {
					options[k] = v
				}
				options[daemon.VarTrackerMode] = "yes"
				cache.Options = options
			}

			a.telemetry.Serve(ctx)

			report, runErr := a.harness(cache, stats).Run(ctx, bench.SelectPhases(selected))
			if err := printReport(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			return runErr
		},
	}

	cmd.Flags().StringSliceVarP(&phases, "phase", "p", nil, fmt.Sprintf("phases to run %v (default all)", build.Phases))
	cmd.Flags().StringVar(&binDir, "bin-dir", "", "directory holding the compiler wrapper, put first on PATH")
	cmd.Flags().BoolVar(&tracker, "tracker", false, "enable the daemon's file tracker mode")
	cmd.Flags().BoolVar(&noStats, "no-stats", false, "do not query daemon statistics")

	return cmd
}
