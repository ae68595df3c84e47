package commands

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/cclash/oslbench/pkg/harness"
	"github.com/cclash/oslbench/pkg/stores"
	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show earlier benchmark runs",
		Long: `List runs recorded in the results database, newest first.

Requires store.path in the configuration.`,
		Example: `  # Last 10 runs
  oslbench history --limit 10

  # Average and best compile time per phase
  oslbench history summary

  # Phase details of one run
  oslbench history show 0b7c...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store *stores.SQLiteStore) error {
				runs, err := store.ListRuns(cmd.Context(), limit, offset)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd.OutOrStdout(), runs)
				}
				printRuns(cmd.OutOrStdout(), runs)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of runs to skip")

	cmd.AddCommand(&cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store *stores.SQLiteStore) error {
				run, err := store.GetRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd.OutOrStdout(), run)
				}
				printRun(cmd.OutOrStdout(), run)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "summary",
		Short: "Summarize successful phases across runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store *stores.SQLiteStore) error {
				summaries, err := store.SummarizePhases(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd.OutOrStdout(), summaries)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "PHASE\tRUNS\tAVERAGE\tBEST")
				for _, s := range summaries {
					fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", s.Phase, s.Count, s.Average.Round(time.Second), s.Best.Round(time.Second))
				}
				return tw.Flush()
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store *stores.SQLiteStore) error {
				if err := store.DeleteRun(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted run %s\n", args[0])
				return nil
			})
		},
	})

	return cmd
}

func withStore(cmd *cobra.Command, fn func(store *stores.SQLiteStore) error) error {
	ctx := cmd.Context()
	a, err := loadApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	if a.store == nil {
		return harness.NewConfigInvalid("store.path is not configured", nil)
	}
	return fn(a.store)
}

func printRuns(w io.Writer, runs []*stores.Run) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tSTATUS\tPHASES")
	for _, run := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", run.ID, run.StartedAt.Local().Format(time.DateTime), run.Status, phaseTimes(run.Phases))
	}
	tw.Flush()
}

func printRun(w io.Writer, run *stores.Run) {
	fmt.Fprintf(w, "Run:      %s\n", run.ID)
	fmt.Fprintf(w, "Release:  %s\n", run.Release)
	fmt.Fprintf(w, "Status:   %s\n", run.Status)
	fmt.Fprintf(w, "Started:  %s\n", run.StartedAt.Local().Format(time.DateTime))
	if run.FinishedAt != nil {
		fmt.Fprintf(w, "Duration: %s\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Second))
	}
	if run.Error != nil {
		code := ""
		if run.ErrorCode != nil {
			code = "[" + *run.ErrorCode + "] "
		}
		fmt.Fprintf(w, "Error:    %s%s\n", code, *run.Error)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PHASE\tRESULT\tCOMPILE\tSETUP")
	for _, p := range run.Phases {
		result := "ok"
		if !p.Success {
			result = fmt.Sprintf("failed at %s (exit %d)", p.FailedStep, p.ExitCode)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Phase, result, p.Elapsed.Round(time.Second), p.Setup.Round(time.Second))
	}
	tw.Flush()

	if run.Stats != "" {
		fmt.Fprintf(w, "\nDaemon stats:\n%s\n", run.Stats)
	}
}

func phaseTimes(phases []stores.PhaseRecord) string {
	var out string
	for i, p := range phases {
		if i > 0 {
			out += " "
		}
		if p.Success {
			out += fmt.Sprintf("%s=%s", p.Phase, p.Elapsed.Round(time.Second))
		} else {
			out += p.Phase + "=failed"
		}
	}
	return out
}
