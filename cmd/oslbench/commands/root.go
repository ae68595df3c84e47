package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "oslbench",
		Short: "oslbench - OpenSSL build benchmark for the cclash compiler cache",
		Long: `oslbench builds the same OpenSSL release three times and reports how long
each compile took:

  nocache  plain compiler, establishes the baseline
  cold     through the cache daemon with an empty cache
  warm     through the cache daemon with the cache the cold build populated

Every build starts from a freshly extracted tree. The warm build only runs
after the cold build succeeded.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default $OSLBENCH_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newFetchCommand())
	rootCmd.AddCommand(newExtractCommand())
	rootCmd.AddCommand(newEnvCommand())
	rootCmd.AddCommand(newDaemonCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newInitCommand())

	return rootCmd
}
