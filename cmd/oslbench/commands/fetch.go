package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newFetchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download the source archive",
		Long: `Download the configured OpenSSL archive into the work directory.

Nothing is downloaded when the archive is already present. A partial download
never replaces the archive, and a configured checksum is verified before the
archive is kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			if err := a.source.EnsureArchive(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Archive ready: %s\n", a.source.ArchivePath())
			return nil
		},
	}
	return cmd
}

func newExtractCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract a fresh working tree",
		Long: `Remove the previous working tree and extract a fresh one from the archive,
downloading the archive first if needed. This is the same preparation every
benchmark phase performs, useful for building by hand.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			if err := a.source.EnsureArchive(ctx); err != nil {
				return err
			}
			tree, err := a.source.FreshExtract(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Working tree: %s\n", tree.Root)
			return nil
		},
	}
	return cmd
}
