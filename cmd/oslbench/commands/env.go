package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newEnvCommand() *cobra.Command {
	var values bool

	cmd := &cobra.Command{
		Use:   "env",
		Short: "Resolve and check the toolchain environment",
		Long: `Run the first toolchain init script found, capture the environment it
produces and check that the required variables are present.`,
		Example: `  # List the captured variable names
  oslbench env

  # Show values as well
  oslbench env --values`,
		Args: cobra.NoArgs,
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
			if err := a.resolver.Validate(env); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				vars := make(map[string]string, env.Len())
				for _, name := range env.Names() {
					vars[name], _ = env.Get(name)
				}
				return writeJSON(out, vars)
			}

			for _, name := range env.Names() {
				if values {
					v, _ := env.Get(name)
					fmt.Fprintf(out, "%s=%s\n", name, v)
					continue
				}
				fmt.Fprintln(out, name)
			}
			fmt.Fprintf(out, "✓ %d variables, required %v present\n", env.Len(), a.config.Toolchain.RequiredVars)
			return nil
		},
	}

	cmd.Flags().BoolVar(&values, "values", false, "print variable values")
	return cmd
}
