package commands

import (
	"fmt"

	"github.com/syncbridge/syncbridge/adapter"

	"github.com/spf13/cobra"
)

func newReconcileCommand(resolver adapter.Resolver, configFile *string) *cobra.Command {
	var (
		fix bool
		yes bool
	)

	cmd := &cobra.Command{
		Use:   "reconcile <module> <entity-type>",
		Short: "Verify identity mappings against the remote system",
		Long: "Probes every stored identity mapping for the given module and entity type " +
			"against the remote system and reports mappings whose remote record no longer exists. " +
			"With --fix, stale mappings are removed.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			module, entityType := args[0], args[1]

			a, err := buildApp(cmd.Context(), *configFile, resolver)
			if err != nil {
				return err
			}
			defer a.cleanup()

			if fix && !confirm(cmd, yes, fmt.Sprintf("Remove stale identity mappings for %s/%s?", module, entityType)) {
				fmt.Fprintln(cmd.OutOrStdout(), "aborted")
				return nil
			}

			report, err := a.engine.Reconcile(cmd.Context(), module, entityType, fix)
			if err != nil {
				return fmt.Errorf("reconcile failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "checked %d mapping(s), %d stale, %d removed\n",
				report.Checked, report.Stale, report.Removed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&fix, "fix", false, "remove stale mappings")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	return cmd
}
