package commands

import (
	"encoding/json"
	"fmt"

	"github.com/syncbridge/syncbridge/adapter"

	"github.com/spf13/cobra"
)

func newSyncCommand(resolver adapter.Resolver, configFile *string) *cobra.Command {
	var (
		module string
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one synchronization pass over due jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), *configFile, resolver)
			if err != nil {
				return err
			}
			defer a.cleanup()

			if dryRun {
				a.cfg.Engine.DryRun = true
			}

			eng := a.engine
			if module != "" {
				eng = eng.ForModule(module)
			}

			report, err := eng.Process(cmd.Context())
			if err != nil {
				return fmt.Errorf("sync run failed: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().StringVar(&module, "module", "", "restrict the run to one module")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "claim and release jobs without calling any adapter")
	return cmd
}
