package commands

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/syncbridge/syncbridge/adapter"
	"github.com/syncbridge/syncbridge/queue"

	"github.com/spf13/cobra"
)

func newQueueCommand(resolver adapter.Resolver, configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and maintain the sync job queue",
	}
	cmd.AddCommand(
		newQueueStatsCommand(resolver, configFile),
		newQueueListCommand(resolver, configFile),
		newQueueRetryCommand(resolver, configFile),
		newQueueCleanupCommand(resolver, configFile),
		newQueueCancelCommand(resolver, configFile),
	)
	return cmd
}

func newQueueStatsCommand(resolver adapter.Resolver, configFile *string) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show job counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), *configFile, resolver)
			if err != nil {
				return err
			}
			defer a.cleanup()

			stats, err := a.store.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to read queue stats: %w", err)
			}
			return writeStats(cmd, stats, format)
		},
	}
	cmd.Flags().StringVar(&format, "format", "table", "output format (table|json|csv)")
	return cmd
}

func writeStats(cmd *cobra.Command, stats *queue.Stats, format string) error {
	out := cmd.OutOrStdout()
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	case "csv":
		w := csv.NewWriter(out)
		if err := w.Write([]string{"status", "count"}); err != nil {
			return err
		}
		rows := [][]string{
			{"pending", strconv.FormatInt(stats.Pending, 10)},
			{"processing", strconv.FormatInt(stats.Processing, 10)},
			{"completed", strconv.FormatInt(stats.Completed, 10)},
			{"failed", strconv.FormatInt(stats.Failed, 10)},
			{"cancelled", strconv.FormatInt(stats.Cancelled, 10)},
			{"total", strconv.FormatInt(stats.Total, 10)},
		}
		for _, row := range rows {
			if err := w.Write(row); err != nil {
				return err
			}
		}
		w.Flush()
		return w.Error()
	case "table":
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "STATUS\tCOUNT")
		fmt.Fprintf(tw, "pending\t%d\n", stats.Pending)
		fmt.Fprintf(tw, "processing\t%d\n", stats.Processing)
		fmt.Fprintf(tw, "completed\t%d\n", stats.Completed)
		fmt.Fprintf(tw, "failed\t%d\n", stats.Failed)
		fmt.Fprintf(tw, "cancelled\t%d\n", stats.Cancelled)
		fmt.Fprintf(tw, "total\t%d\n", stats.Total)
		return tw.Flush()
	default:
		return fmt.Errorf("unknown format %q, expected table, json or csv", format)
	}
}

func newQueueListCommand(resolver adapter.Resolver, configFile *string) *cobra.Command {
	var (
		page    int
		perPage int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), *configFile, resolver)
			if err != nil {
				return err
			}
			defer a.cleanup()

			jobs, total, err := a.store.List(cmd.Context(), page, perPage)
			if err != nil {
				return fmt.Errorf("failed to list jobs: %w", err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tMODULE\tDIRECTION\tENTITY\tACTION\tSTATUS\tATTEMPTS\tSCHEDULED\tERROR")
			for _, j := range jobs {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
					j.ID, j.Module, j.Direction, j.EntityType, j.Action, j.Status,
					j.Attempts, j.MaxAttempts,
					j.ScheduledAt.Format(time.RFC3339), truncate(j.LastError, 48))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\npage %d, %d of %d job(s)\n", page, len(jobs), total)
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&perPage, "per-page", 20, "jobs per page")
	return cmd
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func newQueueRetryCommand(resolver adapter.Resolver, configFile *string) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Requeue all permanently failed jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), *configFile, resolver)
			if err != nil {
				return err
			}
			defer a.cleanup()

			stats, err := a.store.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to read queue stats: %w", err)
			}
			if stats.Failed == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no failed jobs to retry")
				return nil
			}
			if !confirm(cmd, yes, fmt.Sprintf("Requeue %d failed job(s) with reset attempt counters?", stats.Failed)) {
				fmt.Fprintln(cmd.OutOrStdout(), "aborted")
				return nil
			}

			n, err := a.store.RetryFailed(cmd.Context(), time.Now())
			if err != nil {
				return fmt.Errorf("failed to requeue jobs: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "requeued %d job(s)\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	return cmd
}

func newQueueCleanupCommand(resolver adapter.Resolver, configFile *string) *cobra.Command {
	var (
		yes  bool
		days int
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete old completed, failed and cancelled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), *configFile, resolver)
			if err != nil {
				return err
			}
			defer a.cleanup()

			if !confirm(cmd, yes, fmt.Sprintf("Delete completed, failed and cancelled jobs older than %d day(s)?", days)) {
				fmt.Fprintln(cmd.OutOrStdout(), "aborted")
				return nil
			}

			n, err := a.store.Cleanup(cmd.Context(), time.Duration(days)*24*time.Hour, time.Now())
			if err != nil {
				return fmt.Errorf("failed to clean up jobs: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d job(s)\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	cmd.Flags().IntVar(&days, "days", 30, "age threshold in days")
	return cmd
}

func newQueueCancelCommand(resolver adapter.Resolver, configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}

			a, err := buildApp(cmd.Context(), *configFile, resolver)
			if err != nil {
				return err
			}
			defer a.cleanup()

			err = a.store.Cancel(cmd.Context(), id)
			switch {
			case err == nil:
				fmt.Fprintf(cmd.OutOrStdout(), "cancelled job %d\n", id)
				return nil
			case errors.Is(err, queue.ErrNotFound):
				return fmt.Errorf("job %d not found", id)
			case errors.Is(err, queue.ErrNotPending):
				return fmt.Errorf("job %d is not pending and cannot be cancelled", id)
			default:
				return fmt.Errorf("failed to cancel job %d: %w", id, err)
			}
		},
	}
}
