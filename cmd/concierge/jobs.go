package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	cgnats "github.com/Strob0t/concierge/internal/adapter/nats"
	"github.com/Strob0t/concierge/internal/adapter/postgres"
	"github.com/Strob0t/concierge/internal/config"
	"github.com/Strob0t/concierge/internal/domain/job"
	"github.com/Strob0t/concierge/internal/middleware"
	"github.com/Strob0t/concierge/internal/service"
)

// openStore connects to Postgres only; operator commands that never touch
// the broker use it.
func openStore(ctx context.Context, cfg *config.Config) (*postgres.Store, func(), error) {
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	return postgres.NewStore(pool), pool.Close, nil
}

func jobsCmd(load configLoader) *cobra.Command {
	var tenant string

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and recover execution jobs",
	}
	cmd.PersistentFlags().StringVar(&tenant, "tenant", middleware.DefaultTenantID, "Tenant ID")

	var (
		status string
		limit  int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var st job.Status
			if status != "" {
				var err error
				if st, err = job.ParseStatus(status); err != nil {
					return err
				}
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			store, cleanup, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := middleware.WithTenantID(cmd.Context(), tenant)
			jobs, err := store.ListJobs(ctx, st, limit)
			if err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}
			return printJobs(cmd.OutOrStdout(), jobs)
		},
	}
	list.Flags().StringVar(&status, "status", "", "Filter by status (queued, running, succeeded, failed, failed_enqueue)")
	list.Flags().IntVar(&limit, "limit", 50, "Maximum number of jobs to list")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "requeue <job-id>",
		Short: "Reset a failed job's attempts and submit it again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			store, cleanup, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			queue, err := cgnats.Connect(cmd.Context(), cfg.NATS)
			if err != nil {
				return fmt.Errorf("nats: %w", err)
			}
			defer func() { _ = queue.Close() }()

			ctx := middleware.WithTenantID(cmd.Context(), tenant)
			j, err := service.NewJobEnqueuer(store, queue).Requeue(ctx, args[0])
			if err != nil {
				return fmt.Errorf("requeue %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s requeued (status %s)\n", j.ID, j.Status)
			return nil
		},
	})
	return cmd
}

func printJobs(out io.Writer, jobs []job.Job) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tQUOTE\tSTATUS\tATTEMPTS\tUPDATED\tLAST_ERROR")
	for i := range jobs {
		j := &jobs[i]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			j.ID, j.QuoteID, j.Status, j.Attempts, j.UpdatedAt.UTC().Format(time.RFC3339), j.LastError)
	}
	return w.Flush()
}
