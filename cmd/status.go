package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/sourcing-cli/internal/model"
	"github.com/sells-group/sourcing-cli/internal/resilience"
)

func failureFromDLQ(e resilience.DLQEntry) model.JobFailure {
	return model.JobFailure{
		CompanyID: e.CompanyID,
		Source:    e.FailedSource,
		Error:     e.Error,
	}
}

var statusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show a run's job progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Pipeline.Status(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "run status")
		}

		// Counters live with the process that ran the jobs; from another
		// process the persisted failure records are the durable view.
		if report.Failed == 0 {
			entries, err := env.Store.DequeueDLQ(ctx, resilience.DLQFilter{RunID: args[0]})
			if err != nil {
				return eris.Wrap(err, "read failures")
			}
			report.Failed = len(entries)
			for _, e := range entries {
				report.Failures = append(report.Failures, failureFromDLQ(e))
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Cancel a run's remaining enrichment jobs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		return env.Pipeline.CancelRun(ctx, args[0])
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry <run-id> <company-id>",
	Short: "Re-queue a single failed company",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Pipeline.RetryCompany(ctx, args[0], args[1]); err != nil {
			return err
		}

		// Drain the retried job before exiting.
		poolCtx, stopPool := context.WithCancel(ctx)
		defer stopPool()
		go env.Pool.Run(poolCtx) //nolint:errcheck
		return env.Pipeline.Watch(ctx, args[0])
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(retryCmd)
}
