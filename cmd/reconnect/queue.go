package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/reconnect/pkg/client"
	"github.com/cuemby/reconnect/pkg/types"
)

// newClient builds an admin API client from the --api and --token flags
func newClient(cmd *cobra.Command) *client.Client {
	addr, _ := cmd.Flags().GetString("api")
	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		token = os.Getenv("RECONNECT_ADMIN_TOKEN")
	}
	return client.NewClient(addr, token)
}

func addClientFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("api", "127.0.0.1:8080", "Admin API address")
	cmd.PersistentFlags().String("token", "", "Admin API token (default $RECONNECT_ADMIN_TOKEN)")
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Minute)
}

// Queue commands
var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the job queue",
}

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show job counts per status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()

		status, err := newClient(cmd).QueueStatus(ctx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), renderQueueStatus(status))
		return err
	},
}

var queueListCmd = &cobra.Command{
	Use:   "list STATUS",
	Short: "List jobs in a status (waiting, delayed, active, completed, failed)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, ok := types.ParseJobStatus(args[0])
		if !ok {
			return fmt.Errorf("unrecognized job status %q", args[0])
		}

		ctx, cancel := requestContext()
		defer cancel()

		jobs, err := newClient(cmd).ListJobs(ctx, status)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), renderJobs(jobs))
		return err
	},
}

var queueGetCmd = &cobra.Command{
	Use:   "get JOB_ID",
	Short: "Show one job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()

		job, err := newClient(cmd).GetJob(ctx, args[0])
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), renderJob(job))
		return err
	},
}

// jobFromFlags builds a job from the USER and PROVIDER arguments and the
// --transitive, --delay and --attempts flags
func jobFromFlags(cmd *cobra.Command, args []string) types.ReconciliationJob {
	transitive, _ := cmd.Flags().GetBool("transitive")
	job := types.NewJob(args[0], args[1], transitive)

	delay, _ := cmd.Flags().GetDuration("delay")
	attempts, _ := cmd.Flags().GetInt("attempts")
	if delay > 0 || attempts > 0 {
		job.Debug = &types.DebugOptions{Delay: delay, Attempts: attempts}
	}
	return job
}

func addJobFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("transitive", false, "Also queue peers with incoming connections")
	cmd.Flags().Duration("delay", 0, "Delay before the first attempt")
	cmd.Flags().Int("attempts", 0, "Attempt budget (default: the queue's)")
}

var queueAddCmd = &cobra.Command{
	Use:   "add USER PROVIDER",
	Short: "Queue a reconciliation for a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()

		record, err := newClient(cmd).AddJob(ctx, jobFromFlags(cmd, args))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Job %s %s\n", record.ID, record.Status)
		return nil
	},
}

var queueUpdateCmd = &cobra.Command{
	Use:   "update USER PROVIDER",
	Short: "Replace the data of a queued job and retry it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()

		record, err := newClient(cmd).UpdateJob(ctx, jobFromFlags(cmd, args))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Job %s updated\n", record.ID)
		return nil
	},
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry JOB_ID",
	Short: "Retry a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()

		if err := newClient(cmd).RetryJob(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Job %s queued for retry\n", args[0])
		return nil
	},
}

var queueRemoveCmd = &cobra.Command{
	Use:     "remove JOB_ID",
	Aliases: []string{"rm"},
	Short:   "Remove a job that is not running",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()

		if err := newClient(cmd).RemoveJob(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Job %s removed\n", args[0])
		return nil
	},
}

var queuePauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Stop dispatching jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()

		if err := newClient(cmd).Pause(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Queue paused")
		return nil
	},
}

var queueResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Restart dispatching jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()

		if err := newClient(cmd).Resume(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Queue resumed")
		return nil
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every job that is not running and resume the queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()

		removed, err := newClient(cmd).Clear(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Removed %d jobs\n", removed)
		return nil
	},
}

func init() {
	addClientFlags(queueCmd)
	addJobFlags(queueAddCmd)
	addJobFlags(queueUpdateCmd)

	queueCmd.AddCommand(queueStatusCmd)
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueGetCmd)
	queueCmd.AddCommand(queueAddCmd)
	queueCmd.AddCommand(queueUpdateCmd)
	queueCmd.AddCommand(queueRetryCmd)
	queueCmd.AddCommand(queueRemoveCmd)
	queueCmd.AddCommand(queuePauseCmd)
	queueCmd.AddCommand(queueResumeCmd)
	queueCmd.AddCommand(queueClearCmd)

	rootCmd.AddCommand(queueCmd)
}

// Graph commands
var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Reconcile graphs directly",
}

var graphUpdateCmd = &cobra.Command{
	Use:   "update USER PROVIDER",
	Short: "Reconcile a user now, outside the queue",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()

		resp, err := newClient(cmd).UpdateGraph(ctx, jobFromFlags(cmd, args))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Graph of %s updated, capacity used: %d\n", resp.UserID, resp.Capacity.Total())
		return nil
	},
}

// Scan command
var scanCmd = &cobra.Command{
	Use:   "scan [FROM_BLOCK]",
	Short: "Scan the ledger for new delegations",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var from uint64
		if len(args) == 1 {
			n, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid block number: %w", err)
			}
			from = n
		}

		ctx, cancel := requestContext()
		defer cancel()

		result, err := newClient(cmd).Scan(ctx, from)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), renderScan(result))
		return err
	},
}

func init() {
	addClientFlags(graphCmd)
	addJobFlags(graphUpdateCmd)
	graphCmd.AddCommand(graphUpdateCmd)
	rootCmd.AddCommand(graphCmd)

	addClientFlags(scanCmd)
	rootCmd.AddCommand(scanCmd)
}
