package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cuemby/reconnect/pkg/api"
	"github.com/cuemby/reconnect/pkg/scanner"
	"github.com/cuemby/reconnect/pkg/types"
)

func renderQueueStatus(status *api.QueueStatus) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tJOBS")
	for _, s := range types.AllJobStatuses {
		fmt.Fprintf(w, "%s\t%d\n", s, status.Counts[string(s)])
	}
	w.Flush()

	state := "running"
	if status.IsPaused {
		state = "paused"
		if len(status.PausedBy) > 0 {
			state += " (" + strings.Join(status.PausedBy, ", ") + ")"
		}
	}
	fmt.Fprintf(&b, "\nQueue is %s\n", state)
	return b.String()
}

func renderJobs(jobs []*types.JobRecord) string {
	if len(jobs) == 0 {
		return "No jobs\n"
	}

	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tTRANSITIVE\tATTEMPTS\tUPDATED\tREASON")
	for _, job := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%t\t%d/%d\t%s\t%s\n",
			job.ID,
			job.Status,
			job.Data.Transitive,
			job.Attempts, job.MaxAttempts,
			job.UpdatedAt.UTC().Format(time.RFC3339),
			job.FailedReason,
		)
	}
	w.Flush()
	return b.String()
}

func renderJob(job *types.JobRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Job %s\n", job.ID)
	fmt.Fprintf(&b, "  User:       %s\n", job.Data.UserID)
	fmt.Fprintf(&b, "  Provider:   %s\n", job.Data.ProviderID)
	fmt.Fprintf(&b, "  Transitive: %t\n", job.Data.Transitive)
	fmt.Fprintf(&b, "  Status:     %s\n", job.Status)
	fmt.Fprintf(&b, "  Attempts:   %d/%d\n", job.Attempts, job.MaxAttempts)
	if job.Status == types.JobStatusDelayed {
		fmt.Fprintf(&b, "  Run at:     %s\n", job.RunAt.UTC().Format(time.RFC3339))
	}
	if job.FailedReason != "" {
		fmt.Fprintf(&b, "  Reason:     %s\n", job.FailedReason)
	}
	if len(job.Result) > 0 {
		fmt.Fprintf(&b, "  Capacity:   %d\n", job.Result.Total())
	}
	return b.String()
}

func renderScan(result *scanner.Result) string {
	if result.To < result.From {
		return fmt.Sprintf("No new blocks after %d\n", result.From-1)
	}
	s := fmt.Sprintf("Scanned blocks %d..%d, queued %d jobs\n", result.From, result.To, result.Enqueued)
	if result.Stopped {
		s += "Stopped early: queue reached its high water mark\n"
	}
	return s
}
