package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/mindstream/internal/client"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List or inspect ingestion jobs on the server",
	Long: `List all ingestion jobs of a running server or inspect a specific job by ID.

Examples:
  mindstream jobs           # List all jobs
  mindstream jobs abc123    # Show details for job abc123`,
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{annotationRemote: ""},
	RunE:        runJobs,
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c := remoteClient()
	if len(args) == 1 {
		return showJob(ctx, cmd.OutOrStdout(), c, args[0])
	}
	return listJobs(ctx, cmd.OutOrStdout(), c)
}

func listJobs(ctx context.Context, w io.Writer, c *client.Client) error {
	jobs, err := c.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Fprintln(w, "No jobs found")
		return nil
	}

	fmt.Fprintf(w, "%-10s %-12s %-10s %-10s %s\n", "ID", "STATUS", "PROGRESS", "STARTED", "PATH")
	fmt.Fprintln(w, "------------------------------------------------------------------------")
	for _, job := range jobs {
		progress := ""
		if job.Total > 0 {
			progress = fmt.Sprintf("%d/%d", job.Progress, job.Total)
		}
		fmt.Fprintf(w, "%-10s %-12s %-10s %-10s %s\n",
			job.ID, job.Status, progress, job.StartedAt.Format("15:04:05"), job.Path)
	}
	return nil
}

func showJob(ctx context.Context, w io.Writer, c *client.Client, id string) error {
	job, err := c.GetJob(ctx, id)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}

	fmt.Fprintf(w, "Job: %s\n", job.ID)
	fmt.Fprintf(w, "  Path: %s\n", job.Path)
	fmt.Fprintf(w, "  Status: %s\n", job.Status)
	if job.Total > 0 {
		fmt.Fprintf(w, "  Progress: %d/%d\n", job.Progress, job.Total)
	}
	fmt.Fprintf(w, "  Started: %s\n", job.StartedAt.Format(time.RFC3339))
	if job.CompletedAt != nil {
		fmt.Fprintf(w, "  Completed: %s\n", job.CompletedAt.Format(time.RFC3339))
		fmt.Fprintf(w, "  Duration: %s\n", job.CompletedAt.Sub(job.StartedAt).Round(time.Second))
	}
	if job.Error != "" {
		fmt.Fprintf(w, "  Error: %s\n", job.Error)
	}

	if r := job.Result; r != nil {
		fmt.Fprintln(w, "\nResult:")
		fmt.Fprintf(w, "  Log records added: %d\n", r.Added)
		fmt.Fprintf(w, "  Already present: %d\n", r.Skipped)
		fmt.Fprintf(w, "  Core memories added: %d\n", r.CoreAdded)
		fmt.Fprintf(w, "  Derived memories cleared: %d\n", r.Deleted)
		if r.Reflections > 0 {
			fmt.Fprintf(w, "  Reflections: %d\n", r.Reflections)
		}
	}
	return nil
}
