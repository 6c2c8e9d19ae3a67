package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/raphaelgruber/mindstream/internal/client"
	"github.com/raphaelgruber/mindstream/internal/service"
)

var ingestSummary bool

var ingestCmd = &cobra.Command{
	Use:   "ingest <dir|file.jsonl>",
	Short: "Load daily logs and core memories into the agent",
	Long: `Load daily log records and the configured core memories into the agent.

Memories formed from conversations, reactions and reflections are cleared
first. Records already present are skipped, so ingest can be re-run safely.

A directory is read as markdown pages; a .jsonl/.ndjson file as one JSON
record per line.

Examples:
  mindstream ingest ./journal
  mindstream ingest export.jsonl --summary=false`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestSummary, "summary", true, "print the agent summary afterwards")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	jobs := service.NewJobManager(1, engine.Ingest, logger)
	job := jobs.Start(ctx, args[0])
	fetch := func(context.Context) (*client.Job, error) {
		v := jobView(jobs.GetJob(job.ID).Snapshot())
		return &v, nil
	}

	var (
		final *client.Job
		err   error
	)
	if isTerminal(out) {
		first, _ := fetch(ctx)
		final, err = runJobProgress(fetch, first, localPollInterval, false)
	} else {
		final, err = waitPlain(ctx, out, fetch, localPollInterval)
		if err == nil && final.Result != nil {
			fmt.Fprint(out, renderResult(defaultTheme, *final.Result))
		}
	}
	if err != nil {
		return err
	}

	if ingestSummary {
		summary, err := engine.Summary(ctx, true)
		if err != nil {
			return fmt.Errorf("summarize: %w", err)
		}
		fmt.Fprintf(out, "\nAfter ingestion, %s's summary is:\n%s\n", cfg.Agent.Name, summary)
	}
	return nil
}

// jobView converts a local job into the shape the progress UI shows.
func jobView(j service.Job) client.Job {
	return client.Job{
		ID:          j.ID,
		Path:        j.Path,
		Status:      string(j.Status),
		Progress:    j.Progress,
		Total:       j.Total,
		Result:      j.Result,
		Error:       j.Error,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
