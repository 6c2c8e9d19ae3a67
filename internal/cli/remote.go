package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/mindstream/internal/client"
	"github.com/raphaelgruber/mindstream/internal/models"
)

var (
	remoteSpeaker string
	remoteNoWait  bool
)

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Talk to a running mindstream server",
	Long: `Talk to a running mindstream-server instead of opening the store directly.

The server is taken from --server, $MINDSTREAM_SERVER_URL or server.url.`,
	Annotations: map[string]string{annotationRemote: ""},
}

var remoteSayCmd = &cobra.Command{
	Use:   "say <message>",
	Short: "Say something to the server's agent",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return remoteChat(cmd, "say", strings.Join(args, " "))
	},
}

var remoteReactCmd = &cobra.Command{
	Use:   "react <observation>",
	Short: "Show the server's agent an observation",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return remoteChat(cmd, "react", strings.Join(args, " "))
	},
}

var remoteSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print the server's agent summary",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		summary, err := remoteClient().Summary(cmd.Context(), true)
		if err != nil {
			return fmt.Errorf("summary: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), summary)
		return nil
	},
}

var remoteIngestCmd = &cobra.Command{
	Use:   "ingest <path-on-server>",
	Short: "Start a background ingestion on the server",
	Long: `Start a background ingestion on the server. The path is resolved on the
server host. Progress is shown until the job finishes unless --no-wait is set.`,
	Args: cobra.ExactArgs(1),
	RunE: runRemoteIngest,
}

var remoteWipeCmd = &cobra.Command{
	Use:   "wipe",
	Short: "Delete every memory of the server's agent",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := remoteClient().Wipe(cmd.Context()); err != nil {
			return fmt.Errorf("wipe: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), defaultTheme.completedStyle().Render("✓ Memory wiped"))
		return nil
	},
}

func init() {
	remoteSayCmd.Flags().StringVarP(&remoteSpeaker, "speaker", "s", models.DefaultSpeaker, "who is speaking")
	remoteIngestCmd.Flags().BoolVar(&remoteNoWait, "no-wait", false, "return as soon as the job is started")

	remoteCmd.AddCommand(remoteSayCmd)
	remoteCmd.AddCommand(remoteReactCmd)
	remoteCmd.AddCommand(remoteSummaryCmd)
	remoteCmd.AddCommand(remoteIngestCmd)
	remoteCmd.AddCommand(remoteWipeCmd)
}

// remoteChat streams the reply to stdout as it arrives.
func remoteChat(cmd *cobra.Command, kind, text string) error {
	out := cmd.OutOrStdout()
	req := models.ChatRequest{
		Messages:        []models.ChatMessage{{Role: "user", Content: text}},
		InteractionType: kind,
	}
	if kind == "say" {
		req.Speaker = remoteSpeaker
	}

	fmt.Fprint(out, defaultTheme.agentStyle().Render(cfg.Agent.Name+":")+" ")
	if err := remoteClient().Chat(cmd.Context(), req, out); err != nil {
		fmt.Fprintln(out)
		return err
	}
	fmt.Fprintln(out)
	return nil
}

func runRemoteIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	c := remoteClient()

	job, err := c.StartIngest(ctx, args[0])
	if err != nil {
		return fmt.Errorf("start ingest: %w", err)
	}
	fmt.Fprintf(out, "Started job %s\n", job.ID)
	if remoteNoWait {
		return nil
	}

	fetch := func(ctx context.Context) (*client.Job, error) {
		return c.GetJob(ctx, job.ID)
	}
	if isTerminal(out) {
		_, err = runJobProgress(fetch, job, remotePollInterval, true)
		return err
	}
	final, err := waitPlain(ctx, out, fetch, remotePollInterval)
	if err == nil && final.Result != nil {
		fmt.Fprint(out, renderResult(defaultTheme, *final.Result))
	}
	return err
}
