package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/mindstream/internal/memory"
	"github.com/raphaelgruber/mindstream/internal/models"
)

var (
	saySpeaker string
	recallK    int
	wipeForce  bool
)

var sayCmd = &cobra.Command{
	Use:   "say <message>",
	Short: "Say something to the agent and print its reply",
	Long: `Say something to the agent. The exchange is stored as a conversation memory.

Examples:
  mindstream say "How are you feeling today?"
  mindstream say "Did you finish the report?" --speaker Maria`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return respond(cmd, models.Interaction{
			Kind:    models.KindSay,
			Speaker: saySpeaker,
			Content: strings.Join(args, " "),
		})
	},
}

var reactCmd = &cobra.Command{
	Use:   "react <observation>",
	Short: "Show the agent an observation and print its reaction",
	Long: `Show the agent an observation. The agent may react, speak, or do nothing.

Example:
  mindstream react "A stranger calls saying you won the lottery and asks for your bank details."`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return respond(cmd, models.Interaction{
			Kind:    models.KindReact,
			Content: strings.Join(args, " "),
		})
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print the agent's summary",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		summary, err := engine.Summary(cmd.Context(), true)
		if err != nil {
			return fmt.Errorf("summarize: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), summary)
		return nil
	},
}

var recallCmd = &cobra.Command{
	Use:   "recall <query>",
	Short: "Show the memories the agent would recall for a query",
	Long: `Rank memories by relevance, recency and importance.

Recalled memories count as accessed, which refreshes their recency.

Examples:
  mindstream recall "work"
  mindstream recall "family" -k 5`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hits, err := engine.Recall(cmd.Context(), strings.Join(args, " "), recallK)
		if err != nil {
			return fmt.Errorf("recall: %w", err)
		}
		printScored(cmd.OutOrStdout(), hits)
		return nil
	},
}

var wipeCmd = &cobra.Command{
	Use:   "wipe",
	Short: "Delete every memory of the agent",
	Long: `Delete every memory of the agent, including daily logs and core memories.

Requires confirmation unless --force is used.`,
	Args: cobra.NoArgs,
	RunE: runWipe,
}

func init() {
	sayCmd.Flags().StringVarP(&saySpeaker, "speaker", "s", models.DefaultSpeaker, "who is speaking")
	recallCmd.Flags().IntVarP(&recallK, "top", "k", 0, "number of memories (default memory.k)")
	wipeCmd.Flags().BoolVarP(&wipeForce, "force", "f", false, "skip confirmation")
}

func respond(cmd *cobra.Command, in models.Interaction) error {
	reply, err := engine.Respond(cmd.Context(), in)
	if err != nil {
		return err
	}
	printReply(cmd.OutOrStdout(), cfg.Agent.Name, reply)
	return nil
}

func printReply(w io.Writer, name, reply string) {
	if reply == "" {
		fmt.Fprintln(w, defaultTheme.hintStyle().Render(name+" does nothing."))
		return
	}
	fmt.Fprintf(w, "%s %s\n", defaultTheme.agentStyle().Render(name+":"), reply)
}

func printScored(w io.Writer, hits []memory.Scored) {
	if len(hits) == 0 {
		fmt.Fprintln(w, "No memories found.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SCORE\tSIM\tIMPORTANCE\tCREATED\tSOURCE\tCONTENT")
	for _, h := range hits {
		fmt.Fprintf(tw, "%.3f\t%.3f\t%.2f\t%s\t%s\t%s\n",
			h.Score, h.Similarity, h.Memory.Importance,
			h.Memory.CreatedAt.Format("2006-01-02 15:04"),
			h.Memory.Source, ellipsize(h.Memory.Content, 80))
	}
	tw.Flush()
}

func ellipsize(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func runWipe(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if !wipeForce {
		fmt.Fprintf(out, "About to delete all %d memories of %s.\n", engine.Memory.Len(), cfg.Agent.Name)
		fmt.Fprint(out, "\nContinue? [y/N]: ")

		response, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read input: %w", err)
		}
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Fprintln(out, "Cancelled.")
			return nil
		}
	}

	if err := engine.Wipe(cmd.Context()); err != nil {
		return fmt.Errorf("wipe: %w", err)
	}
	fmt.Fprintln(out, defaultTheme.completedStyle().Render("✓ Memory wiped"))
	return nil
}
