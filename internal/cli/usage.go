package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/mindstream/internal/metrics"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show server runtime statistics",
	Long: `Show a running server's in-memory statistics: timings per operation,
LLM token usage and event counters such as reflections and retries.

Example:
  mindstream usage --server http://localhost:8484`,
	Args:        cobra.NoArgs,
	Annotations: map[string]string{annotationRemote: ""},
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := remoteClient().Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("get server stats: %w", err)
		}
		printStats(cmd.OutOrStdout(), snap)
		return nil
	},
}

// printStats displays runtime statistics.
func printStats(w io.Writer, snap *metrics.Snapshot) {
	fmt.Fprintf(w, "Server Statistics (in-memory, since restart)\n")
	fmt.Fprintf(w, "═══════════════════════════════════════════════\n")
	fmt.Fprintf(w, "Uptime: %.1f seconds\n", snap.UptimeSeconds)

	for _, op := range snap.Operations {
		fmt.Fprintf(w, "\n%s:\n", op.Name)
		fmt.Fprintf(w, "  Calls: %d, Total: %dms\n", op.Count, op.TotalTimeMs)
		fmt.Fprintf(w, "  Time: avg %.1fms, min %dms, max %dms\n", op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
		if op.TotalInputTokens > 0 || op.TotalOutputTokens > 0 {
			fmt.Fprintf(w, "  Tokens: %d in, %d out\n", op.TotalInputTokens, op.TotalOutputTokens)
		}
	}

	if len(snap.Counters) == 0 {
		return
	}
	names := make([]string, 0, len(snap.Counters))
	for name := range snap.Counters {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintf(w, "\nCounters:\n")
	for _, name := range names {
		fmt.Fprintf(w, "  %-22s %d\n", name, snap.Counters[name])
	}
}
