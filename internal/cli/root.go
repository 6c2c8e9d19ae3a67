// Package cli provides the command-line interface for mindstream.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/mindstream/internal/client"
	"github.com/raphaelgruber/mindstream/internal/config"
	"github.com/raphaelgruber/mindstream/internal/service"
)

// annotationRemote marks commands that talk to a server instead of opening the store.
const annotationRemote = "remote"

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	configFile string
	serverURL  string
	verbose    bool

	cfg      config.Config
	logger   *slog.Logger
	closeLog func() error
	engine   *service.Engine
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "mindstream",
	Short: "Generative agent with long-term memory",
	Long: `mindstream runs a single generative agent backed by a memory stream.

Observations are scored for importance, embedded and stored; recall ranks them
by relevance, recency and importance; enough important observations trigger a
reflection that stores higher-level insights as new memories.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		if configFile == "" {
			configFile = os.Getenv("MINDSTREAM_CONFIG")
		}
		var err error
		cfg, err = config.Load(configFile)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Log.Level = "DEBUG"
		}
		logger, closeLog = config.SetupLogger(cfg)
		slog.SetDefault(logger)

		if isRemote(cmd) {
			return nil
		}

		engine, err = service.NewEngine(cmd.Context(), cfg, logger)
		if err != nil {
			return fmt.Errorf("start engine: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		cleanup()
	},
}

// cleanup closes the engine and the log file. Safe to call more than once.
func cleanup() {
	if engine != nil {
		if err := engine.Close(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close store: %v\n", err)
		}
		engine = nil
	}
	if closeLog != nil {
		closeLog()
		closeLog = nil
	}
}

// isRemote reports whether cmd or one of its parents is a remote command.
func isRemote(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if _, ok := c.Annotations[annotationRemote]; ok {
			return true
		}
	}
	return false
}

// remoteClient returns a client for --server, the configured server URL, or the env default.
func remoteClient() *client.Client {
	if serverURL != "" {
		return client.New(serverURL)
	}
	if os.Getenv("MINDSTREAM_SERVER_URL") == "" && cfg.Server.URL != "" {
		return client.New(cfg.Server.URL)
	}
	return client.New("")
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	defer cleanup()
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx, writing to out.
func ExecuteContext(ctx context.Context, out io.Writer, args ...string) error {
	rootCmd.SetOut(out)
	rootCmd.SetArgs(args)
	defer cleanup()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default $MINDSTREAM_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server URL for remote commands (default $MINDSTREAM_SERVER_URL)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(wipeCmd)
	rootCmd.AddCommand(sayCmd)
	rootCmd.AddCommand(reactCmd)
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(recallCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(remoteCmd)
}
