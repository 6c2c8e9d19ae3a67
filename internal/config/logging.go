package config

import (
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// SetupLogger builds the process logger from c: text to stderr, JSON to c.Log.File.
// The returned cleanup closes the log file.
func SetupLogger(c Config) (*slog.Logger, func() error) {
	level := c.LogLevel()
	if c.Log.File == "" {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), func() error { return nil }
	}

	file, err := os.OpenFile(c.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		logger.Error("failed to open log file, using stderr only", "error", err, "file", c.Log.File)
		return logger, func() error { return nil }
	}

	return SetupLoggerWithWriters(os.Stderr, file, level).With("agent", c.Agent.Name), file.Close
}

// SetupLoggerWithWriters fans out to a text handler on stderr and a JSON handler on file.
func SetupLoggerWithWriters(stderr, file io.Writer, level slog.Level) *slog.Logger {
	stderrHandler := slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})
	return slog.New(slogmulti.Fanout(stderrHandler, fileHandler))
}
