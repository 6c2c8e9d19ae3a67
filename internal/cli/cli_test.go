package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/mindstream/internal/ingest"
	"github.com/raphaelgruber/mindstream/internal/memory"
	"github.com/raphaelgruber/mindstream/internal/metrics"
	"github.com/raphaelgruber/mindstream/internal/models"
	"github.com/raphaelgruber/mindstream/internal/server"
	"github.com/raphaelgruber/mindstream/internal/service"
)

// localEnv configures an engine that needs no network: in-memory chromem and hash embeddings.
func localEnv(t *testing.T) {
	t.Helper()
	t.Setenv("STORE_BACKEND", "chromem")
	t.Setenv("EMBED_PROVIDER", "hash")
	t.Setenv("EMBED_DIMENSION", "32")
	t.Setenv("LLM_PROVIDER", "ollama")
	t.Setenv("OLLAMA_HOST", "http://127.0.0.1:1")
	t.Setenv("LOG_FILE", filepath.Join(t.TempDir(), "mindstream.log"))
	t.Setenv("LOG_LEVEL", "ERROR")
	t.Setenv("AGENT_NAME", "Ada")
	t.Setenv("MINDSTREAM_CONFIG", "")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetIn(strings.NewReader(""))
	err := ExecuteContext(context.Background(), &out, args...)
	return out.String(), err
}

type echoEngine struct{}

func (echoEngine) Respond(_ context.Context, in models.Interaction) (string, error) {
	text, _ := in.Text()
	return in.Kind.String() + ":" + text, nil
}

func (echoEngine) Summary(context.Context, bool) (string, error) { return "Name: Ada (age: 30)", nil }
func (echoEngine) Wipe(context.Context) error                    { return nil }
func (echoEngine) Stats() metrics.Snapshot {
	mc := metrics.NewCollector()
	mc.Incr(metrics.CountReflections)
	mc.RecordTiming(metrics.OpRetrieve, time.Millisecond)
	return mc.Snapshot()
}

func newRemote(t *testing.T) string {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	jobs := service.NewJobManager(1, func(context.Context, string, ingest.ProgressFunc) (ingest.Result, error) {
		return ingest.Result{Added: 4, CoreAdded: 1}, nil
	}, logger)
	srv := server.New(echoEngine{}, jobs, server.WithStreamDelay(0), server.WithLogger(logger))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func TestRemoteCommands(t *testing.T) {
	localEnv(t)
	url := newRemote(t)

	out, err := run(t, "remote", "say", "--server", url, "How", "are", "you?")
	require.NoError(t, err)
	assert.Contains(t, out, "Ada:")
	assert.Contains(t, out, "say:How are you?")

	out, err = run(t, "remote", "react", "--server", url, "a dog barks")
	require.NoError(t, err)
	assert.Contains(t, out, "react:a dog barks")

	out, err = run(t, "remote", "summary", "--server", url)
	require.NoError(t, err)
	assert.Contains(t, out, "Name: Ada (age: 30)")

	out, err = run(t, "usage", "--server", url)
	require.NoError(t, err)
	assert.Contains(t, out, "Uptime:")
	assert.Contains(t, out, metrics.CountReflections)
	assert.Contains(t, out, metrics.OpRetrieve)
}

func TestRemoteIngestAndJobs(t *testing.T) {
	localEnv(t)
	url := newRemote(t)

	out, err := run(t, "jobs", "--server", url)
	require.NoError(t, err)
	assert.Contains(t, out, "No jobs found")

	out, err = run(t, "remote", "ingest", "--server", url, "/srv/logs")
	require.NoError(t, err)
	assert.Contains(t, out, "Started job")
	assert.Contains(t, out, "Log records added:  4")

	out, err = run(t, "jobs", "--server", url)
	require.NoError(t, err)
	assert.Contains(t, out, "/srv/logs")
	assert.Contains(t, out, "completed")
}

func TestLocalRecallAndWipe(t *testing.T) {
	localEnv(t)

	out, err := run(t, "recall", "anything")
	require.NoError(t, err)
	assert.Contains(t, out, "No memories found.")

	out, err = run(t, "wipe")
	require.NoError(t, err)
	assert.Contains(t, out, "Cancelled.")

	out, err = run(t, "wipe", "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "Memory wiped")
}

func TestInvalidConfig(t *testing.T) {
	localEnv(t)
	t.Setenv("STORE_BACKEND", "redis")
	_, err := run(t, "recall", "x")
	assert.ErrorContains(t, err, "unknown store backend")
}

func TestPrintScored(t *testing.T) {
	var buf bytes.Buffer
	printScored(&buf, []memory.Scored{{
		Memory: models.Memory{
			Content:    "Ada fixed   the\nboiler",
			Source:     models.SourceDailyLog,
			Importance: 0.5,
			CreatedAt:  time.Date(2024, 1, 2, 3, 4, 0, 0, time.UTC),
		},
		Similarity: 0.8,
		Score:      1.2,
	}})
	out := buf.String()
	assert.Contains(t, out, "SCORE")
	assert.Contains(t, out, "1.200")
	assert.Contains(t, out, "2024-01-02 03:04")
	assert.Contains(t, out, "Ada fixed the boiler")
}

func TestEllipsize(t *testing.T) {
	assert.Equal(t, "short", ellipsize("short", 10))
	assert.Equal(t, "abcd…", ellipsize("abcdefgh", 5))
}

func TestPrintReply(t *testing.T) {
	var buf bytes.Buffer
	printReply(&buf, "Ada", "")
	assert.Contains(t, buf.String(), "Ada does nothing.")

	buf.Reset()
	printReply(&buf, "Ada", "Hello!")
	assert.Contains(t, buf.String(), "Hello!")
}

func TestRenderResult(t *testing.T) {
	out := renderResult(defaultTheme, ingest.Result{Added: 3, Skipped: 2, Reflections: 1})
	assert.Contains(t, out, "Log records added:  3")
	assert.Contains(t, out, "Already present:    2")
	assert.Contains(t, out, "Reflections:        1")
}

func TestIsRemote(t *testing.T) {
	assert.True(t, isRemote(remoteSayCmd))
	assert.True(t, isRemote(jobsCmd))
	assert.False(t, isRemote(sayCmd))
}
