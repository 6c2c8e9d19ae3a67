package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
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

type stubEngine struct {
	reply string
	err   error
	mc    *metrics.Collector
}

func (s *stubEngine) Respond(_ context.Context, in models.Interaction) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	text, _ := in.Text()
	return s.reply + " " + text, nil
}

func (s *stubEngine) Summary(_ context.Context, force bool) (string, error) {
	return fmt.Sprintf("summary force=%v", force), nil
}

func (s *stubEngine) Wipe(context.Context) error { return s.err }

func (s *stubEngine) Stats() metrics.Snapshot { return s.mc.Snapshot() }

func newTestClient(t *testing.T, eng *stubEngine, jobs *service.JobManager) *Client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := server.New(eng, jobs, server.WithStreamDelay(0), server.WithLogger(logger))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return New(ts.URL + "/")
}

func sayRequest(text string) models.ChatRequest {
	return models.ChatRequest{
		Messages:        []models.ChatMessage{{Role: "user", Content: text}},
		InteractionType: "say",
	}
}

func TestChat(t *testing.T) {
	c := newTestClient(t, &stubEngine{reply: "echo:"}, nil)

	var sb strings.Builder
	require.NoError(t, c.Chat(context.Background(), sayRequest("hi there"), &sb))
	assert.Equal(t, "echo: hi there", sb.String())
}

func TestChatStream(t *testing.T) {
	c := newTestClient(t, &stubEngine{reply: "echo:"}, nil)

	var tokens []string
	err := c.ChatStream(context.Background(), sayRequest("yo"), func(tok string) error {
		tokens = append(tokens, tok)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "echo: yo", strings.Join(tokens, ""))
	assert.Len(t, tokens, len("echo: yo"))
}

func TestChatStreamAbort(t *testing.T) {
	c := newTestClient(t, &stubEngine{reply: "long reply"}, nil)
	stop := errors.New("stop")
	err := c.ChatStream(context.Background(), sayRequest("x"), func(string) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestChatErrors(t *testing.T) {
	c := newTestClient(t, &stubEngine{err: fmt.Errorf("llm: %w", memory.ErrAdapterFailure)}, nil)

	err := c.Chat(context.Background(), sayRequest("hi"), io.Discard)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)

	err = c.Chat(context.Background(), models.ChatRequest{InteractionType: "say"}, io.Discard)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, server.InvalidMessagesMessage, apiErr.Message)

	err = c.ChatStream(context.Background(), models.ChatRequest{}, func(string) error { return nil })
	assert.ErrorContains(t, err, server.InvalidMessagesMessage)
}

func TestIngestJobs(t *testing.T) {
	jobs := service.NewJobManager(1, func(_ context.Context, path string, progress ingest.ProgressFunc) (ingest.Result, error) {
		progress(3, 3)
		return ingest.Result{Added: 3}, nil
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c := newTestClient(t, &stubEngine{}, jobs)
	ctx := context.Background()

	job, err := c.StartIngest(ctx, "/logs")
	require.NoError(t, err)
	assert.Equal(t, "/logs", job.Path)

	var updates int
	final, err := c.WaitJob(ctx, job.ID, 5*time.Millisecond, func(Job) { updates++ })
	require.NoError(t, err)
	assert.Equal(t, "completed", final.Status)
	require.NotNil(t, final.Result)
	assert.Equal(t, 3, final.Result.Added)
	assert.Positive(t, updates)

	list, err := c.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, job.ID, list[0].ID)

	_, err = c.GetJob(ctx, "missing")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestSummaryWipeStats(t *testing.T) {
	mc := metrics.NewCollector()
	mc.Add(metrics.CountReflections, 2)
	c := newTestClient(t, &stubEngine{mc: mc}, nil)
	ctx := context.Background()

	s, err := c.Summary(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, "summary force=true", s)

	s, err = c.Summary(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "summary force=false", s)

	require.NoError(t, c.Wipe(ctx))

	snap, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Counters[metrics.CountReflections])
}

func TestNewUsesEnv(t *testing.T) {
	t.Setenv("MINDSTREAM_SERVER_URL", "http://example.test:9000/")
	t.Setenv("MINDSTREAM_CLIENT_TIMEOUT", "3s")
	c := New("")
	assert.Equal(t, "http://example.test:9000", c.endpoint)
	assert.Equal(t, 3*time.Second, c.httpClient.Timeout)

	t.Setenv("MINDSTREAM_SERVER_URL", "")
	assert.Equal(t, DefaultEndpoint, New("").endpoint)
}
