package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/mindstream/internal/ingest"
	"github.com/raphaelgruber/mindstream/internal/memory"
	"github.com/raphaelgruber/mindstream/internal/metrics"
	"github.com/raphaelgruber/mindstream/internal/models"
	"github.com/raphaelgruber/mindstream/internal/service"
)

type fakeEngine struct {
	mu      sync.Mutex
	calls   []models.Interaction
	reply   string
	err     error
	wiped   bool
	forced  []bool
	metrics *metrics.Collector
}

func (f *fakeEngine) Respond(_ context.Context, in models.Interaction) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, in)
	return f.reply, f.err
}

func (f *fakeEngine) Summary(_ context.Context, force bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forced = append(f.forced, force)
	return "Name: Ada (age: 30)", f.err
}

func (f *fakeEngine) Wipe(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wiped = true
	return f.err
}

func (f *fakeEngine) Stats() metrics.Snapshot {
	return f.metrics.Snapshot()
}

func (f *fakeEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeEngine) snapshot() ([]models.Interaction, bool, []bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Interaction(nil), f.calls...), f.wiped, append([]bool(nil), f.forced...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, eng *fakeEngine, jobs *service.JobManager) *httptest.Server {
	t.Helper()
	srv := New(eng, jobs, WithStreamDelay(0), WithLogger(testLogger()))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readAll(t *testing.T, r io.Reader) string {
	t.Helper()
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(b)
}

func TestChatStreamsReply(t *testing.T) {
	eng := &fakeEngine{reply: "Doing well, thanks!"}
	ts := newTestServer(t, eng, nil)

	resp := postJSON(t, ts.URL+"/api/chat",
		`{"messages":[{"role":"user","content":"How are you?"}],"interaction_type":"say","speaker":"Bob"}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))
	assert.Equal(t, "Doing well, thanks!", readAll(t, resp.Body))

	calls, _, _ := eng.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, models.KindSay, calls[0].Kind)
	assert.Equal(t, "Bob", calls[0].Speaker)
}

func TestChatRejectsInvalidMessages(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"numeric content", `{"messages":[{"role":"user","content":42}],"interaction_type":"say"}`},
		{"object content", `{"messages":[{"role":"user","content":{"a":1}}],"interaction_type":"react"}`},
		{"no messages", `{"messages":[],"interaction_type":"say"}`},
		{"malformed json", `{"messages":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &fakeEngine{reply: "unused"}
			ts := newTestServer(t, eng, nil)

			resp := postJSON(t, ts.URL+"/api/chat", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var body errorBody
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, InvalidMessagesMessage, body.Message)
			assert.Zero(t, eng.callCount())
		})
	}
}

func TestChatMapsErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("say: %w", memory.ErrInvalidRequest), http.StatusBadRequest},
		{fmt.Errorf("generate: %w: boom", memory.ErrAdapterFailure), http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{fmt.Errorf("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			ts := newTestServer(t, &fakeEngine{err: tt.err}, nil)
			resp := postJSON(t, ts.URL+"/api/chat", `{"messages":[{"content":"hi"}],"interaction_type":"say"}`)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestChatWebsocket(t *testing.T) {
	eng := &fakeEngine{reply: "héllo"}
	ts := newTestServer(t, eng, nil)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/chat/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(models.ChatRequest{
		Messages:        []models.ChatMessage{{Role: "user", Content: "hi"}},
		InteractionType: "react",
	}))

	var sb strings.Builder
	for {
		var ev models.StreamEvent
		require.NoError(t, conn.ReadJSON(&ev))
		require.Nil(t, ev.Error)
		if ev.Done {
			break
		}
		sb.WriteString(ev.Token)
	}
	assert.Equal(t, "héllo", sb.String())

	// invalid request on the same connection
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"messages":[{"content":1}]}`)))
	var ev models.StreamEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.True(t, ev.Done)
	require.NotNil(t, ev.Error)
	assert.Equal(t, InvalidMessagesMessage, *ev.Error)
	assert.Equal(t, 1, eng.callCount())
}

func TestIngestJobLifecycle(t *testing.T) {
	release := make(chan struct{})
	jobs := service.NewJobManager(1, func(_ context.Context, path string, progress ingest.ProgressFunc) (ingest.Result, error) {
		<-release
		progress(1, 1)
		return ingest.Result{Added: 1}, nil
	}, testLogger())
	ts := newTestServer(t, &fakeEngine{}, jobs)

	resp := postJSON(t, ts.URL+"/api/ingest", `{"path":"/data/logs"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var job service.Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&job))
	assert.Equal(t, "/data/logs", job.Path)
	assert.Len(t, job.ID, 8)

	close(release)
	jobs.Wait()

	get, err := http.Get(ts.URL + "/api/jobs/" + job.ID)
	require.NoError(t, err)
	defer get.Body.Close()
	require.Equal(t, http.StatusOK, get.StatusCode)
	var done service.Job
	require.NoError(t, json.NewDecoder(get.Body).Decode(&done))
	assert.Equal(t, service.JobStatusCompleted, done.Status)
	require.NotNil(t, done.Result)
	assert.Equal(t, 1, done.Result.Added)

	list, err := http.Get(ts.URL + "/api/jobs")
	require.NoError(t, err)
	defer list.Body.Close()
	var all []service.Job
	require.NoError(t, json.NewDecoder(list.Body).Decode(&all))
	assert.Len(t, all, 1)

	missing, err := http.Get(ts.URL + "/api/jobs/nope")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestIngestRequiresPath(t *testing.T) {
	jobs := service.NewJobManager(1, func(context.Context, string, ingest.ProgressFunc) (ingest.Result, error) {
		return ingest.Result{}, nil
	}, testLogger())
	ts := newTestServer(t, &fakeEngine{}, jobs)

	resp := postJSON(t, ts.URL+"/api/ingest", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, jobs.ListJobs())
}

func TestIngestDisabledWithoutJobs(t *testing.T) {
	ts := newTestServer(t, &fakeEngine{}, nil)
	resp := postJSON(t, ts.URL+"/api/ingest", `{"path":"x"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestWipeSummaryMetricsHealth(t *testing.T) {
	mc := metrics.NewCollector()
	mc.Incr(metrics.CountMemoriesAdded)
	eng := &fakeEngine{metrics: mc}
	ts := newTestServer(t, eng, nil)

	resp := postJSON(t, ts.URL+"/api/wipe", ``)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_, wiped, _ := eng.snapshot()
	assert.True(t, wiped)

	sum, err := http.Get(ts.URL + "/api/summary?refresh=true")
	require.NoError(t, err)
	defer sum.Body.Close()
	var body map[string]string
	require.NoError(t, json.NewDecoder(sum.Body).Decode(&body))
	assert.Equal(t, "Name: Ada (age: 30)", body["summary"])
	_, _, forced := eng.snapshot()
	assert.Equal(t, []bool{true}, forced)

	met, err := http.Get(ts.URL + "/api/metrics")
	require.NoError(t, err)
	defer met.Body.Close()
	var snap metrics.Snapshot
	require.NoError(t, json.NewDecoder(met.Body).Decode(&snap))
	assert.Equal(t, int64(1), snap.Counters[metrics.CountMemoriesAdded])

	health, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, "ok\n", readAll(t, health.Body))
}

func TestRequestIDIsPropagated(t *testing.T) {
	ts := newTestServer(t, &fakeEngine{}, nil)
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set(RequestIDHeader, "abc-123")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "abc-123", resp.Header.Get(RequestIDHeader))
}

func TestStreamStopsOnCancel(t *testing.T) {
	s := New(&fakeEngine{}, nil, WithStreamDelay(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, s.pause(ctx))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "ab", truncate("abcdef", 2))
}
