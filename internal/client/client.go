// Package client talks to a running mindstream server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/mindstream/internal/ingest"
	"github.com/raphaelgruber/mindstream/internal/metrics"
	"github.com/raphaelgruber/mindstream/internal/models"
)

// DefaultEndpoint is used when neither an endpoint nor MINDSTREAM_SERVER_URL is given.
const DefaultEndpoint = "http://localhost:8484"

// Client is an HTTP client for the mindstream server.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// New creates a new client.
// If endpoint is empty, uses MINDSTREAM_SERVER_URL env var or defaults to localhost:8484.
// Timeout can be configured via MINDSTREAM_CLIENT_TIMEOUT (default 5m, LLM replies are slow).
func New(endpoint string) *Client {
	if endpoint == "" {
		endpoint = os.Getenv("MINDSTREAM_SERVER_URL")
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	timeout := 5 * time.Minute
	if t := os.Getenv("MINDSTREAM_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Status, e.Message)
}

// Job mirrors the server's ingestion job.
type Job struct {
	ID          string         `json:"id"`
	Path        string         `json:"path"`
	Status      string         `json:"status"`
	Progress    int            `json:"progress"`
	Total       int            `json:"total"`
	Result      *ingest.Result `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// Done reports whether the job has finished.
func (j Job) Done() bool {
	return j.Status == "completed" || j.Status == "failed"
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, rd)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp, nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.Message == "" {
		body.Message = strings.TrimSpace(string(data))
	}
	return &APIError{Status: resp.StatusCode, Message: body.Message}
}

// doJSON sends body and decodes the JSON reply into result.
func (c *Client) doJSON(ctx context.Context, method, path string, body, result any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// Chat sends req and copies the streamed reply to w as it arrives.
func (c *Client) Chat(ctx context.Context, req models.ChatRequest, w io.Writer) error {
	resp, err := c.do(ctx, http.MethodPost, "/api/chat", req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	buf := make([]byte, 256)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read reply: %w", err)
		}
	}
}

// ChatStream sends req over the websocket endpoint and calls onToken for each
// streamed chunk. Return an error from onToken to abort.
func (c *Client) ChatStream(ctx context.Context, req models.ChatRequest, onToken func(token string) error) error {
	wsEndpoint := strings.Replace(c.endpoint, "http://", "ws://", 1)
	wsEndpoint = strings.Replace(wsEndpoint, "https://", "wss://", 1)
	u, err := url.Parse(wsEndpoint + "/api/chat/ws")
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("websocket connect: %w", err)
	}

	var once sync.Once
	closeConn := func() { once.Do(func() { conn.Close() }) }
	defer closeConn()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	for {
		var ev models.StreamEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read message: %w", err)
		}
		if ev.Error != nil {
			return fmt.Errorf("stream error: %s", *ev.Error)
		}
		if ev.Token != "" {
			if err := onToken(ev.Token); err != nil {
				return err
			}
		}
		if ev.Done {
			return nil
		}
	}
}

// StartIngest starts a background ingestion of path on the server host.
func (c *Client) StartIngest(ctx context.Context, path string) (*Job, error) {
	var job Job
	if err := c.doJSON(ctx, http.MethodPost, "/api/ingest", map[string]string{"path": path}, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob fetches one job.
func (c *Client) GetJob(ctx context.Context, id string) (*Job, error) {
	var job Job
	if err := c.doJSON(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs lists all jobs, most recent first.
func (c *Client) ListJobs(ctx context.Context) ([]Job, error) {
	var jobs []Job
	if err := c.doJSON(ctx, http.MethodGet, "/api/jobs", nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// WaitJob polls a job until it finishes, calling onUpdate after every poll.
func (c *Client) WaitJob(ctx context.Context, id string, interval time.Duration, onUpdate func(Job)) (*Job, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := c.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if onUpdate != nil {
			onUpdate(*job)
		}
		if job.Done() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Wipe deletes every memory of the server's agent.
func (c *Client) Wipe(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/wipe", nil, nil)
}

// Summary returns the agent summary, regenerated when refresh is set.
func (c *Client) Summary(ctx context.Context, refresh bool) (string, error) {
	var body struct {
		Summary string `json:"summary"`
	}
	path := "/api/summary"
	if refresh {
		path += "?refresh=true"
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &body); err != nil {
		return "", err
	}
	return body.Summary, nil
}

// Stats returns the server's runtime metrics.
func (c *Client) Stats(ctx context.Context) (*metrics.Snapshot, error) {
	var snap metrics.Snapshot
	if err := c.doJSON(ctx, http.MethodGet, "/api/metrics", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
