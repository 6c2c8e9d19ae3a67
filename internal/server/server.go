// Package server exposes the agent over HTTP and websocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/mindstream/internal/memory"
	"github.com/raphaelgruber/mindstream/internal/metrics"
	"github.com/raphaelgruber/mindstream/internal/models"
	"github.com/raphaelgruber/mindstream/internal/service"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// InvalidMessagesMessage is returned when a chat request carries no usable message.
const InvalidMessagesMessage = "You must provide a valid array of messages parameter."

// DefaultStreamDelay is the pause between streamed characters.
const DefaultStreamDelay = 5 * time.Millisecond

// Engine is what the server needs from the agent.
type Engine interface {
	Respond(ctx context.Context, in models.Interaction) (string, error)
	Summary(ctx context.Context, force bool) (string, error)
	Wipe(ctx context.Context) error
	Stats() metrics.Snapshot
}

// Option configures a Server.
type Option func(*Server)

// WithStreamDelay sets the pause between streamed characters. Zero disables it.
func WithStreamDelay(d time.Duration) Option {
	return func(s *Server) {
		if d >= 0 {
			s.streamDelay = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithSlowThreshold sets the duration above which requests are logged at WARN.
func WithSlowThreshold(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.slow = d
		}
	}
}

// Server routes chat, ingestion and admin requests to one agent.
type Server struct {
	engine      Engine
	jobs        *service.JobManager
	streamDelay time.Duration
	slow        time.Duration
	logger      *slog.Logger
	upgrader    websocket.Upgrader
}

// New creates a server. jobs may be nil, which disables the ingestion endpoints.
func New(engine Engine, jobs *service.JobManager, opts ...Option) *Server {
	s := &Server{
		engine:      engine,
		jobs:        jobs,
		streamDelay: DefaultStreamDelay,
		slow:        DefaultSlowRequestThreshold,
		logger:      slog.Default(),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler wrapped in the logging middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/chat/ws", s.handleChatWS)
	mux.HandleFunc("POST /api/ingest", s.handleIngest)
	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("POST /api/wipe", s.handleWipe)
	mux.HandleFunc("GET /api/summary", s.handleSummary)
	mux.HandleFunc("GET /api/metrics", s.handleMetrics)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	return LoggingMiddleware(s.logger, s.slow)(mux)
}

type errorBody struct {
	Message string `json:"message"`
}

func readBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Message: msg})
}

// statusFor maps engine errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, memory.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, memory.ErrAdapterFailure):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// parseChat decodes and validates a chat request. The returned message is
// empty when the request is usable.
func parseChat(data []byte) (models.Interaction, string) {
	var req models.ChatRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return models.Interaction{}, InvalidMessagesMessage
	}
	in, ok := req.Interaction()
	if !ok {
		return models.Interaction{}, InvalidMessagesMessage
	}
	if _, ok := in.Text(); !ok {
		return models.Interaction{}, InvalidMessagesMessage
	}
	return in, ""
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, InvalidMessagesMessage)
		return
	}
	in, msg := parseChat(body)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	reply, err := s.engine.Respond(r.Context(), in)
	if err != nil {
		s.logger.Error("chat failed", "request_id", RequestID(r.Context()), "kind", in.Kind, "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	for _, ch := range reply {
		if _, err := w.Write([]byte(string(ch))); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		if !s.pause(r.Context()) {
			return
		}
	}
}

// pause waits for the stream delay. It reports false when ctx ends first.
func (s *Server) pause(ctx context.Context) bool {
	if s.streamDelay <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(s.streamDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// handleChatWS answers one chat request per inbound frame until the client disconnects.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read ended", "error", err)
			}
			return
		}

		in, msg := parseChat(data)
		if msg == "" {
			var reply string
			reply, err = s.engine.Respond(ctx, in)
			if err != nil {
				msg = err.Error()
				s.logger.Error("chat failed", "request_id", RequestID(ctx), "kind", in.Kind, "error", err)
			} else if !s.streamWS(ctx, conn, reply) {
				return
			}
		}
		if msg != "" {
			if err := conn.WriteJSON(models.StreamEvent{Done: true, Error: &msg}); err != nil {
				return
			}
		}
	}
}

func (s *Server) streamWS(ctx context.Context, conn *websocket.Conn, reply string) bool {
	for _, ch := range reply {
		if err := conn.WriteJSON(models.StreamEvent{Token: string(ch)}); err != nil {
			return false
		}
		if !s.pause(ctx) {
			return false
		}
	}
	return conn.WriteJSON(models.StreamEvent{Done: true}) == nil
}

type ingestRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "ingestion is disabled")
		return
	}
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Path) == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	job := s.jobs.Start(r.Context(), req.Path)
	writeJSON(w, http.StatusAccepted, snapshotOf(job))
}

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	out := []*service.Job{}
	if s.jobs != nil {
		for _, j := range s.jobs.ListJobs() {
			out = append(out, snapshotOf(j))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	var job *service.Job
	if s.jobs != nil {
		job = s.jobs.GetJob(r.PathValue("id"))
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, snapshotOf(job))
}

func snapshotOf(j *service.Job) *service.Job {
	snap := j.Snapshot()
	return &snap
}

func (s *Server) handleWipe(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Wipe(r.Context()); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"wiped": true})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	summary, err := s.engine.Summary(r.Context(), force)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"summary": summary})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Stats())
}
