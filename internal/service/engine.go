// Package service wires the memory engine together from configuration.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/mindstream/internal/agent"
	"github.com/raphaelgruber/mindstream/internal/config"
	"github.com/raphaelgruber/mindstream/internal/db"
	"github.com/raphaelgruber/mindstream/internal/embedding"
	"github.com/raphaelgruber/mindstream/internal/ingest"
	"github.com/raphaelgruber/mindstream/internal/llm"
	"github.com/raphaelgruber/mindstream/internal/memory"
	"github.com/raphaelgruber/mindstream/internal/metrics"
	"github.com/raphaelgruber/mindstream/internal/models"
	"github.com/raphaelgruber/mindstream/internal/store"
)

// Engine is one agent with its adapters.
type Engine struct {
	Config   config.Config
	Store    store.Store
	Embedder embedding.Embedder
	LLM      llm.Generator
	Memory   *memory.Memory
	Agent    *agent.Controller
	Pipeline *ingest.Pipeline
	Metrics  *metrics.Collector

	logger *slog.Logger
	now    func() time.Time
}

// Components lets callers supply adapters instead of building them from config.
// Nil fields are built from config.
type Components struct {
	Store    store.Store
	Embedder embedding.Embedder
	LLM      llm.Generator
	Clock    func() time.Time
}

// NewEngine builds the adapters from cfg and loads the memory stream from the store.
func NewEngine(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Engine, error) {
	return NewEngineWith(ctx, cfg, logger, Components{})
}

// NewEngineWith is NewEngine with injectable adapters.
func NewEngineWith(ctx context.Context, cfg config.Config, logger *slog.Logger, c Components) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	mc := metrics.NewCollector()

	var err error
	if c.Embedder == nil {
		if c.Embedder, err = llm.NewEmbedderFromConfig(cfg, mc); err != nil {
			return nil, fmt.Errorf("create embedder: %w", err)
		}
	}
	if c.LLM == nil {
		if c.LLM, err = llm.NewGenerator(ctx, cfg, mc); err != nil {
			return nil, fmt.Errorf("create llm: %w", err)
		}
	}
	if c.Store == nil {
		if c.Store, err = OpenStore(ctx, cfg, c.Embedder.Dimension(), logger, mc); err != nil {
			return nil, err
		}
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}

	mem := memory.New(c.Store, c.Embedder, c.LLM, memory.ConfigFrom(cfg.Memory),
		memory.WithClock(c.Clock),
		memory.WithLogger(logger),
		memory.WithMetrics(mc),
	)
	if err := mem.Load(ctx); err != nil {
		c.Store.Close(ctx)
		return nil, err
	}

	e := &Engine{
		Config:   cfg,
		Store:    c.Store,
		Embedder: c.Embedder,
		LLM:      c.LLM,
		Memory:   mem,
		Agent: agent.New(agent.PersonaFrom(cfg.Agent), mem, c.LLM,
			agent.WithRecallK(cfg.Memory.K),
			agent.WithSummaryRefresh(cfg.Memory.SummaryRefresh),
			agent.WithLogger(logger),
		),
		Pipeline: ingest.New(mem,
			ingest.WithClock(c.Clock),
			ingest.WithLogger(logger),
			ingest.WithMetrics(mc),
		),
		Metrics: mc,
		logger:  logger,
		now:     c.Clock,
	}
	return e, nil
}

// OpenStore opens the backend selected by cfg.Store.Backend.
func OpenStore(ctx context.Context, cfg config.Config, dimension int, logger *slog.Logger, mc *metrics.Collector) (store.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendSurreal:
		client, err := db.NewClient(ctx, db.Config{
			URL:       cfg.SurrealDB.URL,
			Namespace: cfg.SurrealDB.Namespace,
			Database:  cfg.SurrealDB.Database,
			Username:  cfg.SurrealDB.User,
			Password:  cfg.SurrealDB.Pass,
			AuthLevel: cfg.SurrealDB.AuthLevel,
			Dimension: dimension,
		}, logger, mc)
		if err != nil {
			return nil, fmt.Errorf("open surrealdb store: %w", err)
		}
		return client, nil

	case config.BackendSQLite:
		s, err := store.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil

	case config.BackendChromem:
		s, err := store.NewChromemStore(cfg.Store.Path, cfg.Store.Collection, dimension)
		if err != nil {
			return nil, fmt.Errorf("open chromem store: %w", err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("unsupported store backend: %s", cfg.Store.Backend)
}

// Respond answers one interaction as of now.
func (e *Engine) Respond(ctx context.Context, in models.Interaction) (string, error) {
	return e.Agent.Respond(ctx, in, e.now())
}

// Summary returns the agent summary, regenerated when force is set or stale.
func (e *Engine) Summary(ctx context.Context, force bool) (string, error) {
	return e.Agent.Summary(ctx, e.now(), force)
}

// Recall returns the k best memories for query.
func (e *Engine) Recall(ctx context.Context, query string, k int) ([]memory.Scored, error) {
	if k <= 0 {
		k = e.Config.Memory.K
	}
	return e.Memory.Recall(ctx, query, k)
}

// Ingest loads records from path and merges them with the configured core memories.
func (e *Engine) Ingest(ctx context.Context, path string, progress ingest.ProgressFunc) (ingest.Result, error) {
	src, err := ingest.SourceFor(path)
	if err != nil {
		return ingest.Result{}, err
	}
	records, err := src.Load(ctx)
	if err != nil {
		return ingest.Result{}, fmt.Errorf("load records: %w", err)
	}
	e.logger.Info("records loaded", "path", path, "count", len(records))
	return e.Pipeline.Ingest(ctx, records, e.Config.Agent.CoreMemories, progress)
}

// Wipe deletes every memory of the agent.
func (e *Engine) Wipe(ctx context.Context) error {
	e.logger.Warn("wiping agent memory", "agent", e.Config.Agent.Name)
	return e.Memory.Reset(ctx)
}

// Close releases the store.
func (e *Engine) Close(ctx context.Context) error {
	if c, ok := e.Embedder.(*embedding.CachedEmbedder); ok {
		c.Close()
	}
	return e.Store.Close(ctx)
}

// Stats returns the runtime metrics snapshot.
func (e *Engine) Stats() metrics.Snapshot {
	return e.Metrics.Snapshot()
}
