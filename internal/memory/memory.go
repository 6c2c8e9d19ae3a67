package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raphaelgruber/mindstream/internal/config"
	"github.com/raphaelgruber/mindstream/internal/embedding"
	"github.com/raphaelgruber/mindstream/internal/llm"
	"github.com/raphaelgruber/mindstream/internal/metrics"
	"github.com/raphaelgruber/mindstream/internal/models"
	"github.com/raphaelgruber/mindstream/internal/store"
)

// Config holds the retrieval and reflection tunables.
type Config struct {
	HalfLife            time.Duration
	TopN                int
	ImportanceWeight    float64
	ReflectionThreshold float64
	ReflectionWindow    int
	EvidenceK           int
}

// DefaultConfig returns the stock tunables.
func DefaultConfig() Config {
	return Config{
		HalfLife:            DefaultHalfLife,
		TopN:                DefaultTopN,
		ImportanceWeight:    1,
		ReflectionThreshold: DefaultReflectionThreshold,
		ReflectionWindow:    DefaultReflectionWindow,
		EvidenceK:           DefaultEvidenceK,
	}
}

// ConfigFrom maps the loaded configuration onto memory tunables.
// Zero values fall back to the defaults.
func ConfigFrom(c config.MemoryConfig) Config {
	cfg := DefaultConfig()
	if c.HalfLife > 0 {
		cfg.HalfLife = c.HalfLife
	}
	if c.TopN > 0 {
		cfg.TopN = c.TopN
	}
	if c.ImportanceWeight > 0 {
		cfg.ImportanceWeight = c.ImportanceWeight
	}
	if c.ReflectionThreshold > 0 {
		cfg.ReflectionThreshold = c.ReflectionThreshold
	}
	if c.ReflectionWindow > 0 {
		cfg.ReflectionWindow = c.ReflectionWindow
	}
	if c.EvidenceK > 0 {
		cfg.EvidenceK = c.EvidenceK
	}
	return cfg
}

// Option configures a Memory.
type Option func(*Memory)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Memory) { m.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(mc *metrics.Collector) Option {
	return func(m *Memory) { m.metrics = mc }
}

// Memory is one agent's memory. All mutating operations and retrieval
// (which writes back access times) run under a single per-agent lock.
type Memory struct {
	mu sync.Mutex

	store     store.Store
	stream    *Stream
	retriever *Retriever
	scorer    *Scorer
	reflector *Reflector

	acc         Accumulator
	reflecting  bool
	reflections int
	state       atomic.Int32

	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Collector
}

// New wires a memory over the given adapters.
func New(st store.Store, emb embedding.Embedder, gen llm.Generator, cfg Config, opts ...Option) *Memory {
	m := &Memory{
		store:  st,
		stream: NewStream(st),
		acc:    Accumulator{Threshold: cfg.ReflectionThreshold},
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.scorer = NewScorer(gen, m.logger, m.metrics)
	m.retriever = &Retriever{
		stream:   m.stream,
		store:    st,
		embedder: emb,
		halfLife: cfg.HalfLife,
		topN:     cfg.TopN,
		weights:  map[string]float64{KeyImportance: cfg.ImportanceWeight},
		now:      m.now,
		logger:   m.logger,
		metrics:  m.metrics,
	}
	m.reflector = &Reflector{
		llm:       gen,
		stream:    m.stream,
		retriever: m.retriever,
		window:    cfg.ReflectionWindow,
		evidenceK: cfg.EvidenceK,
		logger:    m.logger,
		metrics:   m.metrics,
	}
	return m
}

// Load replaces the stream with everything in the store.
func (m *Memory) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	all, err := m.store.ListAll(ctx)
	if err != nil {
		return adapterFailure("load memories", err)
	}
	m.stream.Initialize(all)
	m.logger.Info("memory stream loaded", "count", len(all))
	return nil
}

// Add scores, stores and accumulates a new memory, reflecting when the
// accumulated importance crosses the threshold.
func (m *Memory) Add(ctx context.Context, content string, createdAt time.Time, source models.Source, metadata map[string]any) (models.Memory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.add(ctx, content, createdAt, source, metadata)
}

// Caller must hold m.mu.
func (m *Memory) add(ctx context.Context, content string, createdAt time.Time, source models.Source, metadata map[string]any) (models.Memory, error) {
	if !source.Valid() {
		return models.Memory{}, fmt.Errorf("%w: unknown source %q", ErrInvalidRequest, source)
	}
	if err := ctx.Err(); err != nil {
		return models.Memory{}, err
	}

	importance := m.scorer.Score(ctx, content)
	rec := models.NewMemory(content, createdAt, source, importance, metadata)

	vec, err := m.retriever.embedder.Embed(ctx, content)
	if err != nil {
		return models.Memory{}, adapterFailure("embed memory", err)
	}
	rec.Embedding = vec

	if err := m.stream.Append(ctx, rec); err != nil {
		return models.Memory{}, err
	}
	m.metrics.Incr(metrics.CountMemoriesAdded)
	m.logger.Debug("memory added", "id", rec.ID, "source", rec.Source, "importance", rec.Importance)

	// A pass's own insights neither accumulate nor trigger another pass.
	if !m.reflecting {
		next, fire := Accumulate(m.acc, importance)
		m.acc = next
		if fire {
			m.reflect(ctx, createdAt)
		}
		m.syncState()
	}

	rec.Embedding = nil
	return rec, nil
}

// reflect runs a single reflection pass. On failure the accumulator is left
// at or above the threshold so the next add retries.
//
// Caller must hold m.mu.
func (m *Memory) reflect(ctx context.Context, now time.Time) {
	m.reflecting = true
	m.state.Store(int32(StateReflecting))
	defer func() { m.reflecting = false }()

	insights, err := m.reflector.Reflect(ctx, now)
	if err != nil {
		m.metrics.Incr(metrics.CountReflectionFailures)
		m.logger.Warn("reflection failed", "accumulated", m.acc.Value, "error", err)
		return
	}

	for _, in := range insights {
		md := map[string]any{models.MetaEvidence: in.Evidence}
		if _, err := m.add(ctx, in.Content, now, models.SourceReflection, md); err != nil {
			m.metrics.Incr(metrics.CountReflectionFailures)
			m.logger.Warn("store reflection failed", "error", err)
			return
		}
	}

	m.acc = AfterReflection(m.acc)
	m.reflections++
	m.metrics.Incr(metrics.CountReflections)
	m.logger.Info("reflection stored", "insights", len(insights), "carry", m.acc.Value)
}

// Caller must hold m.mu.
func (m *Memory) syncState() {
	switch {
	case m.reflecting:
		m.state.Store(int32(StateReflecting))
	case m.acc.Value > 0:
		m.state.Store(int32(StateAccumulating))
	default:
		m.state.Store(int32(StateIdle))
	}
}

// Recall returns up to k memories ranked by similarity, recency and importance.
func (m *Memory) Recall(ctx context.Context, query string, k int) ([]Scored, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retriever.Retrieve(ctx, query, k, []string{KeyImportance})
}

// Recent returns the last n memories in stream order.
func (m *Memory) Recent(n int) []models.Memory {
	return m.stream.Recent(n)
}

// Len returns the size of the stream.
func (m *Memory) Len() int {
	return m.stream.Len()
}

// Snapshot returns every memory in stream order.
func (m *Memory) Snapshot() []models.Memory {
	return m.stream.Snapshot()
}

// State returns the reflection state. Safe to call while another operation holds the lock.
func (m *Memory) State() State {
	return State(m.state.Load())
}

// Accumulator returns the current reflection accumulator.
func (m *Memory) Accumulator() Accumulator {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acc
}

// Reset deletes every stored memory and clears the stream and accumulator.
func (m *Memory) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.DeleteAll(ctx); err != nil {
		return adapterFailure("reset store", err)
	}
	m.stream.Reset()
	m.acc.Value = 0
	m.syncState()
	return nil
}

// Exclusive runs fn with the per-agent lock held, for multi-step
// operations such as ingestion that must not interleave with dialogue.
func (m *Memory) Exclusive(fn func(tx *Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&Tx{m: m})
}

// Tx exposes lock-free operations inside Exclusive.
type Tx struct {
	m *Memory
}

// Add is Memory.Add without locking.
func (tx *Tx) Add(ctx context.Context, content string, createdAt time.Time, source models.Source, metadata map[string]any) (models.Memory, error) {
	return tx.m.add(ctx, content, createdAt, source, metadata)
}

// Recall is Memory.Recall without locking.
func (tx *Tx) Recall(ctx context.Context, query string, k int) ([]Scored, error) {
	return tx.m.retriever.Retrieve(ctx, query, k, []string{KeyImportance})
}

// Stream returns the working set.
func (tx *Tx) Stream() *Stream {
	return tx.m.stream
}

// Store returns the backing store.
func (tx *Tx) Store() store.Store {
	return tx.m.store
}

// Reflections returns the number of completed reflection passes.
func (tx *Tx) Reflections() int {
	return tx.m.reflections
}

// Accumulator returns the reflection accumulator.
func (tx *Tx) Accumulator() Accumulator {
	return tx.m.acc
}
