package memory

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/raphaelgruber/mindstream/internal/embedding"
	"github.com/raphaelgruber/mindstream/internal/metrics"
	"github.com/raphaelgruber/mindstream/internal/models"
	"github.com/raphaelgruber/mindstream/internal/store"
)

// KeyImportance is the extra scoring key backed by Memory.Importance.
const KeyImportance = "importance"

// DefaultTopN is the number of similarity candidates fetched per query.
const DefaultTopN = 100

// Scored is a retrieved memory with its score components.
type Scored struct {
	Memory     models.Memory `json:"memory"`
	Similarity float64       `json:"similarity"`
	Recency    float64       `json:"recency"`
	Score      float64       `json:"score"`
}

// Retriever ranks stream memories by similarity, recency and extra keys.
type Retriever struct {
	stream   *Stream
	store    store.Store
	embedder embedding.Embedder

	halfLife time.Duration
	topN     int
	weights  map[string]float64

	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Collector
}

// Retrieve ranks memories against query as of the retriever's clock.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int, extraKeys []string) ([]Scored, error) {
	return r.RetrieveAt(ctx, query, r.now(), k, extraKeys)
}

// RetrieveAt ranks memories against query as of now and marks the
// returned memories as accessed at now. Memories created after now are not
// candidates, so a backdated retrieval only sees what existed at that time.
func (r *Retriever) RetrieveAt(ctx context.Context, query string, now time.Time, k int, extraKeys []string) ([]Scored, error) {
	if k <= 0 || r.stream.Len() == 0 {
		return nil, nil
	}
	defer r.metrics.Since(metrics.OpRetrieve, time.Now())

	emb, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, adapterFailure("embed query", err)
	}

	candidates, err := r.store.SimilaritySearch(ctx, emb, max(r.topN, k))
	if err != nil {
		return nil, adapterFailure("similarity search", err)
	}

	similarity := make(map[string]float64, len(candidates)+k)
	var pool []models.Memory
	for _, c := range candidates {
		// The stream is authoritative: anything the store still indexes
		// but the stream dropped is not retrievable.
		m, ok := r.stream.Get(c.Memory.ID)
		if !ok || m.CreatedAt.After(now) {
			continue
		}
		if _, dup := similarity[m.ID]; dup {
			continue
		}
		similarity[m.ID] = c.Similarity
		pool = append(pool, m)
	}
	for _, m := range r.stream.Recent(k) {
		if _, ok := similarity[m.ID]; ok || m.CreatedAt.After(now) {
			continue
		}
		similarity[m.ID] = 0
		pool = append(pool, m)
	}

	scored := make([]Scored, 0, len(pool))
	for _, m := range pool {
		scored = append(scored, r.score(m, similarity[m.ID], now, extraKeys))
	}
	slices.SortStableFunc(scored, func(a, b Scored) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return b.Memory.CreatedAt.Compare(a.Memory.CreatedAt)
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	if len(scored) == 0 {
		return nil, nil
	}

	ids := make([]string, len(scored))
	for i, s := range scored {
		ids[i] = s.Memory.ID
	}
	touched := r.stream.touch(ids, now)
	for i := range scored {
		if i < len(touched) && touched[i].ID == scored[i].Memory.ID {
			scored[i].Memory = touched[i]
		}
	}
	if err := r.store.TouchAccessed(ctx, ids, now); err != nil {
		r.logger.Warn("persist last access failed", "count", len(ids), "error", err)
	}

	return scored, nil
}

func (r *Retriever) score(m models.Memory, similarity float64, now time.Time, extraKeys []string) Scored {
	recency := Decay(now.Sub(m.LastAccessedAt), r.halfLife)
	s := Scored{
		Memory:     m,
		Similarity: similarity,
		Recency:    recency,
		Score:      similarity * recency,
	}
	for _, key := range extraKeys {
		s.Score += r.weight(key) * normalized(m, key)
	}
	return s
}

func (r *Retriever) weight(key string) float64 {
	if w, ok := r.weights[key]; ok {
		return w
	}
	return 1
}

// normalized returns the [0,1] value of an extra scoring key. Unknown keys score 0.
func normalized(m models.Memory, key string) float64 {
	switch key {
	case KeyImportance:
		return models.ClampImportance(m.Importance)
	}
	return 0
}
