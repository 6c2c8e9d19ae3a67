package db

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/mindstream/internal/metrics"
	"github.com/raphaelgruber/mindstream/internal/models"
	"github.com/raphaelgruber/mindstream/internal/store"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

var _ store.Store = (*Client)(nil)

// memoryRow is the stored shape of a memory.
type memoryRow struct {
	ID         surrealmodels.RecordID `json:"id"`
	Content    string                 `json:"content"`
	Source     string                 `json:"source"`
	Importance float64                `json:"importance"`
	Embedding  []float32              `json:"embedding,omitempty"`
	Metadata   map[string]any         `json:"metadata,omitempty"`
	Created    time.Time              `json:"created"`
	Accessed   time.Time              `json:"accessed"`
	Similarity *float64               `json:"similarity,omitempty"`
}

func (r memoryRow) toMemory() (models.Memory, error) {
	id, err := models.RecordIDString(r.ID)
	if err != nil {
		return models.Memory{}, err
	}
	m := models.Memory{
		ID:             id,
		Content:        r.Content,
		Source:         models.Source(r.Source),
		Importance:     r.Importance,
		Embedding:      r.Embedding,
		Metadata:       r.Metadata,
		CreatedAt:      r.Created,
		LastAccessedAt: r.Accessed,
	}
	if m.LastAccessedAt.Before(m.CreatedAt) {
		m.LastAccessedAt = m.CreatedAt
	}
	return m, nil
}

func rowsToMemories(rows []memoryRow) ([]models.Memory, error) {
	out := make([]models.Memory, 0, len(rows))
	for _, r := range rows {
		m, err := r.toMemory()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Put upserts a memory by ID.
func (c *Client) Put(ctx context.Context, m models.Memory) error {
	defer c.metrics.Since(metrics.OpStorePut, time.Now())

	if len(m.Embedding) == 0 {
		return fmt.Errorf("put %s: missing embedding", m.ID)
	}
	metadata := m.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	_, err := surrealdb.Query[[]memoryRow](ctx, c.db, `
		UPSERT type::record("memory", $id) SET
			content = $content,
			source = $source,
			importance = $importance,
			embedding = $embedding,
			metadata = $metadata,
			created = type::datetime($created),
			accessed = type::datetime($accessed)
		RETURN NONE
	`, map[string]any{
		"id":         m.ID,
		"content":    m.Content,
		"source":     string(m.Source),
		"importance": m.Importance,
		"embedding":  m.Embedding,
		"metadata":   metadata,
		"created":    m.CreatedAt.UTC().Format(time.RFC3339Nano),
		"accessed":   m.LastAccessedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("put memory: %w", wrapQueryError(err))
	}
	return nil
}

// DeleteByIDs deletes memories by ID. Unknown IDs are ignored.
func (c *Client) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	defer c.metrics.Since(metrics.OpStoreDelete, time.Now())

	_, err := surrealdb.Query[[]memoryRow](ctx, c.db, `
		DELETE memory WHERE record::id(id) IN $ids RETURN BEFORE
	`, map[string]any{"ids": ids})
	if err != nil {
		return fmt.Errorf("delete memories: %w", wrapQueryError(err))
	}
	return nil
}

// SimilaritySearch runs an HNSW KNN query and returns cosine similarity normalized to [0,1].
func (c *Client) SimilaritySearch(ctx context.Context, embedding []float32, topN int) ([]store.Candidate, error) {
	if topN <= 0 {
		return nil, nil
	}
	defer c.metrics.Since(metrics.OpStoreSearch, time.Now())

	// HNSW with ef=40 for better recall
	sql := fmt.Sprintf(`
		SELECT *, vector::similarity::cosine(embedding, $emb) AS similarity
		FROM memory
		WHERE embedding <|%d,40|> $emb
		ORDER BY similarity DESC
	`, topN)

	results, err := surrealdb.Query[[]memoryRow](ctx, c.db, sql, map[string]any{"emb": embedding})
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}

	rows := (*results)[0].Result
	candidates := make([]store.Candidate, 0, len(rows))
	for _, r := range rows {
		m, err := r.toMemory()
		if err != nil {
			return nil, err
		}
		var sim float64
		if r.Similarity != nil {
			sim = store.NormalizeCosine(*r.Similarity)
		}
		candidates = append(candidates, store.Candidate{Memory: m, Similarity: sim})
	}
	return candidates, nil
}

// ListAll returns every memory ordered by creation time.
func (c *Client) ListAll(ctx context.Context) ([]models.Memory, error) {
	defer c.metrics.Since(metrics.OpStoreList, time.Now())

	results, err := surrealdb.Query[[]memoryRow](ctx, c.db, `
		SELECT * FROM memory ORDER BY created ASC
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	return rowsToMemories((*results)[0].Result)
}

// TouchAccessed advances accessed to at. It never moves backwards and never
// precedes created.
func (c *Client) TouchAccessed(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := surrealdb.Query[any](ctx, c.db, `
		LET $at = type::datetime($ts);
		UPDATE memory SET
			accessed = IF $at > accessed AND $at > created THEN $at
				ELSE IF accessed > created THEN accessed
				ELSE created END
		WHERE record::id(id) IN $ids
		RETURN NONE;
	`, map[string]any{
		"ids": ids,
		"ts":  at.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("touch memories: %w", wrapQueryError(err))
	}
	return nil
}

// DeleteAll removes every memory while preserving the schema.
func (c *Client) DeleteAll(ctx context.Context) error {
	c.logger.Warn("wiping all memories from database")
	if _, err := surrealdb.Query[any](ctx, c.db, `DELETE memory`, nil); err != nil {
		return fmt.Errorf("delete all: %w", wrapQueryError(err))
	}
	return nil
}
