package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/raphaelgruber/mindstream/internal/models"
)

const (
	metaSource       = "source"
	metaImportance   = "importance"
	metaCreatedAt    = "created_at"
	metaLastAccessed = "last_accessed_at"
	metaExtra        = "metadata"
)

// ChromemStore keeps memories in an embedded chromem-go collection.
type ChromemStore struct {
	db        *chromem.DB
	name      string
	dimension int

	mu  sync.RWMutex
	col *chromem.Collection
}

// NewChromemStore opens a collection. An empty dir keeps everything in memory;
// otherwise the collection is persisted under dir.
func NewChromemStore(dir, collection string, dimension int) (*ChromemStore, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", dimension)
	}
	var (
		db  *chromem.DB
		err error
	)
	if dir == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(dir, false)
		if err != nil {
			return nil, fmt.Errorf("open chromem db: %w", err)
		}
	}

	col, err := db.GetOrCreateCollection(collection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	return &ChromemStore{db: db, name: collection, dimension: dimension, col: col}, nil
}

func (s *ChromemStore) collection() *chromem.Collection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.col
}

// Put stores m, replacing any document with the same ID.
func (s *ChromemStore) Put(ctx context.Context, m models.Memory) error {
	if len(m.Embedding) == 0 {
		return fmt.Errorf("put %s: missing embedding", m.ID)
	}
	doc, err := toDocument(m)
	if err != nil {
		return err
	}
	col := s.collection()
	if _, err := col.GetByID(ctx, m.ID); err == nil {
		if err := col.Delete(ctx, nil, nil, m.ID); err != nil {
			return fmt.Errorf("replace %s: %w", m.ID, err)
		}
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// DeleteByIDs removes the given memories. Unknown IDs are ignored.
func (s *ChromemStore) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	col := s.collection()
	var existing []string
	for _, id := range ids {
		if _, err := col.GetByID(ctx, id); err == nil {
			existing = append(existing, id)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := col.Delete(ctx, nil, nil, existing...); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	return nil
}

// SimilaritySearch queries the collection. chromem rejects nResults above the
// collection size, so topN is clamped to Count.
func (s *ChromemStore) SimilaritySearch(ctx context.Context, embedding []float32, topN int) ([]Candidate, error) {
	col := s.collection()
	n := min(topN, col.Count())
	if n <= 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, embedding, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	candidates := make([]Candidate, 0, len(results))
	for _, r := range results {
		m, err := fromDocument(r.ID, r.Content, r.Metadata, r.Embedding)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, Candidate{Memory: m, Similarity: NormalizeCosine(float64(r.Similarity))})
	}
	return candidates, nil
}

// ListAll returns every stored memory.
// chromem has no scan API, so this queries with a basis vector for Count results.
func (s *ChromemStore) ListAll(ctx context.Context) ([]models.Memory, error) {
	col := s.collection()
	n := col.Count()
	if n == 0 {
		return nil, nil
	}

	probe := make([]float32, s.dimension)
	probe[0] = 1
	results, err := col.QueryEmbedding(ctx, probe, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	out := make([]models.Memory, 0, len(results))
	for _, r := range results {
		m, err := fromDocument(r.ID, r.Content, r.Metadata, r.Embedding)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// TouchAccessed rewrites the last-accessed timestamp of each memory.
func (s *ChromemStore) TouchAccessed(ctx context.Context, ids []string, at time.Time) error {
	col := s.collection()
	for _, id := range ids {
		doc, err := col.GetByID(ctx, id)
		if err != nil {
			continue
		}
		m, err := fromDocument(doc.ID, doc.Content, doc.Metadata, doc.Embedding)
		if err != nil {
			return err
		}
		m.Touch(at)
		if err := s.Put(ctx, m); err != nil {
			return fmt.Errorf("touch %s: %w", id, err)
		}
	}
	return nil
}

// DeleteAll drops and recreates the collection.
func (s *ChromemStore) DeleteAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.DeleteCollection(s.name); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	col, err := s.db.GetOrCreateCollection(s.name, nil, nil)
	if err != nil {
		return fmt.Errorf("recreate collection: %w", err)
	}
	s.col = col
	return nil
}

// Close is a no-op; persistent collections are written on every change.
func (s *ChromemStore) Close(_ context.Context) error {
	return nil
}

func toDocument(m models.Memory) (chromem.Document, error) {
	extra, err := json.Marshal(m.Metadata)
	if err != nil {
		return chromem.Document{}, fmt.Errorf("marshal metadata: %w", err)
	}
	return chromem.Document{
		ID:      m.ID,
		Content: m.Content,
		Metadata: map[string]string{
			metaSource:       string(m.Source),
			metaImportance:   strconv.FormatFloat(m.Importance, 'f', -1, 64),
			metaCreatedAt:    m.CreatedAt.UTC().Format(time.RFC3339Nano),
			metaLastAccessed: m.LastAccessedAt.UTC().Format(time.RFC3339Nano),
			metaExtra:        string(extra),
		},
		Embedding: m.Embedding,
	}, nil
}

func fromDocument(id, content string, md map[string]string, embedding []float32) (models.Memory, error) {
	m := models.Memory{
		ID:        id,
		Content:   content,
		Source:    models.Source(md[metaSource]),
		Embedding: embedding,
	}

	var err error
	if m.Importance, err = strconv.ParseFloat(md[metaImportance], 64); err != nil {
		return models.Memory{}, fmt.Errorf("decode %s importance: %w", id, err)
	}
	if m.CreatedAt, err = time.Parse(time.RFC3339Nano, md[metaCreatedAt]); err != nil {
		return models.Memory{}, fmt.Errorf("decode %s created_at: %w", id, err)
	}
	if m.LastAccessedAt, err = time.Parse(time.RFC3339Nano, md[metaLastAccessed]); err != nil {
		m.LastAccessedAt = m.CreatedAt
	}
	if raw := md[metaExtra]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &m.Metadata); err != nil {
			return models.Memory{}, fmt.Errorf("decode %s metadata: %w", id, err)
		}
	}
	return m, nil
}
