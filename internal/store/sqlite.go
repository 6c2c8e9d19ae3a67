package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/raphaelgruber/mindstream/internal/models"
)

// SQLiteStore keeps memories in a SQLite file and ranks by brute-force cosine.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS memories (
		id               TEXT PRIMARY KEY,
		content          TEXT NOT NULL,
		source           TEXT NOT NULL,
		importance       REAL NOT NULL,
		created_at       TEXT NOT NULL,
		last_accessed_at TEXT NOT NULL,
		metadata         TEXT,
		embedding        BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_memories_source ON memories(source);
	CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at);
	`)
	return err
}

// Put inserts or replaces m.
func (s *SQLiteStore) Put(ctx context.Context, m models.Memory) error {
	if len(m.Embedding) == 0 {
		return fmt.Errorf("put %s: missing embedding", m.ID)
	}
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO memories (id, content, source, importance, created_at, last_accessed_at, metadata, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Content, string(m.Source), m.Importance,
		formatTime(m.CreatedAt), formatTime(m.LastAccessedAt),
		string(meta), encodeVector(m.Embedding),
	)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// DeleteByIDs removes the given memories in one statement.
func (s *SQLiteStore) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("delete memories: %w", err)
	}
	return nil
}

// SimilaritySearch scores every row against embedding.
func (s *SQLiteStore) SimilaritySearch(ctx context.Context, embedding []float32, topN int) ([]Candidate, error) {
	if topN <= 0 {
		return nil, nil
	}
	all, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(all))
	for _, m := range all {
		candidates = append(candidates, Candidate{
			Memory:     m,
			Similarity: NormalizeCosine(CosineSimilarity(embedding, m.Embedding)),
		})
	}
	slices.SortStableFunc(candidates, func(a, b Candidate) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
			return 1
		}
		return 0
	})
	if len(candidates) > topN {
		candidates = candidates[:topN]
	}
	return candidates, nil
}

// ListAll returns every stored memory ordered by creation time.
func (s *SQLiteStore) ListAll(ctx context.Context) ([]models.Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, source, importance, created_at, last_accessed_at, metadata, embedding
		FROM memories ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var out []models.Memory
	for rows.Next() {
		var (
			m                    models.Memory
			source, created, acc string
			meta                 sql.NullString
			blob                 []byte
		)
		if err := rows.Scan(&m.ID, &m.Content, &source, &m.Importance, &created, &acc, &meta, &blob); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		m.Source = models.Source(source)
		if m.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("parse created_at of %s: %w", m.ID, err)
		}
		if m.LastAccessedAt, err = time.Parse(time.RFC3339Nano, acc); err != nil {
			m.LastAccessedAt = m.CreatedAt
		}
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &m.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of %s: %w", m.ID, err)
			}
		}
		m.Embedding = decodeVector(blob)
		out = append(out, m)
	}
	return out, rows.Err()
}

// TouchAccessed advances last_accessed_at to at. It never moves backwards
// and never precedes created_at.
func (s *SQLiteStore) TouchAccessed(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	ts := formatTime(at)
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`UPDATE memories SET last_accessed_at = MAX(created_at, last_accessed_at, ?) WHERE id = ?`, ts, id); err != nil {
			return fmt.Errorf("touch %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// DeleteAll removes every memory.
func (s *SQLiteStore) DeleteAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memories`); err != nil {
		return fmt.Errorf("delete all: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close(_ context.Context) error {
	return s.db.Close()
}

// formatTime uses a fixed-width layout so text comparison matches time order.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
