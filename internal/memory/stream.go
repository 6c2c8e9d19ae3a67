package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/raphaelgruber/mindstream/internal/models"
	"github.com/raphaelgruber/mindstream/internal/store"
)

// Stream is the in-process working set of memories, kept in append order.
// The store is the source of truth: a record enters the stream only after
// the store accepted it, and the whole set is replaced by Initialize.
type Stream struct {
	store store.Store

	mu      sync.RWMutex
	records []models.Memory
	index   map[string]int
}

// NewStream creates an empty stream backed by st.
func NewStream(st store.Store) *Stream {
	return &Stream{store: st, index: map[string]int{}}
}

// Append persists m and then adds it to the working set.
// Nothing is added when the context is done or the store write fails.
func (s *Stream) Append(ctx context.Context, m models.Memory) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.store.Put(ctx, m); err != nil {
		return adapterFailure("append memory", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, stripped(m))
	s.index[m.ID] = len(s.records) - 1
	return nil
}

// Initialize replaces the working set with records, ordered by CreatedAt.
func (s *Stream) Initialize(records []models.Memory) {
	next := make([]models.Memory, 0, len(records))
	for _, r := range records {
		next = append(next, stripped(r))
	}
	slices.SortStableFunc(next, func(a, b models.Memory) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = next
	s.reindex()
}

// Remove drops ids from the working set. It does not touch the store.
func (s *Stream) Remove(ids ...string) {
	if len(ids) == 0 {
		return
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = slices.DeleteFunc(s.records, func(m models.Memory) bool {
		_, ok := drop[m.ID]
		return ok
	})
	s.reindex()
}

// Reset empties the working set.
func (s *Stream) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	s.index = map[string]int{}
}

// Len returns the number of memories in the stream.
func (s *Stream) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Get returns a copy of the memory with the given id.
func (s *Stream) Get(id string) (models.Memory, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return models.Memory{}, false
	}
	return s.records[i].Clone(), true
}

// Recent returns copies of the last n memories in stream order.
func (s *Stream) Recent(n int) []models.Memory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	start := max(len(s.records)-n, 0)
	return cloneAll(s.records[start:])
}

// Snapshot returns copies of all memories in stream order.
func (s *Stream) Snapshot() []models.Memory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.records)
}

// touch sets LastAccessedAt on the given memories and returns their updated copies.
func (s *Stream) touch(ids []string, at time.Time) []models.Memory {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Memory, 0, len(ids))
	for _, id := range ids {
		i, ok := s.index[id]
		if !ok {
			continue
		}
		s.records[i].Touch(at)
		out = append(out, s.records[i].Clone())
	}
	return out
}

// Caller must hold write lock.
func (s *Stream) reindex() {
	s.index = make(map[string]int, len(s.records))
	for i, m := range s.records {
		s.index[m.ID] = i
	}
}

// stripped drops the embedding; vectors live in the store only.
func stripped(m models.Memory) models.Memory {
	c := m.Clone()
	c.Embedding = nil
	return c
}

func cloneAll(ms []models.Memory) []models.Memory {
	out := make([]models.Memory, len(ms))
	for i, m := range ms {
		out[i] = m.Clone()
	}
	return out
}
