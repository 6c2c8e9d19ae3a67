package embedding

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// CachedEmbedder memoizes vectors by text in front of another Embedder.
// Reflection and dialogue re-embed the same queries often, so hits are common.
type CachedEmbedder struct {
	next  Embedder
	cache *ristretto.Cache
}

var _ Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder wraps next with a cache holding up to size vectors.
func NewCachedEmbedder(next Embedder, size int64) (*CachedEmbedder, error) {
	if size <= 0 {
		return nil, fmt.Errorf("cache size must be positive, got %d", size)
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: size * 10,
		MaxCost:     size,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &CachedEmbedder{next: next, cache: cache}, nil
}

func (c *CachedEmbedder) key(text string) string {
	return c.next.Model() + "\x00" + text
}

func (c *CachedEmbedder) lookup(text string) ([]float32, bool) {
	v, ok := c.cache.Get(c.key(text))
	if !ok {
		return nil, false
	}
	vec, ok := v.([]float32)
	return vec, ok
}

// Embed returns a cached vector or computes and stores one.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := c.lookup(text); ok {
		return vec, nil
	}
	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(c.key(text), vec, 1)
	return vec, nil
}

// EmbedBatch only sends cache misses to the wrapped embedder.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var (
		missing []string
		slots   []int
	)
	for i, t := range texts {
		if vec, ok := c.lookup(t); ok {
			out[i] = vec
			continue
		}
		missing = append(missing, t)
		slots = append(slots, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := c.next.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missing) {
		return nil, fmt.Errorf("count mismatch: got %d, want %d", len(vecs), len(missing))
	}
	for j, vec := range vecs {
		out[slots[j]] = vec
		c.cache.Set(c.key(missing[j]), vec, 1)
	}
	return out, nil
}

// Wait blocks until pending cache writes are visible.
func (c *CachedEmbedder) Wait() { c.cache.Wait() }

// Close releases the cache.
func (c *CachedEmbedder) Close() { c.cache.Close() }

// Model returns the wrapped model name.
func (c *CachedEmbedder) Model() string { return c.next.Model() }

// Dimension returns the wrapped dimension.
func (c *CachedEmbedder) Dimension() int { return c.next.Dimension() }
