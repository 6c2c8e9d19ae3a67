// Package store defines the embedding store contract and its embedded backends.
package store

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/raphaelgruber/mindstream/internal/models"
)

// ErrNotFound is returned when a memory does not exist in the store.
var ErrNotFound = errors.New("memory not found")

// Candidate is a similarity search hit.
type Candidate struct {
	Memory models.Memory
	// Similarity is normalized to [0,1].
	Similarity float64
}

// Store persists memories with their embeddings.
type Store interface {
	Put(ctx context.Context, m models.Memory) error
	DeleteByIDs(ctx context.Context, ids []string) error
	// SimilaritySearch returns at most topN candidates ranked by descending similarity.
	SimilaritySearch(ctx context.Context, embedding []float32, topN int) ([]Candidate, error)
	ListAll(ctx context.Context) ([]models.Memory, error)
	TouchAccessed(ctx context.Context, ids []string, at time.Time) error
	DeleteAll(ctx context.Context) error
	Close(ctx context.Context) error
}

// CosineSimilarity computes the cosine of the angle between a and b.
// Mismatched or zero vectors have similarity 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// NormalizeCosine maps a cosine in [-1,1] to [0,1].
func NormalizeCosine(c float64) float64 {
	v := (c + 1) / 2
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
