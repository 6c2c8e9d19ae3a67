package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cosineSimilarity calculates cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func TestHashEmbedderDeterministic(t *testing.T) {
	e := NewHashEmbedder(64)
	ctx := context.Background()

	a, err := e.Embed(ctx, "Went to the farmers market")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "Went to the farmers market")
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.Equal(t, a, b)
	assert.InDelta(t, 1.0, cosineSimilarity(a, a), 1e-5)
}

func TestHashEmbedderSimilarity(t *testing.T) {
	e := NewHashEmbedder(256)
	ctx := context.Background()

	base, _ := e.Embed(ctx, "played zelda video games all evening")
	related, _ := e.Embed(ctx, "played more zelda video games")
	unrelated, _ := e.Embed(ctx, "filed quarterly tax paperwork")

	assert.Greater(t, cosineSimilarity(base, related), cosineSimilarity(base, unrelated))
}

func TestHashEmbedderBatch(t *testing.T) {
	e := NewHashEmbedder(16)
	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Len(t, vecs, 3)
	assert.Equal(t, "hash", e.Model())
	assert.Equal(t, 16, e.Dimension())
}

// countingEmbedder counts calls to the wrapped embedder.
type countingEmbedder struct {
	*HashEmbedder
	calls atomic.Int64
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	return c.HashEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(int64(len(texts)))
	return c.HashEmbedder.EmbedBatch(ctx, texts)
}

func TestCachedEmbedder(t *testing.T) {
	inner := &countingEmbedder{HashEmbedder: NewHashEmbedder(8)}
	cached, err := NewCachedEmbedder(inner, 100)
	require.NoError(t, err)
	defer cached.Close()

	ctx := context.Background()
	first, err := cached.Embed(ctx, "hello")
	require.NoError(t, err)
	cached.Wait()

	second, err := cached.Embed(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), inner.calls.Load())

	vecs, err := cached.EmbedBatch(ctx, []string{"hello", "world"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, first, vecs[0])
	assert.Equal(t, int64(2), inner.calls.Load(), "only the miss is embedded")
}

func TestCachedEmbedderInvalidSize(t *testing.T) {
	_, err := NewCachedEmbedder(NewHashEmbedder(8), 0)
	assert.Error(t, err)
}

func TestVoyageClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req voyageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := map[string]any{"data": []map[string]any{}}
		data := []map[string]any{}
		// Return out of order to exercise index mapping.
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]any{"index": i, "embedding": []float32{float32(i), 1, 0}})
		}
		resp["data"] = data
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c, err := NewVoyageClient("key", "", 3)
	require.NoError(t, err)
	c.WithEndpoint(srv.URL)

	vecs, err := c.EmbedBatch(context.Background(), []string{"x", "y"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, float32(0), vecs[0][0])
	assert.Equal(t, float32(1), vecs[1][0])
	assert.Equal(t, DefaultVoyageModel, c.Model())
}

func TestVoyageClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := NewVoyageClient("key", "voyage-3", 3)
	require.NoError(t, err)
	c.WithEndpoint(srv.URL)

	_, err = c.Embed(context.Background(), "x")
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	assert.True(t, statusErr.Temporary())
}

func TestNewVoyageClientRequiresKey(t *testing.T) {
	_, err := NewVoyageClient("", "", 0)
	assert.Error(t, err)
}
