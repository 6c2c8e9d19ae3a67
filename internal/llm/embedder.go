package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/raphaelgruber/mindstream/internal/config"
	"github.com/raphaelgruber/mindstream/internal/embedding"
	"github.com/raphaelgruber/mindstream/internal/metrics"
)

// Embedder wraps langchaingo embeddings with dimension validation.
type Embedder struct {
	model     embeddings.Embedder
	dimension int
	modelName string
	attempts  int
	metrics   *metrics.Collector
}

var _ embedding.Embedder = (*Embedder)(nil)

// NewEmbedder creates an embedder based on configuration.
func NewEmbedder(cfg config.Config, mc *metrics.Collector) (*Embedder, error) {
	var model embeddings.Embedder
	var err error

	switch cfg.Embed.Provider {
	case config.ProviderOllama:
		llm, ollamaErr := ollama.New(
			ollama.WithModel(cfg.Embed.Model),
			ollama.WithServerURL(cfg.Ollama.Host),
		)
		if ollamaErr != nil {
			return nil, fmt.Errorf("create ollama client: %w", ollamaErr)
		}
		model, err = embeddings.NewEmbedder(llm)
		if err != nil {
			return nil, fmt.Errorf("create ollama embedder: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		llm, openaiErr := openai.New(
			openai.WithToken(cfg.OpenAI.APIKey),
			openai.WithEmbeddingModel(cfg.Embed.Model),
		)
		if openaiErr != nil {
			return nil, fmt.Errorf("create openai client: %w", openaiErr)
		}
		model, err = embeddings.NewEmbedder(llm)
		if err != nil {
			return nil, fmt.Errorf("create openai embedder: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Embed.Provider)
	}

	return newEmbedder(model, cfg, mc), nil
}

func newEmbedder(model embeddings.Embedder, cfg config.Config, mc *metrics.Collector) *Embedder {
	attempts := cfg.LLM.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	return &Embedder{
		model:     model,
		dimension: cfg.Embed.Dimension,
		modelName: cfg.Embed.Model,
		attempts:  attempts,
		metrics:   mc,
	}
}

// Embed generates an embedding vector for text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	slog.Debug("embedding texts", "model", e.modelName, "count", len(texts))

	start := time.Now()
	vectors, err := withRetry(ctx, e.attempts, e.metrics, "embed", func() ([][]float32, error) {
		return e.model.EmbedDocuments(ctx, texts)
	})
	duration := time.Since(start)
	e.metrics.RecordTiming(metrics.OpEmbedding, duration)

	if err != nil {
		slog.Warn("embedding failed", "model", e.modelName, "count", len(texts), "duration_ms", duration.Milliseconds(), "error", err)
		return nil, fmt.Errorf("embed: %w", err)
	}

	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("count mismatch: got %d, want %d", len(vectors), len(texts))
	}

	// Validate dimensions
	for i, v := range vectors {
		if len(v) != e.dimension {
			return nil, fmt.Errorf("embedding %d dimension mismatch: got %d, want %d", i, len(v), e.dimension)
		}
	}

	return vectors, nil
}

// Model returns the embedding model name.
func (e *Embedder) Model() string {
	return e.modelName
}

// Dimension returns the expected embedding dimension.
func (e *Embedder) Dimension() int {
	return e.dimension
}

// NewEmbedderFromConfig builds the configured embedder, wrapped in a
// CachedEmbedder when embed.cache_size is positive.
func NewEmbedderFromConfig(cfg config.Config, mc *metrics.Collector) (embedding.Embedder, error) {
	var (
		e   embedding.Embedder
		err error
	)
	switch cfg.Embed.Provider {
	case config.ProviderHash:
		e = embedding.NewHashEmbedder(cfg.Embed.Dimension)
	case config.ProviderVoyage:
		e, err = embedding.NewVoyageClient(cfg.Voyage.APIKey, cfg.Embed.Model, cfg.Embed.Dimension)
	default:
		e, err = NewEmbedder(cfg, mc)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Embed.CacheSize <= 0 {
		return e, nil
	}
	return embedding.NewCachedEmbedder(e, cfg.Embed.CacheSize)
}
