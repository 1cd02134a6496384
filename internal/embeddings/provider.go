package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

var (
	// ErrEmptyInput indicates empty input text.
	ErrEmptyInput = errors.New("empty input text")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// DefaultDimension is the dimension of text-embedding-3-small, the default
// OpenAI model.
const DefaultDimension = 1536

// Provider generates a single embedding vector for a text.
type Provider interface {
	// Embed returns the embedding of text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// ProviderConfig holds configuration for creating an embedding provider.
type ProviderConfig struct {
	// Provider is the provider type: "openai" (default), "tei" or "fastembed".
	Provider string
	// Model is the embedding model name.
	Model string
	// BaseURL is the API base URL (openai and tei only).
	BaseURL string
	// APIKey authenticates against the API (openai only).
	APIKey string
	// Dimension overrides the detected model dimension.
	Dimension int
	// CacheDir is the model cache directory (fastembed only).
	CacheDir string
	// RequestsPerSecond throttles the provider when positive.
	RequestsPerSecond float64
	// Burst is the limiter burst size. Defaults to 1.
	Burst int
}

// NewProvider creates an embedding provider based on the configuration.
// The provider is wrapped with RateLimited when RequestsPerSecond is set.
func NewProvider(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		p   Provider
		err error
	)
	switch strings.ToLower(cfg.Provider) {
	case "openai", "tei", "":
		p, err = NewOpenAIProvider(OpenAIConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey,
			Dimension: cfg.Dimension,
		}, logger)
	case "fastembed":
		p, err = NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.RequestsPerSecond > 0 {
		p = NewRateLimited(p, cfg.RequestsPerSecond, cfg.Burst)
	}
	return p, nil
}

// detectDimensionFromModel returns the embedding dimension for a model name.
func detectDimensionFromModel(model string) int {
	if dim, ok := knownDimensions[model]; ok {
		return dim
	}
	switch {
	case strings.Contains(model, "large"):
		return 1024
	case strings.Contains(model, "base"):
		return 768
	case strings.Contains(model, "small"), strings.Contains(model, "mini"):
		return 384
	default:
		return DefaultDimension
	}
}

var knownDimensions = map[string]int{
	"text-embedding-3-small":                 1536,
	"text-embedding-3-large":                 3072,
	"text-embedding-ada-002":                 1536,
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-large-en-v1.5":                 1024,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
}
