package embeddings

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "text-embedding-3-small"
)

// OpenAIConfig configures an OpenAI-compatible embedding provider.
type OpenAIConfig struct {
	// BaseURL is the API base URL. For TEI use its /v1 endpoint.
	BaseURL string
	// Model is the embedding model.
	Model string
	// APIKey is required by OpenAI and ignored by TEI.
	APIKey string
	// Dimension overrides the dimension detected from Model.
	Dimension int
}

// Validate validates the configuration.
func (c OpenAIConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	if c.Dimension < 0 {
		return fmt.Errorf("%w: dimension must not be negative", ErrInvalidConfig)
	}
	return nil
}

// documentEmbedder is the subset of langchaingo's embedder used here.
type documentEmbedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// OpenAIProvider embeds text through an OpenAI-compatible API.
type OpenAIProvider struct {
	embedder  documentEmbedder
	model     string
	dimension int
	metrics   *Metrics
}

// NewOpenAIProvider creates a provider backed by langchaingo's OpenAI client.
func NewOpenAIProvider(cfg OpenAIConfig, logger *zap.Logger) (*OpenAIProvider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		// langchaingo requires a token even for servers that ignore it.
		apiKey = "placeholder"
	}

	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	dim := cfg.Dimension
	if dim == 0 {
		dim = detectDimensionFromModel(cfg.Model)
	}

	return &OpenAIProvider{
		embedder:  embedder,
		model:     cfg.Model,
		dimension: dim,
		metrics:   NewMetrics(logger),
	}, nil
}

// Embed implements Provider.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		p.metrics.RecordGeneration(ctx, p.model, "embed", time.Since(start), 1, genErr)
	}()

	if text == "" {
		genErr = ErrEmptyInput
		return nil, genErr
	}

	vectors, err := p.embedder.EmbedDocuments(ctx, []string{text})
	if err != nil {
		genErr = fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		return nil, genErr
	}
	if len(vectors) != 1 {
		genErr = fmt.Errorf("%w: got %d vectors for 1 input", ErrEmbeddingFailed, len(vectors))
		return nil, genErr
	}
	if len(vectors[0]) != p.dimension {
		genErr = fmt.Errorf("%w: model returned dimension %d, configured %d", ErrEmbeddingFailed, len(vectors[0]), p.dimension)
		return nil, genErr
	}
	return vectors[0], nil
}

// Dimension implements Provider.
func (p *OpenAIProvider) Dimension() int {
	return p.dimension
}

// Close is a no-op since the provider uses HTTP.
func (p *OpenAIProvider) Close() error {
	return nil
}
