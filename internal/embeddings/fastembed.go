//go:build cgo

package embeddings

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	fastembed "github.com/anush008/fastembed-go"
)

// FastEmbedConfig holds configuration for the FastEmbed provider.
type FastEmbedConfig struct {
	// Model is the embedding model to use. Defaults to BAAI/bge-small-en-v1.5.
	Model string

	// CacheDir is the directory to cache model files.
	CacheDir string

	// MaxLength is the maximum input sequence length. Defaults to 512.
	MaxLength int
}

// FastEmbedProvider generates embeddings using local ONNX models.
type FastEmbedProvider struct {
	model     *fastembed.FlagEmbedding
	modelName string
	dimension int
	metrics   *Metrics
	mu        sync.RWMutex
}

var modelMapping = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-small-en":                      fastembed.BGESmallEN,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"BAAI/bge-base-en":                       fastembed.BGEBaseEN,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
}

var modelDimensions = map[fastembed.EmbeddingModel]int{
	fastembed.BGESmallENV15: 384,
	fastembed.BGESmallEN:    384,
	fastembed.BGEBaseENV15:  768,
	fastembed.BGEBaseEN:     768,
	fastembed.AllMiniLML6V2: 384,
}

// NewFastEmbedProvider creates a new FastEmbed embedding provider.
func NewFastEmbedProvider(cfg FastEmbedConfig) (*FastEmbedProvider, error) {
	if cfg.Model == "" {
		cfg.Model = "BAAI/bge-small-en-v1.5"
	}
	model, ok := modelMapping[cfg.Model]
	if !ok {
		model = fastembed.EmbeddingModel(cfg.Model)
		if _, known := modelDimensions[model]; !known {
			return nil, fmt.Errorf("%w: unsupported fastembed model %q", ErrInvalidConfig, cfg.Model)
		}
	}

	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(".", "local_cache")
	}
	maxLength := cfg.MaxLength
	if maxLength == 0 {
		maxLength = 512
	}
	showProgress := false

	flagEmbed, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                model,
		CacheDir:             cacheDir,
		MaxLength:            maxLength,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing FastEmbed: %w", err)
	}

	return &FastEmbedProvider{
		model:     flagEmbed,
		modelName: cfg.Model,
		dimension: modelDimensions[model],
		metrics:   NewMetrics(nil),
	}, nil
}

// Embed implements Provider. Items are embedded as passages.
func (p *FastEmbedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		p.metrics.RecordGeneration(ctx, p.modelName, "embed", time.Since(start), 1, genErr)
	}()

	if text == "" {
		genErr = ErrEmptyInput
		return nil, genErr
	}
	if err := ctx.Err(); err != nil {
		genErr = err
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	vectors, err := p.model.PassageEmbed([]string{text}, 1)
	if err != nil {
		genErr = fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		return nil, genErr
	}
	if len(vectors) != 1 {
		genErr = fmt.Errorf("%w: got %d vectors for 1 input", ErrEmbeddingFailed, len(vectors))
		return nil, genErr
	}
	return vectors[0], nil
}

// Dimension implements Provider.
func (p *FastEmbedProvider) Dimension() int {
	return p.dimension
}

// Close releases the ONNX session.
func (p *FastEmbedProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.model != nil {
		err := p.model.Destroy()
		p.model = nil
		return err
	}
	return nil
}
