//go:build !cgo

package embeddings

import (
	"context"
	"errors"
)

// ErrFastEmbedNotAvailable is returned when FastEmbed is not available (requires CGO).
var ErrFastEmbedNotAvailable = errors.New("fastembed: not available (binary built without CGO support, use the openai provider instead)")

// FastEmbedConfig holds configuration for the FastEmbed provider.
type FastEmbedConfig struct {
	Model     string
	CacheDir  string
	MaxLength int
}

// FastEmbedProvider is a stub for non-CGO builds.
type FastEmbedProvider struct{}

// NewFastEmbedProvider returns an error when CGO is not available.
func NewFastEmbedProvider(_ FastEmbedConfig) (*FastEmbedProvider, error) {
	return nil, ErrFastEmbedNotAvailable
}

// Embed returns an error when CGO is not available.
func (p *FastEmbedProvider) Embed(_ context.Context, _ string) ([]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

// Dimension returns 0 when CGO is not available.
func (p *FastEmbedProvider) Dimension() int {
	return 0
}

// Close is a no-op when CGO is not available.
func (p *FastEmbedProvider) Close() error {
	return nil
}
