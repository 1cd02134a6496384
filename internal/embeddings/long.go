package embeddings

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/vecsnap/internal/chunker"
	"github.com/fyrsmithlabs/vecsnap/internal/failure"
)

// DefaultConcurrency bounds concurrent chunk embeddings.
const DefaultConcurrency = 5

// LongConfig configures a Long embedder.
type LongConfig struct {
	// Name identifies the provider in errors, e.g. "openai".
	Name string
	// Concurrency bounds in-flight chunk embeddings. Defaults to 5.
	Concurrency int
}

// Long embeds text of any length. Text is split into chunks within the
// splitter's token budget, the chunks are embedded concurrently and the
// result is the elementwise mean of the chunk vectors.
type Long struct {
	provider    Provider
	splitter    *chunker.Splitter
	name        string
	concurrency int
	metrics     *Metrics
	logger      *zap.Logger
}

// NewLong creates a Long embedder.
func NewLong(p Provider, s *chunker.Splitter, cfg LongConfig, logger *zap.Logger) *Long {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "embedding"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Long{
		provider:    p,
		splitter:    s,
		name:        cfg.Name,
		concurrency: cfg.Concurrency,
		metrics:     NewMetrics(logger),
		logger:      logger,
	}
}

// Dimension returns the provider dimension.
func (l *Long) Dimension() int {
	return l.provider.Dimension()
}

// EmbedLong returns one vector for text. Tokenization and provider errors
// are returned as *failure.ProviderError; no partial vector is produced.
func (l *Long) EmbedLong(ctx context.Context, text string) ([]float32, error) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "Long.EmbedLong")
	defer span.End()

	start := time.Now()
	chunks, err := l.splitter.Split(text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "split failed")
		return nil, failure.NewProviderError(l.name, "tokenize", err)
	}
	span.SetAttributes(attribute.Int("chunks", len(chunks)))

	vectors := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			v, err := l.provider.Embed(gctx, chunk)
			if err != nil {
				return fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
			}
			vectors[i] = v
			return nil
		})
	}
	err = g.Wait()
	l.metrics.RecordGeneration(ctx, l.name, "embed_long", time.Since(start), len(chunks), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embed failed")
		return nil, failure.NewProviderError(l.name, "embed", err)
	}

	mean, err := chunker.Mean(vectors)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "combine failed")
		return nil, failure.NewProviderError(l.name, "combine", err)
	}
	if len(chunks) > 1 {
		l.logger.Debug("embedded long text",
			zap.Int("chunks", len(chunks)),
			zap.Duration("duration", time.Since(start)))
	}
	span.SetStatus(codes.Ok, "")
	return mean, nil
}
