package mirror

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vecsnap/internal/item"
)

var chromemTracer = otel.Tracer("vecsnap.mirror.chromem")

// errNoEmbedding is returned by the collection embedding func. Items always
// carry precomputed embeddings.
var errNoEmbedding = errors.New("mirror requires precomputed embeddings")

// ChromemConfig holds configuration for the chromem-go mirror.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	// Default: "~/.local/share/vecsnap/mirror"
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// Collection is the collection name. Default: "vecsnap_items".
	Collection string

	// Dimension is the embedding dimension, required for filtered counts.
	Dimension int
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "~/.local/share/vecsnap/mirror"
	}
	if c.Collection == "" {
		c.Collection = "vecsnap_items"
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return nil
}

// ChromemMirror implements Mirror using an embedded chromem-go database
// persisted to disk.
type ChromemMirror struct {
	db         *chromem.DB
	collection *chromem.Collection
	config     ChromemConfig
	logger     *zap.Logger
}

// NewChromemMirror opens or creates the persistent database at config.Path.
func NewChromemMirror(config ChromemConfig, logger *zap.Logger) (*ChromemMirror, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	path, err := expandPath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}

	db, err := chromem.NewPersistentDB(path, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	collection, err := db.GetOrCreateCollection(config.Collection, nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", config.Collection, err)
	}

	logger.Info("chromem mirror initialized",
		zap.String("path", path),
		zap.String("collection", config.Collection),
		zap.Int("documents", collection.Count()),
	)

	return &ChromemMirror{
		db:         db,
		collection: collection,
		config:     config,
		logger:     logger,
	}, nil
}

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errNoEmbedding
}

func expandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// Upsert implements Mirror. Existing documents with the same id are replaced.
func (m *ChromemMirror) Upsert(ctx context.Context, items []item.Item) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemMirror.Upsert")
	defer span.End()
	span.SetAttributes(attribute.Int("item_count", len(items)))

	if len(items) == 0 {
		return nil
	}

	docs := make([]chromem.Document, 0, len(items))
	for _, it := range items {
		if len(it.Embedding) != m.config.Dimension {
			err := fmt.Errorf("%w: item %s has %d, want %d", item.ErrDimensionMismatch, it.ID, len(it.Embedding), m.config.Dimension)
			span.RecordError(err)
			span.SetStatus(codes.Error, "dimension mismatch")
			return err
		}
		docs = append(docs, chromem.Document{
			ID:        it.ID,
			Content:   it.Content,
			Metadata:  it.Attributes(),
			Embedding: it.Embedding,
		})
	}

	// Concurrency of 1 since embeddings are precomputed.
	if err := m.collection.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding documents: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	m.logger.Debug("upserted items to chromem", zap.Int("count", len(items)))
	return nil
}

// DeleteWhere implements Mirror.
func (m *ChromemMirror) DeleteWhere(ctx context.Context, p Predicate) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemMirror.DeleteWhere")
	defer span.End()

	if p.Empty() {
		return ErrEmptyPredicate
	}
	if err := p.Validate(); err != nil {
		return err
	}
	span.SetAttributes(attribute.Int("id_count", len(p.IDs)))

	if err := m.collection.Delete(ctx, p.filter(), nil, p.IDs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting documents: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// CountWhere implements Mirror. Filtered counts run an exhaustive query
// against a unit vector, since chromem-go has no filtered count.
func (m *ChromemMirror) CountWhere(ctx context.Context, p Predicate) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	if len(p.IDs) > 0 {
		n := 0
		for _, id := range p.IDs {
			if _, err := m.collection.GetByID(ctx, id); err == nil {
				n++
			}
		}
		return n, nil
	}

	total := m.collection.Count()
	where := p.filter()
	if where == nil || total == 0 {
		return total, nil
	}

	unit := make([]float32, m.config.Dimension)
	unit[0] = 1
	results, err := m.collection.QueryEmbedding(ctx, unit, total, where, nil)
	if err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return len(results), nil
}

// Close implements Mirror. The persistent DB writes through on every
// mutation, so there is nothing to flush.
func (m *ChromemMirror) Close() error {
	return nil
}
