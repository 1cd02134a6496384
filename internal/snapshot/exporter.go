package snapshot

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vecsnap/internal/failure"
	"github.com/fyrsmithlabs/vecsnap/internal/item"
)

var tracer = otel.Tracer("vecsnap.snapshot")

// ExportResult describes a published snapshot.
type ExportResult struct {
	Locator         string    `json:"locator"`
	Count           int       `json:"count"`
	Dimension       int       `json:"dimension"`
	RawBytes        int       `json:"raw_bytes"`
	CompressedBytes int       `json:"compressed_bytes"`
	CreatedAt       time.Time `json:"created_at"`
}

// Exporter serializes item collections and hands them to a Sink.
type Exporter struct {
	sink   Sink
	now    func() time.Time
	logger *zap.Logger
}

// NewExporter creates an Exporter. A nil now uses time.Now.
func NewExporter(sink Sink, now func() time.Time, logger *zap.Logger) *Exporter {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{sink: sink, now: now, logger: logger}
}

// Export builds, validates, encodes and publishes a snapshot of items under
// name. Every error is a *failure.SnapshotError of kind SnapshotPublish, and
// the sink is not called unless encoding succeeded.
func (e *Exporter) Export(ctx context.Context, items []item.Item, name string) (ExportResult, error) {
	ctx, span := tracer.Start(ctx, "Exporter.Export")
	defer span.End()
	span.SetAttributes(
		attribute.String("snapshot.name", name),
		attribute.Int("snapshot.count", len(items)),
	)

	fail := func(err error) (ExportResult, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ExportResult{}, failure.NewSnapshotError(failure.SnapshotPublish, "export", err)
	}

	s := Build(items, e.now())
	if err := s.Validate(); err != nil {
		return fail(fmt.Errorf("validating snapshot: %w", err))
	}
	enc, err := Encode(s)
	if err != nil {
		return fail(err)
	}

	locator, err := e.sink.Publish(ctx, name, enc.Compressed)
	if err != nil {
		return fail(fmt.Errorf("publishing %s: %w", name, err))
	}

	res := ExportResult{
		Locator:         locator,
		Count:           s.Count,
		Dimension:       s.Dimension,
		RawBytes:        len(enc.Raw),
		CompressedBytes: len(enc.Compressed),
		CreatedAt:       s.CreatedAt,
	}
	span.SetAttributes(
		attribute.Int("snapshot.raw_bytes", res.RawBytes),
		attribute.Int("snapshot.compressed_bytes", res.CompressedBytes),
	)
	span.SetStatus(codes.Ok, "published")

	e.logger.Info("snapshot published",
		zap.String("locator", locator),
		zap.Int("count", res.Count),
		zap.Int("dimension", res.Dimension),
		zap.Int("raw_bytes", res.RawBytes),
		zap.Int("compressed_bytes", res.CompressedBytes),
	)
	return res, nil
}

// Load reads and decodes the snapshot called name from r.
func Load(ctx context.Context, r Reader, name string) (*Snapshot, error) {
	data, err := r.Read(ctx, name)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}
