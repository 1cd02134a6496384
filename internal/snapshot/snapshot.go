// Package snapshot implements the versioned, compressed snapshot format
// exported by the batch pipeline and loaded by the query store.
//
// A snapshot is a JSON document compressed with gzip:
//
//	{"version": 1, "dimension": 1536, "count": 2, "created_at": "...", "items": [...]}
//
// Readers check the version before anything else. An unsupported version is
// reported as not found, never partially parsed.
package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/fyrsmithlabs/vecsnap/internal/failure"
	"github.com/fyrsmithlabs/vecsnap/internal/item"
)

const (
	// Version is the only schema version this package reads and writes.
	Version = 1

	// DefaultDimension is declared by snapshots with no items.
	DefaultDimension = 1536

	// MaxDecodedSize bounds the decompressed document accepted by Decode.
	MaxDecodedSize = 1 << 30
)

var (
	// ErrCountMismatch indicates a document whose count disagrees with its items.
	ErrCountMismatch = errors.New("snapshot count does not match items")

	// ErrDuplicateID indicates two items sharing one id.
	ErrDuplicateID = errors.New("duplicate item id")

	// ErrTooLarge indicates a document exceeding MaxDecodedSize.
	ErrTooLarge = errors.New("snapshot exceeds maximum decoded size")
)

// Snapshot is an immutable collection of items.
type Snapshot struct {
	Version   int         `json:"version"`
	Dimension int         `json:"dimension"`
	Count     int         `json:"count"`
	CreatedAt time.Time   `json:"created_at"`
	Items     []item.Item `json:"items"`
}

// Build assembles a snapshot from items. The dimension is taken from the
// first item's embedding, or DefaultDimension when items is empty.
func Build(items []item.Item, now time.Time) *Snapshot {
	dim := DefaultDimension
	if len(items) > 0 {
		dim = len(items[0].Embedding)
	}
	if items == nil {
		items = []item.Item{}
	}
	return &Snapshot{
		Version:   Version,
		Dimension: dim,
		Count:     len(items),
		CreatedAt: now.UTC(),
		Items:     items,
	}
}

// Validate checks the snapshot invariants: count equals len(items), every
// embedding has the declared dimension and ids are unique.
func (s *Snapshot) Validate() error {
	if s.Count != len(s.Items) {
		return fmt.Errorf("%w: count %d, items %d", ErrCountMismatch, s.Count, len(s.Items))
	}
	seen := make(map[string]struct{}, len(s.Items))
	for i := range s.Items {
		it := &s.Items[i]
		if err := it.Validate(s.Dimension); err != nil {
			return err
		}
		if _, dup := seen[it.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateID, it.ID)
		}
		seen[it.ID] = struct{}{}
	}
	return nil
}

// Encoded holds both forms of a serialized snapshot.
type Encoded struct {
	Raw        []byte
	Compressed []byte
}

// Encode serializes s to JSON and compresses it.
func Encode(s *Snapshot) (Encoded, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return Encoded{}, fmt.Errorf("marshaling snapshot: %w", err)
	}
	compressed, err := compress(raw)
	if err != nil {
		return Encoded{}, err
	}
	return Encoded{Raw: raw, Compressed: compressed}, nil
}

func compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("compressing snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compressing snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// EstimateSize returns the compressed size in bytes of a snapshot holding
// items, using the same codec as Encode.
func EstimateSize(items []item.Item, now time.Time) (int, error) {
	enc, err := Encode(Build(items, now))
	if err != nil {
		return 0, err
	}
	return len(enc.Compressed), nil
}

// versionHeader reads only the version field.
type versionHeader struct {
	Version int `json:"version"`
}

// Decode decompresses and parses a snapshot. Errors are *failure.SnapshotError:
// SnapshotNotFound for an unsupported version, SnapshotMalformed otherwise.
func Decode(data []byte) (*Snapshot, error) {
	raw, err := decompress(data)
	if err != nil {
		return nil, failure.NewSnapshotError(failure.SnapshotMalformed, "decode", err)
	}

	var header versionHeader
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, failure.NewSnapshotError(failure.SnapshotMalformed, "decode", fmt.Errorf("parsing snapshot: %w", err))
	}
	if header.Version != Version {
		return nil, failure.NewSnapshotError(failure.SnapshotNotFound, "decode",
			fmt.Errorf("unsupported snapshot version %d", header.Version))
	}

	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, failure.NewSnapshotError(failure.SnapshotMalformed, "decode", fmt.Errorf("parsing snapshot: %w", err))
	}
	if err := s.Validate(); err != nil {
		return nil, failure.NewSnapshotError(failure.SnapshotMalformed, "decode", err)
	}
	return &s, nil
}

func decompress(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening gzip stream: %w", err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(io.LimitReader(zr, MaxDecodedSize+1))
	if err != nil {
		return nil, fmt.Errorf("decompressing snapshot: %w", err)
	}
	if len(raw) > MaxDecodedSize {
		return nil, ErrTooLarge
	}
	return raw, nil
}
