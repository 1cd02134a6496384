// Package mirror maintains a durable copy of the item collection in a
// vector database.
//
// The exported snapshot is authoritative; the mirror is reconciled to it on
// a best-effort basis. Implementations: ChromemMirror (embedded, default),
// QdrantMirror (gRPC) and Nop.
package mirror

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/vecsnap/internal/item"
)

var (
	// ErrInvalidConfig indicates invalid mirror configuration.
	ErrInvalidConfig = errors.New("invalid mirror configuration")

	// ErrInvalidPredicate indicates a predicate that mixes IDs with filters.
	ErrInvalidPredicate = errors.New("predicate cannot combine ids with filters")

	// ErrEmptyPredicate indicates a delete without any selector.
	ErrEmptyPredicate = errors.New("delete requires a non-empty predicate")
)

// Predicate selects mirrored items. IDs selects by item id and cannot be
// combined with Type or Where. Type and Where match item attributes exactly.
// The zero Predicate selects everything.
type Predicate struct {
	IDs   []string
	Type  item.Type
	Where map[string]string
}

// ByIDs selects the given item ids.
func ByIDs(ids ...string) Predicate {
	return Predicate{IDs: ids}
}

// Empty reports whether p selects everything.
func (p Predicate) Empty() bool {
	return len(p.IDs) == 0 && p.Type == "" && len(p.Where) == 0
}

// Validate rejects predicates that mix IDs with filters.
func (p Predicate) Validate() error {
	if len(p.IDs) > 0 && (p.Type != "" || len(p.Where) > 0) {
		return ErrInvalidPredicate
	}
	return nil
}

// filter returns the attribute filter for p, merging Type into Where.
func (p Predicate) filter() map[string]string {
	if p.Type == "" && len(p.Where) == 0 {
		return nil
	}
	out := make(map[string]string, len(p.Where)+1)
	for k, v := range p.Where {
		out[k] = v
	}
	if p.Type != "" {
		out["type"] = string(p.Type)
	}
	return out
}

// Mirror is a durable vector collection.
type Mirror interface {
	// Upsert inserts or replaces items by id.
	Upsert(ctx context.Context, items []item.Item) error
	// DeleteWhere removes the items selected by p. An empty predicate is
	// rejected with ErrEmptyPredicate.
	DeleteWhere(ctx context.Context, p Predicate) error
	// CountWhere counts the items selected by p.
	CountWhere(ctx context.Context, p Predicate) (int, error)
	// Close releases resources.
	Close() error
}

// Nop is a Mirror that stores nothing.
type Nop struct{}

// Upsert implements Mirror.
func (Nop) Upsert(context.Context, []item.Item) error { return nil }

// DeleteWhere implements Mirror.
func (Nop) DeleteWhere(_ context.Context, p Predicate) error {
	if p.Empty() {
		return ErrEmptyPredicate
	}
	return p.Validate()
}

// CountWhere implements Mirror.
func (Nop) CountWhere(_ context.Context, p Predicate) (int, error) {
	return 0, p.Validate()
}

// Close implements Mirror.
func (Nop) Close() error { return nil }
