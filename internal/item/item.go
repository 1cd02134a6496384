// Package item defines the embedding item data model shared by ingestion,
// retention, export and query.
//
// An Item has a shared base (ID, Type, Content, Embedding) and exactly one
// type-specific metadata struct. Extra is an escape hatch for attributes
// that do not belong to a typed field (for example the blob SHA used by
// incremental ingestion).
package item

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Type identifies the kind of source entity an item was built from.
type Type string

const (
	TypeCommit Type = "commit"
	TypeFile   Type = "file"
	TypeQA     Type = "qa"
)

// Known reports whether t is one of the supported item types.
func (t Type) Known() bool {
	switch t {
	case TypeCommit, TypeFile, TypeQA:
		return true
	}
	return false
}

var (
	// ErrEmptyID indicates an item without an identifier.
	ErrEmptyID = errors.New("item id is required")

	// ErrDimensionMismatch indicates an embedding of the wrong length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrMetadataMismatch indicates metadata that does not match the item type.
	ErrMetadataMismatch = errors.New("metadata does not match item type")
)

// CommitMeta describes a source-control commit.
type CommitMeta struct {
	Owner   string     `json:"owner,omitempty"`
	Repo    string     `json:"repo,omitempty"`
	Hash    string     `json:"hash"`
	Author  string     `json:"author,omitempty"`
	Date    *time.Time `json:"date,omitempty"`
	Message string     `json:"message,omitempty"`
}

// FileMeta describes one chunk of a file in a repository tree.
type FileMeta struct {
	Owner          string     `json:"owner,omitempty"`
	Repo           string     `json:"repo,omitempty"`
	Path           string     `json:"path,omitempty"`
	ChunkIndex     int        `json:"chunk_index"`
	TotalChunks    int        `json:"total_chunks"`
	Extension      string     `json:"extension,omitempty"`
	LastCommitDate *time.Time `json:"last_commit_date,omitempty"`
}

// Key returns the (owner, repo, path) reconciliation key and whether all
// three fields are present.
func (m *FileMeta) Key() (FileKey, bool) {
	if m == nil || m.Owner == "" || m.Repo == "" || m.Path == "" {
		return FileKey{}, false
	}
	return FileKey{Owner: m.Owner, Repo: m.Repo, Path: m.Path}, true
}

// QAMeta describes a question/answer interaction.
type QAMeta struct {
	SessionID string     `json:"session_id,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Category  string     `json:"category,omitempty"`
}

// FileKey identifies a blob in a repository tree.
type FileKey struct {
	Owner string
	Repo  string
	Path  string
}

func (k FileKey) String() string {
	return k.Owner + "/" + k.Repo + ":" + k.Path
}

// Item is a single embedded entity.
type Item struct {
	ID        string
	Type      Type
	Content   string
	Embedding []float32

	Commit *CommitMeta
	File   *FileMeta
	QA     *QAMeta

	// Extra holds untyped attributes. Keys must not collide with typed
	// attribute names.
	Extra map[string]string
}

// Validate checks the item invariants. A dim of 0 skips the dimension check.
func (it *Item) Validate(dim int) error {
	if it.ID == "" {
		return ErrEmptyID
	}
	if dim > 0 && len(it.Embedding) != dim {
		return fmt.Errorf("%w: item %s has %d, want %d", ErrDimensionMismatch, it.ID, len(it.Embedding), dim)
	}
	switch it.Type {
	case TypeCommit:
		if it.File != nil || it.QA != nil {
			return fmt.Errorf("%w: commit item %s", ErrMetadataMismatch, it.ID)
		}
	case TypeFile:
		if it.Commit != nil || it.QA != nil {
			return fmt.Errorf("%w: file item %s", ErrMetadataMismatch, it.ID)
		}
	case TypeQA:
		if it.Commit != nil || it.File != nil {
			return fmt.Errorf("%w: qa item %s", ErrMetadataMismatch, it.ID)
		}
	}
	return nil
}

// RetentionDate returns the date used for age-based expiry. The second
// return value is false when the item carries no relevant date, or when its
// type is not one of the known types.
func (it *Item) RetentionDate() (time.Time, bool) {
	var d *time.Time
	switch it.Type {
	case TypeCommit:
		if it.Commit != nil {
			d = it.Commit.Date
		}
	case TypeQA:
		if it.QA != nil {
			d = it.QA.Timestamp
		}
	case TypeFile:
		if it.File != nil {
			d = it.File.LastCommitDate
		}
	}
	if d == nil || d.IsZero() {
		return time.Time{}, false
	}
	return *d, true
}

// Attributes returns a flat string view of the item metadata, used for
// exact-match filtering. The "type" key is always present.
func (it *Item) Attributes() map[string]string {
	attrs := make(map[string]string, 8+len(it.Extra))
	for k, v := range it.Extra {
		attrs[k] = v
	}
	attrs["type"] = string(it.Type)

	switch {
	case it.Commit != nil:
		m := it.Commit
		setNonEmpty(attrs, "owner", m.Owner)
		setNonEmpty(attrs, "repo", m.Repo)
		setNonEmpty(attrs, "hash", m.Hash)
		setNonEmpty(attrs, "author", m.Author)
		setNonEmpty(attrs, "message", m.Message)
		setTime(attrs, "date", m.Date)
	case it.File != nil:
		m := it.File
		setNonEmpty(attrs, "owner", m.Owner)
		setNonEmpty(attrs, "repo", m.Repo)
		setNonEmpty(attrs, "path", m.Path)
		setNonEmpty(attrs, "extension", m.Extension)
		attrs["chunk_index"] = strconv.Itoa(m.ChunkIndex)
		attrs["total_chunks"] = strconv.Itoa(m.TotalChunks)
		setTime(attrs, "last_commit_date", m.LastCommitDate)
	case it.QA != nil:
		m := it.QA
		setNonEmpty(attrs, "session_id", m.SessionID)
		setNonEmpty(attrs, "category", m.Category)
		setTime(attrs, "timestamp", m.Timestamp)
	}
	return attrs
}

func setNonEmpty(m map[string]string, k, v string) {
	if v != "" {
		m[k] = v
	}
}

func setTime(m map[string]string, k string, t *time.Time) {
	if t != nil && !t.IsZero() {
		m[k] = t.UTC().Format(time.RFC3339)
	}
}

// Matches reports whether every key/value in filter equals the item's
// attribute exactly. An empty filter matches everything.
func (it *Item) Matches(filter map[string]string) bool {
	if len(filter) == 0 {
		return true
	}
	attrs := it.Attributes()
	for k, want := range filter {
		got, ok := attrs[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// CommitID builds the item id for a commit.
func CommitID(owner, repo, hash string) string {
	return fmt.Sprintf("commit:%s/%s:%s", owner, repo, hash)
}

// FileID builds the item id for one chunk of a file.
func FileID(owner, repo, path string, chunk int) string {
	return fmt.Sprintf("file:%s/%s:%s#%d", owner, repo, path, chunk)
}

// QAID builds the item id for an interaction.
func QAID(sessionID, interactionID string) string {
	return fmt.Sprintf("qa:%s:%s", sessionID, interactionID)
}

// TimePtr returns a pointer to t, or nil for the zero time.
func TimePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
