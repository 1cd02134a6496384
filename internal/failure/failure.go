// Package failure defines the error taxonomy shared by the batch pipeline
// and the query-time store.
//
// # Kinds
//
//   - ConfigError: missing credentials or paths. Fatal, raised before any
//     mutation.
//   - ProviderError: an external call (embedding, listing) failed. The
//     affected unit is skipped and the pipeline continues.
//   - PartialFailure: one concurrent unit failed. Recorded; siblings keep
//     running.
//   - SnapshotError: export or load failed. Fatal to that operation only;
//     the previously published snapshot stays authoritative.
//
// All types implement Unwrap so errors.Is and errors.As see through them.
package failure

import (
	"errors"
	"fmt"
)

// ConfigError reports invalid or missing configuration.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// NewConfigError creates a ConfigError for field.
func NewConfigError(field, reason string) *ConfigError {
	return &ConfigError{Field: field, Reason: reason}
}

// ProviderError wraps a failed call to an external collaborator.
type ProviderError struct {
	Provider string // e.g. "openai", "github"
	Op       string // e.g. "embed", "list_tree"
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Provider, e.Op, e.Err)
}

// Unwrap allows errors.Is and errors.As to work with ProviderError.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a ProviderError. Returns nil when err is nil.
// An err that is already a ProviderError is returned unchanged.
func NewProviderError(provider, op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{Provider: provider, Op: op, Err: err}
}

// PartialFailure records the isolated failure of one unit of concurrent work.
type PartialFailure struct {
	Unit string // e.g. "acme/api", "batch 3"
	Err  error
}

func (e *PartialFailure) Error() string {
	return fmt.Sprintf("partial failure in %s: %v", e.Unit, e.Err)
}

// Unwrap allows errors.Is and errors.As to work with PartialFailure.
func (e *PartialFailure) Unwrap() error {
	return e.Err
}

// SnapshotKind classifies snapshot failures.
type SnapshotKind string

const (
	// SnapshotNotFound means the snapshot is missing, misconfigured or of an
	// unsupported version. Callers usually degrade.
	SnapshotNotFound SnapshotKind = "not_found"
	// SnapshotMalformed means the artifact exists but cannot be parsed.
	SnapshotMalformed SnapshotKind = "malformed"
	// SnapshotPublish means a new snapshot could not be written.
	SnapshotPublish SnapshotKind = "publish"
)

// SnapshotError reports a failed snapshot export or load.
type SnapshotError struct {
	Kind SnapshotKind
	Op   string
	Err  error
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("snapshot %s (%s): %v", e.Op, e.Kind, e.Err)
}

// Unwrap allows errors.Is and errors.As to work with SnapshotError.
func (e *SnapshotError) Unwrap() error {
	return e.Err
}

// NewSnapshotError creates a SnapshotError of the given kind.
func NewSnapshotError(kind SnapshotKind, op string, err error) *SnapshotError {
	return &SnapshotError{Kind: kind, Op: op, Err: err}
}

// IsSnapshotKind reports whether err is a SnapshotError of kind.
func IsSnapshotKind(err error, kind SnapshotKind) bool {
	var se *SnapshotError
	return errors.As(err, &se) && se.Kind == kind
}

// IsNotFound reports whether err is a missing or unsupported snapshot.
func IsNotFound(err error) bool {
	return IsSnapshotKind(err, SnapshotNotFound)
}

// IsMalformed reports whether err is a malformed snapshot.
func IsMalformed(err error) bool {
	return IsSnapshotKind(err, SnapshotMalformed)
}

// IsProvider reports whether err came from an external provider.
func IsProvider(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
