package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/vecsnap/internal/failure"
)

var (
	// ErrInvalidName indicates a snapshot name that is empty or contains a
	// path separator.
	ErrInvalidName = errors.New("invalid snapshot name")

	// ErrMissing indicates that no snapshot has been published under a name.
	ErrMissing = errors.New("snapshot not published")
)

// Sink publishes compressed snapshots.
type Sink interface {
	// Publish atomically replaces the artifact called name and returns its
	// locator. On error the previously published artifact is untouched.
	Publish(ctx context.Context, name string, data []byte) (string, error)
}

// Reader reads back published snapshots. A missing artifact is reported as
// a *failure.SnapshotError of kind SnapshotNotFound.
type Reader interface {
	Read(ctx context.Context, name string) ([]byte, error)
}

// Store is a Sink that can also read its artifacts.
type Store interface {
	Sink
	Reader
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// FileSink publishes snapshots as files under Dir.
type FileSink struct {
	Dir string
}

// NewFileSink returns a FileSink rooted at dir.
func NewFileSink(dir string) *FileSink {
	return &FileSink{Dir: dir}
}

// Path returns the file path for name.
func (s *FileSink) Path(name string) string {
	return filepath.Join(s.Dir, name)
}

// Publish writes data to a temporary file in Dir, syncs it and renames it
// over the target.
func (s *FileSink) Publish(ctx context.Context, name string, data []byte) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("creating snapshot directory: %w", err)
	}

	target := s.Path(name)
	if err := writeFileAtomic(target, data, 0o644); err != nil {
		return "", err
	}
	return target, nil
}

// writeFileAtomic replaces path with data via a synced temporary file.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	committed = true
	return nil
}

// Read implements Reader.
func (s *FileSink) Read(_ context.Context, name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, failure.NewSnapshotError(failure.SnapshotNotFound, "read", err)
	}
	data, err := os.ReadFile(s.Path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, failure.NewSnapshotError(failure.SnapshotNotFound, "read", fmt.Errorf("%w: %s", ErrMissing, name))
	}
	if err != nil {
		return nil, failure.NewSnapshotError(failure.SnapshotNotFound, "read", err)
	}
	return data, nil
}

// MemorySink keeps published snapshots in memory.
type MemorySink struct {
	mu        sync.RWMutex
	artifacts map[string][]byte
	publishes int
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{artifacts: make(map[string][]byte)}
}

// Publish implements Sink.
func (s *MemorySink) Publish(ctx context.Context, name string, data []byte) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[name] = buf
	s.publishes++
	return "memory://" + name, nil
}

// Read implements Reader.
func (s *MemorySink) Read(_ context.Context, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.artifacts[name]
	if !ok {
		return nil, failure.NewSnapshotError(failure.SnapshotNotFound, "read", fmt.Errorf("%w: %s", ErrMissing, name))
	}
	return data, nil
}

// Publishes returns the number of successful publishes.
func (s *MemorySink) Publishes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.publishes
}
