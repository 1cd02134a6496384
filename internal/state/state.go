// Package state persists the incremental ingestion state between pipeline
// runs.
//
// The document is small and keyed by repository:
//
//	{
//	  "version": 1,
//	  "repos": {
//	    "acme/api": {"last_processed_commit_hash": "...", "last_tree_hash": "...", "last_updated": "..."}
//	  },
//	  "last_qa_timestamp": "...",
//	  "last_cleanup_run": "..."
//	}
//
// It is read at the start of a run and written only after the run's
// snapshot has been published.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Version is the current document version.
const Version = 1

// Errors for state operations.
var (
	ErrCorrupted = errors.New("state file corrupted")
	ErrNoPath    = errors.New("state path not configured")
)

// RepoState tracks one source repository.
type RepoState struct {
	LastProcessedCommitHash string    `json:"last_processed_commit_hash,omitempty"`
	LastTreeHash            string    `json:"last_tree_hash,omitempty"`
	LastUpdated             time.Time `json:"last_updated,omitempty"`
}

// State is the persisted pipeline state.
type State struct {
	Version         int                  `json:"version"`
	Repos           map[string]RepoState `json:"repos"` // key: owner/name
	LastQATimestamp time.Time            `json:"last_qa_timestamp,omitempty"`
	LastCleanupRun  time.Time            `json:"last_cleanup_run,omitempty"`
}

// New returns an empty state, as used on the first run.
func New() *State {
	return &State{Version: Version, Repos: make(map[string]RepoState)}
}

// Repo returns the state of the named repository and whether it exists.
func (s *State) Repo(fullName string) (RepoState, bool) {
	rs, ok := s.Repos[fullName]
	return rs, ok
}

// SetRepo records the state of the named repository.
func (s *State) SetRepo(fullName string, rs RepoState) {
	if s.Repos == nil {
		s.Repos = make(map[string]RepoState)
	}
	s.Repos[fullName] = rs
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	out := *s
	out.Repos = make(map[string]RepoState, len(s.Repos))
	for k, v := range s.Repos {
		out.Repos[k] = v
	}
	return &out
}

// Store loads and saves State.
type Store interface {
	// Load returns the saved state, or a fresh state when none exists.
	Load(ctx context.Context) (*State, error)
	// Save replaces the saved state.
	Save(ctx context.Context, s *State) error
}

// FileStore keeps State in a JSON file.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore returns a FileStore at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the file path.
func (f *FileStore) Path() string {
	return f.path
}

// Load implements Store.
func (f *FileStore) Load(_ context.Context) (*State, error) {
	if f.path == "" {
		return nil, ErrNoPath
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading state: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if s.Version > Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupted, s.Version)
	}
	// Initialize maps if nil (for version upgrades)
	if s.Repos == nil {
		s.Repos = make(map[string]RepoState)
	}
	s.Version = Version
	return &s, nil
}

// Save implements Store. The file is replaced atomically.
func (f *FileStore) Save(_ context.Context, s *State) error {
	if f.path == "" {
		return ErrNoPath
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	s.Version = Version
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing state: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replacing state: %w", err)
	}
	return nil
}

// MemoryStore keeps State in memory.
type MemoryStore struct {
	mu    sync.Mutex
	state *State
	saves int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load implements Store.
func (m *MemoryStore) Load(context.Context) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return New(), nil
	}
	return m.state.Clone(), nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, s *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s.Clone()
	m.saves++
	return nil
}

// Saves returns the number of Save calls.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
