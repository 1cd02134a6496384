package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	store := NewFileStore(path)

	s, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, s.Repos)
	assert.True(t, s.LastQATimestamp.IsZero())

	updated := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	s.SetRepo("acme/api", RepoState{LastProcessedCommitHash: "c9", LastTreeHash: "t3", LastUpdated: updated})
	s.LastQATimestamp = updated
	require.NoError(t, store.Save(ctx, s))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	rs, ok := got.Repo("acme/api")
	require.True(t, ok)
	assert.Equal(t, "c9", rs.LastProcessedCommitHash)
	assert.Equal(t, "t3", rs.LastTreeHash)
	assert.True(t, rs.LastUpdated.Equal(updated))
	assert.True(t, got.LastQATimestamp.Equal(updated))
	assert.Equal(t, Version, got.Version)
}

func TestFileStore_Corrupted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{nope"), 0o600))

	_, err := NewFileStore(path).Load(context.Background())
	assert.ErrorIs(t, err, ErrCorrupted)

	require.NoError(t, os.WriteFile(path, []byte(`{"version": 9}`), 0o600))
	_, err = NewFileStore(path).Load(context.Background())
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestFileStore_NilReposUpgraded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version": 1}`), 0o600))

	s, err := NewFileStore(path).Load(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, s.Repos)
}

func TestFileStore_NoPath(t *testing.T) {
	_, err := NewFileStore("").Load(context.Background())
	assert.ErrorIs(t, err, ErrNoPath)
	assert.ErrorIs(t, NewFileStore("").Save(context.Background(), New()), ErrNoPath)
}

func TestMemoryStore_IsolatesCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	s := New()
	s.SetRepo("acme/api", RepoState{LastTreeHash: "t1"})
	require.NoError(t, m.Save(ctx, s))
	s.SetRepo("acme/api", RepoState{LastTreeHash: "mutated"})

	got, err := m.Load(ctx)
	require.NoError(t, err)
	rs, _ := got.Repo("acme/api")
	assert.Equal(t, "t1", rs.LastTreeHash)
	assert.Equal(t, 1, m.Saves())
}
