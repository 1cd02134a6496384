package query

import (
	"sync/atomic"
	"time"

	"github.com/fyrsmithlabs/vecsnap/internal/snapshot"
)

// Entry is a loaded snapshot and the time it was installed.
type Entry struct {
	Snapshot *snapshot.Snapshot
	LoadedAt time.Time
}

// Cache holds at most one loaded snapshot.
//
// Readers never block. Install replaces the entry atomically, so when two
// loads race, the last one to finish wins and both callers are served a
// complete snapshot.
type Cache struct {
	current atomic.Pointer[Entry]
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{}
}

// Get returns the current entry, or nil when unloaded.
func (c *Cache) Get() *Entry {
	return c.current.Load()
}

// Install replaces the current entry.
func (c *Cache) Install(s *snapshot.Snapshot, loadedAt time.Time) *Entry {
	e := &Entry{Snapshot: s, LoadedAt: loadedAt}
	c.current.Store(e)
	return e
}

// Clear drops the current entry.
func (c *Cache) Clear() {
	c.current.Store(nil)
}

// Fresh reports whether e is still valid at now under ttl.
func (e *Entry) Fresh(now time.Time, ttl time.Duration) bool {
	return e != nil && now.Sub(e.LoadedAt) < ttl
}
