// Package query answers top-K cosine similarity queries against the latest
// published snapshot.
//
// The Store loads the snapshot through a Fetcher and keeps it in a Cache
// for a fixed TTL:
//
//	Unloaded --query--> Loading --ok--> Loaded --TTL elapsed--> Unloaded
//
// Loading takes no lock. Concurrent callers that find the cache unloaded or
// expired each fetch the snapshot, and the last install wins. This costs a
// redundant fetch under a cold-start burst and never exposes a partially
// installed snapshot.
//
// Queries are a linear scan. Retention keeps the snapshot small enough
// that decompression plus scan stays within latency targets.
package query

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vecsnap/internal/failure"
	"github.com/fyrsmithlabs/vecsnap/internal/snapshot"
)

var tracer = otel.Tracer("vecsnap.query")

// DefaultTTL is the snapshot cache lifetime.
const DefaultTTL = 5 * time.Minute

var (
	// ErrDimensionMismatch indicates a query vector of the wrong length.
	ErrDimensionMismatch = errors.New("query vector dimension does not match snapshot")

	// ErrInvalidRequest indicates a request with no vector, a non-finite
	// component or a non-positive K.
	ErrInvalidRequest = errors.New("invalid query request")
)

// StaleError accompanies a result served from an expired snapshot because
// reloading it failed. Err is the reload failure, usually a
// *failure.SnapshotError.
type StaleError struct {
	Err      error
	LoadedAt time.Time
}

func (e *StaleError) Error() string {
	return fmt.Sprintf("serving snapshot loaded at %s: %v", e.LoadedAt.Format(time.RFC3339), e.Err)
}

// Unwrap allows errors.Is and errors.As to see the reload failure.
func (e *StaleError) Unwrap() error {
	return e.Err
}

// IsStale reports whether err carries a stale result.
func IsStale(err error) bool {
	var se *StaleError
	return errors.As(err, &se)
}

// Request is a similarity query.
type Request struct {
	Vector []float32
	K      int
	// MinScore discards results below the threshold when set.
	MinScore *float64
	// Filter requires every key/value to equal the item attribute exactly.
	Filter map[string]string
}

// Result is one ranked match.
type Result struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
	Score    float64           `json:"score"`
}

// Stats describes the cache state.
type Stats struct {
	Loaded    bool      `json:"loaded"`
	Fresh     bool      `json:"fresh"`
	LoadedAt  time.Time `json:"loaded_at,omitempty"`
	Count     int       `json:"count"`
	Dimension int       `json:"dimension"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Store serves queries from a TTL-cached snapshot.
type Store struct {
	fetcher Fetcher
	cache   *Cache
	ttl     time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithCache injects the cache, for sharing or tests.
func WithCache(c *Cache) Option {
	return func(s *Store) { s.cache = c }
}

// WithTTL sets the cache lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// NewStore creates a Store reading through fetcher.
func NewStore(fetcher Fetcher, opts ...Option) *Store {
	s := &Store{
		fetcher: fetcher,
		ttl:     DefaultTTL,
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = NewCache()
	}
	return s
}

// Snapshot returns the cached snapshot, loading it when the cache is
// unloaded or expired. When reloading an expired entry fails, the entry is
// kept and returned together with a *StaleError; the next call retries the
// load. With nothing cached a failed load returns a nil snapshot.
func (s *Store) Snapshot(ctx context.Context) (*snapshot.Snapshot, error) {
	e := s.cache.Get()
	if e.Fresh(s.now(), s.ttl) {
		cacheLookups.WithLabelValues("hit").Inc()
		return e.Snapshot, nil
	}
	cacheLookups.WithLabelValues("miss").Inc()
	return s.load(ctx, e)
}

func (s *Store) load(ctx context.Context, prev *Entry) (*snapshot.Snapshot, error) {
	ctx, span := tracer.Start(ctx, "Store.load")
	defer span.End()

	snap, err := s.fetchAndDecode(ctx)
	if err != nil {
		snapshotLoads.WithLabelValues(loadResult(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if prev != nil {
			staleServes.Inc()
			span.SetAttributes(attribute.Bool("snapshot.stale", true))
			s.logger.Warn("snapshot reload failed, serving stale snapshot",
				zap.Time("loaded_at", prev.LoadedAt), zap.Error(err))
			return prev.Snapshot, &StaleError{Err: err, LoadedAt: prev.LoadedAt}
		}
		snapshotItems.Set(0)
		s.logger.Warn("snapshot load failed", zap.Error(err))
		return nil, err
	}

	s.cache.Install(snap, s.now())
	snapshotItems.Set(float64(snap.Count))
	snapshotLoads.WithLabelValues("success").Inc()
	span.SetAttributes(attribute.Int("snapshot.count", snap.Count))
	s.logger.Info("snapshot loaded",
		zap.Int("count", snap.Count),
		zap.Int("dimension", snap.Dimension),
		zap.Time("created_at", snap.CreatedAt))
	return snap, nil
}

func (s *Store) fetchAndDecode(ctx context.Context) (*snapshot.Snapshot, error) {
	if s.fetcher == nil {
		return nil, notFound(ErrNotConfigured)
	}
	data, err := s.fetcher.Fetch(ctx)
	if err != nil {
		var se *failure.SnapshotError
		if errors.As(err, &se) {
			return nil, err
		}
		return nil, notFound(err)
	}
	return snapshot.Decode(data)
}

func loadResult(err error) string {
	switch {
	case failure.IsNotFound(err):
		return "not_found"
	case failure.IsMalformed(err):
		return "malformed"
	default:
		return "error"
	}
}

// Query returns the K items most similar to req.Vector. Results served from
// a stale snapshot come with a *StaleError.
func (s *Store) Query(ctx context.Context, req Request) ([]Result, error) {
	start := time.Now()
	defer func() { queryDuration.Observe(time.Since(start).Seconds()) }()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	snap, err := s.Snapshot(ctx)
	if snap == nil {
		return nil, err
	}
	if len(req.Vector) != snap.Dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(req.Vector), snap.Dimension)
	}
	return Search(snap, req), err
}

// Validate checks req for a non-empty, finite vector and a positive K.
func (req Request) Validate() error {
	if len(req.Vector) == 0 || req.K <= 0 {
		return fmt.Errorf("%w: vector must be non-empty and k positive", ErrInvalidRequest)
	}
	for i, x := range req.Vector {
		if f := float64(x); math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: vector component %d is not finite", ErrInvalidRequest, i)
		}
	}
	if req.MinScore != nil && math.IsNaN(*req.MinScore) {
		return fmt.Errorf("%w: min_score is NaN", ErrInvalidRequest)
	}
	return nil
}

// Search scans snap for req without any caching. req.Vector must have the
// snapshot dimension.
func Search(snap *snapshot.Snapshot, req Request) []Result {
	type scored struct {
		index int
		score float64
	}
	matches := make([]scored, 0, len(snap.Items))
	for i := range snap.Items {
		it := &snap.Items[i]
		if !it.Matches(req.Filter) {
			continue
		}
		score := Cosine(req.Vector, it.Embedding)
		if req.MinScore != nil && score < *req.MinScore {
			continue
		}
		matches = append(matches, scored{index: i, score: score})
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].score > matches[j].score })
	if len(matches) > req.K {
		matches = matches[:req.K]
	}

	results := make([]Result, len(matches))
	for i, m := range matches {
		it := &snap.Items[m.index]
		results[i] = Result{ID: it.ID, Content: it.Content, Metadata: it.Attributes(), Score: m.score}
	}
	return results
}

// Cosine returns dot(a, b) / (|a| |b|), or 0 when either vector has zero
// norm or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Stats reports the cache state without loading.
func (s *Store) Stats() Stats {
	e := s.cache.Get()
	if e == nil {
		return Stats{}
	}
	return Stats{
		Loaded:    true,
		Fresh:     e.Fresh(s.now(), s.ttl),
		LoadedAt:  e.LoadedAt,
		Count:     e.Snapshot.Count,
		Dimension: e.Snapshot.Dimension,
		CreatedAt: e.Snapshot.CreatedAt,
	}
}

// Invalidate drops the cached snapshot. The next query reloads it.
func (s *Store) Invalidate() {
	s.cache.Clear()
	snapshotItems.Set(0)
}
