package query

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/fyrsmithlabs/vecsnap/internal/failure"
	"github.com/fyrsmithlabs/vecsnap/internal/snapshot"
)

// DefaultMaxFetchSize bounds the compressed artifact read by HTTPFetcher.
const DefaultMaxFetchSize = 512 << 20

// ErrNotConfigured indicates a fetcher without a location.
var ErrNotConfigured = errors.New("snapshot location not configured")

// Fetcher retrieves the compressed snapshot artifact. A missing or
// misconfigured artifact is a *failure.SnapshotError of kind SnapshotNotFound.
type Fetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
}

func notFound(err error) error {
	return failure.NewSnapshotError(failure.SnapshotNotFound, "fetch", err)
}

// FileFetcher reads the artifact from a local path.
type FileFetcher struct {
	Path string
}

// Fetch implements Fetcher.
func (f FileFetcher) Fetch(ctx context.Context) ([]byte, error) {
	if f.Path == "" {
		return nil, notFound(ErrNotConfigured)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(fmt.Errorf("%w: %s", snapshot.ErrMissing, f.Path))
	}
	if err != nil {
		return nil, notFound(fmt.Errorf("reading %s: %w", f.Path, err))
	}
	return data, nil
}

// SinkFetcher reads the artifact called Name from a snapshot.Reader.
type SinkFetcher struct {
	Reader snapshot.Reader
	Name   string
}

// Fetch implements Fetcher.
func (f SinkFetcher) Fetch(ctx context.Context) ([]byte, error) {
	if f.Reader == nil || f.Name == "" {
		return nil, notFound(ErrNotConfigured)
	}
	return f.Reader.Read(ctx, f.Name)
}

// HTTPFetcher downloads the artifact from a URL, typically CDN-fronted
// object storage.
type HTTPFetcher struct {
	URL     string
	Client  *http.Client
	MaxSize int64
}

// NewHTTPFetcher returns an HTTPFetcher with a bounded client timeout.
func NewHTTPFetcher(url string, timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPFetcher{
		URL:     url,
		Client:  &http.Client{Timeout: timeout},
		MaxSize: DefaultMaxFetchSize,
	}
}

// Fetch implements Fetcher. Every failure, including non-2xx statuses, is
// reported as not found so callers degrade instead of failing hard.
func (f *HTTPFetcher) Fetch(ctx context.Context) ([]byte, error) {
	if f.URL == "" {
		return nil, notFound(ErrNotConfigured)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	maxSize := f.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFetchSize
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, notFound(fmt.Errorf("creating request: %w", err))
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, notFound(fmt.Errorf("fetching %s: %w", f.URL, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, notFound(fmt.Errorf("%w: %s", snapshot.ErrMissing, f.URL))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, notFound(fmt.Errorf("fetching %s: unexpected status %d", f.URL, resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSize+1))
	if err != nil {
		return nil, notFound(fmt.Errorf("reading body: %w", err))
	}
	if int64(len(data)) > maxSize {
		return nil, failure.NewSnapshotError(failure.SnapshotMalformed, "fetch", snapshot.ErrTooLarge)
	}
	return data, nil
}
