package embeddings

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vecsnap/internal/chunker"
	"github.com/fyrsmithlabs/vecsnap/internal/failure"
)

// runeTokenizer treats each rune as one token.
type runeTokenizer struct{}

func (runeTokenizer) Encode(text string) ([]int, error) {
	out := make([]int, 0, len(text))
	for _, r := range text {
		out = append(out, int(r))
	}
	return out, nil
}

func (runeTokenizer) Decode(tokens []int) (string, error) {
	var b strings.Builder
	for _, t := range tokens {
		b.WriteRune(rune(t))
	}
	return b.String(), nil
}

// fakeProvider returns a vector derived from the text length, or fails for
// texts containing failOn.
type fakeProvider struct {
	failOn   string
	calls    atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration

	mu    sync.Mutex
	texts []string
}

func (f *fakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()

	if f.failOn != "" && strings.Contains(text, f.failOn) {
		return nil, errors.New("upstream 500")
	}
	return []float32{float32(len(text)), 1}, nil
}

func (f *fakeProvider) Dimension() int { return 2 }
func (f *fakeProvider) Close() error   { return nil }

func newSplitter(t *testing.T, max int) *chunker.Splitter {
	t.Helper()
	s, err := chunker.NewSplitter(runeTokenizer{}, max)
	require.NoError(t, err)
	return s
}

func TestLong_ShortTextSingleCall(t *testing.T) {
	p := &fakeProvider{}
	l := NewLong(p, newSplitter(t, 10), LongConfig{Name: "fake"}, zap.NewNop())

	v, err := l.EmbedLong(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 1}, v)
	assert.Equal(t, int32(1), p.calls.Load())
	assert.Equal(t, 2, l.Dimension())
}

func TestLong_AveragesChunkVectors(t *testing.T) {
	p := &fakeProvider{}
	l := NewLong(p, newSplitter(t, 4), LongConfig{Name: "fake"}, nil)

	// 10 runes at budget 4 gives chunks of 4, 4 and 2.
	v, err := l.EmbedLong(context.Background(), "abcdefghij")
	require.NoError(t, err)
	assert.Equal(t, int32(3), p.calls.Load())
	assert.InDeltaSlice(t, []float32{10.0 / 3.0, 1}, v, 1e-5)
}

func TestLong_BoundsConcurrency(t *testing.T) {
	p := &fakeProvider{delay: 5 * time.Millisecond}
	l := NewLong(p, newSplitter(t, 1), LongConfig{Concurrency: 2}, nil)

	_, err := l.EmbedLong(context.Background(), strings.Repeat("x", 12))
	require.NoError(t, err)
	assert.Equal(t, int32(12), p.calls.Load())
	assert.LessOrEqual(t, p.maxSeen.Load(), int32(2))
}

func TestLong_ProviderFailureIsProviderError(t *testing.T) {
	p := &fakeProvider{failOn: "z"}
	l := NewLong(p, newSplitter(t, 3), LongConfig{Name: "openai"}, nil)

	v, err := l.EmbedLong(context.Background(), "abcxyz")
	require.Error(t, err)
	assert.Nil(t, v)

	var pe *failure.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "openai", pe.Provider)
	assert.Equal(t, "embed", pe.Op)
}

type failingTokenizer struct{}

func (failingTokenizer) Encode(string) ([]int, error)  { return nil, errors.New("bad bpe") }
func (failingTokenizer) Decode([]int) (string, error) { return "", nil }

func TestLong_TokenizerFailureIsProviderError(t *testing.T) {
	s, err := chunker.NewSplitter(failingTokenizer{}, 10)
	require.NoError(t, err)
	p := &fakeProvider{}
	l := NewLong(p, s, LongConfig{Name: "openai"}, nil)

	_, err = l.EmbedLong(context.Background(), "text")
	assert.True(t, failure.IsProvider(err))
	assert.ErrorIs(t, err, chunker.ErrTokenization)
	assert.Equal(t, int32(0), p.calls.Load())
}

func TestRateLimited_Delegates(t *testing.T) {
	p := &fakeProvider{}
	r := NewRateLimited(p, 1000, 0)

	v, err := r.Embed(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 1}, v)
	assert.Equal(t, 2, r.Dimension())
}

func TestRateLimited_CancelledContext(t *testing.T) {
	p := &fakeProvider{}
	r := NewRateLimited(p, 0.001, 1)

	// Drain the single burst token.
	_, err := r.Embed(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = r.Embed(ctx, "b")
	assert.Error(t, err)
	assert.Equal(t, int32(1), p.calls.Load())
}

type stubDocs struct {
	vectors [][]float32
	err     error
}

func (s stubDocs) EmbedDocuments(context.Context, []string) ([][]float32, error) {
	return s.vectors, s.err
}

func TestOpenAIProvider_Embed(t *testing.T) {
	newProvider := func(docs documentEmbedder, dim int) *OpenAIProvider {
		return &OpenAIProvider{embedder: docs, model: "m", dimension: dim, metrics: NewMetrics(nil)}
	}

	v, err := newProvider(stubDocs{vectors: [][]float32{{1, 2, 3}}}, 3).Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, v)

	_, err = newProvider(stubDocs{}, 3).Embed(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = newProvider(stubDocs{err: errors.New("429")}, 3).Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)

	_, err = newProvider(stubDocs{vectors: [][]float32{{1, 2}}}, 3).Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestNewProvider(t *testing.T) {
	_, err := NewProvider(ProviderConfig{Provider: "word2vec"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	p, err := NewProvider(ProviderConfig{
		Provider:          "openai",
		BaseURL:           "http://localhost:8080/v1",
		Model:             "BAAI/bge-small-en-v1.5",
		RequestsPerSecond: 10,
	}, nil)
	require.NoError(t, err)
	assert.IsType(t, &RateLimited{}, p)
	assert.Equal(t, 384, p.Dimension())
	assert.NoError(t, p.Close())
}

func TestDetectDimensionFromModel(t *testing.T) {
	tests := map[string]int{
		"text-embedding-3-small": 1536,
		"text-embedding-3-large": 3072,
		"BAAI/bge-base-en-v1.5":  768,
		"custom-large-model":     1024,
		"my-mini-encoder":        384,
		"unknown":                DefaultDimension,
	}
	for model, want := range tests {
		assert.Equal(t, want, detectDimensionFromModel(model), model)
	}
}
