package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/vecsnap/internal/failure"
	"github.com/fyrsmithlabs/vecsnap/internal/item"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleItems() []item.Item {
	date := fixedNow.AddDate(0, 0, -3)
	return []item.Item{
		{ID: "commit:acme/api:c1", Type: item.TypeCommit, Content: "fix login", Embedding: []float32{0.1, 0.2, 0.3},
			Commit: &item.CommitMeta{Owner: "acme", Repo: "api", Hash: "c1", Date: &date}},
		{ID: "qa:s1:1", Type: item.TypeQA, Content: "how do I deploy?", Embedding: []float32{0.3, 0.2, 0.1},
			QA: &item.QAMeta{SessionID: "s1", Timestamp: &date, Category: "ops"}},
	}
}

func gz(t *testing.T, raw []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(raw)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestBuild(t *testing.T) {
	s := Build(sampleItems(), fixedNow)
	assert.Equal(t, Version, s.Version)
	assert.Equal(t, 3, s.Dimension)
	assert.Equal(t, 2, s.Count)
	assert.Equal(t, fixedNow, s.CreatedAt)

	empty := Build(nil, fixedNow)
	assert.Equal(t, DefaultDimension, empty.Dimension)
	assert.Zero(t, empty.Count)
	assert.NotNil(t, empty.Items)
}

func TestEncodeDecode(t *testing.T) {
	s := Build(sampleItems(), fixedNow)
	enc, err := Encode(s)
	require.NoError(t, err)
	assert.NotEmpty(t, enc.Raw)
	assert.NotEmpty(t, enc.Compressed)

	got, err := Decode(enc.Compressed)
	require.NoError(t, err)
	assert.Equal(t, s.Count, got.Count)
	assert.Equal(t, s.Dimension, got.Dimension)
	assert.True(t, s.CreatedAt.Equal(got.CreatedAt))
	require.Len(t, got.Items, 2)
	assert.Equal(t, "ops", got.Items[1].QA.Category)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, got.Items[0].Embedding)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		data func(t *testing.T) []byte
		kind failure.SnapshotKind
	}{
		{
			name: "not gzip",
			data: func(*testing.T) []byte { return []byte("plain text") },
			kind: failure.SnapshotMalformed,
		},
		{
			name: "bad json",
			data: func(t *testing.T) []byte { return gz(t, []byte("{not json")) },
			kind: failure.SnapshotMalformed,
		},
		{
			name: "unsupported version",
			data: func(t *testing.T) []byte {
				return gz(t, []byte(`{"version":2,"dimension":3,"count":0,"items":[]}`))
			},
			kind: failure.SnapshotNotFound,
		},
		{
			name: "count mismatch",
			data: func(t *testing.T) []byte {
				return gz(t, []byte(`{"version":1,"dimension":3,"count":5,"items":[]}`))
			},
			kind: failure.SnapshotMalformed,
		},
		{
			name: "dimension mismatch",
			data: func(t *testing.T) []byte {
				s := Build(sampleItems(), fixedNow)
				s.Dimension = 4
				raw, err := json.Marshal(s)
				require.NoError(t, err)
				return gz(t, raw)
			},
			kind: failure.SnapshotMalformed,
		},
		{
			name: "duplicate ids",
			data: func(t *testing.T) []byte {
				items := sampleItems()
				items[1].ID = items[0].ID
				raw, err := json.Marshal(Build(items, fixedNow))
				require.NoError(t, err)
				return gz(t, raw)
			},
			kind: failure.SnapshotMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data(t))
			require.Error(t, err)
			assert.True(t, failure.IsSnapshotKind(err, tt.kind), "got %v", err)
		})
	}
}

func TestEstimateSize_MatchesEncode(t *testing.T) {
	items := sampleItems()
	n, err := EstimateSize(items, fixedNow)
	require.NoError(t, err)

	enc, err := Encode(Build(items, fixedNow))
	require.NoError(t, err)
	assert.Equal(t, len(enc.Compressed), n)
}

func TestFileSink(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "out")
	sink := NewFileSink(dir)

	_, err := sink.Read(ctx, "index.json.gz")
	assert.True(t, failure.IsNotFound(err))

	loc, err := sink.Publish(ctx, "index.json.gz", []byte("first"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "index.json.gz"), loc)

	_, err = sink.Publish(ctx, "index.json.gz", []byte("second"))
	require.NoError(t, err)

	data, err := sink.Read(ctx, "index.json.gz")
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")

	_, err = sink.Publish(ctx, "../escape", []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidName)
}

type failingSink struct{}

func (failingSink) Publish(context.Context, string, []byte) (string, error) {
	return "", errors.New("bucket unavailable")
}

func TestExporter_Export(t *testing.T) {
	ctx := context.Background()
	sink := NewMemorySink()
	exp := NewExporter(sink, func() time.Time { return fixedNow }, nil)

	res, err := exp.Export(ctx, sampleItems(), "index.json.gz")
	require.NoError(t, err)
	assert.Equal(t, "memory://index.json.gz", res.Locator)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, 3, res.Dimension)
	assert.Greater(t, res.RawBytes, 0)
	assert.Greater(t, res.CompressedBytes, 0)

	s, err := Load(ctx, sink, "index.json.gz")
	require.NoError(t, err)
	assert.Equal(t, 2, s.Count)
}

func TestExporter_FailureKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	sink := NewMemorySink()
	exp := NewExporter(sink, func() time.Time { return fixedNow }, nil)

	_, err := exp.Export(ctx, sampleItems(), "index.json.gz")
	require.NoError(t, err)

	bad := sampleItems()
	bad[1].Embedding = []float32{1}
	_, err = exp.Export(ctx, bad, "index.json.gz")
	require.Error(t, err)
	assert.True(t, failure.IsSnapshotKind(err, failure.SnapshotPublish))
	assert.Equal(t, 1, sink.Publishes())

	s, err := Load(ctx, sink, "index.json.gz")
	require.NoError(t, err)
	assert.Equal(t, 2, s.Count)

	_, err = NewExporter(failingSink{}, nil, nil).Export(ctx, sampleItems(), "index.json.gz")
	assert.True(t, failure.IsSnapshotKind(err, failure.SnapshotPublish))
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(context.Background(), NewMemorySink(), "nope")
	assert.True(t, failure.IsNotFound(err))
	assert.ErrorIs(t, err, ErrMissing)
}
