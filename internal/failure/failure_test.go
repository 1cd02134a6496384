package failure

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderError_Unwrap(t *testing.T) {
	base := errors.New("quota exceeded")
	err := NewProviderError("openai", "embed", base)

	require.Error(t, err)
	assert.ErrorIs(t, err, base)
	assert.True(t, IsProvider(err))
	assert.Contains(t, err.Error(), "openai embed failed")
}

func TestNewProviderError_NilAndIdempotent(t *testing.T) {
	assert.NoError(t, NewProviderError("github", "list_tree", nil))

	inner := NewProviderError("github", "list_tree", errors.New("boom"))
	wrapped := NewProviderError("other", "op", inner)
	assert.Same(t, inner, wrapped)
}

func TestSnapshotError_Kinds(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		notFound  bool
		malformed bool
	}{
		{"not found", NewSnapshotError(SnapshotNotFound, "load", errors.New("missing")), true, false},
		{"malformed", NewSnapshotError(SnapshotMalformed, "load", errors.New("bad gzip")), false, true},
		{"publish", NewSnapshotError(SnapshotPublish, "export", errors.New("disk full")), false, false},
		{"wrapped", fmt.Errorf("query: %w", NewSnapshotError(SnapshotMalformed, "load", errors.New("x"))), false, true},
		{"plain", errors.New("plain"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.notFound, IsNotFound(tt.err))
			assert.Equal(t, tt.malformed, IsMalformed(tt.err))
		})
	}
}

func TestPartialFailure_Unwrap(t *testing.T) {
	base := errors.New("timeout")
	var err error = &PartialFailure{Unit: "acme/api", Err: base}

	assert.ErrorIs(t, err, base)
	assert.Equal(t, "partial failure in acme/api: timeout", err.Error())
}

func TestConfigError(t *testing.T) {
	err := NewConfigError("sources.github_token", "required when sources are configured")

	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "sources.github_token", ce.Field)
}
