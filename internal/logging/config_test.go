package logging

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/vecsnap/internal/config"
)

func TestConfig_Defaults(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, zapcore.InfoLevel, cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, "vecsnap", cfg.Service)
	assert.False(t, cfg.OTEL)
	assert.True(t, cfg.Sampling.Enabled)
	assert.Equal(t, time.Second, cfg.Sampling.Tick)
	assert.Contains(t, cfg.Redaction.Fields, "github_token")
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"console format", func(c *Config) { c.Format = "console" }, ""},
		{"bad format", func(c *Config) { c.Format = "xml" }, "format must be json or console"},
		{"zero tick", func(c *Config) { c.Sampling.Tick = 0 }, "sampling"},
		{"sampling disabled ignores tick", func(c *Config) {
			c.Sampling.Enabled = false
			c.Sampling.Tick = 0
		}, ""},
		{"bad pattern", func(c *Config) { c.Redaction.Patterns = []string{"("} }, "redaction pattern"},
		{"long pattern", func(c *Config) {
			c.Redaction.Patterns = []string{strings.Repeat("a", maxPatternLen+1)}
		}, "longer than"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"", zapcore.InfoLevel},
		{"trace", TraceLevel},
		{"DEBUG", zapcore.DebugLevel},
		{" warn ", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("loud")
	assert.ErrorContains(t, err, `unknown log level "loud"`)
}

func TestFromConfig(t *testing.T) {
	cfg, err := FromConfig(config.LoggingConfig{Level: "debug", Format: "console", Sampling: false}, true)
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)
	assert.False(t, cfg.Sampling.Enabled)
	assert.True(t, cfg.OTEL)

	cfg, err = FromConfig(config.LoggingConfig{}, false)
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Format)

	_, err = FromConfig(config.LoggingConfig{Level: "verbose"}, false)
	assert.Error(t, err)

	_, err = FromConfig(config.LoggingConfig{Format: "xml"}, false)
	assert.Error(t, err)
}
