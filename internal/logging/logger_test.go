package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/log/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newBufferLogger(t *testing.T, mutate func(*Config)) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	cfg := NewDefaultConfig()
	cfg.Output = zapcore.AddSync(&buf)
	if mutate != nil {
		mutate(cfg)
	}
	l, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	return l, &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	_, err := NewLogger(cfg, nil)
	assert.ErrorContains(t, err, "invalid logging config")
}

func TestLogger_JSONOutput(t *testing.T) {
	l, buf := newBufferLogger(t, nil)
	ctx := WithRunID(context.Background(), "run-1")

	l.Info(ctx, "cycle finished", zap.Int("items", 4))
	l.Debug(ctx, "hidden at info")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "cycle finished", lines[0]["msg"])
	assert.Equal(t, "vecsnap", lines[0]["service"])
	assert.Equal(t, "run-1", lines[0]["run.id"])
	assert.EqualValues(t, 4, lines[0]["items"])
	assert.Contains(t, lines[0]["caller"], "logger_test.go")
}

func TestLogger_TraceLevel(t *testing.T) {
	l, buf := newBufferLogger(t, func(c *Config) { c.Level = TraceLevel })

	l.Underlying().Log(TraceLevel, "chunk emitted")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "trace", lines[0]["level"])
}

func TestLogger_RedactsOutput(t *testing.T) {
	l, buf := newBufferLogger(t, nil)

	l.Warn(context.Background(), "fetch failed", zap.String("github_token", "ghp_x"), zap.String("repo", "acme/api"))

	out := buf.String()
	assert.NotContains(t, out, "ghp_x")
	assert.Contains(t, out, `"github_token":"[REDACTED]"`)
	assert.Contains(t, out, `"repo":"acme/api"`)
}

func TestLogger_SamplingKeepsErrors(t *testing.T) {
	l, buf := newBufferLogger(t, func(c *Config) {
		c.Sampling = SamplingConfig{Enabled: true, Tick: time.Minute, Initial: 2, Thereafter: 0}
	})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		l.Info(ctx, "repeated")
		l.Error(ctx, "failing")
	}

	var infos, errs int
	for _, line := range decodeLines(t, buf) {
		switch line["msg"] {
		case "repeated":
			infos++
		case "failing":
			errs++
		}
	}
	assert.Equal(t, 2, infos)
	assert.Equal(t, 10, errs)
}

func TestLogger_SamplingDisabled(t *testing.T) {
	l, buf := newBufferLogger(t, func(c *Config) { c.Sampling.Enabled = false })

	for i := 0; i < 150; i++ {
		l.Info(context.Background(), "repeated")
	}
	assert.Len(t, decodeLines(t, buf), 150)
}

func TestLogger_OTELProvider(t *testing.T) {
	var buf bytes.Buffer
	cfg := NewDefaultConfig()
	cfg.Output = zapcore.AddSync(&buf)
	cfg.OTEL = true

	l, err := NewLogger(cfg, noop.NewLoggerProvider())
	require.NoError(t, err)

	l.Info(context.Background(), "teed")
	assert.Contains(t, buf.String(), `"msg":"teed"`)
}

func TestLogger_With(t *testing.T) {
	l, buf := newBufferLogger(t, nil)

	l.With(zap.String("component", "retention")).Info(context.Background(), "stage done")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "retention", lines[0]["component"])
}

func TestLevelRange(t *testing.T) {
	core := levelRange{
		Core: zapcore.NewCore(newEncoder("json"), zapcore.AddSync(io.Discard), zapcore.DebugLevel),
		min:  zapcore.InfoLevel,
		max:  zapcore.WarnLevel,
	}
	assert.False(t, core.Enabled(zapcore.DebugLevel))
	assert.True(t, core.Enabled(zapcore.InfoLevel))
	assert.True(t, core.Enabled(zapcore.WarnLevel))
	assert.False(t, core.Enabled(zapcore.ErrorLevel))
}

func TestTestLogger_Assertions(t *testing.T) {
	tl := NewTestLogger()

	tl.Warn(context.Background(), "tree listing failed", zap.String("repo", "acme/api"), zap.String("token", "t"))

	tl.AssertLogged(t, zapcore.WarnLevel, "tree listing")
	tl.AssertNotLogged(t, zapcore.ErrorLevel, "tree listing")
	tl.AssertField(t, "tree listing failed", "repo", "acme/api")
	tl.AssertField(t, "tree listing failed", "token", redacted)
	assert.Len(t, tl.All(), 1)
}
