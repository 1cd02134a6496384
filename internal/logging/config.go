package logging

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/vecsnap/internal/config"
)

// TraceLevel sits below Debug. It is accepted as "trace" in configuration
// and used for per-item detail during ingestion.
const TraceLevel = zapcore.Level(-2)

// ParseLevel parses a level name. "trace" maps to TraceLevel; the empty
// string maps to Info.
func ParseLevel(s string) (zapcore.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return zapcore.InfoLevel, nil
	case "trace":
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}

// Config controls logger construction.
type Config struct {
	Level  zapcore.Level
	Format string // json or console

	// Service is attached to every entry as the service field.
	Service string

	// OTEL tees entries to the OpenTelemetry log bridge when a provider is
	// passed to New.
	OTEL bool

	Sampling  SamplingConfig
	Redaction RedactionConfig

	// Output receives encoded entries. Nil means stdout.
	Output zapcore.WriteSyncer
}

// SamplingConfig limits repeated entries below Error. Within each Tick the
// first Initial entries with the same message pass, then every Thereafter-th.
type SamplingConfig struct {
	Enabled    bool
	Tick       time.Duration
	Initial    int
	Thereafter int
}

// RedactionConfig lists field names whose values are always hidden and
// value patterns that are hidden under any field name.
type RedactionConfig struct {
	Fields   []string
	Patterns []string
}

// maxPatternLen bounds redaction patterns to keep regexp cost predictable.
const maxPatternLen = 200

// NewDefaultConfig returns the configuration used when nothing is set.
func NewDefaultConfig() *Config {
	return &Config{
		Level:   zapcore.InfoLevel,
		Format:  "json",
		Service: "vecsnap",
		Sampling: SamplingConfig{
			Enabled:    true,
			Tick:       time.Second,
			Initial:    100,
			Thereafter: 10,
		},
		Redaction: RedactionConfig{
			Fields: []string{
				"password", "secret", "token", "api_key", "apikey",
				"authorization", "github_token", "private_key",
			},
			Patterns: []string{
				`(?i)bearer\s+\S+`,
				`(?i)api[_-]?key[=:]\s*\S+`,
				`gh[pousr]_[A-Za-z0-9]{36,}`,
				`github_pat_[A-Za-z0-9_]{22,}`,
			},
		},
	}
}

// FromConfig maps the logging section of the application config. otel
// enables the OpenTelemetry output.
func FromConfig(cfg config.LoggingConfig, otel bool) (*Config, error) {
	c := NewDefaultConfig()
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	c.Level = level
	if cfg.Format != "" {
		c.Format = cfg.Format
	}
	c.Sampling.Enabled = cfg.Sampling
	c.OTEL = otel
	return c, c.Validate()
}

// Validate checks c for errors.
func (c *Config) Validate() error {
	var errs []error
	if c.Format != "json" && c.Format != "console" {
		errs = append(errs, fmt.Errorf("format must be json or console, got %q", c.Format))
	}
	if s := c.Sampling; s.Enabled && (s.Tick <= 0 || s.Initial < 1 || s.Thereafter < 0) {
		errs = append(errs, errors.New("sampling needs a positive tick and initial count"))
	}
	for _, p := range c.Redaction.Patterns {
		if len(p) > maxPatternLen {
			errs = append(errs, fmt.Errorf("redaction pattern longer than %d characters", maxPatternLen))
			continue
		}
		if _, err := regexp.Compile(p); err != nil {
			errs = append(errs, fmt.Errorf("redaction pattern %q: %w", p, err))
		}
	}
	return errors.Join(errs...)
}
