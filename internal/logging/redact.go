package logging

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	redacted        = "[REDACTED]"
	redactedPattern = "[REDACTED:pattern]"
)

// redactor rewrites fields before they reach any encoder, so stdout and the
// OTEL bridge see the same redacted values.
type redactor struct {
	fields   map[string]struct{}
	patterns []*regexp.Regexp
}

func newRedactor(cfg RedactionConfig) (*redactor, error) {
	r := &redactor{fields: make(map[string]struct{}, len(cfg.Fields))}
	for _, f := range cfg.Fields {
		r.fields[strings.ToLower(f)] = struct{}{}
	}
	for _, p := range cfg.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("redaction pattern %q: %w", p, err)
		}
		r.patterns = append(r.patterns, re)
	}
	return r, nil
}

func (r *redactor) sensitiveKey(key string) bool {
	_, ok := r.fields[strings.ToLower(key)]
	return ok
}

func (r *redactor) matches(s string) bool {
	for _, re := range r.patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// field returns f with its value hidden when the key is sensitive or a
// string value matches a pattern. Errors are checked by their message.
func (r *redactor) field(f zapcore.Field) zapcore.Field {
	if r.sensitiveKey(f.Key) {
		return zap.String(f.Key, redacted)
	}
	switch f.Type {
	case zapcore.StringType:
		if r.matches(f.String) {
			return zap.String(f.Key, redactedPattern)
		}
	case zapcore.ErrorType:
		if err, ok := f.Interface.(error); ok && r.matches(err.Error()) {
			return zap.String(f.Key, redactedPattern)
		}
	case zapcore.StringerType:
		if s, ok := f.Interface.(fmt.Stringer); ok && r.matches(s.String()) {
			return zap.String(f.Key, redactedPattern)
		}
	}
	return f
}

func (r *redactor) apply(fields []zapcore.Field) []zapcore.Field {
	if len(fields) == 0 {
		return fields
	}
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		out[i] = r.field(f)
	}
	return out
}

// redactCore applies a redactor to entry messages, entry fields and fields
// added with With.
type redactCore struct {
	zapcore.Core
	r *redactor
}

func (c *redactCore) With(fields []zapcore.Field) zapcore.Core {
	return &redactCore{Core: c.Core.With(c.r.apply(fields)), r: c.r}
}

func (c *redactCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(e.Level) {
		return ce.AddCore(e, c)
	}
	return ce
}

func (c *redactCore) Write(e zapcore.Entry, fields []zapcore.Field) error {
	if c.r.matches(e.Message) {
		e.Message = redactedPattern
	}
	return c.Core.Write(e, c.r.apply(fields))
}
