package logging

import (
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger records entries in memory. Entries pass through the default
// redaction, so tests see what production output would contain.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

// NewTestLogger returns a TestLogger that records every level.
func NewTestLogger() *TestLogger {
	core, observed := observer.New(TraceLevel)
	r, err := newRedactor(NewDefaultConfig().Redaction)
	if err != nil {
		panic(err)
	}
	z := zap.New(&redactCore{Core: core, r: r}, zap.AddCallerSkip(1))
	return &TestLogger{Logger: &Logger{zap: z}, observed: observed}
}

// All returns the recorded entries.
func (t *TestLogger) All() []observer.LoggedEntry {
	return t.observed.All()
}

// FilterMessage returns the entries whose message contains msg.
func (t *TestLogger) FilterMessage(msg string) *observer.ObservedLogs {
	return t.observed.FilterMessageSnippet(msg)
}

// AssertLogged fails tb unless an entry at level contains msg.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, msg string) {
	tb.Helper()
	for _, e := range t.observed.All() {
		if e.Level == level && strings.Contains(e.Message, msg) {
			return
		}
	}
	tb.Errorf("no %v entry containing %q in %d entries", level, msg, t.observed.Len())
}

// AssertNotLogged fails tb if an entry at level contains msg.
func (t *TestLogger) AssertNotLogged(tb testing.TB, level zapcore.Level, msg string) {
	tb.Helper()
	for _, e := range t.observed.All() {
		if e.Level == level && strings.Contains(e.Message, msg) {
			tb.Errorf("unexpected %v entry %q", level, e.Message)
		}
	}
}

// AssertField fails tb unless an entry containing msg carries key=want.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, want any) {
	tb.Helper()
	for _, e := range t.FilterMessage(msg).All() {
		if got, ok := e.ContextMap()[key]; ok && reflect.DeepEqual(got, want) {
			return
		}
	}
	tb.Errorf("no entry containing %q with %s=%v", msg, key, want)
}
