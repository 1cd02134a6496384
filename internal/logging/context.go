package logging

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	// Trace correlation (from OpenTelemetry)
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	if runID := RunIDFromContext(ctx); runID != "" {
		fields = append(fields, zap.String("run.id", runID))
	}

	if repo := RepoFromContext(ctx); repo != "" {
		fields = append(fields, zap.String("repo", repo))
	}

	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}

	return fields
}

// Context key types
type runCtxKey struct{}
type repoCtxKey struct{}
type requestCtxKey struct{}

const (
	maxIDLen   = 128
	maxRepoLen = 200
)

var (
	// idPattern allows alphanumeric, hyphen, underscore
	idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	// repoPattern matches owner/name
	repoPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+/[a-zA-Z0-9_.-]+$`)
)

func validate(value, name string, maxLen int, pattern *regexp.Regexp) error {
	if value == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	if !utf8.ValidString(value) {
		return fmt.Errorf("%s contains invalid UTF-8", name)
	}
	if len(value) > maxLen {
		return fmt.Errorf("%s exceeds max length %d", name, maxLen)
	}
	if !pattern.MatchString(value) {
		return fmt.Errorf("%s contains invalid characters", name)
	}
	return nil
}

// RunIDFromContext extracts the pipeline run ID from context.
func RunIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(runCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithRunID adds a pipeline run ID to context.
// Panics if runID is empty or contains invalid characters.
func WithRunID(ctx context.Context, runID string) context.Context {
	if err := validate(runID, "runID", maxIDLen, idPattern); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, runCtxKey{}, runID)
}

// RepoFromContext extracts the repository full name from context.
func RepoFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(repoCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithRepo adds a repository full name (owner/name) to context.
// Panics if repo is not of the form owner/name.
func WithRepo(ctx context.Context, repo string) context.Context {
	if err := validate(repo, "repo", maxRepoLen, repoPattern); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, repoCtxKey{}, repo)
}

// ValidID reports whether id can be passed to WithRunID or WithRequestID.
func ValidID(id string) bool {
	return validate(id, "id", maxIDLen, idPattern) == nil
}

// RequestIDFromContext extracts request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithRequestID adds request ID to context.
// Panics if requestID is empty or contains invalid characters.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if err := validate(requestID, "requestID", maxIDLen, idPattern); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}
