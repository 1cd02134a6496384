package logging

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
)

// Logger is the process logger used by the CLI. Each method adds the
// correlation fields carried by ctx. Library packages receive the plain
// *zap.Logger from Underlying.
type Logger struct {
	zap *zap.Logger
}

// NewLogger builds a Logger from cfg. provider may be nil, which disables
// the OTEL output regardless of cfg.OTEL.
func NewLogger(cfg *Config, provider log.LoggerProvider) (*Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	core, err := buildCore(cfg, provider)
	if err != nil {
		return nil, err
	}
	z := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zap.ErrorLevel))
	if cfg.Service != "" {
		z = z.With(zap.String("service", cfg.Service))
	}
	return &Logger{zap: z}, nil
}

func (l *Logger) with(ctx context.Context, fields []zap.Field) []zap.Field {
	cf := ContextFields(ctx)
	if len(cf) == 0 {
		return fields
	}
	return append(cf, fields...)
}

// Debug logs at Debug level.
func (l *Logger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap.Debug(msg, l.with(ctx, fields)...)
}

// Info logs at Info level.
func (l *Logger) Info(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap.Info(msg, l.with(ctx, fields)...)
}

// Warn logs at Warn level.
func (l *Logger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap.Warn(msg, l.with(ctx, fields)...)
}

// Error logs at Error level.
func (l *Logger) Error(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap.Error(msg, l.with(ctx, fields)...)
}

// With returns a child logger carrying fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{zap: l.zap.With(fields...)}
}

// Underlying returns the wrapped zap logger without the caller skip used by
// the ctx methods.
func (l *Logger) Underlying() *zap.Logger {
	return l.zap.WithOptions(zap.AddCallerSkip(-1))
}

// Sync flushes buffered entries. EINVAL and ENOTTY from syncing a terminal
// or pipe are ignored.
func (l *Logger) Sync() error {
	err := l.zap.Sync()
	var errno syscall.Errno
	if errors.As(err, &errno) && (errno == syscall.EINVAL || errno == syscall.ENOTTY) {
		return nil
	}
	return err
}
