package logging

import (
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// buildCore assembles the output chain:
//
//	sampler -> redaction -> tee(stdout, otel)
//
// Redaction sits below the sampler so dropped entries are never inspected.
func buildCore(cfg *Config, provider log.LoggerProvider) (zapcore.Core, error) {
	out := cfg.Output
	if out == nil {
		out = zapcore.Lock(os.Stdout)
	}
	cores := []zapcore.Core{zapcore.NewCore(newEncoder(cfg.Format), out, cfg.Level)}
	if cfg.OTEL && provider != nil {
		cores = append(cores, levelRange{
			Core: otelzap.NewCore("github.com/fyrsmithlabs/vecsnap", otelzap.WithLoggerProvider(provider)),
			min:  cfg.Level,
			max:  zapcore.FatalLevel,
		})
	}

	r, err := newRedactor(cfg.Redaction)
	if err != nil {
		return nil, err
	}
	var core zapcore.Core = &redactCore{Core: zapcore.NewTee(cores...), r: r}
	return sample(core, cfg.Sampling), nil
}

func newEncoder(format string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "ts"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeLevel = encodeLevel
	if format == "console" {
		return zapcore.NewConsoleEncoder(ec)
	}
	return zapcore.NewJSONEncoder(ec)
}

// encodeLevel writes TraceLevel as "trace" instead of "Level(-2)".
func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l == TraceLevel {
		enc.AppendString("trace")
		return
	}
	zapcore.LowercaseLevelEncoder(l, enc)
}

// sample passes Error and above straight through and samples the rest.
func sample(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}
	return zapcore.NewTee(
		levelRange{Core: core, min: zapcore.ErrorLevel, max: zapcore.FatalLevel},
		zapcore.NewSamplerWithOptions(
			levelRange{Core: core, min: TraceLevel, max: zapcore.WarnLevel},
			cfg.Tick, cfg.Initial, cfg.Thereafter,
		),
	)
}

// levelRange restricts a core to levels in [min, max].
type levelRange struct {
	zapcore.Core
	min, max zapcore.Level
}

func (c levelRange) Enabled(l zapcore.Level) bool {
	return l >= c.min && l <= c.max && c.Core.Enabled(l)
}

func (c levelRange) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c levelRange) With(fields []zapcore.Field) zapcore.Core {
	return levelRange{Core: c.Core.With(fields), min: c.min, max: c.max}
}
