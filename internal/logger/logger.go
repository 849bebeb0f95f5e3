// Package logger builds the process-wide zap logger and carries trace IDs
// through context.Context.
package logger

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// Config selects the log level ("debug", "info", ...) and the encoder.
// Dev switches from JSON to human-readable console output.
type Config struct {
	Level string
	Dev   bool
}

// Init creates the logger for service and installs it as the zap global,
// so zap.L() in packages without an injected logger uses the same sink.
func Init(service string, cfg Config) (*zap.Logger, error) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("logger: invalid level %q: %w", cfg.Level, err)
	}

	zc := zap.NewProductionConfig()
	if cfg.Dev {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	l, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("logger: build: %w", err)
	}
	l = l.With(zap.String("service", service))
	zap.ReplaceGlobals(l)
	return l, nil
}

// Nop returns a logger that discards everything. Used as the default for
// components constructed without one.
func Nop() *zap.Logger { return zap.NewNop() }

// WithTraceID stores a trace ID in the context for downstream propagation.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID extracts the trace ID from context. Returns "" if not set.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// GenerateTraceID creates a trace ID from a token and timestamp.
// Format: "{token}-{unixNano}".
func GenerateTraceID(token string, ts time.Time) string {
	return fmt.Sprintf("%s-%d", token, ts.UnixNano())
}

// LogWithTrace returns the trace_id field from ctx, or nil.
// Usage: log.Info("msg", logger.LogWithTrace(ctx)...)
func LogWithTrace(ctx context.Context) []zap.Field {
	tid := TraceID(ctx)
	if tid == "" {
		return nil
	}
	return []zap.Field{zap.String(string(traceIDKey), tid)}
}

// FromContext returns l annotated with the trace ID carried by ctx.
func FromContext(ctx context.Context, l *zap.Logger) *zap.Logger {
	if f := LogWithTrace(ctx); f != nil {
		return l.With(f...)
	}
	return l
}
