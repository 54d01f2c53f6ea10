// Package logging wraps zap with the context-scoped field propagation lumen
// needs to correlate a log line with the request and collection it belongs
// to, without threading a logger through every call signature.
package logging

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process-wide logger. Format is "json" (default, for
// production log shipping) or "console" (for local development), selected
// via LUMEN_LOG_FORMAT. Level is selected via LUMEN_LOG_LEVEL, defaulting
// to info.
func New() (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if raw := os.Getenv("LUMEN_LOG_LEVEL"); raw != "" {
		if err := level.Set(strings.ToLower(raw)); err != nil {
			return nil, err
		}
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if strings.EqualFold(os.Getenv("LUMEN_LOG_FORMAT"), "console") {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(level)
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	return cfg.Build()
}

// Nop returns a logger that discards everything, for tests and embedders
// who configure their own observability stack.
func Nop() *zap.Logger { return zap.NewNop() }

type ctxKey struct{}

// fields carried on a context, merged into every log call made with that
// context via FromContext/With.
type scoped struct {
	fields []zap.Field
}

// WithRequestID returns a context carrying a request id field, appended to
// whatever scoped fields ctx already carries.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return appendField(ctx, zap.String("request_id", requestID))
}

// WithCollection returns a context carrying a collection name field.
func WithCollection(ctx context.Context, name string) context.Context {
	return appendField(ctx, zap.String("collection", name))
}

func appendField(ctx context.Context, f zap.Field) context.Context {
	prev, _ := ctx.Value(ctxKey{}).(scoped)
	next := scoped{fields: append(append([]zap.Field{}, prev.fields...), f)}
	return context.WithValue(ctx, ctxKey{}, next)
}

// ContextFields extracts the request/collection correlation fields attached
// to ctx by WithRequestID/WithCollection.
func ContextFields(ctx context.Context) []zap.Field {
	s, _ := ctx.Value(ctxKey{}).(scoped)
	return s.fields
}

// From returns a child logger with ctx's correlation fields attached, ready
// to call .Info/.Warn/.Error directly.
func From(ctx context.Context, base *zap.Logger) *zap.Logger {
	if base == nil {
		base = Nop()
	}
	if fields := ContextFields(ctx); len(fields) > 0 {
		return base.With(fields...)
	}
	return base
}
