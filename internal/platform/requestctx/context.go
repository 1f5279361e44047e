// Package requestctx carries the per-request logger, trace ids and access-log annotations through
// context without the packages that read them depending on each other.
package requestctx

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type (
	loggerKey      struct{}
	traceKey       struct{}
	annotationsKey struct{}
)

var noopLogger = zap.NewNop()

// WithLogger stores logger on ctx.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// Logger returns the request logger, or NoopLogger when none was stored.
func Logger(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok {
			return logger
		}
	}
	return noopLogger
}

// NoopLogger is the shared logger Logger falls back to.
func NoopLogger() *zap.Logger { return noopLogger }

// TraceInfo identifies the span serving the request.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// WithTrace stores info on ctx.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return context.WithValue(ctx, traceKey{}, info)
}

// Trace returns the stored TraceInfo.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceKey{}).(TraceInfo)
	return info, ok
}

// TraceID returns the stored trace id or "".
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// Annotations collects fields that inner handlers learn, such as the caller's uid, for the access
// log line written by an outer middleware.
type Annotations struct {
	mu     sync.Mutex
	fields []zap.Field
}

// WithAnnotations attaches an empty Annotations to ctx.
func WithAnnotations(ctx context.Context) (context.Context, *Annotations) {
	a := &Annotations{}
	return context.WithValue(ctx, annotationsKey{}, a), a
}

// Annotate adds fields to the Annotations on ctx. It is a no-op when there are none.
func Annotate(ctx context.Context, fields ...zap.Field) {
	a, ok := ctx.Value(annotationsKey{}).(*Annotations)
	if !ok {
		return
	}
	a.mu.Lock()
	a.fields = append(a.fields, fields...)
	a.mu.Unlock()
}

// Fields returns a copy of the collected fields.
func (a *Annotations) Fields() []zap.Field {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]zap.Field(nil), a.fields...)
}
