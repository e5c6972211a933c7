// Package correlation threads a correlation ID through a logical request
// using context values.
package correlation

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

type ctxKey struct{}

// New returns a fresh correlation ID.
func New() string {
	return uuid.NewString()
}

// WithID returns a context carrying id. An existing ID is never replaced.
func WithID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	if _, ok := FromContext(ctx); ok {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the correlation ID stored in ctx.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}

// Ensure returns ctx with a correlation ID, assigning a new one if missing,
// and the ID itself.
func Ensure(ctx context.Context) (context.Context, string) {
	if id, ok := FromContext(ctx); ok {
		return ctx, id
	}
	id := New()
	return context.WithValue(ctx, ctxKey{}, id), id
}

// Logger returns l annotated with the correlation ID from ctx.
func Logger(ctx context.Context, l *log.Logger) *log.Logger {
	if l == nil {
		l = log.Default()
	}
	if id, ok := FromContext(ctx); ok {
		return l.With("cid", id)
	}
	return l
}
