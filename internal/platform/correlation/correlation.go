// Package correlation tags a connection's context with a short random id so
// all log lines belonging to one connection can be grepped together.
package correlation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

type ctxKey struct{}

// NewID returns a fresh 12-character hex id.
func NewID() string {
	var b [6]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// WithID attaches id to the context.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// ID reads the id back from the context; ok is false when none is attached.
func ID(ctx context.Context) (id string, ok bool) {
	id, ok = ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}
