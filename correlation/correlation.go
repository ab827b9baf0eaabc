// Package correlation carries a per-operation identifier and metadata
// through nested calls for tracing.
//
// A Context is created once per top-level operation (for example one
// scheduled download run) and threaded through call signatures as a
// context.Context value. Because it rides on the request context, it is
// scoped to that operation and cannot leak between concurrently executing
// operations: when the operation returns, normally or not, the value goes
// out of scope with its context.
package correlation

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type contextKey int

const correlationKey contextKey = iota

// Context identifies one logical operation across components.
type Context struct {
	// ID is an opaque identifier, unique per top-level operation.
	ID string

	// Operation is the name of the top-level operation.
	Operation string

	mu   sync.Mutex
	meta map[string]string
}

// New creates a correlation context for the named operation with a fresh id.
func New(operation string) *Context {
	return &Context{
		ID:        uuid.New().String(),
		Operation: operation,
		meta:      make(map[string]string),
	}
}

// Set stores a metadata key/value pair.
func (c *Context) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.meta == nil {
		c.meta = make(map[string]string)
	}
	c.meta[key] = value
}

// Get returns the metadata value for key.
func (c *Context) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.meta[key]
	return v, ok
}

// Metadata returns a copy of the metadata map.
func (c *Context) Metadata() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.meta))
	for k, v := range c.meta {
		out[k] = v
	}
	return out
}

// With returns a new context with the correlation context attached.
func With(ctx context.Context, c *Context) context.Context {
	return context.WithValue(ctx, correlationKey, c)
}

// FromContext retrieves the correlation context.
// Returns nil if none is present.
func FromContext(ctx context.Context) *Context {
	c, _ := ctx.Value(correlationKey).(*Context)
	return c
}

// ID returns the correlation id from the context.
// Returns empty string if no correlation context is present.
func ID(ctx context.Context) string {
	c := FromContext(ctx)
	if c == nil {
		return ""
	}
	return c.ID
}

// Begin creates a correlation context for operation and attaches it.
func Begin(ctx context.Context, operation string) (context.Context, *Context) {
	c := New(operation)
	return With(ctx, c), c
}
