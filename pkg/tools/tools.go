// Package tools implements the server-side functions the conversational
// engine can invoke during a call, and the dispatch protocol that runs them.
package tools

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrSlotTaken reports an appointment write that collided with an existing
// booking. It is surfaced to the engine as a structured failure result, never
// as a fatal error.
var ErrSlotTaken = errors.New("appointment slot already taken")

// Invocation is one tool call from an engine turn.
type Invocation struct {
	Name string
	ID   string
	Args map[string]any
}

// Result is the response for exactly one invocation, correlated by ID.
type Result struct {
	Name    string
	ID      string
	Content map[string]any
}

// Handler executes one tool's business logic. Implementations must return
// structured failure content for conversational errors (missing record, slot
// conflict) and reserve the error return for infrastructure faults.
type Handler interface {
	Name() string
	Execute(ctx context.Context, streamSID string, args map[string]any) (map[string]any, error)
}

// Registry is the closed set of handlers advertised for a session.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry builds a registry from the given handlers. Later handlers with
// a duplicate name replace earlier ones.
func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{handlers: make(map[string]Handler, len(handlers))}
	for _, h := range handlers {
		r.handlers[h.Name()] = h
	}
	return r
}

// Lookup returns the handler for name, or nil when the tool is unknown.
func (r *Registry) Lookup(name string) Handler {
	if r == nil {
		return nil
	}
	return r.handlers[name]
}

// Definition is an opaque tool schema advertised to the engine. The schema is
// passed through as-is; the bridge does not interpret it.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

func argString(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}
