// Package convo holds the per-call conversation state machine. States are
// opaque labels defined by the configured conversation graph; the durable
// store is the authority so state survives process restarts.
package convo

import (
	"context"
	"fmt"
)

// StartState is the label assigned when a session is first created.
const StartState = "START"

// Transition is the outcome of a matched graph edge: the state the session
// moved to and the instruction text to inject into the engine's context.
type Transition struct {
	ToState           string
	InstructionUpdate string
}

// Store is the durable authority for session state. ApplyTransition must be a
// single atomic check-and-set: it looks up the edge matching the session's
// current state and the trigger tool, writes the new state if one matches, and
// returns nil when no edge matches. Two concurrent calls for the same session
// must not both observe the pre-transition state and both write.
type Store interface {
	CurrentState(ctx context.Context, streamSID string) (string, error)
	ApplyTransition(ctx context.Context, streamSID, toolName string) (*Transition, error)
}

// Machine applies the single legal transition rule for one tool invocation.
type Machine struct {
	store Store
}

// NewMachine wraps the given store.
func NewMachine(store Store) *Machine {
	return &Machine{store: store}
}

// Advance runs the transition lookup for (current state, toolName). It returns
// nil when no edge matches; state is unchanged in that case. An empty graph is
// valid configuration, not an error.
func (m *Machine) Advance(ctx context.Context, streamSID, toolName string) (*Transition, error) {
	if streamSID == "" {
		return nil, fmt.Errorf("stream sid is required")
	}

	tr, err := m.store.ApplyTransition(ctx, streamSID, toolName)
	if err != nil {
		return nil, fmt.Errorf("apply transition for %q: %w", toolName, err)
	}
	return tr, nil
}

// State reads the session's current state label from the store.
func (m *Machine) State(ctx context.Context, streamSID string) (string, error) {
	state, err := m.store.CurrentState(ctx, streamSID)
	if err != nil {
		return "", fmt.Errorf("read state: %w", err)
	}
	if state == "" {
		return StartState, nil
	}
	return state, nil
}
