package tools

import (
	"context"
	"log/slog"
	"sync"

	"github.com/carelink-ai/voicebridge/pkg/convo"
)

// Dispatcher executes the tool invocations of one engine turn. Invocations run
// concurrently so a slow lookup never delays a fast one, and the aggregated
// results are returned only once every invocation has completed: the engine
// blocks until it has one result per call.
type Dispatcher struct {
	machine  *convo.Machine
	registry *Registry
	logger   *slog.Logger
}

// NewDispatcher wires the state machine and handler registry together.
func NewDispatcher(machine *convo.Machine, registry *Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{machine: machine, registry: registry, logger: logger}
}

// Dispatch runs every invocation and returns exactly one result per
// invocation, in input order, each correlated by ID. Unknown tool names get an
// acknowledged empty result; handler faults become structured failure content.
// A missing result would stall the engine, so nothing here can drop one.
func (d *Dispatcher) Dispatch(ctx context.Context, streamSID string, calls []Invocation) []Result {
	results := make([]Result, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, inv Invocation) {
			defer wg.Done()
			results[idx] = d.dispatchOne(ctx, streamSID, inv)
		}(i, call)
	}
	wg.Wait()

	return results
}

func (d *Dispatcher) dispatchOne(ctx context.Context, streamSID string, inv Invocation) Result {
	// Transition first: the instruction update rides along with whatever the
	// handler returns. Persistence trouble degrades to "no transition".
	var transition *convo.Transition
	if d.machine != nil && streamSID != "" {
		tr, err := d.machine.Advance(ctx, streamSID, inv.Name)
		if err != nil {
			d.logger.Warn("state transition lookup failed",
				"stream_sid", streamSID, "tool", inv.Name, "error", err)
		} else {
			transition = tr
		}
	}

	content := d.execute(ctx, streamSID, inv)

	if transition != nil {
		content["instruction_update"] = transition.InstructionUpdate
		content["conversation_state"] = transition.ToState
	}

	return Result{Name: inv.Name, ID: inv.ID, Content: content}
}

func (d *Dispatcher) execute(ctx context.Context, streamSID string, inv Invocation) map[string]any {
	handler := d.registry.Lookup(inv.Name)
	if handler == nil {
		d.logger.Warn("unknown tool invoked", "stream_sid", streamSID, "tool", inv.Name)
		return map[string]any{"acknowledged": true}
	}

	content, err := handler.Execute(ctx, streamSID, inv.Args)
	if err != nil {
		d.logger.Warn("tool handler failed",
			"stream_sid", streamSID, "tool", inv.Name, "error", err)
		return map[string]any{
			"success": false,
			"error":   "the request could not be completed; apologize and offer to try again",
		}
	}
	if content == nil {
		content = map[string]any{"success": true}
	}
	return content
}
