// Package engine integrates the conversational engines the bridge can speak
// to. Each integration sits behind the Provider interface so the session
// bridge never branches on which engine is active.
package engine

import (
	"context"

	"github.com/carelink-ai/voicebridge/pkg/tools"
)

// Provider is one conversational-engine leg. SendAudio accepts audio in the
// telephony leg's own framing (base64 mu-law at 8 kHz); providers that need a
// different format convert internally. Events delivers engine output on a
// channel with single-consumer, in-order semantics; the channel closes after
// ClosedEvent.
type Provider interface {
	Connect(ctx context.Context) error
	SendAudio(payloadB64 string) error
	Events() <-chan Event
	Close() error
}

// Event is one unit of engine output.
type Event interface{ isEvent() }

// AudioEvent carries synthesized speech already converted to the telephony
// leg's format, ready to forward.
type AudioEvent struct {
	PayloadB64 string
}

// InterruptedEvent signals the engine decided the caller is speaking over the
// current response; queued telephony audio must be discarded.
type InterruptedEvent struct{}

// TurnCompleteEvent marks the end of one engine turn.
type TurnCompleteEvent struct{}

// TranscriptEvent carries model or caller transcript text, for logging.
type TranscriptEvent struct {
	Role string // "user" or "agent"
	Text string
}

// ClosedEvent is the final event on the channel: the engine leg is gone.
type ClosedEvent struct {
	Err error
}

func (AudioEvent) isEvent()        {}
func (InterruptedEvent) isEvent()  {}
func (TurnCompleteEvent) isEvent() {}
func (TranscriptEvent) isEvent()   {}
func (ClosedEvent) isEvent()       {}

// ToolDispatcher executes the tool invocations of one turn and returns exactly
// one result per invocation.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, streamSID string, calls []tools.Invocation) []tools.Result
}
