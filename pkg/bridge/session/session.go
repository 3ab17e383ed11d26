// Package session owns the lifetime of one bridged call: the telephony
// WebSocket leg on one side and the conversational engine leg on the other.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/carelink-ai/voicebridge/pkg/engine"
	"github.com/carelink-ai/voicebridge/pkg/telephony"
)

// State tracks where a session is in its lifecycle.
type State string

const (
	StateIdle       State = "IDLE"
	StateStreaming  State = "STREAMING"
	StateTerminated State = "TERMINATED"
)

// teardownTimeout bounds the final bookkeeping write after both legs close.
const teardownTimeout = 5 * time.Second

// Conn is the subset of the telephony WebSocket the session needs. Satisfied
// by *websocket.Conn.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Store persists call and session rows. Failures here must never take down a
// live call.
type Store interface {
	GetOrCreateSession(ctx context.Context, streamSID, callSID string) error
	RecordCall(ctx context.Context, callSID, fromNumber, toNumber, status string) error
}

// ProviderFactory builds the engine leg for a stream once its identifiers are
// known.
type ProviderFactory func(ctx context.Context, streamSID string) (engine.Provider, error)

// Session bridges one call between the two legs.
type Session struct {
	conn         Conn
	store        Store
	newProvider  ProviderFactory
	writeTimeout time.Duration
	logger       *slog.Logger

	mu        sync.Mutex
	state     State
	streamSID string
	callSID   string

	provider engine.Provider
}

// New builds a session over an upgraded telephony connection. writeTimeout
// bounds each outbound write on that connection; zero disables the deadline.
func New(conn Conn, store Store, newProvider ProviderFactory, writeTimeout time.Duration, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		conn:         conn,
		store:        store,
		newProvider:  newProvider,
		writeTimeout: writeTimeout,
		logger:       logger,
		state:        StateIdle,
	}
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StreamSID reports the stream identifier, empty until the start frame arrives.
func (s *Session) StreamSID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamSID
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

type inboundFrame struct {
	data []byte
	err  error
}

// Run drives the session until the caller hangs up, the engine leg drops, or
// the context is cancelled. It always tears down both legs before returning.
func (s *Session) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)

	frames := make(chan inboundFrame)
	go func() {
		for {
			_, data, err := s.conn.ReadMessage()
			select {
			case frames <- inboundFrame{data: data, err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	defer s.teardown()

	// The engine event channel stays nil until the start frame connects the
	// provider, so the select below ignores it while idle.
	var events <-chan engine.Event

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case fr := <-frames:
			if fr.err != nil {
				s.logger.Info("telephony leg closed", "stream_sid", s.StreamSID(), "error", fr.err)
				return nil
			}
			stop, err := s.handleTelephonyFrame(ctx, fr.data, &events)
			if err != nil {
				return err
			}
			if stop {
				return nil
			}

		case ev, ok := <-events:
			if !ok {
				// The provider closes its channel on teardown. A close that
				// arrives without a preceding ClosedEvent still means the
				// engine leg is gone, so the call ends either way.
				s.logger.Info("engine event channel closed", "stream_sid", s.StreamSID())
				return nil
			}
			if stop := s.handleEngineEvent(ev); stop {
				return nil
			}
		}
	}
}

func (s *Session) handleTelephonyFrame(ctx context.Context, data []byte, events *<-chan engine.Event) (stop bool, err error) {
	msg, err := telephony.DecodeStreamMessage(data)
	if err != nil {
		// Malformed frames are skipped, never fatal.
		s.logger.Warn("skipping malformed telephony frame", "stream_sid", s.StreamSID(), "error", err)
		return false, nil
	}

	switch m := msg.(type) {
	case telephony.ConnectedMessage:
		s.logger.Info("telephony stream connected")

	case telephony.StartMessage:
		if err := s.handleStart(ctx, m); err != nil {
			return false, err
		}
		*events = s.provider.Events()

	case telephony.MediaFrame:
		if s.provider == nil {
			s.logger.Warn("media frame before start, dropping", "stream_sid", s.StreamSID())
			return false, nil
		}
		if err := s.provider.SendAudio(m.Payload); err != nil {
			s.logger.Warn("engine audio send failed", "stream_sid", s.StreamSID(), "error", err)
		}

	case telephony.StopMessage:
		s.logger.Info("telephony stream stopped", "stream_sid", s.StreamSID())
		return true, nil

	case telephony.MarkMessage:
		s.logger.Debug("mark acknowledged", "stream_sid", s.StreamSID(), "name", m.Name)

	case telephony.UnknownMessage:
		s.logger.Debug("ignoring unknown telephony event", "event", m.Event)
	}

	return false, nil
}

func (s *Session) handleStart(ctx context.Context, m telephony.StartMessage) error {
	s.mu.Lock()
	s.streamSID = m.StreamSID
	s.callSID = m.CallSID
	s.mu.Unlock()

	// Persistence failures are logged and swallowed: the call proceeds with
	// the in-memory default state rather than dropping the caller.
	if err := s.store.GetOrCreateSession(ctx, m.StreamSID, m.CallSID); err != nil {
		s.logger.Warn("session upsert failed", "stream_sid", m.StreamSID, "error", err)
	}
	if m.CallSID != "" {
		if err := s.store.RecordCall(ctx, m.CallSID, "", "", "in-progress"); err != nil {
			s.logger.Warn("call record failed", "call_sid", m.CallSID, "error", err)
		}
	}

	provider, err := s.newProvider(ctx, m.StreamSID)
	if err != nil {
		return fmt.Errorf("connect engine: %w", err)
	}
	s.provider = provider
	s.setState(StateStreaming)
	s.logger.Info("session streaming", "stream_sid", m.StreamSID, "call_sid", m.CallSID)
	return nil
}

func (s *Session) handleEngineEvent(ev engine.Event) (stop bool) {
	switch e := ev.(type) {
	case engine.AudioEvent:
		frame := telephony.NewOutboundMedia(s.StreamSID(), e.PayloadB64)
		if err := s.writeFrame(frame); err != nil {
			s.logger.Warn("telephony write failed", "stream_sid", s.StreamSID(), "error", err)
			return true
		}

	case engine.InterruptedEvent:
		// The clear must go out before any audio from the new turn; events
		// arrive in order on one channel, so writing here is sufficient.
		frame := telephony.NewOutboundClear(s.StreamSID())
		if err := s.writeFrame(frame); err != nil {
			s.logger.Warn("telephony clear failed", "stream_sid", s.StreamSID(), "error", err)
			return true
		}
		s.logger.Info("caller interruption, cleared playback", "stream_sid", s.StreamSID())

	case engine.TranscriptEvent:
		s.logger.Info("transcript", "stream_sid", s.StreamSID(), "role", e.Role, "text", e.Text)

	case engine.TurnCompleteEvent:
		s.logger.Debug("engine turn complete", "stream_sid", s.StreamSID())

	case engine.ClosedEvent:
		if e.Err != nil {
			s.logger.Warn("engine leg dropped", "stream_sid", s.StreamSID(), "error", e.Err)
		} else {
			s.logger.Info("engine leg closed", "stream_sid", s.StreamSID())
		}
		return true
	}
	return false
}

// writeFrame sends one frame to the telephony leg, bounding the write so a
// stalled carrier socket cannot wedge the run loop.
func (s *Session) writeFrame(v any) error {
	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return err
		}
	}
	return s.conn.WriteJSON(v)
}

// teardown closes both legs and records completion. Idempotent against a leg
// that already failed.
func (s *Session) teardown() {
	if s.provider != nil {
		if err := s.provider.Close(); err != nil {
			s.logger.Debug("engine close", "stream_sid", s.StreamSID(), "error", err)
		}
	}
	if err := s.conn.Close(); err != nil {
		s.logger.Debug("telephony close", "stream_sid", s.StreamSID(), "error", err)
	}

	s.mu.Lock()
	callSID := s.callSID
	s.state = StateTerminated
	s.mu.Unlock()

	if callSID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()
		if err := s.store.RecordCall(ctx, callSID, "", "", "completed"); err != nil {
			s.logger.Warn("call completion record failed", "call_sid", callSID, "error", err)
		}
	}

	s.logger.Info("session terminated", "stream_sid", s.StreamSID())
}
