package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

const defaultElevenLabsHost = "api.elevenlabs.io"

// ElevenLabsConfig configures one conversational-AI agent connection.
type ElevenLabsConfig struct {
	AgentID string
	APIKey  string

	// Host overrides the upstream host, used by tests.
	Host string
}

// ElevenLabs bridges one call to a hosted conversational agent. The agent
// consumes and produces audio in the telephony leg's own framing, so payloads
// pass through unconverted in both directions.
type ElevenLabs struct {
	cfg       ElevenLabsConfig
	streamSID string
	logger    *slog.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	events chan Event
	done   chan struct{}
	closed atomic.Bool
}

// NewElevenLabs builds an unconnected provider for one stream.
func NewElevenLabs(cfg ElevenLabsConfig, streamSID string, logger *slog.Logger) *ElevenLabs {
	if logger == nil {
		logger = slog.Default()
	}
	return &ElevenLabs{
		cfg:       cfg,
		streamSID: streamSID,
		logger:    logger,
		events:    make(chan Event, eventBufferSize),
		done:      make(chan struct{}),
	}
}

type elevenLabsInbound struct {
	Type       string `json:"type"`
	AudioEvent *struct {
		AudioBase64 string `json:"audio_base_64"`
	} `json:"audio_event,omitempty"`
	UserTranscriptionEvent *struct {
		UserTranscript string `json:"user_transcript"`
	} `json:"user_transcription_event,omitempty"`
	AgentResponseEvent *struct {
		AgentResponse string `json:"agent_response"`
	} `json:"agent_response_event,omitempty"`
	PingEvent *struct {
		EventID int `json:"event_id"`
	} `json:"ping_event,omitempty"`
}

// Connect dials the agent endpoint and sends the conversation initiation
// message.
func (e *ElevenLabs) Connect(ctx context.Context) error {
	host := e.cfg.Host
	if host == "" {
		host = defaultElevenLabsHost
	}
	u := url.URL{
		Scheme:   "wss",
		Host:     host,
		Path:     "/v1/convai/conversation",
		RawQuery: url.Values{"agent_id": {e.cfg.AgentID}}.Encode(),
	}
	header := http.Header{"xi-api-key": {e.cfg.APIKey}}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return fmt.Errorf("dial agent: %w", err)
	}
	e.conn = conn

	if err := e.writeJSON(map[string]string{"type": "conversation_initiation_client_data"}); err != nil {
		conn.Close()
		return fmt.Errorf("initiate conversation: %w", err)
	}

	e.logger.Info("elevenlabs agent connected", "stream_sid", e.streamSID, "agent_id", e.cfg.AgentID)
	go e.readLoop()
	return nil
}

// SendAudio forwards the telephony payload as-is; the agent handles its own
// framing.
func (e *ElevenLabs) SendAudio(payloadB64 string) error {
	if e.closed.Load() {
		return fmt.Errorf("provider closed")
	}
	return e.writeJSON(map[string]string{"user_audio_chunk": payloadB64})
}

// Events returns the engine output channel.
func (e *ElevenLabs) Events() <-chan Event {
	return e.events
}

// Close tears down the connection. Safe to call more than once.
func (e *ElevenLabs) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	close(e.done)
	if e.conn != nil {
		return e.conn.Close()
	}
	return nil
}

func (e *ElevenLabs) readLoop() {
	for {
		_, data, err := e.conn.ReadMessage()
		if err != nil {
			if e.closed.Load() {
				e.emitClosed(nil)
			} else {
				e.emitClosed(err)
			}
			return
		}

		e.handleFrame(data)
	}
}

func (e *ElevenLabs) handleFrame(data []byte) {
	var msg elevenLabsInbound
	if err := json.Unmarshal(data, &msg); err != nil {
		e.logger.Warn("ignoring malformed agent frame", "stream_sid", e.streamSID, "error", err)
		return
	}

	switch msg.Type {
	case "audio":
		if msg.AudioEvent != nil && msg.AudioEvent.AudioBase64 != "" {
			e.emit(AudioEvent{PayloadB64: msg.AudioEvent.AudioBase64})
		}
	case "interruption":
		e.emit(InterruptedEvent{})
	case "agent_response":
		if msg.AgentResponseEvent != nil {
			e.emit(TranscriptEvent{Role: "agent", Text: msg.AgentResponseEvent.AgentResponse})
		}
	case "user_transcript":
		if msg.UserTranscriptionEvent != nil {
			e.emit(TranscriptEvent{Role: "user", Text: msg.UserTranscriptionEvent.UserTranscript})
		}
	case "ping":
		if msg.PingEvent != nil {
			_ = e.writeJSON(map[string]any{"type": "pong", "event_id": msg.PingEvent.EventID})
		}
	case "conversation_initiation_metadata":
		e.logger.Info("agent conversation ready", "stream_sid", e.streamSID)
	}
}

func (e *ElevenLabs) writeJSON(v any) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.conn.WriteJSON(v)
}

func (e *ElevenLabs) emit(ev Event) {
	select {
	case e.events <- ev:
	case <-e.done:
	}
}

func (e *ElevenLabs) emitClosed(err error) {
	select {
	case e.events <- ClosedEvent{Err: err}:
	default:
	}
	close(e.events)
}
