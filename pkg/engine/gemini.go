package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/carelink-ai/voicebridge/pkg/audio"
	"github.com/carelink-ai/voicebridge/pkg/tools"
)

const (
	defaultGeminiHost = "generativelanguage.googleapis.com"
	geminiBidiPath    = "/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	geminiInMimeType  = "audio/pcm;rate=16000"
	eventBufferSize   = 64
)

// GeminiConfig configures one Gemini Live connection.
type GeminiConfig struct {
	APIKey string
	Model  string
	Voice  string

	// Host overrides the upstream host, used by tests.
	Host string

	// SystemInstruction must embed the session's current conversation state
	// label; use BuildSystemInstruction.
	SystemInstruction string

	// Tools are the function declarations advertised in the setup frame.
	Tools []tools.Definition

	// OutputRate is the PCM rate of audio the engine produces.
	OutputRate int
}

// Gemini bridges one call to the Gemini Live bidirectional WebSocket. Audio is
// converted both directions: inbound telephony mu-law is expanded and
// upsampled before forwarding, and synthesized PCM is downsampled and
// companded before it is emitted as an AudioEvent.
type Gemini struct {
	cfg        GeminiConfig
	streamSID  string
	dispatcher ToolDispatcher
	logger     *slog.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	events chan Event
	done   chan struct{}
	closed atomic.Bool
}

// NewGemini builds an unconnected provider for one stream.
func NewGemini(cfg GeminiConfig, streamSID string, dispatcher ToolDispatcher, logger *slog.Logger) *Gemini {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.OutputRate == 0 {
		cfg.OutputRate = audio.EngineOutRate
	}
	return &Gemini{
		cfg:        cfg,
		streamSID:  streamSID,
		dispatcher: dispatcher,
		logger:     logger,
		events:     make(chan Event, eventBufferSize),
		done:       make(chan struct{}),
	}
}

// Connect dials the live endpoint, sends the setup frame, and starts the read
// loop.
func (g *Gemini) Connect(ctx context.Context) error {
	host := g.cfg.Host
	if host == "" {
		host = defaultGeminiHost
	}
	u := url.URL{
		Scheme:   "wss",
		Host:     host,
		Path:     geminiBidiPath,
		RawQuery: url.Values{"key": {g.cfg.APIKey}}.Encode(),
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial gemini live: %w", err)
	}
	g.conn = conn

	setup := geminiSetupFrame{
		Setup: geminiSetup{
			Model: g.cfg.Model,
			GenerationConfig: geminiGenerationConfig{
				ResponseModalities: []string{"AUDIO"},
				SpeechConfig: &geminiSpeechConfig{
					VoiceConfig: geminiVoiceConfig{
						PrebuiltVoiceConfig: geminiPrebuiltVoice{VoiceName: g.cfg.Voice},
					},
				},
			},
			SystemInstruction: &geminiContent{
				Parts: []geminiTextPart{{Text: g.cfg.SystemInstruction}},
			},
		},
	}
	if len(g.cfg.Tools) > 0 {
		setup.Setup.Tools = []geminiTool{{FunctionDeclarations: g.cfg.Tools}}
	}
	if err := g.writeJSON(setup); err != nil {
		conn.Close()
		return fmt.Errorf("send setup: %w", err)
	}

	g.logger.Info("gemini live connected", "stream_sid", g.streamSID, "model", g.cfg.Model)
	go g.readLoop()
	return nil
}

// SendAudio forwards one telephony media payload, converting it to the PCM
// format and rate the engine expects.
func (g *Gemini) SendAudio(payloadB64 string) error {
	if g.closed.Load() {
		return fmt.Errorf("provider closed")
	}

	pcmB64, err := audio.TelephonyToEngine(payloadB64)
	if err != nil {
		return fmt.Errorf("convert inbound audio: %w", err)
	}

	frame := geminiRealtimeFrame{
		RealtimeInput: geminiRealtimeInput{
			MediaChunks: []geminiMediaChunk{{MimeType: geminiInMimeType, Data: pcmB64}},
		},
	}
	return g.writeJSON(frame)
}

// Events returns the engine output channel.
func (g *Gemini) Events() <-chan Event {
	return g.events
}

// Close tears down the connection. Safe to call more than once.
func (g *Gemini) Close() error {
	if g.closed.Swap(true) {
		return nil
	}
	close(g.done)
	if g.conn != nil {
		return g.conn.Close()
	}
	return nil
}

func (g *Gemini) readLoop() {
	for {
		_, data, err := g.conn.ReadMessage()
		if err != nil {
			if g.closed.Load() {
				g.emitClosed(nil)
			} else {
				g.emitClosed(err)
			}
			return
		}

		msg, err := decodeGeminiServerMessage(data)
		if err != nil {
			// Malformed frames are skipped, never fatal.
			g.logger.Warn("ignoring malformed engine frame", "stream_sid", g.streamSID, "error", err)
			continue
		}
		g.handleServerMessage(msg)
	}
}

func (g *Gemini) handleServerMessage(msg *geminiServerMessage) {
	if sc := msg.ServerContent; sc != nil {
		// Interruption first: the clear must reach the telephony leg before
		// any audio that follows in this message.
		if sc.Interrupted {
			g.emit(InterruptedEvent{})
		}

		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part.Text != "" && !part.Thought {
					g.emit(TranscriptEvent{Role: "agent", Text: part.Text})
				}
				if part.InlineData != nil && part.InlineData.Data != "" {
					payload, err := audio.EngineToTelephony(part.InlineData.Data, g.cfg.OutputRate)
					if err != nil {
						g.logger.Warn("dropping undecodable audio part", "stream_sid", g.streamSID, "error", err)
						continue
					}
					g.emit(AudioEvent{PayloadB64: payload})
				}
			}
		}

		if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
			g.emit(TranscriptEvent{Role: "user", Text: sc.InputTranscription.Text})
		}

		if sc.TurnComplete {
			g.emit(TurnCompleteEvent{})
		}
	}

	if tc := msg.ToolCall; tc != nil && len(tc.FunctionCalls) > 0 {
		if g.dispatcher == nil {
			g.logger.Warn("tool call received with no dispatcher", "stream_sid", g.streamSID)
			return
		}
		calls := make([]tools.Invocation, len(tc.FunctionCalls))
		for i, fc := range tc.FunctionCalls {
			calls[i] = tools.Invocation{Name: fc.Name, ID: fc.ID, Args: fc.Args}
		}
		// Dispatch off the read loop so slow tools never stall audio.
		go g.runToolTurn(calls)
	}
}

// runToolTurn executes one turn's invocations and flushes every result back in
// a single aggregated frame. Invocations already in flight run to completion
// even if the session closes mid-turn; their results are then discarded.
func (g *Gemini) runToolTurn(calls []tools.Invocation) {
	results := g.dispatcher.Dispatch(context.Background(), g.streamSID, calls)

	if g.closed.Load() {
		g.logger.Info("discarding tool results for closed session",
			"stream_sid", g.streamSID, "results", len(results))
		return
	}
	if err := g.writeJSON(newToolResponseFrame(results)); err != nil {
		g.logger.Warn("failed to send tool responses", "stream_sid", g.streamSID, "error", err)
	}
}

func (g *Gemini) writeJSON(v any) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	return g.conn.WriteJSON(v)
}

func (g *Gemini) emit(ev Event) {
	select {
	case g.events <- ev:
	case <-g.done:
	}
}

func (g *Gemini) emitClosed(err error) {
	select {
	case g.events <- ClosedEvent{Err: err}:
	default:
	}
	close(g.events)
}

// BuildSystemInstruction renders the standing prompt for a session, embedding
// the current conversation state label so the engine knows where the call
// stands after a restart or reconnect.
func BuildSystemInstruction(state string) string {
	return fmt.Sprintf(
		"You are a polite phone assistant for a medical clinic. Keep responses "+
			"concise and speakable. Use the provided tools to verify callers, match "+
			"doctors, book appointments, and answer policy questions. The "+
			"conversation is currently in state %s; follow any instruction updates "+
			"returned by tools.", state)
}
