// Package server exposes the HTTP surface of the bridge: the carrier webhook,
// the media stream upgrade, and the outbound call trigger.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/carelink-ai/voicebridge/pkg/audio"
	"github.com/carelink-ai/voicebridge/pkg/bridge/config"
	"github.com/carelink-ai/voicebridge/pkg/bridge/session"
	"github.com/carelink-ai/voicebridge/pkg/convo"
	"github.com/carelink-ai/voicebridge/pkg/engine"
	"github.com/carelink-ai/voicebridge/pkg/rag"
	"github.com/carelink-ai/voicebridge/pkg/tools"
)

// Store is the persistence surface the server wires into its collaborators.
// *store.Postgres satisfies it.
type Store interface {
	session.Store
	convo.Store
	tools.Directory
	ToolDefinitions(ctx context.Context) ([]tools.Definition, error)
	NearestChunks(ctx context.Context, embedding []float32, limit int) ([]string, error)
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	store      Store
	machine    *convo.Machine
	dispatcher *tools.Dispatcher
	twilio     *TwilioClient

	newProvider session.ProviderFactory
	upgrader    websocket.Upgrader
}

// New wires the full collaborator graph for the configured provider. The
// embedder may be nil; retrieval then degrades to its built-in digest.
func New(cfg config.Config, st Store, embedder rag.Embedder, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	retriever := rag.NewRetriever(embedder, st, logger)
	machine := convo.NewMachine(st)
	registry := tools.NewRegistry(
		tools.VerifyPatient{Dir: st},
		tools.MatchDoctor{Dir: st},
		tools.BookAppointment{Dir: st},
		tools.SearchKnowledge{Searcher: retriever},
		tools.ReturnToMain{},
	)

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		mux:        http.NewServeMux(),
		store:      st,
		machine:    machine,
		dispatcher: tools.NewDispatcher(machine, registry, logger),
		upgrader: websocket.Upgrader{
			// The carrier's media stream client sends no browser Origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
		s.twilio = NewTwilioClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber)
	}
	s.newProvider = s.connectProvider

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/voice", s.handleVoice)
	s.mux.HandleFunc("/calls", s.handleCalls)
	s.mux.HandleFunc("/media-stream", s.handleMediaStream)
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// connectProvider builds and connects the engine leg for one stream, seeding
// the system context from the session's durable state.
func (s *Server) connectProvider(ctx context.Context, streamSID string) (engine.Provider, error) {
	switch s.cfg.Provider {
	case config.ProviderElevenLabs:
		p := engine.NewElevenLabs(engine.ElevenLabsConfig{
			AgentID: s.cfg.ElevenLabsAgentID,
			APIKey:  s.cfg.ElevenLabsAPIKey,
		}, streamSID, s.logger)
		if err := p.Connect(ctx); err != nil {
			return nil, err
		}
		return p, nil

	default:
		state, err := s.machine.State(ctx, streamSID)
		if err != nil {
			s.logger.Warn("state read failed, using start state", "stream_sid", streamSID, "error", err)
			state = convo.StartState
		}
		defs, err := s.store.ToolDefinitions(ctx)
		if err != nil {
			s.logger.Warn("tool definitions unavailable", "stream_sid", streamSID, "error", err)
		}

		p := engine.NewGemini(engine.GeminiConfig{
			APIKey:            s.cfg.GeminiAPIKey,
			Model:             s.cfg.GeminiModel,
			Voice:             s.cfg.GeminiVoice,
			SystemInstruction: engine.BuildSystemInstruction(state),
			Tools:             defs,
			OutputRate:        audio.EngineOutRate,
		}, streamSID, s.dispatcher, s.logger)
		if err := p.Connect(ctx); err != nil {
			return nil, err
		}
		return p, nil
	}
}
