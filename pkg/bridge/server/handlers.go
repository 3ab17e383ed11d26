package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/carelink-ai/voicebridge/pkg/bridge/session"
	"github.com/carelink-ai/voicebridge/pkg/telephony"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleVoice answers the carrier's call webhook with instructions to open the
// media stream.
func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	body, err := telephony.ConnectStreamTwiML(s.cfg.Greeting, s.cfg.StreamURL())
	if err != nil {
		s.logger.Error("twiml render failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

type createCallRequest struct {
	To string `json:"to"`
}

type createCallResponse struct {
	CallSID string `json:"call_sid"`
}

// handleCalls triggers an outbound call through the carrier's REST API and
// records it.
func (s *Server) handleCalls(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.twilio == nil {
		http.Error(w, "outbound calling is not configured", http.StatusServiceUnavailable)
		return
	}

	var req createCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.To = strings.TrimSpace(req.To)
	if req.To == "" {
		http.Error(w, "to number is required", http.StatusBadRequest)
		return
	}

	callSID, err := s.twilio.CreateCall(r.Context(), req.To, s.cfg.VoiceWebhookURL())
	if err != nil {
		s.logger.Error("outbound call failed", "to", req.To, "error", err)
		http.Error(w, "call could not be placed", http.StatusBadGateway)
		return
	}

	// Bookkeeping only; the call is already ringing.
	if err := s.store.RecordCall(r.Context(), callSID, s.cfg.TwilioFromNumber, req.To, "initiated"); err != nil {
		s.logger.Warn("call record failed", "call_sid", callSID, "error", err)
	}

	s.logger.Info("outbound call placed", "call_sid", callSID, "to", req.To)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(createCallResponse{CallSID: callSID})
}

// handleMediaStream upgrades the carrier's WebSocket and runs the session to
// completion on this goroutine.
func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("media stream upgrade failed", "error", err)
		return
	}

	sess := session.New(conn, s.store, s.newProvider, s.cfg.WSWriteTimeout, s.logger)
	if err := sess.Run(r.Context()); err != nil {
		s.logger.Warn("session ended with error", "stream_sid", sess.StreamSID(), "error", err)
	}
}
