package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carelink-ai/voicebridge/pkg/bridge/config"
	"github.com/carelink-ai/voicebridge/pkg/convo"
	"github.com/carelink-ai/voicebridge/pkg/engine"
	"github.com/carelink-ai/voicebridge/pkg/tools"
)

type fakeStore struct {
	mu       sync.Mutex
	sessions [][2]string
	calls    [][4]string
}

func (f *fakeStore) GetOrCreateSession(ctx context.Context, streamSID, callSID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, [2]string{streamSID, callSID})
	return nil
}

func (f *fakeStore) RecordCall(ctx context.Context, callSID, fromNumber, toNumber, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, [4]string{callSID, fromNumber, toNumber, status})
	return nil
}

func (f *fakeStore) CurrentState(ctx context.Context, streamSID string) (string, error) {
	return convo.StartState, nil
}

func (f *fakeStore) ApplyTransition(ctx context.Context, streamSID, toolName string) (*convo.Transition, error) {
	return nil, nil
}

func (f *fakeStore) FindPatient(ctx context.Context, name, dateOfBirth string) (*tools.Patient, error) {
	return nil, nil
}

func (f *fakeStore) DoctorsBySpecialty(ctx context.Context, specialty string) ([]tools.Doctor, error) {
	return nil, nil
}

func (f *fakeStore) CreateAppointment(ctx context.Context, appt tools.Appointment) (string, error) {
	return "appt-1", nil
}

func (f *fakeStore) ToolDefinitions(ctx context.Context) ([]tools.Definition, error) {
	return nil, nil
}

func (f *fakeStore) NearestChunks(ctx context.Context, embedding []float32, limit int) ([]string, error) {
	return nil, nil
}

type fakeServerProvider struct {
	events chan engine.Event

	mu   sync.Mutex
	sent []string
}

func (p *fakeServerProvider) Connect(ctx context.Context) error { return nil }

func (p *fakeServerProvider) SendAudio(payloadB64 string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, payloadB64)
	return nil
}

func (p *fakeServerProvider) Events() <-chan engine.Event { return p.events }
func (p *fakeServerProvider) Close() error                { return nil }

func testConfig() config.Config {
	return config.Config{
		Addr:           ":0",
		PublicHost:     "bridge.example.com",
		Provider:       config.ProviderGeminiLive,
		Greeting:       "Connecting you now.",
		WSWriteTimeout: time.Second,
	}
}

func newTestServer(t *testing.T, cfg config.Config) (*Server, *fakeStore) {
	t.Helper()
	st := &fakeStore{}
	return New(cfg, st, nil, slog.New(slog.DiscardHandler)), st
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("body = %q, want ok", rec.Body.String())
	}
}

func TestVoiceReturnsStreamInstructions(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/voice", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/xml") {
		t.Errorf("Content-Type = %q, want text/xml", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "wss://bridge.example.com/media-stream") {
		t.Errorf("body missing stream URL: %s", body)
	}
	if !strings.Contains(body, "Connecting you now.") {
		t.Errorf("body missing greeting: %s", body)
	}
}

func TestCallsPlacesOutboundCall(t *testing.T) {
	carrier := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2010-04-01/Accounts/AC123/Calls.json" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm() error = %v", err)
		}
		if r.PostForm.Get("To") != "+15550100" {
			t.Errorf("To = %q", r.PostForm.Get("To"))
		}
		if r.PostForm.Get("Url") != "https://bridge.example.com/voice" {
			t.Errorf("Url = %q", r.PostForm.Get("Url"))
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid": "CA789"}`))
	}))
	defer carrier.Close()

	cfg := testConfig()
	cfg.TwilioAccountSID = "AC123"
	cfg.TwilioAuthToken = "secret"
	cfg.TwilioFromNumber = "+15550199"
	s, st := newTestServer(t, cfg)
	s.twilio.baseURL = carrier.URL

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/calls", strings.NewReader(`{"to": "+15550100"}`))
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp createCallResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if resp.CallSID != "CA789" {
		t.Errorf("call_sid = %q, want CA789", resp.CallSID)
	}
	if len(st.calls) != 1 || st.calls[0] != [4]string{"CA789", "+15550199", "+15550100", "initiated"} {
		t.Errorf("recorded calls = %v", st.calls)
	}
}

func TestCallsRejections(t *testing.T) {
	cfg := testConfig()
	cfg.TwilioAccountSID = "AC123"
	cfg.TwilioAuthToken = "secret"
	s, _ := newTestServer(t, cfg)

	cases := []struct {
		name   string
		method string
		body   string
		want   int
	}{
		{name: "wrong method", method: http.MethodGet, want: http.StatusMethodNotAllowed},
		{name: "bad json", method: http.MethodPost, body: "{nope", want: http.StatusBadRequest},
		{name: "missing to", method: http.MethodPost, body: "{}", want: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(tc.method, "/calls", strings.NewReader(tc.body))
			s.Handler().ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestCallsUnconfigured(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/calls", strings.NewReader(`{"to": "+15550100"}`))
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestMediaStreamBridgesSession(t *testing.T) {
	s, st := newTestServer(t, testConfig())
	provider := &fakeServerProvider{events: make(chan engine.Event, 4)}
	s.newProvider = func(ctx context.Context, streamSID string) (engine.Provider, error) {
		return provider, nil
	}

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/media-stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	frames := []string{
		`{"event": "connected"}`,
		`{"event": "start", "start": {"streamSid": "SM123", "callSid": "CA456"}}`,
		`{"event": "media", "media": {"payload": "//8A"}}`,
	}
	for _, fr := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(fr)); err != nil {
			t.Fatalf("WriteMessage() error = %v", err)
		}
	}

	provider.events <- engine.AudioEvent{PayloadB64: "AAAA"}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	var media struct {
		Event string `json:"event"`
		Media struct {
			Payload string `json:"payload"`
		} `json:"media"`
	}
	if err := json.Unmarshal(data, &media); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if media.Event != "media" || media.Media.Payload != "AAAA" {
		t.Errorf("outbound frame = %s", data)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"event": "stop"}`)); err != nil {
		t.Fatalf("WriteMessage(stop) error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		st.mu.Lock()
		n := len(st.sessions)
		st.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session row never recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTwilioClientRejectedCall(t *testing.T) {
	carrier := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message": "authentication failed"}`))
	}))
	defer carrier.Close()

	client := NewTwilioClient("AC123", "bad-token", "+15550199")
	client.baseURL = carrier.URL

	_, err := client.CreateCall(context.Background(), "+15550100", "https://bridge.example.com/voice")
	if err == nil {
		t.Fatal("CreateCall() error = nil, want rejection")
	}
	if !strings.Contains(err.Error(), "authentication failed") {
		t.Errorf("error = %v, want carrier message included", err)
	}
}
