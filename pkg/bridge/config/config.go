package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type ProviderKind string

const (
	ProviderGeminiLive ProviderKind = "gemini-live"
	ProviderElevenLabs ProviderKind = "eleven-labs"
)

type Config struct {
	Addr string

	// PublicHost is the externally reachable host used to build the media
	// stream URL handed to the telephony carrier (e.g. an ngrok domain).
	PublicHost string

	Provider ProviderKind

	// Greeting spoken before the media stream opens.
	Greeting string

	DatabaseURL   string
	RunMigrations bool

	GeminiAPIKey string
	GeminiModel  string
	GeminiVoice  string

	ElevenLabsAPIKey  string
	ElevenLabsAgentID string

	// Twilio REST credentials, used by the outbound call trigger.
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	WSWriteTimeout      time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("VOICEBRIDGE_ADDR", ":8080"),
		PublicHost:          envOr("VOICEBRIDGE_PUBLIC_HOST", ""),
		Provider:            ProviderKind(envOr("VOICEBRIDGE_PROVIDER", string(ProviderGeminiLive))),
		Greeting:            envOr("VOICEBRIDGE_GREETING", "Connecting you to the clinic assistant."),
		DatabaseURL:         envOr("DATABASE_URL", ""),
		RunMigrations:       envBoolOr("VOICEBRIDGE_RUN_MIGRATIONS", true),
		GeminiAPIKey:        envOr("GEMINI_API_KEY", ""),
		GeminiModel:         envOr("GEMINI_MODEL", "models/gemini-2.0-flash-live-001"),
		GeminiVoice:         envOr("GEMINI_VOICE", "Aoede"),
		ElevenLabsAPIKey:    envOr("ELEVENLABS_API_KEY", ""),
		ElevenLabsAgentID:   envOr("ELEVENLABS_AGENT_ID", ""),
		TwilioAccountSID:    envOr("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:     envOr("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber:    envOr("TWILIO_FROM_NUMBER", ""),
		ReadHeaderTimeout:   envDurationOr("VOICEBRIDGE_READ_HEADER_TIMEOUT", 10*time.Second),
		WSWriteTimeout:      envDurationOr("VOICEBRIDGE_WS_WRITE_TIMEOUT", 5*time.Second),
		ShutdownGracePeriod: envDurationOr("VOICEBRIDGE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	switch cfg.Provider {
	case ProviderGeminiLive, ProviderElevenLabs:
	default:
		return Config{}, fmt.Errorf("VOICEBRIDGE_PROVIDER must be one of gemini-live|eleven-labs")
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must be set")
	}
	if cfg.PublicHost == "" {
		return Config{}, fmt.Errorf("VOICEBRIDGE_PUBLIC_HOST must be set")
	}
	if cfg.Provider == ProviderGeminiLive && cfg.GeminiAPIKey == "" {
		return Config{}, fmt.Errorf("GEMINI_API_KEY must be set when VOICEBRIDGE_PROVIDER=gemini-live")
	}
	if cfg.Provider == ProviderElevenLabs && cfg.ElevenLabsAgentID == "" {
		return Config{}, fmt.Errorf("ELEVENLABS_AGENT_ID must be set when VOICEBRIDGE_PROVIDER=eleven-labs")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

// StreamURL is the WebSocket URL the carrier connects its media stream to.
func (c Config) StreamURL() string {
	return "wss://" + c.PublicHost + "/media-stream"
}

// VoiceWebhookURL is the HTTP URL the carrier fetches call instructions from.
func (c Config) VoiceWebhookURL() string {
	return "https://" + c.PublicHost + "/voice"
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
