package config

import (
	"testing"
	"time"
)

var bridgeEnvKeys = []string{
	"VOICEBRIDGE_ADDR",
	"VOICEBRIDGE_PUBLIC_HOST",
	"VOICEBRIDGE_PROVIDER",
	"VOICEBRIDGE_GREETING",
	"VOICEBRIDGE_RUN_MIGRATIONS",
	"VOICEBRIDGE_READ_HEADER_TIMEOUT",
	"VOICEBRIDGE_WS_WRITE_TIMEOUT",
	"VOICEBRIDGE_SHUTDOWN_GRACE_PERIOD",
	"DATABASE_URL",
	"GEMINI_API_KEY",
	"GEMINI_MODEL",
	"GEMINI_VOICE",
	"ELEVENLABS_API_KEY",
	"ELEVENLABS_AGENT_ID",
	"TWILIO_ACCOUNT_SID",
	"TWILIO_AUTH_TOKEN",
	"TWILIO_FROM_NUMBER",
}

func clearBridgeEnv(t *testing.T) {
	t.Helper()
	for _, key := range bridgeEnvKeys {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnvDefaults(t *testing.T) {
	clearBridgeEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/voicebridge")
	t.Setenv("VOICEBRIDGE_PUBLIC_HOST", "bridge.example.com")
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Errorf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.Provider != ProviderGeminiLive {
		t.Errorf("Provider = %q, want %q", cfg.Provider, ProviderGeminiLive)
	}
	if cfg.GeminiModel != "models/gemini-2.0-flash-live-001" {
		t.Errorf("GeminiModel = %q", cfg.GeminiModel)
	}
	if !cfg.RunMigrations {
		t.Error("RunMigrations = false, want true by default")
	}
	if cfg.ShutdownGracePeriod != 30*time.Second {
		t.Errorf("ShutdownGracePeriod = %v", cfg.ShutdownGracePeriod)
	}
	if got := cfg.StreamURL(); got != "wss://bridge.example.com/media-stream" {
		t.Errorf("StreamURL() = %q", got)
	}
	if got := cfg.VoiceWebhookURL(); got != "https://bridge.example.com/voice" {
		t.Errorf("VoiceWebhookURL() = %q", got)
	}
}

func TestLoadFromEnvValidation(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing database url", env: map[string]string{
			"VOICEBRIDGE_PUBLIC_HOST": "bridge.example.com",
			"GEMINI_API_KEY":          "test-key",
		}},
		{name: "missing public host", env: map[string]string{
			"DATABASE_URL":   "postgres://localhost/voicebridge",
			"GEMINI_API_KEY": "test-key",
		}},
		{name: "unknown provider", env: map[string]string{
			"DATABASE_URL":            "postgres://localhost/voicebridge",
			"VOICEBRIDGE_PUBLIC_HOST": "bridge.example.com",
			"VOICEBRIDGE_PROVIDER":    "carrier-pigeon",
		}},
		{name: "gemini without key", env: map[string]string{
			"DATABASE_URL":            "postgres://localhost/voicebridge",
			"VOICEBRIDGE_PUBLIC_HOST": "bridge.example.com",
			"VOICEBRIDGE_PROVIDER":    "gemini-live",
		}},
		{name: "elevenlabs without agent", env: map[string]string{
			"DATABASE_URL":            "postgres://localhost/voicebridge",
			"VOICEBRIDGE_PUBLIC_HOST": "bridge.example.com",
			"VOICEBRIDGE_PROVIDER":    "eleven-labs",
			"ELEVENLABS_API_KEY":      "test-key",
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearBridgeEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := LoadFromEnv(); err == nil {
				t.Fatal("LoadFromEnv() error = nil, want error")
			}
		})
	}
}

func TestLoadFromEnvElevenLabs(t *testing.T) {
	clearBridgeEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/voicebridge")
	t.Setenv("VOICEBRIDGE_PUBLIC_HOST", "bridge.example.com")
	t.Setenv("VOICEBRIDGE_PROVIDER", "eleven-labs")
	t.Setenv("ELEVENLABS_API_KEY", "test-key")
	t.Setenv("ELEVENLABS_AGENT_ID", "agent-1")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.Provider != ProviderElevenLabs {
		t.Errorf("Provider = %q", cfg.Provider)
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("VOICEBRIDGE_TEST_STR", " value ")
	if got := envOr("VOICEBRIDGE_TEST_STR", "def"); got != "value" {
		t.Errorf("envOr() = %q", got)
	}
	t.Setenv("VOICEBRIDGE_TEST_INT", "42")
	if got := envIntOr("VOICEBRIDGE_TEST_INT", 7); got != 42 {
		t.Errorf("envIntOr() = %d", got)
	}
	t.Setenv("VOICEBRIDGE_TEST_INT", "nope")
	if got := envIntOr("VOICEBRIDGE_TEST_INT", 7); got != 7 {
		t.Errorf("envIntOr() fallback = %d", got)
	}
	t.Setenv("VOICEBRIDGE_TEST_BOOL", "off")
	if got := envBoolOr("VOICEBRIDGE_TEST_BOOL", true); got {
		t.Error("envBoolOr(off) = true")
	}
	t.Setenv("VOICEBRIDGE_TEST_DUR", "90s")
	if got := envDurationOr("VOICEBRIDGE_TEST_DUR", time.Second); got != 90*time.Second {
		t.Errorf("envDurationOr() = %v", got)
	}
}
