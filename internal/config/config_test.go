package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validPublisher returns a default config that passes validation for the
// publisher role.
func validPublisher() *Config {
	cfg := Default()
	cfg.Signaling.URL = "wss://babelcast.example.com/ws"
	cfg.Publisher.Source = "mic.ogg"
	return cfg
}

func TestDefaultsValidate(t *testing.T) {
	cfg := validPublisher()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default publisher config should validate: %v", err)
	}

	cfg.Role = RoleSubscriber
	cfg.Publisher.Source = "" // not required for subscribers
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default subscriber config should validate: %v", err)
	}

	if got := cfg.Recording.SilenceThreshold; got != 0.03 {
		t.Errorf("default silence threshold = %v, want 0.03", got)
	}
	if got := cfg.Recording.SilenceDuration.ToDuration(); got != time.Minute {
		t.Errorf("default silence duration = %v, want 1m", got)
	}
	if got := cfg.Publisher.AutoRejoinTimeout.ToDuration(); got != 10*time.Second {
		t.Errorf("default auto rejoin timeout = %v, want 10s", got)
	}
	if got := cfg.Subscriber.ChannelPollInterval.ToDuration(); got != time.Second {
		t.Errorf("default channel poll interval = %v, want 1s", got)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		errorMsg string
	}{
		{
			name:     "unknown role",
			mutate:   func(c *Config) { c.Role = "listener" },
			errorMsg: "role must be",
		},
		{
			name:     "missing url",
			mutate:   func(c *Config) { c.Signaling.URL = "" },
			errorMsg: "url cannot be empty",
		},
		{
			name:     "http url",
			mutate:   func(c *Config) { c.Signaling.URL = "http://example.com/ws" },
			errorMsg: "ws:// or wss://",
		},
		{
			name:     "pong wait not above ping interval",
			mutate:   func(c *Config) { c.Signaling.PongWait = c.Signaling.PingInterval },
			errorMsg: "pong_wait",
		},
		{
			name:     "bad ice server",
			mutate:   func(c *Config) { c.WebRTC.ICEServers = []string{"stun.l.google.com"} },
			errorMsg: "ice server",
		},
		{
			name:     "missing source",
			mutate:   func(c *Config) { c.Publisher.Source = "" },
			errorMsg: "source cannot be empty",
		},
		{
			name:     "silence threshold out of range",
			mutate:   func(c *Config) { c.Recording.SilenceThreshold = 1.5 },
			errorMsg: "silence_threshold",
		},
		{
			name:     "zero silence duration",
			mutate:   func(c *Config) { c.Recording.SilenceDuration = 0 },
			errorMsg: "silence_duration",
		},
		{
			name:     "backoff multiplier below one",
			mutate:   func(c *Config) { c.Reconnect.Multiplier = 0.5 },
			errorMsg: "multiplier",
		},
		{
			name:     "bad log level",
			mutate:   func(c *Config) { c.Logging.Level = "trace" },
			errorMsg: "level must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validPublisher()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error but got none")
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("expected error containing %q, got %q", tt.errorMsg, err.Error())
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
role: subscriber
signaling:
  url: ws://localhost:8080/ws
  ping_interval: 5s
  pong_wait: 12
subscriber:
  channel_poll_interval: 250ms
  autoplay: false
recording:
  silence_duration: 2m
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	t.Setenv(EnvWSURL, "")
	t.Setenv(EnvChannel, "")
	t.Setenv(EnvPassword, "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Role != RoleSubscriber {
		t.Errorf("role = %q, want subscriber", cfg.Role)
	}
	if cfg.Signaling.URL != "ws://localhost:8080/ws" {
		t.Errorf("url = %q", cfg.Signaling.URL)
	}
	if got := cfg.Signaling.PingInterval.ToDuration(); got != 5*time.Second {
		t.Errorf("ping interval = %v, want 5s", got)
	}
	if got := cfg.Signaling.PongWait.ToDuration(); got != 12*time.Second {
		t.Errorf("pong wait (integer seconds) = %v, want 12s", got)
	}
	if got := cfg.Subscriber.ChannelPollInterval.ToDuration(); got != 250*time.Millisecond {
		t.Errorf("channel poll interval = %v, want 250ms", got)
	}
	if cfg.Subscriber.Autoplay {
		t.Error("autoplay should be overridden to false")
	}
	if got := cfg.Recording.SilenceDuration.ToDuration(); got != 2*time.Minute {
		t.Errorf("silence duration = %v, want 2m", got)
	}
	// Untouched fields keep their defaults.
	if got := cfg.Subscriber.PlayResyncDelay.ToDuration(); got != 500*time.Millisecond {
		t.Errorf("play resync delay = %v, want default 500ms", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config should validate: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("signaling:\n  ping_interval: soon\n"), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error for invalid duration")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvWSURL:    "wss://env.example.com/ws",
		EnvChannel:  "lobby",
		EnvPassword: "hunter2",
	}
	cfg := Default()
	cfg.ApplyEnv(func(k string) string { return env[k] })

	if cfg.Signaling.URL != env[EnvWSURL] {
		t.Errorf("url = %q, want %q", cfg.Signaling.URL, env[EnvWSURL])
	}
	if cfg.Publisher.Channel != "lobby" || cfg.Subscriber.Channel != "lobby" {
		t.Errorf("channel not applied to both roles: %q / %q", cfg.Publisher.Channel, cfg.Subscriber.Channel)
	}
	if cfg.Publisher.Password != "hunter2" {
		t.Errorf("password = %q", cfg.Publisher.Password)
	}
}
