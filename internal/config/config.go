// Package config holds the client configuration: YAML file, environment
// overrides and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Role represents the user's chosen role (publisher or subscriber).
type Role string

const (
	RolePublisher  Role = "publisher"
	RoleSubscriber Role = "subscriber"
)

// Environment variables that override the YAML file.
const (
	EnvWSURL    = "BABELCAST_WS_URL"
	EnvChannel  = "BABELCAST_CHANNEL"
	EnvPassword = "BABELCAST_PASSWORD"
)

// Duration is a time.Duration that unmarshals from "5s" style strings or
// integer seconds.
type Duration time.Duration

func (d Duration) ToDuration() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		*d = 0
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar")
	}

	switch value.Tag {
	case "!!int":
		i, err := strconv.ParseInt(value.Value, 10, 64)
		if err != nil {
			return err
		}
		*d = Duration(time.Duration(i) * time.Second)
		return nil
	default:
		if value.Value == "" {
			*d = 0
			return nil
		}
		if dur, err := time.ParseDuration(value.Value); err == nil {
			*d = Duration(dur)
			return nil
		}
		if i, err := strconv.ParseInt(value.Value, 10, 64); err == nil {
			*d = Duration(time.Duration(i) * time.Second)
			return nil
		}
		return fmt.Errorf("invalid duration: %q", value.Value)
	}
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config stores every tunable of the client.
type Config struct {
	Role       Role             `yaml:"role"`
	Signaling  SignalingConfig  `yaml:"signaling"`
	WebRTC     WebRTCConfig     `yaml:"webrtc"`
	Publisher  PublisherConfig  `yaml:"publisher"`
	Recording  RecordingConfig  `yaml:"recording"`
	Reconnect  ReconnectConfig  `yaml:"reconnect"`
	Subscriber SubscriberConfig `yaml:"subscriber"`
	State      StateConfig      `yaml:"state"`
	Control    ControlConfig    `yaml:"control"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// SignalingConfig configures the WebSocket connection to the signaling server.
type SignalingConfig struct {
	URL          string   `yaml:"url"`
	PingInterval Duration `yaml:"ping_interval"`
	PongWait     Duration `yaml:"pong_wait"`
	WriteWait    Duration `yaml:"write_wait"`
	DialTimeout  Duration `yaml:"dial_timeout"`
}

// WebRTCConfig configures the PeerConnection.
type WebRTCConfig struct {
	ICEServers []string `yaml:"ice_servers"`
}

// PublisherConfig configures the publisher role.
type PublisherConfig struct {
	Channel            string   `yaml:"channel"`
	Password           string   `yaml:"password"`
	Source             string   `yaml:"source"` // Ogg/Opus file standing in for the microphone
	LoopSource         bool     `yaml:"loop_source"`
	FrameInterval      Duration `yaml:"frame_interval"` // assumed when a page carries no usable duration
	AutoRejoinTimeout  Duration `yaml:"auto_rejoin_timeout"`
	RecordRestoreDelay Duration `yaml:"record_restore_delay"`
}

// RecordingConfig configures local recording and the silence detector.
type RecordingConfig struct {
	Dir               string   `yaml:"dir"`
	SilenceThreshold  float64  `yaml:"silence_threshold"`
	SilenceDuration   Duration `yaml:"silence_duration"`
	LevelPollInterval Duration `yaml:"level_poll_interval"`
}

// ReconnectConfig configures the session restart backoff of both roles.
type ReconnectConfig struct {
	InitialInterval Duration `yaml:"initial_interval"`
	MaxInterval     Duration `yaml:"max_interval"`
	Multiplier      float64  `yaml:"multiplier"`
	MaxRetries      uint64   `yaml:"max_retries"` // 0 = unlimited
}

// SubscriberConfig configures the subscriber role.
type SubscriberConfig struct {
	Channel             string   `yaml:"channel"`
	ChannelPollInterval Duration `yaml:"channel_poll_interval"`
	Autoplay            bool     `yaml:"autoplay"`
	Output              string   `yaml:"output"` // Ogg file receiving played audio; empty discards
	PlayResyncDelay     Duration `yaml:"play_resync_delay"`
}

// StateConfig configures the persisted key/value store.
type StateConfig struct {
	Dir string `yaml:"dir"`
}

// ControlConfig configures the local HTTP control API.
type ControlConfig struct {
	Listen string `yaml:"listen"` // empty disables the API
}

// LoggingConfig configures the console logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns a configuration with every field set to its default value.
func Default() *Config {
	return &Config{
		Role: RolePublisher,
		Signaling: SignalingConfig{
			PingInterval: Duration(30 * time.Second),
			PongWait:     Duration(60 * time.Second),
			WriteWait:    Duration(10 * time.Second),
			DialTimeout:  Duration(15 * time.Second),
		},
		WebRTC: WebRTCConfig{
			ICEServers: []string{
				"stun:stun.l.google.com:19302",
				"stun:stun1.l.google.com:19302",
			},
		},
		Publisher: PublisherConfig{
			LoopSource:         true,
			FrameInterval:      Duration(20 * time.Millisecond),
			AutoRejoinTimeout:  Duration(10 * time.Second),
			RecordRestoreDelay: Duration(time.Second),
		},
		Recording: RecordingConfig{
			Dir:               "recordings",
			SilenceThreshold:  0.03,
			SilenceDuration:   Duration(time.Minute),
			LevelPollInterval: Duration(500 * time.Millisecond),
		},
		Reconnect: ReconnectConfig{
			InitialInterval: Duration(time.Second),
			MaxInterval:     Duration(30 * time.Second),
			Multiplier:      2,
		},
		Subscriber: SubscriberConfig{
			ChannelPollInterval: Duration(time.Second),
			Autoplay:            true,
			PlayResyncDelay:     Duration(500 * time.Millisecond),
		},
		State: StateConfig{
			Dir: ".babelcast",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML file at path on top of the defaults. An empty path
// yields the defaults. Environment overrides are applied afterwards; the
// result is not validated so callers can apply CLI flags first.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.ApplyEnv(os.Getenv)
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables looked up by getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvWSURL)); v != "" {
		c.Signaling.URL = v
	}
	if v := strings.TrimSpace(getenv(EnvChannel)); v != "" {
		c.Publisher.Channel = v
		c.Subscriber.Channel = v
	}
	if v := getenv(EnvPassword); v != "" {
		c.Publisher.Password = v
	}
}

// Validate performs validation of every section.
func (c *Config) Validate() error {
	if c.Role != RolePublisher && c.Role != RoleSubscriber {
		return fmt.Errorf("role must be %q or %q, got %q", RolePublisher, RoleSubscriber, c.Role)
	}

	if err := c.Signaling.Validate(); err != nil {
		return fmt.Errorf("signaling config: %w", err)
	}
	if err := c.WebRTC.Validate(); err != nil {
		return fmt.Errorf("webrtc config: %w", err)
	}
	if c.Role == RolePublisher {
		if err := c.Publisher.Validate(); err != nil {
			return fmt.Errorf("publisher config: %w", err)
		}
		if err := c.Recording.Validate(); err != nil {
			return fmt.Errorf("recording config: %w", err)
		}
	}
	if c.Role == RoleSubscriber {
		if err := c.Subscriber.Validate(); err != nil {
			return fmt.Errorf("subscriber config: %w", err)
		}
	}
	if err := c.Reconnect.Validate(); err != nil {
		return fmt.Errorf("reconnect config: %w", err)
	}
	if c.State.Dir == "" {
		return errors.New("state config: dir cannot be empty")
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

// Validate validates signaling configuration.
func (s *SignalingConfig) Validate() error {
	if s.URL == "" {
		return errors.New("url cannot be empty")
	}
	if !strings.HasPrefix(s.URL, "ws://") && !strings.HasPrefix(s.URL, "wss://") {
		return fmt.Errorf("url must use ws:// or wss://, got %q", s.URL)
	}
	if s.PingInterval <= 0 {
		return fmt.Errorf("ping_interval must be positive, got %s", s.PingInterval.ToDuration())
	}
	if s.PongWait <= s.PingInterval {
		return fmt.Errorf("pong_wait (%s) must be greater than ping_interval (%s)",
			s.PongWait.ToDuration(), s.PingInterval.ToDuration())
	}
	if s.WriteWait <= 0 {
		return fmt.Errorf("write_wait must be positive, got %s", s.WriteWait.ToDuration())
	}
	return nil
}

// Validate validates WebRTC configuration.
func (w *WebRTCConfig) Validate() error {
	for _, u := range w.ICEServers {
		if !strings.HasPrefix(u, "stun:") && !strings.HasPrefix(u, "turn:") && !strings.HasPrefix(u, "turns:") {
			return fmt.Errorf("ice server %q must start with stun:, turn: or turns:", u)
		}
	}
	return nil
}

// Validate validates publisher configuration.
func (p *PublisherConfig) Validate() error {
	if p.Source == "" {
		return errors.New("source cannot be empty")
	}
	if p.FrameInterval <= 0 {
		return fmt.Errorf("frame_interval must be positive, got %s", p.FrameInterval.ToDuration())
	}
	if p.AutoRejoinTimeout <= 0 {
		return fmt.Errorf("auto_rejoin_timeout must be positive, got %s", p.AutoRejoinTimeout.ToDuration())
	}
	if p.RecordRestoreDelay < 0 {
		return fmt.Errorf("record_restore_delay cannot be negative, got %s", p.RecordRestoreDelay.ToDuration())
	}
	return nil
}

// Validate validates recording configuration.
func (r *RecordingConfig) Validate() error {
	if r.Dir == "" {
		return errors.New("dir cannot be empty")
	}
	if r.SilenceThreshold < 0 || r.SilenceThreshold > 1 {
		return fmt.Errorf("silence_threshold must be between 0 and 1, got %f", r.SilenceThreshold)
	}
	if r.SilenceDuration <= 0 {
		return fmt.Errorf("silence_duration must be positive, got %s", r.SilenceDuration.ToDuration())
	}
	if r.LevelPollInterval <= 0 {
		return fmt.Errorf("level_poll_interval must be positive, got %s", r.LevelPollInterval.ToDuration())
	}
	return nil
}

// Validate validates reconnect configuration.
func (r *ReconnectConfig) Validate() error {
	if r.InitialInterval <= 0 {
		return fmt.Errorf("initial_interval must be positive, got %s", r.InitialInterval.ToDuration())
	}
	if r.MaxInterval < r.InitialInterval {
		return fmt.Errorf("max_interval (%s) must not be less than initial_interval (%s)",
			r.MaxInterval.ToDuration(), r.InitialInterval.ToDuration())
	}
	if r.Multiplier < 1 {
		return fmt.Errorf("multiplier must be at least 1, got %f", r.Multiplier)
	}
	return nil
}

// Validate validates subscriber configuration.
func (s *SubscriberConfig) Validate() error {
	if s.ChannelPollInterval <= 0 {
		return fmt.Errorf("channel_poll_interval must be positive, got %s", s.ChannelPollInterval.ToDuration())
	}
	if s.PlayResyncDelay < 0 {
		return fmt.Errorf("play_resync_delay cannot be negative, got %s", s.PlayResyncDelay.ToDuration())
	}
	return nil
}

// Validate validates logging configuration.
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}
	return nil
}
