// Package store persists small client state across sessions and restarts
// as one file per key in a state directory.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Keys used by the clients.
const (
	KeySettings = "babelcast_settings"
	KeyChannel  = "channel"
)

// ErrInvalidKey is returned for keys that are not plain file names.
var ErrInvalidKey = errors.New("invalid store key")

// Store is a file-backed string key/value store.
type Store struct {
	dir string
	mu  sync.Mutex
}

// Open returns a store rooted at dir, creating it if needed.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(key string) (string, error) {
	if key == "" || key != filepath.Base(key) || strings.HasPrefix(key, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.dir, key), nil
}

// Get returns the value of key and whether it exists.
func (s *Store) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(key)
}

func (s *Store) getLocked(key string) (string, bool, error) {
	p, err := s.path(key)
	if err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return string(data), true, nil
}

// Set stores value under key. The write goes through a temp file so a crash
// never leaves a truncated value.
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.path(key)
	if err != nil {
		return err
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, []byte(value), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Remove deletes key. Removing a missing key is not an error.
func (s *Store) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(key)
}

func (s *Store) removeLocked(key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	return nil
}

// Take returns the value of key and deletes it.
func (s *Store) Take(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok, err := s.getLocked(key)
	if err != nil || !ok {
		return v, ok, err
	}
	return v, true, s.removeLocked(key)
}

// ---------------------------------------------------------------------------
// Publisher settings
// ---------------------------------------------------------------------------

// Settings is the publisher state carried across a reconnect.
type Settings struct {
	Channel      string `json:"channel"`
	MicEnabled   bool   `json:"micEnabled"`
	WasRecording bool   `json:"wasRecording"`
}

// SaveSettings persists st.
func (s *Store) SaveSettings(st Settings) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	return s.Set(KeySettings, string(data))
}

// TakeSettings reads the persisted settings once and clears them. It returns
// nil when nothing is stored. Unparseable settings are discarded.
func (s *Store) TakeSettings() (*Settings, error) {
	raw, ok, err := s.Take(KeySettings)
	if err != nil || !ok {
		return nil, err
	}
	var st Settings
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	return &st, nil
}

// ---------------------------------------------------------------------------
// Subscriber channel
// ---------------------------------------------------------------------------

// Channel returns the last channel the subscriber chose.
func (s *Store) Channel() (string, error) {
	v, _, err := s.Get(KeyChannel)
	return v, err
}

// SetChannel remembers the chosen channel.
func (s *Store) SetChannel(channel string) error {
	return s.Set(KeyChannel, channel)
}

// ClearChannel forgets the chosen channel.
func (s *Store) ClearChannel() error {
	return s.Remove(KeyChannel)
}
