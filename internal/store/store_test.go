package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestGetSetRemove(t *testing.T) {
	s := openTest(t)

	if _, ok, err := s.Get("k"); ok || err != nil {
		t.Fatalf("Get on empty store = %v, %v", ok, err)
	}
	if err := s.Set("k", "v1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set("k", "v2"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, ok, err := s.Get("k"); v != "v2" || !ok || err != nil {
		t.Errorf("Get = %q, %v, %v", v, ok, err)
	}
	if err := s.Remove("k"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := s.Remove("k"); err != nil {
		t.Errorf("second Remove should be a no-op, got %v", err)
	}
}

func TestInvalidKeys(t *testing.T) {
	s := openTest(t)
	for _, key := range []string{"", "../escape", "a/b", ".hidden"} {
		if err := s.Set(key, "x"); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Set(%q) = %v, want ErrInvalidKey", key, err)
		}
	}
}

func TestTakeSettingsOnce(t *testing.T) {
	s := openTest(t)
	want := Settings{Channel: "lobby", MicEnabled: false, WasRecording: true}
	if err := s.SaveSettings(want); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}

	got, err := s.TakeSettings()
	if err != nil || got == nil {
		t.Fatalf("TakeSettings = %v, %v", got, err)
	}
	if *got != want {
		t.Errorf("settings = %+v, want %+v", *got, want)
	}

	again, err := s.TakeSettings()
	if err != nil || again != nil {
		t.Errorf("second take = %v, %v, want nil", again, err)
	}
}

func TestSettingsJSONShape(t *testing.T) {
	s := openTest(t)
	if err := s.SaveSettings(Settings{Channel: "c", MicEnabled: true}); err != nil {
		t.Fatal(err)
	}
	raw, _, _ := s.Get(KeySettings)
	if raw != `{"channel":"c","micEnabled":true,"wasRecording":false}` {
		t.Errorf("stored settings = %s", raw)
	}
}

func TestCorruptSettingsDiscarded(t *testing.T) {
	s := openTest(t)
	if err := os.WriteFile(filepath.Join(s.dir, KeySettings), []byte("{oops"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.TakeSettings(); err == nil {
		t.Error("expected decode error")
	}
	if _, ok, _ := s.Get(KeySettings); ok {
		t.Error("corrupt settings should be removed after take")
	}
}

func TestChannel(t *testing.T) {
	s := openTest(t)
	if ch, err := s.Channel(); ch != "" || err != nil {
		t.Errorf("Channel on empty store = %q, %v", ch, err)
	}
	if err := s.SetChannel("news"); err != nil {
		t.Fatal(err)
	}
	if ch, _ := s.Channel(); ch != "news" {
		t.Errorf("Channel = %q", ch)
	}
	if err := s.ClearChannel(); err != nil {
		t.Fatal(err)
	}
	if ch, _ := s.Channel(); ch != "" {
		t.Errorf("Channel after clear = %q", ch)
	}
}

func TestPersistsAcrossOpen(t *testing.T) {
	dir := t.TempDir()
	a, _ := Open(dir)
	if err := a.SetChannel("radio"); err != nil {
		t.Fatal(err)
	}
	b, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if ch, _ := b.Channel(); ch != "radio" {
		t.Errorf("reopened store channel = %q", ch)
	}
}
