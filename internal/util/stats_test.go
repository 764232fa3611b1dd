package util

import "testing"

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, " 0.0   B"},
		{99, "99.0   B"},
		{1536, " 1.5 KiB"},
		{100 * 1024, " 0.1 MiB"},
	}

	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%v) = %q, want %q", tt.in, got, tt.want)
		}
		if len(formatBytes(tt.in)) != 8 {
			t.Errorf("formatBytes(%v) is not 8 chars wide", tt.in)
		}
	}
}

func TestSetLevel(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", ""} {
		if err := SetLevel(level); err != nil {
			t.Errorf("SetLevel(%q): unexpected error %v", level, err)
		}
	}
	if err := SetLevel("verbose"); err == nil {
		t.Error("SetLevel(verbose): expected error")
	}
	_ = SetLevel("info")
}

func TestStatsCounters(t *testing.T) {
	before := Stats.FramesSent.Load()
	Stats.AddSent(120)
	if got := Stats.FramesSent.Load() - before; got != 1 {
		t.Errorf("FramesSent delta = %d, want 1", got)
	}
}
