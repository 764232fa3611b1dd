package media

import (
	"math"
	"sync"
	"time"
)

// referenceBitrate maps to a level of 1.0.
const referenceBitrate = 128000.0

// LevelOf estimates the instantaneous level of an Opus frame in [0,1] from
// its bitrate. Opus is variable-bitrate, so silence encodes to a few bytes
// per frame while speech needs an order of magnitude more.
func LevelOf(f Frame) float64 {
	bps := float64(len(f.Data)*8) / frameDuration(f).Seconds()
	return math.Min(1, bps/referenceBitrate)
}

// SlidingMax normalizes levels against the loudest level seen so far.
type SlidingMax struct {
	mu  sync.Mutex
	max float64
}

// Normalize rounds v to two decimals, raises the running maximum if needed
// and returns v relative to it.
func (s *SlidingMax) Normalize(v float64) float64 {
	v = math.Round(v*100) / 100

	s.mu.Lock()
	defer s.mu.Unlock()

	if v > s.max {
		s.max = v
	}
	if s.max > 0 {
		return v / s.max
	}
	return v
}

// Max returns the running maximum.
func (s *SlidingMax) Max() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.max
}

// frameDuration falls back to the default for zero-length frames.
func frameDuration(f Frame) time.Duration {
	if f.Duration <= 0 {
		return DefaultFrameDuration
	}
	return f.Duration
}
