package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// ErrNoSource is returned by Run on a microphone without a source.
var ErrNoSource = errors.New("no audio source")

// Microphone paces frames from a Source and fans them out to sinks. It is
// the single live audio track of a publisher and outlives any one session.
type Microphone struct {
	src Source

	enabled atomic.Bool
	instant atomic.Uint64 // float64 bits of the last frame's level

	mu     sync.Mutex
	nextID int
	sinks  map[int]Sink
}

// NewMicrophone wraps src, which may be nil when no device could be opened.
// The microphone starts enabled.
func NewMicrophone(src Source) *Microphone {
	m := &Microphone{
		src:   src,
		sinks: make(map[int]Sink),
	}
	m.enabled.Store(true)
	return m
}

// AddSink registers fn and returns a function that removes it.
func (m *Microphone) AddSink(fn Sink) (remove func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.sinks[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.sinks, id)
		m.mu.Unlock()
	}
}

// SetEnabled sets the track enabled flag.
func (m *Microphone) SetEnabled(enabled bool) { m.enabled.Store(enabled) }

// Enabled reports whether captured audio is passed through.
func (m *Microphone) Enabled() bool { return m.enabled.Load() }

// Toggle flips the enabled flag and returns the new value.
func (m *Microphone) Toggle() bool {
	for {
		old := m.enabled.Load()
		if m.enabled.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// Instant returns the level of the most recent frame in [0,1].
func (m *Microphone) Instant() float64 {
	return math.Float64frombits(m.instant.Load())
}

// Run reads frames from the source at their natural pace until the source
// ends (nil), fails, or ctx is cancelled.
func (m *Microphone) Run(ctx context.Context) error {
	if m.src == nil {
		return ErrNoSource
	}

	var next time.Time
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil
		}

		frame, err := m.src.ReadFrame()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("microphone read failed: %w", err)
		}

		m.emit(frame)

		now := time.Now()
		if next.IsZero() || next.Before(now.Add(-time.Second)) {
			next = now // resync after stalls instead of bursting
		}
		next = next.Add(frameDuration(frame))
		timer.Reset(time.Until(next))
	}
}

// emit substitutes silence when disabled, updates the level and fans out.
func (m *Microphone) emit(frame Frame) {
	if !m.enabled.Load() {
		frame = Frame{Data: OpusSilence, Duration: frame.Duration}
	}
	m.instant.Store(math.Float64bits(LevelOf(frame)))

	m.mu.Lock()
	sinks := make([]Sink, 0, len(m.sinks))
	for _, s := range m.sinks {
		sinks = append(sinks, s)
	}
	m.mu.Unlock()

	for _, s := range sinks {
		s(frame)
	}
}

// Close releases the source.
func (m *Microphone) Close() error {
	if m.src == nil {
		return nil
	}
	return m.src.Close()
}
