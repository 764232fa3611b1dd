// Package media provides the captured audio side of the publisher: frame
// sources, the microphone fan-out and level metering.
package media

import "time"

// DefaultFrameDuration is the duration assumed for an Opus frame whose
// length cannot be derived from its container.
const DefaultFrameDuration = 20 * time.Millisecond

// OpusSilence is a 20ms Opus frame decoding to digital silence. A disabled
// microphone emits it in place of captured audio.
var OpusSilence = []byte{0xf8, 0xff, 0xfe}

// Frame is one encoded Opus packet.
type Frame struct {
	Data     []byte
	Duration time.Duration
}

// Source yields captured audio frames. ReadFrame returns io.EOF when the
// source is exhausted.
type Source interface {
	ReadFrame() (Frame, error)
	Close() error
}

// Sink consumes frames. Sinks are called from the microphone goroutine and
// must not block for long.
type Sink func(Frame)
