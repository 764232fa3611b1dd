package transport

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"

	"github.com/1ureka/babelcast/internal/media"
	"github.com/1ureka/babelcast/internal/util"
)

const sendBufferSize = 64 // outgoing frame channel capacity

// SampleWriter is the write side of a local sample track.
type SampleWriter interface {
	WriteSample(pionmedia.Sample) error
}

var _ SampleWriter = (*webrtc.TrackLocalStaticSample)(nil)

// sender is a goroutine-based frame writer that serializes all writes to a
// single local track. Frames are dropped while the inbox is full so a slow
// network never stalls the microphone.
type sender struct {
	inbox   chan media.Frame
	dropped atomic.Int64
}

// TrackSink starts a writer for w and returns a media.Sink feeding it. The
// writer exits when ctx is cancelled; later frames are discarded.
func TrackSink(ctx context.Context, w SampleWriter) media.Sink {
	s := &sender{inbox: make(chan media.Frame, sendBufferSize)}
	go s.loop(ctx, w)

	return func(f media.Frame) {
		if ctx.Err() != nil {
			return
		}
		select {
		case s.inbox <- f:
		default:
			if s.dropped.Add(1)%100 == 1 {
				util.LogWarning("audio send buffer full, dropping frames")
			}
		}
	}
}

// loop is the single-writer goroutine.
func (s *sender) loop(ctx context.Context, w SampleWriter) {
	for {
		select {
		case f := <-s.inbox:
			err := w.WriteSample(pionmedia.Sample{Data: f.Data, Duration: f.Duration})
			if errors.Is(err, io.ErrClosedPipe) {
				// Track not bound yet or already unbound.
				continue
			}
			if err != nil {
				util.LogError("failed to write audio sample: %v", err)
				return
			}
			util.Stats.AddSent(len(f.Data))
		case <-ctx.Done():
			return
		}
	}
}
