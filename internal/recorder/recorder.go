// Package recorder records the outgoing microphone stream into WebM
// segments and drives the record button state machine.
package recorder

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/at-wat/ebml-go/webm"

	"github.com/1ureka/babelcast/internal/media"
	"github.com/1ureka/babelcast/internal/util"
)

// MimeType is the content type of a finished recording.
const MimeType = "audio/webm"

const finalizeTimeout = 2 * time.Second

var (
	ErrRecording    = errors.New("recorder is already recording")
	ErrNotRecording = errors.New("recorder is not recording")
)

// Blob is one finished recording.
type Blob struct {
	Data     []byte
	MimeType string
	Started  time.Time
	Duration time.Duration
}

// Size returns the blob length in bytes.
func (b Blob) Size() int { return len(b.Data) }

// chunkSink receives the muxer output and signals when the muxer closes it.
type chunkSink struct {
	chunks    *Chunks
	closeOnce sync.Once
	closed    chan struct{}
}

func newChunkSink() *chunkSink {
	return &chunkSink{chunks: &Chunks{}, closed: make(chan struct{})}
}

func (s *chunkSink) Write(p []byte) (int, error) {
	s.chunks.Append(p)
	return len(p), nil
}

func (s *chunkSink) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// Recorder muxes Opus frames into a WebM stream. Each Start begins a fresh
// chunk list; Stop finalizes the stream and hands the merged blob to the
// OnStop callback.
type Recorder struct {
	mu       sync.Mutex
	track    webm.BlockWriteCloser
	sink     *chunkSink
	started  time.Time
	elapsed  time.Duration
	onStop   func(Blob)
	now      func() time.Time
	channels uint64
}

// New creates an idle recorder for Opus audio with the given channel count.
func New(channels int) *Recorder {
	if channels <= 0 {
		channels = 2
	}
	return &Recorder{now: time.Now, channels: uint64(channels)}
}

// OnStop registers the callback receiving each finished recording.
func (r *Recorder) OnStop(fn func(Blob)) {
	r.mu.Lock()
	r.onStop = fn
	r.mu.Unlock()
}

// Recording reports whether a stream is open.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.track != nil
}

// Start opens a new WebM stream.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.track != nil {
		return ErrRecording
	}

	sink := newChunkSink()
	writers, err := webm.NewSimpleBlockWriter(sink, []webm.TrackEntry{{
		Name:            "Audio",
		TrackNumber:     1,
		TrackUID:        12345,
		CodecID:         "A_OPUS",
		TrackType:       2,
		DefaultDuration: uint64(media.DefaultFrameDuration.Nanoseconds()),
		Audio: &webm.Audio{
			SamplingFrequency: 48000.0,
			Channels:          r.channels,
		},
	}})
	if err != nil {
		return fmt.Errorf("failed to start webm writer: %w", err)
	}

	r.track = writers[0]
	r.sink = sink
	r.started = r.now()
	r.elapsed = 0
	util.LogDebug("recording started")
	return nil
}

// WriteFrame appends a frame to the open stream. Frames arriving while idle
// are dropped.
func (r *Recorder) WriteFrame(f media.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.track == nil {
		return
	}
	ts := r.elapsed.Milliseconds()
	if _, err := r.track.Write(true, ts, f.Data); err != nil {
		util.LogWarning("recorder write failed: %v", err)
		return
	}
	d := f.Duration
	if d <= 0 {
		d = media.DefaultFrameDuration
	}
	r.elapsed += d
}

// Stop finalizes the stream, merges its chunks and delivers the blob.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	track, sink := r.track, r.sink
	if track == nil {
		r.mu.Unlock()
		return ErrNotRecording
	}
	r.track, r.sink = nil, nil
	blob := Blob{MimeType: MimeType, Started: r.started, Duration: r.elapsed}
	onStop := r.onStop
	r.mu.Unlock()

	if err := track.Close(); err != nil {
		util.LogWarning("webm writer close failed: %v", err)
	}
	select {
	case <-sink.closed:
	case <-time.After(finalizeTimeout):
		util.LogWarning("webm writer did not finalize within %v", finalizeTimeout)
	}

	blob.Data = sink.chunks.Merge()
	sink.chunks.Reset()
	util.LogDebug("recording stopped, %d bytes", blob.Size())

	if onStop != nil {
		onStop(blob)
	}
	return nil
}
