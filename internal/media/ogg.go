package media

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

// ErrNoAudio is returned by a looping source that completed a full pass
// without producing a single audio frame.
var ErrNoAudio = errors.New("source contains no audio frames")

const (
	opusSampleRate  = 48000
	minFrameSamples = 120 // 2.5ms, the shortest Opus frame
)

// OggOptions configures an OggSource.
type OggOptions struct {
	// Loop replays the file from the start whenever it ends.
	Loop bool
	// FrameDuration is assumed for pages whose granule position does not
	// give a usable duration. Defaults to DefaultFrameDuration.
	FrameDuration time.Duration
}

// OggSource reads Opus packets from an Ogg file, one page per frame.
type OggSource struct {
	path     string
	loop     bool
	fallback time.Duration

	file        *os.File
	reader      *oggreader.OggReader
	lastGranule uint64
	passFrames  int
}

// OpenOgg opens the Ogg/Opus file at path.
func OpenOgg(path string, opts OggOptions) (*OggSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio source %s: %w", path, err)
	}

	if opts.FrameDuration <= 0 {
		opts.FrameDuration = DefaultFrameDuration
	}
	s := &OggSource{path: path, loop: opts.Loop, fallback: opts.FrameDuration, file: file}
	if err := s.reset(); err != nil {
		file.Close()
		return nil, err
	}
	return s, nil
}

// reset rewinds the file and re-parses the Ogg ID header.
func (s *OggSource) reset() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind %s: %w", s.path, err)
	}
	reader, _, err := oggreader.NewWith(s.file)
	if err != nil {
		return fmt.Errorf("failed to read ogg header of %s: %w", s.path, err)
	}
	s.reader = reader
	s.lastGranule = 0
	s.passFrames = 0
	return nil
}

// ReadFrame returns the next audio page.
func (s *OggSource) ReadFrame() (Frame, error) {
	for {
		page, header, err := s.reader.ParseNextPage()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			if !s.loop {
				return Frame{}, io.EOF
			}
			if s.passFrames == 0 {
				return Frame{}, ErrNoAudio
			}
			if err := s.reset(); err != nil {
				return Frame{}, err
			}
			continue
		}
		if err != nil {
			return Frame{}, fmt.Errorf("failed to parse ogg page: %w", err)
		}

		if isHeaderPage(page) {
			s.lastGranule = header.GranulePosition
			continue
		}

		duration := s.fallback
		if header.GranulePosition > s.lastGranule {
			samples := header.GranulePosition - s.lastGranule
			if samples >= minFrameSamples {
				duration = time.Duration(samples) * time.Second / opusSampleRate
			}
		}
		s.lastGranule = header.GranulePosition
		s.passFrames++

		return Frame{Data: page, Duration: duration}, nil
	}
}

// Close releases the underlying file.
func (s *OggSource) Close() error {
	return s.file.Close()
}

func isHeaderPage(page []byte) bool {
	return bytes.HasPrefix(page, []byte("OpusHead")) || bytes.HasPrefix(page, []byte("OpusTags"))
}
