package subscriber

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"

	"github.com/1ureka/babelcast/internal/metrics"
	"github.com/1ureka/babelcast/internal/util"
)

// Play button icons.
const (
	IconPlay  = "play"
	IconPause = "pause"
)

// rtpReader is the read side of a remote track.
type rtpReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// rtpWriter receives played packets, e.g. an oggwriter.
type rtpWriter interface {
	WriteRTP(*rtp.Packet) error
	Close() error
}

// Player plays the remote audio track into an optional writer and carries
// the play/pause button state.
type Player struct {
	out      rtpWriter
	autoplay bool
	metrics  *metrics.Metrics

	mu       sync.Mutex
	paused   bool
	attached bool
	icon     string
	gen      int
}

// NewPlayer creates a player writing to out, which may be nil to discard.
func NewPlayer(out rtpWriter, autoplay bool, m *metrics.Metrics) *Player {
	return &Player{
		out:      out,
		autoplay: autoplay,
		metrics:  m,
		paused:   true,
		icon:     IconPlay,
	}
}

// Attach starts playing track. Playback starts immediately when autoplay is
// enabled; the icon is resynced to the actual state after resync. Attach
// returns once the track ends or ctx is cancelled.
func (p *Player) Attach(ctx context.Context, track rtpReader, resync time.Duration) {
	p.mu.Lock()
	p.gen++
	gen := p.gen
	p.attached = true
	p.paused = !p.autoplay
	p.icon = IconPause
	p.mu.Unlock()

	go p.resyncIcon(ctx, gen, resync)

	defer func() {
		p.mu.Lock()
		if p.gen == gen {
			p.attached = false
		}
		p.mu.Unlock()
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				util.LogDebug("remote track ended: %v", err)
			}
			return
		}
		util.Stats.AddRecv(len(pkt.Payload))
		p.metrics.RecordPacketReceived()

		if p.Playing() && p.out != nil {
			if err := p.out.WriteRTP(pkt); err != nil {
				util.LogWarning("failed to write audio: %v", err)
			}
		}
	}
}

// resyncIcon shows the play icon if autoplay did not take effect.
func (p *Player) resyncIcon(ctx context.Context, gen int, delay time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen == gen && p.paused {
		p.icon = IconPlay
	}
}

// Toggle switches between playing and paused and returns whether the player
// is now playing.
func (p *Player) Toggle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.paused = !p.paused
	if p.paused {
		p.icon = IconPlay
	} else {
		p.icon = IconPause
	}
	return !p.paused
}

// Playing reports whether received audio is played.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.paused
}

// Icon returns the play button icon.
func (p *Player) Icon() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.icon
}

// Attached reports whether a remote track is playing into the player.
func (p *Player) Attached() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attached
}

// Close releases the output.
func (p *Player) Close() error {
	if p.out == nil {
		return nil
	}
	return p.out.Close()
}
