// Package transport wraps the single PeerConnection a Babelcast session
// negotiates with the media server.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/babelcast/internal/util"
)

// Config configures a Transport.
type Config struct {
	ICEServers []string
}

// Transport wraps a PeerConnection, providing the signaling surface used by
// the publisher and subscriber sessions.
//
// Ready is closed once ICE reaches connected or completed; Done is closed
// when ICE fails, the PeerConnection closes or the parent context is
// cancelled.
type Transport struct {
	pc *webrtc.PeerConnection

	readyOnce sync.Once
	ready     chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	iceState webrtc.ICEConnectionState

	// Remote candidates that arrived before the answer.
	candMu    sync.Mutex
	remoteSet bool
	pending   []webrtc.ICECandidateInit
}

// New creates a Transport backed by a new PeerConnection.
func New(ctx context.Context, api *webrtc.API, cfg Config) (*Transport, error) {
	pc, err := newPeerConnection(api, cfg.ICEServers)
	if err != nil {
		return nil, fmt.Errorf("failed to create PeerConnection: %w", err)
	}

	tCtx, tCancel := context.WithCancel(ctx)

	t := &Transport{
		pc:       pc,
		ready:    make(chan struct{}),
		ctx:      tCtx,
		cancel:   tCancel,
		iceState: webrtc.ICEConnectionStateNew,
	}

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		util.LogDebug("ICE connection state: %s", state.String())
		t.mu.Lock()
		t.iceState = state
		t.mu.Unlock()

		switch state {
		case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
			t.readyOnce.Do(func() { close(t.ready) })
		case webrtc.ICEConnectionStateFailed:
			tCancel()
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state.String())
		if state == webrtc.PeerConnectionStateClosed || state == webrtc.PeerConnectionStateFailed {
			tCancel()
		}
	})

	return t, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Ready returns a channel that is closed when ICE is connected.
func (t *Transport) Ready() <-chan struct{} {
	return t.ready
}

// Done returns a channel that is closed when the Transport is shut down.
func (t *Transport) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Close shuts down the PeerConnection.
func (t *Transport) Close() error {
	t.cancel()
	return t.pc.Close()
}

// ICEConnectionState returns the last observed ICE connection state.
func (t *Transport) ICEConnectionState() webrtc.ICEConnectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.iceState
}

// ---------------------------------------------------------------------------
// Media
// ---------------------------------------------------------------------------

// AddAudioTrack adds a send-only Opus track and starts draining RTCP from its
// sender so the interceptors keep running.
func (t *Transport) AddAudioTrack(streamID string) (*webrtc.TrackLocalStaticSample, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}

	rtpSender, err := t.pc.AddTrack(track)
	if err != nil {
		return nil, fmt.Errorf("failed to add audio track: %w", err)
	}

	go func() {
		rtcpBuf := make([]byte, 1500)
		for {
			if _, _, err := rtpSender.Read(rtcpBuf); err != nil {
				return
			}
		}
	}()

	return track, nil
}

// AddReceiveOnlyAudio adds a recv-only audio transceiver.
func (t *Transport) AddReceiveOnlyAudio() error {
	_, err := t.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	})
	if err != nil {
		return fmt.Errorf("failed to add audio transceiver: %w", err)
	}
	return nil
}

// OnTrack registers a callback invoked for every remote track.
func (t *Transport) OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	t.pc.OnTrack(fn)
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer and applies it as local description.
func (t *Transport) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("CreateOffer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("SetLocalDescription: %w", err)
	}
	return offer, nil
}

// SetRemoteDescription applies the remote SDP and flushes any candidates
// buffered while it was missing.
func (t *Transport) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	if err := t.pc.SetRemoteDescription(sdp); err != nil {
		return fmt.Errorf("SetRemoteDescription: %w", err)
	}

	t.candMu.Lock()
	t.remoteSet = true
	pending := t.pending
	t.pending = nil
	t.candMu.Unlock()

	var errs []error
	for _, c := range pending {
		if err := t.pc.AddICECandidate(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OnICECandidate registers a callback invoked whenever a new local ICE
// candidate is gathered. A nil candidate signals the end of gathering.
func (t *Transport) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	t.pc.OnICECandidate(fn)
}

// AddICECandidate adds a remote ICE candidate received through signaling.
// Candidates received before the remote description are queued.
func (t *Transport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	t.candMu.Lock()
	if !t.remoteSet {
		t.pending = append(t.pending, candidate)
		t.candMu.Unlock()
		return nil
	}
	t.candMu.Unlock()
	return t.pc.AddICECandidate(candidate)
}

// PendingCandidates returns the number of queued remote candidates.
func (t *Transport) PendingCandidates() int {
	t.candMu.Lock()
	defer t.candMu.Unlock()
	return len(t.pending)
}
