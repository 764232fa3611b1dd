// Package subscriber implements the listening role: channel discovery,
// channel choice and playback of the received audio track.
package subscriber

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/babelcast/internal/signaling"
	"github.com/1ureka/babelcast/internal/util"
)

// ErrNoChannel is returned when choosing an empty channel name.
var ErrNoChannel = errors.New("channel name cannot be empty")

// peer is the PeerConnection surface a subscriber session drives.
type peer interface {
	AddReceiveOnlyAudio() error
	OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	CreateOffer() (webrtc.SessionDescription, error)
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	OnICECandidate(func(*webrtc.ICECandidate))
}

// channel is the signaling surface a subscriber session drives.
type channel interface {
	signaling.Sender
	Handle(key signaling.Key, fn signaling.HandlerFunc)
}

// channelStore remembers the last chosen channel.
type channelStore interface {
	Channel() (string, error)
	SetChannel(string) error
}

// SessionConfig configures a Session.
type SessionConfig struct {
	PollInterval time.Duration
	ResyncDelay  time.Duration
}

// Session is one subscriber signaling session.
type Session struct {
	sig    channel
	pc     peer
	store  channelStore
	picker *Picker
	player *Player
	cfg    SessionConfig

	mu          sync.Mutex
	channel     string
	established bool
	output      bool

	pollOnce sync.Once
	pollStop chan struct{}
}

// NewSession wires the signaling handlers of a new session.
func NewSession(sig channel, pc peer, st channelStore, picker *Picker, player *Player, cfg SessionConfig) *Session {
	s := &Session{
		sig:      sig,
		pc:       pc,
		store:    st,
		picker:   picker,
		player:   player,
		cfg:      cfg,
		pollStop: make(chan struct{}),
	}

	sig.Handle(signaling.KeyInfo, s.onInfo)
	sig.Handle(signaling.KeyError, s.onError)
	sig.Handle(signaling.KeySDAnswer, s.onAnswer)
	sig.Handle(signaling.KeyICECandidate, s.onCandidate)
	sig.Handle(signaling.KeyChannels, s.onChannels)
	sig.Handle(signaling.KeySessionEstablished, s.onEstablished)
	return s
}

// Start adds the receive-only transceiver, sends the offer and begins
// polling the channel list unless a channel is already stored.
func (s *Session) Start(ctx context.Context) error {
	if err := s.pc.AddReceiveOnlyAudio(); err != nil {
		return err
	}

	s.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		util.LogInfo("receiving %s track (codec %s)", track.Kind(), track.Codec().MimeType)
		go s.player.Attach(ctx, track, s.cfg.ResyncDelay)
	})

	s.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if err := s.sig.Send(signaling.KeyICECandidate, c.ToJSON()); err != nil {
			util.LogDebug("failed to send ICE candidate: %v", err)
		}
	})

	offer, err := s.pc.CreateOffer()
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	if err := s.sig.Send(signaling.KeySessionSubscriber, offer); err != nil {
		return fmt.Errorf("failed to send offer: %w", err)
	}

	if s.storedChannel() != "" {
		s.stopPolling()
		return nil
	}
	go s.poll(ctx)
	return nil
}

// poll requests the channel list every PollInterval until stopped.
func (s *Session) poll(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			util.LogDebug("get_channels")
			if err := s.sig.Send(signaling.KeyGetChannels, nil); err != nil {
				util.LogDebug("channel poll stopped: %v", err)
				return
			}
		case <-s.pollStop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) stopPolling() {
	s.pollOnce.Do(func() { close(s.pollStop) })
}

// Polling reports whether the channel poll is still running.
func (s *Session) Polling() bool {
	select {
	case <-s.pollStop:
		return false
	default:
		return true
	}
}

// Choose subscribes to ch and remembers it for the next session.
func (s *Session) Choose(ch string) error {
	if ch == "" {
		return ErrNoChannel
	}
	if err := s.connect(ch); err != nil {
		return err
	}
	if err := s.store.SetChannel(ch); err != nil {
		util.LogWarning("failed to remember channel: %v", err)
	}
	return nil
}

// connect shows the output and sends connect_subscriber.
func (s *Session) connect(ch string) error {
	s.mu.Lock()
	s.channel = ch
	s.output = true
	s.mu.Unlock()
	s.picker.setVisible(false)

	if err := s.sig.Send(signaling.KeyConnectSubscriber, signaling.ChannelParams{Channel: ch}); err != nil {
		return err
	}
	util.LogSuccess("listening to channel: %s", ch)
	return nil
}

// Channel returns the channel this session subscribed to.
func (s *Session) Channel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

// Established reports whether the server acknowledged the session.
func (s *Session) Established() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.established
}

// OutputVisible reports whether the player output is shown.
func (s *Session) OutputVisible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output
}

func (s *Session) storedChannel() string {
	ch, err := s.store.Channel()
	if err != nil {
		util.LogWarning("failed to read stored channel: %v", err)
	}
	return ch
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Session) onInfo(msg signaling.Message) {
	util.LogInfo("server info: %s", msg.Text())
}

func (s *Session) onError(msg signaling.Message) {
	util.LogError("server error: %s", msg.Text())
	s.mu.Lock()
	s.output = false
	s.mu.Unlock()
	s.picker.setVisible(false)
}

func (s *Session) onAnswer(msg signaling.Message) {
	var answer webrtc.SessionDescription
	if err := msg.Decode(&answer); err != nil {
		util.LogError("%v", err)
		return
	}
	if err := s.pc.SetRemoteDescription(answer); err != nil {
		util.LogError("failed to apply answer: %v", err)
	}
}

func (s *Session) onCandidate(msg signaling.Message) {
	var cand webrtc.ICECandidateInit
	if err := msg.Decode(&cand); err != nil {
		util.LogError("%v", err)
		return
	}
	if err := s.pc.AddICECandidate(cand); err != nil {
		util.LogError("failed to add ICE candidate: %v", err)
	}
}

func (s *Session) onChannels(msg signaling.Message) {
	if s.storedChannel() != "" {
		s.stopPolling()
		util.LogDebug("using last channel")
		return
	}

	var list []string
	if len(msg.Value) > 0 && string(msg.Value) != "null" {
		if err := msg.Decode(&list); err != nil {
			util.LogError("%v", err)
			return
		}
	}
	s.picker.Update(list)
	if len(list) > 0 {
		s.stopPolling()
	}
}

func (s *Session) onEstablished(signaling.Message) {
	util.LogDebug("session_established")
	s.mu.Lock()
	s.established = true
	s.mu.Unlock()
	s.picker.setVisible(true)

	if ch := s.storedChannel(); ch != "" {
		s.stopPolling()
		if err := s.connect(ch); err != nil {
			util.LogError("failed to join channel %q: %v", ch, err)
		}
	}
}
