// Package publisher implements the broadcasting role: one signaling session
// at a time over a long-lived microphone, recorder and controller, restarted
// with backoff whenever the connection is lost.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/babelcast/internal/metrics"
	"github.com/1ureka/babelcast/internal/signaling"
	"github.com/1ureka/babelcast/internal/store"
	"github.com/1ureka/babelcast/internal/util"
)

// State is the visible form state of a publisher session.
type State string

const (
	StateForm             State = "form"
	StateJoined           State = "joined"
	StatePasswordRequired State = "password_required"
)

var allStates = []string{string(StateForm), string(StateJoined), string(StatePasswordRequired)}

// ErrNoChannel is returned when joining without a channel name.
var ErrNoChannel = errors.New("channel name cannot be empty")

// ServerError is an error message pushed by the signaling server.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error: %s", e.Message)
}

// peer is the PeerConnection surface a session drives.
type peer interface {
	CreateOffer() (webrtc.SessionDescription, error)
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	OnICECandidate(func(*webrtc.ICECandidate))
	Ready() <-chan struct{}
}

// channel is the signaling surface a session drives.
type channel interface {
	signaling.Sender
	Handle(key signaling.Key, fn signaling.HandlerFunc)
}

// micSwitch is the enabled flag of the live audio track.
type micSwitch interface {
	SetEnabled(bool)
	Enabled() bool
}

// recordingState is the part of the recording controller a session restores.
type recordingState interface {
	Recording() bool
	StartAfter(ctx context.Context, delay time.Duration)
}

// settingsStore reads the settings persisted by the previous session.
type settingsStore interface {
	TakeSettings() (*store.Settings, error)
}

// SessionConfig configures a Session.
type SessionConfig struct {
	// Channel is joined automatically once ICE connects when no channel
	// was restored.
	Channel            string
	Password           string
	AutoRejoinTimeout  time.Duration
	RecordRestoreDelay time.Duration
	Metrics            *metrics.Metrics
}

// Session is one publisher signaling session: a WebSocket plus a
// PeerConnection carrying the microphone track.
type Session struct {
	sig   channel
	pc    peer
	mic   micSwitch
	rec   recordingState
	store settingsStore
	cfg   SessionConfig

	mu           sync.Mutex
	state        State
	channel      string
	passwordSent bool

	failOnce sync.Once
	failed   chan error
}

// NewSession wires the signaling handlers of a new session.
func NewSession(sig channel, pc peer, mic micSwitch, rec recordingState, st settingsStore, cfg SessionConfig) *Session {
	s := &Session{
		sig:    sig,
		pc:     pc,
		mic:    mic,
		rec:    rec,
		store:  st,
		cfg:    cfg,
		state:  StateForm,
		failed: make(chan error, 1),
	}

	sig.Handle(signaling.KeyInfo, s.onInfo)
	sig.Handle(signaling.KeyError, s.onError)
	sig.Handle(signaling.KeySDAnswer, s.onAnswer)
	sig.Handle(signaling.KeyICECandidate, s.onCandidate)
	sig.Handle(signaling.KeyPasswordRequired, s.onPasswordRequired)
	cfg.Metrics.SetSessionState(string(StateForm), allStates)

	return s
}

// Start restores the previous session's settings, sends the offer and
// schedules the automatic re-join.
func (s *Session) Start(ctx context.Context) error {
	rejoin := s.restore(ctx)

	s.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if err := s.sig.Send(signaling.KeyICECandidate, c.ToJSON()); err != nil {
			util.LogDebug("failed to send ICE candidate: %v", err)
		}
	})

	util.LogDebug("webrtc: create offer")
	offer, err := s.pc.CreateOffer()
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	if err := s.sig.Send(signaling.KeySessionPublisher, offer); err != nil {
		return fmt.Errorf("failed to send offer: %w", err)
	}

	if rejoin != "" {
		go s.autoRejoin(ctx, rejoin)
	}
	return nil
}

// restore applies persisted settings once and returns the channel to
// re-join, if any.
func (s *Session) restore(ctx context.Context) string {
	settings, err := s.store.TakeSettings()
	if err != nil {
		util.LogWarning("failed to restore settings: %v", err)
	}
	if settings == nil {
		return s.cfg.Channel
	}

	util.LogInfo("restoring session (channel=%q, mic=%v, recording=%v)",
		settings.Channel, settings.MicEnabled, settings.WasRecording)

	s.mic.SetEnabled(settings.MicEnabled)
	if settings.WasRecording && !s.rec.Recording() {
		go s.rec.StartAfter(ctx, s.cfg.RecordRestoreDelay)
	}

	s.mu.Lock()
	s.channel = settings.Channel
	s.mu.Unlock()

	if settings.Channel != "" {
		return settings.Channel
	}
	return s.cfg.Channel
}

// autoRejoin joins ch once ICE connects, unless the user joined first or the
// watchdog fires.
func (s *Session) autoRejoin(ctx context.Context, ch string) {
	timer := time.NewTimer(s.cfg.AutoRejoinTimeout)
	defer timer.Stop()

	select {
	case <-s.pc.Ready():
		if s.State() != StateForm {
			return
		}
		if err := s.Join(ch); err != nil {
			util.LogError("auto re-join failed: %v", err)
		}
	case <-timer.C:
		util.LogWarning("connection not established within %v, auto re-join of %q abandoned",
			s.cfg.AutoRejoinTimeout, ch)
	case <-ctx.Done():
	}
}

// Join registers the publisher under channel.
func (s *Session) Join(ch string) error {
	if ch == "" {
		return ErrNoChannel
	}

	s.mu.Lock()
	s.channel = ch
	s.state = StateJoined
	s.mu.Unlock()
	s.cfg.Metrics.SetSessionState(string(StateJoined), allStates)

	if err := s.sig.Send(signaling.KeyConnectPublisher, signaling.ChannelParams{Channel: ch}); err != nil {
		return err
	}
	util.LogSuccess("connected to channel: %s", ch)
	return nil
}

// SubmitPassword re-sends the join request for the current channel with a
// password.
func (s *Session) SubmitPassword(password string) error {
	s.mu.Lock()
	ch := s.channel
	s.passwordSent = true
	s.state = StateJoined
	s.mu.Unlock()

	if ch == "" {
		return ErrNoChannel
	}
	s.cfg.Metrics.SetSessionState(string(StateJoined), allStates)
	return s.sig.Send(signaling.KeyConnectPublisher, signaling.ChannelParams{Channel: ch, Password: password})
}

// State returns the form state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Channel returns the current channel name.
func (s *Session) Channel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

// Snapshot returns the settings to persist before the session is torn down.
func (s *Session) Snapshot() store.Settings {
	return store.Settings{
		Channel:      s.Channel(),
		MicEnabled:   s.mic.Enabled(),
		WasRecording: s.rec.Recording(),
	}
}

// Failed returns a channel receiving the server error that ended the
// session.
func (s *Session) Failed() <-chan error {
	return s.failed
}

func (s *Session) fail(err error) {
	s.failOnce.Do(func() { s.failed <- err })
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
	s.state = StateForm
	s.mu.Unlock()
	s.cfg.Metrics.SetSessionState(string(StateForm), allStates)

	s.fail(&ServerError{Message: msg.Text()})
}

func (s *Session) onAnswer(msg signaling.Message) {
	var answer webrtc.SessionDescription
	if err := msg.Decode(&answer); err != nil {
		util.LogError("%v", err)
		return
	}
	util.LogDebug("webrtc: set remote description")
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

func (s *Session) onPasswordRequired(signaling.Message) {
	s.mu.Lock()
	sent := s.passwordSent
	s.mu.Unlock()

	if s.cfg.Password != "" && !sent {
		util.LogInfo("channel requires a password, sending configured password")
		if err := s.SubmitPassword(s.cfg.Password); err != nil {
			util.LogError("failed to send password: %v", err)
		}
		return
	}

	s.mu.Lock()
	s.state = StatePasswordRequired
	s.mu.Unlock()
	s.cfg.Metrics.SetSessionState(string(StatePasswordRequired), allStates)
	util.LogWarning("channel %q requires a password", s.Channel())
}
