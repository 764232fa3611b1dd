package subscriber

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"golang.org/x/sync/errgroup"

	"github.com/1ureka/babelcast/internal/config"
	"github.com/1ureka/babelcast/internal/metrics"
	"github.com/1ureka/babelcast/internal/reconnect"
	"github.com/1ureka/babelcast/internal/signaling"
	"github.com/1ureka/babelcast/internal/store"
	"github.com/1ureka/babelcast/internal/transport"
	"github.com/1ureka/babelcast/internal/util"
)

var (
	// ErrNoSession is returned by UI actions while no session is connected.
	ErrNoSession = errors.New("no active session")
	// ErrPeerClosed ends a session whose PeerConnection failed or closed.
	ErrPeerClosed = errors.New("peer connection closed")
)

// Status is a point-in-time view of the subscriber for the UI.
type Status struct {
	Connected     bool     `json:"connected"`
	Established   bool     `json:"established"`
	Channel       string   `json:"channel"`
	Channels      []string `json:"channels"`
	NoChannels    bool     `json:"noChannels"`
	PickerVisible bool     `json:"pickerVisible"`
	OutputVisible bool     `json:"outputVisible"`
	Attached      bool     `json:"attached"`
	Playing       bool     `json:"playing"`
	Icon          string   `json:"icon"`
	Sessions      int      `json:"sessions"`
}

// Subscriber runs listener sessions back to back. The picker, player and
// output file outlive individual sessions.
type Subscriber struct {
	cfg     *config.Config
	api     *webrtc.API
	store   *store.Store
	metrics *metrics.Metrics
	picker  *Picker
	player  *Player

	mu       sync.Mutex
	current  *Session
	reload   chan struct{}
	sessions int
}

// New creates a subscriber. When an output path is configured, received
// audio is written there as Ogg/Opus. m may be nil.
func New(cfg *config.Config, st *store.Store, m *metrics.Metrics) (*Subscriber, error) {
	api, err := transport.NewAPI()
	if err != nil {
		return nil, err
	}

	var out rtpWriter
	if cfg.Subscriber.Output != "" {
		w, err := oggwriter.New(cfg.Subscriber.Output, 48000, 2)
		if err != nil {
			return nil, fmt.Errorf("failed to open output %s: %w", cfg.Subscriber.Output, err)
		}
		out = w
	}

	return &Subscriber{
		cfg:     cfg,
		api:     api,
		store:   st,
		metrics: m,
		picker:  &Picker{},
		player:  NewPlayer(out, cfg.Subscriber.Autoplay, m),
	}, nil
}

// Picker returns the channel picker.
func (s *Subscriber) Picker() *Picker { return s.picker }

// Run keeps a session connected until ctx is cancelled or reconnect
// attempts are exhausted.
func (s *Subscriber) Run(ctx context.Context) error {
	defer s.player.Close()

	if s.cfg.Subscriber.Channel != "" {
		if ch, _ := s.store.Channel(); ch == "" {
			if err := s.store.SetChannel(s.cfg.Subscriber.Channel); err != nil {
				return err
			}
		}
	}

	return reconnect.Loop(ctx, reconnect.PolicyFrom(s.cfg.Reconnect), s.runSession,
		func(err error, wait time.Duration) {
			util.LogWarning("session ended: %v, reconnecting in %v", err, wait)
			s.metrics.RecordReconnect()
		})
}

func (s *Subscriber) runSession(ctx context.Context) (established bool, err error) {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	dctx, dcancel := context.WithTimeout(sctx, s.cfg.Signaling.DialTimeout.ToDuration())
	client, err := signaling.Dial(dctx, s.cfg.Signaling.URL, signaling.Options{
		PingInterval: s.cfg.Signaling.PingInterval.ToDuration(),
		PongWait:     s.cfg.Signaling.PongWait.ToDuration(),
		WriteWait:    s.cfg.Signaling.WriteWait.ToDuration(),
		OnMessage:    func(m signaling.Message) { s.metrics.RecordMessageReceived(string(m.Key)) },
		OnSend:       func(m signaling.Message) { s.metrics.RecordMessageSent(string(m.Key)) },
	})
	dcancel()
	if err != nil {
		return false, err
	}
	defer client.Close()

	tr, err := transport.New(sctx, s.api, transport.Config{ICEServers: s.cfg.WebRTC.ICEServers})
	if err != nil {
		return false, err
	}
	defer tr.Close()

	sess := NewSession(client, tr, s.store, s.picker, s.player, SessionConfig{
		PollInterval: s.cfg.Subscriber.ChannelPollInterval.ToDuration(),
		ResyncDelay:  s.cfg.Subscriber.PlayResyncDelay.ToDuration(),
	})
	reload := s.attach(sess)
	defer s.detach()

	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error { return client.Run(gctx) })
	g.Go(func() error { return sess.Start(gctx) })
	g.Go(func() error {
		select {
		case <-reload:
			return reconnect.ErrReload
		case <-tr.Done():
			if gctx.Err() != nil {
				return nil
			}
			return ErrPeerClosed
		case <-gctx.Done():
			return nil
		}
	})

	err = g.Wait()
	return sess.Established(), err
}

func (s *Subscriber) attach(sess *Session) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = sess
	s.reload = make(chan struct{})
	s.sessions++
	return s.reload
}

func (s *Subscriber) detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
	s.reload = nil
}

func (s *Subscriber) session() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// ---------------------------------------------------------------------------
// UI actions
// ---------------------------------------------------------------------------

// Choose subscribes to ch.
func (s *Subscriber) Choose(ch string) error {
	sess := s.session()
	if sess == nil {
		return ErrNoSession
	}
	return sess.Choose(ch)
}

// Reload restarts the session, keeping the stored channel.
func (s *Subscriber) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reload == nil {
		return ErrNoSession
	}
	select {
	case <-s.reload:
	default:
		close(s.reload)
	}
	return nil
}

// SwitchChannel forgets the stored channel and restarts the session so the
// picker is offered again.
func (s *Subscriber) SwitchChannel() error {
	if err := s.store.ClearChannel(); err != nil {
		return err
	}
	return s.Reload()
}

// TogglePlay toggles playback and returns whether audio is playing.
func (s *Subscriber) TogglePlay() bool {
	return s.player.Toggle()
}

// Status returns the current UI state.
func (s *Subscriber) Status() Status {
	st := Status{
		Channels:      s.picker.Channels(),
		NoChannels:    s.picker.Empty(),
		PickerVisible: s.picker.Visible(),
		Attached:      s.player.Attached(),
		Playing:       s.player.Playing(),
		Icon:          s.player.Icon(),
	}

	s.mu.Lock()
	sess := s.current
	st.Sessions = s.sessions
	s.mu.Unlock()

	if sess != nil {
		st.Connected = true
		st.Established = sess.Established()
		st.Channel = sess.Channel()
		st.OutputVisible = sess.OutputVisible()
	}
	return st
}
