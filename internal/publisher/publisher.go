package publisher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"golang.org/x/sync/errgroup"

	"github.com/1ureka/babelcast/internal/config"
	"github.com/1ureka/babelcast/internal/media"
	"github.com/1ureka/babelcast/internal/metrics"
	"github.com/1ureka/babelcast/internal/reconnect"
	"github.com/1ureka/babelcast/internal/recorder"
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

// Status is a point-in-time view of the publisher for the UI.
type Status struct {
	Connected   bool    `json:"connected"`
	State       State   `json:"state"`
	Channel     string  `json:"channel"`
	MicEnabled  bool    `json:"micEnabled"`
	Recording   bool    `json:"recording"`
	RecordLabel string  `json:"recordLabel"`
	Level       float64 `json:"level"`
	ICEState    string  `json:"iceState"`
	Sessions    int     `json:"sessions"`
}

// Publisher owns the microphone, recorder and recording controller for the
// whole process and runs signaling sessions over them one after another.
type Publisher struct {
	cfg      *config.Config
	api      *webrtc.API
	store    *store.Store
	metrics  *metrics.Metrics
	streamID string

	mic   *media.Microphone
	rec   *recorder.Recorder
	ctrl  *recorder.Controller
	saver *recorder.DirSaver

	mu       sync.Mutex
	current  *Session
	tr       *transport.Transport
	reload   chan struct{}
	sessions int
}

// New creates a publisher streaming src. m may be nil.
func New(cfg *config.Config, src media.Source, st *store.Store, m *metrics.Metrics) (*Publisher, error) {
	api, err := transport.NewAPI()
	if err != nil {
		return nil, err
	}

	rec := recorder.New(2)
	saver := recorder.NewDirSaver(cfg.Recording.Dir, m)
	rec.OnStop(saver.Handle)

	ctrl := recorder.NewController(rec, recorder.ControllerConfig{
		SilenceThreshold: cfg.Recording.SilenceThreshold,
		SilenceDuration:  cfg.Recording.SilenceDuration.ToDuration(),
		Metrics:          m,
	})

	return &Publisher{
		cfg:      cfg,
		api:      api,
		store:    st,
		metrics:  m,
		streamID: uuid.NewString(),
		mic:      media.NewMicrophone(src),
		rec:      rec,
		ctrl:     ctrl,
		saver:    saver,
	}, nil
}

// Saver returns the recordings directory writer.
func (p *Publisher) Saver() *recorder.DirSaver { return p.saver }

// Run captures audio, runs the level meter and keeps a session connected
// until ctx is cancelled or reconnect attempts are exhausted.
func (p *Publisher) Run(ctx context.Context) error {
	defer p.mic.Close()
	removeRec := p.mic.AddSink(p.rec.WriteFrame)
	defer removeRec()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := p.mic.Run(gctx); err != nil {
			// The session stays up without captured audio.
			util.LogError("audio device error: %v", err)
		}
		return nil
	})

	g.Go(func() error {
		p.ctrl.RunMeter(gctx, p.cfg.Recording.LevelPollInterval.ToDuration(), p.mic.Instant)
		return nil
	})

	g.Go(func() error {
		defer p.finishRecording()
		return reconnect.Loop(gctx, reconnect.PolicyFrom(p.cfg.Reconnect), p.runSession,
			func(err error, wait time.Duration) {
				util.LogWarning("session ended: %v, reconnecting in %v", err, wait)
				p.metrics.RecordReconnect()
			})
	})

	return g.Wait()
}

// finishRecording flushes an in-progress recording on shutdown.
func (p *Publisher) finishRecording() {
	if p.ctrl.Recording() {
		p.ctrl.Stop()
	}
}

// runSession dials the signaling server, negotiates one PeerConnection and
// blocks until the session ends. Unless ctx was cancelled, the session
// snapshot is persisted before teardown.
func (p *Publisher) runSession(ctx context.Context) (established bool, err error) {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	dctx, dcancel := context.WithTimeout(sctx, p.cfg.Signaling.DialTimeout.ToDuration())
	client, err := signaling.Dial(dctx, p.cfg.Signaling.URL, signaling.Options{
		PingInterval: p.cfg.Signaling.PingInterval.ToDuration(),
		PongWait:     p.cfg.Signaling.PongWait.ToDuration(),
		WriteWait:    p.cfg.Signaling.WriteWait.ToDuration(),
		OnMessage:    func(m signaling.Message) { p.metrics.RecordMessageReceived(string(m.Key)) },
		OnSend:       func(m signaling.Message) { p.metrics.RecordMessageSent(string(m.Key)) },
	})
	dcancel()
	if err != nil {
		return false, err
	}
	defer client.Close()

	tr, err := transport.New(sctx, p.api, transport.Config{ICEServers: p.cfg.WebRTC.ICEServers})
	if err != nil {
		return false, err
	}
	defer tr.Close()

	track, err := tr.AddAudioTrack(p.streamID)
	if err != nil {
		return false, err
	}
	sink := transport.TrackSink(sctx, track)
	removeSink := p.mic.AddSink(func(f media.Frame) {
		sink(f)
		p.metrics.RecordFrameSent()
	})
	defer removeSink()

	sess := NewSession(client, tr, p.mic, p.ctrl, p.store, SessionConfig{
		Channel:            p.cfg.Publisher.Channel,
		Password:           p.cfg.Publisher.Password,
		AutoRejoinTimeout:  p.cfg.Publisher.AutoRejoinTimeout.ToDuration(),
		RecordRestoreDelay: p.cfg.Publisher.RecordRestoreDelay.ToDuration(),
		Metrics:            p.metrics,
	})
	reload := p.attach(sess, tr)
	defer p.detach()

	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error { return client.Run(gctx) })
	g.Go(func() error { return sess.Start(gctx) })
	g.Go(func() error {
		select {
		case err := <-sess.Failed():
			return err
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
	g.Go(func() error {
		select {
		case <-tr.Ready():
			util.LogSuccess("ICE connected")
		case <-gctx.Done():
		}
		return nil
	})

	err = g.Wait()

	select {
	case <-tr.Ready():
		established = true
	default:
	}

	if ctx.Err() == nil {
		if serr := p.store.SaveSettings(sess.Snapshot()); serr != nil {
			util.LogError("failed to persist settings: %v", serr)
		}
	}
	return established, err
}

func (p *Publisher) attach(sess *Session, tr *transport.Transport) <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = sess
	p.tr = tr
	p.reload = make(chan struct{})
	p.sessions++
	return p.reload
}

func (p *Publisher) detach() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = nil
	p.tr = nil
	p.reload = nil
}

func (p *Publisher) session() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// ---------------------------------------------------------------------------
// UI actions
// ---------------------------------------------------------------------------

// Join submits the channel form.
func (p *Publisher) Join(ch string) error {
	sess := p.session()
	if sess == nil {
		return ErrNoSession
	}
	return sess.Join(ch)
}

// SubmitPassword submits the password form.
func (p *Publisher) SubmitPassword(password string) error {
	sess := p.session()
	if sess == nil {
		return ErrNoSession
	}
	return sess.SubmitPassword(password)
}

// ToggleMic flips the microphone track and returns the new enabled flag.
func (p *Publisher) ToggleMic() bool {
	enabled := p.mic.Toggle()
	util.LogInfo("microphone enabled: %v", enabled)
	return enabled
}

// ToggleRecording starts or stops recording and returns the new flag.
func (p *Publisher) ToggleRecording() bool {
	p.ctrl.Toggle()
	return p.ctrl.Recording()
}

// Reconnect tears down the current session and starts a new one at once,
// carrying its settings over.
func (p *Publisher) Reconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reload == nil {
		return ErrNoSession
	}
	select {
	case <-p.reload:
	default:
		close(p.reload)
	}
	return nil
}

// Status returns the current UI state.
func (p *Publisher) Status() Status {
	st := Status{
		State:       StateForm,
		MicEnabled:  p.mic.Enabled(),
		Recording:   p.ctrl.Recording(),
		RecordLabel: p.ctrl.Label(),
		Level:       p.ctrl.Level(),
	}

	p.mu.Lock()
	sess, tr := p.current, p.tr
	st.Sessions = p.sessions
	p.mu.Unlock()

	if sess != nil {
		st.Connected = true
		st.State = sess.State()
		st.Channel = sess.Channel()
	}
	if tr != nil {
		st.ICEState = tr.ICEConnectionState().String()
	}
	return st
}
