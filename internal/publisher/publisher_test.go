package publisher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/babelcast/internal/config"
	"github.com/1ureka/babelcast/internal/media"
	"github.com/1ureka/babelcast/internal/signaling"
	"github.com/1ureka/babelcast/internal/store"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// silenceSource yields silence frames forever.
type silenceSource struct{}

func (silenceSource) ReadFrame() (media.Frame, error) {
	return media.Frame{Data: media.OpusSilence, Duration: 20 * time.Millisecond}, nil
}
func (silenceSource) Close() error { return nil }

type inbound struct {
	conn int
	msg  signaling.Message
}

// signalServer accepts publisher connections, reports every message with the
// index of its connection and lets the test push frames to the latest one.
type signalServer struct {
	srv      *httptest.Server
	received chan inbound
	push     chan string
}

func newSignalServer(t *testing.T) *signalServer {
	t.Helper()
	s := &signalServer{
		received: make(chan inbound, 64),
		push:     make(chan string, 8),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	var conns atomic.Int32

	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		idx := int(conns.Add(1))

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				var msg signaling.Message
				if err := conn.ReadJSON(&msg); err != nil {
					return
				}
				s.received <- inbound{conn: idx, msg: msg}
			}
		}()

		for {
			select {
			case frame := <-s.push:
				if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
					return
				}
			case <-closed:
				return
			}
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *signalServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

// expect waits for a message with key, skipping others such as trickled
// candidates.
func (s *signalServer) expect(t *testing.T, key signaling.Key) inbound {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case in := <-s.received:
			if in.msg.Key == key {
				return in
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", key)
			return inbound{}
		}
	}
}

func testConfig(t *testing.T, url string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Signaling.URL = url
	cfg.WebRTC.ICEServers = []string{"stun:127.0.0.1:3478"}
	cfg.Recording.Dir = filepath.Join(t.TempDir(), "recordings")
	cfg.Reconnect.InitialInterval = config.Duration(10 * time.Millisecond)
	cfg.Reconnect.MaxInterval = config.Duration(50 * time.Millisecond)
	return cfg
}

func startPublisher(t *testing.T, cfg *config.Config) (*Publisher, *store.Store, context.CancelFunc, <-chan error) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "state"))
	if err != nil {
		t.Fatal(err)
	}
	p, err := New(cfg, silenceSource{}, st, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	t.Cleanup(cancel)
	return p, st, cancel, done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("publisher did not stop")
		return nil
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestReconnectAfterServerError(t *testing.T) {
	srv := newSignalServer(t)
	p, _, cancel, done := startPublisher(t, testConfig(t, srv.url()))

	first := srv.expect(t, signaling.KeySessionPublisher)
	if first.conn != 1 {
		t.Fatalf("offer on connection %d", first.conn)
	}

	if err := p.Join("lobby"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	joined := srv.expect(t, signaling.KeyConnectPublisher)
	var params signaling.ChannelParams
	if err := joined.msg.Decode(&params); err != nil || params.Channel != "lobby" {
		t.Fatalf("connect_publisher = %+v, %v", params, err)
	}

	p.ToggleMic() // muted state must survive the reconnect
	srv.push <- `{"Key":"error","Value":"channel closed"}`

	second := srv.expect(t, signaling.KeySessionPublisher)
	if second.conn != 2 {
		t.Fatalf("second offer on connection %d, want 2", second.conn)
	}

	deadline := time.Now().Add(2 * time.Second)
	for p.Status().Channel != "lobby" && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	st := p.Status()
	if st.Channel != "lobby" {
		t.Errorf("restored channel = %q, want lobby", st.Channel)
	}
	if st.MicEnabled {
		t.Error("mic should stay muted across the reconnect")
	}
	if st.Sessions != 2 {
		t.Errorf("sessions = %d, want 2", st.Sessions)
	}

	cancel()
	if err := waitDone(t, done); err != nil {
		t.Errorf("Run = %v", err)
	}
}

func TestReloadSkipsBackoff(t *testing.T) {
	srv := newSignalServer(t)
	cfg := testConfig(t, srv.url())
	cfg.Reconnect.InitialInterval = config.Duration(time.Hour)
	cfg.Reconnect.MaxInterval = config.Duration(time.Hour)
	p, _, cancel, done := startPublisher(t, cfg)

	srv.expect(t, signaling.KeySessionPublisher)
	if err := p.Reconnect(); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if in := srv.expect(t, signaling.KeySessionPublisher); in.conn != 2 {
		t.Errorf("reload offer on connection %d", in.conn)
	}

	cancel()
	waitDone(t, done)
}

func TestGivesUpAfterMaxRetries(t *testing.T) {
	cfg := testConfig(t, "ws://127.0.0.1:1/ws")
	cfg.Reconnect.MaxRetries = 2
	cfg.Signaling.DialTimeout = config.Duration(time.Second)
	_, _, _, done := startPublisher(t, cfg)

	err := waitDone(t, done)
	if err == nil || !strings.Contains(err.Error(), "giving up") {
		t.Errorf("Run = %v, want giving up error", err)
	}
}

func TestShutdownDoesNotPersist(t *testing.T) {
	srv := newSignalServer(t)
	p, st, cancel, done := startPublisher(t, testConfig(t, srv.url()))

	srv.expect(t, signaling.KeySessionPublisher)
	_ = p.Join("lobby")
	srv.expect(t, signaling.KeyConnectPublisher)

	cancel()
	waitDone(t, done)

	if settings, _ := st.TakeSettings(); settings != nil {
		t.Errorf("clean shutdown persisted %+v", settings)
	}
}

func TestActionsWithoutSession(t *testing.T) {
	st, _ := store.Open(t.TempDir())
	p, err := New(testConfig(t, "ws://127.0.0.1:1/ws"), silenceSource{}, st, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Join("x"); err != ErrNoSession {
		t.Errorf("Join = %v, want ErrNoSession", err)
	}
	if err := p.Reconnect(); err != ErrNoSession {
		t.Errorf("Reconnect = %v, want ErrNoSession", err)
	}
	if p.ToggleMic() {
		t.Error("ToggleMic should disable the initially enabled mic")
	}
	if s := p.Status(); s.Connected || s.RecordLabel != "Record" {
		t.Errorf("Status = %+v", s)
	}
}
