package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/1ureka/babelcast/internal/metrics"
	"github.com/1ureka/babelcast/internal/publisher"
	"github.com/1ureka/babelcast/internal/recorder"
	"github.com/1ureka/babelcast/internal/subscriber"
)

type fakePublisher struct {
	status    publisher.Status
	joinErr   error
	joined    []string
	passwords []string
	reloads   int
}

func (f *fakePublisher) Status() publisher.Status { return f.status }

func (f *fakePublisher) Join(ch string) error {
	if f.joinErr != nil {
		return f.joinErr
	}
	if ch == "" {
		return publisher.ErrNoChannel
	}
	f.joined = append(f.joined, ch)
	f.status.Channel = ch
	f.status.State = publisher.StateJoined
	return nil
}

func (f *fakePublisher) SubmitPassword(pw string) error {
	f.passwords = append(f.passwords, pw)
	return nil
}

func (f *fakePublisher) ToggleMic() bool {
	f.status.MicEnabled = !f.status.MicEnabled
	return f.status.MicEnabled
}

func (f *fakePublisher) ToggleRecording() bool {
	f.status.Recording = !f.status.Recording
	f.status.RecordLabel = recorder.LabelRecord
	if f.status.Recording {
		f.status.RecordLabel = recorder.LabelStop
	}
	return f.status.Recording
}

func (f *fakePublisher) Reconnect() error {
	f.reloads++
	return nil
}

type fakeSubscriber struct {
	status   subscriber.Status
	chosen   []string
	switches int
	noSess   bool
}

func (f *fakeSubscriber) Status() subscriber.Status { return f.status }

func (f *fakeSubscriber) Choose(ch string) error {
	if f.noSess {
		return subscriber.ErrNoSession
	}
	f.chosen = append(f.chosen, ch)
	f.status.Channel = ch
	return nil
}

func (f *fakeSubscriber) SwitchChannel() error {
	if f.noSess {
		return subscriber.ErrNoSession
	}
	f.switches++
	return nil
}

func (f *fakeSubscriber) Reload() error { return f.SwitchChannel() }

func (f *fakeSubscriber) TogglePlay() bool {
	f.status.Playing = !f.status.Playing
	return f.status.Playing
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, r))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func TestPublisherJoinAndStatus(t *testing.T) {
	p := &fakePublisher{status: publisher.Status{Connected: true, State: publisher.StateForm}}
	h := NewPublisherHandler(p, recorder.NewDirSaver(t.TempDir(), nil), nil)

	rec := do(t, h, "POST", "/api/channel", `{"channel":"lobby"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("join status = %d: %s", rec.Code, rec.Body)
	}
	var st publisher.Status
	decode(t, rec, &st)
	if st.Channel != "lobby" || st.State != publisher.StateJoined {
		t.Errorf("status after join = %+v", st)
	}

	rec = do(t, h, "GET", "/api/status", "")
	decode(t, rec, &st)
	if !st.Connected || st.Channel != "lobby" {
		t.Errorf("GET status = %+v", st)
	}
}

func TestPublisherErrors(t *testing.T) {
	p := &fakePublisher{}
	h := NewPublisherHandler(p, recorder.NewDirSaver(t.TempDir(), nil), nil)

	if rec := do(t, h, "POST", "/api/channel", `{"channel":""}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty channel status = %d, want 400", rec.Code)
	}
	if rec := do(t, h, "POST", "/api/channel", `not json`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad body status = %d, want 400", rec.Code)
	}

	p.joinErr = publisher.ErrNoSession
	if rec := do(t, h, "POST", "/api/channel", `{"channel":"lobby"}`); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("no session status = %d, want 503", rec.Code)
	}

	p.joinErr = errors.New("boom")
	if rec := do(t, h, "POST", "/api/channel", `{"channel":"lobby"}`); rec.Code != http.StatusInternalServerError {
		t.Errorf("unexpected error status = %d, want 500", rec.Code)
	}

	if rec := do(t, h, "GET", "/api/channel", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/channel status = %d, want 405", rec.Code)
	}
}

func TestPublisherButtons(t *testing.T) {
	p := &fakePublisher{status: publisher.Status{MicEnabled: true, RecordLabel: recorder.LabelRecord}}
	h := NewPublisherHandler(p, recorder.NewDirSaver(t.TempDir(), nil), nil)

	var mic map[string]bool
	decode(t, do(t, h, "POST", "/api/mic/toggle", ""), &mic)
	if mic["micEnabled"] {
		t.Error("mic should be disabled after toggle")
	}

	var record struct {
		Recording bool   `json:"recording"`
		Label     string `json:"label"`
	}
	decode(t, do(t, h, "POST", "/api/record/toggle", ""), &record)
	if !record.Recording || record.Label != recorder.LabelStop {
		t.Errorf("record toggle = %+v", record)
	}

	if rec := do(t, h, "POST", "/api/password", `{"password":"hunter2"}`); rec.Code != http.StatusOK {
		t.Errorf("password status = %d", rec.Code)
	}
	if len(p.passwords) != 1 || p.passwords[0] != "hunter2" {
		t.Errorf("passwords = %v", p.passwords)
	}

	if rec := do(t, h, "POST", "/api/reload", ""); rec.Code != http.StatusAccepted {
		t.Errorf("reload status = %d, want 202", rec.Code)
	}
	if p.reloads != 1 {
		t.Errorf("reloads = %d, want 1", p.reloads)
	}
}

func TestRecordingsListAndDownload(t *testing.T) {
	dir := t.TempDir()
	name := "recording_2026-01-02_10_00.webm"
	data := []byte{0x1a, 0x45, 0xdf, 0xa3, 0x01}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		t.Fatal(err)
	}
	h := NewPublisherHandler(&fakePublisher{}, recorder.NewDirSaver(dir, nil), nil)

	var entries []recorder.Entry
	decode(t, do(t, h, "GET", "/recordings", ""), &entries)
	if len(entries) != 1 || entries[0].Name != name || entries[0].Size != int64(len(data)) {
		t.Fatalf("entries = %+v", entries)
	}

	rec := do(t, h, "GET", "/recordings/"+name, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("download status = %d", rec.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), data) {
		t.Errorf("download body = %x", rec.Body.Bytes())
	}
	if ct := rec.Header().Get("Content-Type"); ct != recorder.MimeType {
		t.Errorf("content type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, name) {
		t.Errorf("content disposition = %q", cd)
	}

	if rec := do(t, h, "GET", "/recordings/missing.webm", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing recording status = %d, want 404", rec.Code)
	}
	if rec := do(t, h, "GET", "/recordings/notes.txt", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid name status = %d, want 400", rec.Code)
	}
}

func TestEmptyRecordingsIsArray(t *testing.T) {
	h := NewPublisherHandler(&fakePublisher{}, recorder.NewDirSaver(filepath.Join(t.TempDir(), "none"), nil), nil)
	rec := do(t, h, "GET", "/recordings", "")
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("empty list = %s, want []", got)
	}
}

func TestSubscriberRoutes(t *testing.T) {
	s := &fakeSubscriber{status: subscriber.Status{Channels: []string{"music", "news"}, Icon: subscriber.IconPlay}}
	h := NewSubscriberHandler(s, nil)

	var list struct {
		Channels   []string `json:"channels"`
		NoChannels bool     `json:"noChannels"`
	}
	decode(t, do(t, h, "GET", "/api/channels", ""), &list)
	if len(list.Channels) != 2 || list.NoChannels {
		t.Errorf("channels = %+v", list)
	}

	rec := do(t, h, "POST", "/api/channel", `{"channel":"news"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("choose status = %d", rec.Code)
	}
	if len(s.chosen) != 1 || s.chosen[0] != "news" {
		t.Errorf("chosen = %v", s.chosen)
	}

	if rec := do(t, h, "POST", "/api/switch", ""); rec.Code != http.StatusAccepted {
		t.Errorf("switch status = %d, want 202", rec.Code)
	}
	if rec := do(t, h, "POST", "/api/reload", ""); rec.Code != http.StatusAccepted {
		t.Errorf("reload status = %d, want 202", rec.Code)
	}
	if s.switches != 2 {
		t.Errorf("switches = %d, want 2", s.switches)
	}

	var play map[string]any
	decode(t, do(t, h, "POST", "/api/play/toggle", ""), &play)
	if play["playing"] != true {
		t.Errorf("play toggle = %v", play)
	}

	s.noSess = true
	if rec := do(t, h, "POST", "/api/switch", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("switch without session = %d, want 503", rec.Code)
	}
}

func TestRequestMetrics(t *testing.T) {
	m := metrics.New()
	h := NewSubscriberHandler(&fakeSubscriber{}, m)

	do(t, h, "GET", "/api/status", "")
	do(t, h, "GET", "/api/status", "")
	do(t, h, "GET", "/nowhere", "")

	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "GET /api/status", "200")); got != 2 {
		t.Errorf("status requests = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "", "404")); got != 1 {
		t.Errorf("unmatched requests = %v, want 1", got)
	}

	rec := do(t, h, "GET", "/metrics", "")
	if !strings.Contains(rec.Body.String(), "babelcast_http_requests_total") {
		t.Error("metrics endpoint should expose request counter")
	}
}

func TestCORSHeaders(t *testing.T) {
	h := NewSubscriberHandler(&fakeSubscriber{}, nil)
	req := httptest.NewRequest("GET", "/api/status", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestServeShutsDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, ln, NewSubscriberHandler(&fakeSubscriber{}, nil)) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/status")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
