package control

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/1ureka/babelcast/internal/metrics"
	"github.com/1ureka/babelcast/internal/publisher"
	"github.com/1ureka/babelcast/internal/recorder"
)

// Publisher is the UI surface of a running publisher.
type Publisher interface {
	Status() publisher.Status
	Join(channel string) error
	SubmitPassword(password string) error
	ToggleMic() bool
	ToggleRecording() bool
	Reconnect() error
}

// Recordings lists and resolves saved recordings.
type Recordings interface {
	List() ([]recorder.Entry, error)
	Path(name string) (string, error)
}

var (
	_ Publisher  = (*publisher.Publisher)(nil)
	_ Recordings = (*recorder.DirSaver)(nil)
)

// NewPublisherHandler returns the publisher control API.
func NewPublisherHandler(p Publisher, rec Recordings, m *metrics.Metrics) http.Handler {
	h := &publisherHandler{p: p, rec: rec}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", h.status)
	mux.HandleFunc("POST /api/channel", h.join)
	mux.HandleFunc("POST /api/password", h.password)
	mux.HandleFunc("POST /api/mic/toggle", h.toggleMic)
	mux.HandleFunc("POST /api/record/toggle", h.toggleRecord)
	mux.HandleFunc("POST /api/reload", h.reload)
	mux.HandleFunc("GET /recordings", h.listRecordings)
	mux.HandleFunc("GET /recordings/{name}", h.download)
	mux.Handle("GET /metrics", m.Handler())

	return wrap(mux, m)
}

type publisherHandler struct {
	p   Publisher
	rec Recordings
}

func (h *publisherHandler) fail(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err,
		[]error{publisher.ErrNoSession},
		[]error{publisher.ErrNoChannel}), err)
}

func (h *publisherHandler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.p.Status())
}

func (h *publisherHandler) join(w http.ResponseWriter, r *http.Request) {
	var req channelRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.p.Join(req.Channel); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.p.Status())
}

func (h *publisherHandler) password(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.p.SubmitPassword(req.Password); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.p.Status())
}

func (h *publisherHandler) toggleMic(w http.ResponseWriter, r *http.Request) {
	enabled := h.p.ToggleMic()
	writeJSON(w, http.StatusOK, map[string]bool{"micEnabled": enabled})
}

func (h *publisherHandler) toggleRecord(w http.ResponseWriter, r *http.Request) {
	h.p.ToggleRecording()
	st := h.p.Status()
	writeJSON(w, http.StatusOK, map[string]any{"recording": st.Recording, "label": st.RecordLabel})
}

func (h *publisherHandler) reload(w http.ResponseWriter, r *http.Request) {
	if err := h.p.Reconnect(); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *publisherHandler) listRecordings(w http.ResponseWriter, r *http.Request) {
	entries, err := h.rec.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []recorder.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *publisherHandler) download(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	path, err := h.rec.Path(name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		writeError(w, http.StatusNotFound, fmt.Errorf("recording %s not found", name))
		return
	}

	w.Header().Set("Content-Type", recorder.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeFile(w, r, path)
}
