package control

import (
	"net/http"

	"github.com/1ureka/babelcast/internal/metrics"
	"github.com/1ureka/babelcast/internal/subscriber"
)

// Subscriber is the UI surface of a running subscriber.
type Subscriber interface {
	Status() subscriber.Status
	Choose(channel string) error
	SwitchChannel() error
	Reload() error
	TogglePlay() bool
}

var _ Subscriber = (*subscriber.Subscriber)(nil)

// NewSubscriberHandler returns the subscriber control API.
func NewSubscriberHandler(s Subscriber, m *metrics.Metrics) http.Handler {
	h := &subscriberHandler{s: s}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", h.status)
	mux.HandleFunc("GET /api/channels", h.channels)
	mux.HandleFunc("POST /api/channel", h.choose)
	mux.HandleFunc("POST /api/switch", h.switchChannel)
	mux.HandleFunc("POST /api/reload", h.reload)
	mux.HandleFunc("POST /api/play/toggle", h.togglePlay)
	mux.Handle("GET /metrics", m.Handler())

	return wrap(mux, m)
}

type subscriberHandler struct {
	s Subscriber
}

func (h *subscriberHandler) fail(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err,
		[]error{subscriber.ErrNoSession},
		[]error{subscriber.ErrNoChannel}), err)
}

func (h *subscriberHandler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.s.Status())
}

func (h *subscriberHandler) channels(w http.ResponseWriter, r *http.Request) {
	st := h.s.Status()
	channels := st.Channels
	if channels == nil {
		channels = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": channels, "noChannels": st.NoChannels})
}

func (h *subscriberHandler) choose(w http.ResponseWriter, r *http.Request) {
	var req channelRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.s.Choose(req.Channel); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.s.Status())
}

func (h *subscriberHandler) switchChannel(w http.ResponseWriter, r *http.Request) {
	if err := h.s.SwitchChannel(); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *subscriberHandler) reload(w http.ResponseWriter, r *http.Request) {
	if err := h.s.Reload(); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *subscriberHandler) togglePlay(w http.ResponseWriter, r *http.Request) {
	playing := h.s.TogglePlay()
	st := h.s.Status()
	writeJSON(w, http.StatusOK, map[string]any{"playing": playing, "icon": st.Icon})
}
