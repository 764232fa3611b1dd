// Package metrics exposes Prometheus metrics for the Babelcast client.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics of one client process. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Signaling
	MessagesSent      *prometheus.CounterVec
	MessagesReceived  *prometheus.CounterVec
	ReconnectAttempts prometheus.Counter
	SessionState      *prometheus.GaugeVec

	// Recording
	RecordingActive   prometheus.Gauge
	RecordingSegments prometheus.Counter
	RecordingBytes    prometheus.Counter
	SilenceRestarts   prometheus.Counter
	SignalLevel       prometheus.Gauge

	// Media
	FramesSent      prometheus.Counter
	PacketsReceived prometheus.Counter

	// HTTP API
	HTTPRequests *prometheus.CounterVec
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		MessagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "babelcast_signaling_messages_sent_total",
			Help: "Signaling messages sent, by key",
		}, []string{"key"}),
		MessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "babelcast_signaling_messages_received_total",
			Help: "Signaling messages received, by key",
		}, []string{"key"}),
		ReconnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "babelcast_reconnect_attempts_total",
			Help: "Session restarts after a lost connection or server error",
		}),
		SessionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "babelcast_session_state",
			Help: "1 for the current session state, 0 otherwise",
		}, []string{"state"}),

		RecordingActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "babelcast_recording_active",
			Help: "1 while a recording is in progress",
		}),
		RecordingSegments: factory.NewCounter(prometheus.CounterOpts{
			Name: "babelcast_recording_segments_total",
			Help: "Recording segments saved",
		}),
		RecordingBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "babelcast_recording_bytes_total",
			Help: "Bytes of recordings saved",
		}),
		SilenceRestarts: factory.NewCounter(prometheus.CounterOpts{
			Name: "babelcast_silence_restarts_total",
			Help: "Recordings restarted after a silence window",
		}),
		SignalLevel: factory.NewGauge(prometheus.GaugeOpts{
			Name: "babelcast_signal_level",
			Help: "Current normalized microphone level",
		}),

		FramesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "babelcast_frames_sent_total",
			Help: "Opus frames written to the local track",
		}),
		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "babelcast_rtp_packets_received_total",
			Help: "RTP packets read from the remote track",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "babelcast_http_requests_total",
			Help: "Control API requests",
		}, []string{"method", "route", "status_code"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordMessageSent increments the sent counter for key.
func (m *Metrics) RecordMessageSent(key string) {
	if m == nil {
		return
	}
	m.MessagesSent.WithLabelValues(key).Inc()
}

// RecordMessageReceived increments the received counter for key.
func (m *Metrics) RecordMessageReceived(key string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(key).Inc()
}

// RecordReconnect increments the reconnect counter.
func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.ReconnectAttempts.Inc()
}

// SetSessionState marks state as the only active session state among all.
func (m *Metrics) SetSessionState(state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.SessionState.WithLabelValues(s).Set(v)
	}
}

// SetRecording sets the recording-active gauge.
func (m *Metrics) SetRecording(active bool) {
	if m == nil {
		return
	}
	if active {
		m.RecordingActive.Set(1)
	} else {
		m.RecordingActive.Set(0)
	}
}

// RecordSegment records a saved recording of size bytes.
func (m *Metrics) RecordSegment(size int) {
	if m == nil {
		return
	}
	m.RecordingSegments.Inc()
	m.RecordingBytes.Add(float64(size))
}

// RecordSilenceRestart increments the silence restart counter.
func (m *Metrics) RecordSilenceRestart() {
	if m == nil {
		return
	}
	m.SilenceRestarts.Inc()
}

// SetSignalLevel sets the current normalized level.
func (m *Metrics) SetSignalLevel(v float64) {
	if m == nil {
		return
	}
	m.SignalLevel.Set(v)
}

// RecordFrameSent increments the frames sent counter.
func (m *Metrics) RecordFrameSent() {
	if m == nil {
		return
	}
	m.FramesSent.Inc()
}

// RecordPacketReceived increments the RTP packets counter.
func (m *Metrics) RecordPacketReceived() {
	if m == nil {
		return
	}
	m.PacketsReceived.Inc()
}

// RecordHTTPRequest records a control API request.
func (m *Metrics) RecordHTTPRequest(method, route, statusCode string) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, statusCode).Inc()
}
