package recorder

import (
	"context"
	"sync"
	"time"

	"github.com/1ureka/babelcast/internal/media"
	"github.com/1ureka/babelcast/internal/metrics"
	"github.com/1ureka/babelcast/internal/util"
)

// Button labels.
const (
	LabelRecord = "Record"
	LabelStop   = "Stop Recording"
)

// Machine is the start/stop surface the controller drives.
type Machine interface {
	Start() error
	Stop() error
}

var _ Machine = (*Recorder)(nil)

// ControllerConfig configures a Controller.
type ControllerConfig struct {
	// SilenceThreshold is the normalized level below which audio counts as
	// silent.
	SilenceThreshold float64
	// SilenceDuration is how long silence must last before the recording is
	// split.
	SilenceDuration time.Duration
	Metrics         *metrics.Metrics
	Now             func() time.Time
}

// Controller holds the idle/recording state of the record button and splits
// recordings on prolonged silence.
type Controller struct {
	rec       Machine
	threshold float64
	silence   time.Duration
	now       func() time.Time
	metrics   *metrics.Metrics
	norm      media.SlidingMax

	mu           sync.Mutex
	recording    bool
	silenceStart time.Time
	level        float64
}

// NewController creates an idle controller driving rec.
func NewController(rec Machine, cfg ControllerConfig) *Controller {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.SilenceDuration <= 0 {
		cfg.SilenceDuration = time.Minute
	}
	return &Controller{
		rec:       rec,
		threshold: cfg.SilenceThreshold,
		silence:   cfg.SilenceDuration,
		now:       cfg.Now,
		metrics:   cfg.Metrics,
	}
}

// Recording reports the recording flag.
func (c *Controller) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording
}

// Label returns the record button text for the current state.
func (c *Controller) Label() string {
	if c.Recording() {
		return LabelStop
	}
	return LabelRecord
}

// Level returns the last normalized level passed to Observe.
func (c *Controller) Level() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

// Toggle starts or stops recording depending on the current flag.
func (c *Controller) Toggle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recording {
		c.stopLocked()
	} else {
		c.startLocked()
	}
}

// Start begins a recording. Recorder errors are logged and leave the flag
// unchanged.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startLocked()
}

// Stop ends the current recording.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Controller) startLocked() {
	if err := c.rec.Start(); err != nil {
		util.LogError("failed to start recording: %v", err)
		return
	}
	c.recording = true
	c.metrics.SetRecording(true)
	util.LogInfo("recording started")
}

func (c *Controller) stopLocked() {
	if err := c.rec.Stop(); err != nil {
		util.LogError("failed to stop recording: %v", err)
		return
	}
	c.recording = false
	c.metrics.SetRecording(false)
	util.LogInfo("recording stopped")
}

// StartAfter starts recording once delay has elapsed, unless ctx ends first
// or a recording is already running.
func (c *Controller) StartAfter(ctx context.Context, delay time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recording {
		return
	}
	c.startLocked()
}

// Observe feeds one instantaneous level sample and returns it normalized
// against the running maximum. While recording, silence lasting longer than
// the configured duration stops the recording and immediately starts a new
// one.
func (c *Controller) Observe(instant float64) float64 {
	val := c.norm.Normalize(instant)
	c.metrics.SetSignalLevel(val)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.level = val

	if val >= c.threshold || !c.recording {
		c.silenceStart = time.Time{}
		return val
	}

	now := c.now()
	if c.silenceStart.IsZero() {
		c.silenceStart = now
		return val
	}
	if now.Sub(c.silenceStart) > c.silence {
		util.LogInfo("silence for more than %v, starting a new recording", c.silence)
		c.stopLocked()
		c.startLocked()
		c.silenceStart = time.Time{}
		c.metrics.RecordSilenceRestart()
	}
	return val
}

// RunMeter polls instant every interval and feeds it to Observe until ctx
// is cancelled.
func (c *Controller) RunMeter(ctx context.Context, interval time.Duration, instant func() float64) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Observe(instant())
		case <-ctx.Done():
			return
		}
	}
}
