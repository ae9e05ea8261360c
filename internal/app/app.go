// Package app provides the main application logic for the Vigil motion
// detection daemon: it pumps frames from a source through the detector and
// turns per-frame verdicts into stored events, hook executions, and live
// feed messages.
package app

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ayusman/vigil/internal/capture"
	"github.com/ayusman/vigil/internal/compute"
	"github.com/ayusman/vigil/internal/hook"
	"github.com/ayusman/vigil/internal/motion"
	"github.com/ayusman/vigil/internal/store"
)

// Pipeline timing constants.
const (
	// IdleFPS is the frame rate when no motion is detected.
	IdleFPS = 5
	// ActiveFPS is the frame rate during an active motion event.
	ActiveFPS = 15
	// CooldownPeriod is the minimum time between opening two events.
	CooldownPeriod = 2 * time.Second
	// NoMotionDelay is how long motion must be absent before an event
	// closes.
	NoMotionDelay = 2 * time.Second
	// HookTimeoutMs bounds each hook execution.
	HookTimeoutMs = 5000
)

// VerdictFunc receives every per-frame verdict, for the live feed.
type VerdictFunc func(source string, detected bool, eventID string)

// Config holds configuration options for the application.
type Config struct {
	Store   *store.Store
	HookDir string
	Source  capture.Source
	Video   motion.VideoSettings
	Motion  motion.Config
	Device  compute.DeviceConfig
	Runtime compute.Runtime
	// OnVerdict, when set, is called for every processed frame.
	OnVerdict VerdictFunc
}

// App is the main application that orchestrates motion detection, event
// persistence, and hook execution.
type App struct {
	config   Config
	source   capture.Source
	detector *motion.Detector
	hookMgr  *hook.Manager
	hookExec *hook.Executor

	enabled bool
	mu      sync.RWMutex
	stopCh  chan struct{}
	done    chan struct{}

	// lastFrame is the most recent JPEG frame, served on /api/stream.
	lastFrame   []byte
	lastFrameMu sync.RWMutex

	// lastEvent is the start time of the most recent event.
	lastEvent time.Time
}

// New creates a new App instance with the given configuration. The detector
// is built here so construction fails fast on bad settings or an
// unavailable device.
func New(config Config) (*App, error) {
	if config.Source == nil {
		return nil, fmt.Errorf("app: a frame source is required")
	}
	if config.Runtime == nil {
		config.Runtime = compute.NewCPURuntime()
	}

	detector, err := motion.New(config.Video, config.Motion, config.Device, config.Runtime, log.Default())
	if err != nil {
		return nil, err
	}

	a := &App{
		config:   config,
		source:   config.Source,
		detector: detector,
		hookMgr:  hook.NewManager(config.HookDir),
		hookExec: hook.NewExecutor(HookTimeoutMs),
		enabled:  true,
	}

	if err := a.hookMgr.Discover(); err != nil {
		log.Printf("Hook discovery failed: %v", err)
	} else if n := len(a.hookMgr.List()); n > 0 {
		log.Printf("Discovered %d hooks", n)
	}

	return a, nil
}

// Start opens the source and launches the pipeline loop.
func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopCh != nil {
		return nil
	}

	if err := a.source.Open(); err != nil {
		return fmt.Errorf("open source: %w", err)
	}

	a.stopCh = make(chan struct{})
	a.done = make(chan struct{})
	go a.runPipeline(a.stopCh, a.done)

	return nil
}

// Stop halts the pipeline, closes the source, and releases the detector.
func (a *App) Stop() {
	a.mu.Lock()
	stopCh, done := a.stopCh, a.done
	a.stopCh, a.done = nil, nil
	a.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		<-done
	}

	if err := a.source.Close(); err != nil {
		log.Printf("Error closing source: %v", err)
	}
	a.detector.Close()
}

// SetEnabled enables or disables motion detection without stopping the
// frame pump.
func (a *App) SetEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = enabled
}

// IsEnabled returns whether motion detection is currently enabled.
func (a *App) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// LastEventTime returns when the most recent motion event started, or the
// zero time if none has.
func (a *App) LastEventTime() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastEvent
}

// LatestFrame returns the most recent JPEG frame seen by the pipeline.
func (a *App) LatestFrame() ([]byte, error) {
	a.lastFrameMu.RLock()
	defer a.lastFrameMu.RUnlock()

	if len(a.lastFrame) == 0 {
		return nil, fmt.Errorf("no frame available yet")
	}

	frame := make([]byte, len(a.lastFrame))
	copy(frame, a.lastFrame)
	return frame, nil
}

func (a *App) setLatestFrame(frame []byte) {
	a.lastFrameMu.Lock()
	defer a.lastFrameMu.Unlock()
	a.lastFrame = frame
}

func (a *App) setLastEvent(t time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastEvent = t
}
