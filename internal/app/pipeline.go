package app

import (
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/vigil/internal/decode"
	"github.com/ayusman/vigil/internal/hook"
	"github.com/ayusman/vigil/internal/motion"
	"github.com/ayusman/vigil/internal/store"
)

// event tracks the motion event currently in progress.
type event struct {
	id        string
	startedAt time.Time
	frames    int
	peak      int
}

// runPipeline is the main detection loop that processes frames from the
// source and turns verdicts into events.
//
// Pipeline logic:
// 1. Start in idle mode (IdleFPS)
// 2. On motion, open an event (subject to the cooldown), switch to active
//    mode (ActiveFPS), run the start hooks
// 3. While the event is open, count frames and track the peak change
// 4. After NoMotionDelay without motion, finish the event, run the end
//    hooks, and drop back to idle mode
// 5. Decode errors skip the frame; a device failure ends the loop
func (a *App) runPipeline(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	var current *event
	lastMotionTime := time.Time{}
	lastEventStart := time.Time{}

	frameInterval := time.Second / time.Duration(IdleFPS)
	a.source.SetFPS(IdleFPS)

	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			// Close out an in-flight event so the store never keeps a
			// dangling open row
			if current != nil {
				a.finishEvent(current, time.Now())
			}
			return
		case <-ticker.C:
			// Skip processing if detection is disabled
			if !a.IsEnabled() {
				continue
			}

			// Read a frame from the source
			frame, err := a.source.ReadFrame()
			if err != nil {
				log.Printf("Error reading frame: %v", err)
				continue
			}
			a.setLatestFrame(frame)

			detected, err := a.detector.DetectOnFrame(frame)
			if err != nil {
				if errors.Is(err, decode.ErrDecode) {
					log.Printf("Dropping undecodable frame: %v", err)
					continue
				}
				if errors.Is(err, motion.ErrDestroyed) {
					log.Printf("Detector destroyed, stopping pipeline")
					return
				}
				log.Printf("Detection failed, stopping pipeline: %v", err)
				return
			}

			now := time.Now()

			if detected {
				lastMotionTime = now

				if current == nil && now.Sub(lastEventStart) > CooldownPeriod {
					current = a.startEvent(now)
					lastEventStart = now

					// Switch to active mode
					a.source.SetFPS(ActiveFPS)
					frameInterval = time.Second / time.Duration(ActiveFPS)
					ticker.Reset(frameInterval)
				}
			}

			if current != nil {
				current.frames++
				if changed := a.detector.ChangedPixels(); changed > current.peak {
					current.peak = changed
				}

				// Check if the event should close
				if !detected && now.Sub(lastMotionTime) > NoMotionDelay {
					a.finishEvent(current, now)
					current = nil

					// Switch back to idle mode
					a.source.SetFPS(IdleFPS)
					frameInterval = time.Second / time.Duration(IdleFPS)
					ticker.Reset(frameInterval)
				}
			}

			if a.config.OnVerdict != nil {
				eventID := ""
				if current != nil {
					eventID = current.id
				}
				a.config.OnVerdict(a.source.Name(), detected, eventID)
			}
		}
	}
}

// startEvent opens a motion event: persists it, runs the start hooks, and
// records the start time for the tray.
func (a *App) startEvent(startedAt time.Time) *event {
	e := &event{
		id:        uuid.NewString(),
		startedAt: startedAt,
	}
	log.Printf("Motion started on %s (event %s)", a.source.Name(), e.id)
	a.setLastEvent(startedAt)

	if a.config.Store != nil {
		record := &store.Event{ID: e.id, Source: a.source.Name(), StartedAt: startedAt}
		if err := a.config.Store.Events().Create(record); err != nil {
			log.Printf("Failed to persist event %s: %v", e.id, err)
		}
	}

	a.runHooks(hook.EventMotionStart, &hook.Payload{
		Event:     hook.EventMotionStart,
		EventID:   e.id,
		Source:    a.source.Name(),
		StartedAt: startedAt.Format(time.RFC3339),
	})

	return e
}

// finishEvent closes a motion event and runs the end hooks.
func (a *App) finishEvent(e *event, endedAt time.Time) {
	log.Printf("Motion ended on %s (event %s, %d frames)", a.source.Name(), e.id, e.frames)

	if a.config.Store != nil {
		if err := a.config.Store.Events().Finish(e.id, endedAt, e.frames, e.peak); err != nil {
			log.Printf("Failed to finish event %s: %v", e.id, err)
		}
	}

	a.runHooks(hook.EventMotionEnd, &hook.Payload{
		Event:     hook.EventMotionEnd,
		EventID:   e.id,
		Source:    a.source.Name(),
		StartedAt: e.startedAt.Format(time.RFC3339),
		EndedAt:   endedAt.Format(time.RFC3339),
		Frames:    e.frames,
	})
}

// runHooks executes every hook subscribed to the event. Hook failures are
// logged and never affect the pipeline.
func (a *App) runHooks(eventName string, payload *hook.Payload) {
	for _, h := range a.hookMgr.ForEvent(eventName) {
		go func(h *hook.Hook) {
			if _, err := a.hookExec.Execute(h, payload); err != nil {
				log.Printf("Hook %s failed: %v", h.Manifest.Name, err)
			}
		}(h)
	}
}
