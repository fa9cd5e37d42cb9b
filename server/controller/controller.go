// Package controller runs the per-camera capture state machine: monitor the
// live stream, hand the camera over to the recorder when motion is detected,
// then take it back and resume monitoring.
package controller

import (
	"bytes"
	"errors"
	"fmt"
	"image/jpeg"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/motioncam/server/camera"
	"github.com/cyclopcam/motioncam/server/config"
	"github.com/cyclopcam/motioncam/server/detect"
	"github.com/cyclopcam/motioncam/server/eventdb"
	"github.com/cyclopcam/motioncam/server/recorder"
)

type State int

const (
	StateInit State = iota
	StateMonitoring
	StateTriggered
	StateRecording
	StateMerging
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateMonitoring:
		return "MONITORING"
	case StateTriggered:
		return "TRIGGERED"
	case StateRecording:
		return "RECORDING"
	case StateMerging:
		return "MERGING"
	case StateShuttingDown:
		return "SHUTTING_DOWN"
	}
	return fmt.Sprintf("State(%v)", int(s))
}

// Controller drives one camera. It owns the monitoring loop; the only other
// goroutine it spawns is the signal listener.
type Controller struct {
	ShutdownStarted  chan bool // Closed when shutdown begins
	ShutdownComplete chan bool // Closed when shutdown has finished

	// Emit a monitoring heartbeat log every this many processed frames
	HeartbeatFrames int64

	log       logs.Log
	cfg       *config.Config
	frames    *camera.FrameSource
	detector  detect.Detector
	prebuffer *camera.PreBuffer
	recorder  *recorder.Recorder
	events    *eventdb.EventDB

	shutdownLock sync.Mutex
	state        State
	frameCount   int64
	signalIn     chan os.Signal
}

func NewController(log logs.Log, cfg *config.Config, frames *camera.FrameSource, detector detect.Detector, prebuffer *camera.PreBuffer, rec *recorder.Recorder, events *eventdb.EventDB) *Controller {
	return &Controller{
		ShutdownStarted:  make(chan bool),
		ShutdownComplete: make(chan bool),
		HeartbeatFrames:  300,
		log:              log,
		cfg:              cfg,
		frames:           frames,
		detector:         detector,
		prebuffer:        prebuffer,
		recorder:         rec,
		events:           events,
		state:            StateInit,
	}
}

func (c *Controller) State() State {
	c.shutdownLock.Lock()
	defer c.shutdownLock.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.shutdownLock.Lock()
	old := c.state
	c.state = s
	c.shutdownLock.Unlock()
	if old != s {
		c.log.Infof("State %v -> %v", old, s)
	}
}

// Shutdown begins an orderly stop. Safe to call more than once, from any
// goroutine. Run() performs the actual teardown and closes ShutdownComplete.
func (c *Controller) Shutdown() {
	c.shutdownLock.Lock()
	defer c.shutdownLock.Unlock()
	select {
	case <-c.ShutdownStarted:
	default:
		close(c.ShutdownStarted)
	}
}

func (c *Controller) shuttingDown() bool {
	select {
	case <-c.ShutdownStarted:
		return true
	default:
		return false
	}
}

func (c *Controller) ListenForKillSignals() {
	c.signalIn = make(chan os.Signal, 1)
	signal.Notify(c.signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		if sig, ok := <-c.signalIn; ok {
			c.log.Infof("Received OS signal '%v'. Shutting down", sig.String())
			c.Shutdown()
		}
	}()
}

// Run is the monitoring loop. It blocks until shutdown, and returns a
// non-nil error only when the loop dies for a reason other than a requested
// shutdown (camera gone, and could not be brought back).
func (c *Controller) Run() error {
	defer close(c.ShutdownComplete)

	c.recorder.CleanupOrphans()
	if err := c.frames.Start(); err != nil {
		c.setState(StateShuttingDown)
		return fmt.Errorf("Failed to open camera %v: %w", c.cfg.Camera.ID, err)
	}
	c.setState(StateMonitoring)

	// A shutdown request must also unblock a wait on the post-event capture
	go func() {
		<-c.ShutdownStarted
		c.recorder.Abort()
	}()

	var fatal error
	for !c.shuttingDown() {
		frame, err := c.frames.NextFrame()
		if err != nil {
			if fatal = c.recoverStream(err); fatal != nil {
				break
			}
			continue
		}
		if frame == nil {
			continue
		}
		if !c.monitorFrame(frame) {
			continue
		}
		if fatal = c.record(frame); fatal != nil {
			break
		}
	}

	c.setState(StateShuttingDown)
	c.teardown()
	return fatal
}

// monitorFrame feeds one frame through the pre-event buffer and, on every
// SkipFrames-th frame, the detector. Returns true when the detector fired.
func (c *Controller) monitorFrame(frame *camera.Frame) bool {
	c.frameCount++
	c.prebuffer.Push(frame)
	if c.frameCount%c.HeartbeatFrames == 0 {
		c.log.Infof("Monitoring: %v frames processed, buffer %v/%v", c.frameCount, c.prebuffer.Len(), c.prebuffer.Capacity())
	}
	if c.frameCount%int64(c.cfg.Detection.SkipFrames) != 0 {
		return false
	}
	img, err := jpeg.Decode(bytes.NewReader(frame.JPEG))
	if err != nil {
		c.log.Warnf("Skipping undecodable frame %v: %v", frame.Seq, err)
		return false
	}
	return c.detector.Detect(img)
}

// record runs the trigger through to the point where monitoring can resume:
// ledger entry, camera handoff, post-event capture, camera back. The merge
// itself continues on the recorder's worker while we return to monitoring.
func (c *Controller) record(frame *camera.Frame) error {
	c.setState(StateTriggered)
	event, err := c.events.AddEvent(int64(c.cfg.Camera.ID), c.detector.Kind(), 1, frame.CapturedAt)
	if err != nil {
		c.log.Errorf("Failed to record event, recording anyway: %v", err)
	}

	if c.cfg.Recording.Enabled {
		// The dedicated capture process needs exclusive camera access
		c.frames.Stop()

		c.setState(StateRecording)
		session, err := c.recorder.Begin(event, frame.CapturedAt)
		if errors.Is(err, recorder.ErrSessionConflict) {
			c.log.Warnf("Trigger dropped: %v", err)
		} else if err != nil {
			c.log.Errorf("Failed to start recording: %v", err)
			if event != nil {
				if err := c.events.SetOutcome(event.ID, "", eventdb.StatusFailed); err != nil {
					c.log.Errorf("Failed to record outcome of event %v: %v", event.ID, err)
				}
			}
		} else {
			c.recorder.WaitPostCapture(session)
		}
	}

	c.setState(StateMerging)
	if c.cfg.Recording.Enabled && !c.shuttingDown() {
		if err := c.frames.Restart(); err != nil {
			return fmt.Errorf("Failed to reopen camera %v after recording: %w", c.cfg.Camera.ID, err)
		}
	}
	c.detector.Reset()
	c.prebuffer.Reset()
	c.setState(StateMonitoring)
	return nil
}

// recoverStream handles a NextFrame error. A stalled stream gets one restart
// attempt; anything unrecoverable comes back as a fatal error.
func (c *Controller) recoverStream(err error) error {
	if c.shuttingDown() {
		return nil
	}
	if errors.Is(err, camera.ErrStreamStalled) {
		c.log.Warnf("Camera %v stream stalled, restarting: %v", c.cfg.Camera.ID, err)
	} else {
		c.log.Errorf("Camera %v stream died, restarting: %v", c.cfg.Camera.ID, err)
	}
	if err := c.frames.Restart(); err != nil {
		return fmt.Errorf("Failed to restart camera %v stream: %w", c.cfg.Camera.ID, err)
	}
	c.detector.Reset()
	c.prebuffer.Reset()
	return nil
}

func (c *Controller) teardown() {
	c.Shutdown()
	c.log.Infof("Shutting down after %v frames", c.frameCount)
	c.recorder.Abort()
	c.frames.Stop()
	c.recorder.CleanupOrphans()
	if c.signalIn != nil {
		signal.Stop(c.signalIn)
		close(c.signalIn)
	}
	c.log.Infof("Shutdown complete")
}
