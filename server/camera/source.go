package camera

import (
	"fmt"
	"io"
	"time"

	"github.com/cyclopcam/logs"
)

// StreamConfig is what we ask of the underlying capture process.
type StreamConfig struct {
	CameraID  int
	Width     int
	Height    int
	FrameRate int
}

// VideoSource launches the continuous capture process for a camera, and
// exposes its raw output byte stream. The controller never touches OS
// process primitives directly; tests provide a fake source that replays
// recorded byte streams.
type VideoSource interface {
	// Start spawns the capture process and returns its output stream.
	Start(cfg StreamConfig) (io.ReadCloser, error)
	// Stop terminates the capture process (SIGTERM, escalating to SIGKILL
	// after 'grace'). Must be idempotent.
	Stop(grace time.Duration)
}

const chunkSize = 4096

// FrameSource pulls discrete JPEG frames out of the continuous byte stream
// of a VideoSource. It owns the camera while monitoring; it must be fully
// stopped before anything else may open the camera.
type FrameSource struct {
	// Tunables, set before Start
	MaxBufferBytes int           // Ceiling on unparsed bytes before we discard the head
	ReadTimeout    time.Duration // No data for this long means the stream has stalled
	StartupTimeout time.Duration // Process must produce a first frame within this window
	StopGrace      time.Duration // SIGTERM -> SIGKILL escalation interval
	SettleDelay    time.Duration // Pause between Stop and Start during Restart

	log    logs.Log
	cfg    StreamConfig
	source VideoSource

	stream  io.ReadCloser
	chunks  chan []byte
	stop    chan struct{}
	buf     []byte
	pending *Frame // First frame, consumed by Start while verifying the stream
	seq     int64
	started bool
}

func NewFrameSource(log logs.Log, source VideoSource, cfg StreamConfig) *FrameSource {
	return &FrameSource{
		MaxBufferBytes: 4 * 1024 * 1024,
		ReadTimeout:    5 * time.Second,
		StartupTimeout: 10 * time.Second,
		StopGrace:      3 * time.Second,
		SettleDelay:    2 * time.Second,
		log:            log,
		source:         source,
		cfg:            cfg,
	}
}

// Start spawns the capture process and waits for the first complete frame.
// If either step misses the startup timeout, we fail with ErrCameraUnavailable.
func (f *FrameSource) Start() error {
	if f.started {
		return nil
	}
	stream, err := f.source.Start(f.cfg)
	if err != nil {
		return fmt.Errorf("%w: failed to start capture process: %v", ErrCameraUnavailable, err)
	}
	f.stream = stream
	f.chunks = make(chan []byte, 64)
	f.stop = make(chan struct{})
	f.buf = nil
	f.started = true
	go readChunks(stream, f.chunks, f.stop)

	// The camera is only considered available once it has produced a frame
	deadline := time.Now().Add(f.StartupTimeout)
	for {
		frame, err := f.NextFrame()
		if err != nil {
			f.Stop()
			return fmt.Errorf("%w: stream ended before first frame: %v", ErrCameraUnavailable, err)
		}
		if frame != nil {
			f.pending = frame
			f.log.Infof("Camera %v stream started (%vx%v @ %v fps)", f.cfg.CameraID, f.cfg.Width, f.cfg.Height, f.cfg.FrameRate)
			return nil
		}
		if time.Now().After(deadline) {
			f.Stop()
			return fmt.Errorf("%w: no frame within startup timeout %v", ErrCameraUnavailable, f.StartupTimeout)
		}
	}
}

// NextFrame returns the next complete frame from the stream. It returns
// (nil, nil) if no complete frame is available yet, and ErrStreamStalled if
// the capture process has produced nothing for longer than ReadTimeout.
func (f *FrameSource) NextFrame() (*Frame, error) {
	if !f.started {
		return nil, fmt.Errorf("%w: frame source is not running", ErrCameraUnavailable)
	}
	if f.pending != nil {
		frame := f.pending
		f.pending = nil
		return frame, nil
	}

	if frame := f.extractFrame(); frame != nil {
		return frame, nil
	}

	select {
	case chunk, ok := <-f.chunks:
		if !ok {
			return nil, fmt.Errorf("%w: capture stream closed", ErrCameraUnavailable)
		}
		f.buf = append(f.buf, chunk...)
		f.enforceBufferCeiling()
	case <-time.After(f.ReadTimeout):
		return nil, fmt.Errorf("%w: no data for %v", ErrStreamStalled, f.ReadTimeout)
	}

	return f.extractFrame(), nil
}

// Stop terminates the capture process and releases the stream. Idempotent,
// and safe to call from a failure path.
func (f *FrameSource) Stop() {
	if !f.started {
		return
	}
	f.started = false
	close(f.stop)
	f.source.Stop(f.StopGrace)
	f.stream.Close()
	f.buf = nil
	f.pending = nil
	f.log.Infof("Camera %v stream stopped", f.cfg.CameraID)
}

// Restart is used after the camera has been relinquished to a competing
// consumer (the dedicated post-event recorder): stop, give the hardware a
// moment to settle, then start fresh.
func (f *FrameSource) Restart() error {
	f.Stop()
	time.Sleep(f.SettleDelay)
	return f.Start()
}

func (f *FrameSource) extractFrame() *Frame {
	jpeg, rest := cutJPEGFrame(f.buf)
	f.buf = rest
	if jpeg == nil {
		return nil
	}
	f.seq++
	return &Frame{
		Seq:        f.seq,
		CapturedAt: time.Now(),
		JPEG:       append([]byte(nil), jpeg...),
	}
}

// If unparsed bytes accumulate beyond the ceiling without yielding a frame
// boundary, discard the oldest excess and keep only the tail. This is a
// lossy recovery policy, not an error.
func (f *FrameSource) enforceBufferCeiling() {
	if len(f.buf) <= f.MaxBufferBytes {
		return
	}
	keep := f.MaxBufferBytes / 2
	discard := len(f.buf) - keep
	f.buf = append([]byte(nil), f.buf[discard:]...)
	f.log.Warnf("Camera %v: no frame boundary in %v bytes, discarding oldest %v bytes", f.cfg.CameraID, discard+keep, discard)
}

// readChunks runs on its own goroutine, pumping raw bytes from the capture
// process into the chunk channel until the stream ends or we are stopped.
func readChunks(stream io.Reader, chunks chan<- []byte, stop <-chan struct{}) {
	for {
		buf := make([]byte, chunkSize)
		n, err := stream.Read(buf)
		if n > 0 {
			select {
			case chunks <- buf[:n]:
			case <-stop:
				return
			}
		}
		if err != nil {
			close(chunks)
			return
		}
	}
}
