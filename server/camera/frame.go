package camera

import (
	"errors"
	"time"
)

// ErrCameraUnavailable means the capture process failed to start, or failed
// to produce a first frame within the startup timeout. This is fatal to the
// camera's controller instance.
var ErrCameraUnavailable = errors.New("camera unavailable")

// ErrStreamStalled means an active capture process produced no data for
// longer than the read timeout. Callers treat it like ErrCameraUnavailable
// and restart the stream.
var ErrStreamStalled = errors.New("camera stream stalled")

// Frame is one encoded frame pulled off the monitoring stream. The JPEG
// payload is immutable once the frame is created; whoever holds the frame
// may decode it, but never mutates it.
type Frame struct {
	Seq        int64 // Monotonic sequence number, starting at 1
	CapturedAt time.Time
	JPEG       []byte
}
