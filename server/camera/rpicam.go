package camera

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/cyclopcam/motioncam/pkg/shell"
)

// RpicamSource runs rpicam-vid as the continuous monitoring capture process,
// emitting an MJPEG stream on stdout.
type RpicamSource struct {
	proc *shell.Proc
}

func NewRpicamSource() *RpicamSource {
	return &RpicamSource{}
}

func (s *RpicamSource) Start(cfg StreamConfig) (io.ReadCloser, error) {
	args := []string{
		"--camera", strconv.Itoa(cfg.CameraID),
		"--width", strconv.Itoa(cfg.Width),
		"--height", strconv.Itoa(cfg.Height),
		"--framerate", strconv.Itoa(cfg.FrameRate),
		"--timeout", "0", // run forever
		"--nopreview",
		"--codec", "mjpeg",
		"--quality", "80",
		"--flush", "1",
		"--output", "-",
	}
	proc, stdout, err := shell.StartProc(true, "rpicam-vid", args...)
	if err != nil {
		return nil, fmt.Errorf("Failed to spawn rpicam-vid: %w", err)
	}
	s.proc = proc
	return stdout, nil
}

func (s *RpicamSource) Stop(grace time.Duration) {
	if s.proc != nil {
		s.proc.Stop(grace)
	}
}

// TestCamera is a quick preflight check that the camera hardware responds.
func TestCamera(cameraID int) bool {
	r := shell.RunTimeout(10*time.Second, "rpicam-hello", "--camera", strconv.Itoa(cameraID), "--timeout", "1000")
	return r.OK()
}

// StartRpicamPostCapture spawns the dedicated post-event capture: a fixed
// duration H264 recording at the output resolution, written straight to
// outputPath. The caller owns the returned process handle.
func StartRpicamPostCapture(cameraID, width, height, frameRate int, duration time.Duration, outputPath string) (*shell.Proc, error) {
	args := []string{
		"--camera", strconv.Itoa(cameraID),
		"--width", strconv.Itoa(width),
		"--height", strconv.Itoa(height),
		"--framerate", strconv.Itoa(frameRate),
		"--timeout", strconv.Itoa(int(duration.Milliseconds())),
		"--nopreview",
		"--codec", "h264",
		"--output", outputPath,
	}
	proc, _, err := shell.StartProc(false, "rpicam-vid", args...)
	if err != nil {
		return nil, fmt.Errorf("Failed to spawn rpicam-vid recorder: %w", err)
	}
	return proc, nil
}
