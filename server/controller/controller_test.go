package controller

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/motioncam/pkg/shell"
	"github.com/cyclopcam/motioncam/server/camera"
	"github.com/cyclopcam/motioncam/server/config"
	"github.com/cyclopcam/motioncam/server/detect"
	"github.com/cyclopcam/motioncam/server/eventdb"
	"github.com/cyclopcam/motioncam/server/recorder"
	"github.com/stretchr/testify/require"
)

// scriptedSource replays canned MJPEG byte streams, one per Start call.
// After a stream's bytes are consumed the reader holds (simulating a live
// camera that has gone quiet) until the source is stopped.
type scriptedSource struct {
	streams [][]byte
	repeat  bool // Replay the last stream for Start calls beyond the script

	mu     sync.Mutex
	starts int
	stop   chan struct{}
}

func (s *scriptedSource) Start(cfg camera.StreamConfig) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.starts
	s.starts++
	if i >= len(s.streams) {
		if !s.repeat {
			return nil, fmt.Errorf("camera gone")
		}
		i = len(s.streams) - 1
	}
	s.stop = make(chan struct{})
	return &heldStream{data: s.streams[i], stop: s.stop}, nil
}

func (s *scriptedSource) Stop(grace time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		select {
		case <-s.stop:
		default:
			close(s.stop)
		}
	}
}

func (s *scriptedSource) startCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

type heldStream struct {
	data []byte
	pos  int
	stop chan struct{}
}

func (h *heldStream) Read(p []byte) (int, error) {
	if h.pos < len(h.data) {
		n := copy(p, h.data[h.pos:])
		h.pos += n
		return n, nil
	}
	<-h.stop
	return 0, io.EOF
}

func (h *heldStream) Close() error {
	return nil
}

func encodeJPEG(t *testing.T, shade uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 64, 48))
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	buf := bytes.Buffer{}
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func mjpegStream(t *testing.T, shades ...uint8) []byte {
	t.Helper()
	buf := bytes.Buffer{}
	for _, shade := range shades {
		buf.Write(encodeJPEG(t, shade))
	}
	return buf.Bytes()
}

func repeatShade(shade uint8, n int) []uint8 {
	out := make([]uint8, n)
	for i := range out {
		out[i] = shade
	}
	return out
}

// Recorder fakes, same shape as the recorder package's own tests

type stubTranscoder struct{}

func (s *stubTranscoder) EncodeImageSequence(pattern string, fps, width, height int, outPath string) error {
	return os.WriteFile(outPath, bytes.Repeat([]byte{0xaa}, 2048), 0644)
}

func (s *stubTranscoder) ExtractRawStream(srcPath, dstPath string, fps int) error {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return err
	}
	return os.WriteFile(dstPath, data, 0644)
}

func (s *stubTranscoder) Concat(listPath, outPath string, fps int, maxDuration time.Duration) error {
	return os.WriteFile(outPath, bytes.Repeat([]byte{0xbb}, 4096), 0644)
}

type stubProber struct{}

func (s *stubProber) Duration(path string) (time.Duration, error) {
	return 30 * time.Second, nil
}

type doneCapture struct{}

func (d doneCapture) Wait(timeout time.Duration) shell.Status { return shell.StatusExitedOK }
func (d doneCapture) Stop(grace time.Duration)                {}
func (d doneCapture) Running() bool                           { return false }

func stubLauncher(outputPath string, duration time.Duration) (recorder.PostCapture, error) {
	if err := os.WriteFile(outputPath, bytes.Repeat([]byte{0xcc}, 2048), 0644); err != nil {
		return nil, err
	}
	return doneCapture{}, nil
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Detection.SkipFrames = 1
	cfg.Detection.WarmupFrames = 3
	cfg.Detection.Sensitivity = "very_high"
	cfg.Recording.OutputDir = filepath.Join(t.TempDir(), "videos")
	cfg.Recording.PreBufferSeconds = 1
	cfg.Recording.PostBufferSeconds = 1
	cfg.EventDBPath = filepath.Join(t.TempDir(), "events.sqlite")
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestController(t *testing.T, cfg *config.Config, source camera.VideoSource) (*Controller, *eventdb.EventDB) {
	t.Helper()
	log := logs.NewTestingLog(t)
	frames := camera.NewFrameSource(log, source, camera.StreamConfig{
		CameraID:  cfg.Camera.ID,
		Width:     cfg.Camera.Width,
		Height:    cfg.Camera.Height,
		FrameRate: cfg.Camera.FrameRate,
	})
	frames.ReadTimeout = 200 * time.Millisecond
	frames.StartupTimeout = 2 * time.Second
	frames.SettleDelay = 10 * time.Millisecond
	detector, err := detect.NewDetector(log, cfg.Detection)
	require.NoError(t, err)
	events, err := eventdb.NewEventDB(log, cfg.EventDBPath)
	require.NoError(t, err)
	prebuffer := camera.NewPreBuffer(log, cfg.PreBufferCapacity())
	rec := recorder.NewRecorder(log, cfg, &stubTranscoder{}, &stubProber{}, stubLauncher, events, prebuffer)
	return NewController(log, cfg, frames, detector, prebuffer, rec, events), events
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %v", what)
}

func TestControllerTriggerAndRecord(t *testing.T) {
	cfg := testConfig(t)
	// Warm up on dark frames, then a burst of bright ones fires the detector
	trigger := mjpegStream(t, append(repeatShade(10, 6), repeatShade(250, 4)...)...)
	quiet := mjpegStream(t, repeatShade(10, 8)...)
	source := &scriptedSource{streams: [][]byte{trigger, quiet}, repeat: true}
	ctrl, events := newTestController(t, cfg, source)

	runErr := make(chan error, 1)
	go func() { runErr <- ctrl.Run() }()

	waitFor(t, 10*time.Second, "event to be recorded and saved", func() bool {
		recent, err := events.RecentEvents(1)
		return err == nil && len(recent) == 1 && recent[0].Status == eventdb.StatusSaved
	})
	waitFor(t, 5*time.Second, "monitoring to resume", func() bool {
		return ctrl.State() == StateMonitoring && source.startCount() >= 2
	})

	recent, err := events.RecentEvents(1)
	require.NoError(t, err)
	require.Equal(t, "background", recent[0].Detector)
	require.FileExists(t, recent[0].VideoPath)

	ctrl.Shutdown()
	require.NoError(t, <-runErr)
	<-ctrl.ShutdownComplete
	require.Equal(t, StateShuttingDown, ctrl.State())
}

func TestControllerCameraUnavailable(t *testing.T) {
	cfg := testConfig(t)
	source := &scriptedSource{streams: nil}
	ctrl, _ := newTestController(t, cfg, source)

	err := ctrl.Run()
	require.ErrorIs(t, err, camera.ErrCameraUnavailable)
	<-ctrl.ShutdownComplete
}

func TestControllerStallRecovery(t *testing.T) {
	cfg := testConfig(t)
	quiet := mjpegStream(t, repeatShade(10, 5)...)
	source := &scriptedSource{streams: [][]byte{quiet}, repeat: true}
	ctrl, events := newTestController(t, cfg, source)

	runErr := make(chan error, 1)
	go func() { runErr <- ctrl.Run() }()

	// The stream goes quiet after its frames; the controller must restart it
	waitFor(t, 10*time.Second, "stream restart after stall", func() bool {
		return source.startCount() >= 2
	})
	recent, err := events.RecentEvents(10)
	require.NoError(t, err)
	require.Empty(t, recent, "no motion means no events")

	ctrl.Shutdown()
	require.NoError(t, <-runErr)
}

func TestControllerFatalWhenRestartFails(t *testing.T) {
	cfg := testConfig(t)
	quiet := mjpegStream(t, repeatShade(10, 5)...)
	source := &scriptedSource{streams: [][]byte{quiet}}
	ctrl, _ := newTestController(t, cfg, source)

	err := ctrl.Run()
	require.Error(t, err)
	require.ErrorIs(t, err, camera.ErrCameraUnavailable)
	<-ctrl.ShutdownComplete
}

func TestControllerRecordingDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Recording.Enabled = false
	trigger := mjpegStream(t, append(repeatShade(10, 6), repeatShade(250, 4)...)...)
	source := &scriptedSource{streams: [][]byte{trigger}, repeat: true}
	ctrl, events := newTestController(t, cfg, source)

	runErr := make(chan error, 1)
	go func() { runErr <- ctrl.Run() }()

	// The event is still written to the ledger, but stays pending: there is
	// no recording workflow to attribute an outcome.
	waitFor(t, 10*time.Second, "ledger entry", func() bool {
		recent, err := events.RecentEvents(1)
		return err == nil && len(recent) == 1
	})
	recent, err := events.RecentEvents(1)
	require.NoError(t, err)
	require.Equal(t, eventdb.StatusPending, recent[0].Status)
	clips, _ := filepath.Glob(filepath.Join(cfg.Recording.OutputDir, "cam*", "*", "*.mp4"))
	require.Empty(t, clips, "no clip is produced with recording disabled")

	ctrl.Shutdown()
	require.NoError(t, <-runErr)
}
