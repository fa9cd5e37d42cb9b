// Package recorder turns an accepted motion trigger into a single merged
// clip: the pre-event ring buffer contents, followed by a dedicated
// post-event capture, concatenated and re-encoded to one MP4 in the daily
// archive. At most one recording session exists at a time, because the
// session owns the camera hardware while the post-event capture runs.
package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/motioncam/pkg/shell"
	"github.com/cyclopcam/motioncam/server/camera"
	"github.com/cyclopcam/motioncam/server/config"
	"github.com/cyclopcam/motioncam/server/eventdb"
	"github.com/cyclopcam/motioncam/server/videox"
)

// PostCapture is the running post-event capture process. *shell.Proc
// satisfies it; tests substitute a fake.
type PostCapture interface {
	Wait(timeout time.Duration) shell.Status
	Stop(grace time.Duration)
	Running() bool
}

// LaunchPostCaptureFunc spawns the post-event capture writing to outputPath
// for the given duration.
type LaunchPostCaptureFunc func(outputPath string, duration time.Duration) (PostCapture, error)

// Session is one in-flight recording: trigger to merged clip.
type Session struct {
	Event     *eventdb.Event
	TriggerAt time.Time
	DailyDir  string

	preClipPath  string // MP4 rendered from the pre-event buffer, "" if the buffer was empty
	postClipPath string // Raw H264 from the post-event capture
	outputPath   string // Final merged clip

	post PostCapture

	postDone  chan struct{} // Closed once the post-event capture has exited
	mergeDone chan struct{} // Closed once the merge worker has finished
	stop      chan struct{} // Closed by Abort
	stopOnce  sync.Once

	tempLock  sync.Mutex
	tempFiles []string
}

func (s *Session) trackTemp(path string) {
	s.tempLock.Lock()
	defer s.tempLock.Unlock()
	s.tempFiles = append(s.tempFiles, path)
}

func (s *Session) removeTempFiles() {
	s.tempLock.Lock()
	defer s.tempLock.Unlock()
	for _, f := range s.tempFiles {
		os.Remove(f)
	}
	s.tempFiles = nil
}

func (s *Session) aborted() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// Recorder manages recording sessions for one camera.
type Recorder struct {
	log        logs.Log
	cfg        *config.Config
	transcoder videox.Transcoder
	prober     videox.Prober
	launch     LaunchPostCaptureFunc
	events     *eventdb.EventDB
	prebuffer  *camera.PreBuffer

	// How long past the nominal capture duration we wait before killing
	// the post-event capture process.
	PostCaptureGrace time.Duration
	// How long Abort waits for the merge worker before giving up on it.
	AbortJoinTimeout time.Duration

	lock   sync.Mutex
	active *Session
}

func NewRecorder(log logs.Log, cfg *config.Config, transcoder videox.Transcoder, prober videox.Prober, launch LaunchPostCaptureFunc, events *eventdb.EventDB, prebuffer *camera.PreBuffer) *Recorder {
	return &Recorder{
		log:              log,
		cfg:              cfg,
		transcoder:       transcoder,
		prober:           prober,
		launch:           launch,
		events:           events,
		prebuffer:        prebuffer,
		PostCaptureGrace: 10 * time.Second,
		AbortJoinTimeout: 15 * time.Second,
	}
}

// NewRpicamLauncher returns the production LaunchPostCaptureFunc, spawning
// rpicam-vid at the recording resolution.
func NewRpicamLauncher(cfg *config.Config) LaunchPostCaptureFunc {
	return func(outputPath string, duration time.Duration) (PostCapture, error) {
		return camera.StartRpicamPostCapture(cfg.Camera.ID, cfg.Recording.Width, cfg.Recording.Height, cfg.Recording.FrameRate, duration, outputPath)
	}
}

// Begin starts a recording session for the given event. The caller must have
// stopped the monitoring stream first: the post-event capture needs exclusive
// access to the camera. Returns ErrSessionConflict if a session is already
// active.
func (r *Recorder) Begin(event *eventdb.Event, triggerAt time.Time) (*Session, error) {
	r.lock.Lock()
	if r.active != nil {
		r.lock.Unlock()
		return nil, ErrSessionConflict
	}
	session := &Session{
		Event:     event,
		TriggerAt: triggerAt,
		postDone:  make(chan struct{}),
		mergeDone: make(chan struct{}),
		stop:      make(chan struct{}),
	}
	r.active = session
	r.lock.Unlock()

	if err := r.start(session); err != nil {
		session.removeTempFiles()
		r.clearActive(session)
		close(session.postDone)
		close(session.mergeDone)
		return nil, err
	}
	go r.mergeWorker(session)
	return session, nil
}

func (r *Recorder) start(session *Session) error {
	stamp := session.TriggerAt.Unix()
	session.DailyDir = filepath.Join(r.cfg.Recording.OutputDir, fmt.Sprintf("cam%v", r.cfg.Camera.ID), session.TriggerAt.Format("060102"))
	if err := os.MkdirAll(session.DailyDir, 0777); err != nil {
		return fmt.Errorf("Failed to create daily clip directory: %w", err)
	}
	session.outputPath = filepath.Join(session.DailyDir, fmt.Sprintf("motion_event_cam%v_%v.mp4", r.cfg.Camera.ID, stamp))

	// Render the pre-roll before the post-event capture starts, so the
	// buffered frames can't be clobbered by a detector reset.
	prePath := filepath.Join(session.DailyDir, fmt.Sprintf("temp_pre_%v.mp4", stamp))
	opts := camera.ClipOptions{
		Width:       r.cfg.Recording.Width,
		Height:      r.cfg.Recording.Height,
		FrameRate:   r.cfg.Recording.FrameRate,
		FrameRepeat: r.cfg.FrameRepeat(),
	}
	preClip, err := r.prebuffer.SnapshotToClip(r.transcoder, session.DailyDir, prePath, opts)
	if err != nil {
		r.log.Warnf("Pre-buffer clip failed, continuing with post-event footage only: %v", err)
	} else {
		session.preClipPath = preClip
	}
	if session.preClipPath != "" {
		session.trackTemp(session.preClipPath)
	}

	session.postClipPath = filepath.Join(session.DailyDir, fmt.Sprintf("temp_post_%v.h264", stamp))
	session.trackTemp(session.postClipPath)
	duration := time.Duration(r.cfg.Recording.PostBufferSeconds) * time.Second
	post, err := r.launch(session.postClipPath, duration)
	if err != nil {
		return fmt.Errorf("Failed to start post-event capture: %w", err)
	}
	// Published under the lock: Abort may read it from another goroutine
	r.lock.Lock()
	session.post = post
	r.lock.Unlock()
	r.log.Infof("Recording session started for event %v -> %v", eventID(session), filepath.Base(session.outputPath))
	return nil
}

func eventID(s *Session) int64 {
	if s.Event == nil {
		return 0
	}
	return s.Event.ID
}

// WaitPostCapture blocks until the post-event capture process has exited.
// The merge continues in the background; the caller only needs the camera
// back.
func (r *Recorder) WaitPostCapture(session *Session) {
	<-session.postDone
}

// mergeWorker runs once per session: waits out the capture, then merges
// pre-roll and post-event footage into the final clip and records the
// outcome. It never leaves a subprocess or untracked temp file behind.
func (r *Recorder) mergeWorker(session *Session) {
	defer close(session.mergeDone)
	defer r.clearActive(session)

	captureTimeout := time.Duration(r.cfg.Recording.PostBufferSeconds)*time.Second + r.PostCaptureGrace
	status := session.post.Wait(captureTimeout)
	if status == shell.StatusTimedOut {
		r.log.Warnf("Post-event capture overran by %v, killed", r.PostCaptureGrace)
	}
	close(session.postDone)

	if session.aborted() {
		r.finish(session, "", eventdb.StatusFailed)
		return
	}

	finalPath, err := r.merge(session)
	if err != nil {
		r.log.Errorf("Recording failed for event %v: %v", eventID(session), err)
		r.finish(session, "", eventdb.StatusFailed)
		return
	}
	if err := r.VerifyAndCleanup(finalPath); err != nil {
		r.log.Warnf("Discarding recording for event %v: %v", eventID(session), err)
		r.finish(session, "", eventdb.StatusFailed)
		return
	}
	r.finish(session, finalPath, eventdb.StatusSaved)
}

func (r *Recorder) merge(session *Session) (string, error) {
	if stat, err := os.Stat(session.postClipPath); err != nil || stat.Size() == 0 {
		return "", fmt.Errorf("Post-event capture produced no footage at %v", session.postClipPath)
	}

	// Both inputs must be raw H264 elementary streams before concatenation.
	// The post clip already is; the pre-roll MP4 gets its track copied out.
	clips := []string{}
	if session.preClipPath != "" {
		preRaw := strings.TrimSuffix(session.preClipPath, ".mp4") + ".h264"
		session.trackTemp(preRaw)
		if err := r.transcoder.ExtractRawStream(session.preClipPath, preRaw, r.cfg.Recording.FrameRate); err != nil {
			r.log.Warnf("Pre-roll extraction failed, keeping post-event footage only: %v", err)
		} else {
			clips = append(clips, preRaw)
		}
	}
	clips = append(clips, session.postClipPath)

	if session.aborted() {
		return "", fmt.Errorf("Recording aborted")
	}

	maxDuration := time.Duration(r.cfg.Recording.PreBufferSeconds+r.cfg.Recording.PostBufferSeconds) * time.Second
	err := r.concat(session, clips, maxDuration)
	if err != nil && len(clips) > 1 {
		// MergeFailed: fall back to the post-event footage alone rather
		// than lose the recording.
		r.log.Warnf("Merge with pre-roll failed (%v), retrying with post-event footage only", err)
		err = r.concat(session, clips[len(clips)-1:], maxDuration)
	}
	if err != nil {
		return "", err
	}
	return session.outputPath, nil
}

func (r *Recorder) concat(session *Session, clips []string, maxDuration time.Duration) error {
	listPath := filepath.Join(session.DailyDir, fmt.Sprintf("concat_%v.txt", session.TriggerAt.Unix()))
	session.trackTemp(listPath)
	list := strings.Builder{}
	for _, clip := range clips {
		abs, err := filepath.Abs(clip)
		if err != nil {
			abs = clip
		}
		fmt.Fprintf(&list, "file '%v'\n", abs)
	}
	if err := os.WriteFile(listPath, []byte(list.String()), 0644); err != nil {
		return fmt.Errorf("Failed to write concat list: %w", err)
	}
	return r.transcoder.Concat(listPath, session.outputPath, r.cfg.Recording.FrameRate, maxDuration)
}

func (r *Recorder) finish(session *Session, videoPath, status string) {
	session.removeTempFiles()
	if session.Event != nil && r.events != nil {
		if err := r.events.SetOutcome(session.Event.ID, videoPath, status); err != nil {
			r.log.Errorf("Failed to record outcome of event %v: %v", session.Event.ID, err)
		}
	}
	if status == eventdb.StatusSaved {
		r.log.Infof("Recording saved: %v", videoPath)
	}
}

func (r *Recorder) clearActive(session *Session) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.active == session {
		r.active = nil
	}
}

// Busy reports whether a session is currently active.
func (r *Recorder) Busy() bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.active != nil
}

// Abort kills the in-flight capture, signals the merge worker to stop, and
// waits for it with a bounded timeout. Used during shutdown.
func (r *Recorder) Abort() {
	r.lock.Lock()
	session := r.active
	var post PostCapture
	if session != nil {
		post = session.post
	}
	r.lock.Unlock()
	if session == nil {
		return
	}
	session.stopOnce.Do(func() { close(session.stop) })
	if post != nil {
		post.Stop(0)
	}
	select {
	case <-session.mergeDone:
	case <-time.After(r.AbortJoinTimeout):
		r.log.Errorf("Merge worker failed to stop within %v", r.AbortJoinTimeout)
	}
	session.removeTempFiles()
}
