package recorder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrSessionConflict means a recording session is already active. The caller
// drops the trigger; the in-flight session already has the camera.
var ErrSessionConflict = errors.New("a recording session is already active")

// Anything below this is a container header with no real footage in it.
const minClipSize = 1024

// CorruptArtifactError means a finished clip failed verification and was
// deleted.
type CorruptArtifactError struct {
	Path   string
	Reason string
}

func (e *CorruptArtifactError) Error() string {
	return fmt.Sprintf("Corrupt recording %v: %v", e.Path, e.Reason)
}

// VerifyAndCleanup checks that a finished clip is usable: big enough to hold
// footage, and parseable by the prober. A clip that fails is deleted and a
// CorruptArtifactError returned.
func (r *Recorder) VerifyAndCleanup(path string) error {
	corrupt := func(reason string) error {
		os.Remove(path)
		return &CorruptArtifactError{Path: path, Reason: reason}
	}
	stat, err := os.Stat(path)
	if err != nil {
		return corrupt(fmt.Sprintf("missing (%v)", err))
	}
	if stat.Size() < minClipSize {
		return corrupt(fmt.Sprintf("only %v bytes", stat.Size()))
	}
	duration, err := r.prober.Duration(path)
	if err != nil {
		return corrupt(fmt.Sprintf("unreadable (%v)", err))
	}
	r.log.Debugf("Verified %v: %.1f seconds", filepath.Base(path), duration.Seconds())
	return nil
}

// CleanupOrphans sweeps intermediate files left behind by a crash or kill:
// temp capture clips and concat lists, in the output root and in every
// camera daily directory. Finished clips are never touched. Run at startup
// and shutdown.
func (r *Recorder) CleanupOrphans() {
	dirs := []string{r.cfg.Recording.OutputDir}
	daily, _ := filepath.Glob(filepath.Join(r.cfg.Recording.OutputDir, "cam*", "*"))
	for _, d := range daily {
		if stat, err := os.Stat(d); err == nil && stat.IsDir() {
			dirs = append(dirs, d)
		}
	}
	removed := 0
	for _, dir := range dirs {
		for _, pattern := range []string{"temp_*.h264", "temp_*.mp4", "concat_*.txt"} {
			matches, _ := filepath.Glob(filepath.Join(dir, pattern))
			for _, m := range matches {
				if err := os.Remove(m); err == nil {
					removed++
				}
			}
		}
	}
	if removed != 0 {
		r.log.Infof("Removed %v orphaned temp file(s) from %v", removed, r.cfg.Recording.OutputDir)
	}
}
