// Package videox wraps the external transcode and probe utilities (ffmpeg,
// ffprobe) behind small capability interfaces, so that the recorder never
// shells out directly and tests can substitute fakes.
package videox

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/cyclopcam/motioncam/pkg/shell"
)

// Transcoder re-encodes and concatenates clips.
type Transcoder interface {
	// EncodeImageSequence encodes a numbered JPEG sequence (eg frame_%05d.jpg)
	// into an MP4 at the given frame rate, scaled to width x height.
	EncodeImageSequence(pattern string, fps, width, height int, outPath string) error
	// ExtractRawStream copies the video track of an MP4 out to a raw H264
	// elementary stream, normalized to the given frame rate.
	ExtractRawStream(srcPath, dstPath string, fps int) error
	// Concat joins the files named in a concat list file into one MP4,
	// re-encoding to a common frame rate and capping the total duration.
	Concat(listPath, outPath string, fps int, maxDuration time.Duration) error
}

// Prober reports whether a container is parseable, and its duration.
type Prober interface {
	Duration(path string) (time.Duration, error)
}

// FFmpeg implements Transcoder and Prober using the ffmpeg/ffprobe binaries.
type FFmpeg struct {
	EncodeTimeout time.Duration
	ProbeTimeout  time.Duration
}

func NewFFmpeg() (*FFmpeg, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("Unable to find ffmpeg in your path (%w)", err)
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return nil, fmt.Errorf("Unable to find ffprobe in your path (%w)", err)
	}
	return &FFmpeg{
		EncodeTimeout: 60 * time.Second,
		ProbeTimeout:  5 * time.Second,
	}, nil
}

func (f *FFmpeg) EncodeImageSequence(pattern string, fps, width, height int, outPath string) error {
	return f.run(
		"-framerate", strconv.Itoa(fps),
		"-i", pattern,
		"-vf", fmt.Sprintf("scale=%v:%v", width, height),
		"-c:v", "libx264",
		"-preset", "fast",
		"-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(fps),
		"-y", outPath,
	)
}

func (f *FFmpeg) ExtractRawStream(srcPath, dstPath string, fps int) error {
	return f.run(
		"-i", srcPath,
		"-c:v", "copy",
		"-an",
		"-r", strconv.Itoa(fps),
		"-y", dstPath,
	)
}

func (f *FFmpeg) Concat(listPath, outPath string, fps int, maxDuration time.Duration) error {
	return f.run(
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c:v", "libx264",
		"-preset", "fast",
		"-t", fmt.Sprintf("%.1f", maxDuration.Seconds()),
		"-r", strconv.Itoa(fps),
		"-pix_fmt", "yuv420p",
		"-y", outPath,
	)
}

func (f *FFmpeg) Duration(path string) (time.Duration, error) {
	r := shell.RunTimeout(f.ProbeTimeout, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	switch r.Status {
	case shell.StatusExitedOK:
		seconds, err := strconv.ParseFloat(strings.TrimSpace(r.Stdout), 64)
		if err != nil {
			return 0, fmt.Errorf("ffprobe reported unparseable duration %q: %w", r.Stdout, err)
		}
		return time.Duration(seconds * float64(time.Second)), nil
	case shell.StatusTimedOut:
		return 0, fmt.Errorf("ffprobe timed out on %v", path)
	default:
		return 0, fmt.Errorf("ffprobe failed on %v: %v", path, strings.TrimSpace(r.Stderr))
	}
}

func (f *FFmpeg) run(args ...string) error {
	r := shell.RunTimeout(f.EncodeTimeout, "ffmpeg", args...)
	switch r.Status {
	case shell.StatusExitedOK:
		return nil
	case shell.StatusTimedOut:
		return fmt.Errorf("ffmpeg timed out after %v", f.EncodeTimeout)
	default:
		return fmt.Errorf("ffmpeg failed (exit %v): %v", r.ExitCode, truncate(r.Stderr, 200))
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
