// Package detect implements the motion detectors that watch the monitoring
// stream: a simple background-subtraction detector, and a gesture (wave)
// detector that requires an oscillating movement. Both share the same
// warm-up and cooldown machinery.
package detect

import (
	"fmt"
	"image"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/motioncam/server/config"
)

// Detector classifies frames as motion / no-motion.
//
// A detector starts in warm-up: Detect always returns false until enough
// frames have been absorbed to build the background model. After a trigger,
// Detect returns false for the duration of the profile's cooldown.
type Detector interface {
	// Detect reports whether this frame triggers a motion event.
	Detect(img image.Image) bool
	// Reset clears the background model, readiness, and cooldown timer.
	// Used when the capture stream is restarted after a recording cycle,
	// since the old background is stale.
	Reset()
	// IsReady reports whether the warm-up phase has completed.
	IsReady() bool
	// Kind is a short name for event attribution (eg "background", "wave").
	Kind() string
}

// NewDetector builds the detector selected by the config.
func NewDetector(log logs.Log, cfg config.DetectionConfig) (Detector, error) {
	profile, err := config.ProfileForLabel(cfg.Sensitivity)
	if err != nil {
		return nil, err
	}
	switch cfg.Kind {
	case config.DetectorBackground:
		return NewBackgroundDetector(log, profile, cfg.WarmupFrames), nil
	case config.DetectorWave:
		// The wave detector stabilizes with half the warm-up of the
		// background detector: it only needs a diff mask, not a settled
		// pixel-count baseline.
		return NewWaveDetector(log, profile, max(cfg.WarmupFrames/2, 1)), nil
	}
	return nil, fmt.Errorf("Unknown detector kind '%v'", cfg.Kind)
}

// How often (in detected frames) the background model absorbs the current
// frame, so gradual lighting drift does not accumulate as false motion.
const bgBlendInterval = 10

// BackgroundDetector is the simple background subtraction detector: it
// counts pixels that differ from the background model and triggers when the
// count exceeds the sensitivity profile's threshold.
type BackgroundDetector struct {
	log       logs.Log
	threshold int
	cooldown  time.Duration

	bg          backgroundModel
	frameCount  int64
	lastTrigger time.Time

	// Injectable clock, for tests
	now func() time.Time
}

func NewBackgroundDetector(log logs.Log, profile config.SensitivityProfile, warmupFrames int) *BackgroundDetector {
	return &BackgroundDetector{
		log:       log,
		threshold: profile.Threshold,
		cooldown:  profile.Cooldown,
		bg:        newBackgroundModel(warmupFrames),
		now:       time.Now,
	}
}

func (d *BackgroundDetector) Kind() string {
	return config.DetectorBackground
}

func (d *BackgroundDetector) IsReady() bool {
	return d.bg.ready
}

func (d *BackgroundDetector) Detect(img image.Image) bool {
	now := d.now()
	d.frameCount++

	// Cooldown gate, checked before any image work to save cycles.
	// Note this runs before the readiness check, so a detector still in
	// warm-up does the same cooldown bookkeeping as an active one.
	if now.Sub(d.lastTrigger) < d.cooldown {
		return false
	}

	gray := smooth(img)

	if !d.bg.ready {
		if d.bg.absorb(gray) {
			d.log.Infof("Background stabilized with %v frames - motion detection active", d.bg.warmupFrames)
		}
		return false
	}

	changed := d.bg.changedPixels(gray)
	if changed > d.threshold {
		d.log.Infof("Motion detected: %v changed pixels", changed)
		d.lastTrigger = now
		return true
	}

	if d.frameCount%bgBlendInterval == 0 {
		d.bg.blend(gray)
	}
	return false
}

func (d *BackgroundDetector) Reset() {
	d.bg.reset()
	d.frameCount = 0
	d.lastTrigger = time.Time{}
}
