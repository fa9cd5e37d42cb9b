package detect

import (
	"image"
	"math"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/motioncam/server/config"
)

// Tuning for the wave detector. The area band keeps us looking at
// hand/arm-sized regions; the compactness band rejects both long thin
// streaks (shadows, scan lines) and perfect circles (lens flares).
const (
	waveMinArea       = 800
	waveMaxArea       = 80000
	waveWindowFrames  = 4  // Centroid samples in the sliding window
	waveMinXRange     = 15 // Minimum horizontal travel, in pixels
	waveBlendInterval = 20
)

// WaveDetector fires only on an oscillating gesture: it tracks the
// horizontal centroid of the largest plausible moving region, and requires
// the movement to reverse direction within a short window. Any blob of
// change that moves in one direction (a person walking past) is ignored.
type WaveDetector struct {
	log      logs.Log
	cooldown time.Duration

	bg          backgroundModel
	positions   []int // Recent x-centroids of the tracked region
	frameCount  int64
	lastTrigger time.Time

	// Injectable clock, for tests
	now func() time.Time
}

func NewWaveDetector(log logs.Log, profile config.SensitivityProfile, warmupFrames int) *WaveDetector {
	return &WaveDetector{
		log:      log,
		cooldown: profile.Cooldown,
		bg:       newBackgroundModel(warmupFrames),
		now:      time.Now,
	}
}

func (d *WaveDetector) Kind() string {
	return config.DetectorWave
}

func (d *WaveDetector) IsReady() bool {
	return d.bg.ready
}

func (d *WaveDetector) Detect(img image.Image) bool {
	now := d.now()
	d.frameCount++

	// Same gate ordering as BackgroundDetector: cooldown before readiness
	if now.Sub(d.lastTrigger) < d.cooldown {
		return false
	}

	gray := smooth(img)

	if !d.bg.ready {
		if d.bg.absorb(gray) {
			d.log.Infof("Background stabilized - wave detection active")
		}
		return false
	}

	mask := d.bg.changedMask(gray)
	regions := findRegions(mask, d.bg.width, d.bg.height)

	var best *region
	for i := range regions {
		r := &regions[i]
		if r.area < waveMinArea || r.area > waveMaxArea {
			continue
		}
		c := r.compactness()
		if c <= 0.1 || c >= 0.9 {
			continue
		}
		if best == nil || r.area > best.area {
			best = r
		}
	}

	if best != nil {
		d.positions = append(d.positions, best.centroidX())
		if len(d.positions) > waveWindowFrames {
			d.positions = d.positions[1:]
		}
		if len(d.positions) >= waveWindowFrames && d.isWavePattern() {
			d.lastTrigger = now
			d.positions = d.positions[:0]
			return true
		}
	} else if len(d.positions) > 0 {
		// No candidate this frame: age out the oldest sample
		d.positions = d.positions[1:]
	}

	if d.frameCount%waveBlendInterval == 0 {
		d.bg.blend(gray)
	}
	return false
}

// isWavePattern requires the tracked centroid to travel at least
// waveMinXRange horizontally AND reverse direction at least once within the
// window.
func (d *WaveDetector) isWavePattern() bool {
	if len(d.positions) < waveWindowFrames {
		return false
	}
	xMin, xMax := d.positions[0], d.positions[0]
	for _, x := range d.positions {
		xMin = min(xMin, x)
		xMax = max(xMax, x)
	}
	if xMax-xMin < waveMinXRange {
		return false
	}
	reversals := 0
	for i := 1; i < len(d.positions)-1; i++ {
		prev, cur, next := d.positions[i-1], d.positions[i], d.positions[i+1]
		if (cur > prev && cur > next) || (cur < prev && cur < next) {
			reversals++
		}
	}
	if reversals >= 1 {
		d.log.Infof("Wave pattern detected: range=%vpx, reversals=%v", xMax-xMin, reversals)
		return true
	}
	return false
}

func (d *WaveDetector) Reset() {
	d.bg.reset()
	d.positions = nil
	d.frameCount = 0
	d.lastTrigger = time.Time{}
}

// region is one 4-connected component of the diff mask.
type region struct {
	area      int
	perimeter int
	sumX      int64
	sumY      int64
}

func (r *region) centroidX() int {
	return int(r.sumX / int64(r.area))
}

// compactness is 4*pi*A/P^2: 1 for a circle, approaching 0 for a line.
func (r *region) compactness() float64 {
	if r.perimeter == 0 {
		return 0
	}
	p := float64(r.perimeter)
	return 4 * math.Pi * float64(r.area) / (p * p)
}

// findRegions labels the 4-connected components of the mask. Perimeter is
// the count of component pixels adjacent to a non-component pixel or the
// image border.
func findRegions(mask []bool, width, height int) []region {
	visited := make([]bool, len(mask))
	var regions []region
	var stack []int

	for start := 0; start < len(mask); start++ {
		if !mask[start] || visited[start] {
			continue
		}
		reg := region{}
		stack = append(stack[:0], start)
		visited[start] = true
		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x := idx % width
			y := idx / width
			reg.area++
			reg.sumX += int64(x)
			reg.sumY += int64(y)

			onBoundary := false
			visit := func(nx, ny int) {
				if nx < 0 || ny < 0 || nx >= width || ny >= height {
					onBoundary = true
					return
				}
				n := ny*width + nx
				if !mask[n] {
					onBoundary = true
					return
				}
				if !visited[n] {
					visited[n] = true
					stack = append(stack, n)
				}
			}
			visit(x-1, y)
			visit(x+1, y)
			visit(x, y-1)
			visit(x, y+1)
			if onBoundary {
				reg.perimeter++
			}
		}
		regions = append(regions, reg)
	}
	return regions
}
