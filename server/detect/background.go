package detect

import (
	"image"
	"sort"
)

// Pixel delta beyond which a pixel counts as changed
const deltaThreshold = 25

// Weights for the slow exponential blend of new frames into the background,
// which absorbs gradual lighting drift without it registering as motion.
const (
	blendKeep = 95 // out of 100
	blendNew  = 5
)

// backgroundModel accumulates warm-up samples and then holds a per-pixel
// reference image of the static scene. It is owned by exactly one detector
// and mutated only by that detector's own calls.
type backgroundModel struct {
	warmupFrames int
	samples      []*image.Gray
	model        []uint8 // Per-pixel background, len = width*height once ready
	width        int
	height       int
	ready        bool
}

func newBackgroundModel(warmupFrames int) backgroundModel {
	return backgroundModel{warmupFrames: warmupFrames}
}

// absorb adds one warm-up sample. Once the warm-up count is reached, the
// initial model is the per-pixel median of the samples, which rejects
// transient movement that happened during warm-up. Returns true on the call
// that completes the warm-up.
func (m *backgroundModel) absorb(g *image.Gray) bool {
	if m.ready {
		return false
	}
	if len(m.samples) > 0 && (g.Rect.Dx() != m.width || g.Rect.Dy() != m.height) {
		// Frame geometry changed mid warm-up: start over
		m.samples = m.samples[:0]
	}
	m.width = g.Rect.Dx()
	m.height = g.Rect.Dy()
	m.samples = append(m.samples, g)
	if len(m.samples) < m.warmupFrames {
		return false
	}
	m.computeMedian()
	m.samples = nil
	m.ready = true
	return true
}

func (m *backgroundModel) computeMedian() {
	n := m.width * m.height
	m.model = make([]uint8, n)
	column := make([]uint8, len(m.samples))
	for y := 0; y < m.height; y++ {
		for x := 0; x < m.width; x++ {
			for i, s := range m.samples {
				column[i] = s.Pix[y*s.Stride+x]
			}
			sort.Slice(column, func(a, b int) bool { return column[a] < column[b] })
			m.model[y*m.width+x] = column[len(column)/2]
		}
	}
}

// changedPixels counts pixels whose absolute difference against the model
// exceeds deltaThreshold.
func (m *backgroundModel) changedPixels(g *image.Gray) int {
	count := 0
	for y := 0; y < m.height; y++ {
		row := g.Pix[y*g.Stride:]
		modelRow := m.model[y*m.width:]
		for x := 0; x < m.width; x++ {
			if absDiff(row[x], modelRow[x]) > deltaThreshold {
				count++
			}
		}
	}
	return count
}

// changedMask returns the binary diff mask as a flat width*height slice.
func (m *backgroundModel) changedMask(g *image.Gray) []bool {
	mask := make([]bool, m.width*m.height)
	for y := 0; y < m.height; y++ {
		row := g.Pix[y*g.Stride:]
		for x := 0; x < m.width; x++ {
			if absDiff(row[x], m.model[y*m.width+x]) > deltaThreshold {
				mask[y*m.width+x] = true
			}
		}
	}
	return mask
}

// blend folds the current frame into the model with a slow exponential
// moving average.
func (m *backgroundModel) blend(g *image.Gray) {
	for y := 0; y < m.height; y++ {
		row := g.Pix[y*g.Stride:]
		modelRow := m.model[y*m.width:]
		for x := 0; x < m.width; x++ {
			modelRow[x] = uint8((int(modelRow[x])*blendKeep + int(row[x])*blendNew) / 100)
		}
	}
}

func (m *backgroundModel) reset() {
	m.samples = nil
	m.model = nil
	m.ready = false
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}
