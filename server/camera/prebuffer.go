package camera

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bmharper/ringbuffer"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/motioncam/server/videox"
)

// PreBuffer is the pre-event ring buffer: a fixed-capacity FIFO of the most
// recently captured frames. When a recording is triggered, its contents
// become the pre-roll of the output clip. The monitoring loop is the only
// feeder; while a recording session owns the camera, nothing is pushed.
//
// Each frame has weight 1, so the weighted ring behaves as a plain
// fixed-capacity ring of 'capacity' frames.
type PreBuffer struct {
	log      logs.Log
	capacity int

	lock sync.Mutex // Guards access to ring
	ring ringbuffer.WeightedRingT[Frame]
}

// ClipOptions describe how the buffered frames are materialized to a clip.
type ClipOptions struct {
	Width       int // Target (recording) resolution
	Height      int
	FrameRate   int // Target playback rate
	FrameRepeat int // How many times each buffered frame is written
}

func NewPreBuffer(log logs.Log, capacity int) *PreBuffer {
	return &PreBuffer{
		log:      log,
		capacity: capacity,
		ring:     ringbuffer.NewWeightedRingT[Frame](capacity),
	}
}

func (b *PreBuffer) Capacity() int {
	return b.capacity
}

func (b *PreBuffer) Len() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.ring.Len()
}

// Push appends a frame, evicting the oldest frame if the buffer is full.
func (b *PreBuffer) Push(frame *Frame) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.ring.Add(1, frame)
}

// Snapshot returns the buffered frames in insertion order (oldest first).
// The frames themselves are shared, but they are immutable.
func (b *PreBuffer) Snapshot() []*Frame {
	b.lock.Lock()
	defer b.lock.Unlock()
	out := make([]*Frame, 0, b.ring.Len())
	for i := 0; i < b.ring.Len(); i++ {
		_, frame, _ := b.ring.Peek(i)
		out = append(out, frame)
	}
	return out
}

// Reset discards all buffered frames. Called whenever the detector or
// recorder resets, because the buffered history is stale after a camera
// handoff.
func (b *PreBuffer) Reset() {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.ring = ringbuffer.NewWeightedRingT[Frame](b.capacity)
}

// SnapshotToClip materializes the current buffer contents into a single
// video file at the post-event target frame rate. The buffer is sampled at
// a reduced rate, so each frame is written FrameRepeat times to reach the
// nominal rate. Returns "" (no error) if the buffer is empty: a missing
// pre-roll is acceptable, not fatal.
func (b *PreBuffer) SnapshotToClip(tr videox.Transcoder, dir string, outPath string, opts ClipOptions) (string, error) {
	frames := b.Snapshot()
	if len(frames) == 0 {
		return "", nil
	}

	seqDir, err := os.MkdirTemp(dir, "prebuffer_")
	if err != nil {
		return "", fmt.Errorf("Failed to create pre-buffer staging dir: %w", err)
	}
	defer os.RemoveAll(seqDir)

	n := 0
	for _, frame := range frames {
		for r := 0; r < opts.FrameRepeat; r++ {
			fn := filepath.Join(seqDir, fmt.Sprintf("frame_%05d.jpg", n))
			if err := os.WriteFile(fn, frame.JPEG, 0644); err != nil {
				return "", fmt.Errorf("Failed to stage pre-buffer frame: %w", err)
			}
			n++
		}
	}

	pattern := filepath.Join(seqDir, "frame_%05d.jpg")
	if err := tr.EncodeImageSequence(pattern, opts.FrameRate, opts.Width, opts.Height, outPath); err != nil {
		return "", fmt.Errorf("Failed to encode pre-buffer clip: %w", err)
	}
	b.log.Infof("Pre-buffer saved: %v frames (x%v) -> %v", len(frames), opts.FrameRepeat, filepath.Base(outPath))
	return outPath, nil
}
