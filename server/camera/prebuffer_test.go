package camera

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

type captureTranscoder struct {
	pattern string
	fps     int
	width   int
	height  int
	frames  int
}

func (c *captureTranscoder) EncodeImageSequence(pattern string, fps, width, height int, outPath string) error {
	c.pattern = pattern
	c.fps = fps
	c.width = width
	c.height = height
	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(pattern), "frame_*.jpg"))
	c.frames = len(matches)
	return os.WriteFile(outPath, []byte("clip"), 0644)
}

func (c *captureTranscoder) ExtractRawStream(srcPath, dstPath string, fps int) error {
	return nil
}

func (c *captureTranscoder) Concat(listPath, outPath string, fps int, maxDuration time.Duration) error {
	return nil
}

func makeFrame(seq int64) *Frame {
	return &Frame{
		Seq:        seq,
		CapturedAt: time.Now(),
		JPEG:       []byte{0xff, 0xd8, byte(seq), 0xff, 0xd9},
	}
}

func TestPreBufferFIFOEviction(t *testing.T) {
	b := NewPreBuffer(logs.NewTestingLog(t), 5)
	require.Equal(t, 5, b.Capacity())
	require.Equal(t, 0, b.Len())

	for i := int64(1); i <= 8; i++ {
		b.Push(makeFrame(i))
	}
	require.Equal(t, 5, b.Len())

	// Oldest frames evicted: 4..8 survive, in insertion order
	frames := b.Snapshot()
	require.Len(t, frames, 5)
	for i, frame := range frames {
		require.Equal(t, int64(4+i), frame.Seq)
	}
}

func TestPreBufferReset(t *testing.T) {
	b := NewPreBuffer(logs.NewTestingLog(t), 3)
	b.Push(makeFrame(1))
	b.Push(makeFrame(2))
	require.Equal(t, 2, b.Len())

	b.Reset()
	require.Equal(t, 0, b.Len())
	require.Empty(t, b.Snapshot())

	// Still usable after a reset
	b.Push(makeFrame(3))
	require.Equal(t, 1, b.Len())
}

func TestPreBufferSnapshotToClip(t *testing.T) {
	dir := t.TempDir()
	b := NewPreBuffer(logs.NewTestingLog(t), 10)
	for i := int64(1); i <= 4; i++ {
		b.Push(makeFrame(i))
	}

	tr := &captureTranscoder{}
	outPath := filepath.Join(dir, "pre.mp4")
	opts := ClipOptions{Width: 1280, Height: 720, FrameRate: 30, FrameRepeat: 3}
	path, err := b.SnapshotToClip(tr, dir, outPath, opts)
	require.NoError(t, err)
	require.Equal(t, outPath, path)
	require.FileExists(t, outPath)

	// 4 frames x3 repeats staged for the encoder, at the target geometry
	require.Equal(t, 12, tr.frames)
	require.Equal(t, 30, tr.fps)
	require.Equal(t, 1280, tr.width)
	require.Equal(t, 720, tr.height)

	// Staging directory is cleaned up
	leftovers, _ := filepath.Glob(filepath.Join(dir, "prebuffer_*"))
	require.Empty(t, leftovers)

	// The buffer itself is untouched by a snapshot
	require.Equal(t, 4, b.Len())
}

func TestPreBufferSnapshotToClipEmpty(t *testing.T) {
	dir := t.TempDir()
	b := NewPreBuffer(logs.NewTestingLog(t), 10)

	path, err := b.SnapshotToClip(&captureTranscoder{}, dir, filepath.Join(dir, "pre.mp4"), ClipOptions{Width: 1280, Height: 720, FrameRate: 30, FrameRepeat: 3})
	require.NoError(t, err)
	require.Empty(t, path, "an empty buffer yields no clip and no error")
}

func TestPreBufferSnapshotOrderUnderWrap(t *testing.T) {
	b := NewPreBuffer(logs.NewTestingLog(t), 4)
	for i := int64(1); i <= 11; i++ {
		b.Push(makeFrame(i))
	}
	frames := b.Snapshot()
	seqs := []int64{}
	for _, f := range frames {
		seqs = append(seqs, f.Seq)
	}
	require.Equal(t, []int64{8, 9, 10, 11}, seqs)
}
