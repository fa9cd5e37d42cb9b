package camera

import "bytes"

// JPEG frame boundary markers (start-of-image, end-of-image)
var (
	jpegSOI = []byte{0xff, 0xd8}
	jpegEOI = []byte{0xff, 0xd9}
)

// cutJPEGFrame scans an MJPEG byte stream for one complete JPEG frame.
// It returns the frame (nil if no complete frame is present yet) and the
// remaining bytes. Garbage before the start marker is discarded.
func cutJPEGFrame(buf []byte) (frame []byte, rest []byte) {
	start := bytes.Index(buf, jpegSOI)
	if start < 0 {
		// No start marker anywhere. Keep the last byte in case it is the
		// first half of a marker split across reads.
		if len(buf) > 0 && buf[len(buf)-1] == 0xff {
			return nil, buf[len(buf)-1:]
		}
		return nil, nil
	}
	end := bytes.Index(buf[start:], jpegEOI)
	if end < 0 {
		return nil, buf[start:]
	}
	end += start + len(jpegEOI)
	return buf[start:end], buf[end:]
}
