package detect

import (
	"image"

	"github.com/disintegration/imaging"
)

// Gaussian smoothing before differencing, to suppress sensor noise.
const blurSigma = 1.8

// smooth converts a frame to a blurred single-channel image, the
// representation the background model and diff work operate on.
func smooth(img image.Image) *image.Gray {
	blurred := imaging.Blur(imaging.Grayscale(img), blurSigma)
	return toGray(blurred)
}

func toGray(src *image.NRGBA) *image.Gray {
	w := src.Rect.Dx()
	h := src.Rect.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		srcRow := src.Pix[y*src.Stride:]
		dstRow := dst.Pix[y*dst.Stride:]
		for x := 0; x < w; x++ {
			// Grayscale output has R == G == B, so any channel will do
			dstRow[x] = srcRow[x*4]
		}
	}
	return dst
}
