/**
 * Image preprocessing for OCR
 *
 * Normalizes an arbitrary color image into a binary (0/255) grayscale image
 * suitable for region detection. Output spatial dimensions always equal
 * input spatial dimensions; only the channel count and pixel values change.
 */

package imaging

import (
	"image"
	"image/color"

	"github.com/pagelens/ocr-worker/internal/config"
)

// Foreground and background values of a binary image.
const (
	Foreground uint8 = 255
	Background uint8 = 0
)

// Preprocessor applies grayscale conversion and binarization
type Preprocessor struct {
	cfg config.ImageProcessingConfig
}

// NewPreprocessor creates a preprocessor with the given parameters
func NewPreprocessor(cfg config.ImageProcessingConfig) *Preprocessor {
	return &Preprocessor{cfg: cfg}
}

// Preprocess converts img to a binary grayscale image. The returned image
// has the same width and height as the input.
func (p *Preprocessor) Preprocess(img image.Image) *image.Gray {
	gray := Grayscale(img)
	return p.Binarize(gray)
}

// Grayscale converts an image to 8-bit grayscale using the standard
// luminance weights. Dimensions are preserved.
func Grayscale(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		out := image.NewGray(g.Bounds())
		copy(out.Pix, g.Pix)
		return out
	}

	bounds := img.Bounds()
	out := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			out.Set(x, y, color.GrayModel.Convert(img.At(x, y)))
		}
	}
	return out
}

// Binarize thresholds a grayscale image to Foreground/Background values.
// The threshold comes from Otsu's method unless the configuration pins a
// fixed level. Foreground is whichever side of the threshold covers fewer
// pixels, so dark-on-light and light-on-dark text both binarize to
// foreground text.
func (p *Preprocessor) Binarize(gray *image.Gray) *image.Gray {
	level := p.cfg.ThresholdLevel
	if p.cfg.ThresholdMode != "fixed" {
		level = OtsuThreshold(gray)
	}

	bounds := gray.Bounds()
	out := image.NewGray(bounds)

	above := 0
	total := bounds.Dx() * bounds.Dy()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if gray.GrayAt(x, y).Y > level {
				above++
			}
		}
	}

	// Minority side becomes foreground
	brightIsForeground := above*2 <= total

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			bright := gray.GrayAt(x, y).Y > level
			v := Background
			if bright == brightIsForeground {
				v = Foreground
			}
			out.SetGray(x, y, color.Gray{Y: v})
		}
	}

	return out
}

// OtsuThreshold computes the threshold level that minimizes intra-class
// variance over the grayscale histogram.
func OtsuThreshold(gray *image.Gray) uint8 {
	var hist [256]int
	bounds := gray.Bounds()
	total := bounds.Dx() * bounds.Dy()
	if total == 0 {
		return 128
	}

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			hist[gray.GrayAt(x, y).Y]++
		}
	}

	var sum float64
	for i, n := range hist {
		sum += float64(i) * float64(n)
	}

	var sumB, wB float64
	var maxVariance float64
	var threshold uint8

	for t := 0; t < 256; t++ {
		wB += float64(hist[t])
		if wB == 0 {
			continue
		}
		wF := float64(total) - wB
		if wF == 0 {
			break
		}

		sumB += float64(t) * float64(hist[t])
		mB := sumB / wB
		mF := (sum - sumB) / wF

		variance := wB * wF * (mB - mF) * (mB - mF)
		if variance > maxVariance {
			maxVariance = variance
			threshold = uint8(t)
		}
	}

	return threshold
}
