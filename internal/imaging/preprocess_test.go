package imaging

import (
	"image"
	"image/color"
	"testing"

	"github.com/pagelens/ocr-worker/internal/config"
)

func testImageConfig() config.ImageProcessingConfig {
	return config.ImageProcessingConfig{
		ThresholdMode:   "otsu",
		ThresholdLevel:  128,
		MinRegionWidth:  4,
		MinRegionHeight: 4,
		RegionMergeGap:  8,
		RegionWorkers:   1,
	}
}

// drawBlock fills a rectangle of the image with the given gray value.
func drawBlock(img *image.Gray, rect image.Rectangle, v uint8) {
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
}

// pageWithBlock builds a white 100x100 page with one dark block, the shape
// the detection tests assert on.
func pageWithBlock(rect image.Rectangle) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 100, 100))
	drawBlock(img, img.Bounds(), 255)
	drawBlock(img, rect, 0)
	return img
}

func TestPreprocessPreservesDimensions(t *testing.T) {
	p := NewPreprocessor(testImageConfig())

	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	out := p.Preprocess(img)

	if out.Bounds().Dx() != 100 || out.Bounds().Dy() != 100 {
		t.Errorf("preprocess changed dimensions: got %dx%d, want 100x100",
			out.Bounds().Dx(), out.Bounds().Dy())
	}
}

func TestPreprocessOutputIsBinary(t *testing.T) {
	p := NewPreprocessor(testImageConfig())

	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 4), uint8(y * 4), 128, 255})
		}
	}

	out := p.Preprocess(img)
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			v := out.GrayAt(x, y).Y
			if v != Foreground && v != Background {
				t.Fatalf("pixel (%d,%d) = %d, want %d or %d", x, y, v, Foreground, Background)
			}
		}
	}
}

func TestBinarizeDarkTextIsForeground(t *testing.T) {
	p := NewPreprocessor(testImageConfig())

	// Dark block on a white page: the dark minority must end up as
	// foreground regardless of polarity.
	img := pageWithBlock(image.Rect(20, 20, 40, 60))
	out := p.Binarize(img)

	if got := out.GrayAt(30, 40).Y; got != Foreground {
		t.Errorf("block pixel = %d, want foreground %d", got, Foreground)
	}
	if got := out.GrayAt(5, 5).Y; got != Background {
		t.Errorf("page pixel = %d, want background %d", got, Background)
	}
}

func TestBinarizeLightTextOnDarkPage(t *testing.T) {
	p := NewPreprocessor(testImageConfig())

	img := image.NewGray(image.Rect(0, 0, 100, 100))
	drawBlock(img, img.Bounds(), 10)
	drawBlock(img, image.Rect(20, 20, 40, 60), 240)
	out := p.Binarize(img)

	if got := out.GrayAt(30, 40).Y; got != Foreground {
		t.Errorf("light block on dark page = %d, want foreground %d", got, Foreground)
	}
	if got := out.GrayAt(5, 5).Y; got != Background {
		t.Errorf("dark page = %d, want background %d", got, Background)
	}
}

func TestBinarizeFixedThreshold(t *testing.T) {
	cfg := testImageConfig()
	cfg.ThresholdMode = "fixed"
	cfg.ThresholdLevel = 100
	p := NewPreprocessor(cfg)

	img := image.NewGray(image.Rect(0, 0, 10, 10))
	drawBlock(img, img.Bounds(), 200)
	drawBlock(img, image.Rect(0, 0, 2, 10), 50)
	out := p.Binarize(img)

	if got := out.GrayAt(1, 5).Y; got != Foreground {
		t.Errorf("below-threshold minority = %d, want foreground %d", got, Foreground)
	}
	if got := out.GrayAt(5, 5).Y; got != Background {
		t.Errorf("above-threshold majority = %d, want background %d", got, Background)
	}
}

func TestOtsuThresholdSeparatesModes(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 100, 100))
	drawBlock(img, img.Bounds(), 220)
	drawBlock(img, image.Rect(0, 0, 100, 30), 30)

	level := OtsuThreshold(img)
	if level < 30 || level >= 220 {
		t.Errorf("otsu threshold %d outside the (30, 220) mode gap", level)
	}
}

func TestGrayscalePreservesDimensions(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 37, 53))
	out := Grayscale(img)
	if out.Bounds().Dx() != 37 || out.Bounds().Dy() != 53 {
		t.Errorf("grayscale changed dimensions: got %dx%d, want 37x53",
			out.Bounds().Dx(), out.Bounds().Dy())
	}
}

func TestGrayscaleCopiesGrayInput(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	drawBlock(img, img.Bounds(), 99)

	out := Grayscale(img)
	out.SetGray(0, 0, color.Gray{Y: 1})

	if img.GrayAt(0, 0).Y != 99 {
		t.Error("grayscale of a gray image must copy, not alias, the input")
	}
}
