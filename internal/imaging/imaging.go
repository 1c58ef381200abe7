/**
 * Image loading and encoding for the OCR pipeline
 *
 * Decoding goes through the stdlib image registry; PNG, JPEG and GIF come
 * from the stdlib decoders and BMP, TIFF and WebP from golang.org/x/image.
 */

package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	apperrors "github.com/pagelens/ocr-worker/internal/errors"
)

// Load reads and decodes an image from a file path. An unreadable path or
// undecodable payload is an error; Load never returns an empty image.
func Load(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.NewImageLoadError(path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, apperrors.NewUnsupportedFormatError(path, err)
	}

	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return nil, apperrors.NewImageLoadError(path, fmt.Errorf("decoded image is empty"))
	}

	return img, nil
}

// Decode decodes an in-memory image payload.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.NewUnsupportedFormatError("(buffer)", err)
	}
	return img, nil
}

// EncodePNG encodes an image to PNG bytes for handoff to the OCR engine.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Crop returns a copy of the given rectangle of img. The rectangle is
// clipped to the image bounds; an empty intersection is an error.
func Crop(img image.Image, rect image.Rectangle) (image.Image, error) {
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return nil, fmt.Errorf("crop rectangle outside image bounds")
	}

	type subImager interface {
		SubImage(r image.Rectangle) image.Image
	}

	if si, ok := img.(subImager); ok {
		return si.SubImage(rect), nil
	}

	// Fallback for image types without SubImage support
	out := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(out, out.Bounds(), img, rect.Min, draw.Src)
	return out, nil
}
