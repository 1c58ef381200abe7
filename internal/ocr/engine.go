package ocr

import "context"

// Result captures the output of recognizing a single image crop.
type Result struct {
	// Text is the recognized text, whitespace-trimmed. Empty text is a
	// valid outcome for an unreadable crop, not an error.
	Text string

	// Confidence is the engine's mean word confidence in [0, 1]. Zero when
	// the engine cannot report confidence.
	Confidence float64
}

// Engine is the injectable OCR provider contract: one encoded image in, one
// result out. Implementations must be safe for concurrent use; each call
// reads only its own input.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, imageData []byte) (Result, error)
}
