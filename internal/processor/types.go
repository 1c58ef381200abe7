/**
 * Shared data structures for the OCR pipeline
 */

package processor

import (
	"image"
	"time"

	"github.com/pagelens/ocr-worker/internal/imaging"
)

// RegionTask pairs an image with one region to recognize. Each task is
// self-contained so callers may fan tasks out across workers.
type RegionTask struct {
	Image  image.Image
	Region imaging.Region
}

// RegionText pairs a region with its recognized text. The region always
// equals the task's input region; empty text is a valid outcome.
type RegionText struct {
	Region     imaging.Region `json:"region"`
	Text       string         `json:"text"`
	Confidence float64        `json:"confidence"`
}

// RegionFailure records one region whose recognition failed. Sibling
// regions are unaffected.
type RegionFailure struct {
	Region imaging.Region
	Err    error
}

// PageResult is the outcome of running the full pipeline on one image.
type PageResult struct {
	// Regions are the detected candidate text areas in reading order
	// (top-to-bottom, then left-to-right).
	Regions []imaging.Region

	// Texts holds one entry per successfully recognized region, in the
	// same reading order.
	Texts []RegionText

	// Transcript is the successful region texts joined by newlines.
	// Reading order follows Regions.
	Transcript string

	// Confidence is the mean engine confidence over successful regions.
	Confidence float64

	// Failures lists regions whose recognition failed.
	Failures []RegionFailure

	Engine   string
	Duration time.Duration
}
