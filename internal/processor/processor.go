/**
 * OCR Processor
 *
 * Coordinates the four pipeline stages: load, preprocess, detect regions,
 * recognize per region. Each stage delegates the heavy lifting to the image
 * library or the OCR engine; this layer owns sequencing, fan-out and error
 * context only.
 */

package processor

import (
	"context"
	"fmt"
	"image"
	"strings"
	"sync"
	"time"

	"github.com/pagelens/ocr-worker/internal/config"
	apperrors "github.com/pagelens/ocr-worker/internal/errors"
	"github.com/pagelens/ocr-worker/internal/imaging"
	"github.com/pagelens/ocr-worker/internal/logging"
	"github.com/pagelens/ocr-worker/internal/ocr"
)

// OCRProcessor coordinates the OCR pipeline and holds its configuration.
type OCRProcessor struct {
	ocrCfg   config.OCRConfig
	imgCfg   config.ImageProcessingConfig
	engine   ocr.Engine
	pre      *imaging.Preprocessor
	detector *imaging.Detector
	log      *logging.Logger
}

// NewOCRProcessor creates a processor. The engine is injectable so tests
// can substitute a deterministic fixture for the Tesseract binding.
func NewOCRProcessor(ocrCfg config.OCRConfig, imgCfg config.ImageProcessingConfig, engine ocr.Engine) (*OCRProcessor, error) {
	if engine == nil {
		return nil, fmt.Errorf("OCR engine is required")
	}

	if imgCfg.RegionWorkers < 1 {
		imgCfg.RegionWorkers = 1
	}

	return &OCRProcessor{
		ocrCfg:   ocrCfg,
		imgCfg:   imgCfg,
		engine:   engine,
		pre:      imaging.NewPreprocessor(imgCfg),
		detector: imaging.NewDetector(imgCfg),
		log:      logging.NewLogger("processor").WithDebug(ocrCfg.DebugMode),
	}, nil
}

// LoadImage reads image data from a file path. An unreadable path or
// unsupported format surfaces as an I/O-kind error; LoadImage never
// silently returns an empty image.
func (p *OCRProcessor) LoadImage(path string) (image.Image, error) {
	img, err := imaging.Load(path)
	if err != nil {
		return nil, err
	}

	p.log.Debug("image loaded", "path", path,
		"width", img.Bounds().Dx(), "height", img.Bounds().Dy())
	return img, nil
}

// PreprocessImage normalizes an image for recognition: grayscale plus
// binarization. The output's spatial dimensions equal the input's; only the
// channel count and pixel values change.
func (p *OCRProcessor) PreprocessImage(img image.Image) *image.Gray {
	binary := p.pre.Preprocess(img)

	p.log.Debug("image preprocessed",
		"width", binary.Bounds().Dx(), "height", binary.Bounds().Dy(),
		"threshold_mode", p.imgCfg.ThresholdMode)
	return binary
}

// DetectTextRegions returns bounding boxes of candidate text blocks in a
// binarized image, ordered top-to-bottom then left-to-right. An image with
// no foreground yields an empty slice, not an error.
func (p *OCRProcessor) DetectTextRegions(binary *image.Gray) []imaging.Region {
	regions := p.detector.Detect(binary)

	p.log.Debug("regions detected", "count", len(regions))
	return regions
}

// RecognizeRegion crops the task's image to its region and invokes the OCR
// engine. The returned pairing echoes the input region unchanged; an empty
// string is a valid result for unreadable text. Safe to invoke concurrently
// across regions: each call reads only its own crop.
func (p *OCRProcessor) RecognizeRegion(ctx context.Context, task RegionTask) (RegionText, error) {
	out := RegionText{Region: task.Region}

	crop, err := imaging.Crop(task.Image, task.Region.Rect())
	if err != nil {
		return out, apperrors.NewRecognitionError(regionLabel(task.Region), err)
	}

	encoded, err := imaging.EncodePNG(crop)
	if err != nil {
		return out, apperrors.NewRecognitionError(regionLabel(task.Region), err)
	}

	result, err := p.engine.Recognize(ctx, encoded)
	if err != nil {
		return out, apperrors.NewRecognitionError(regionLabel(task.Region), err)
	}

	out.Text = result.Text
	out.Confidence = result.Confidence
	return out, nil
}

// ProcessImage runs the full pipeline on an image file.
func (p *OCRProcessor) ProcessImage(ctx context.Context, path string) (*PageResult, error) {
	img, err := p.LoadImage(path)
	if err != nil {
		return nil, err
	}
	return p.ProcessDecoded(ctx, img)
}

// ProcessDecoded runs preprocessing, detection and per-region recognition
// on an already decoded image. Recognition fans out across a bounded worker
// pool; one region's failure does not abort its siblings, and in-flight
// recognitions are allowed to finish on cancellation.
func (p *OCRProcessor) ProcessDecoded(ctx context.Context, img image.Image) (*PageResult, error) {
	startTime := time.Now()

	binary := p.PreprocessImage(img)
	regions := p.DetectTextRegions(binary)

	result := &PageResult{
		Regions: regions,
		Engine:  p.engine.Name(),
	}

	if len(regions) == 0 {
		result.Duration = time.Since(startTime)
		p.log.Info("no text regions detected", "duration", result.Duration)
		return result, nil
	}

	texts := make([]*RegionText, len(regions))
	failures := make([]error, len(regions))

	sem := make(chan struct{}, p.imgCfg.RegionWorkers)
	var wg sync.WaitGroup

	for i, region := range regions {
		// Stop launching new work once the caller cancels; regions already
		// in flight run to completion and keep their results.
		if ctx.Err() != nil {
			failures[i] = ctx.Err()
			continue
		}

		wg.Add(1)
		go func(i int, region imaging.Region) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			rt, err := p.RecognizeRegion(ctx, RegionTask{Image: img, Region: region})
			if err != nil {
				failures[i] = err
				return
			}
			texts[i] = &rt
		}(i, region)
	}

	wg.Wait()

	var parts []string
	var confidenceSum float64
	for i := range regions {
		if failures[i] != nil {
			result.Failures = append(result.Failures, RegionFailure{
				Region: regions[i],
				Err:    failures[i],
			})
			continue
		}
		rt := *texts[i]
		result.Texts = append(result.Texts, rt)
		confidenceSum += rt.Confidence
		if rt.Text != "" {
			parts = append(parts, rt.Text)
		}
	}

	result.Transcript = strings.Join(parts, "\n")
	if len(result.Texts) > 0 {
		result.Confidence = confidenceSum / float64(len(result.Texts))
	}
	result.Duration = time.Since(startTime)

	p.log.Info("page processed",
		"regions", len(regions),
		"recognized", len(result.Texts),
		"failed", len(result.Failures),
		"confidence", fmt.Sprintf("%.2f", result.Confidence),
		"duration", result.Duration)

	return result, nil
}

func regionLabel(r imaging.Region) string {
	return fmt.Sprintf("(%d,%d %dx%d)", r.X, r.Y, r.Width, r.Height)
}
