/**
 * Tesseract OCR engine
 *
 * Default Engine implementation backed by gosseract. A fresh client is
 * created per call so concurrent recognitions never share libtesseract
 * state.
 */

package ocr

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/pagelens/ocr-worker/internal/config"
	"github.com/pagelens/ocr-worker/internal/logging"
)

// TesseractEngine performs OCR using the local Tesseract installation
type TesseractEngine struct {
	cfg config.OCRConfig
	log *logging.Logger

	clientFactory func() *gosseract.Client
}

// NewTesseractEngine creates a Tesseract-backed engine. The configured
// engine path is advisory: gosseract links libtesseract directly, so a
// missing binary at that path is logged, not fatal.
func NewTesseractEngine(cfg config.OCRConfig) (*TesseractEngine, error) {
	if cfg.EnginePath == "" {
		cfg.EnginePath = "/usr/bin/tesseract"
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"eng"}
	}

	log := logging.NewLogger("tesseract").WithDebug(cfg.DebugMode)
	if _, err := os.Stat(cfg.EnginePath); err != nil {
		log.Warn("tesseract binary not found at configured path; relying on linked libtesseract",
			"path", cfg.EnginePath)
	}

	return &TesseractEngine{
		cfg:           cfg,
		log:           log,
		clientFactory: gosseract.NewClient,
	}, nil
}

func (t *TesseractEngine) Name() string { return "tesseract" }

// Recognize performs OCR on a single encoded image.
func (t *TesseractEngine) Recognize(ctx context.Context, imageData []byte) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}

	client := t.clientFactory()
	defer client.Close()

	if err := client.SetImageFromBytes(imageData); err != nil {
		return Result{}, fmt.Errorf("failed to set image: %w", err)
	}

	if err := client.SetLanguage(t.cfg.Languages...); err != nil {
		return Result{}, fmt.Errorf("failed to set languages: %w", err)
	}

	if t.cfg.PageSegMode > 0 {
		if err := client.SetPageSegMode(gosseract.PageSegMode(t.cfg.PageSegMode)); err != nil {
			return Result{}, fmt.Errorf("failed to set page segmentation mode: %w", err)
		}
	}

	text, err := client.Text()
	if err != nil {
		return Result{}, fmt.Errorf("tesseract OCR failed: %w", err)
	}

	text = strings.TrimSpace(text)
	confidence := wordConfidence(client)
	if confidence == 0 && text != "" {
		confidence = estimateConfidence(text)
	}

	t.log.Debug("tesseract recognition complete",
		"bytes", len(imageData), "chars", len(text), "confidence", fmt.Sprintf("%.2f", confidence))

	return Result{Text: text, Confidence: confidence}, nil
}

// wordConfidence averages tesseract's per-word confidence, scaled to [0, 1].
func wordConfidence(client *gosseract.Client) float64 {
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0
	}

	var sum float64
	for _, b := range boxes {
		sum += b.Confidence / 100.0
	}
	return sum / float64(len(boxes))
}

// estimateConfidence falls back to text-quality heuristics when tesseract
// reports no word boxes.
func estimateConfidence(text string) float64 {
	confidence := 0.5

	if len(text) > 1000 {
		confidence += 0.1
	}

	words := strings.Fields(text)
	if len(words) > 20 {
		confidence += 0.1
	}

	alphaCount := 0
	for _, r := range text {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			alphaCount++
		}
	}
	if len(text) > 0 {
		alphaRatio := float64(alphaCount) / float64(len(text))
		if alphaRatio > 0.5 && alphaRatio < 0.9 {
			confidence += 0.1
		}
	}

	// Heuristic cap; tesseract without word boxes is never fully trusted
	if confidence > 0.85 {
		confidence = 0.85
	}

	return confidence
}
