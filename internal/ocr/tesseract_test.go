package ocr

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os/exec"
	"strings"
	"testing"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/pagelens/ocr-worker/internal/config"
)

func TestEngineName(t *testing.T) {
	engine, err := NewTesseractEngine(config.OCRConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if engine.Name() != "tesseract" {
		t.Errorf("name = %q", engine.Name())
	}
}

func TestNewTesseractEngineDefaults(t *testing.T) {
	engine, err := NewTesseractEngine(config.OCRConfig{EnginePath: "mock_tesseract_path"})
	if err != nil {
		t.Fatal(err)
	}
	if engine.cfg.EnginePath != "mock_tesseract_path" {
		t.Errorf("engine path = %q", engine.cfg.EnginePath)
	}
	if len(engine.cfg.Languages) != 1 || engine.cfg.Languages[0] != "eng" {
		t.Errorf("languages = %v, want default [eng]", engine.cfg.Languages)
	}
}

func TestRecognizeCancelledContext(t *testing.T) {
	engine, err := NewTesseractEngine(config.OCRConfig{})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := engine.Recognize(ctx, []byte("png bytes")); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestEstimateConfidence(t *testing.T) {
	tests := []struct {
		name string
		text string
		min  float64
		max  float64
	}{
		{"short fragment", "x", 0.4, 0.7},
		{"normal sentence", strings.Repeat("the quick brown fox ", 10), 0.6, 0.85},
		{"long clean text", strings.Repeat("lorem ipsum dolor sit amet ", 50), 0.7, 0.85},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := estimateConfidence(tt.text)
			if got < tt.min || got > tt.max {
				t.Errorf("confidence = %v, want within [%v, %v]", got, tt.min, tt.max)
			}
		})
	}
}

func TestEstimateConfidenceCap(t *testing.T) {
	text := strings.Repeat("plausible english words in sequence ", 100)
	if got := estimateConfidence(text); got > 0.85 {
		t.Errorf("confidence = %v, heuristic must cap at 0.85", got)
	}
}

// renderText draws a string onto a white image with the basicfont face.
func renderText(text string) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 400, 60))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.Black),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(20, 30),
	}
	d.DrawString(text)

	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}

func TestRecognizeRenderedText(t *testing.T) {
	if _, err := exec.LookPath("tesseract"); err != nil {
		t.Skip("tesseract not installed")
	}

	engine, err := NewTesseractEngine(config.OCRConfig{
		Languages:   []string{"eng"},
		PageSegMode: 7, // single line
	})
	if err != nil {
		t.Fatal(err)
	}

	result, err := engine.Recognize(context.Background(), renderText("HELLO WORLD"))
	if err != nil {
		t.Fatalf("recognize failed: %v", err)
	}

	if !strings.Contains(strings.ToUpper(result.Text), "HELLO") {
		t.Errorf("text = %q, want HELLO recognized", result.Text)
	}
	if result.Confidence <= 0 || result.Confidence > 1 {
		t.Errorf("confidence = %v, want within (0, 1]", result.Confidence)
	}
}
