package processor

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/pagelens/ocr-worker/internal/config"
	apperrors "github.com/pagelens/ocr-worker/internal/errors"
	"github.com/pagelens/ocr-worker/internal/imaging"
	"github.com/pagelens/ocr-worker/internal/ocr"
)

// fakeEngine is a deterministic Engine substitute for pipeline tests.
type fakeEngine struct {
	mu    sync.Mutex
	text  string
	texts []string // overrides text per call when set
	calls int
	fail  func(call int) error
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Recognize(ctx context.Context, imageData []byte) (ocr.Result, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	text := f.text
	if len(f.texts) > 0 {
		text = f.texts[(call-1)%len(f.texts)]
	}
	f.mu.Unlock()

	if f.fail != nil {
		if err := f.fail(call); err != nil {
			return ocr.Result{}, err
		}
	}
	return ocr.Result{Text: text, Confidence: 0.9}, nil
}

func testConfigs() (config.OCRConfig, config.ImageProcessingConfig) {
	return config.OCRConfig{
			EnginePath:  "mock_tesseract_path",
			Languages:   []string{"eng"},
			PageSegMode: 6,
			DebugMode:   true,
		}, config.ImageProcessingConfig{
			ThresholdMode:   "otsu",
			ThresholdLevel:  128,
			MinRegionWidth:  4,
			MinRegionHeight: 4,
			RegionMergeGap:  8,
			RegionWorkers:   2,
		}
}

func newTestProcessor(t *testing.T, engine ocr.Engine) *OCRProcessor {
	t.Helper()

	ocrCfg, imgCfg := testConfigs()
	p, err := NewOCRProcessor(ocrCfg, imgCfg, engine)
	if err != nil {
		t.Fatalf("failed to create processor: %v", err)
	}
	return p
}

// pageImage builds a white page with dark blocks where text would be.
func pageImage(w, h int, blocks ...image.Rectangle) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	for _, b := range blocks {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				img.SetGray(x, y, color.Gray{Y: 0})
			}
		}
	}
	return img
}

func writePage(t *testing.T, img image.Image) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "page.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewOCRProcessorRequiresEngine(t *testing.T) {
	ocrCfg, imgCfg := testConfigs()
	if _, err := NewOCRProcessor(ocrCfg, imgCfg, nil); err == nil {
		t.Fatal("expected error for nil engine")
	}
}

func TestLoadImageMissingPath(t *testing.T) {
	p := newTestProcessor(t, &fakeEngine{text: "test text"})

	_, err := p.LoadImage("/nonexistent/page.png")
	if err == nil {
		t.Fatal("expected error for missing image")
	}
	if code := apperrors.CodeOf(err); code != apperrors.ErrorImageLoadFailed {
		t.Errorf("error code = %q, want %q", code, apperrors.ErrorImageLoadFailed)
	}
}

func TestPreprocessImagePreservesDimensions(t *testing.T) {
	p := newTestProcessor(t, &fakeEngine{text: "test text"})

	binary := p.PreprocessImage(pageImage(100, 100))
	if binary.Bounds().Dx() != 100 || binary.Bounds().Dy() != 100 {
		t.Errorf("preprocessed %dx%d, want 100x100", binary.Bounds().Dx(), binary.Bounds().Dy())
	}
}

func TestDetectTextRegionsFindsBlock(t *testing.T) {
	p := newTestProcessor(t, &fakeEngine{text: "test text"})

	block := image.Rect(20, 20, 40, 60)
	binary := p.PreprocessImage(pageImage(100, 100, block))
	regions := p.DetectTextRegions(binary)

	if len(regions) == 0 {
		t.Fatal("expected at least one region")
	}
	if !regions[0].Rect().Overlaps(block) {
		t.Errorf("region %+v does not overlap block %v", regions[0], block)
	}
}

func TestDetectTextRegionsEmptyPage(t *testing.T) {
	p := newTestProcessor(t, &fakeEngine{text: "test text"})

	binary := p.PreprocessImage(pageImage(100, 100))
	if regions := p.DetectTextRegions(binary); len(regions) != 0 {
		t.Errorf("empty page produced %d regions, want 0", len(regions))
	}
}

func TestRecognizeRegionEchoesRegion(t *testing.T) {
	p := newTestProcessor(t, &fakeEngine{text: "test text"})

	region := imaging.Region{X: 0, Y: 0, Width: 50, Height: 50}
	rt, err := p.RecognizeRegion(context.Background(), RegionTask{
		Image:  pageImage(100, 100),
		Region: region,
	})
	if err != nil {
		t.Fatalf("recognize failed: %v", err)
	}

	if rt.Region != region {
		t.Errorf("region = %+v, want input region %+v echoed unchanged", rt.Region, region)
	}
	if rt.Text != "test text" {
		t.Errorf("text = %q, want %q", rt.Text, "test text")
	}
}

func TestRecognizeRegionEmptyTextIsValid(t *testing.T) {
	p := newTestProcessor(t, &fakeEngine{text: ""})

	rt, err := p.RecognizeRegion(context.Background(), RegionTask{
		Image:  pageImage(100, 100),
		Region: imaging.Region{X: 10, Y: 10, Width: 20, Height: 20},
	})
	if err != nil {
		t.Fatalf("empty recognition result must not be an error: %v", err)
	}
	if rt.Text != "" {
		t.Errorf("text = %q, want empty", rt.Text)
	}
}

func TestRecognizeRegionEngineFailure(t *testing.T) {
	engine := &fakeEngine{
		text: "x",
		fail: func(int) error { return fmt.Errorf("engine crashed") },
	}
	p := newTestProcessor(t, engine)

	_, err := p.RecognizeRegion(context.Background(), RegionTask{
		Image:  pageImage(100, 100),
		Region: imaging.Region{X: 10, Y: 10, Width: 20, Height: 20},
	})
	if err == nil {
		t.Fatal("expected error from failing engine")
	}
	if code := apperrors.CodeOf(err); code != apperrors.ErrorRecognitionFailed {
		t.Errorf("error code = %q, want %q", code, apperrors.ErrorRecognitionFailed)
	}
}

func TestProcessImageEndToEnd(t *testing.T) {
	engine := &fakeEngine{text: "test text"}
	p := newTestProcessor(t, engine)

	path := writePage(t, pageImage(100, 100, image.Rect(20, 20, 40, 60)))
	result, err := p.ProcessImage(context.Background(), path)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if len(result.Regions) == 0 {
		t.Fatal("expected detected regions")
	}
	if len(result.Texts) != len(result.Regions) {
		t.Errorf("texts = %d, want one per region (%d)", len(result.Texts), len(result.Regions))
	}
	if len(result.Failures) != 0 {
		t.Errorf("unexpected failures: %v", result.Failures)
	}
	if result.Transcript != "test text" {
		t.Errorf("transcript = %q, want %q", result.Transcript, "test text")
	}
	if result.Engine != "fake" {
		t.Errorf("engine = %q, want fake", result.Engine)
	}
	if result.Confidence != 0.9 {
		t.Errorf("confidence = %v, want 0.9", result.Confidence)
	}
}

func TestProcessDecodedTranscriptOrder(t *testing.T) {
	// Per-call texts differ so the transcript order is observable
	engine := &fakeEngine{texts: []string{"line 1", "line 2"}}

	// Sequential workers keep call order deterministic
	ocrCfg, imgCfg := testConfigs()
	imgCfg.RegionWorkers = 1
	p, err := NewOCRProcessor(ocrCfg, imgCfg, engine)
	if err != nil {
		t.Fatal(err)
	}

	result, err := p.ProcessDecoded(context.Background(), pageImage(100, 200,
		image.Rect(20, 20, 60, 40),
		image.Rect(20, 120, 60, 140),
	))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if result.Transcript != "line 1\nline 2" {
		t.Errorf("transcript = %q, want regions joined in reading order", result.Transcript)
	}
}

func TestProcessDecodedRegionFailureIsolation(t *testing.T) {
	engine := &fakeEngine{
		text: "ok",
		fail: func(call int) error {
			if call == 1 {
				return fmt.Errorf("first region broke")
			}
			return nil
		},
	}

	ocrCfg, imgCfg := testConfigs()
	imgCfg.RegionWorkers = 1
	p, err := NewOCRProcessor(ocrCfg, imgCfg, engine)
	if err != nil {
		t.Fatal(err)
	}

	result, err := p.ProcessDecoded(context.Background(), pageImage(100, 200,
		image.Rect(20, 20, 60, 40),
		image.Rect(20, 120, 60, 140),
	))
	if err != nil {
		t.Fatalf("one region's failure must not fail the page: %v", err)
	}

	if len(result.Failures) != 1 {
		t.Fatalf("failures = %d, want 1", len(result.Failures))
	}
	if len(result.Texts) != 1 {
		t.Fatalf("texts = %d, want the surviving region", len(result.Texts))
	}
	if result.Transcript != "ok" {
		t.Errorf("transcript = %q, want %q", result.Transcript, "ok")
	}
}

func TestProcessDecodedEmptyPage(t *testing.T) {
	engine := &fakeEngine{text: "never called"}
	p := newTestProcessor(t, engine)

	result, err := p.ProcessDecoded(context.Background(), pageImage(100, 100))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if len(result.Regions) != 0 || result.Transcript != "" {
		t.Errorf("empty page produced regions=%d transcript=%q", len(result.Regions), result.Transcript)
	}
	if engine.calls != 0 {
		t.Errorf("engine called %d times on empty page, want 0", engine.calls)
	}
}

func TestProcessDecodedCancelledContext(t *testing.T) {
	engine := &fakeEngine{text: "x"}
	p := newTestProcessor(t, engine)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := p.ProcessDecoded(ctx, pageImage(100, 100, image.Rect(20, 20, 40, 60)))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if len(result.Failures) != len(result.Regions) {
		t.Errorf("cancelled context: failures = %d, want all %d regions",
			len(result.Failures), len(result.Regions))
	}
	if engine.calls != 0 {
		t.Errorf("engine called %d times after cancel, want 0", engine.calls)
	}
}

func TestRegionLabel(t *testing.T) {
	label := regionLabel(imaging.Region{X: 1, Y: 2, Width: 3, Height: 4})
	if !strings.Contains(label, "1,2") || !strings.Contains(label, "3x4") {
		t.Errorf("label = %q, want coordinates and size", label)
	}
}
