/**
 * Page job processing
 *
 * Wraps the OCR pipeline with job-level concerns: status updates, transcript
 * persistence and the optional semantic index. Queue consumers hand jobs to
 * the JobProcessor interface and stay ignorant of pipeline internals.
 */

package processor

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/pagelens/ocr-worker/internal/errors"
	"github.com/pagelens/ocr-worker/internal/imaging"
	"github.com/pagelens/ocr-worker/internal/logging"
	"github.com/pagelens/ocr-worker/internal/storage"
)

// JobProcessor is what queue consumers require of a processor
type JobProcessor interface {
	ProcessJob(ctx context.Context, req *JobRequest) (*JobResult, error)
	UpdateJobStatus(ctx context.Context, jobID, status string, metadata map[string]interface{}) error
}

// JobRequest describes one page OCR job. Exactly one of ImagePath and
// ImageData is set; inline data takes precedence.
type JobRequest struct {
	JobID     string                 `json:"job_id"`
	UserID    string                 `json:"user_id"`
	ImagePath string                 `json:"image_path"`
	ImageData []byte                 `json:"-"`
	Source    string                 `json:"source"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// JobResult summarizes a completed job
type JobResult struct {
	TranscriptID     string  `json:"transcript_id"`
	Transcript       string  `json:"transcript"`
	RegionCount      int     `json:"region_count"`
	FailedRegions    int     `json:"failed_regions"`
	Confidence       float64 `json:"confidence"`
	Engine           string  `json:"engine"`
	Indexed          bool    `json:"indexed"`
	ProcessingTimeMs int64   `json:"processing_time_ms"`
}

// PageProcessor runs OCR jobs end to end
type PageProcessor struct {
	ocr      *OCRProcessor
	store    *storage.Manager
	embedder *EmbeddingClient
	log      *logging.Logger
}

// NewPageProcessor creates a page processor. embedder may be nil, which
// disables the semantic index for this worker.
func NewPageProcessor(ocrProc *OCRProcessor, store *storage.Manager, embedder *EmbeddingClient) (*PageProcessor, error) {
	if ocrProc == nil {
		return nil, fmt.Errorf("OCR processor is required")
	}
	if store == nil {
		return nil, fmt.Errorf("storage manager is required")
	}

	return &PageProcessor{
		ocr:      ocrProc,
		store:    store,
		embedder: embedder,
		log:      logging.NewLogger("page-processor"),
	}, nil
}

// ProcessJob runs the pipeline for one job and persists the outcome.
// Indexing failures are logged but never fail the job; the transcript row in
// PostgreSQL is the source of truth.
func (p *PageProcessor) ProcessJob(ctx context.Context, req *JobRequest) (*JobResult, error) {
	if req.JobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	startTime := time.Now()
	p.log.Info("processing job", "job_id", req.JobID, "source", jobSource(req))

	page, err := p.runPipeline(ctx, req)
	if err != nil {
		return nil, err
	}

	var embedding []float32
	if p.embedder != nil && p.store.Indexing() && page.Transcript != "" {
		embedding, err = p.embedder.GenerateEmbedding(ctx, page.Transcript)
		if err != nil {
			p.log.Warn("embedding generation failed, skipping index",
				"job_id", req.JobID, "error", err)
			embedding = nil
		}
	}

	regionsJSON, err := storage.MarshalRegions(page.Texts)
	if err != nil {
		return nil, apperrors.NewStorageFailedError(req.JobID, err)
	}

	rec := &storage.TranscriptRecord{
		JobID:      req.JobID,
		Source:     jobSource(req),
		Transcript: page.Transcript,
		Regions:    regionsJSON,
		Engine:     page.Engine,
		Confidence: page.Confidence,
	}

	stored, err := p.store.StoreTranscript(ctx, rec, embedding)
	if err != nil {
		return nil, apperrors.NewStorageFailedError(req.JobID, err)
	}

	result := &JobResult{
		TranscriptID:     stored.TranscriptID,
		Transcript:       page.Transcript,
		RegionCount:      len(page.Regions),
		FailedRegions:    len(page.Failures),
		Confidence:       page.Confidence,
		Engine:           page.Engine,
		Indexed:          stored.Indexed,
		ProcessingTimeMs: time.Since(startTime).Milliseconds(),
	}

	p.log.Info("job completed",
		"job_id", req.JobID,
		"transcript_id", result.TranscriptID,
		"regions", result.RegionCount,
		"failed_regions", result.FailedRegions,
		"indexed", result.Indexed,
		"processing_time_ms", result.ProcessingTimeMs)

	return result, nil
}

func (p *PageProcessor) runPipeline(ctx context.Context, req *JobRequest) (*PageResult, error) {
	if len(req.ImageData) > 0 {
		img, err := imaging.Decode(req.ImageData)
		if err != nil {
			return nil, err
		}
		return p.ocr.ProcessDecoded(ctx, img)
	}

	if req.ImagePath == "" {
		return nil, fmt.Errorf("job %s has neither image data nor image path", req.JobID)
	}

	return p.ocr.ProcessImage(ctx, req.ImagePath)
}

// UpdateJobStatus records a job lifecycle transition
func (p *PageProcessor) UpdateJobStatus(ctx context.Context, jobID, status string, metadata map[string]interface{}) error {
	update := &storage.JobUpdate{
		JobID:    jobID,
		Status:   status,
		Metadata: metadata,
	}

	if metadata != nil {
		if v, ok := metadata["confidence"].(float64); ok {
			update.Confidence = v
		}
		if v, ok := metadata["processing_time_ms"].(int64); ok {
			update.ProcessingTimeMs = v
		}
		if v, ok := metadata["transcript_id"].(string); ok {
			update.TranscriptID = v
		}
		if v, ok := metadata["region_count"].(int); ok {
			update.RegionCount = v
		}
		if v, ok := metadata["error_code"].(string); ok {
			update.ErrorCode = v
		}
		if v, ok := metadata["error_message"].(string); ok {
			update.ErrorMessage = v
		}
	}

	return p.store.UpdateJobStatus(ctx, update)
}

func jobSource(req *JobRequest) string {
	if req.Source != "" {
		return req.Source
	}
	if req.ImagePath != "" {
		return req.ImagePath
	}
	return "inline"
}
