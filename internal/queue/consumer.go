/**
 * Queue Consumer for the OCR page worker
 *
 * Consumes page jobs over Asynq. Producers enqueue tasks of type "ocr:page"
 * with a JSON payload matching JobData.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	apperrors "github.com/pagelens/ocr-worker/internal/errors"
	"github.com/pagelens/ocr-worker/internal/logging"
	"github.com/pagelens/ocr-worker/internal/processor"
)

// TaskTypePage is the asynq task type for page OCR jobs
const TaskTypePage = "ocr:page"

// JobData is the payload of an enqueued page job
type JobData struct {
	JobID     string                 `json:"jobId"`
	UserID    string                 `json:"userId"`
	ImagePath string                 `json:"imagePath,omitempty"`
	ImageData []byte                 `json:"imageData,omitempty"`
	Source    string                 `json:"source,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Consumer handles job consumption via asynq
type Consumer struct {
	client    *asynq.Client
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor processor.JobProcessor
	config    *ConsumerConfig
	log       *logging.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         processor.JobProcessor
	ProcessingTimeout int64 // milliseconds; 0 means 5 minutes
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	log := logging.NewLogger("queue")

	client := asynq.NewClient(redisOpt)

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			// Exponential backoff: 5s, 10s, 20s, capped at 60s
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				delay := time.Duration(5*(1<<uint(n))) * time.Second
				if delay > 60*time.Second {
					delay = 60 * time.Second
				}
				return delay
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Error("task processing error",
					"type", task.Type(), "error", err)
			}),
		},
	)

	mux := asynq.NewServeMux()

	consumer := &Consumer{
		client:    client,
		server:    server,
		mux:       mux,
		processor: cfg.Processor,
		config:    cfg,
		log:       log,
	}

	mux.HandleFunc(TaskTypePage, consumer.handlePageJob)

	return consumer, nil
}

// Start starts the queue consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.log.Info("starting queue consumer",
		"concurrency", c.config.Concurrency, "queue", c.config.QueueName)

	go func() {
		if err := c.server.Run(c.mux); err != nil {
			c.log.Error("queue consumer error", "error", err)
		}
	}()

	return nil
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop(ctx context.Context) error {
	c.log.Info("stopping queue consumer")

	c.server.Shutdown()

	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close client: %w", err)
	}

	c.log.Info("queue consumer stopped")
	return nil
}

// handlePageJob processes one page OCR job
func (c *Consumer) handlePageJob(ctx context.Context, task *asynq.Task) error {
	startTime := time.Now()

	var jobData JobData
	if err := json.Unmarshal(task.Payload(), &jobData); err != nil {
		return fmt.Errorf("failed to unmarshal job data: %w", err)
	}

	c.log.Info("processing page job",
		"job_id", jobData.JobID, "user_id", jobData.UserID, "path", jobData.ImagePath)

	if err := c.processor.UpdateJobStatus(ctx, jobData.JobID, "processing", nil); err != nil {
		c.log.Warn("failed to update status to processing",
			"job_id", jobData.JobID, "error", err)
	}

	timeout := 300000 * time.Millisecond
	if c.config.ProcessingTimeout > 0 {
		timeout = time.Duration(c.config.ProcessingTimeout) * time.Millisecond
	}

	processCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := c.processor.ProcessJob(processCtx, &processor.JobRequest{
		JobID:     jobData.JobID,
		UserID:    jobData.UserID,
		ImagePath: jobData.ImagePath,
		ImageData: jobData.ImageData,
		Source:    jobData.Source,
		Metadata:  jobData.Metadata,
	})

	duration := time.Since(startTime)

	if err != nil {
		if processCtx.Err() == context.DeadlineExceeded {
			c.log.Error("processing timed out",
				"job_id", jobData.JobID, "duration", duration, "timeout", timeout)

			timeoutErr := apperrors.NewProcessingTimeoutError(jobData.JobID, timeout, err)
			if updateErr := c.processor.UpdateJobStatus(ctx, jobData.JobID, "failed", timeoutErr.ToMap()); updateErr != nil {
				c.log.Warn("failed to update status to failed",
					"job_id", jobData.JobID, "error", updateErr)
			}

			return fmt.Errorf("processing timeout: %w", timeoutErr)
		}

		c.log.Error("processing failed",
			"job_id", jobData.JobID, "duration", duration, "error", err)

		failMeta := map[string]interface{}{
			"error_message":      err.Error(),
			"processing_time_ms": duration.Milliseconds(),
		}
		if code := apperrors.CodeOf(err); code != "" {
			failMeta["error_code"] = string(code)
		}

		if updateErr := c.processor.UpdateJobStatus(ctx, jobData.JobID, "failed", failMeta); updateErr != nil {
			c.log.Warn("failed to update status to failed",
				"job_id", jobData.JobID, "error", updateErr)
		}

		return fmt.Errorf("page processing failed: %w", err)
	}

	c.log.Info("page job completed",
		"job_id", jobData.JobID, "duration", duration,
		"confidence", result.Confidence, "regions", result.RegionCount)

	if err := c.processor.UpdateJobStatus(ctx, jobData.JobID, "completed", map[string]interface{}{
		"confidence":         result.Confidence,
		"processing_time_ms": result.ProcessingTimeMs,
		"transcript_id":      result.TranscriptID,
		"region_count":       result.RegionCount,
		"failed_regions":     result.FailedRegions,
		"indexed":            result.Indexed,
	}); err != nil {
		c.log.Warn("failed to update status to completed",
			"job_id", jobData.JobID, "error", err)
	}

	return nil
}

// GetStatistics returns consumer statistics
func (c *Consumer) GetStatistics() map[string]interface{} {
	return map[string]interface{}{
		"concurrency": c.config.Concurrency,
		"queue":       c.config.QueueName,
	}
}
