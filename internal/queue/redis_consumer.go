/**
 * Direct Redis list consumer for the OCR page worker
 *
 * Consumes jobs enqueued as plain Redis LIST entries, for producers that do
 * not speak asynq. Job IDs are pushed onto the queue list and the job bodies
 * live in a companion hash ("<queue>:data").
 */

package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/pagelens/ocr-worker/internal/errors"
	"github.com/pagelens/ocr-worker/internal/logging"
	"github.com/pagelens/ocr-worker/internal/processor"
)

var errNoJobs = fmt.Errorf("no jobs available")

// RedisJobData represents a job from the Redis queue
type RedisJobData struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Payload    JobPayload `json:"payload"`
	CreatedAt  time.Time  `json:"createdAt"`
	Attempts   int        `json:"attempts"`
	MaxRetries int        `json:"maxRetries"`
}

// JobPayload contains the actual job data
type JobPayload struct {
	JobID     string                 `json:"jobId"`
	UserID    string                 `json:"userId"`
	ImagePath string                 `json:"imagePath,omitempty"`
	ImageData []byte                 // set by custom UnmarshalJSON
	Source    string                 `json:"source,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// UnmarshalJSON handles the imageData field, which producers send as a
// base64 string.
func (p *JobPayload) UnmarshalJSON(data []byte) error {
	type Alias JobPayload
	aux := &struct {
		ImageData string `json:"imageData,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(p),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal JobPayload: %w", err)
	}

	if aux.ImageData != "" {
		decoded, err := base64.StdEncoding.DecodeString(aux.ImageData)
		if err != nil {
			return fmt.Errorf("failed to decode base64 imageData: %w", err)
		}
		p.ImageData = decoded
	}

	return nil
}

// RedisConsumer handles job consumption from a Redis list queue
type RedisConsumer struct {
	client    *redis.Client
	processor processor.JobProcessor
	config    *RedisConsumerConfig
	log       *logging.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// RedisConsumerConfig holds consumer configuration
type RedisConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         processor.JobProcessor
	ProcessingTimeout int64 // milliseconds; 0 means 5 minutes
}

// NewRedisConsumer creates a new Redis-based queue consumer
func NewRedisConsumer(cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		cfg.QueueName = "ocr:jobs"
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	consumerCtx, cancel := context.WithCancel(context.Background())

	return &RedisConsumer{
		client:    client,
		processor: cfg.Processor,
		config:    cfg,
		log:       logging.NewLogger("redis-queue"),
		ctx:       consumerCtx,
		cancel:    cancel,
	}, nil
}

// Start begins processing jobs from the queue
func (c *RedisConsumer) Start() error {
	c.log.Info("starting Redis queue consumer",
		"concurrency", c.config.Concurrency, "queue", c.config.QueueName)

	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}

	return nil
}

// Stop gracefully stops the consumer
func (c *RedisConsumer) Stop() error {
	c.log.Info("stopping Redis queue consumer")
	c.cancel()
	c.wg.Wait()
	return c.client.Close()
}

func (c *RedisConsumer) worker(id int) {
	defer c.wg.Done()
	c.log.Info("worker started", "worker", id)

	for {
		select {
		case <-c.ctx.Done():
			c.log.Info("worker stopping", "worker", id)
			return
		default:
			if err := c.processNextJob(); err != nil {
				if err != errNoJobs {
					c.log.Error("worker error", "worker", id, "error", err)
					time.Sleep(1 * time.Second)
				}
			}
		}
	}
}

// processNextJob fetches and processes the next job from the queue
func (c *RedisConsumer) processNextJob() error {
	result, err := c.client.BRPop(c.ctx, 5*time.Second, c.config.QueueName).Result()
	if err != nil {
		if err == redis.Nil || c.ctx.Err() != nil {
			return errNoJobs
		}
		return fmt.Errorf("failed to fetch job: %w", err)
	}

	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}

	jobID := result[1]

	jobData, err := c.client.HGet(c.ctx, c.dataKey(), jobID).Result()
	if err != nil {
		return fmt.Errorf("failed to get job data for %s: %w", jobID, err)
	}

	var job RedisJobData
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		return fmt.Errorf("failed to unmarshal job %s: %w", jobID, err)
	}

	// The producing API may not have created the job row yet; the upsert on
	// the worker side covers that.
	if err := c.processor.UpdateJobStatus(c.ctx, job.Payload.JobID, "processing", map[string]interface{}{
		"source":  job.Payload.Source,
		"user_id": job.Payload.UserID,
	}); err != nil {
		c.log.Warn("could not update job status to processing",
			"job_id", job.Payload.JobID, "error", err)
	}

	c.markJob(job.Payload.JobID, "processing", nil)

	c.log.Info("processing job", "job_id", job.Payload.JobID, "path", job.Payload.ImagePath)

	processResult, err := c.processJob(&job)
	if err != nil {
		c.log.Error("job failed", "job_id", job.Payload.JobID, "error", err)

		job.Attempts++
		if job.Attempts < job.MaxRetries {
			updatedData, _ := json.Marshal(job)
			c.client.HSet(c.ctx, c.dataKey(), job.ID, updatedData)
			c.client.LPush(c.ctx, c.config.QueueName, job.ID)
			c.log.Info("job re-queued for retry",
				"job_id", job.Payload.JobID, "attempt", job.Attempts, "max", job.MaxRetries)
		} else {
			c.markJob(job.Payload.JobID, "failed", map[string]interface{}{
				"error":    err.Error(),
				"attempts": job.Attempts,
			})
			c.updateFailedInDB(job.Payload.JobID, err)
		}
	} else {
		c.markJob(job.Payload.JobID, "completed", processResult)
		c.updateCompletedInDB(job.Payload.JobID, processResult)
		c.log.Info("job completed", "job_id", job.Payload.JobID)
	}

	return nil
}

// processJob runs the OCR pipeline for one job under the configured timeout
func (c *RedisConsumer) processJob(job *RedisJobData) (*processor.JobResult, error) {
	startTime := time.Now()

	request := &processor.JobRequest{
		JobID:     job.Payload.JobID,
		UserID:    job.Payload.UserID,
		ImagePath: job.Payload.ImagePath,
		ImageData: job.Payload.ImageData,
		Source:    job.Payload.Source,
		Metadata:  job.Payload.Metadata,
	}

	timeout := 300000 * time.Millisecond
	if c.config.ProcessingTimeout > 0 {
		timeout = time.Duration(c.config.ProcessingTimeout) * time.Millisecond
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	result, err := c.processor.ProcessJob(ctx, request)

	duration := time.Since(startTime)

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			c.log.Error("processing timed out",
				"job_id", job.Payload.JobID, "duration", duration, "timeout", timeout)

			timeoutErr := apperrors.NewProcessingTimeoutError(job.Payload.JobID, timeout, err)
			if updateErr := c.processor.UpdateJobStatus(c.ctx, job.Payload.JobID, "failed", timeoutErr.ToMap()); updateErr != nil {
				c.log.Warn("failed to update status to failed",
					"job_id", job.Payload.JobID, "error", updateErr)
			}

			return nil, fmt.Errorf("processing timeout: %w", timeoutErr)
		}

		return nil, err
	}

	c.log.Info("processing completed", "job_id", job.Payload.JobID, "duration", duration)
	return result, nil
}

// markJob maintains queue bookkeeping sets in Redis and publishes a status
// event for subscribers.
func (c *RedisConsumer) markJob(jobID string, status string, result interface{}) {
	switch status {
	case "processing":
		c.client.SAdd(c.ctx, c.key("processing"), jobID)
	case "completed":
		c.client.SRem(c.ctx, c.key("processing"), jobID)
		c.client.SAdd(c.ctx, c.key("completed"), jobID)
		if result != nil {
			resultData, _ := json.Marshal(result)
			c.client.HSet(c.ctx, c.key("results"), jobID, resultData)
		}
	case "failed":
		c.client.SRem(c.ctx, c.key("processing"), jobID)
		c.client.SAdd(c.ctx, c.key("failed"), jobID)
		if result != nil {
			errorData, _ := json.Marshal(result)
			c.client.HSet(c.ctx, c.key("errors"), jobID, errorData)
		}
	}

	event := map[string]interface{}{
		"event":     fmt.Sprintf("job:%s", status),
		"jobId":     jobID,
		"timestamp": time.Now().Format(time.RFC3339),
	}
	eventData, _ := json.Marshal(event)
	c.client.Publish(c.ctx, c.key("events"), eventData)
}

func (c *RedisConsumer) updateCompletedInDB(jobID string, result *processor.JobResult) {
	if result == nil {
		if err := c.processor.UpdateJobStatus(c.ctx, jobID, "completed", nil); err != nil {
			c.log.Warn("failed to update completed job", "job_id", jobID, "error", err)
		}
		return
	}

	if err := c.processor.UpdateJobStatus(c.ctx, jobID, "completed", map[string]interface{}{
		"confidence":         result.Confidence,
		"processing_time_ms": result.ProcessingTimeMs,
		"transcript_id":      result.TranscriptID,
		"region_count":       result.RegionCount,
		"failed_regions":     result.FailedRegions,
		"indexed":            result.Indexed,
	}); err != nil {
		c.log.Warn("failed to update completed job", "job_id", jobID, "error", err)
	}
}

func (c *RedisConsumer) updateFailedInDB(jobID string, jobErr error) {
	meta := map[string]interface{}{
		"error_message": jobErr.Error(),
	}
	if code := apperrors.CodeOf(jobErr); code != "" {
		meta["error_code"] = string(code)
	}

	if err := c.processor.UpdateJobStatus(c.ctx, jobID, "failed", meta); err != nil {
		c.log.Warn("failed to update failed job", "job_id", jobID, "error", err)
	}
}

func (c *RedisConsumer) dataKey() string {
	return fmt.Sprintf("%s:data", c.config.QueueName)
}

func (c *RedisConsumer) key(suffix string) string {
	return fmt.Sprintf("%s:%s", c.config.QueueName, suffix)
}

// GetStats returns queue statistics
func (c *RedisConsumer) GetStats() (map[string]int64, error) {
	ctx := context.Background()

	waiting, _ := c.client.LLen(ctx, c.config.QueueName).Result()
	processing, _ := c.client.SCard(ctx, c.key("processing")).Result()
	completed, _ := c.client.SCard(ctx, c.key("completed")).Result()
	failed, _ := c.client.SCard(ctx, c.key("failed")).Result()

	return map[string]int64{
		"waiting":    waiting,
		"processing": processing,
		"completed":  completed,
		"failed":     failed,
	}, nil
}
