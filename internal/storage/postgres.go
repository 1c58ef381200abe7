/**
 * PostgreSQL client for the OCR page worker
 *
 * Persists job status and page transcripts. Schema: ocr.processing_jobs and
 * ocr.page_transcripts.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// JobUpdate represents a job status update
type JobUpdate struct {
	JobID            string
	Status           string
	Confidence       float64
	ProcessingTimeMs int64
	TranscriptID     string
	RegionCount      int
	ErrorCode        string
	ErrorMessage     string
	Metadata         map[string]interface{}
}

// TranscriptRecord represents a stored page transcript
type TranscriptRecord struct {
	ID          string
	JobID       string
	Source      string
	Transcript  string
	Regions     json.RawMessage
	Engine      string
	Confidence  float64
	QdrantPoint string
	CreatedAt   time.Time
}

// sanitizeConfidence rounds confidence to 4 decimal places and clamps it to
// [0.0, 1.0]. Float64 representations like 0.9632000000000001 otherwise
// trip PostgreSQL's bounded NUMERIC casts.
func sanitizeConfidence(confidence float64) float64 {
	if confidence < 0.0 {
		return 0.0
	}
	if confidence > 1.0 {
		return 1.0
	}
	return float64(int(confidence*10000+0.5)) / 10000
}

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// UpdateJobStatus upserts job status. The worker may observe a job before
// the producing API created its record, so the first update creates it.
func (p *PostgresClient) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if update.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	if update.Status == "" {
		return fmt.Errorf("status is required")
	}

	sanitizedConfidence := sanitizeConfidence(update.Confidence)

	metadataJSON, err := json.Marshal(update.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO ocr.processing_jobs (
			id, status, confidence, processing_time_ms, transcript_id,
			region_count, error_code, error_message, metadata,
			created_at, updated_at
		) VALUES (
			$1::uuid, $2, NULLIF($3::NUMERIC(5,4), 0), NULLIF($4, 0),
			CASE WHEN $5 = '' THEN NULL ELSE $5::uuid END,
			NULLIF($6, 0), NULLIF($7, ''), NULLIF($8, ''),
			COALESCE($9::jsonb, '{}'::jsonb),
			NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			confidence = COALESCE(NULLIF(EXCLUDED.confidence::NUMERIC(5,4), 0), ocr.processing_jobs.confidence),
			processing_time_ms = COALESCE(NULLIF(EXCLUDED.processing_time_ms, 0), ocr.processing_jobs.processing_time_ms),
			transcript_id = CASE
				WHEN EXCLUDED.transcript_id IS NOT NULL THEN EXCLUDED.transcript_id
				ELSE ocr.processing_jobs.transcript_id
			END,
			region_count = COALESCE(NULLIF(EXCLUDED.region_count, 0), ocr.processing_jobs.region_count),
			error_code = NULLIF(EXCLUDED.error_code, ''),
			error_message = NULLIF(EXCLUDED.error_message, ''),
			metadata = COALESCE(EXCLUDED.metadata, ocr.processing_jobs.metadata),
			updated_at = NOW()
		RETURNING id
	`

	var returnedID string
	err = p.db.QueryRowContext(
		ctx,
		query,
		update.JobID,
		update.Status,
		sanitizedConfidence,
		update.ProcessingTimeMs,
		update.TranscriptID,
		update.RegionCount,
		update.ErrorCode,
		update.ErrorMessage,
		metadataJSON,
	).Scan(&returnedID)

	if err == sql.ErrNoRows {
		return fmt.Errorf("job not found: %s", update.JobID)
	}

	if err != nil {
		return fmt.Errorf("failed to update job status (job=%s, status=%s): %w",
			update.JobID, update.Status, err)
	}

	return nil
}

// InsertTranscript stores a page transcript and returns its generated ID.
func (p *PostgresClient) InsertTranscript(ctx context.Context, rec *TranscriptRecord) (string, error) {
	if rec.JobID == "" {
		return "", fmt.Errorf("job ID is required")
	}

	query := `
		INSERT INTO ocr.page_transcripts (
			id, job_id, source, transcript, regions, engine,
			confidence, qdrant_point_id, created_at
		) VALUES (
			$1::uuid, $2::uuid, $3, $4, COALESCE($5::jsonb, '[]'::jsonb), $6,
			$7::NUMERIC(5,4), NULLIF($8, '')::uuid, NOW()
		)
		RETURNING id
	`

	var id string
	err := p.db.QueryRowContext(
		ctx,
		query,
		rec.ID,
		rec.JobID,
		rec.Source,
		rec.Transcript,
		[]byte(rec.Regions),
		rec.Engine,
		sanitizeConfidence(rec.Confidence),
		rec.QdrantPoint,
	).Scan(&id)

	if err != nil {
		return "", fmt.Errorf("failed to store transcript: %w", err)
	}

	return id, nil
}

// GetTranscript retrieves a transcript by ID
func (p *PostgresClient) GetTranscript(ctx context.Context, id string) (*TranscriptRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("transcript ID is required")
	}

	query := `
		SELECT
			id, job_id, source, transcript, regions, engine,
			confidence, COALESCE(qdrant_point_id::text, ''), created_at
		FROM ocr.page_transcripts
		WHERE id = $1::uuid
	`

	var rec TranscriptRecord
	var regionsJSON []byte
	err := p.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID,
		&rec.JobID,
		&rec.Source,
		&rec.Transcript,
		&regionsJSON,
		&rec.Engine,
		&rec.Confidence,
		&rec.QdrantPoint,
		&rec.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("transcript not found: %s", id)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get transcript: %w", err)
	}

	rec.Regions = regionsJSON
	return &rec, nil
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (p *PostgresClient) GetStats() sql.DBStats {
	return p.db.Stats()
}
