/**
 * Storage Manager for the OCR page worker
 *
 * Coordinates transcript persistence across PostgreSQL (source of truth) and
 * Qdrant (optional semantic index). Qdrant is skipped entirely when no URL is
 * configured; the pipeline result is unchanged either way.
 */

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pagelens/ocr-worker/internal/logging"
)

// Manager coordinates transcript storage operations
type Manager struct {
	postgres *PostgresClient
	qdrant   *QdrantClient
	log      *logging.Logger
}

// StoredTranscript ties together the identifiers a stored transcript got in
// each backend.
type StoredTranscript struct {
	TranscriptID string
	QdrantPoint  string
	Indexed      bool
}

// NewManager creates a storage manager. qdrantURL may be empty, in which
// case transcripts are persisted to PostgreSQL only.
func NewManager(databaseURL, qdrantURL, collection string, vectorSize int) (*Manager, error) {
	log := logging.NewLogger("storage")

	postgres, err := NewPostgresClient(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL client: %w", err)
	}

	var qc *QdrantClient
	if qdrantURL != "" {
		qc, err = NewQdrantClient(qdrantURL, collection, vectorSize)
		if err != nil {
			postgres.Close()
			return nil, fmt.Errorf("failed to initialize Qdrant client: %w", err)
		}
		log.Info("vector index enabled", "collection", collection, "dimensions", vectorSize)
	} else {
		log.Info("vector index disabled, storing transcripts in PostgreSQL only")
	}

	return &Manager{
		postgres: postgres,
		qdrant:   qc,
		log:      log,
	}, nil
}

// Indexing reports whether a vector index is configured.
func (m *Manager) Indexing() bool {
	return m.qdrant != nil
}

// StoreTranscript persists a transcript, optionally with its embedding.
// The vector is upserted first so a PostgreSQL failure can roll it back;
// the reverse order would leave an unreferenced row behind.
func (m *Manager) StoreTranscript(ctx context.Context, rec *TranscriptRecord, embedding []float32) (*StoredTranscript, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	stored := &StoredTranscript{TranscriptID: rec.ID}

	if m.qdrant != nil && len(embedding) > 0 {
		pointID := uuid.New().String()
		point := &VectorPoint{
			ID:     pointID,
			Vector: embedding,
			Metadata: map[string]interface{}{
				"transcript_id": rec.ID,
				"job_id":        rec.JobID,
				"source":        rec.Source,
				"engine":        rec.Engine,
				"confidence":    sanitizeConfidence(rec.Confidence),
				"created_at":    time.Now().UTC().Format(time.RFC3339),
			},
		}

		if err := m.qdrant.UpsertVector(ctx, point); err != nil {
			return nil, fmt.Errorf("failed to index transcript: %w", err)
		}

		rec.QdrantPoint = pointID
		stored.QdrantPoint = pointID
		stored.Indexed = true
	}

	id, err := m.postgres.InsertTranscript(ctx, rec)
	if err != nil {
		if stored.Indexed {
			if delErr := m.qdrant.DeleteVector(ctx, stored.QdrantPoint); delErr != nil {
				m.log.Error("failed to roll back vector after transcript insert failure",
					"point_id", stored.QdrantPoint, "error", delErr)
			}
		}
		return nil, err
	}

	stored.TranscriptID = id

	m.log.Info("transcript stored",
		"transcript_id", id, "job_id", rec.JobID, "indexed", stored.Indexed)

	return stored, nil
}

// UpdateJobStatus records a job's lifecycle state
func (m *Manager) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	return m.postgres.UpdateJobStatus(ctx, update)
}

// GetTranscript retrieves a transcript by ID
func (m *Manager) GetTranscript(ctx context.Context, id string) (*TranscriptRecord, error) {
	return m.postgres.GetTranscript(ctx, id)
}

// SearchTranscripts finds transcripts similar to the query embedding. Each
// result carries the transcript row joined back from PostgreSQL.
func (m *Manager) SearchTranscripts(ctx context.Context, queryVector []float32, limit int) ([]*TranscriptMatch, error) {
	if m.qdrant == nil {
		return nil, fmt.Errorf("vector index is not configured")
	}

	points, err := m.qdrant.SearchVectors(ctx, queryVector, limit)
	if err != nil {
		return nil, err
	}

	matches := make([]*TranscriptMatch, 0, len(points))
	for _, point := range points {
		transcriptID, _ := point.Metadata["transcript_id"].(string)
		if transcriptID == "" {
			m.log.Warn("search hit without transcript_id payload", "point_id", point.ID)
			continue
		}

		rec, err := m.postgres.GetTranscript(ctx, transcriptID)
		if err != nil {
			m.log.Warn("search hit references missing transcript",
				"transcript_id", transcriptID, "error", err)
			continue
		}

		matches = append(matches, &TranscriptMatch{
			Transcript: rec,
			Score:      point.Score,
		})
	}

	return matches, nil
}

// TranscriptMatch pairs a stored transcript with its similarity score
type TranscriptMatch struct {
	Transcript *TranscriptRecord
	Score      float64
}

// Ping checks connectivity of all configured backends
func (m *Manager) Ping(ctx context.Context) error {
	if err := m.postgres.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	if m.qdrant != nil {
		if _, err := m.qdrant.GetCollectionInfo(ctx); err != nil {
			return fmt.Errorf("qdrant: %w", err)
		}
	}

	return nil
}

// Close closes all storage connections
func (m *Manager) Close() error {
	var firstErr error

	if err := m.postgres.Close(); err != nil {
		firstErr = err
	}

	if m.qdrant != nil {
		if err := m.qdrant.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// MarshalRegions serializes region texts for the transcript row
func MarshalRegions(v interface{}) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal regions: %w", err)
	}
	return data, nil
}
