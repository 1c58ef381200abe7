/**
 * Embedding client for the transcript search index
 *
 * Generates transcript embeddings over an OpenAI-compatible embeddings API.
 * Indexing is optional: the worker runs the pipeline unchanged when no API
 * key is configured.
 */

package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pagelens/ocr-worker/internal/logging"
)

// EmbeddingClient generates transcript embeddings for semantic search
type EmbeddingClient struct {
	apiKey     string
	baseURL    string
	model      string
	dimensions int
	httpClient *http.Client
	log        *logging.Logger
}

type embeddingRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// NewEmbeddingClient creates an embedding client
func NewEmbeddingClient(apiKey, baseURL, model string, dimensions int) (*EmbeddingClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("embedding API key is required")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("embedding API URL is required")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("embedding dimensions must be positive, got %d", dimensions)
	}

	return &EmbeddingClient{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		dimensions: dimensions,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: logging.NewLogger("embedding"),
	}, nil
}

// Dimensions returns the expected embedding vector size.
func (e *EmbeddingClient) Dimensions() int { return e.dimensions }

// GenerateEmbedding generates an embedding vector for the given text
func (e *EmbeddingClient) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("text is required")
	}

	// Token-limit guard; the API rejects oversized inputs
	maxChars := 16000
	if len(text) > maxChars {
		e.log.Warn("transcript too long, truncating", "chars", len(text), "max", maxChars)
		text = text[:maxChars]
	}

	reqBody := embeddingRequest{
		Input: text,
		Model: e.model,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.baseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", e.apiKey))

	startTime := time.Now()
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding API returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("no embedding data in response")
	}

	embedding := parsed.Data[0].Embedding
	if len(embedding) != e.dimensions {
		return nil, fmt.Errorf("unexpected embedding dimensions: got %d, expected %d",
			len(embedding), e.dimensions)
	}

	e.log.Debug("embedding generated",
		"model", e.model, "dimensions", len(embedding),
		"tokens", parsed.Usage.TotalTokens, "duration", time.Since(startTime))

	return embedding, nil
}
