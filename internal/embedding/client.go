// Package embedding generates text embeddings through an OpenAI-compatible
// HTTP endpoint.
package embedding

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/serviceintel-ai/docpipe/internal/config"
	"github.com/serviceintel-ai/docpipe/internal/domain"
	"github.com/serviceintel-ai/docpipe/internal/observability"
	"github.com/serviceintel-ai/docpipe/internal/storage"
)

// Embedder generates vectors for text inputs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([]storage.Vector, error)
	Model() string
	Dimension() int
}

// Client talks to an OpenAI-compatible /embeddings endpoint.
type Client struct {
	baseURL   string
	apiKey    string
	model     string
	dimension int
	batchSize int
	http      *http.Client
	logger    *observability.Logger
}

// NewClient creates an embedding client.
func NewClient(cfg config.EmbeddingConfig, logger *observability.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 32
	}
	return &Client{
		baseURL:   cfg.BaseURL,
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		batchSize: batch,
		http:      &http.Client{Timeout: timeout},
		logger:    logger,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Dimension returns the expected vector dimension.
func (c *Client) Dimension() int { return c.dimension }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed generates one vector per input text, batching requests. A vector of
// the wrong dimension means the deployed model does not match configuration;
// retrying cannot fix that, so it is a permanent error.
func (c *Client) Embed(ctx context.Context, texts []string) ([]storage.Vector, error) {
	out := make([]storage.Vector, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (c *Client) embedBatch(ctx context.Context, texts []string) ([]storage.Vector, error) {
	body, err := json.Marshal(embedRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, domain.Transient("embedding request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, domain.Transient(fmt.Sprintf("embedding service returned %d", resp.StatusCode), nil)
	default:
		return nil, domain.Permanent(fmt.Sprintf("embedding service returned %d", resp.StatusCode), nil)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, domain.Transient("decode embedding response", err)
	}
	if parsed.Error != nil {
		return nil, domain.Permanent("embedding service error: "+parsed.Error.Message, nil)
	}
	if len(parsed.Data) != len(texts) {
		return nil, domain.Permanent(
			fmt.Sprintf("embedding count mismatch: sent %d, got %d", len(texts), len(parsed.Data)), nil)
	}

	vectors := make([]storage.Vector, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, domain.Permanent(fmt.Sprintf("embedding index %d out of range", d.Index), nil)
		}
		if c.dimension > 0 && len(d.Embedding) != c.dimension {
			return nil, domain.Permanent(
				fmt.Sprintf("embedding dimension mismatch: want %d, got %d", c.dimension, len(d.Embedding)), nil)
		}
		vectors[d.Index] = storage.Vector(d.Embedding)
	}
	return vectors, nil
}

// Mock is a deterministic embedder for tests and offline development. The
// vector is derived from the text hash, so equal text yields equal vectors.
type Mock struct {
	Dim     int
	FailOn  map[string]error
	Wrong   bool // return vectors of the wrong dimension
	Calls   int
	ModelID string
}

// NewMock creates a mock embedder with the given dimension.
func NewMock(dim int) *Mock {
	return &Mock{Dim: dim, ModelID: "mock-embedder"}
}

// Model returns the mock model name.
func (m *Mock) Model() string {
	if m.ModelID == "" {
		return "mock-embedder"
	}
	return m.ModelID
}

// Dimension returns the mock dimension.
func (m *Mock) Dimension() int { return m.Dim }

// Embed returns deterministic pseudo-vectors.
func (m *Mock) Embed(_ context.Context, texts []string) ([]storage.Vector, error) {
	m.Calls++
	out := make([]storage.Vector, len(texts))
	for i, text := range texts {
		if err, ok := m.FailOn[text]; ok {
			return nil, err
		}
		dim := m.Dim
		if m.Wrong {
			dim = m.Dim + 1
		}
		sum := sha256.Sum256([]byte(text))
		vec := make(storage.Vector, dim)
		for j := range vec {
			bits := binary.BigEndian.Uint32(sum[(j*4)%28 : (j*4)%28+4])
			vec[j] = float32(bits%1000)/1000.0 - 0.5
		}
		out[i] = vec
	}
	return out, nil
}
