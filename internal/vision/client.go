// Package vision describes images through an OpenAI-compatible chat
// completions endpoint with image input.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/serviceintel-ai/docpipe/internal/config"
	"github.com/serviceintel-ai/docpipe/internal/domain"
	"github.com/serviceintel-ai/docpipe/internal/observability"
)

// Description is the vision output for one image.
type Description struct {
	Text       string
	OCRText    string
	Confidence float64
}

// Describer produces captions for images.
type Describer interface {
	Describe(ctx context.Context, imagePNG []byte, pageContext string) (*Description, error)
}

const describePrompt = `Describe this technical illustration from a printer service manual.
Identify the component shown, any callout numbers, and what procedure it supports.
If the image contains readable text, transcribe it after the marker OCR:.`

// Client talks to a vision-capable chat endpoint.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	ocr     bool
	http    *http.Client
	logger  *observability.Logger
}

// NewClient creates a vision client.
func NewClient(cfg config.VisionConfig, logger *observability.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		ocr:     cfg.EnableOCR,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Describe captions an image. pageContext carries nearby page text, which
// helps the model name the component correctly.
func (c *Client) Describe(ctx context.Context, imagePNG []byte, pageContext string) (*Description, error) {
	prompt := describePrompt
	if pageContext != "" {
		prompt += "\nSurrounding page text: " + truncate(pageContext, 500)
	}

	payload := chatRequest{
		Model: c.model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &imageURL{
					URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(imagePNG),
				}},
			},
		}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal vision request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build vision request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, domain.Transient("vision request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, domain.Transient(fmt.Sprintf("vision service returned %d", resp.StatusCode), nil)
	default:
		return nil, domain.Permanent(fmt.Sprintf("vision service returned %d", resp.StatusCode), nil)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, domain.Transient("decode vision response", err)
	}
	if parsed.Error != nil {
		return nil, domain.Permanent("vision service error: "+parsed.Error.Message, nil)
	}
	if len(parsed.Choices) == 0 {
		return nil, domain.Permanent("vision service returned no choices", nil)
	}

	content := parsed.Choices[0].Message.Content
	desc := &Description{Text: content, Confidence: 0.8}
	if c.ocr {
		if idx := strings.Index(content, "OCR:"); idx >= 0 {
			desc.Text = strings.TrimSpace(content[:idx])
			desc.OCRText = strings.TrimSpace(content[idx+len("OCR:"):])
		}
	}
	return desc, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Mock is a deterministic describer for tests.
type Mock struct {
	Response *Description
	Err      error
	Calls    int
}

// Describe returns the canned response.
func (m *Mock) Describe(_ context.Context, _ []byte, _ string) (*Description, error) {
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Response != nil {
		return m.Response, nil
	}
	return &Description{Text: "mock description", Confidence: 0.9}, nil
}
