package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serviceintel-ai/docpipe/internal/config"
	"github.com/serviceintel-ai/docpipe/internal/domain"
	"github.com/serviceintel-ai/docpipe/internal/observability"
)

func embedServer(t *testing.T, dim int, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		type datum struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		data := make([]datum, len(req.Input))
		for i := range req.Input {
			data[i] = datum{Index: i, Embedding: make([]float32, dim)}
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
	}))
}

func newTestClient(url string, dim, batch int) *Client {
	return NewClient(config.EmbeddingConfig{
		BaseURL:   url,
		Model:     "embeddinggemma",
		Dimension: dim,
		BatchSize: batch,
	}, observability.Nop())
}

func TestClient_Embed(t *testing.T) {
	srv := embedServer(t, 768, http.StatusOK)
	defer srv.Close()

	c := newTestClient(srv.URL, 768, 32)
	vectors, err := c.Embed(context.Background(), []string{"drum unit replacement", "fuser cleaning"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Len(t, vectors[0], 768)
}

func TestClient_EmbedBatches(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req embedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		assert.LessOrEqual(t, len(req.Input), 2)

		type datum struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		data := make([]datum, len(req.Input))
		for i := range req.Input {
			data[i] = datum{Index: i, Embedding: make([]float32, 4)}
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 4, 2)
	texts := make([]string, 5)
	for i := range texts {
		texts[i] = fmt.Sprintf("chunk %d", i)
	}
	vectors, err := c.Embed(context.Background(), texts)
	require.NoError(t, err)
	assert.Len(t, vectors, 5)
	assert.Equal(t, 3, calls)
}

func TestClient_DimensionMismatchIsPermanent(t *testing.T) {
	// Server returns 512-wide vectors against a 768 configuration: the
	// deployed model does not match, so no amount of retrying helps.
	srv := embedServer(t, 512, http.StatusOK)
	defer srv.Close()

	c := newTestClient(srv.URL, 768, 32)
	_, err := c.Embed(context.Background(), []string{"text"})
	require.Error(t, err)
	assert.Equal(t, domain.CategoryPermanent, domain.CategoryOf(err))
	assert.Contains(t, err.Error(), "dimension mismatch")
}

func TestClient_RateLimitIsTransient(t *testing.T) {
	srv := embedServer(t, 0, http.StatusTooManyRequests)
	defer srv.Close()

	c := newTestClient(srv.URL, 768, 32)
	_, err := c.Embed(context.Background(), []string{"text"})
	require.Error(t, err)
	assert.Equal(t, domain.CategoryTransient, domain.CategoryOf(err))
}

func TestClient_BadRequestIsPermanent(t *testing.T) {
	srv := embedServer(t, 0, http.StatusUnauthorized)
	defer srv.Close()

	c := newTestClient(srv.URL, 768, 32)
	_, err := c.Embed(context.Background(), []string{"text"})
	require.Error(t, err)
	assert.Equal(t, domain.CategoryPermanent, domain.CategoryOf(err))
}

func TestMock_Deterministic(t *testing.T) {
	m := NewMock(8)
	a, err := m.Embed(context.Background(), []string{"same text"})
	require.NoError(t, err)
	b, err := m.Embed(context.Background(), []string{"same text"})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a[0], 8)
	assert.Equal(t, 2, m.Calls)
}
