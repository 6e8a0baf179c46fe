package impl

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-rag/sentinel/config"
	"github.com/sentinel-rag/sentinel/models"
)

func TestNewEmbedder_UnknownProvider(t *testing.T) {
	_, err := NewEmbedder(&config.EmbeddingConfig{Provider: "mystery", Dimension: 8})
	assert.Error(t, err)
}

func TestFakeEmbedder_Deterministic(t *testing.T) {
	embedder := NewFakeEmbedder(64)

	a, err := embedder.EmbedQuery(context.Background(), "vacation policy")
	require.NoError(t, err)
	b, err := embedder.EmbedQuery(context.Background(), "vacation policy")
	require.NoError(t, err)
	c, err := embedder.EmbedQuery(context.Background(), "expense policy")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestFakeEmbedder_UnitNorm(t *testing.T) {
	embedder := NewFakeEmbedder(32)
	vec, err := embedder.EmbedQuery(context.Background(), "anything at all")
	require.NoError(t, err)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestHTTPEmbedder_OpenAIResponseByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req["model"])

		// Out-of-order indexes must land in input order.
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 1, "embedding": []float32{0, 1}},
				{"index": 0, "embedding": []float32{1, 0}},
			},
		})
	}))
	defer srv.Close()

	embedder, err := NewEmbedder(&config.EmbeddingConfig{
		Provider:  "openai",
		BaseURL:   srv.URL,
		APIKey:    "test-key",
		Model:     "test-model",
		Dimension: 2,
		Timeout:   5,
	})
	require.NoError(t, err)

	vectors, err := embedder.EmbedDocuments(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{1, 0}, vectors[0])
	assert.Equal(t, []float32{0, 1}, vectors[1])
}

func TestHTTPEmbedder_DimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 0, "embedding": []float32{1, 0, 0}},
			},
		})
	}))
	defer srv.Close()

	embedder, err := NewEmbedder(&config.EmbeddingConfig{
		Provider:  "openai",
		BaseURL:   srv.URL,
		Dimension: 2,
		Timeout:   5,
	})
	require.NoError(t, err)

	_, err = embedder.EmbedDocuments(context.Background(), []string{"text"})
	assert.ErrorIs(t, err, models.ErrDimensionMismatch)
}

func TestHTTPEmbedder_VoyageInputTypePerSide(t *testing.T) {
	var inputTypes []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		inputType, _ := req["input_type"].(string)
		inputTypes = append(inputTypes, inputType)

		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 0, "embedding": []float32{1, 0}},
			},
		})
	}))
	defer srv.Close()

	embedder, err := NewEmbedder(&config.EmbeddingConfig{
		Provider:  "voyage",
		BaseURL:   srv.URL,
		Dimension: 2,
		Timeout:   5,
	})
	require.NoError(t, err)

	_, err = embedder.EmbedDocuments(context.Background(), []string{"stored passage"})
	require.NoError(t, err)
	_, err = embedder.EmbedQuery(context.Background(), "what is the retention period")
	require.NoError(t, err)

	// Voyage embeds the two retrieval sides differently; sending a query
	// as a document skews similarity.
	require.Len(t, inputTypes, 2)
	assert.Equal(t, "document", inputTypes[0])
	assert.Equal(t, "query", inputTypes[1])
}

func TestHTTPEmbedder_ProviderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	embedder, err := NewEmbedder(&config.EmbeddingConfig{
		Provider:  "voyage",
		BaseURL:   srv.URL,
		Dimension: 2,
		Timeout:   5,
	})
	require.NoError(t, err)

	_, err = embedder.EmbedDocuments(context.Background(), []string{"text"})
	assert.ErrorIs(t, err, models.ErrEmbeddingProvider)
}
