package impl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/sentinel-rag/sentinel/config"
	"github.com/sentinel-rag/sentinel/models"
	"github.com/sentinel-rag/sentinel/services"
)

// NewEmbedder constructs the embedding provider selected by configuration.
// Unknown kinds fail fast at startup. Switching providers invalidates
// existing indexes; re-ingestion is required.
func NewEmbedder(cfg *config.EmbeddingConfig) (services.Embedder, error) {
	switch cfg.Provider {
	case "openai":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		return newHTTPEmbedder(baseURL+"/embeddings", cfg, openAIRequest, parseOpenAIResponse), nil
	case "voyage":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://api.voyageai.com/v1"
		}
		return newHTTPEmbedder(baseURL+"/embeddings", cfg, voyageRequest, parseVoyageResponse), nil
	case "fake":
		return NewFakeEmbedder(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
}

// Providers that distinguish retrieval sides are told which one each
// request is; embedding a query as a document skews similarity.
const (
	inputTypeDocument = "document"
	inputTypeQuery    = "query"
)

type encodeRequestFunc func(model string, texts []string, inputType string) any
type decodeResponseFunc func(body io.Reader) ([][]float32, error)

// httpEmbedder calls an OpenAI-compatible embeddings endpoint over plain
// HTTP JSON.
type httpEmbedder struct {
	url        string
	apiKey     string
	model      string
	dimension  int
	httpClient *http.Client
	encode     encodeRequestFunc
	decode     decodeResponseFunc
}

func newHTTPEmbedder(url string, cfg *config.EmbeddingConfig, encode encodeRequestFunc, decode decodeResponseFunc) *httpEmbedder {
	return &httpEmbedder{
		url:       url,
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		encode: encode,
		decode: decode,
	}
}

func (e *httpEmbedder) Dimension() int { return e.dimension }

func (e *httpEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return e.embed(ctx, texts, inputTypeDocument)
}

func (e *httpEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embed(ctx, []string{text}, inputTypeQuery)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *httpEmbedder) embed(ctx context.Context, texts []string, inputType string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	jsonData, err := json.Marshal(e.encode(e.model, texts, inputType))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", e.url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrEmbeddingProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: provider returned status %d: %s", models.ErrEmbeddingProvider, resp.StatusCode, string(body))
	}

	vectors, err := e.decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrEmbeddingProvider, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d vectors, got %d", models.ErrEmbeddingProvider, len(texts), len(vectors))
	}
	for i, vec := range vectors {
		if len(vec) != e.dimension {
			return nil, fmt.Errorf("%w: vector %d has dimension %d, want %d", models.ErrDimensionMismatch, i, len(vec), e.dimension)
		}
	}
	return vectors, nil
}

// openAIRequest ignores the input type; the OpenAI API has no such
// distinction.
func openAIRequest(model string, texts []string, _ string) any {
	return map[string]any{
		"model": model,
		"input": texts,
	}
}

func parseOpenAIResponse(body io.Reader) ([][]float32, error) {
	var resp struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}

	vectors := make([][]float32, len(resp.Data))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}

func voyageRequest(model string, texts []string, inputType string) any {
	return map[string]any{
		"model":      model,
		"input":      texts,
		"input_type": inputType,
	}
}

func parseVoyageResponse(body io.Reader) ([][]float32, error) {
	// Voyage mirrors the OpenAI response shape.
	return parseOpenAIResponse(body)
}

// fakeEmbedder returns deterministic unit vectors of the configured shape,
// seeded by the text content, so tests get stable similarity behaviour
// without a provider.
type fakeEmbedder struct {
	dimension int
}

func NewFakeEmbedder(dimension int) services.Embedder {
	return &fakeEmbedder{dimension: dimension}
}

func (e *fakeEmbedder) Dimension() int { return e.dimension }

func (e *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = e.vectorFor(text)
	}
	return vectors, nil
}

func (e *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return e.vectorFor(text), nil
}

func (e *fakeEmbedder) vectorFor(text string) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	vec := make([]float32, e.dimension)
	var norm float64
	for i := range vec {
		v := rng.Float64()*2 - 1
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec
}
