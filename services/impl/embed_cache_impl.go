package impl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sentinel-rag/sentinel/services"
)

const (
	embedCachePrefix = "embed"
	embedCacheTTL    = 24 * time.Hour
)

// cachedEmbedder fronts a provider with a redis cache keyed by content
// hash. Query embeddings repeat heavily; document embeddings rarely do,
// so only EmbedQuery reads through the cache. Cache failures degrade to
// a provider call, never to a request failure.
type cachedEmbedder struct {
	delegate services.Embedder
	redis    *redis.Client
}

func NewCachedEmbedder(delegate services.Embedder, redisClient *redis.Client) services.Embedder {
	if redisClient == nil {
		return delegate
	}
	return &cachedEmbedder{delegate: delegate, redis: redisClient}
}

func (e *cachedEmbedder) Dimension() int { return e.delegate.Dimension() }

func (e *cachedEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return e.delegate.EmbedDocuments(ctx, texts)
}

func (e *cachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := e.cacheKey(text)

	if data, err := e.redis.Get(ctx, key).Bytes(); err == nil {
		var vec []float32
		if err := json.Unmarshal(data, &vec); err == nil && len(vec) == e.delegate.Dimension() {
			return vec, nil
		}
		// Corrupt or stale entry; fall through and overwrite.
	}

	vec, err := e.delegate.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(vec); err == nil {
		e.redis.Set(ctx, key, data, embedCacheTTL)
	}
	return vec, nil
}

func (e *cachedEmbedder) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return embedCachePrefix + ":" + hex.EncodeToString(sum[:])
}
