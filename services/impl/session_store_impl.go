package impl

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sentinel-rag/sentinel/services"
)

const (
	stateNoncePrefix     = "oidc:state:"
	revokedSessionPrefix = "session:revoked:"
)

// sessionStoreImpl keeps short-lived auth state in redis: OIDC state
// nonces (single use) and the revocation list for logged-out sessions.
// Everything expires on its own; there is no cleanup job.
type sessionStoreImpl struct {
	client *redis.Client
}

func NewSessionStore(client *redis.Client) services.SessionStore {
	return &sessionStoreImpl{client: client}
}

func (s *sessionStoreImpl) SaveStateNonce(ctx context.Context, nonce string, ttl time.Duration) error {
	err := s.client.Set(ctx, stateNoncePrefix+nonce, "1", ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to save state nonce: %w", err)
	}
	return nil
}

// ConsumeStateNonce deletes the nonce and reports whether it existed.
// DEL is atomic, so concurrent callbacks with the same state token race
// to a single winner.
func (s *sessionStoreImpl) ConsumeStateNonce(ctx context.Context, nonce string) (bool, error) {
	removed, err := s.client.Del(ctx, stateNoncePrefix+nonce).Result()
	if err != nil {
		return false, fmt.Errorf("failed to consume state nonce: %w", err)
	}
	return removed > 0, nil
}

func (s *sessionStoreImpl) RevokeSession(ctx context.Context, sessionID string, ttl time.Duration) error {
	err := s.client.Set(ctx, revokedSessionPrefix+sessionID, "1", ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

func (s *sessionStoreImpl) IsSessionRevoked(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.client.Exists(ctx, revokedSessionPrefix+sessionID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check session revocation: %w", err)
	}
	return n > 0, nil
}

func (s *sessionStoreImpl) Close() error {
	return s.client.Close()
}
