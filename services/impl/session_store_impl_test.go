package impl

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestStateNonce_SingleUse(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := NewSessionStore(client)
	ctx := context.Background()

	require.NoError(t, store.SaveStateNonce(ctx, "nonce-1", time.Minute))

	consumed, err := store.ConsumeStateNonce(ctx, "nonce-1")
	require.NoError(t, err)
	assert.True(t, consumed)

	// Second consumption of the same nonce is a replay.
	consumed, err = store.ConsumeStateNonce(ctx, "nonce-1")
	require.NoError(t, err)
	assert.False(t, consumed)
}

func TestStateNonce_Expires(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewSessionStore(client)
	ctx := context.Background()

	require.NoError(t, store.SaveStateNonce(ctx, "nonce-2", time.Minute))
	mr.FastForward(2 * time.Minute)

	consumed, err := store.ConsumeStateNonce(ctx, "nonce-2")
	require.NoError(t, err)
	assert.False(t, consumed)
}

func TestStateNonce_UnknownNonce(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := NewSessionStore(client)

	consumed, err := store.ConsumeStateNonce(context.Background(), "never-saved")
	require.NoError(t, err)
	assert.False(t, consumed)
}

func TestSessionRevocation(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewSessionStore(client)
	ctx := context.Background()

	revoked, err := store.IsSessionRevoked(ctx, "session-a")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, store.RevokeSession(ctx, "session-a", time.Hour))

	revoked, err = store.IsSessionRevoked(ctx, "session-a")
	require.NoError(t, err)
	assert.True(t, revoked)

	// The revocation entry only needs to outlive the token.
	mr.FastForward(2 * time.Hour)
	revoked, err = store.IsSessionRevoked(ctx, "session-a")
	require.NoError(t, err)
	assert.False(t, revoked)
}
