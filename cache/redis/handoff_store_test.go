package redis_test

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tryliate/byoi/cache"
	"github.com/tryliate/byoi/cache/redis"
)

func setupStore(t *testing.T) *redis.HandoffStore {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	client := goredis.NewClient(&goredis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}
	t.Cleanup(func() { client.Close() })

	return redis.NewHandoffStore(client, "byoi_test")
}

func TestHandoffStoreRoundTrip(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	session := &cache.HandoffSession{
		UserID:      "u1",
		AccessToken: "at-1",
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Minute),
	}
	require.NoError(t, store.Set(ctx, "raw-token", session))

	got, err := store.Get(ctx, "raw-token")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "at-1", got.AccessToken)

	require.NoError(t, store.Delete(ctx, "raw-token"))
	_, err = store.Get(ctx, "raw-token")
	assert.ErrorIs(t, err, cache.ErrHandoffNotFound)
}

func TestHandoffStoreUnknownToken(t *testing.T) {
	store := setupStore(t)

	_, err := store.Get(context.Background(), "never-issued")
	assert.ErrorIs(t, err, cache.ErrHandoffNotFound)
}
