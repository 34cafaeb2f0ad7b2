package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryHandoffStoreRoundTrip(t *testing.T) {
	store := NewMemoryHandoffStore(time.Hour)
	defer store.Close()
	ctx := context.Background()

	now := time.Now().UTC()
	session := &HandoffSession{
		UserID:      "u1",
		AccessToken: "at-1",
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
	}
	require.NoError(t, store.Set(ctx, "raw-token", session))

	got, err := store.Get(ctx, "raw-token")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "at-1", got.AccessToken)

	require.NoError(t, store.Delete(ctx, "raw-token"))
	_, err = store.Get(ctx, "raw-token")
	assert.ErrorIs(t, err, ErrHandoffNotFound)
}

func TestMemoryHandoffStoreUnknownToken(t *testing.T) {
	store := NewMemoryHandoffStore(time.Hour)
	defer store.Close()

	_, err := store.Get(context.Background(), "never-issued")
	assert.ErrorIs(t, err, ErrHandoffNotFound)
}

func TestMemoryHandoffStoreExpiredSession(t *testing.T) {
	store := NewMemoryHandoffStore(time.Hour)
	defer store.Close()
	ctx := context.Background()

	session := &HandoffSession{
		UserID:    "u1",
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	require.NoError(t, store.Set(ctx, "stale", session))

	_, err := store.Get(ctx, "stale")
	assert.ErrorIs(t, err, ErrHandoffNotFound)
}

func TestHashToken(t *testing.T) {
	a := HashToken("token-a")
	b := HashToken("token-b")

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, HashToken("token-a"), "hashing is deterministic")
	assert.NotEqual(t, "token-a", a, "raw token never used as key")
}
