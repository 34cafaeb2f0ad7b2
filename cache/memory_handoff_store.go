package cache

import (
	"context"
	"errors"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// ErrHandoffNotFound is returned for unknown or expired handoff tokens.
var ErrHandoffNotFound = errors.New("handoff session not found")

// MemoryHandoffStore implements HandoffStore using ttlcache. Suitable for
// single-instance deployments and tests; multi-instance deployments use the
// redis implementation.
type MemoryHandoffStore struct {
	cache *ttlcache.Cache[string, *HandoffSession]
}

// NewMemoryHandoffStore creates an in-memory handoff store with automatic
// expiry of stale sessions.
func NewMemoryHandoffStore(defaultTTL time.Duration) *MemoryHandoffStore {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *HandoffSession](defaultTTL),
		ttlcache.WithDisableTouchOnHit[string, *HandoffSession](),
	)
	go cache.Start()
	return &MemoryHandoffStore{cache: cache}
}

// Set implements HandoffStore.Set.
func (s *MemoryHandoffStore) Set(_ context.Context, token string, session *HandoffSession) error {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	s.cache.Set(HashToken(token), session, ttl)
	return nil
}

// Get implements HandoffStore.Get.
func (s *MemoryHandoffStore) Get(_ context.Context, token string) (*HandoffSession, error) {
	item := s.cache.Get(HashToken(token))
	if item == nil {
		return nil, ErrHandoffNotFound
	}
	return item.Value(), nil
}

// Delete implements HandoffStore.Delete.
func (s *MemoryHandoffStore) Delete(_ context.Context, token string) error {
	s.cache.Delete(HashToken(token))
	return nil
}

// Close stops the cleanup goroutine.
func (s *MemoryHandoffStore) Close() error {
	s.cache.Stop()
	return nil
}
