package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tryliate/byoi/cache"
)

// HandoffStore implements cache.HandoffStore on Redis, for deployments where
// the callback and the provisioning request may land on different instances.
type HandoffStore struct {
	client *redis.Client
	prefix string
}

// NewHandoffStore creates a new HandoffStore. prefix namespaces the keys.
func NewHandoffStore(client *redis.Client, prefix string) *HandoffStore {
	return &HandoffStore{client: client, prefix: prefix}
}

func (s *HandoffStore) key(token string) string {
	return fmt.Sprintf("%s:handoff:%s", s.prefix, cache.HashToken(token))
}

// Set stores the session with a TTL derived from its expiry.
func (s *HandoffStore) Set(ctx context.Context, token string, session *cache.HandoffSession) error {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal handoff session: %w", err)
	}
	if err := s.client.Set(ctx, s.key(token), payload, ttl).Err(); err != nil {
		return fmt.Errorf("store handoff session: %w", err)
	}
	return nil
}

// Get retrieves a session by its raw token.
func (s *HandoffStore) Get(ctx context.Context, token string) (*cache.HandoffSession, error) {
	payload, err := s.client.Get(ctx, s.key(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, cache.ErrHandoffNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load handoff session: %w", err)
	}

	var session cache.HandoffSession
	if err := json.Unmarshal(payload, &session); err != nil {
		return nil, fmt.Errorf("unmarshal handoff session: %w", err)
	}
	return &session, nil
}

// Delete removes a session.
func (s *HandoffStore) Delete(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.key(token)).Err(); err != nil {
		return fmt.Errorf("delete handoff session: %w", err)
	}
	return nil
}

var _ cache.HandoffStore = (*HandoffStore)(nil)
