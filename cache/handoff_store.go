package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// HandoffSession links the short-TTL cookie set after a successful callback to
// the user whose popup completed the handshake. The management access token
// rides along so the provisioning endpoint can run without re-reading the
// vault.
type HandoffSession struct {
	UserID      string    `json:"user_id"`
	AccessToken string    `json:"access_token"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// HandoffStore stores handoff sessions keyed by the cookie token. Tokens are
// hashed before use as keys; the raw token never reaches the backing store.
type HandoffStore interface {
	Set(ctx context.Context, token string, session *HandoffSession) error
	Get(ctx context.Context, token string) (*HandoffSession, error)
	Delete(ctx context.Context, token string) error
}

// HashToken hashes a token for use as a store key. The fixed-size key also
// keeps lookups cheap for long opaque tokens.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
