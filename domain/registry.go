package domain

import "time"

// AuthorizationStatus is the lifecycle of a registry entry. Active/revoked are
// user-togglable policy flags, independent of the underlying token's validity.
type AuthorizationStatus string

const (
	AuthorizationStatusPending  AuthorizationStatus = "pending"
	AuthorizationStatusVerified AuthorizationStatus = "verified"
	AuthorizationStatusActive   AuthorizationStatus = "active"
	AuthorizationStatusRevoked  AuthorizationStatus = "revoked"
)

// AuthorizationRegistryEntry is the secondary-store row recording a user's
// authorization of an external provider. Unique per (UserID, Provider);
// always upserted, never duplicated.
type AuthorizationRegistryEntry struct {
	UserID          string              `db:"user_id"`
	Provider        string              `db:"provider"`
	AccessToken     string              `db:"access_token"`
	RefreshToken    string              `db:"refresh_token"`
	Status          AuthorizationStatus `db:"status"`
	Scopes          []string            `db:"-"`
	LastHandshakeAt time.Time           `db:"last_handshake_at"`
	CreatedAt       time.Time           `db:"created_at"`
	UpdatedAt       time.Time           `db:"updated_at"`
}
