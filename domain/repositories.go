package domain

import (
	"context"
	"errors"
)

// ErrIdentityNotFound is returned when no identity record exists for a user id.
var ErrIdentityNotFound = errors.New("identity record not found")

// IdentityRepository is the master credential store, keyed by user id. Every
// write is an idempotent insert-or-update on the natural key so the vault
// synchronizer can safely re-run any step.
type IdentityRepository interface {
	// GetByUserID retrieves the identity record, or ErrIdentityNotFound.
	GetByUserID(ctx context.Context, userID string) (*UserIdentityRecord, error)

	// UpsertTokens records a successful token exchange: sets the token pair and
	// the connected flag, refreshing the last-connect timestamp.
	UpsertTokens(ctx context.Context, userID string, tokens OAuthTokenSet) error

	// UpsertProjectLink caches the provisioned project's id, org, URL and API
	// keys on the identity record.
	UpsertProjectLink(ctx context.Context, userID string, link ProjectLink) error

	// SetInitialized flips the schema-synchronized flag.
	SetInitialized(ctx context.Context, userID string, initialized bool) error

	// Reset clears the connected/initialized flags and all cached project
	// fields. Local state only; remote cleanup is the caller's concern.
	Reset(ctx context.Context, userID string) error
}

// RegistryRepository is the secondary authorization registry, keyed by
// (user id, provider).
type RegistryRepository interface {
	// Upsert inserts or refreshes the entry for (entry.UserID, entry.Provider).
	Upsert(ctx context.Context, entry *AuthorizationRegistryEntry) error

	// Get retrieves an entry, or nil when none exists.
	Get(ctx context.Context, userID, provider string) (*AuthorizationRegistryEntry, error)

	// SetStatus toggles the policy status without touching tokens.
	SetStatus(ctx context.Context, userID, provider string, status AuthorizationStatus) error
}

// SagaStep identifies a completed step of the credential persistence saga, so
// a resumed operation does not redo already-applied writes.
type SagaStep string

const (
	SagaStepMasterUpserted   SagaStep = "master_upserted"
	SagaStepRegistryUpserted SagaStep = "registry_upserted"
	SagaStepInitialized      SagaStep = "initialized"
)

// SagaMarkerRepository persists the last completed step per (user id, flow).
type SagaMarkerRepository interface {
	MarkCompleted(ctx context.Context, userID string, step SagaStep) error
	Completed(ctx context.Context, userID string, step SagaStep) (bool, error)
	Clear(ctx context.Context, userID string) error
}
