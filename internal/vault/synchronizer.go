package vault

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/tryliate/byoi/domain"
	serrors "github.com/tryliate/byoi/errors"
)

// Synchronizer persists tokens and provisioning outcomes across the master
// identity store and the optional secondary authorization registry.
//
// There is no transaction spanning the two stores. Instead each write is a
// single idempotent upsert on its natural key, ordered master-first, with a
// completed-step marker persisted after each one so a resumed operation skips
// writes that already applied. A crash between the writes leaves the master
// store updated and the registry stale until the next successful handshake
// re-runs the sequence.
type Synchronizer struct {
	identities domain.IdentityRepository
	registry   domain.RegistryRepository // nil when no registry is configured
	markers    domain.SagaMarkerRepository
	provider   string
}

// NewSynchronizer wires a Synchronizer. registry and markers may be nil; a nil
// registry skips the secondary write, nil markers disable resume skipping.
func NewSynchronizer(identities domain.IdentityRepository, registry domain.RegistryRepository, markers domain.SagaMarkerRepository, provider string) *Synchronizer {
	return &Synchronizer{
		identities: identities,
		registry:   registry,
		markers:    markers,
		provider:   provider,
	}
}

// BeginOperation clears any stale saga markers for the user. Called when a new
// token exchange succeeds, so the fresh credentials are written through every
// step even if an older operation had completed them.
func (s *Synchronizer) BeginOperation(ctx context.Context, userID string) {
	if s.markers == nil {
		return
	}
	if err := s.markers.Clear(ctx, userID); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("failed to clear saga markers")
	}
}

func (s *Synchronizer) completed(ctx context.Context, userID string, step domain.SagaStep) bool {
	if s.markers == nil {
		return false
	}
	done, err := s.markers.Completed(ctx, userID, step)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Str("step", string(step)).
			Msg("saga marker lookup failed, re-running step")
		return false
	}
	return done
}

func (s *Synchronizer) mark(ctx context.Context, userID string, step domain.SagaStep) {
	if s.markers == nil {
		return
	}
	if err := s.markers.MarkCompleted(ctx, userID, step); err != nil {
		// A lost marker only costs one redundant idempotent write on resume.
		log.Warn().Err(err).Str("user_id", userID).Str("step", string(step)).
			Msg("failed to persist saga marker")
	}
}

// Persist writes the exchanged tokens to the master store and, when a registry
// is configured, upserts the (user, provider) registry entry as verified. A
// failure of the registry write does not roll back or block the master write;
// the error is surfaced so the caller can report it.
func (s *Synchronizer) Persist(ctx context.Context, userID string, tokens domain.OAuthTokenSet) error {
	if !s.completed(ctx, userID, domain.SagaStepMasterUpserted) {
		if err := s.identities.UpsertTokens(ctx, userID, tokens); err != nil {
			return serrors.NewVaultWriteFailed(fmt.Sprintf("master store: %v", err))
		}
		s.mark(ctx, userID, domain.SagaStepMasterUpserted)
	}

	if s.registry == nil {
		return nil
	}
	if !s.completed(ctx, userID, domain.SagaStepRegistryUpserted) {
		err := s.registry.Upsert(ctx, &domain.AuthorizationRegistryEntry{
			UserID:       userID,
			Provider:     s.provider,
			AccessToken:  tokens.AccessToken,
			RefreshToken: tokens.RefreshToken,
			Status:       domain.AuthorizationStatusVerified,
			Scopes:       tokens.Scopes,
		})
		if err != nil {
			// Master store already holds the tokens; the registry stays stale
			// until the next handshake re-runs this step.
			return serrors.NewVaultWriteFailed(fmt.Sprintf("authorization registry: %v", err))
		}
		s.mark(ctx, userID, domain.SagaStepRegistryUpserted)
	}
	return nil
}

// PersistProjectLink caches the provisioning outcome on the identity record.
func (s *Synchronizer) PersistProjectLink(ctx context.Context, userID string, link domain.ProjectLink) error {
	if err := s.identities.UpsertProjectLink(ctx, userID, link); err != nil {
		return serrors.NewVaultWriteFailed(fmt.Sprintf("project link: %v", err))
	}
	return nil
}

// MarkInitialized records that schema synchronization succeeded. Kept separate
// from Persist so a failed sync leaves the initialized flag false and the UI
// keeps offering a retry entry point.
func (s *Synchronizer) MarkInitialized(ctx context.Context, userID string) error {
	if err := s.identities.SetInitialized(ctx, userID, true); err != nil {
		return serrors.NewVaultWriteFailed(fmt.Sprintf("initialized flag: %v", err))
	}
	s.mark(ctx, userID, domain.SagaStepInitialized)
	return nil
}

// Reset clears the local connection state and revokes the registry entry.
// remoteCleanup, when non-nil, is attempted first but never blocks the local
// clear: local state is authoritative for the UI even when remote cleanup
// fails or is delayed.
func (s *Synchronizer) Reset(ctx context.Context, userID string, remoteCleanup func(context.Context) error) error {
	if remoteCleanup != nil {
		if err := remoteCleanup(ctx); err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("remote cleanup failed, proceeding with local reset")
		}
	}

	if err := s.identities.Reset(ctx, userID); err != nil {
		return serrors.NewVaultWriteFailed(fmt.Sprintf("local reset: %v", err))
	}

	if s.registry != nil {
		if err := s.registry.SetStatus(ctx, userID, s.provider, domain.AuthorizationStatusRevoked); err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("failed to revoke registry entry")
		}
	}
	if s.markers != nil {
		if err := s.markers.Clear(ctx, userID); err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("failed to clear saga markers on reset")
		}
	}
	return nil
}
