package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/tryliate/byoi/domain"
)

// IdentityRepository implements domain.IdentityRepository on MongoDB. Every
// mutation is a $set upsert keyed by the user id, so re-running any vault step
// leaves the record in the same final state.
type IdentityRepository struct {
	identities *mongo.Collection
}

// NewIdentityRepository creates the repository and ensures its indexes.
func NewIdentityRepository(ctx context.Context, db *mongo.Database) (*IdentityRepository, error) {
	repo := &IdentityRepository{identities: db.Collection(IdentitiesCollection)}
	if err := repo.createIndexes(ctx); err != nil {
		// Index creation commonly fails against pre-existing compatible
		// indexes; that must not block startup.
		log.Warn().Err(err).Msg("failed to ensure identity indexes")
	}
	return repo, nil
}

func (r *IdentityRepository) createIndexes(ctx context.Context) error {
	indexModels := []mongo.IndexModel{
		{Keys: bson.D{{Key: "supabase_project_id", Value: 1}}},
		{Keys: bson.D{{Key: "supabase_connected", Value: 1}}},
	}
	if _, err := r.identities.Indexes().CreateMany(ctx, indexModels); err != nil {
		return fmt.Errorf("create identity indexes: %w", err)
	}
	return nil
}

// GetByUserID retrieves the identity record for a user.
func (r *IdentityRepository) GetByUserID(ctx context.Context, userID string) (*domain.UserIdentityRecord, error) {
	var record domain.UserIdentityRecord
	err := r.identities.FindOne(ctx, bson.M{"_id": userID}).Decode(&record)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrIdentityNotFound
		}
		log.Error().Err(err).Str("user_id", userID).Msg("error loading identity record")
		return nil, err
	}
	return &record, nil
}

func (r *IdentityRepository) upsert(ctx context.Context, userID string, set bson.M) error {
	now := time.Now().UTC()
	set["updated_at"] = now

	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"created_at": now},
	}
	_, err := r.identities.UpdateOne(ctx, bson.M{"_id": userID}, update,
		options.UpdateOne().SetUpsert(true))
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("identity upsert failed")
		return fmt.Errorf("upsert identity record: %w", err)
	}
	return nil
}

// UpsertTokens records a successful token exchange. The connected flag is only
// ever set here, after the exchange fully succeeded.
func (r *IdentityRepository) UpsertTokens(ctx context.Context, userID string, tokens domain.OAuthTokenSet) error {
	now := time.Now().UTC()
	return r.upsert(ctx, userID, bson.M{
		"supabase_connected":     true,
		"supabase_access_token":  tokens.AccessToken,
		"supabase_refresh_token": tokens.RefreshToken,
		"last_connect_at":        now,
	})
}

// UpsertProjectLink caches the provisioned project's identifiers and API keys.
func (r *IdentityRepository) UpsertProjectLink(ctx context.Context, userID string, link domain.ProjectLink) error {
	set := bson.M{
		"supabase_project_id": link.ProjectID,
		"supabase_org_id":     link.OrganizationID,
		"supabase_url":        link.ProjectURL,
	}
	if link.Keys.PublishableKey != "" {
		set["supabase_publishable_key"] = link.Keys.PublishableKey
	}
	if link.Keys.SecretKey != "" {
		set["supabase_secret_key"] = link.Keys.SecretKey
	}
	return r.upsert(ctx, userID, set)
}

// SetInitialized flips the schema-synchronized flag.
func (r *IdentityRepository) SetInitialized(ctx context.Context, userID string, initialized bool) error {
	return r.upsert(ctx, userID, bson.M{"tryliate_initialized": initialized})
}

// Reset clears the connection flags and every cached project field. The record
// itself is kept; only an explicit reset reaches this code path.
func (r *IdentityRepository) Reset(ctx context.Context, userID string) error {
	set := bson.M{
		"supabase_connected":   false,
		"tryliate_initialized": false,
	}
	unset := bson.M{
		"supabase_access_token":    "",
		"supabase_refresh_token":   "",
		"supabase_project_id":      "",
		"supabase_org_id":          "",
		"supabase_url":             "",
		"supabase_publishable_key": "",
		"supabase_secret_key":      "",
	}
	now := time.Now().UTC()
	set["updated_at"] = now

	_, err := r.identities.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{
		"$set":   set,
		"$unset": unset,
	})
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("identity reset failed")
		return fmt.Errorf("reset identity record: %w", err)
	}
	return nil
}

var _ domain.IdentityRepository = (*IdentityRepository)(nil)
