package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tryliate/byoi/domain"
	"github.com/tryliate/byoi/postgres"
)

func setupDB(t *testing.T) *sqlx.DB {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := postgres.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Exec(`DELETE FROM authorization_registry`)
		db.Exec(`DELETE FROM vault_saga_markers`)
		db.Close()
	})
	return db
}

func TestRegistryUpsertAndGet(t *testing.T) {
	db := setupDB(t)
	repo := postgres.NewRegistryRepository(db)
	ctx := context.Background()

	entry := &domain.AuthorizationRegistryEntry{
		UserID:       "u1",
		Provider:     "supabase",
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		Status:       domain.AuthorizationStatusVerified,
		Scopes:       []string{"all", "projects:read"},
	}
	require.NoError(t, repo.Upsert(ctx, entry))

	got, err := repo.Get(ctx, "u1", "supabase")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "at-1", got.AccessToken)
	assert.Equal(t, "rt-1", got.RefreshToken)
	assert.Equal(t, domain.AuthorizationStatusVerified, got.Status)
	assert.Equal(t, []string{"all", "projects:read"}, got.Scopes)
	assert.False(t, got.LastHandshakeAt.IsZero())

	// The second upsert refreshes the same row instead of duplicating it.
	entry.AccessToken = "at-2"
	require.NoError(t, repo.Upsert(ctx, entry))

	got, err = repo.Get(ctx, "u1", "supabase")
	require.NoError(t, err)
	assert.Equal(t, "at-2", got.AccessToken)
}

func TestRegistryGetMissing(t *testing.T) {
	db := setupDB(t)
	repo := postgres.NewRegistryRepository(db)

	got, err := repo.Get(context.Background(), "ghost", "supabase")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRegistrySetStatus(t *testing.T) {
	db := setupDB(t)
	repo := postgres.NewRegistryRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &domain.AuthorizationRegistryEntry{
		UserID: "u1", Provider: "supabase", AccessToken: "at-1",
		Status: domain.AuthorizationStatusVerified,
	}))

	require.NoError(t, repo.SetStatus(ctx, "u1", "supabase", domain.AuthorizationStatusRevoked))

	got, err := repo.Get(ctx, "u1", "supabase")
	require.NoError(t, err)
	assert.Equal(t, domain.AuthorizationStatusRevoked, got.Status)

	assert.Error(t, repo.SetStatus(ctx, "ghost", "supabase", domain.AuthorizationStatusActive))
}

func TestSagaMarkers(t *testing.T) {
	db := setupDB(t)
	repo := postgres.NewSagaMarkerRepository(db)
	ctx := context.Background()

	done, err := repo.Completed(ctx, "u1", domain.SagaStepMasterUpserted)
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, repo.MarkCompleted(ctx, "u1", domain.SagaStepMasterUpserted))
	require.NoError(t, repo.MarkCompleted(ctx, "u1", domain.SagaStepMasterUpserted), "idempotent")

	done, err = repo.Completed(ctx, "u1", domain.SagaStepMasterUpserted)
	require.NoError(t, err)
	assert.True(t, done)

	require.NoError(t, repo.Clear(ctx, "u1"))
	done, err = repo.Completed(ctx, "u1", domain.SagaStepMasterUpserted)
	require.NoError(t, err)
	assert.False(t, done)
}
