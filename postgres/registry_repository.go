package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/tryliate/byoi/domain"
)

const registrySchema = `
CREATE TABLE IF NOT EXISTS authorization_registry (
  user_id           TEXT NOT NULL,
  provider          TEXT NOT NULL,
  access_token      TEXT NOT NULL,
  refresh_token     TEXT,
  status            TEXT NOT NULL DEFAULT 'pending',
  scopes            TEXT[] NOT NULL DEFAULT '{}',
  last_handshake_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (user_id, provider)
);

CREATE TABLE IF NOT EXISTS vault_saga_markers (
  user_id      TEXT NOT NULL,
  step         TEXT NOT NULL,
  completed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (user_id, step)
);
`

// Connect opens the registry database and ensures its schema. The schema DDL
// is idempotent, so repeated startups are safe.
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect registry database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if _, err := db.ExecContext(ctx, registrySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure registry schema: %w", err)
	}
	return db, nil
}

// RegistryRepository implements domain.RegistryRepository on Postgres. Entries
// are unique per (user_id, provider) and always written through a single
// insert-or-update statement.
type RegistryRepository struct {
	db *sqlx.DB
}

// NewRegistryRepository creates the repository over an open database handle.
func NewRegistryRepository(db *sqlx.DB) *RegistryRepository {
	return &RegistryRepository{db: db}
}

type registryRow struct {
	UserID          string         `db:"user_id"`
	Provider        string         `db:"provider"`
	AccessToken     string         `db:"access_token"`
	RefreshToken    sql.NullString `db:"refresh_token"`
	Status          string         `db:"status"`
	Scopes          pq.StringArray `db:"scopes"`
	LastHandshakeAt time.Time      `db:"last_handshake_at"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func (row registryRow) toDomain() *domain.AuthorizationRegistryEntry {
	return &domain.AuthorizationRegistryEntry{
		UserID:          row.UserID,
		Provider:        row.Provider,
		AccessToken:     row.AccessToken,
		RefreshToken:    row.RefreshToken.String,
		Status:          domain.AuthorizationStatus(row.Status),
		Scopes:          row.Scopes,
		LastHandshakeAt: row.LastHandshakeAt,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
}

// Upsert inserts or refreshes the entry for (entry.UserID, entry.Provider),
// refreshing the handshake timestamp. Running it twice with the same inputs
// leaves the table in the same final state.
func (r *RegistryRepository) Upsert(ctx context.Context, entry *domain.AuthorizationRegistryEntry) error {
	status := entry.Status
	if status == "" {
		status = domain.AuthorizationStatusPending
	}

	const query = `
		INSERT INTO authorization_registry
			(user_id, provider, access_token, refresh_token, status, scopes, last_handshake_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (user_id, provider) DO UPDATE SET
			access_token      = EXCLUDED.access_token,
			refresh_token     = EXCLUDED.refresh_token,
			status            = EXCLUDED.status,
			scopes            = EXCLUDED.scopes,
			last_handshake_at = now(),
			updated_at        = now()`

	_, err := r.db.ExecContext(ctx, query,
		entry.UserID, entry.Provider, entry.AccessToken,
		sql.NullString{String: entry.RefreshToken, Valid: entry.RefreshToken != ""},
		string(status), pq.StringArray(entry.Scopes))
	if err != nil {
		log.Error().Err(err).Str("user_id", entry.UserID).Str("provider", entry.Provider).
			Msg("registry upsert failed")
		return fmt.Errorf("upsert registry entry: %w", err)
	}
	return nil
}

// Get retrieves an entry, or nil when none exists.
func (r *RegistryRepository) Get(ctx context.Context, userID, provider string) (*domain.AuthorizationRegistryEntry, error) {
	var row registryRow
	err := r.db.GetContext(ctx, &row,
		`SELECT * FROM authorization_registry WHERE user_id = $1 AND provider = $2`,
		userID, provider)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load registry entry: %w", err)
	}
	return row.toDomain(), nil
}

// SetStatus toggles the policy status without touching tokens. The flag is
// user-togglable independent of the underlying token's validity.
func (r *RegistryRepository) SetStatus(ctx context.Context, userID, provider string, status domain.AuthorizationStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE authorization_registry SET status = $3, updated_at = now()
		 WHERE user_id = $1 AND provider = $2`,
		userID, provider, string(status))
	if err != nil {
		return fmt.Errorf("set registry status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no registry entry for user %s provider %s", userID, provider)
	}
	return nil
}

var _ domain.RegistryRepository = (*RegistryRepository)(nil)
