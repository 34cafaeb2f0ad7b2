package schemasync

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/tryliate/byoi/config"
	"github.com/tryliate/byoi/domain"
	serrors "github.com/tryliate/byoi/errors"
	"github.com/tryliate/byoi/internal/provision"
)

// PoolerPort is the connection-pooling proxy's listener. The instance itself
// does not accept direct high-volume connections.
const PoolerPort = 6543

// Endpoint is the derived pooled-connection target for a tenant project. The
// platform's naming convention embeds the region in the host and the project
// id in the user.
type Endpoint struct {
	Host     string
	Port     int
	User     string
	Database string
}

// PoolerEndpoint derives the pooled-connection endpoint from a project's
// region and id.
func PoolerEndpoint(region, projectID string) Endpoint {
	return Endpoint{
		Host:     fmt.Sprintf("aws-0-%s.pooler.supabase.com", region),
		Port:     PoolerPort,
		User:     "postgres." + projectID,
		Database: "postgres",
	}
}

// DSN renders the endpoint as a lib/pq connection string.
//
// sslmode=require encrypts the connection but skips certificate verification:
// the pooler presents a certificate that cannot be validated against the
// dynamic hostname. The relaxation is scoped to this one connection string,
// never to process-wide TLS settings.
func (e Endpoint) DSN(password string, connectTimeout time.Duration) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(e.User, password),
		Host:   fmt.Sprintf("%s:%d", e.Host, e.Port),
		Path:   "/" + e.Database,
	}
	q := url.Values{}
	q.Set("sslmode", "require")
	q.Set("connect_timeout", fmt.Sprintf("%d", int(connectTimeout.Seconds())))
	u.RawQuery = q.Encode()
	return u.String()
}

// Synchronizer applies the tenant schema over a pooled SQL connection. A
// freshly provisioned database is not immediately reachable, so connection
// failures are retried with a fixed delay up to a bounded attempt count.
type Synchronizer struct {
	connectTimeout time.Duration
	attempts       int
	retryDelay     time.Duration
	clock          provision.Clock

	// open is swapped out by tests; production uses sqlx against lib/pq.
	open func(ctx context.Context, dsn string) (*sqlx.DB, error)
}

// NewSynchronizer wires a Synchronizer from pipeline configuration.
func NewSynchronizer(cfg config.PipelineConfig, clock provision.Clock) *Synchronizer {
	if clock == nil {
		clock = provision.RealClock{}
	}
	return &Synchronizer{
		connectTimeout: cfg.ConnectTimeout,
		attempts:       cfg.ConnectAttempts,
		retryDelay:     cfg.ConnectRetryDelay,
		clock:          clock,
		open:           openPostgres,
	}
}

func openPostgres(ctx context.Context, dsn string) (*sqlx.DB, error) {
	return sqlx.ConnectContext(ctx, "postgres", dsn)
}

// Sync connects to the now-healthy project and executes the full idempotent
// DDL script in one shot. Each attempt opens, uses and closes its own
// connection; the pooler is shared infrastructure and long-lived connections
// must not be held. onAttempt, when non-nil, observes each failed attempt.
func (s *Synchronizer) Sync(ctx context.Context, project *domain.ManagedProject, password string, onAttempt func(attempt int, err error)) error {
	endpoint := PoolerEndpoint(project.Region, project.ID)
	dsn := endpoint.DSN(password, s.connectTimeout)

	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		lastErr = s.attemptOnce(ctx, dsn)
		if lastErr == nil {
			log.Info().Str("project_id", project.ID).Int("attempt", attempt).
				Msg("tenant schema synchronized")
			return nil
		}

		log.Warn().Err(lastErr).Str("project_id", project.ID).Int("attempt", attempt).
			Msg("schema sync attempt failed")
		if onAttempt != nil {
			onAttempt(attempt, lastErr)
		}

		if attempt < s.attempts {
			if err := s.clock.Sleep(ctx, s.retryDelay); err != nil {
				return err
			}
		}
	}
	return serrors.NewSchemaSyncFailed(lastErr.Error())
}

func (s *Synchronizer) attemptOnce(ctx context.Context, dsn string) error {
	connectCtx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	defer cancel()

	db, err := s.open(connectCtx, dsn)
	if err != nil {
		return fmt.Errorf("connect pooler: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, TenantSchemaDDL); err != nil {
		return fmt.Errorf("apply tenant schema: %w", err)
	}
	return nil
}

// ResetTenantSchema drops and recreates the tenant's public schema in a single
// attempt. Reset is best-effort by contract, so there is no retry loop.
func (s *Synchronizer) ResetTenantSchema(ctx context.Context, project *domain.ManagedProject, password string) error {
	endpoint := PoolerEndpoint(project.Region, project.ID)
	dsn := endpoint.DSN(password, s.connectTimeout)

	connectCtx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	defer cancel()

	db, err := s.open(connectCtx, dsn)
	if err != nil {
		return fmt.Errorf("connect pooler: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, ResetDDL); err != nil {
		return fmt.Errorf("reset tenant schema: %w", err)
	}
	return nil
}
