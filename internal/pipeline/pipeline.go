package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/tryliate/byoi/config"
	"github.com/tryliate/byoi/domain"
	serrors "github.com/tryliate/byoi/errors"
	"github.com/tryliate/byoi/internal/platform"
	"github.com/tryliate/byoi/internal/provision"
	"github.com/tryliate/byoi/internal/vault"
)

// Outcome summarizes a finished connect pipeline run.
type Outcome struct {
	Project     domain.ManagedProject
	IsNew       bool
	Degraded    bool
	Initialized bool
}

// SchemaSyncer applies and drops the tenant schema on a provisioned project.
// Satisfied by schemasync.Synchronizer.
type SchemaSyncer interface {
	Sync(ctx context.Context, project *domain.ManagedProject, password string, onAttempt func(attempt int, err error)) error
	ResetTenantSchema(ctx context.Context, project *domain.ManagedProject, password string) error
}

// Pipeline runs the provision → poll → schema-sync → vault sequence for one
// user-initiated connect action. Each stage persists its own partial progress,
// so a crash after stage k never requires redoing stages before k: discovery
// finds the created project again, the DDL script is a no-op when already
// applied, and every vault write is an idempotent upsert.
type Pipeline struct {
	platform     *platform.Client
	provisioner  *provision.Provisioner
	poller       *provision.Poller
	synchronizer SchemaSyncer
	vault        *vault.Synchronizer
	identities   domain.IdentityRepository
	tenantDomain string
	region       string
	timeout      time.Duration

	// group serializes provisioning per user id: concurrent connect attempts
	// (double-click, duplicate tab) must not race the reserved-name check, or
	// two projects could be created.
	group singleflight.Group
}

// New wires a Pipeline.
func New(
	cfg config.Config,
	platformClient *platform.Client,
	provisioner *provision.Provisioner,
	poller *provision.Poller,
	synchronizer SchemaSyncer,
	vaultSync *vault.Synchronizer,
	identities domain.IdentityRepository,
) *Pipeline {
	return &Pipeline{
		platform:     platformClient,
		provisioner:  provisioner,
		poller:       poller,
		synchronizer: synchronizer,
		vault:        vaultSync,
		identities:   identities,
		tenantDomain: cfg.Platform.TenantDomain,
		region:       cfg.Platform.Region,
		timeout:      cfg.Pipeline.OverallTimeout,
	}
}

func (p *Pipeline) projectURL(projectID string) string {
	return fmt.Sprintf("https://%s.%s", projectID, p.tenantDomain)
}

// Vault exposes the credential synchronizer so the callback handler can
// persist exchanged tokens through the same saga-marked write path.
func (p *Pipeline) Vault() *vault.Synchronizer {
	return p.vault
}

// Provision runs the full pipeline for one user. accessToken may be empty, in
// which case the management token stored in the master vault is used. Progress
// is streamed through rep; the returned error is also emitted as the stream's
// terminal error event by the caller.
//
// Duplicate concurrent calls for the same user coalesce onto one execution;
// the duplicates share its outcome without emitting their own progress.
func (p *Pipeline) Provision(ctx context.Context, userID, accessToken string, rep Reporter) (*Outcome, error) {
	if rep == nil {
		rep = NopReporter{}
	}

	result, err, _ := p.group.Do(userID, func() (any, error) {
		runCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		return p.run(runCtx, userID, accessToken, rep)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Outcome), nil
}

func (p *Pipeline) run(ctx context.Context, userID, accessToken string, rep Reporter) (*Outcome, error) {
	record, err := p.identities.GetByUserID(ctx, userID)
	if err != nil && !errors.Is(err, domain.ErrIdentityNotFound) {
		return nil, serrors.NewVaultWriteFailed(fmt.Sprintf("load identity record: %v", err))
	}

	if accessToken == "" && record != nil {
		accessToken = record.SupabaseAccessToken
	}
	if accessToken == "" {
		return nil, serrors.NewMissingParameters("management token missing; reconnect the provider to refresh the session")
	}

	rep.Info("Analyzing infrastructure and organization quotas...")

	opts := provision.Options{}
	if record != nil {
		opts.KnownProjectID = record.SupabaseProjectID
		opts.HasStoredSecret = record.SupabaseSecretKey != ""
		opts.Initialized = record.TryliateInitialized
	}

	outcome, err := p.provisioner.Provision(ctx, accessToken, opts)
	if err != nil {
		return nil, err
	}
	project := outcome.Project

	link := domain.ProjectLink{
		ProjectID:      project.ID,
		OrganizationID: project.OrganizationID,
		ProjectURL:     p.projectURL(project.ID),
	}
	if err := p.vault.PersistProjectLink(ctx, userID, link); err != nil {
		return nil, err
	}

	if outcome.Degraded {
		// Quota fallback: the reused project's password is unknown, so schema
		// synchronization cannot proceed. Surfaced explicitly instead of
		// pretending the project is ready.
		rep.Info(fmt.Sprintf("Organization quota reached; reusing project %s.", project.ID))
		return &Outcome{Project: project, Degraded: true},
			serrors.NewDegradedProvisioning(project.ID)
	}

	if outcome.IsNew {
		rep.Info(fmt.Sprintf("Project %s created, waiting for it to come online...", project.ID))
	} else {
		rep.Info(fmt.Sprintf("Found existing project %s.", project.ID))
	}

	healthy, err := p.poller.WaitForActive(ctx, accessToken, project.ID, func(phase provision.PollPhase, attempt int) {
		if phase == provision.PhasePolling && attempt <= 1 {
			rep.Info("Polling project status...")
		}
	})
	if err != nil {
		return nil, err
	}
	project = *healthy
	rep.Info("Project is healthy.")

	// Key enrichment is best effort: a failed key fetch leaves the keys empty
	// but does not abort provisioning.
	if keys, keysErr := p.platform.ListAPIKeys(ctx, accessToken, project.ID); keysErr != nil {
		log.Warn().Err(keysErr).Str("project_id", project.ID).Msg("api key enrichment failed")
	} else if set := platform.ProjectKeys(keys); set.PublishableKey != "" || set.SecretKey != "" {
		link.Keys = set
		if err := p.vault.PersistProjectLink(ctx, userID, link); err != nil {
			return nil, err
		}
	}

	initialized := false
	if outcome.DBPassword != "" {
		rep.Info("Injecting application schema...")
		if err := p.synchronizer.Sync(ctx, &project, outcome.DBPassword, func(attempt int, _ error) {
			rep.Info(fmt.Sprintf("Database not reachable yet (attempt %d), retrying...", attempt))
		}); err != nil {
			return nil, err
		}
		if err := p.vault.MarkInitialized(ctx, userID); err != nil {
			return nil, err
		}
		initialized = true
	} else if record != nil && record.TryliateInitialized {
		// Pre-existing trusted project, schema already injected previously.
		initialized = true
	} else {
		rep.Info("Existing project found but its schema state is unknown; reset to re-provision from scratch.")
	}

	rep.Success("Infrastructure ready.")
	return &Outcome{
		Project:     project,
		IsNew:       outcome.IsNew,
		Initialized: initialized,
	}, nil
}

// Reset clears the user's local connection state and attempts remote cleanup
// of the provisioned project: a schema drop when the caller supplied the
// database password (it is never persisted), then project deletion. The
// remote calls are best-effort; the local clear always proceeds.
func (p *Pipeline) Reset(ctx context.Context, userID, dbPassword string) error {
	record, err := p.identities.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrIdentityNotFound) {
			return nil
		}
		return serrors.NewVaultWriteFailed(fmt.Sprintf("load identity record: %v", err))
	}

	var remote func(context.Context) error
	if record.SupabaseProjectID != "" {
		projectID, token := record.SupabaseProjectID, record.SupabaseAccessToken
		remote = func(ctx context.Context) error {
			if dbPassword != "" {
				project := &domain.ManagedProject{ID: projectID, Region: p.region}
				if dropErr := p.synchronizer.ResetTenantSchema(ctx, project, dbPassword); dropErr != nil {
					log.Warn().Err(dropErr).Str("project_id", projectID).Msg("remote schema drop failed")
				}
			}
			if token == "" {
				return nil
			}
			return p.platform.DeleteProject(ctx, token, projectID)
		}
	}

	_, err, _ = p.group.Do(userID, func() (any, error) {
		return nil, p.vault.Reset(ctx, userID, remote)
	})
	return err
}
