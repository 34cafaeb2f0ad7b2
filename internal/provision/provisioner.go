package provision

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/tryliate/byoi/config"
	"github.com/tryliate/byoi/domain"
	serrors "github.com/tryliate/byoi/errors"
	"github.com/tryliate/byoi/internal/platform"
)

// Provisioner discovers or creates the user's managed database project.
//
// Discovery is idempotent: re-running finds the same project by its reserved
// name. Creation is not idempotent against races on that name check, so the
// caller serializes invocations per user.
type Provisioner struct {
	client      *platform.Client
	projectName string
	region      string
	plan        string
	quota       int
}

// Options carries what the caller's vault knows about the user's project, so
// a reserved-name project whose credentials the vault lost can be detected.
type Options struct {
	// KnownProjectID is the project id the master store has on record, if any.
	KnownProjectID string
	// HasStoredSecret is true when the master store still holds the project's
	// secret API key.
	HasStoredSecret bool
	// Initialized is true when the master store records the project's schema
	// as applied. Key enrichment is best effort, so an initialized project can
	// lack a stored secret key and must still be trusted.
	Initialized bool
}

// NewProvisioner wires a Provisioner from platform configuration.
func NewProvisioner(client *platform.Client, cfg config.PlatformConfig) *Provisioner {
	return &Provisioner{
		client:      client,
		projectName: cfg.ProjectName,
		region:      cfg.Region,
		plan:        cfg.Plan,
		quota:       cfg.OrgProjectQuota,
	}
}

// Provision implements the discover-or-create protocol:
//
//  1. A project with the reserved name is returned as-is. If the vault
//     neither holds its credentials nor records its schema as applied, the
//     project is an orphan whose password can never be recovered, so it is
//     purged and re-created.
//  2. With no reserved project, the first organization is selected; none at
//     all is a terminal failure.
//  3. An organization at its project quota degrades to reusing its first
//     project. The outcome is marked Degraded since schema synchronization
//     cannot proceed without a password.
//  4. Otherwise one create call is issued with a freshly generated password.
//
// At most one creation call happens per invocation.
func (p *Provisioner) Provision(ctx context.Context, token string, opts Options) (domain.ProvisionOutcome, error) {
	projects, err := p.client.ListProjects(ctx, token)
	if err != nil {
		return domain.ProvisionOutcome{}, fmt.Errorf("list projects: %w", err)
	}

	if existing := findByName(projects, p.projectName); existing != nil {
		trusted := opts.KnownProjectID == existing.ID && (opts.HasStoredSecret || opts.Initialized)
		if trusted {
			log.Info().Str("project_id", existing.ID).Msg("reserved project already provisioned")
			return domain.ProvisionOutcome{Project: *existing, IsNew: false}, nil
		}

		// The vault no longer matches this project, so its password is gone
		// for good. Purge and fall through to creation.
		log.Warn().Str("project_id", existing.ID).Msg("orphaned reserved project, purging")
		if err := p.client.DeleteProject(ctx, token, existing.ID); err != nil {
			return domain.ProvisionOutcome{}, fmt.Errorf("purge orphaned project %s: %w", existing.ID, err)
		}
	}

	orgs, err := p.client.ListOrganizations(ctx, token)
	if err != nil {
		return domain.ProvisionOutcome{}, fmt.Errorf("list organizations: %w", err)
	}
	if len(orgs) == 0 {
		return domain.ProvisionOutcome{}, serrors.NewNoOrganization()
	}
	primary := orgs[0]

	orgProjects := filterByOrg(projects, primary.ID)
	if len(orgProjects) >= p.quota {
		fallback := orgProjects[0]
		log.Warn().Str("org_id", primary.ID).Int("quota", p.quota).
			Str("fallback_project_id", fallback.ID).
			Msg("organization at project quota, degrading to existing project")
		return domain.ProvisionOutcome{Project: fallback, IsNew: false, Degraded: true}, nil
	}

	password, err := GeneratePassword()
	if err != nil {
		return domain.ProvisionOutcome{}, err
	}

	created, err := p.client.CreateProject(ctx, token, platform.CreateProjectRequest{
		Name:           p.projectName,
		OrganizationID: primary.ID,
		Region:         p.region,
		Plan:           p.plan,
		DBPass:         password,
	})
	if err != nil {
		return domain.ProvisionOutcome{}, fmt.Errorf("create project: %w", err)
	}
	if created.OrganizationID == "" {
		created.OrganizationID = primary.ID
	}
	if created.Region == "" {
		created.Region = p.region
	}

	log.Info().Str("project_id", created.ID).Str("org_id", primary.ID).Msg("project created")
	return domain.ProvisionOutcome{Project: *created, IsNew: true, DBPassword: password}, nil
}

func findByName(projects []domain.ManagedProject, name string) *domain.ManagedProject {
	for i := range projects {
		if projects[i].Name == name {
			return &projects[i]
		}
	}
	return nil
}

func filterByOrg(projects []domain.ManagedProject, orgID string) []domain.ManagedProject {
	var out []domain.ManagedProject
	for _, p := range projects {
		if p.OrganizationID == orgID {
			out = append(out, p)
		}
	}
	return out
}
