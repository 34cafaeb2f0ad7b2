package domain

// ProjectStatus is the remote platform's reported health for a managed project.
// Status transitions are observed by polling the management API, never pushed.
type ProjectStatus string

const (
	ProjectStatusComingUp      ProjectStatus = "COMING_UP"
	ProjectStatusActiveHealthy ProjectStatus = "ACTIVE_HEALTHY"
	ProjectStatusUnreachable   ProjectStatus = "UNREACHABLE"
	ProjectStatusUnknown       ProjectStatus = "UNKNOWN"
)

// Healthy reports whether the project's data plane is ready to accept SQL
// connections.
func (s ProjectStatus) Healthy() bool {
	return s == ProjectStatusActiveHealthy || s == "ACTIVE"
}

// ManagedProject is this system's cached view of the tenant's remote database
// project. The remote platform owns the full record; only the fields needed to
// derive connection endpoints and report provisioning progress are kept.
type ManagedProject struct {
	ID             string        `json:"id"`
	OrganizationID string        `json:"organization_id"`
	Name           string        `json:"name"`
	Region         string        `json:"region"`
	Status         ProjectStatus `json:"status"`
}

// ProvisionOutcome is the result of a single provisioning attempt.
//
// IsNew is true only when this invocation issued the create call; DBPassword is
// set only in that case, lives in process memory until schema synchronization
// finishes, and must never be written to a durable store. Degraded marks the
// quota fallback: an existing project was returned whose password is unknown,
// so schema synchronization cannot proceed for it.
type ProvisionOutcome struct {
	Project    ManagedProject
	IsNew      bool
	Degraded   bool
	DBPassword string
}
