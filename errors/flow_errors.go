package errors

import "fmt"

// FlowError represents a terminal, user-presentable failure of the connect
// pipeline. Code is a stable machine-readable identifier; Description is safe
// to render on the callback status page.
type FlowError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Stable error codes for the connect pipeline.
const (
	MissingParameters    = "missing_parameters"
	InvalidState         = "invalid_state"
	TokenExchangeFailed  = "token_exchange_failed"
	NoOrganization       = "no_organization"
	QuotaExceeded        = "quota_exceeded"
	DegradedProvisioning = "degraded_provisioning"
	ProvisioningTimeout  = "provisioning_timeout"
	SchemaSyncFailed     = "schema_sync_failed"
	VaultWriteFailed     = "vault_write_failed"
)

// Common error constructors

func NewMissingParameters(description string) *FlowError {
	return &FlowError{Code: MissingParameters, Description: description}
}

func NewInvalidState(description string) *FlowError {
	return &FlowError{Code: InvalidState, Description: description}
}

// NewTokenExchangeFailed surfaces the provider's own error code when it
// reported one, so "invalid_grant" and friends reach the status page intact.
func NewTokenExchangeFailed(providerCode, description string) *FlowError {
	code := TokenExchangeFailed
	if providerCode != "" {
		code = providerCode
	}
	return &FlowError{Code: code, Description: description}
}

func NewNoOrganization() *FlowError {
	return &FlowError{
		Code:        NoOrganization,
		Description: "no organization is visible to the management token",
	}
}

// NewDegradedProvisioning marks the quota fallback: an existing project was
// reused whose database password is unknown.
func NewDegradedProvisioning(projectID string) *FlowError {
	return &FlowError{
		Code:        DegradedProvisioning,
		Description: fmt.Sprintf("organization quota reached; reusing project %s without schema synchronization", projectID),
	}
}

func NewProvisioningTimeout(attempts int) *FlowError {
	return &FlowError{
		Code:        ProvisioningTimeout,
		Description: fmt.Sprintf("project did not become healthy within %d status checks", attempts),
	}
}

func NewSchemaSyncFailed(description string) *FlowError {
	return &FlowError{Code: SchemaSyncFailed, Description: description}
}

func NewVaultWriteFailed(description string) *FlowError {
	return &FlowError{Code: VaultWriteFailed, Description: description}
}
