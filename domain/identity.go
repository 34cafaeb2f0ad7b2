package domain

import "time"

// UserIdentityRecord is the master-store row for a user's infrastructure link.
// It is keyed by the user id, mutated by the authorization callback (token
// exchange) and by the schema synchronizer (initialized flag), and reset only
// by an explicit user-initiated reset.
type UserIdentityRecord struct {
	UserID                 string     `bson:"_id"`
	SupabaseConnected      bool       `bson:"supabase_connected"`
	SupabaseAccessToken    string     `bson:"supabase_access_token,omitempty"`
	SupabaseRefreshToken   string     `bson:"supabase_refresh_token,omitempty"`
	SupabaseProjectID      string     `bson:"supabase_project_id,omitempty"`
	SupabaseOrgID          string     `bson:"supabase_org_id,omitempty"`
	SupabaseURL            string     `bson:"supabase_url,omitempty"`
	SupabasePublishableKey string     `bson:"supabase_publishable_key,omitempty"`
	SupabaseSecretKey      string     `bson:"supabase_secret_key,omitempty"`
	TryliateInitialized    bool       `bson:"tryliate_initialized"`
	CreatedAt              time.Time  `bson:"created_at"`
	UpdatedAt              time.Time  `bson:"updated_at"`
	LastConnectAt          *time.Time `bson:"last_connect_at,omitempty"`
}

// ProjectLink is the subset of the identity record that binds the user to a
// provisioned project.
type ProjectLink struct {
	ProjectID      string
	OrganizationID string
	ProjectURL     string
	Keys           ProjectKeySet
}
