package domain

import "time"

// OAuthTokenSet is the pair of tokens obtained from the remote provider's
// token endpoint, plus the scopes the provider granted.
type OAuthTokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	Scopes       []string
}

// Valid reports whether the set carries a usable access token.
func (t OAuthTokenSet) Valid() bool {
	return t.AccessToken != ""
}

// ProjectKeySet holds the tenant project's own API keys, fetched from the
// management API after provisioning. Best-effort enrichment data: either key
// may be empty when discovery fails.
type ProjectKeySet struct {
	PublishableKey string
	SecretKey      string
}
