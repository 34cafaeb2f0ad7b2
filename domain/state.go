package domain

// AuthorizationState is the caller context carried through the OAuth `state`
// parameter. It is created when the authorize URL is built, consumed exactly
// once at callback time, and never persisted beyond the callback request.
type AuthorizationState struct {
	UserID     string
	ReturnPath string
	Nonce      string
}
