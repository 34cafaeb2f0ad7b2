package authflow

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/tryliate/byoi/domain"
	serrors "github.com/tryliate/byoi/errors"
)

// The state parameter wire format is a comma-joined list of key=value pairs,
// percent-encoded as a whole. Version 1 prefixes a v=1 pair; decoding also
// accepts the unversioned legacy form still in flight from older clients.
const stateVersion = "1"

const (
	stateKeyVersion = "v"
	stateKeyUserID  = "user_id"
	stateKeyNext    = "next"
	stateKeyNonce   = "nonce"
)

// EncodeState serializes an AuthorizationState for the OAuth state parameter.
// The result round-trips through DecodeState without loss.
func EncodeState(s domain.AuthorizationState) string {
	pairs := []string{
		stateKeyVersion + "=" + stateVersion,
		stateKeyUserID + "=" + url.QueryEscape(s.UserID),
	}
	if s.ReturnPath != "" {
		pairs = append(pairs, stateKeyNext+"="+url.QueryEscape(s.ReturnPath))
	}
	if s.Nonce != "" {
		pairs = append(pairs, stateKeyNonce+"="+url.QueryEscape(s.Nonce))
	}
	return strings.Join(pairs, ",")
}

// DecodeState parses a state parameter back into an AuthorizationState.
// A state without a user id is never trusted.
func DecodeState(raw string) (domain.AuthorizationState, error) {
	var state domain.AuthorizationState

	// Proxies occasionally deliver the value percent-encoded a second time.
	if decoded, err := url.QueryUnescape(raw); err == nil {
		raw = decoded
	}

	for _, pair := range strings.Split(raw, ",") {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		if unescaped, err := url.QueryUnescape(value); err == nil {
			value = unescaped
		}
		switch key {
		case stateKeyVersion:
			if value != stateVersion {
				return state, serrors.NewInvalidState(fmt.Sprintf("unsupported state version %q", value))
			}
		case stateKeyUserID:
			state.UserID = value
		case stateKeyNext:
			state.ReturnPath = value
		case stateKeyNonce:
			state.Nonce = value
		}
	}

	if state.UserID == "" {
		return state, serrors.NewInvalidState("state parameter carries no user identity")
	}
	return state, nil
}

// SafeReturnPath validates a decoded return path as a same-origin relative
// path. Anything else falls back to the root path, so a crafted state can
// never redirect the popup off-origin.
func SafeReturnPath(path string) string {
	if path == "" || !strings.HasPrefix(path, "/") || strings.HasPrefix(path, "//") {
		return "/"
	}
	if strings.Contains(path, "\\") {
		return "/"
	}
	if u, err := url.Parse(path); err != nil || u.Host != "" || u.Scheme != "" {
		return "/"
	}
	return path
}
