package authflow

import (
	"crypto/subtle"
	"errors"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/oauth2"
)

var (
	// ErrStateReplayed is returned when a callback presents a nonce that was
	// already consumed, or that this instance never issued.
	ErrStateReplayed = errors.New("state nonce unknown or already consumed")

	// ErrVerifierMismatch is returned when the PKCE code verifier cookie does
	// not match the challenge recorded at authorize time.
	ErrVerifierMismatch = errors.New("code verifier does not match stored challenge")
)

// FlowGuard tracks issued state nonces and their PKCE code challenges for the
// lifetime of one authorization round trip. Entries are single use and expire
// after a short TTL, so an abandoned popup does not leak memory.
type FlowGuard struct {
	nonces *ttlcache.Cache[string, string]
}

// NewFlowGuard creates a guard whose entries expire after ttl.
func NewFlowGuard(ttl time.Duration) *FlowGuard {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, string](ttl),
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	go cache.Start()
	return &FlowGuard{nonces: cache}
}

// Issue records a nonce with an optional PKCE code challenge.
func (g *FlowGuard) Issue(nonce, codeChallenge string) {
	g.nonces.Set(nonce, codeChallenge, ttlcache.DefaultTTL)
}

// Consume removes the nonce and returns its recorded challenge. A second
// consume of the same nonce fails, which rejects replayed callbacks.
func (g *FlowGuard) Consume(nonce string) (string, error) {
	item := g.nonces.Get(nonce)
	if item == nil {
		return "", ErrStateReplayed
	}
	g.nonces.Delete(nonce)
	return item.Value(), nil
}

// Close stops the cache's cleanup goroutine.
func (g *FlowGuard) Close() {
	g.nonces.Stop()
}

// ChallengeS256 derives the S256 code challenge for a verifier.
func ChallengeS256(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// ValidateVerifier checks a code verifier against a recorded challenge,
// accepting both the plain and S256 methods.
func ValidateVerifier(challenge, verifier string) error {
	if subtle.ConstantTimeCompare([]byte(challenge), []byte(verifier)) == 1 {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(challenge), []byte(ChallengeS256(verifier))) == 1 {
		return nil
	}
	return ErrVerifierMismatch
}
