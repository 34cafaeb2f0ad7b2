package authflow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/tryliate/byoi/config"
	"github.com/tryliate/byoi/domain"
	serrors "github.com/tryliate/byoi/errors"
)

// CallbackPath is this system's registered OAuth redirect path for the
// infrastructure provider. The redirect_uri built from it must match exactly
// between the authorize and token-exchange calls.
const CallbackPath = "/auth/callback/supabase"

// NeuralCallbackPath is the redirect path of the second, project-level PKCE
// flow that authenticates the tenant's own end users against their own
// provisioned project.
const NeuralCallbackPath = "/auth/callback/neural"

// Coordinator builds authorization redirects and performs token exchanges for
// the infrastructure-linking flow.
type Coordinator struct {
	oauth        config.OAuthConfig
	publicOrigin string
	tenantDomain string
	guard        *FlowGuard
	httpClient   *http.Client
}

// NewCoordinator wires a Coordinator from static configuration.
func NewCoordinator(cfg config.Config, guard *FlowGuard) *Coordinator {
	return &Coordinator{
		oauth:        cfg.OAuth,
		publicOrigin: strings.TrimSuffix(cfg.PublicOrigin, "/"),
		tenantDomain: cfg.Platform.TenantDomain,
		guard:        guard,
		httpClient:   &http.Client{Timeout: cfg.OAuth.ExchangeTimeout},
	}
}

// ResolveOrigin determines the externally visible origin for redirect URIs.
// An explicitly configured public origin wins; otherwise the forwarded-host
// headers a reverse proxy sets are trusted over the request's own host, which
// is commonly an internal address behind load balancers.
func (c *Coordinator) ResolveOrigin(r *http.Request) string {
	if c.publicOrigin != "" {
		return c.publicOrigin
	}
	host := r.Header.Get("X-Forwarded-Host")
	proto := r.Header.Get("X-Forwarded-Proto")
	if host == "" {
		host = r.Host
	}
	if proto == "" {
		if r.TLS != nil {
			proto = "https"
		} else {
			proto = "http"
		}
	}
	return proto + "://" + host
}

// BuildAuthorizeURL constructs the provider authorization URL for a user. The
// caller context travels in the state parameter; the returned nonce has been
// registered with the flow guard so the matching callback is accepted exactly
// once.
func (c *Coordinator) BuildAuthorizeURL(userID, returnPath, origin string) (authorizeURL, nonce string) {
	nonce = uuid.NewString()
	c.guard.Issue(nonce, "")

	state := EncodeState(domain.AuthorizationState{
		UserID:     userID,
		ReturnPath: returnPath,
		Nonce:      nonce,
	})

	q := url.Values{}
	q.Set("client_id", c.oauth.ClientID)
	q.Set("redirect_uri", origin+CallbackPath)
	q.Set("response_type", "code")
	q.Set("state", state)

	return c.oauth.AuthorizeURL + "?" + q.Encode(), nonce
}

// BuildNeuralAuthorizeURL constructs the project-level PKCE authorization URL
// for the neural handshake. The S256 challenge is pinned to the nonce in the
// flow guard so the callback can verify the verifier cookie it receives.
func (c *Coordinator) BuildNeuralAuthorizeURL(userID, returnPath, origin, projectID, challenge string) string {
	nonce := uuid.NewString()
	c.guard.Issue(nonce, challenge)

	state := EncodeState(domain.AuthorizationState{
		UserID:     userID,
		ReturnPath: returnPath,
		Nonce:      nonce,
	})

	q := url.Values{}
	q.Set("client_id", c.oauth.NeuralClientID)
	q.Set("redirect_uri", origin+NeuralCallbackPath)
	q.Set("response_type", "code")
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", "S256")
	q.Set("state", state)

	return fmt.Sprintf("https://%s.%s/auth/v1/oauth/authorize?%s", projectID, c.tenantDomain, q.Encode())
}

// ConsumeNonce redeems a callback's state nonce against the flow guard,
// returning the code challenge bound to it at authorize time. Each nonce is
// valid exactly once.
func (c *Coordinator) ConsumeNonce(nonce string) (string, error) {
	return c.guard.Consume(nonce)
}

// Exchange swaps an authorization code for a token set at the provider's token
// endpoint. The request authenticates with HTTP Basic auth from the client
// credentials, and redirectURI must match the one used at authorize time.
//
// Authorization codes are single use: a failed exchange is terminal, never
// retried here.
func (c *Coordinator) Exchange(ctx context.Context, code, redirectURI string) (domain.OAuthTokenSet, error) {
	conf := &oauth2.Config{
		ClientID:     c.oauth.ClientID,
		ClientSecret: c.oauth.ClientSecret,
		RedirectURL:  redirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.oauth.AuthorizeURL,
			TokenURL:  c.oauth.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
	return c.exchange(ctx, conf, code)
}

// ExchangeTenant performs the second, PKCE-bound exchange directly against the
// tenant's own project auth endpoint. This authenticates the tenant's end user
// against their own provisioned project; the resulting token pair is logically
// separate from the management-API pair.
func (c *Coordinator) ExchangeTenant(ctx context.Context, projectID, code, verifier, redirectURI string) (domain.OAuthTokenSet, error) {
	base := fmt.Sprintf("https://%s.%s/auth/v1/oauth", projectID, c.tenantDomain)
	conf := &oauth2.Config{
		ClientID:    c.oauth.NeuralClientID,
		RedirectURL: redirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:   base + "/authorize",
			TokenURL:  base + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	return c.exchange(ctx, conf, code, oauth2.VerifierOption(verifier))
}

func (c *Coordinator) exchange(ctx context.Context, conf *oauth2.Config, code string, opts ...oauth2.AuthCodeOption) (domain.OAuthTokenSet, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	token, err := conf.Exchange(ctx, code, opts...)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			desc := rerr.ErrorDescription
			if desc == "" {
				desc = strings.TrimSpace(string(rerr.Body))
			}
			return domain.OAuthTokenSet{}, serrors.NewTokenExchangeFailed(rerr.ErrorCode, desc)
		}
		return domain.OAuthTokenSet{}, serrors.NewTokenExchangeFailed("", err.Error())
	}

	set := domain.OAuthTokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		set.ExpiresAt = &expiry
	}
	if scope, ok := token.Extra("scope").(string); ok && scope != "" {
		set.Scopes = strings.Fields(scope)
	}
	return set, nil
}
