package authflow

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tryliate/byoi/config"
	serrors "github.com/tryliate/byoi/errors"
)

func newTestCoordinator(t *testing.T, cfg config.Config) *Coordinator {
	t.Helper()
	guard := NewFlowGuard(time.Minute)
	t.Cleanup(guard.Close)
	return NewCoordinator(cfg, guard)
}

func TestBuildAuthorizeURL(t *testing.T) {
	cfg := config.Config{
		OAuth: config.OAuthConfig{
			ClientID:     "client-1",
			AuthorizeURL: "https://api.example.com/v1/oauth/authorize",
		},
	}
	co := newTestCoordinator(t, cfg)

	rawURL, nonce := co.BuildAuthorizeURL("user-1", "/studio", "https://app.example.com")
	require.NotEmpty(t, nonce)

	parsed, err := url.Parse(rawURL)
	require.NoError(t, err)
	q := parsed.Query()
	assert.Equal(t, "client-1", q.Get("client_id"))
	assert.Equal(t, "https://app.example.com"+CallbackPath, q.Get("redirect_uri"))
	assert.Equal(t, "code", q.Get("response_type"))

	state, err := DecodeState(q.Get("state"))
	require.NoError(t, err)
	assert.Equal(t, "user-1", state.UserID)
	assert.Equal(t, "/studio", state.ReturnPath)
	assert.Equal(t, nonce, state.Nonce)

	// The nonce was registered with the guard.
	_, err = co.ConsumeNonce(nonce)
	assert.NoError(t, err)
}

func TestResolveOrigin(t *testing.T) {
	testCases := []struct {
		name         string
		publicOrigin string
		headers      map[string]string
		host         string
		tls          bool
		want         string
	}{
		{
			name:         "configured origin wins",
			publicOrigin: "https://app.example.com",
			headers:      map[string]string{"X-Forwarded-Host": "other.example.com"},
			host:         "internal:8080",
			want:         "https://app.example.com",
		},
		{
			name:    "forwarded headers",
			headers: map[string]string{"X-Forwarded-Host": "app.example.com", "X-Forwarded-Proto": "https"},
			host:    "internal:8080",
			want:    "https://app.example.com",
		},
		{
			name: "plain request host",
			host: "localhost:3001",
			want: "http://localhost:3001",
		},
		{
			name: "tls request",
			host: "app.example.com",
			tls:  true,
			want: "https://app.example.com",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			co := newTestCoordinator(t, config.Config{PublicOrigin: tc.publicOrigin})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Host = tc.host
			if tc.tls {
				req.TLS = &tls.ConnectionState{}
			}
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}

			assert.Equal(t, tc.want, co.ResolveOrigin(req))
		})
	}
}

func TestExchangeSuccess(t *testing.T) {
	var gotAuth, gotCode, gotRedirect string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotAuth = r.Header.Get("Authorization")
		gotCode = r.PostForm.Get("code")
		gotRedirect = r.PostForm.Get("redirect_uri")

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at-1",
			"refresh_token": "rt-1",
			"token_type":    "bearer",
			"expires_in":    3600,
			"scope":         "all projects:read",
		})
	}))
	defer srv.Close()

	cfg := config.Config{OAuth: config.OAuthConfig{
		ClientID:        "client-1",
		ClientSecret:    "secret-1",
		AuthorizeURL:    srv.URL + "/authorize",
		TokenURL:        srv.URL + "/token",
		ExchangeTimeout: 5 * time.Second,
	}}
	co := newTestCoordinator(t, cfg)

	tokens, err := co.Exchange(context.Background(), "code-1", "https://app.example.com"+CallbackPath)
	require.NoError(t, err)

	assert.Equal(t, "at-1", tokens.AccessToken)
	assert.Equal(t, "rt-1", tokens.RefreshToken)
	require.NotNil(t, tokens.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *tokens.ExpiresAt, time.Minute)
	assert.Equal(t, []string{"all", "projects:read"}, tokens.Scopes)

	assert.Equal(t, "code-1", gotCode)
	assert.Equal(t, "https://app.example.com"+CallbackPath, gotRedirect)
	assert.NotEmpty(t, gotAuth, "client credentials must travel as Basic auth")
	assert.Contains(t, gotAuth, "Basic ")
}

func TestExchangeProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error":             "invalid_grant",
			"error_description": "authorization code expired",
		})
	}))
	defer srv.Close()

	cfg := config.Config{OAuth: config.OAuthConfig{
		ClientID:        "client-1",
		ClientSecret:    "secret-1",
		TokenURL:        srv.URL + "/token",
		ExchangeTimeout: 5 * time.Second,
	}}
	co := newTestCoordinator(t, cfg)

	_, err := co.Exchange(context.Background(), "stale-code", "https://app.example.com"+CallbackPath)
	require.Error(t, err)

	var fe *serrors.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "invalid_grant", fe.Code)
	assert.Equal(t, "authorization code expired", fe.Description)
}

func TestBuildNeuralAuthorizeURL(t *testing.T) {
	cfg := config.Config{
		OAuth:    config.OAuthConfig{NeuralClientID: "neural-1"},
		Platform: config.PlatformConfig{TenantDomain: "supabase.co"},
	}
	co := newTestCoordinator(t, cfg)

	challenge := ChallengeS256("some-verifier")
	rawURL := co.BuildNeuralAuthorizeURL("user-1", "/studio", "https://app.example.com", "proj123", challenge)

	parsed, err := url.Parse(rawURL)
	require.NoError(t, err)
	assert.Equal(t, "proj123.supabase.co", parsed.Host)
	assert.Equal(t, "/auth/v1/oauth/authorize", parsed.Path)

	q := parsed.Query()
	assert.Equal(t, "neural-1", q.Get("client_id"))
	assert.Equal(t, challenge, q.Get("code_challenge"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))

	state, err := DecodeState(q.Get("state"))
	require.NoError(t, err)

	// The challenge comes back on nonce consumption so the callback can
	// check the verifier cookie.
	stored, err := co.ConsumeNonce(state.Nonce)
	require.NoError(t, err)
	assert.Equal(t, challenge, stored)
}
