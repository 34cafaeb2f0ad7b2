package echo

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/tryliate/byoi/cache"
	"github.com/tryliate/byoi/config"
	"github.com/tryliate/byoi/domain"
	serrors "github.com/tryliate/byoi/errors"
	"github.com/tryliate/byoi/internal/authflow"
	"github.com/tryliate/byoi/internal/pipeline"
)

const (
	// HandoffCookieName carries the short-lived setup token minted after a
	// successful callback. The provisioning endpoints accept it in place of
	// an explicit user id.
	HandoffCookieName = "trymate_setup_token"

	// VerifierCookieName holds the PKCE code verifier between the two legs
	// of the project-level neural handshake.
	VerifierCookieName = "mcp_code_verifier"

	msgTypeAuth   = "supabase:auth"
	msgTypeNeural = "neural:handshake"
)

// InfraAPI exposes the infrastructure-linking flow over HTTP: the OAuth
// callback pair, the streaming provisioning endpoint, and the registry
// management endpoints.
type InfraAPI struct {
	coordinator *authflow.Coordinator
	flow        *pipeline.Pipeline
	identities  domain.IdentityRepository
	registry    domain.RegistryRepository // nil when no registry store is configured
	handoffs    cache.HandoffStore
	handoffTTL  time.Duration
	provider    string
}

// NewInfraAPI wires the API. registry may be nil.
func NewInfraAPI(
	cfg config.Config,
	coordinator *authflow.Coordinator,
	flow *pipeline.Pipeline,
	identities domain.IdentityRepository,
	registry domain.RegistryRepository,
	handoffs cache.HandoffStore,
) *InfraAPI {
	return &InfraAPI{
		coordinator: coordinator,
		flow:        flow,
		identities:  identities,
		registry:    registry,
		handoffs:    handoffs,
		handoffTTL:  cfg.Pipeline.HandoffTTL,
		provider:    "supabase",
	}
}

// RegisterRoutes registers the infrastructure routes.
func (a *InfraAPI) RegisterRoutes(e *echo.Echo) {
	e.GET("/auth/authorize", a.AuthorizeHandler)
	e.GET(authflow.CallbackPath, a.CallbackHandler)
	e.GET(authflow.NeuralCallbackPath, a.NeuralCallbackHandler)

	e.POST("/api/infrastructure/provision", a.ProvisionHandler)
	e.POST("/api/infrastructure/sync", a.SyncHandler)
	e.POST("/api/infrastructure/reset", a.ResetHandler)

	e.POST("/api/registry/authorize", a.RegistryAuthorizeHandler)

	e.GET("/healthz", a.HealthHandler)
}

// AuthorizeHandler builds the provider authorization URL for the requesting
// user and redirects the browser to it. With flow=neural it instead starts
// the PKCE handshake against the user's own provisioned project.
func (a *InfraAPI) AuthorizeHandler(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return c.JSON(http.StatusBadRequest, serrors.NewMissingParameters("user_id is required"))
	}
	returnPath := authflow.SafeReturnPath(c.QueryParam("next"))
	origin := a.coordinator.ResolveOrigin(c.Request())

	if c.QueryParam("flow") == "neural" {
		return a.neuralAuthorize(c, userID, returnPath, origin)
	}

	authorizeURL, _ := a.coordinator.BuildAuthorizeURL(userID, returnPath, origin)
	return c.Redirect(http.StatusFound, authorizeURL)
}

func (a *InfraAPI) neuralAuthorize(c echo.Context, userID, returnPath, origin string) error {
	record, err := a.identities.GetByUserID(c.Request().Context(), userID)
	if err != nil || record.SupabaseProjectID == "" {
		return c.JSON(http.StatusConflict,
			serrors.NewInvalidState("no provisioned project for this user"))
	}

	verifier := oauth2.GenerateVerifier()
	c.SetCookie(&http.Cookie{
		Name:     VerifierCookieName,
		Value:    verifier,
		Path:     authflow.NeuralCallbackPath,
		MaxAge:   int(10 * time.Minute / time.Second),
		HttpOnly: true,
		Secure:   isSecureOrigin(origin),
		SameSite: http.SameSiteLaxMode,
	})

	authorizeURL := a.coordinator.BuildNeuralAuthorizeURL(
		userID, returnPath, origin, record.SupabaseProjectID, authflow.ChallengeS256(verifier))
	return c.Redirect(http.StatusFound, authorizeURL)
}

// CallbackHandler completes the management-API authorization flow: it
// validates the callback, exchanges the code, persists the credentials across
// both vault stores, mints a handoff session cookie, and renders a terminal
// status page that notifies the opening window.
func (a *InfraAPI) CallbackHandler(c echo.Context) error {
	ctx := c.Request().Context()
	origin := a.coordinator.ResolveOrigin(c.Request())

	// A provider-reported denial arrives without a code. Terminal, nothing
	// to exchange.
	if provErr := c.QueryParam("error"); provErr != "" {
		log.Warn().Str("error", provErr).
			Str("description", c.QueryParam("error_description")).
			Msg("authorization denied by provider")
		return a.renderFailure(c, msgTypeAuth, provErr, origin, "The provider rejected the authorization request.")
	}

	code := c.QueryParam("code")
	rawState := c.QueryParam("state")
	if code == "" || rawState == "" {
		return a.renderFailure(c, msgTypeAuth, serrors.MissingParameters, origin,
			"The callback is missing its code or state parameter.")
	}

	state, err := authflow.DecodeState(rawState)
	if err != nil {
		return a.renderFailure(c, msgTypeAuth, serrors.InvalidState, origin,
			"The state parameter could not be verified.")
	}
	if _, err := a.coordinator.ConsumeNonce(state.Nonce); err != nil {
		return a.renderFailure(c, msgTypeAuth, serrors.InvalidState, origin,
			"This authorization response was already processed.")
	}

	tokens, err := a.coordinator.Exchange(ctx, code, origin+authflow.CallbackPath)
	if err != nil {
		log.Error().Err(err).Str("user_id", state.UserID).Msg("token exchange failed")
		return a.renderFailure(c, msgTypeAuth, errorCode(err), origin,
			"The authorization code could not be exchanged.")
	}

	a.flow.Vault().BeginOperation(ctx, state.UserID)
	if err := a.flow.Vault().Persist(ctx, state.UserID, tokens); err != nil {
		log.Error().Err(err).Str("user_id", state.UserID).Msg("credential persistence failed")
		return a.renderFailure(c, msgTypeAuth, errorCode(err), origin,
			"The credentials could not be stored.")
	}

	a.issueHandoffCookie(c, origin, state.UserID, tokens.AccessToken)

	continueURL := state.ReturnPath
	log.Info().Str("user_id", state.UserID).Msg("infrastructure provider connected")
	return a.renderSuccess(c, msgTypeAuth, origin, "Provider connected. You can close this window.", continueURL)
}

// NeuralCallbackHandler completes the project-level PKCE handshake. The code
// verifier travels in a scoped cookie set at authorize time; the exchanged
// token is recorded in the authorization registry when one is configured.
func (a *InfraAPI) NeuralCallbackHandler(c echo.Context) error {
	ctx := c.Request().Context()
	origin := a.coordinator.ResolveOrigin(c.Request())

	if provErr := c.QueryParam("error"); provErr != "" {
		return a.renderFailure(c, msgTypeNeural, provErr, origin, "The neural handshake was rejected.")
	}

	code := c.QueryParam("code")
	rawState := c.QueryParam("state")
	if code == "" || rawState == "" {
		return a.renderFailure(c, msgTypeNeural, serrors.MissingParameters, origin,
			"The callback is missing its code or state parameter.")
	}

	state, err := authflow.DecodeState(rawState)
	if err != nil {
		return a.renderFailure(c, msgTypeNeural, serrors.InvalidState, origin,
			"The state parameter could not be verified.")
	}
	challenge, err := a.coordinator.ConsumeNonce(state.Nonce)
	if err != nil {
		return a.renderFailure(c, msgTypeNeural, serrors.InvalidState, origin,
			"This handshake response was already processed.")
	}

	verifierCookie, err := c.Cookie(VerifierCookieName)
	if err != nil || verifierCookie.Value == "" {
		return a.renderFailure(c, msgTypeNeural, serrors.InvalidState, origin,
			"The handshake verifier cookie is missing.")
	}
	if err := authflow.ValidateVerifier(challenge, verifierCookie.Value); err != nil {
		return a.renderFailure(c, msgTypeNeural, serrors.InvalidState, origin,
			"The handshake verifier does not match.")
	}

	record, err := a.identities.GetByUserID(ctx, state.UserID)
	if err != nil || record.SupabaseProjectID == "" {
		return a.renderFailure(c, msgTypeNeural, serrors.InvalidState, origin,
			"No provisioned project found for this handshake.")
	}

	tokens, err := a.coordinator.ExchangeTenant(ctx,
		record.SupabaseProjectID, code, verifierCookie.Value, origin+authflow.NeuralCallbackPath)
	if err != nil {
		log.Error().Err(err).Str("user_id", state.UserID).Msg("neural token exchange failed")
		return a.renderFailure(c, msgTypeNeural, errorCode(err), origin,
			"The handshake code could not be exchanged.")
	}

	a.clearCookie(c, VerifierCookieName, authflow.NeuralCallbackPath)

	if a.registry != nil {
		entry := &domain.AuthorizationRegistryEntry{
			UserID:          state.UserID,
			Provider:        "neural",
			AccessToken:     tokens.AccessToken,
			RefreshToken:    tokens.RefreshToken,
			Status:          domain.AuthorizationStatusActive,
			Scopes:          tokens.Scopes,
			LastHandshakeAt: time.Now().UTC(),
		}
		if err := a.registry.Upsert(ctx, entry); err != nil {
			log.Warn().Err(err).Str("user_id", state.UserID).Msg("registry upsert failed after neural handshake")
		}
	}

	log.Info().Str("user_id", state.UserID).Msg("neural handshake completed")
	return a.renderSuccess(c, msgTypeNeural, origin, "NEURAL LINK ESTABLISHED", state.ReturnPath)
}

// provisionRequest identifies the acting user when no handoff cookie is
// present. AccessToken is optional; the vaulted token is used when absent.
type provisionRequest struct {
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token,omitempty"`
}

func (a *InfraAPI) resolveUser(c echo.Context) (userID, accessToken string, ok bool) {
	if cookie, err := c.Cookie(HandoffCookieName); err == nil && cookie.Value != "" {
		session, err := a.handoffs.Get(c.Request().Context(), cookie.Value)
		if err == nil {
			return session.UserID, session.AccessToken, true
		}
		log.Debug().Err(err).Msg("handoff cookie rejected")
	}

	var req provisionRequest
	if err := c.Bind(&req); err == nil && req.UserID != "" {
		return req.UserID, req.AccessToken, true
	}
	return "", "", false
}

// ProvisionHandler runs the full provisioning pipeline and streams progress
// as newline-delimited JSON events. The terminal event is either success or
// the flow error that stopped the run; the HTTP status is always 200 because
// the stream is already committed when later stages fail.
func (a *InfraAPI) ProvisionHandler(c echo.Context) error {
	userID, accessToken, ok := a.resolveUser(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, serrors.NewMissingParameters("no handoff session or user_id"))
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "application/x-ndjson")
	resp.WriteHeader(http.StatusOK)

	rep := pipeline.NewJSONLineReporter(resp)
	if _, err := a.flow.Provision(c.Request().Context(), userID, accessToken, rep); err != nil {
		rep.Error(err.Error())
	}
	return nil
}

// SyncHandler re-runs the pipeline for a user whose earlier run persisted
// credentials but did not reach the initialized state. The pipeline is
// convergent, so a completed setup returns immediately.
func (a *InfraAPI) SyncHandler(c echo.Context) error {
	userID, accessToken, ok := a.resolveUser(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, serrors.NewMissingParameters("no handoff session or user_id"))
	}

	outcome, err := a.flow.Provision(c.Request().Context(), userID, accessToken, pipeline.NopReporter{})
	if err != nil {
		return flowErrorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"project_id":  outcome.Project.ID,
		"degraded":    outcome.Degraded,
		"initialized": outcome.Initialized,
	})
}

// resetRequest optionally carries the database password so the remote schema
// can be dropped before the project is deleted. The password is never stored,
// so only the client that received it at setup time can supply it.
type resetRequest struct {
	UserID     string `json:"user_id"`
	DBPassword string `json:"db_password,omitempty"`
}

// ResetHandler tears down the user's provisioned infrastructure link: remote
// schema drop and project deletion are attempted best effort, local vault
// state is cleared authoritatively, and the handoff session is invalidated.
func (a *InfraAPI) ResetHandler(c echo.Context) error {
	var req resetRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, serrors.NewMissingParameters("malformed reset request"))
	}

	userID := req.UserID
	if cookie, err := c.Cookie(HandoffCookieName); err == nil && cookie.Value != "" {
		if session, sessErr := a.handoffs.Get(c.Request().Context(), cookie.Value); sessErr == nil {
			userID = session.UserID
		}
	}
	if userID == "" {
		return c.JSON(http.StatusUnauthorized, serrors.NewMissingParameters("no handoff session or user_id"))
	}

	if err := a.flow.Reset(c.Request().Context(), userID, req.DBPassword); err != nil {
		return flowErrorJSON(c, err)
	}

	if cookie, err := c.Cookie(HandoffCookieName); err == nil && cookie.Value != "" {
		if err := a.handoffs.Delete(c.Request().Context(), cookie.Value); err != nil {
			log.Debug().Err(err).Msg("handoff session delete failed during reset")
		}
	}
	a.clearCookie(c, HandoffCookieName, "/")

	return c.JSON(http.StatusOK, map[string]string{"status": "reset"})
}

type registryAuthorizeRequest struct {
	UserID   string   `json:"user_id"`
	Provider string   `json:"provider"`
	Scopes   []string `json:"scopes"`
}

// RegistryAuthorizeHandler records a platform-managed authorization grant in
// the registry without an external token exchange.
func (a *InfraAPI) RegistryAuthorizeHandler(c echo.Context) error {
	if a.registry == nil {
		return c.JSON(http.StatusServiceUnavailable,
			serrors.NewVaultWriteFailed("authorization registry is not configured"))
	}

	var req registryAuthorizeRequest
	if err := c.Bind(&req); err != nil || req.UserID == "" || req.Provider == "" {
		return c.JSON(http.StatusBadRequest, serrors.NewMissingParameters("user_id and provider are required"))
	}

	entry := &domain.AuthorizationRegistryEntry{
		UserID:          req.UserID,
		Provider:        req.Provider,
		AccessToken:     "BYOI_MANAGED",
		Status:          domain.AuthorizationStatusActive,
		Scopes:          req.Scopes,
		LastHandshakeAt: time.Now().UTC(),
	}
	if err := a.registry.Upsert(c.Request().Context(), entry); err != nil {
		log.Error().Err(err).Str("user_id", req.UserID).Str("provider", req.Provider).
			Msg("registry authorize failed")
		return c.JSON(http.StatusInternalServerError, serrors.NewVaultWriteFailed(err.Error()))
	}

	return c.JSON(http.StatusOK, map[string]any{
		"user_id":  entry.UserID,
		"provider": entry.Provider,
		"status":   entry.Status,
		"scopes":   entry.Scopes,
	})
}

// HealthHandler reports liveness.
func (a *InfraAPI) HealthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (a *InfraAPI) issueHandoffCookie(c echo.Context, origin, userID, accessToken string) {
	token := uuid.NewString()
	now := time.Now().UTC()
	session := &cache.HandoffSession{
		UserID:      userID,
		AccessToken: accessToken,
		CreatedAt:   now,
		ExpiresAt:   now.Add(a.handoffTTL),
	}
	if err := a.handoffs.Set(c.Request().Context(), token, session); err != nil {
		// The cookie is a convenience; provisioning still works with an
		// explicit user_id in the request body.
		log.Warn().Err(err).Str("user_id", userID).Msg("failed to store handoff session")
		return
	}

	c.SetCookie(&http.Cookie{
		Name:     HandoffCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(a.handoffTTL / time.Second),
		HttpOnly: true,
		Secure:   isSecureOrigin(origin),
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *InfraAPI) clearCookie(c echo.Context, name, path string) {
	c.SetCookie(&http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		MaxAge:   -1,
		HttpOnly: true,
	})
}

func (a *InfraAPI) renderSuccess(c echo.Context, msgType, origin, message, continueURL string) error {
	return a.renderPage(c, http.StatusOK, statusPage{
		Title:       "Connection established",
		Heading:     "LINK ESTABLISHED",
		Message:     message,
		Success:     true,
		MessageType: msgType,
		Origin:      origin,
		ContinueURL: authflow.SafeReturnPath(continueURL),
	})
}

func (a *InfraAPI) renderFailure(c echo.Context, msgType, code, origin, message string) error {
	return a.renderPage(c, http.StatusOK, statusPage{
		Title:       "Connection failed",
		Heading:     "LINK FAILED",
		Message:     message,
		Success:     false,
		MessageType: msgType,
		ErrorCode:   code,
		Origin:      origin,
	})
}

func (a *InfraAPI) renderPage(c echo.Context, status int, page statusPage) error {
	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	resp.WriteHeader(status)
	if err := statusPageTmpl.Execute(resp, page); err != nil {
		log.Error().Err(err).Msg("failed to render status page")
	}
	return nil
}

func isSecureOrigin(origin string) bool {
	return len(origin) >= 8 && origin[:8] == "https://"
}

func errorCode(err error) string {
	var fe *serrors.FlowError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return serrors.TokenExchangeFailed
}

func flowErrorJSON(c echo.Context, err error) error {
	var fe *serrors.FlowError
	if errors.As(err, &fe) {
		status := http.StatusBadGateway
		switch fe.Code {
		case serrors.MissingParameters, serrors.InvalidState:
			status = http.StatusBadRequest
		case serrors.NoOrganization, serrors.QuotaExceeded, serrors.DegradedProvisioning:
			status = http.StatusConflict
		}
		return c.JSON(status, fe)
	}
	return c.JSON(http.StatusInternalServerError, serrors.NewVaultWriteFailed(err.Error()))
}
