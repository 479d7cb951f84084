package oauth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/mcpkit/oauth-core/instrumentation"
	"github.com/mcpkit/oauth-core/security"
)

const maxRegistrationBodyBytes = 1 << 20 // 1 MiB cap on registration payloads

// Handler is the HTTP adapter for a Provider. It parses endpoint requests,
// delegates to the Provider contract, and encodes protocol responses.
type Handler struct {
	provider     Provider
	metadata     *AuthorizationServerMetadata
	registration ClientRegistrationOptions

	logger            *slog.Logger
	rateLimiter       *security.RateLimiter
	auditor           *security.Auditor
	instrumentation   *instrumentation.Instrumentation
	tracer            trace.Tracer
	trustProxy        bool
	trustedProxyCount int
}

// NewHandler creates the HTTP handler for a provider and its derived
// discovery document. Most callers should use NewAuthRoutes instead,
// which also validates the issuer URL and binds the route table.
func NewHandler(provider Provider, metadata *AuthorizationServerMetadata, opts RouteOptions) *Handler {
	opts = opts.applyDefaults()

	h := &Handler{
		provider:          provider,
		metadata:          metadata,
		registration:      opts.ClientRegistration,
		logger:            opts.Logger,
		rateLimiter:       opts.newRateLimiter(),
		auditor:           security.NewAuditor(opts.Logger, opts.EnableAuditLogging),
		instrumentation:   opts.Instrumentation,
		trustProxy:        opts.RateLimit.TrustProxy,
		trustedProxyCount: opts.RateLimit.TrustedProxyCount,
	}

	if opts.Instrumentation != nil {
		h.tracer = opts.Instrumentation.Tracer("http")
	}

	return h
}

// ServeMetadata serves the RFC 8414 authorization server metadata
func (h *Handler) ServeMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.checkRateLimit(w, r, "metadata") {
		return
	}
	security.SetSecurityHeaders(w, h.metadata.Issuer)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.metadata)
}

// ServeAuthorize handles authorization requests (GET and POST).
// Parameter errors discovered before the redirect URI is known to be safe
// are returned as JSON; later errors are delivered to the client's
// redirect URI per RFC 6749 Section 4.1.2.1.
func (h *Handler) ServeAuthorize(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var span trace.Span
	ctx := r.Context()
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.authorize")
		defer span.End()
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		h.recordHTTPMetrics(ctx, "authorize", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.checkRateLimit(w, r, "authorize") {
		return
	}
	security.SetSecurityHeaders(w, h.metadata.Issuer)

	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrorCodeInvalidRequest, "malformed request body", http.StatusBadRequest)
		return
	}

	clientID := r.Form.Get("client_id")
	redirectURI := r.Form.Get("redirect_uri")
	responseType := r.Form.Get("response_type")
	scope := r.Form.Get("scope")
	state := r.Form.Get("state")
	codeChallenge := r.Form.Get("code_challenge")
	codeChallengeMethod := r.Form.Get("code_challenge_method")

	if clientID == "" {
		h.recordHTTPMetrics(ctx, "authorize", r.Method, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, "client_id is required", http.StatusBadRequest)
		return
	}

	client, err := h.provider.ClientsStore().GetClient(ctx, clientID)
	if err != nil {
		h.logger.Error("Client lookup failed", "client_id", clientID, "error", err)
		h.recordHTTPMetrics(ctx, "authorize", r.Method, http.StatusInternalServerError, startTime)
		h.writeError(w, ErrorCodeServerError, "failed to look up client", http.StatusInternalServerError)
		return
	}
	if client == nil {
		h.auditor.LogAuthFailure("", clientID, h.clientIP(r), "unknown_client")
		h.recordHTTPMetrics(ctx, "authorize", r.Method, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidClient, "unknown client", http.StatusBadRequest)
		return
	}

	instrumentation.SetClientID(span, clientID)

	// The redirect URI must be resolved and matched against the client's
	// registration before any error may be delivered by redirect.
	redirectURI, oerr := resolveRedirectURI(client, redirectURI)
	if oerr != nil {
		h.auditor.LogAuthFailure("", clientID, h.clientIP(r), "invalid_redirect_uri")
		h.recordHTTPMetrics(ctx, "authorize", r.Method, oerr.Status, startTime)
		h.writeOAuthError(w, oerr)
		return
	}

	if responseType != ResponseTypeCode {
		h.redirectError(w, r, redirectURI, state,
			ErrUnsupportedResponseType(fmt.Sprintf("unsupported response_type: %s", responseType)))
		return
	}
	if codeChallenge == "" {
		h.redirectError(w, r, redirectURI, state,
			ErrInvalidRequest("code_challenge is required"))
		return
	}
	if codeChallengeMethod != "" && codeChallengeMethod != PKCEMethodS256 {
		h.redirectError(w, r, redirectURI, state,
			ErrInvalidRequest(fmt.Sprintf("unsupported code_challenge_method: %s (supported: %s)", codeChallengeMethod, PKCEMethodS256)))
		return
	}

	params := &AuthorizationParams{
		State:         state,
		Scopes:        strings.Fields(scope),
		CodeChallenge: codeChallenge,
		RedirectURI:   redirectURI,
	}

	location, err := h.provider.Authorize(ctx, client, params)
	if err != nil {
		h.auditor.LogAuthFailure("", clientID, h.clientIP(r), "authorize_failed")
		h.redirectError(w, r, redirectURI, state, h.asOAuthError(err, "authorization failed"))
		return
	}

	h.logEvent(security.Event{
		Type:      security.EventAuthorizationFlowStarted,
		ClientID:  clientID,
		IPAddress: h.clientIP(r),
		Details:   map[string]any{"scope": scope},
	})
	if h.instrumentation != nil {
		h.instrumentation.Metrics().RecordAuthorizationStarted(ctx)
	}
	h.recordHTTPMetrics(ctx, "authorize", r.Method, http.StatusFound, startTime)

	http.Redirect(w, r, location, http.StatusFound)
}

// resolveRedirectURI picks and validates the redirect URI for an
// authorization request. An omitted redirect_uri is allowed only when the
// client registered exactly one.
func resolveRedirectURI(client *ClientInformation, redirectURI string) (string, *OAuthError) {
	if redirectURI == "" {
		if len(client.RedirectURIs) == 1 {
			return client.RedirectURIs[0], nil
		}
		return "", ErrInvalidRequest("redirect_uri is required when multiple redirect URIs are registered")
	}

	for _, registered := range client.RedirectURIs {
		if registered == redirectURI {
			return redirectURI, nil
		}
	}
	return "", ErrInvalidRedirectURI("redirect_uri is not registered for this client")
}

// redirectError delivers an authorization error to the client's redirect
// URI, echoing state when present
func (h *Handler) redirectError(w http.ResponseWriter, r *http.Request, redirectURI, state string, oerr *OAuthError) {
	description := AbsentParam("error_description")
	if oerr.Description != "" {
		description = Param("error_description", oerr.Description)
	}
	stateParam := AbsentParam("state")
	if state != "" {
		stateParam = Param("state", state)
	}

	location, err := ConstructRedirectURI(redirectURI,
		Param("error", oerr.Code),
		description,
		stateParam,
	)
	if err != nil {
		h.logger.Error("Failed to construct error redirect", "error", err)
		h.writeOAuthError(w, oerr)
		return
	}
	http.Redirect(w, r, location, http.StatusFound)
}

// ServeToken handles token requests, dispatching on grant_type
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var span trace.Span
	ctx := r.Context()
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.token")
		defer span.End()
	}

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.checkRateLimit(w, r, "token") {
		return
	}
	security.SetSecurityHeaders(w, h.metadata.Issuer)

	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, "malformed request body", http.StatusBadRequest)
		return
	}

	client, oerr := h.authenticateClient(ctx, r)
	if oerr != nil {
		h.auditor.LogAuthFailure("", r.PostFormValue("client_id"), h.clientIP(r), "client_authentication_failed")
		h.recordHTTPMetrics(ctx, "token", r.Method, oerr.Status, startTime)
		instrumentation.SetSpanError(span, oerr.Code)
		h.writeOAuthError(w, oerr)
		return
	}

	grantType := r.PostFormValue("grant_type")
	instrumentation.SetClientID(span, client.ClientID)
	instrumentation.SetGrantType(span, grantType)

	switch grantType {
	case GrantTypeAuthorizationCode:
		h.handleAuthorizationCodeGrant(ctx, w, r, client, startTime)
	case GrantTypeRefreshToken:
		h.handleRefreshTokenGrant(ctx, w, r, client, startTime)
	default:
		h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusBadRequest, startTime)
		h.writeOAuthError(w, ErrUnsupportedGrantType(fmt.Sprintf("unsupported grant type: %q", grantType)))
	}
}

// handleAuthorizationCodeGrant exchanges an authorization code for tokens
func (h *Handler) handleAuthorizationCodeGrant(ctx context.Context, w http.ResponseWriter, r *http.Request, client *ClientInformation, startTime time.Time) {
	code := r.PostFormValue("code")
	if code == "" {
		h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusBadRequest, startTime)
		h.writeOAuthError(w, ErrInvalidRequest("code is required"))
		return
	}
	codeVerifier := r.PostFormValue("code_verifier")
	if codeVerifier == "" {
		h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusBadRequest, startTime)
		h.writeOAuthError(w, ErrInvalidRequest("code_verifier is required"))
		return
	}

	record, err := h.provider.LoadAuthorizationCode(ctx, client, code)
	if err != nil {
		h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusInternalServerError, startTime)
		h.writeOAuthError(w, h.asOAuthError(err, "failed to load authorization code"))
		return
	}
	if record == nil {
		h.auditor.LogAuthFailure("", client.ClientID, h.clientIP(r), "invalid_authorization_code")
		h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusBadRequest, startTime)
		h.writeOAuthError(w, ErrInvalidGrant("authorization code is invalid or expired"))
		return
	}

	if redirectURI := r.PostFormValue("redirect_uri"); redirectURI != record.RedirectURI {
		h.auditor.LogAuthFailure("", client.ClientID, h.clientIP(r), "redirect_uri_mismatch")
		h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusBadRequest, startTime)
		h.writeOAuthError(w, ErrInvalidGrant("redirect_uri does not match the authorization request"))
		return
	}

	if err := validatePKCE(record.CodeChallenge, codeVerifier); err != nil {
		h.logEvent(security.Event{
			Type:      security.EventInvalidPKCE,
			ClientID:  client.ClientID,
			IPAddress: h.clientIP(r),
			Details:   map[string]any{"reason": err.Error()},
		})
		h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusBadRequest, startTime)
		h.writeOAuthError(w, ErrInvalidGrant(err.Error()))
		return
	}

	tokens, err := h.provider.ExchangeAuthorizationCode(ctx, client, record)
	if err != nil {
		oerr := h.asOAuthError(err, "failed to exchange authorization code")
		h.auditor.LogAuthFailure("", client.ClientID, h.clientIP(r), oerr.Code)
		h.recordHTTPMetrics(ctx, "token", r.Method, oerr.Status, startTime)
		h.writeOAuthError(w, oerr)
		return
	}

	h.auditor.LogTokenIssued("", client.ClientID, h.clientIP(r), tokens.Scope)
	if h.instrumentation != nil {
		h.instrumentation.Metrics().RecordCodeExchanged(ctx)
	}
	h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusOK, startTime)

	h.writeTokenResponse(w, tokens)
}

// handleRefreshTokenGrant exchanges a refresh token for a new access token
func (h *Handler) handleRefreshTokenGrant(ctx context.Context, w http.ResponseWriter, r *http.Request, client *ClientInformation, startTime time.Time) {
	refreshToken := r.PostFormValue("refresh_token")
	if refreshToken == "" {
		h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusBadRequest, startTime)
		h.writeOAuthError(w, ErrInvalidRequest("refresh_token is required"))
		return
	}

	record, err := h.provider.LoadRefreshToken(ctx, client, refreshToken)
	if err != nil {
		h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusInternalServerError, startTime)
		h.writeOAuthError(w, h.asOAuthError(err, "failed to load refresh token"))
		return
	}
	if record == nil {
		h.auditor.LogAuthFailure("", client.ClientID, h.clientIP(r), "invalid_refresh_token")
		h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusBadRequest, startTime)
		h.writeOAuthError(w, ErrInvalidGrant("refresh token is invalid or expired"))
		return
	}

	scopes := strings.Fields(r.PostFormValue("scope"))

	tokens, err := h.provider.ExchangeRefreshToken(ctx, client, record, scopes)
	if err != nil {
		oerr := h.asOAuthError(err, "failed to exchange refresh token")
		h.auditor.LogAuthFailure("", client.ClientID, h.clientIP(r), oerr.Code)
		h.recordHTTPMetrics(ctx, "token", r.Method, oerr.Status, startTime)
		h.writeOAuthError(w, oerr)
		return
	}

	h.auditor.LogTokenRefreshed("", client.ClientID, h.clientIP(r), tokens.RefreshToken != refreshToken)
	if h.instrumentation != nil {
		h.instrumentation.Metrics().RecordTokenRefreshed(ctx)
	}
	h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusOK, startTime)

	h.writeTokenResponse(w, tokens)
}

// ServeRegister handles dynamic client registration (RFC 7591)
func (h *Handler) ServeRegister(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.checkRateLimit(w, r, "register") {
		return
	}
	security.SetSecurityHeaders(w, h.metadata.Issuer)

	var req ClientRegistrationRequest
	body := http.MaxBytesReader(w, r.Body, maxRegistrationBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		h.recordHTTPMetrics(ctx, "register", r.Method, http.StatusBadRequest, startTime)
		h.writeOAuthError(w, ErrInvalidClientMetadata("request body is not valid JSON"))
		return
	}

	info, secret, oerr := h.buildClientRegistration(&req)
	if oerr != nil {
		h.recordHTTPMetrics(ctx, "register", r.Method, oerr.Status, startTime)
		h.writeOAuthError(w, oerr)
		return
	}

	if err := h.provider.ClientsStore().RegisterClient(ctx, info); err != nil {
		oerr := h.asOAuthError(err, "failed to register client")
		h.logger.Warn("Client registration rejected", "client_name", req.ClientName, "error", err)
		h.recordHTTPMetrics(ctx, "register", r.Method, oerr.Status, startTime)
		h.writeOAuthError(w, oerr)
		return
	}

	h.logEvent(security.Event{
		Type:      security.EventClientRegistered,
		ClientID:  info.ClientID,
		IPAddress: h.clientIP(r),
		Details:   map[string]any{"client_name": info.ClientName},
	})
	if h.instrumentation != nil {
		h.instrumentation.Metrics().RecordClientRegistered(ctx)
	}
	h.recordHTTPMetrics(ctx, "register", r.Method, http.StatusCreated, startTime)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(ClientRegistrationResponse{
		ClientID:                info.ClientID,
		ClientSecret:            secret,
		ClientIDIssuedAt:        info.ClientIDIssuedAt,
		ClientSecretExpiresAt:   info.ClientSecretExpiresAt,
		RedirectURIs:            info.RedirectURIs,
		TokenEndpointAuthMethod: info.TokenEndpointAuthMethod,
		GrantTypes:              info.GrantTypes,
		ResponseTypes:           info.ResponseTypes,
		ClientName:              info.ClientName,
		Scope:                   info.Scope,
	})
}

// buildClientRegistration validates a registration request against the
// registration policy and mints the client identity. The returned secret
// is the plaintext handed back to the registrant once; info carries the
// same value for stores that keep secrets in the clear.
func (h *Handler) buildClientRegistration(req *ClientRegistrationRequest) (*ClientInformation, string, *OAuthError) {
	if len(req.RedirectURIs) == 0 {
		return nil, "", ErrInvalidClientMetadata("at least one redirect_uri is required")
	}
	for _, raw := range req.RedirectURIs {
		parsed, err := url.Parse(raw)
		if err != nil || !parsed.IsAbs() {
			return nil, "", ErrInvalidRedirectURI(fmt.Sprintf("redirect_uri is not an absolute URL: %s", raw))
		}
		if parsed.Fragment != "" {
			return nil, "", ErrInvalidRedirectURI(fmt.Sprintf("redirect_uri must not contain a fragment: %s", raw))
		}
	}

	authMethod := req.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = AuthMethodClientSecretPost
	}
	if authMethod != AuthMethodClientSecretPost && authMethod != AuthMethodNone {
		return nil, "", ErrInvalidClientMetadata(fmt.Sprintf("unsupported token_endpoint_auth_method: %s", authMethod))
	}

	grantTypes := req.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken}
	}
	for _, gt := range grantTypes {
		if gt != GrantTypeAuthorizationCode && gt != GrantTypeRefreshToken {
			return nil, "", ErrInvalidClientMetadata(fmt.Sprintf("unsupported grant_type: %s", gt))
		}
	}

	responseTypes := req.ResponseTypes
	if len(responseTypes) == 0 {
		responseTypes = []string{ResponseTypeCode}
	}
	for _, rt := range responseTypes {
		if rt != ResponseTypeCode {
			return nil, "", ErrInvalidClientMetadata(fmt.Sprintf("unsupported response_type: %s", rt))
		}
	}

	scopes := strings.Fields(req.Scope)
	if len(scopes) == 0 {
		scopes = h.registration.DefaultScopes
	}
	if len(h.registration.ValidScopes) > 0 {
		for _, s := range scopes {
			if !containsString(h.registration.ValidScopes, s) {
				return nil, "", ErrInvalidClientMetadata(fmt.Sprintf("unsupported scope: %s", s))
			}
		}
	}

	now := time.Now()
	info := &ClientInformation{
		ClientID:                generateSecureToken(),
		ClientIDIssuedAt:        now.Unix(),
		RedirectURIs:            req.RedirectURIs,
		TokenEndpointAuthMethod: authMethod,
		GrantTypes:              grantTypes,
		ResponseTypes:           responseTypes,
		ClientName:              req.ClientName,
		ClientURI:               req.ClientURI,
		Scope:                   strings.Join(scopes, " "),
	}

	var secret string
	if authMethod != AuthMethodNone {
		secret = generateSecureToken()
		info.ClientSecret = secret
		if h.registration.ClientSecretExpiry > 0 {
			info.ClientSecretExpiresAt = now.Add(h.registration.ClientSecretExpiry).Unix()
		}
	}

	return info, secret, nil
}

// ServeRevoke handles token revocation (RFC 7009). Revocation of unknown
// or already-revoked tokens reports success.
func (h *Handler) ServeRevoke(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.checkRateLimit(w, r, "revoke") {
		return
	}
	security.SetSecurityHeaders(w, h.metadata.Issuer)

	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrorCodeInvalidRequest, "malformed request body", http.StatusBadRequest)
		return
	}

	client, oerr := h.authenticateClient(ctx, r)
	if oerr != nil {
		h.auditor.LogAuthFailure("", r.PostFormValue("client_id"), h.clientIP(r), "client_authentication_failed")
		h.recordHTTPMetrics(ctx, "revoke", r.Method, oerr.Status, startTime)
		h.writeOAuthError(w, oerr)
		return
	}

	token := r.PostFormValue("token")
	if token == "" {
		h.recordHTTPMetrics(ctx, "revoke", r.Method, http.StatusBadRequest, startTime)
		h.writeOAuthError(w, ErrInvalidRequest("token is required"))
		return
	}

	hint := r.PostFormValue("token_type_hint")
	if hint != "" && hint != TokenTypeHintAccessToken && hint != TokenTypeHintRefreshToken {
		h.recordHTTPMetrics(ctx, "revoke", r.Method, http.StatusBadRequest, startTime)
		h.writeOAuthError(w, ErrInvalidRequest(fmt.Sprintf("unsupported token_type_hint: %s", hint)))
		return
	}

	if err := h.provider.RevokeToken(ctx, client, &TokenRevocationRequest{Token: token, TokenTypeHint: hint}); err != nil {
		oerr := h.asOAuthError(err, "revocation failed")
		h.recordHTTPMetrics(ctx, "revoke", r.Method, oerr.Status, startTime)
		h.writeOAuthError(w, oerr)
		return
	}

	h.auditor.LogTokenRevoked("", client.ClientID, h.clientIP(r), hint)
	if h.instrumentation != nil {
		h.instrumentation.Metrics().RecordTokenRevoked(ctx)
	}
	h.recordHTTPMetrics(ctx, "revoke", r.Method, http.StatusOK, startTime)

	w.WriteHeader(http.StatusOK)
}

// authenticateClient authenticates the requesting client from form
// parameters (client_secret_post). Public clients registered with auth
// method "none" authenticate by client_id alone.
func (h *Handler) authenticateClient(ctx context.Context, r *http.Request) (*ClientInformation, *OAuthError) {
	clientID := r.PostFormValue("client_id")
	if clientID == "" {
		return nil, ErrInvalidClient("client_id is required")
	}
	clientSecret := r.PostFormValue("client_secret")

	store := h.provider.ClientsStore()
	client, err := store.GetClient(ctx, clientID)
	if err != nil {
		h.logger.Error("Client lookup failed", "client_id", clientID, "error", err)
		return nil, ErrServerError("failed to look up client")
	}
	if client == nil {
		return nil, ErrInvalidClient("unknown client")
	}

	if client.TokenEndpointAuthMethod == AuthMethodNone {
		return client, nil
	}

	if validator, ok := store.(SecretValidator); ok {
		if err := validator.ValidateClientSecret(ctx, clientID, clientSecret); err != nil {
			return nil, h.asOAuthError(err, "client authentication failed")
		}
		return client, nil
	}

	if clientSecret == "" {
		return nil, ErrInvalidClient("client_secret is required")
	}
	if subtle.ConstantTimeCompare([]byte(client.ClientSecret), []byte(clientSecret)) != 1 {
		return nil, ErrInvalidClient("invalid client_secret")
	}
	if client.ClientSecretExpiresAt != 0 && time.Now().Unix() > client.ClientSecretExpiresAt {
		return nil, ErrInvalidClient("client secret has expired")
	}

	return client, nil
}

// validatePKCE validates a PKCE code verifier against an S256 challenge
// per RFC 7636
func validatePKCE(challenge, verifier string) error {
	// RFC 7636: code_verifier must be 43-128 characters of [A-Za-z0-9-._~]
	if len(verifier) < 43 {
		return fmt.Errorf("code_verifier must be at least 43 characters")
	}
	if len(verifier) > 128 {
		return fmt.Errorf("code_verifier must be at most 128 characters")
	}
	for _, ch := range verifier {
		if (ch < 'A' || ch > 'Z') && (ch < 'a' || ch > 'z') && (ch < '0' || ch > '9') &&
			ch != '-' && ch != '.' && ch != '_' && ch != '~' {
			return fmt.Errorf("code_verifier contains invalid characters")
		}
	}

	hash := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(hash[:])

	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return fmt.Errorf("code_verifier does not match code_challenge")
	}
	return nil
}

// checkRateLimit applies the per-IP rate limit. Returns true if the
// request was rejected and a response written.
func (h *Handler) checkRateLimit(w http.ResponseWriter, r *http.Request, endpoint string) bool {
	if h.rateLimiter == nil {
		return false
	}

	clientIP := h.clientIP(r)
	if h.rateLimiter.Allow(clientIP) {
		return false
	}

	h.logger.Warn("Rate limit exceeded", "ip", clientIP, "endpoint", endpoint)
	if h.instrumentation != nil {
		h.instrumentation.Metrics().RecordRateLimitExceeded(r.Context(), "ip")
	}
	h.logEvent(security.Event{
		Type:      security.EventRateLimitExceeded,
		IPAddress: clientIP,
		Details:   map[string]any{"endpoint": endpoint},
	})

	w.Header().Set("Retry-After", "60")
	http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
	return true
}

func (h *Handler) clientIP(r *http.Request) string {
	return security.GetClientIP(r, h.trustProxy, h.trustedProxyCount)
}

func (h *Handler) logEvent(event security.Event) {
	if h.auditor != nil {
		h.auditor.LogEvent(event)
	}
}

// asOAuthError maps a provider error to a protocol error. Errors that are
// already *OAuthError pass through so the caller reports the exact kind;
// anything else becomes an opaque server_error.
func (h *Handler) asOAuthError(err error, fallback string) *OAuthError {
	var oerr *OAuthError
	if errors.As(err, &oerr) {
		return oerr
	}
	h.logger.Error("Unexpected provider error", "error", err)
	return ErrServerError(fallback)
}

// writeTokenResponse encodes a successful token response. Token responses
// must never be cached (RFC 6749 Section 5.1).
func (h *Handler) writeTokenResponse(w http.ResponseWriter, tokens *TokenResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	_ = json.NewEncoder(w).Encode(tokens)
}

func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: code, ErrorDescription: description})
}

func (h *Handler) writeOAuthError(w http.ResponseWriter, oerr *OAuthError) {
	h.writeError(w, oerr.Code, oerr.Description, oerr.Status)
}

func (h *Handler) recordHTTPMetrics(ctx context.Context, endpoint, method string, status int, startTime time.Time) {
	if h.instrumentation == nil {
		return
	}
	h.instrumentation.Metrics().RecordHTTPRequest(ctx, endpoint, method, status, time.Since(startTime))
}

// generateSecureToken returns a cryptographically secure random token.
// oauth2.GenerateVerifier produces 256 bits of entropy, comfortably above
// the 160-bit floor recommended for authorization codes by RFC 6749.
func generateSecureToken() string {
	return oauth2.GenerateVerifier()
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
