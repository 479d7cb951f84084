package memory

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	oauth "github.com/mcpkit/oauth-core"
)

const (
	// defaultCodeTTL is the lifetime of issued authorization codes.
	// RFC 6749 recommends a maximum of 10 minutes; we stay well under.
	defaultCodeTTL = 5 * time.Minute

	// defaultAccessTokenTTL is the lifetime of issued access tokens
	defaultAccessTokenTTL = time.Hour

	// defaultCleanupInterval is how often expired artifacts are purged
	defaultCleanupInterval = time.Minute
)

// accessTokenRecord is the stored form of an issued access token
type accessTokenRecord struct {
	clientID  string
	subject   string
	scopes    []string
	expiresAt time.Time
}

// Provider is an in-memory OAuth provider. It issues opaque tokens and
// keeps all flow state in process memory, guarded by a single mutex.
//
// Authorization is headless: Authorize mints a code immediately and
// redirects straight back to the client, with no user interaction step.
// That makes it useful for tests and for deployments where an upstream
// gateway has already authenticated the user.
type Provider struct {
	mu sync.Mutex

	clients *ClientStore

	authCodes     map[string]*oauth.AuthorizationCode
	accessTokens  map[string]*accessTokenRecord
	refreshTokens map[string]*oauth.RefreshToken
	// refresh token value -> access tokens minted from it, so revoking
	// a refresh token also revokes its access tokens (RFC 7009 guidance)
	accessByRefresh map[string][]string

	codeTTL        time.Duration
	accessTokenTTL time.Duration

	subject string
	logger  *slog.Logger

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

var _ oauth.Provider = (*Provider)(nil)

// Option configures a Provider
type Option func(*Provider)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) { p.logger = logger }
}

// WithSubject sets the subject attached to issued tokens. The in-memory
// provider has no user login step, so every token acts on behalf of the
// one configured identity. Defaults to "anonymous".
func WithSubject(subject string) Option {
	return func(p *Provider) { p.subject = subject }
}

// WithAccessTokenTTL sets the lifetime of issued access tokens
func WithAccessTokenTTL(ttl time.Duration) Option {
	return func(p *Provider) {
		if ttl > 0 {
			p.accessTokenTTL = ttl
		}
	}
}

// WithCodeTTL sets the lifetime of issued authorization codes
func WithCodeTTL(ttl time.Duration) Option {
	return func(p *Provider) {
		if ttl > 0 {
			p.codeTTL = ttl
		}
	}
}

// WithCleanupInterval sets how often expired codes and tokens are purged
func WithCleanupInterval(interval time.Duration) Option {
	return func(p *Provider) {
		if interval > 0 {
			p.cleanupInterval = interval
		}
	}
}

// NewProvider creates an in-memory provider and starts its background
// cleanup goroutine. Call Stop when done with it.
func NewProvider(opts ...Option) *Provider {
	p := &Provider{
		clients:         NewClientStore(),
		authCodes:       make(map[string]*oauth.AuthorizationCode),
		accessTokens:    make(map[string]*accessTokenRecord),
		refreshTokens:   make(map[string]*oauth.RefreshToken),
		accessByRefresh: make(map[string][]string),
		codeTTL:         defaultCodeTTL,
		accessTokenTTL:  defaultAccessTokenTTL,
		subject:         "anonymous",
		logger:          slog.Default(),
		cleanupInterval: defaultCleanupInterval,
		stopCleanup:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.clients.SetLogger(p.logger)

	go p.cleanupLoop()
	return p
}

// Stop terminates the background cleanup goroutine. Safe to call twice.
func (p *Provider) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCleanup)
	})
}

// ClientsStore returns the client registry
func (p *Provider) ClientsStore() oauth.ClientsStore {
	return p.clients
}

// Authorize mints an authorization code for the request and returns the
// client's redirect URI with code and state attached. There is no
// interactive consent step.
func (p *Provider) Authorize(ctx context.Context, client *oauth.ClientInformation, params *oauth.AuthorizationParams) (string, error) {
	if client == nil {
		return "", oauth.ErrInvalidClient("client is required")
	}
	if params == nil || params.RedirectURI == "" {
		return "", oauth.ErrInvalidRequest("redirect_uri is required")
	}
	if params.CodeChallenge == "" {
		return "", oauth.ErrInvalidRequest("code_challenge is required")
	}

	code := &oauth.AuthorizationCode{
		Code:          oauth2.GenerateVerifier(),
		Scopes:        append([]string(nil), params.Scopes...),
		ExpiresAt:     time.Now().Add(p.codeTTL),
		ClientID:      client.ClientID,
		CodeChallenge: params.CodeChallenge,
		RedirectURI:   params.RedirectURI,
	}

	p.mu.Lock()
	p.authCodes[code.Code] = code
	p.mu.Unlock()

	p.logger.Debug("Issued authorization code",
		"client_id", client.ClientID,
		"scopes", params.Scopes)

	state := oauth.AbsentParam("state")
	if params.State != "" {
		state = oauth.Param("state", params.State)
	}
	return oauth.ConstructRedirectURI(params.RedirectURI,
		oauth.Param("code", code.Code),
		state,
	)
}

// LoadAuthorizationCode loads a code record without consuming it.
// Codes issued to a different client or already expired read as absent.
func (p *Provider) LoadAuthorizationCode(ctx context.Context, client *oauth.ClientInformation, code string) (*oauth.AuthorizationCode, error) {
	if client == nil || code == "" {
		return nil, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.authCodes[code]
	if !ok {
		return nil, nil
	}
	if rec.ClientID != client.ClientID {
		return nil, nil
	}
	if time.Now().After(rec.ExpiresAt) {
		delete(p.authCodes, code)
		return nil, nil
	}

	cp := *rec
	cp.Scopes = append([]string(nil), rec.Scopes...)
	return &cp, nil
}

// ExchangeAuthorizationCode consumes a code and mints an access token
// plus refresh token. The code is checked and deleted under one lock
// acquisition, so concurrent exchanges of the same code cannot both
// succeed.
func (p *Provider) ExchangeAuthorizationCode(ctx context.Context, client *oauth.ClientInformation, code *oauth.AuthorizationCode) (*oauth.TokenResponse, error) {
	if client == nil || code == nil {
		return nil, oauth.ErrInvalidGrant("authorization code is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	stored, ok := p.authCodes[code.Code]
	if !ok {
		return nil, oauth.ErrInvalidGrant("authorization code not found")
	}
	delete(p.authCodes, code.Code)

	if stored.ClientID != client.ClientID {
		return nil, oauth.ErrInvalidGrant("authorization code was issued to a different client")
	}
	if time.Now().After(stored.ExpiresAt) {
		return nil, oauth.ErrInvalidGrant("authorization code has expired")
	}

	return p.issueTokensLocked(client.ClientID, stored.Scopes, true)
}

// LoadRefreshToken loads a refresh token record without consuming it.
// Tokens issued to a different client or already expired read as absent.
func (p *Provider) LoadRefreshToken(ctx context.Context, client *oauth.ClientInformation, token string) (*oauth.RefreshToken, error) {
	if client == nil || token == "" {
		return nil, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.refreshTokens[token]
	if !ok {
		return nil, nil
	}
	if rec.ClientID != client.ClientID {
		return nil, nil
	}
	if !rec.ExpiresAt.IsZero() && time.Now().After(rec.ExpiresAt) {
		p.removeRefreshTokenLocked(token)
		return nil, nil
	}

	cp := *rec
	cp.Scopes = append([]string(nil), rec.Scopes...)
	return &cp, nil
}

// ExchangeRefreshToken rotates a refresh token and mints a new access
// token. The requested scopes must be a subset of the token's original
// scopes; an empty request keeps them unchanged.
func (p *Provider) ExchangeRefreshToken(ctx context.Context, client *oauth.ClientInformation, token *oauth.RefreshToken, scopes []string) (*oauth.TokenResponse, error) {
	if client == nil || token == nil {
		return nil, oauth.ErrInvalidGrant("refresh token is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	stored, ok := p.refreshTokens[token.Token]
	if !ok || stored.ClientID != client.ClientID {
		return nil, oauth.ErrInvalidGrant("refresh token not found")
	}
	if !stored.ExpiresAt.IsZero() && time.Now().After(stored.ExpiresAt) {
		p.removeRefreshTokenLocked(token.Token)
		return nil, oauth.ErrInvalidGrant("refresh token has expired")
	}

	granted := stored.Scopes
	if len(scopes) > 0 {
		for _, s := range scopes {
			if !containsScope(stored.Scopes, s) {
				return nil, oauth.ErrInvalidScope("requested scope exceeds original grant: " + s)
			}
		}
		granted = scopes
	}

	// Rotate: the presented token and its access tokens die with it
	p.removeRefreshTokenLocked(token.Token)

	return p.issueTokensLocked(client.ClientID, granted, true)
}

// VerifyAccessToken verifies an opaque access token
func (p *Provider) VerifyAccessToken(ctx context.Context, token string) (*oauth.AuthInfo, error) {
	if token == "" {
		return nil, oauth.ErrInvalidToken("token is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.accessTokens[token]
	if !ok {
		return nil, oauth.ErrInvalidToken("token not found")
	}
	if time.Now().After(rec.expiresAt) {
		delete(p.accessTokens, token)
		return nil, oauth.ErrInvalidToken("token has expired")
	}

	return &oauth.AuthInfo{
		Token:     token,
		ClientID:  rec.clientID,
		Subject:   rec.subject,
		Scopes:    append([]string(nil), rec.scopes...),
		ExpiresAt: rec.expiresAt,
	}, nil
}

// RevokeToken revokes an access or refresh token. The hint is tried
// first, then the other kind (RFC 7009 Section 2.1). Tokens belonging
// to other clients, and unknown tokens, are ignored without error.
func (p *Provider) RevokeToken(ctx context.Context, client *oauth.ClientInformation, req *oauth.TokenRevocationRequest) error {
	if client == nil || req == nil || req.Token == "" {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	tryAccess := func() bool {
		rec, ok := p.accessTokens[req.Token]
		if !ok || rec.clientID != client.ClientID {
			return false
		}
		delete(p.accessTokens, req.Token)
		return true
	}
	tryRefresh := func() bool {
		rec, ok := p.refreshTokens[req.Token]
		if !ok || rec.ClientID != client.ClientID {
			return false
		}
		p.removeRefreshTokenLocked(req.Token)
		return true
	}

	var revoked bool
	if req.TokenTypeHint == oauth.TokenTypeHintRefreshToken {
		revoked = tryRefresh() || tryAccess()
	} else {
		revoked = tryAccess() || tryRefresh()
	}

	if revoked {
		p.logger.Debug("Revoked token", "client_id", client.ClientID)
	}
	return nil
}

// issueTokensLocked mints an access token, and optionally a refresh
// token, for the given client and scopes. Caller must hold p.mu.
func (p *Provider) issueTokensLocked(clientID string, scopes []string, withRefresh bool) (*oauth.TokenResponse, error) {
	now := time.Now()

	accessToken := oauth2.GenerateVerifier()
	p.accessTokens[accessToken] = &accessTokenRecord{
		clientID:  clientID,
		subject:   p.subject,
		scopes:    append([]string(nil), scopes...),
		expiresAt: now.Add(p.accessTokenTTL),
	}

	resp := &oauth.TokenResponse{
		AccessToken: accessToken,
		TokenType:   oauth.TokenTypeBearer,
		ExpiresIn:   int64(p.accessTokenTTL.Seconds()),
		Scope:       strings.Join(scopes, " "),
	}

	if withRefresh {
		refreshToken := oauth2.GenerateVerifier()
		p.refreshTokens[refreshToken] = &oauth.RefreshToken{
			Token:    refreshToken,
			ClientID: clientID,
			Scopes:   append([]string(nil), scopes...),
		}
		p.accessByRefresh[refreshToken] = []string{accessToken}
		resp.RefreshToken = refreshToken
	}

	return resp, nil
}

// removeRefreshTokenLocked deletes a refresh token and every access
// token minted from it. Caller must hold p.mu.
func (p *Provider) removeRefreshTokenLocked(token string) {
	for _, at := range p.accessByRefresh[token] {
		delete(p.accessTokens, at)
	}
	delete(p.accessByRefresh, token)
	delete(p.refreshTokens, token)
}

func (p *Provider) cleanupLoop() {
	ticker := time.NewTicker(p.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCleanup:
			return
		case <-ticker.C:
			p.cleanup()
		}
	}
}

// cleanup purges expired codes and tokens
func (p *Provider) cleanup() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	cleaned := 0

	for code, rec := range p.authCodes {
		if now.After(rec.ExpiresAt) {
			delete(p.authCodes, code)
			cleaned++
		}
	}
	for token, rec := range p.accessTokens {
		if now.After(rec.expiresAt) {
			delete(p.accessTokens, token)
			cleaned++
		}
	}
	for token, rec := range p.refreshTokens {
		if !rec.ExpiresAt.IsZero() && now.After(rec.ExpiresAt) {
			p.removeRefreshTokenLocked(token)
			cleaned++
		}
	}

	if cleaned > 0 {
		p.logger.Debug("Cleaned up expired artifacts", "count", cleaned)
	}
}

func containsScope(scopes []string, scope string) bool {
	for _, s := range scopes {
		if s == scope {
			return true
		}
	}
	return false
}
