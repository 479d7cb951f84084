package oauth

import (
	"context"
	"time"
)

// AuthorizationParams holds the validated parameters of an incoming
// authorize request. It is ephemeral and never persisted by this package.
type AuthorizationParams struct {
	// State is the client's opaque state value, echoed back on redirect (optional)
	State string

	// Scopes are the requested scopes, in request order (optional)
	Scopes []string

	// CodeChallenge is the PKCE code challenge (required)
	CodeChallenge string

	// RedirectURI is the absolute URL the user agent will land at (required)
	RedirectURI string
}

// AuthorizationCode is an issued authorization code and the request context
// it was minted for. Codes are single-use: a successful exchange must make
// all subsequent exchange attempts for the same code fail.
type AuthorizationCode struct {
	// Code is the opaque code value. Implementations MUST generate codes
	// with at least 128 bits of entropy and SHOULD use at least 160 bits
	// (RFC 6749 Section 10.10).
	Code string

	// Scopes are the scopes granted to this code
	Scopes []string

	// ExpiresAt is the absolute expiry time of the code
	ExpiresAt time.Time

	// ClientID identifies the client the code was issued to
	ClientID string

	// CodeChallenge is the PKCE challenge bound to this code
	CodeChallenge string

	// RedirectURI is the redirect URI the code was issued for
	RedirectURI string
}

// RefreshToken is an issued refresh token
type RefreshToken struct {
	// Token is the opaque token value
	Token string

	// ClientID identifies the client the token was issued to
	ClientID string

	// Scopes are the scopes originally granted to this token
	Scopes []string

	// ExpiresAt is the absolute expiry time; the zero value means no expiry
	ExpiresAt time.Time
}

// TokenRevocationRequest is a revocation request per RFC 7009 Section 2.1
type TokenRevocationRequest struct {
	// Token is the token to revoke; its kind is unspecified
	Token string

	// TokenTypeHint is an optional hint: "access_token" or "refresh_token"
	TokenTypeHint string
}

// AuthInfo describes a verified access token
type AuthInfo struct {
	// Token is the verified access token value
	Token string

	// ClientID identifies the client the token was issued to
	ClientID string

	// Subject is the identity the token acts on behalf of
	Subject string

	// Scopes are the scopes granted to the token
	Scopes []string

	// ExpiresAt is the absolute expiry time of the token
	ExpiresAt time.Time
}

// ClientInformation holds the registered metadata of an OAuth client
// (RFC 7591). Beyond ClientID this package treats it as opaque.
type ClientInformation struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at,omitempty"`
	ClientSecretExpiresAt   int64    `json:"client_secret_expires_at,omitempty"`
	RedirectURIs            []string `json:"redirect_uris,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	ClientName              string   `json:"client_name,omitempty"`
	ClientURI               string   `json:"client_uri,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
}

// ClientsStore is the registry of OAuth clients known to the server.
type ClientsStore interface {
	// GetClient retrieves client information by client ID.
	// It returns (nil, nil) when no such client exists; a non-nil error
	// indicates a store failure, never "not found".
	GetClient(ctx context.Context, clientID string) (*ClientInformation, error)

	// RegisterClient registers a new client. It fails on duplicate client
	// IDs or invalid metadata, typically with an *OAuthError.
	RegisterClient(ctx context.Context, client *ClientInformation) error
}

// SecretValidator is an optional interface a ClientsStore may implement
// when it stores client secrets hashed rather than in the clear. When
// present, the handler layer uses it instead of comparing the plaintext
// secret from ClientInformation.
type SecretValidator interface {
	// ValidateClientSecret checks a client secret, returning an
	// *OAuthError with code invalid_client on mismatch or expiry.
	ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error
}

// Provider is the end-to-end contract a concrete OAuth authorization
// server must implement. The HTTP layer delegates every endpoint to it.
//
// Lookup operations (LoadAuthorizationCode, LoadRefreshToken) return
// (nil, nil) when the artifact does not exist; callers map that to an
// invalid_grant outcome. Structured failures are returned as *OAuthError
// so callers can branch on the error code.
type Provider interface {
	// ClientsStore returns the store of registered OAuth clients.
	ClientsStore() ClientsStore

	// Authorize begins an authorization flow and returns the URL the user
	// agent should be redirected to. The flow must eventually land the
	// user agent at params.RedirectURI carrying either a freshly minted
	// authorization code or an error indicator; the returned URL may be
	// an intermediate redirect, e.g. to a third-party identity provider.
	//
	// Implementations MUST generate authorization codes with at least
	// 128 bits of entropy and SHOULD use at least 160 bits.
	Authorize(ctx context.Context, client *ClientInformation, params *AuthorizationParams) (string, error)

	// LoadAuthorizationCode loads the record for an authorization code.
	// It has no side effects and returns (nil, nil) for unknown codes.
	LoadAuthorizationCode(ctx context.Context, client *ClientInformation, code string) (*AuthorizationCode, error)

	// ExchangeAuthorizationCode exchanges an authorization code for tokens.
	// It fails for expired codes and for codes bound to a different client
	// or redirect URI. The code must be invalidated atomically: when
	// multiple exchanges race on the same code, at most one may succeed.
	ExchangeAuthorizationCode(ctx context.Context, client *ClientInformation, code *AuthorizationCode) (*TokenResponse, error)

	// LoadRefreshToken loads the record for a refresh token.
	// It has no side effects and returns (nil, nil) for unknown tokens.
	LoadRefreshToken(ctx context.Context, client *ClientInformation, token string) (*RefreshToken, error)

	// ExchangeRefreshToken exchanges a refresh token for a new access
	// token. scopes must be a subset of the token's original scopes;
	// broader requests fail with invalid_scope. An empty scopes list
	// requests the original scopes unchanged.
	ExchangeRefreshToken(ctx context.Context, client *ClientInformation, token *RefreshToken, scopes []string) (*TokenResponse, error)

	// VerifyAccessToken verifies an access token and describes it.
	// It fails with invalid_token for unknown, expired, or malformed tokens.
	VerifyAccessToken(ctx context.Context, token string) (*AuthInfo, error)

	// RevokeToken revokes an access or refresh token. Revocation is
	// idempotent: unknown, invalid, or already-revoked tokens cause no
	// error and no observable effect.
	RevokeToken(ctx context.Context, client *ClientInformation, req *TokenRevocationRequest) error
}
