package oauth

import (
	"log/slog"
	"time"

	"github.com/mcpkit/oauth-core/instrumentation"
	"github.com/mcpkit/oauth-core/security"
)

// ClientRegistrationOptions controls the dynamic client registration
// endpoint (RFC 7591)
type ClientRegistrationOptions struct {
	// Enabled exposes the /register endpoint and advertises it in the
	// discovery document
	Enabled bool

	// ClientSecretExpiry is how long issued client secrets remain valid.
	// Zero means secrets never expire.
	ClientSecretExpiry time.Duration

	// ValidScopes lists the scopes a client may register with.
	// Empty means any scope is accepted.
	ValidScopes []string

	// DefaultScopes are granted to clients that register without
	// requesting any scope
	DefaultScopes []string
}

// RevocationOptions controls the token revocation endpoint (RFC 7009)
type RevocationOptions struct {
	// Enabled exposes the /revoke endpoint and advertises it in the
	// discovery document
	Enabled bool
}

// RateLimitConfig holds rate limiting configuration for the endpoints
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP. Zero disables limiting.
	Rate int

	// Burst is the maximum burst size allowed per IP.
	Burst int

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is the number of trusted proxies in front of this
	// server, used to pick the client IP out of X-Forwarded-For.
	// Default: 1
	TrustedProxyCount int
}

// RouteOptions is the construction-time configuration of the server's
// route table and discovery document
type RouteOptions struct {
	// IssuerURL is the server's issuer identifier (base URL). Required.
	// It must use HTTPS (loopback hosts excepted) and carry no query or
	// fragment; see ValidateIssuerURL.
	IssuerURL string

	// ServiceDocumentationURL is the optional URL of human-readable
	// documentation, advertised as service_documentation
	ServiceDocumentationURL string

	// ClientRegistration controls the registration endpoint
	ClientRegistration ClientRegistrationOptions

	// Revocation controls the revocation endpoint
	Revocation RevocationOptions

	// RateLimit configures per-IP rate limiting on all endpoints
	RateLimit RateLimitConfig

	// EnableAuditLogging enables security audit logging.
	// Sensitive identifiers are hashed before logging.
	EnableAuditLogging bool

	// Logger for structured logging (optional, uses slog.Default if nil)
	Logger *slog.Logger

	// Instrumentation provides OpenTelemetry metrics and tracing
	// (optional)
	Instrumentation *instrumentation.Instrumentation
}

// applyDefaults fills in defaulted RouteOptions fields
func (o RouteOptions) applyDefaults() RouteOptions {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.RateLimit.TrustedProxyCount == 0 {
		o.RateLimit.TrustedProxyCount = 1
	}
	return o
}

// newRateLimiter builds the per-IP rate limiter, or nil when disabled
func (o RouteOptions) newRateLimiter() *security.RateLimiter {
	if o.RateLimit.Rate <= 0 {
		return nil
	}
	return security.NewRateLimiter(o.RateLimit.Rate, o.RateLimit.Burst, o.Logger)
}
