package security

// Event type constants for security audit logging.
const (
	// EventTokenIssued is logged when tokens are issued for an authorization code
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when an access token is refreshed
	EventTokenRefreshed = "token_refreshed"

	// EventTokenRevoked is logged when a token is revoked
	EventTokenRevoked = "token_revoked"

	// EventAuthorizationFlowStarted is logged when an authorization flow begins
	EventAuthorizationFlowStarted = "authorization_flow_started"

	// EventAuthorizationCodeIssued is logged when an authorization code is minted
	EventAuthorizationCodeIssued = "authorization_code_issued"

	// EventAuthorizationCodeReuseDetected is logged when an already-consumed
	// authorization code is presented again
	EventAuthorizationCodeReuseDetected = "authorization_code_reuse_detected"

	// EventClientRegistered is logged when a new OAuth client is registered
	EventClientRegistered = "client_registered"

	// EventAuthFailure is logged when authentication or validation fails
	EventAuthFailure = "auth_failure"

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"

	// EventInvalidPKCE is logged when PKCE verification fails
	EventInvalidPKCE = "invalid_pkce"
)
