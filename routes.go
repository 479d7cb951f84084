package oauth

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Endpoint paths, relative to the issuer URL. The discovery document and
// the route table are both derived from these constants so the advertised
// and bound paths cannot diverge.
const (
	// MetadataPath is the RFC 8414 well-known discovery path
	MetadataPath = "/.well-known/oauth-authorization-server"

	// AuthorizationPath is the authorization endpoint path
	AuthorizationPath = "/authorize"

	// TokenPath is the token endpoint path
	TokenPath = "/token"

	// RegistrationPath is the dynamic client registration endpoint path
	RegistrationPath = "/register"

	// RevocationPath is the token revocation endpoint path
	RevocationPath = "/revoke"
)

// ValidateIssuerURL validates that an issuer URL meets the OAuth 2.0
// requirements of RFC 8414: HTTPS transport (plain HTTP is tolerated for
// the loopback hosts "localhost" and "127.0.0.1" to ease testing) and no
// fragment or query component. A failure is a fatal configuration error;
// route construction must not proceed.
func ValidateIssuerURL(issuer string) error {
	parsed, err := url.Parse(issuer)
	if err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}

	host := parsed.Hostname()
	if parsed.Scheme != "https" && host != "localhost" && !strings.HasPrefix(host, "127.0.0.1") {
		return fmt.Errorf("issuer URL must be HTTPS: %s", issuer)
	}
	if parsed.Fragment != "" {
		return fmt.Errorf("issuer URL must not have a fragment: %s", issuer)
	}
	if parsed.RawQuery != "" {
		return fmt.Errorf("issuer URL must not have a query string: %s", issuer)
	}
	return nil
}

// endpointURL derives an endpoint URL from the issuer by joining suffix
// onto the issuer's path, preserving scheme, host, port, query, and
// fragment. The join strips trailing slashes from the path and leading
// slashes from the suffix and concatenates with no separator; when the
// issuer path is non-empty and has no trailing slash the segments run
// together ("/base" + "token" -> "/basetoken"). Deployed discovery
// documents carry exactly this shape, so any change here is a
// compatibility break.
func endpointURL(issuer *url.URL, suffix string) string {
	derived := *issuer
	derived.Path = strings.TrimRight(issuer.Path, "/") + strings.TrimLeft(suffix, "/")
	derived.RawPath = ""
	return derived.String()
}

// BuildMetadata derives the RFC 8414 discovery document from the issuer
// identity and the feature options. It is a pure function: the same
// inputs always produce the same document. Optional endpoints appear iff
// the corresponding feature is enabled; disabled features are omitted
// from the encoded document entirely, never emitted as null.
func BuildMetadata(
	issuerURL string,
	serviceDocumentationURL string,
	registration ClientRegistrationOptions,
	revocation RevocationOptions,
) (*AuthorizationServerMetadata, error) {
	issuer, err := url.Parse(issuerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid issuer URL: %w", err)
	}

	metadata := &AuthorizationServerMetadata{
		Issuer:                            issuerURL,
		AuthorizationEndpoint:             endpointURL(issuer, AuthorizationPath),
		TokenEndpoint:                     endpointURL(issuer, TokenPath),
		ResponseTypesSupported:            []string{ResponseTypeCode},
		GrantTypesSupported:               []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken},
		TokenEndpointAuthMethodsSupported: []string{AuthMethodClientSecretPost},
		ServiceDocumentation:              serviceDocumentationURL,
		CodeChallengeMethodsSupported:     []string{PKCEMethodS256},
	}

	if registration.Enabled {
		metadata.RegistrationEndpoint = endpointURL(issuer, RegistrationPath)
	}

	if revocation.Enabled {
		metadata.RevocationEndpoint = endpointURL(issuer, RevocationPath)
		metadata.RevocationEndpointAuthMethodsSupported = []string{AuthMethodClientSecretPost}
	}

	return metadata, nil
}

// Route binds an endpoint path to its handler and allowed methods
type Route struct {
	Path    string
	Methods []string
	Handler http.Handler
}

// ServeHTTP enforces the route's method list before delegating
func (rt Route) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	for _, method := range rt.Methods {
		if r.Method == method {
			rt.Handler.ServeHTTP(w, r)
			return
		}
	}
	w.Header().Set("Allow", strings.Join(rt.Methods, ", "))
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}

// NewAuthRoutes validates the issuer URL, derives the discovery document,
// and returns the server's bound route table. The discovery, authorize,
// and token endpoints are always present; registration and revocation are
// bound iff enabled in opts. On any validation failure no routes are
// returned.
func NewAuthRoutes(provider Provider, opts RouteOptions) ([]Route, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if err := ValidateIssuerURL(opts.IssuerURL); err != nil {
		return nil, err
	}

	opts = opts.applyDefaults()

	metadata, err := BuildMetadata(
		opts.IssuerURL,
		opts.ServiceDocumentationURL,
		opts.ClientRegistration,
		opts.Revocation,
	)
	if err != nil {
		return nil, err
	}

	handler := NewHandler(provider, metadata, opts)

	routes := []Route{
		{
			Path:    MetadataPath,
			Methods: []string{http.MethodGet},
			Handler: http.HandlerFunc(handler.ServeMetadata),
		},
		{
			Path:    AuthorizationPath,
			Methods: []string{http.MethodGet, http.MethodPost},
			Handler: http.HandlerFunc(handler.ServeAuthorize),
		},
		{
			Path:    TokenPath,
			Methods: []string{http.MethodPost},
			Handler: http.HandlerFunc(handler.ServeToken),
		},
	}

	if opts.ClientRegistration.Enabled {
		routes = append(routes, Route{
			Path:    RegistrationPath,
			Methods: []string{http.MethodPost},
			Handler: http.HandlerFunc(handler.ServeRegister),
		})
	}

	if opts.Revocation.Enabled {
		routes = append(routes, Route{
			Path:    RevocationPath,
			Methods: []string{http.MethodPost},
			Handler: http.HandlerFunc(handler.ServeRevoke),
		})
	}

	return routes, nil
}

// RegisterRoutes registers a route table on a ServeMux
func RegisterRoutes(mux *http.ServeMux, routes []Route) {
	for _, route := range routes {
		mux.Handle(route.Path, route)
	}
}
