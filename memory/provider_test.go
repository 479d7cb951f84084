package memory

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	oauth "github.com/mcpkit/oauth-core"
)

func testClient() *oauth.ClientInformation {
	return &oauth.ClientInformation{
		ClientID:                "test-client",
		RedirectURIs:            []string{"https://client.example.com/callback"},
		TokenEndpointAuthMethod: oauth.AuthMethodClientSecretPost,
	}
}

func testParams() *oauth.AuthorizationParams {
	return &oauth.AuthorizationParams{
		State:         "xyzzy",
		Scopes:        []string{"read", "write"},
		CodeChallenge: "test-challenge",
		RedirectURI:   "https://client.example.com/callback",
	}
}

// issueCode runs Authorize and extracts the minted code from the redirect
func issueCode(t *testing.T, p *Provider, client *oauth.ClientInformation, params *oauth.AuthorizationParams) string {
	t.Helper()

	location, err := p.Authorize(context.Background(), client, params)
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}

	parsed, err := url.Parse(location)
	if err != nil {
		t.Fatalf("redirect did not parse: %v", err)
	}
	code := parsed.Query().Get("code")
	if code == "" {
		t.Fatalf("no code in redirect: %s", location)
	}
	return code
}

func TestAuthorize(t *testing.T) {
	p := NewProvider()
	defer p.Stop()

	location, err := p.Authorize(context.Background(), testClient(), testParams())
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}

	if !strings.HasPrefix(location, "https://client.example.com/callback?") {
		t.Errorf("redirect = %q, want callback URI", location)
	}

	parsed, _ := url.Parse(location)
	if parsed.Query().Get("code") == "" {
		t.Error("redirect is missing the code parameter")
	}
	if got := parsed.Query().Get("state"); got != "xyzzy" {
		t.Errorf("state = %q, want %q", got, "xyzzy")
	}
}

func TestAuthorize_NoState(t *testing.T) {
	p := NewProvider()
	defer p.Stop()

	params := testParams()
	params.State = ""

	location, err := p.Authorize(context.Background(), testClient(), params)
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if strings.Contains(location, "state=") {
		t.Errorf("redirect %q should not carry a state parameter", location)
	}
}

func TestAuthorize_MissingChallenge(t *testing.T) {
	p := NewProvider()
	defer p.Stop()

	params := testParams()
	params.CodeChallenge = ""

	_, err := p.Authorize(context.Background(), testClient(), params)
	var oerr *oauth.OAuthError
	if !errors.As(err, &oerr) || oerr.Code != oauth.ErrorCodeInvalidRequest {
		t.Fatalf("Authorize() error = %v, want invalid_request", err)
	}
}

func TestLoadAuthorizationCode(t *testing.T) {
	p := NewProvider()
	defer p.Stop()

	client := testClient()
	code := issueCode(t, p, client, testParams())

	record, err := p.LoadAuthorizationCode(context.Background(), client, code)
	if err != nil {
		t.Fatalf("LoadAuthorizationCode() error = %v", err)
	}
	if record == nil {
		t.Fatal("LoadAuthorizationCode() = nil for a live code")
	}
	if record.ClientID != client.ClientID {
		t.Errorf("ClientID = %q", record.ClientID)
	}
	if record.CodeChallenge != "test-challenge" {
		t.Errorf("CodeChallenge = %q", record.CodeChallenge)
	}
	if len(record.Scopes) != 2 {
		t.Errorf("Scopes = %v", record.Scopes)
	}

	// Loading has no side effects
	again, err := p.LoadAuthorizationCode(context.Background(), client, code)
	if err != nil || again == nil {
		t.Fatalf("second load = (%v, %v), want live record", again, err)
	}
}

func TestLoadAuthorizationCode_Absent(t *testing.T) {
	p := NewProvider()
	defer p.Stop()

	client := testClient()

	record, err := p.LoadAuthorizationCode(context.Background(), client, "no-such-code")
	if record != nil || err != nil {
		t.Errorf("unknown code = (%v, %v), want (nil, nil)", record, err)
	}

	// A code issued to one client is absent for another
	code := issueCode(t, p, client, testParams())
	other := &oauth.ClientInformation{ClientID: "other-client"}
	record, err = p.LoadAuthorizationCode(context.Background(), other, code)
	if record != nil || err != nil {
		t.Errorf("other client's code = (%v, %v), want (nil, nil)", record, err)
	}
}

func TestLoadAuthorizationCode_Expired(t *testing.T) {
	p := NewProvider(WithCodeTTL(time.Nanosecond))
	defer p.Stop()

	client := testClient()
	code := issueCode(t, p, client, testParams())

	time.Sleep(5 * time.Millisecond)

	record, err := p.LoadAuthorizationCode(context.Background(), client, code)
	if record != nil || err != nil {
		t.Errorf("expired code = (%v, %v), want (nil, nil)", record, err)
	}
}

func TestExchangeAuthorizationCode(t *testing.T) {
	p := NewProvider(WithSubject("user-1"))
	defer p.Stop()

	client := testClient()
	code := issueCode(t, p, client, testParams())

	record, err := p.LoadAuthorizationCode(context.Background(), client, code)
	if err != nil || record == nil {
		t.Fatalf("load = (%v, %v)", record, err)
	}

	tokens, err := p.ExchangeAuthorizationCode(context.Background(), client, record)
	if err != nil {
		t.Fatalf("ExchangeAuthorizationCode() error = %v", err)
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		t.Fatalf("tokens = %+v, want access and refresh tokens", tokens)
	}
	if tokens.TokenType != oauth.TokenTypeBearer {
		t.Errorf("TokenType = %q", tokens.TokenType)
	}
	if tokens.Scope != "read write" {
		t.Errorf("Scope = %q, want %q", tokens.Scope, "read write")
	}

	info, err := p.VerifyAccessToken(context.Background(), tokens.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccessToken() error = %v", err)
	}
	if info.Subject != "user-1" {
		t.Errorf("Subject = %q", info.Subject)
	}
	if info.ClientID != client.ClientID {
		t.Errorf("ClientID = %q", info.ClientID)
	}
}

func TestExchangeAuthorizationCode_SingleUse(t *testing.T) {
	p := NewProvider()
	defer p.Stop()

	client := testClient()
	code := issueCode(t, p, client, testParams())
	record, _ := p.LoadAuthorizationCode(context.Background(), client, code)

	if _, err := p.ExchangeAuthorizationCode(context.Background(), client, record); err != nil {
		t.Fatalf("first exchange error = %v", err)
	}

	_, err := p.ExchangeAuthorizationCode(context.Background(), client, record)
	var oerr *oauth.OAuthError
	if !errors.As(err, &oerr) || oerr.Code != oauth.ErrorCodeInvalidGrant {
		t.Fatalf("second exchange error = %v, want invalid_grant", err)
	}
}

func TestExchangeAuthorizationCode_Concurrent(t *testing.T) {
	p := NewProvider()
	defer p.Stop()

	client := testClient()
	code := issueCode(t, p, client, testParams())
	record, _ := p.LoadAuthorizationCode(context.Background(), client, code)

	const attempts = 16
	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.ExchangeAuthorizationCode(context.Background(), client, record)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		}
	}
	if succeeded != 1 {
		t.Errorf("%d concurrent exchanges succeeded, want exactly 1", succeeded)
	}
}

func TestExchangeAuthorizationCode_WrongClient(t *testing.T) {
	p := NewProvider()
	defer p.Stop()

	client := testClient()
	code := issueCode(t, p, client, testParams())
	record, _ := p.LoadAuthorizationCode(context.Background(), client, code)

	other := &oauth.ClientInformation{ClientID: "other-client"}
	_, err := p.ExchangeAuthorizationCode(context.Background(), other, record)
	var oerr *oauth.OAuthError
	if !errors.As(err, &oerr) || oerr.Code != oauth.ErrorCodeInvalidGrant {
		t.Fatalf("exchange error = %v, want invalid_grant", err)
	}
}

func exchange(t *testing.T, p *Provider, client *oauth.ClientInformation) *oauth.TokenResponse {
	t.Helper()

	code := issueCode(t, p, client, testParams())
	record, _ := p.LoadAuthorizationCode(context.Background(), client, code)
	tokens, err := p.ExchangeAuthorizationCode(context.Background(), client, record)
	if err != nil {
		t.Fatalf("exchange error = %v", err)
	}
	return tokens
}

func TestExchangeRefreshToken(t *testing.T) {
	p := NewProvider()
	defer p.Stop()

	client := testClient()
	tokens := exchange(t, p, client)

	record, err := p.LoadRefreshToken(context.Background(), client, tokens.RefreshToken)
	if err != nil || record == nil {
		t.Fatalf("LoadRefreshToken() = (%v, %v)", record, err)
	}

	refreshed, err := p.ExchangeRefreshToken(context.Background(), client, record, nil)
	if err != nil {
		t.Fatalf("ExchangeRefreshToken() error = %v", err)
	}
	if refreshed.AccessToken == tokens.AccessToken {
		t.Error("access token did not rotate")
	}
	if refreshed.RefreshToken == tokens.RefreshToken {
		t.Error("refresh token did not rotate")
	}
	if refreshed.Scope != tokens.Scope {
		t.Errorf("Scope = %q, want %q", refreshed.Scope, tokens.Scope)
	}

	// The presented token is dead after rotation
	dead, err := p.LoadRefreshToken(context.Background(), client, tokens.RefreshToken)
	if dead != nil || err != nil {
		t.Errorf("rotated-out token = (%v, %v), want (nil, nil)", dead, err)
	}
}

func TestExchangeRefreshToken_ScopeNarrowing(t *testing.T) {
	p := NewProvider()
	defer p.Stop()

	client := testClient()
	tokens := exchange(t, p, client)
	record, _ := p.LoadRefreshToken(context.Background(), client, tokens.RefreshToken)

	narrowed, err := p.ExchangeRefreshToken(context.Background(), client, record, []string{"read"})
	if err != nil {
		t.Fatalf("ExchangeRefreshToken() error = %v", err)
	}
	if narrowed.Scope != "read" {
		t.Errorf("Scope = %q, want %q", narrowed.Scope, "read")
	}
}

func TestExchangeRefreshToken_ScopeEscalation(t *testing.T) {
	p := NewProvider()
	defer p.Stop()

	client := testClient()
	tokens := exchange(t, p, client)
	record, _ := p.LoadRefreshToken(context.Background(), client, tokens.RefreshToken)

	_, err := p.ExchangeRefreshToken(context.Background(), client, record, []string{"read", "admin"})
	var oerr *oauth.OAuthError
	if !errors.As(err, &oerr) || oerr.Code != oauth.ErrorCodeInvalidScope {
		t.Fatalf("escalation error = %v, want invalid_scope", err)
	}

	// A failed escalation must not consume the token
	live, err := p.LoadRefreshToken(context.Background(), client, tokens.RefreshToken)
	if err != nil || live == nil {
		t.Errorf("token after failed escalation = (%v, %v), want live record", live, err)
	}
}

func TestVerifyAccessToken_Unknown(t *testing.T) {
	p := NewProvider()
	defer p.Stop()

	_, err := p.VerifyAccessToken(context.Background(), "never-issued")
	var oerr *oauth.OAuthError
	if !errors.As(err, &oerr) || oerr.Code != oauth.ErrorCodeInvalidToken {
		t.Fatalf("VerifyAccessToken() error = %v, want invalid_token", err)
	}
}

func TestVerifyAccessToken_Expired(t *testing.T) {
	p := NewProvider(WithAccessTokenTTL(time.Nanosecond))
	defer p.Stop()

	client := testClient()
	tokens := exchange(t, p, client)

	time.Sleep(5 * time.Millisecond)

	_, err := p.VerifyAccessToken(context.Background(), tokens.AccessToken)
	var oerr *oauth.OAuthError
	if !errors.As(err, &oerr) || oerr.Code != oauth.ErrorCodeInvalidToken {
		t.Fatalf("VerifyAccessToken() error = %v, want invalid_token", err)
	}
}

func TestRevokeToken_AccessToken(t *testing.T) {
	p := NewProvider()
	defer p.Stop()

	client := testClient()
	tokens := exchange(t, p, client)

	err := p.RevokeToken(context.Background(), client, &oauth.TokenRevocationRequest{
		Token:         tokens.AccessToken,
		TokenTypeHint: oauth.TokenTypeHintAccessToken,
	})
	if err != nil {
		t.Fatalf("RevokeToken() error = %v", err)
	}

	if _, err := p.VerifyAccessToken(context.Background(), tokens.AccessToken); err == nil {
		t.Error("revoked access token still verifies")
	}

	// The refresh token survives an access token revocation
	live, err := p.LoadRefreshToken(context.Background(), client, tokens.RefreshToken)
	if err != nil || live == nil {
		t.Errorf("refresh token = (%v, %v), want live record", live, err)
	}
}

func TestRevokeToken_RefreshTokenCascades(t *testing.T) {
	p := NewProvider()
	defer p.Stop()

	client := testClient()
	tokens := exchange(t, p, client)

	err := p.RevokeToken(context.Background(), client, &oauth.TokenRevocationRequest{
		Token:         tokens.RefreshToken,
		TokenTypeHint: oauth.TokenTypeHintRefreshToken,
	})
	if err != nil {
		t.Fatalf("RevokeToken() error = %v", err)
	}

	if dead, _ := p.LoadRefreshToken(context.Background(), client, tokens.RefreshToken); dead != nil {
		t.Error("revoked refresh token still loads")
	}
	if _, err := p.VerifyAccessToken(context.Background(), tokens.AccessToken); err == nil {
		t.Error("access token should die with its refresh token")
	}
}

func TestRevokeToken_WrongHintStillRevokes(t *testing.T) {
	p := NewProvider()
	defer p.Stop()

	client := testClient()
	tokens := exchange(t, p, client)

	// RFC 7009: a mismatched hint extends the search to all token kinds
	err := p.RevokeToken(context.Background(), client, &oauth.TokenRevocationRequest{
		Token:         tokens.AccessToken,
		TokenTypeHint: oauth.TokenTypeHintRefreshToken,
	})
	if err != nil {
		t.Fatalf("RevokeToken() error = %v", err)
	}
	if _, err := p.VerifyAccessToken(context.Background(), tokens.AccessToken); err == nil {
		t.Error("access token should be revoked despite the refresh_token hint")
	}
}

func TestRevokeToken_Idempotent(t *testing.T) {
	p := NewProvider()
	defer p.Stop()

	client := testClient()
	req := &oauth.TokenRevocationRequest{Token: "never-issued"}

	if err := p.RevokeToken(context.Background(), client, req); err != nil {
		t.Fatalf("RevokeToken() of unknown token error = %v", err)
	}

	tokens := exchange(t, p, client)
	req = &oauth.TokenRevocationRequest{Token: tokens.AccessToken}
	if err := p.RevokeToken(context.Background(), client, req); err != nil {
		t.Fatalf("first RevokeToken() error = %v", err)
	}
	if err := p.RevokeToken(context.Background(), client, req); err != nil {
		t.Fatalf("second RevokeToken() error = %v", err)
	}
}

func TestRevokeToken_OtherClientIgnored(t *testing.T) {
	p := NewProvider()
	defer p.Stop()

	client := testClient()
	tokens := exchange(t, p, client)

	other := &oauth.ClientInformation{ClientID: "other-client"}
	err := p.RevokeToken(context.Background(), other, &oauth.TokenRevocationRequest{Token: tokens.AccessToken})
	if err != nil {
		t.Fatalf("RevokeToken() error = %v", err)
	}

	// The token still belongs to its owner
	if _, err := p.VerifyAccessToken(context.Background(), tokens.AccessToken); err != nil {
		t.Errorf("another client's revocation must not take effect: %v", err)
	}
}

func TestCleanup(t *testing.T) {
	p := NewProvider(WithCodeTTL(time.Nanosecond), WithAccessTokenTTL(time.Nanosecond))
	defer p.Stop()

	client := testClient()
	issueCode(t, p, client, testParams())

	time.Sleep(5 * time.Millisecond)
	p.cleanup()

	p.mu.Lock()
	codes := len(p.authCodes)
	p.mu.Unlock()
	if codes != 0 {
		t.Errorf("authCodes = %d after cleanup, want 0", codes)
	}
}
