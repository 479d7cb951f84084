package oauth

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestOAuthError_Error(t *testing.T) {
	err := NewOAuthError(ErrorCodeInvalidGrant, "code expired", http.StatusBadRequest)
	want := "invalid_grant: code expired"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestOAuthError_ErrorsAs(t *testing.T) {
	wrapped := fmt.Errorf("exchange failed: %w", ErrInvalidScope("scope too broad"))

	var oerr *OAuthError
	if !errors.As(wrapped, &oerr) {
		t.Fatal("errors.As failed to unwrap *OAuthError")
	}
	if oerr.Code != ErrorCodeInvalidScope {
		t.Errorf("Code = %q, want %q", oerr.Code, ErrorCodeInvalidScope)
	}
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name       string
		err        *OAuthError
		wantCode   string
		wantStatus int
	}{
		{"invalid request", ErrInvalidRequest("x"), ErrorCodeInvalidRequest, http.StatusBadRequest},
		{"invalid grant", ErrInvalidGrant("x"), ErrorCodeInvalidGrant, http.StatusBadRequest},
		{"invalid client", ErrInvalidClient("x"), ErrorCodeInvalidClient, http.StatusUnauthorized},
		{"invalid scope", ErrInvalidScope("x"), ErrorCodeInvalidScope, http.StatusBadRequest},
		{"invalid token", ErrInvalidToken("x"), ErrorCodeInvalidToken, http.StatusUnauthorized},
		{"unauthorized client", ErrUnauthorizedClient("x"), ErrorCodeUnauthorizedClient, http.StatusBadRequest},
		{"unsupported grant type", ErrUnsupportedGrantType("x"), ErrorCodeUnsupportedGrantType, http.StatusBadRequest},
		{"unsupported response type", ErrUnsupportedResponseType("x"), ErrorCodeUnsupportedResponse, http.StatusBadRequest},
		{"server error", ErrServerError("x"), ErrorCodeServerError, http.StatusInternalServerError},
		{"access denied", ErrAccessDenied("x"), ErrorCodeAccessDenied, http.StatusForbidden},
		{"invalid redirect uri", ErrInvalidRedirectURI("x"), ErrorCodeInvalidRedirectURI, http.StatusBadRequest},
		{"invalid client metadata", ErrInvalidClientMetadata("x"), ErrorCodeInvalidClientMetadata, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.wantCode)
			}
			if tt.err.Status != tt.wantStatus {
				t.Errorf("Status = %d, want %d", tt.err.Status, tt.wantStatus)
			}
			if tt.err.Description != "x" {
				t.Errorf("Description = %q, want %q", tt.err.Description, "x")
			}
		})
	}
}
