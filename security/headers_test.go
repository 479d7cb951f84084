package security

import (
	"net/http/httptest"
	"testing"
)

func TestSetSecurityHeaders(t *testing.T) {
	rr := httptest.NewRecorder()
	SetSecurityHeaders(rr, "https://auth.example.com")

	checks := map[string]string{
		"X-Frame-Options":           "DENY",
		"X-Content-Type-Options":    "nosniff",
		"Referrer-Policy":           "no-referrer",
		"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
		"Pragma":                    "no-cache",
	}
	for header, want := range checks {
		if got := rr.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if rr.Header().Get("Cache-Control") == "" {
		t.Error("Cache-Control should be set")
	}
}

func TestSetSecurityHeaders_NoHSTSOverHTTP(t *testing.T) {
	rr := httptest.NewRecorder()
	SetSecurityHeaders(rr, "http://localhost:8080")

	if got := rr.Header().Get("Strict-Transport-Security"); got != "" {
		t.Errorf("Strict-Transport-Security = %q, want unset for http issuer", got)
	}
}
