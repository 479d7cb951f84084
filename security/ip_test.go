package security

import (
	"net/http/httptest"
	"testing"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name              string
		remoteAddr        string
		xForwardedFor     string
		xRealIP           string
		trustProxy        bool
		trustedProxyCount int
		want              string
	}{
		{
			name:       "direct connection",
			remoteAddr: "203.0.113.5:4321",
			want:       "203.0.113.5",
		},
		{
			name:          "forwarded-for ignored without trust",
			remoteAddr:    "10.0.0.1:4321",
			xForwardedFor: "203.0.113.5",
			want:          "10.0.0.1",
		},
		{
			name:              "forwarded-for honored with trust",
			remoteAddr:        "10.0.0.1:4321",
			xForwardedFor:     "203.0.113.5, 10.0.0.1",
			trustProxy:        true,
			trustedProxyCount: 1,
			want:              "203.0.113.5",
		},
		{
			name:              "two trusted proxies",
			remoteAddr:        "10.0.0.1:4321",
			xForwardedFor:     "203.0.113.5, 10.0.0.2, 10.0.0.1",
			trustProxy:        true,
			trustedProxyCount: 2,
			want:              "203.0.113.5",
		},
		{
			name:              "short forwarded-for list",
			remoteAddr:        "10.0.0.1:4321",
			xForwardedFor:     "203.0.113.5",
			trustProxy:        true,
			trustedProxyCount: 3,
			want:              "203.0.113.5",
		},
		{
			name:       "real-ip honored with trust",
			remoteAddr: "10.0.0.1:4321",
			xRealIP:    "203.0.113.5",
			trustProxy: true,
			want:       "203.0.113.5",
		},
		{
			name:          "garbage forwarded-for falls back to remote addr",
			remoteAddr:    "10.0.0.1:4321",
			xForwardedFor: "not-an-ip",
			trustProxy:    true,
			want:          "10.0.0.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xForwardedFor != "" {
				r.Header.Set("X-Forwarded-For", tt.xForwardedFor)
			}
			if tt.xRealIP != "" {
				r.Header.Set("X-Real-IP", tt.xRealIP)
			}

			got := GetClientIP(r, tt.trustProxy, tt.trustedProxyCount)
			if got != tt.want {
				t.Errorf("GetClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
