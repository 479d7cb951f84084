package security

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP extracts the client IP address from the request.
// X-Forwarded-For and X-Real-IP are only consulted when trustProxy is
// set; trustedProxyCount is the number of proxies in front of this
// server, counted from the right of X-Forwarded-For.
func GetClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := ipFromForwardedFor(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if ip := r.Header.Get("X-Real-IP"); net.ParseIP(ip) != nil {
			return ip
		}
	}
	return ipFromRemoteAddr(r.RemoteAddr)
}

// ipFromForwardedFor picks the client IP out of an X-Forwarded-For list.
// The rightmost trustedProxyCount entries are proxies we control; the
// client IP sits immediately before them.
func ipFromForwardedFor(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}

	ips := strings.Split(xff, ",")
	if trustedProxyCount < 1 {
		trustedProxyCount = 1
	}

	clientIndex := len(ips) - trustedProxyCount - 1
	if clientIndex < 0 {
		clientIndex = 0
	}

	ip := strings.TrimSpace(ips[clientIndex])
	if net.ParseIP(ip) != nil {
		return ip
	}
	return ""
}

// ipFromRemoteAddr strips the port from a direct connection address
func ipFromRemoteAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
