package gateway

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
)

// isLoopback reports whether r originated from 127.0.0.0/8 or ::1,
// per spec.md §4.4's localhostBypassAuth rule.
func isLoopback(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}

// constantTimeEqual compares got against want in constant time. A
// length mismatch still consumes a full comparison against a
// same-length dummy so that response timing never leaks the expected
// token's length.
func constantTimeEqual(want, got string) bool {
	if len(want) != len(got) {
		dummy := strings.Repeat("x", len(got))
		subtle.ConstantTimeCompare([]byte(dummy), []byte(got))
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

// remoteAddr extracts the bare IP (no port) from a request, used as
// the failed-auth table's key.
func remoteAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
