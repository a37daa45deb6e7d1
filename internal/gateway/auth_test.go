package gateway

import (
	"net/http"
	"testing"
)

func TestConstantTimeEqualMatches(t *testing.T) {
	if !constantTimeEqual("secret-token", "secret-token") {
		t.Fatal("expected equal tokens to match")
	}
}

func TestConstantTimeEqualMismatch(t *testing.T) {
	if constantTimeEqual("secret-token", "wrong-token!") {
		t.Fatal("expected mismatched same-length tokens to fail")
	}
}

func TestConstantTimeEqualLengthMismatch(t *testing.T) {
	if constantTimeEqual("a-much-longer-secret-token", "short") {
		t.Fatal("expected length-mismatched tokens to fail")
	}
	if constantTimeEqual("", "nonempty") {
		t.Fatal("expected empty want to fail against nonempty got")
	}
}

func TestIsLoopback(t *testing.T) {
	cases := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:54321", true},
		{"[::1]:54321", true},
		{"203.0.113.5:443", false},
	}
	for _, c := range cases {
		r := &http.Request{RemoteAddr: c.addr}
		if got := isLoopback(r); got != c.want {
			t.Errorf("isLoopback(%q) = %v, want %v", c.addr, got, c.want)
		}
	}
}

func TestRemoteAddrStripsPort(t *testing.T) {
	r := &http.Request{RemoteAddr: "198.51.100.9:1234"}
	if got := remoteAddr(r); got != "198.51.100.9" {
		t.Errorf("remoteAddr = %q, want 198.51.100.9", got)
	}
}
