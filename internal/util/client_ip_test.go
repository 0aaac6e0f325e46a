package util

import (
	"net/http/httptest"
	"testing"
)

func TestClientIPResolution(t *testing.T) {
	ingress, err := NewTrustedProxies([]string{"10.64.0.0/16", "172.16.0.9"})
	if err != nil {
		t.Fatalf("new trusted proxies: %v", err)
	}

	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		realIP     string
		trusted    *TrustedProxies
		want       string
	}{
		{
			name:       "direct voter without proxies",
			remoteAddr: "203.0.113.40:55011",
			forwarded:  "198.51.100.2",
			want:       "203.0.113.40",
		},
		{
			name:       "untrusted peer cannot forward",
			remoteAddr: "203.0.113.40:55011",
			forwarded:  "198.51.100.2",
			trusted:    ingress,
			want:       "203.0.113.40",
		},
		{
			name:       "ingress forwards the voter address",
			remoteAddr: "10.64.3.7:443",
			forwarded:  "198.51.100.2",
			trusted:    ingress,
			want:       "198.51.100.2",
		},
		{
			name:       "bare-address proxy entry is honored",
			remoteAddr: "172.16.0.9:443",
			forwarded:  "198.51.100.2",
			trusted:    ingress,
			want:       "198.51.100.2",
		},
		{
			name:       "rightmost untrusted hop wins",
			remoteAddr: "10.64.3.7:443",
			forwarded:  "198.51.100.2, 203.0.113.90, 10.64.0.1",
			trusted:    ingress,
			want:       "203.0.113.90",
		},
		{
			name:       "all-trusted chain yields its origin",
			remoteAddr: "10.64.3.7:443",
			forwarded:  "10.64.9.9, 10.64.0.1",
			trusted:    ingress,
			want:       "10.64.9.9",
		},
		{
			name:       "malformed chain falls back to x-real-ip",
			remoteAddr: "10.64.3.7:443",
			forwarded:  "198.51.100.2, not-an-ip",
			realIP:     "198.51.100.7",
			trusted:    ingress,
			want:       "198.51.100.7",
		},
		{
			name:       "no headers at all returns the peer",
			remoteAddr: "10.64.3.7:443",
			trusted:    ingress,
			want:       "10.64.3.7",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/categories/abc/vote", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tc.forwarded)
			}
			if tc.realIP != "" {
				req.Header.Set("X-Real-IP", tc.realIP)
			}
			if got := ClientIP(req, tc.trusted); got != tc.want {
				t.Fatalf("client ip = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewTrustedProxiesRejectsGarbage(t *testing.T) {
	if _, err := NewTrustedProxies([]string{"10.64.0.0/16", ""}); err != nil {
		t.Fatalf("blank entries should be skipped, got %v", err)
	}
	if _, err := NewTrustedProxies([]string{"ingress.internal"}); err == nil {
		t.Fatalf("expected parse error for a hostname entry")
	}
}
