package util

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// TrustedProxies is the set of proxy addresses allowed to assert a client
// address through forwarding headers. Vote and predict rate limits key on
// the resolved address, so an empty set ignores forwarding headers outright
// rather than letting any caller spoof its way past a window.
type TrustedProxies struct {
	blocks []*net.IPNet
}

// NewTrustedProxies parses CIDR blocks; bare addresses are treated as
// single-host blocks.
func NewTrustedProxies(entries []string) (*TrustedProxies, error) {
	t := &TrustedProxies{}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if ip := net.ParseIP(entry); ip != nil {
			if ip.To4() != nil {
				entry += "/32"
			} else {
				entry += "/128"
			}
		}
		_, block, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
		}
		t.blocks = append(t.blocks, block)
	}
	return t, nil
}

// Contains reports whether ip belongs to a trusted block.
func (t *TrustedProxies) Contains(ip net.IP) bool {
	if t == nil || ip == nil {
		return false
	}
	for _, block := range t.blocks {
		if block.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP resolves the voting client's address. The transport peer wins
// unless it is a trusted proxy, in which case X-Forwarded-For is walked
// right to left until the first hop outside the trusted set; a chain of
// only trusted hops yields its leftmost entry. X-Real-IP is the fallback
// when the forwarded chain is unusable.
func ClientIP(r *http.Request, trusted *TrustedProxies) string {
	peer := remoteIP(r.RemoteAddr)
	if peer == nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	if !trusted.Contains(peer) {
		return peer.String()
	}
	if chain := forwardedChain(r.Header.Get("X-Forwarded-For")); len(chain) > 0 {
		for i := len(chain) - 1; i >= 0; i-- {
			if !trusted.Contains(chain[i]) {
				return chain[i].String()
			}
		}
		return chain[0].String()
	}
	if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
		return ip.String()
	}
	return peer.String()
}

// forwardedChain parses X-Forwarded-For; any malformed hop invalidates the
// whole chain since its order can no longer be trusted.
func forwardedChain(raw string) []net.IP {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	chain := make([]net.IP, 0, len(parts))
	for _, part := range parts {
		ip := net.ParseIP(strings.TrimSpace(part))
		if ip == nil {
			return nil
		}
		chain = append(chain, ip)
	}
	return chain
}

func remoteIP(addr string) net.IP {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	return net.ParseIP(strings.TrimSpace(host))
}
