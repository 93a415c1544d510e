package mcp

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// IPClassifier decides whether a caller address is internal or external.
// Forwarded-address headers are honored only when the direct peer is a
// configured trusted proxy; otherwise clients could spoof X-Forwarded-For
// to see internal-only servers.
type IPClassifier struct {
	trustedProxies []netip.Prefix
}

// NewIPClassifier parses trusted proxy CIDRs. Entries that fail to parse
// are skipped; a bare IP is treated as a /32 (or /128).
func NewIPClassifier(trustedCIDRs []string) *IPClassifier {
	c := &IPClassifier{}
	for _, raw := range trustedCIDRs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if prefix, err := netip.ParsePrefix(raw); err == nil {
			c.trustedProxies = append(c.trustedProxies, prefix)
			continue
		}
		if addr, err := netip.ParseAddr(raw); err == nil {
			c.trustedProxies = append(c.trustedProxies, netip.PrefixFrom(addr, addr.BitLen()))
		}
	}
	return c
}

// CallerIP extracts the caller address from a request. The forwarded chain
// is consulted only when the direct peer is a trusted proxy, in which case
// the first address in X-Forwarded-For (or X-Real-Ip) wins.
func (c *IPClassifier) CallerIP(r *http.Request) string {
	peer := hostOnly(r.RemoteAddr)

	if !c.isTrustedProxy(peer) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if first != "" {
			return hostOnly(first)
		}
	}
	if realIP := r.Header.Get("X-Real-Ip"); realIP != "" {
		return hostOnly(realIP)
	}
	return peer
}

// IsInternal reports whether an address belongs to the internal network:
// loopback, RFC 1918 private ranges, link-local, or unspecified.
// Unparseable addresses are treated as external.
func (c *IPClassifier) IsInternal(ip string) bool {
	addr, err := netip.ParseAddr(hostOnly(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsUnspecified()
}

func (c *IPClassifier) isTrustedProxy(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range c.trustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func hostOnly(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return strings.Trim(addr, "[]")
}
