// Package realip resolves the client address of a request, honouring
// X-Forwarded-For only when the peer is a trusted proxy.
package realip

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

type contextKey string

// ClientIPKey is the context key for the resolved client IP
const ClientIPKey contextKey = "client_ip"

// Config holds the configuration for the real IP middleware
type Config struct {
	TrustProxy bool
	// TrustedProxies holds CIDR ranges or bare addresses
	TrustedProxies []string
}

// Resolver picks the client address out of a request.
type Resolver struct {
	trustProxy bool
	trusted    []netip.Prefix
}

// NewResolver parses the trusted proxy list. Bare addresses are treated as
// single-host prefixes.
func NewResolver(cfg Config) (*Resolver, error) {
	r := &Resolver{trustProxy: cfg.TrustProxy}
	if !cfg.TrustProxy {
		return r, nil
	}
	for _, entry := range cfg.TrustedProxies {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if p, err := netip.ParsePrefix(entry); err == nil {
			r.trusted = append(r.trusted, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q", entry)
		}
		r.trusted = append(r.trusted, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return r, nil
}

func (r *Resolver) isTrusted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range r.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP returns the address the request originated from. Forwarding
// headers are read right to left and the first untrusted hop wins.
func (r *Resolver) ClientIP(req *http.Request) string {
	peer := hostOnly(req.RemoteAddr)
	if !r.trustProxy || !r.isTrusted(peer) {
		return peer
	}

	xff := req.Header.Get("X-Forwarded-For")
	if xff == "" {
		if xri := strings.TrimSpace(req.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
		return peer
	}

	hops := strings.Split(xff, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop != "" && !r.isTrusted(hop) {
			return hop
		}
	}
	// every hop is a proxy we trust
	return strings.TrimSpace(hops[0])
}

// Middleware stores the resolved client IP in the request context.
func Middleware(resolver *Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), ClientIPKey, resolver.ClientIP(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClientIP retrieves the client IP stored by Middleware, falling back to
// the peer address.
func GetClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(ClientIPKey).(string); ok && ip != "" {
		return ip
	}
	return hostOnly(r.RemoteAddr)
}

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
