package parser

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
)

type clientIPKey struct{}

// WithClientIP records the resolved client address for ClientIP.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIP returns the address recorded by WithClientIP, else the socket peer.
// Forwarding headers are never read here.
func ClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPKey{}).(string); ok && ip != "" {
		return ip
	}
	return peerIP(r)
}

func peerIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ProxyResolver derives the client address from X-Forwarded-For, but only for
// requests whose socket peer is a trusted proxy.
type ProxyResolver struct {
	trusted []*net.IPNet
}

// NewProxyResolver accepts CIDRs or bare IPs.
func NewProxyResolver(proxies []string) (*ProxyResolver, error) {
	pr := &ProxyResolver{}
	for _, p := range proxies {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.Contains(p, "/") {
			ip := net.ParseIP(p)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy %q", p)
			}
			bits := 128
			if ip.To4() != nil {
				ip, bits = ip.To4(), 32
			}
			pr.trusted = append(pr.trusted, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, network, err := net.ParseCIDR(p)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", p, err)
		}
		pr.trusted = append(pr.trusted, network)
	}
	return pr, nil
}

func (pr *ProxyResolver) isTrusted(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range pr.trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Resolve walks X-Forwarded-For from the right and returns the first hop that
// is not a trusted proxy. Untrusted peers get their socket address.
func (pr *ProxyResolver) Resolve(r *http.Request) string {
	client := peerIP(r)
	if pr == nil || !pr.isTrusted(client) {
		return client
	}

	hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if net.ParseIP(hop) == nil {
			// Garbage left of here was written by someone we do not trust.
			return client
		}
		client = hop
		if !pr.isTrusted(hop) {
			return hop
		}
	}
	return client
}
