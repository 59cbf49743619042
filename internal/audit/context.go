package audit

import (
	"context"
	"net"
)

type ipKey struct{}

// WithClientIP stores the caller's address. host:port values are reduced to the host.
func WithClientIP(ctx context.Context, addr string) context.Context {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return context.WithValue(ctx, ipKey{}, addr)
}

// ClientIP returns the address stored by WithClientIP, or "unknown".
func ClientIP(ctx context.Context) string {
	if ip, _ := ctx.Value(ipKey{}).(string); ip != "" {
		return ip
	}
	return "unknown"
}
