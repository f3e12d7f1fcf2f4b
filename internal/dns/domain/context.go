package domain

import (
	"context"
	"net"
)

type clientAddrKey struct{}

// WithClientAddr attaches the querying client's address to ctx.
func WithClientAddr(ctx context.Context, addr net.Addr) context.Context {
	return context.WithValue(ctx, clientAddrKey{}, addr)
}

// ClientAddrFrom returns the client address stored by WithClientAddr.
func ClientAddrFrom(ctx context.Context) (net.Addr, bool) {
	addr, ok := ctx.Value(clientAddrKey{}).(net.Addr)
	return addr, ok && addr != nil
}

// ClientIP returns just the host part of the client address, or "" when unknown.
func ClientIP(ctx context.Context) string {
	addr, ok := ClientAddrFrom(ctx)
	if !ok {
		return ""
	}
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP.String()
	case *net.TCPAddr:
		return a.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
