// Package dialer holds the client side pieces tests use to reach a mock
// server under a different name: a DNS override and an HTTP CONNECT tunnel.
// The server never calls into this package.
package dialer

import (
	"context"
	"net"
)

// Dialer matches the DialContext hook of net/http.Transport.
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

var _ Dialer = (*net.Dialer)(nil)
