package dialer

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
)

// Override resolves host names through a fixed table. Entries map a lower
// case host name, or "*" for any host, to "ip" or "ip:port"; without a port
// the dialed port is kept.
type Override struct {
	Hosts map[string]string
	// Fallback dials hosts missing from Hosts. Nil refuses them.
	Fallback Dialer

	logger *slog.Logger
}

func NewOverride(hosts map[string]string, fallback Dialer) *Override {
	return &Override{
		Hosts:    hosts,
		Fallback: fallback,
		logger:   slog.With(slog.String("dialer", "override")),
	}
}

// Static sends every connection to addr no matter which host was dialed,
// the way a test points a made-up host name at the server's address.
func Static(addr string) *Override {
	return NewOverride(map[string]string{"*": addr}, nil)
}

func (o *Override) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to split address %q: %w", addr, err)
	}

	target, ok := o.lookup(host)
	if !ok {
		if o.Fallback == nil {
			return nil, fmt.Errorf("no override for host %q", host)
		}
		return o.Fallback.DialContext(ctx, network, addr)
	}
	if _, _, err := net.SplitHostPort(target); err != nil {
		target = net.JoinHostPort(target, port)
	}

	if o.logger != nil {
		o.logger.Debug("overriding host", slog.String("host", host), slog.String("target", target))
	}

	var d net.Dialer
	return d.DialContext(ctx, network, target)
}

func (o *Override) lookup(host string) (string, bool) {
	if target, ok := o.Hosts[strings.ToLower(host)]; ok {
		return target, true
	}
	target, ok := o.Hosts["*"]
	return target, ok
}
