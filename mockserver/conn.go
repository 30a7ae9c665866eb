package mockserver

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// connection is owned by the goroutine serving it.
type connection struct {
	server *Server
	id     string
	logger *slog.Logger

	raw  net.Conn
	conn net.Conn // raw, or the TLS session on top of it
	br   *bufio.Reader

	scheme      string
	serverNames []string
	tlsState    *tls.ConnectionState
	sequence    int
}

func newConnection(s *Server, raw net.Conn) *connection {
	id := uuid.NewString()
	return &connection{
		server: s,
		id:     id,
		logger: s.logger.With(
			slog.String("conn", id),
			slog.String("remote", raw.RemoteAddr().String()),
		),
		raw:         raw,
		conn:        raw,
		br:          bufio.NewReader(raw),
		scheme:      "http",
		serverNames: []string{},
	}
}

func (c *connection) serve(ctx context.Context, dispatcher Dispatcher, tlsConfig *tls.Config) error {
	defer func() {
		c.conn.Close()
	}()

	if dispatcher.Peek().Policy == DisconnectAtStart {
		c.consume(ctx, dispatcher)
		c.logger.Debug("disconnecting at start")
		return nil
	}

	if tlsConfig != nil {
		for dispatcher.Peek().InTunnel {
			more, err := c.exchange(ctx, dispatcher)
			if err != nil || !more {
				return err
			}
		}
		if err := c.upgrade(ctx, dispatcher, tlsConfig); err != nil {
			return err
		}
	}

	for {
		more, err := c.exchange(ctx, dispatcher)
		if err != nil || !more {
			return err
		}
	}
}

// consume takes the response that applied before any request was read.
func (c *connection) consume(ctx context.Context, dispatcher Dispatcher) {
	if _, err := dispatcher.Dispatch(ctx, nil); err != nil {
		c.logger.Warn("failed to consume scripted response", slog.Any("error", err))
	}
}

func (c *connection) upgrade(ctx context.Context, dispatcher Dispatcher, tlsConfig *tls.Config) error {
	refuse := dispatcher.Peek().Policy == FailHandshake
	if refuse {
		c.consume(ctx, dispatcher)
	}

	raw := c.raw
	// bytes the tunnel phase buffered belong to the handshake
	if n := c.br.Buffered(); n > 0 {
		peeked, _ := c.br.Peek(n)
		raw = &prefixedConn{Conn: c.raw, r: io.MultiReader(bytes.NewReader(bytes.Clone(peeked)), c.raw)}
	}

	hs, err := serverHandshake(ctx, raw, tlsConfig, c.server.opts.HandshakeTimeout, refuse)
	if err != nil {
		return fmt.Errorf("tls handshake failed: %w", err)
	}

	state := hs.conn.ConnectionState()
	c.conn = hs.conn
	c.br = bufio.NewReader(hs.conn)
	c.scheme = "https"
	c.serverNames = hs.serverNames
	c.tlsState = &state

	c.logger.Debug("tls handshake completed",
		slog.Any("sni", c.serverNames),
		slog.String("alpn", state.NegotiatedProtocol),
	)
	return nil
}

// exchange serves one request. It reports whether the connection should be
// read from again.
func (c *connection) exchange(ctx context.Context, dispatcher Dispatcher) (bool, error) {
	wire, err := readRequest(c.br, c.conn)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			return false, nil
		}
		return false, err
	}

	req, err := c.record(wire)
	if err != nil {
		return false, err
	}
	c.server.logRequest(req)

	response, err := dispatcher.Dispatch(ctx, req)
	if err != nil {
		c.server.fail(err)
		return false, err
	}
	if response == nil {
		response = &Response{}
	}

	switch response.Policy {
	case DisconnectAfterRequest:
		return false, nil
	case NoResponse:
		<-ctx.Done()
		return false, nil
	}

	if err := writeResponse(ctx, c.conn, response, wire.Method); err != nil {
		return false, fmt.Errorf("failed to write response: %w", err)
	}
	return wire.keepAlive() && !response.closesConnection(), nil
}

func (c *connection) record(wire *wireRequest) (*RecordedRequest, error) {
	u, err := requestURL(c.scheme, wire, c.server.authority())
	if err != nil {
		return nil, err
	}

	req := &RecordedRequest{
		ID:                   uuid.NewString(),
		ConnectionID:         c.id,
		Sequence:             c.sequence,
		Method:               wire.Method,
		Target:               wire.Target,
		Version:              wire.Version,
		URL:                  u,
		Headers:              wire.Headers,
		Body:                 wire.Body,
		HandshakeServerNames: c.serverNames,
		TLS:                  c.tlsState,
		ReceivedAt:           time.Now(),
	}
	c.sequence++
	return req, nil
}

// requestURL rebuilds the request URL. The host comes from the Host header,
// not from the TLS layer, so domain fronted requests keep both identities.
func requestURL(scheme string, wire *wireRequest, fallbackHost string) (*url.URL, error) {
	host := wire.Headers.Get("Host")
	if host == "" {
		host = fallbackHost
	}

	switch {
	case wire.Method == http.MethodConnect:
		return &url.URL{Scheme: scheme, Host: wire.Target}, nil
	case wire.Target == "*":
		return &url.URL{Scheme: scheme, Host: host, Path: "*"}, nil
	case strings.Contains(wire.Target, "://"):
		u, err := url.Parse(wire.Target)
		if err != nil || u.Host == "" {
			return nil, malformed("bad request target %q", wire.Target)
		}
		return u, nil
	}

	u, err := url.ParseRequestURI(wire.Target)
	if err != nil {
		return nil, malformed("bad request target %q", wire.Target)
	}
	u.Scheme = scheme
	u.Host = host
	return u, nil
}

type prefixedConn struct {
	net.Conn
	r io.Reader
}

func (c *prefixedConn) Read(b []byte) (int, error) {
	return c.r.Read(b)
}
