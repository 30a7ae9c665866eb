package dialer

import (
	"context"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoOnce accepts one connection and writes greeting to it.
func echoOnce(t *testing.T, greeting string) net.Listener {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.WriteString(conn, greeting)
	}()
	return ln
}

func readAll(t *testing.T, conn net.Conn) string {
	t.Helper()
	defer conn.Close()

	b, err := io.ReadAll(conn)
	require.NoError(t, err)
	return string(b)
}

func TestStaticRoutesAnyHost(t *testing.T) {
	ln := echoOnce(t, "static")

	conn, err := Static(ln.Addr().String()).DialContext(context.Background(), "tcp", "url-host:443")
	require.NoError(t, err)
	assert.Equal(t, "static", readAll(t, conn))
}

func TestOverrideKeepsDialedPort(t *testing.T) {
	ln := echoOnce(t, "override")
	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	o := NewOverride(map[string]string{"url-host": "127.0.0.1"}, nil)
	conn, err := o.DialContext(context.Background(), "tcp", net.JoinHostPort("URL-HOST", port))
	require.NoError(t, err)
	assert.Equal(t, "override", readAll(t, conn))
}

func TestOverrideFallback(t *testing.T) {
	ln := echoOnce(t, "fallback")

	o := NewOverride(map[string]string{"other": "192.0.2.1"}, &net.Dialer{})
	conn, err := o.DialContext(context.Background(), "tcp", ln.Addr().String())
	require.NoError(t, err)
	assert.Equal(t, "fallback", readAll(t, conn))
}

func TestOverrideRefusesUnknownHost(t *testing.T) {
	o := NewOverride(map[string]string{"known": "127.0.0.1"}, nil)

	_, err := o.DialContext(context.Background(), "tcp", "unknown:80")
	require.ErrorContains(t, err, "no override")

	_, err = o.DialContext(context.Background(), "tcp", "missing-port")
	require.Error(t, err)
}
