package dialer

import (
	"bufio"
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.capy.fun/mockwebserver/mockserver"
)

func startProxy(t *testing.T) *mockserver.Server {
	t.Helper()

	s := mockserver.New(mockserver.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	_, err := s.Start(0)
	require.NoError(t, err)
	t.Cleanup(s.Stop)
	return s
}

func TestHttpProxyOpensTunnel(t *testing.T) {
	s := startProxy(t)
	s.Enqueue(&mockserver.Response{})
	s.Enqueue(mockserver.NewResponse(http.StatusOK, "through the tunnel"))

	proxy := NewHttpProxy(HttpProxyConfig{
		Address:  s.Addr().String(),
		Username: "user",
		Password: "secret",
		Timeout:  5 * time.Second,
	})

	conn, err := proxy.DialContext(context.Background(), "tcp", "example.test:80")
	require.NoError(t, err)
	defer conn.Close()

	_, err = io.WriteString(conn, "GET /inside HTTP/1.1\r\nHost: example.test\r\n\r\n")
	require.NoError(t, err)
	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "through the tunnel", string(body))

	connect, err := s.TakeRequest(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, http.MethodConnect, connect.Method)
	assert.Equal(t, "example.test:80", connect.Target)
	assert.Equal(t, "Basic "+base64.StdEncoding.EncodeToString([]byte("user:secret")), connect.Header("Proxy-Authorization"))

	inside, err := s.TakeRequest(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "/inside", inside.Path())
	assert.Equal(t, connect.ConnectionID, inside.ConnectionID)
}

func TestHttpProxyRejected(t *testing.T) {
	s := startProxy(t)
	s.Enqueue(mockserver.NewResponse(http.StatusProxyAuthRequired, ""))

	proxy := NewHttpProxy(HttpProxyConfig{Address: s.Addr().String()})
	_, err := proxy.DialContext(context.Background(), "tcp", "example.test:443")
	require.ErrorContains(t, err, "407")

	connect, err := s.TakeRequest(5 * time.Second)
	require.NoError(t, err)
	assert.Empty(t, connect.Header("Proxy-Authorization"))
}
