package dialer

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"
)

type HttpProxyConfig struct {
	Address  string        `envconfig:"HTTP_PROXY_ADDRESS" required:"true"`
	Username string        `envconfig:"HTTP_PROXY_USERNAME"`
	Password string        `envconfig:"HTTP_PROXY_PASSWORD"`
	Timeout  time.Duration `envconfig:"HTTP_PROXY_TIMEOUT" default:"5s"`
}

// HttpProxy opens tunnels through an HTTP proxy with CONNECT.
type HttpProxy struct {
	config HttpProxyConfig
	logger *slog.Logger
}

func NewHttpProxy(config HttpProxyConfig) *HttpProxy {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	return &HttpProxy{
		config: config,
		logger: slog.With(slog.String("dialer", "http-proxy")),
	}
}

func (h *HttpProxy) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	// dial upstream HTTP proxy
	var d net.Dialer
	proxyConn, err := d.DialContext(ctx, network, h.config.Address)
	if err != nil {
		h.logger.Error("failed to connect to proxy", slog.Any("error", err))
		return nil, err
	}

	connectReq := &http.Request{
		URL:    &url.URL{Opaque: addr},
		Method: http.MethodConnect,
		Host:   addr,
		Header: http.Header{},
	}
	// send CONNECT request with Basic Auth when credentials are configured
	if h.config.Username != "" || h.config.Password != "" {
		credentials := h.config.Username + ":" + h.config.Password
		connectReq.Header.Set("Proxy-Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(credentials)))
	}

	if err = proxyConn.SetDeadline(time.Now().Add(h.config.Timeout)); err != nil {
		proxyConn.Close()
		return nil, fmt.Errorf("failed to set proxy timeout: %w", err)
	}

	if err = connectReq.Write(proxyConn); err != nil {
		proxyConn.Close()
		return nil, fmt.Errorf("failed to write connect request: %w", err)
	}

	// read proxy response
	br := bufio.NewReader(proxyConn)
	resp, err := http.ReadResponse(br, connectReq)
	if err != nil {
		proxyConn.Close()
		return nil, fmt.Errorf("failed to read connect response: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		proxyConn.Close()
		h.logger.Error("proxy rejected connect request", slog.Int("code", resp.StatusCode))
		return nil, fmt.Errorf("proxy rejected connect request: %s", resp.Status)
	}
	if br.Buffered() > 0 {
		proxyConn.Close()
		return nil, fmt.Errorf("proxy sent %d unexpected bytes after connect response", br.Buffered())
	}

	if err = proxyConn.SetDeadline(time.Time{}); err != nil {
		proxyConn.Close()
		return nil, err
	}
	return proxyConn, nil
}
