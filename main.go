package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kelseyhightower/envconfig"

	"git.capy.fun/mockwebserver/heldcert"
	"git.capy.fun/mockwebserver/mockserver"
)

type Config struct {
	mockserver.Options

	ListenPort    int        `envconfig:"LISTEN_PORT" default:"8443"`
	TLSEnabled    bool       `envconfig:"TLS_ENABLED" default:"true"`
	TLSCertFile   string     `envconfig:"TLS_CERT_FILE"`
	TLSKeyFile    string     `envconfig:"TLS_KEY_FILE"`
	TLSHostnames  []string   `envconfig:"TLS_HOSTNAMES" default:"localhost,127.0.0.1"`
	ResponsesFile string     `envconfig:"RESPONSES_FILE"`
	LogLevel      slog.Level `envconfig:"LOG_LEVEL" default:"INFO"`
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return err
	}

	logger := slog.New(newHandler(os.Stderr, config.LogLevel))
	slog.SetDefault(logger)
	config.Logger = logger

	tlsConfig, err := serverTLSConfig(config)
	if err != nil {
		return err
	}
	config.TLSConfig = tlsConfig

	server := mockserver.New(config.Options)

	if config.ResponsesFile != "" {
		responses, err := loadResponses(config.ResponsesFile)
		if err != nil {
			return fmt.Errorf("failed to load responses: %w", err)
		}
		for _, r := range responses {
			server.Enqueue(r)
		}
		logger.Info("responses queued", slog.Int("count", len(responses)))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := server.Start(config.ListenPort); err != nil {
		return err
	}
	defer server.Stop()

	logger.Info("serving", slog.String("url", server.URL("/").String()))

	for {
		req, err := server.TakeRequestContext(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, mockserver.ErrServerClosed) {
				logger.Info("shutting down")
				return nil
			}
			return err
		}

		logger.Info("recorded request",
			slog.Int("index", req.ExchangeIndex),
			slog.String("method", req.Method),
			slog.String("url", req.URL.String()),
			slog.Any("sni", req.HandshakeServerNames),
			slog.String("alpn", req.NegotiatedProtocol()),
			slog.Int("body", len(req.Body)),
		)
	}
}

// serverTLSConfig loads the configured key pair, or generates a self-signed
// identity for TLS_HOSTNAMES when no files are given.
func serverTLSConfig(config Config) (*tls.Config, error) {
	if !config.TLSEnabled {
		return nil, nil
	}

	if config.TLSCertFile != "" || config.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(config.TLSCertFile, config.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load key pair: %w", err)
		}
		return &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}, nil
	}

	cert, err := heldcert.New(heldcert.Options{
		CommonName: config.HostName,
		Hosts:      config.TLSHostnames,
	})
	if err != nil {
		return nil, err
	}
	return cert.ServerConfig(), nil
}
