package main

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandlerFormatsLine(t *testing.T) {
	var out bytes.Buffer
	logger := slog.New(newHandler(&out, slog.LevelInfo))

	logger.Info("recorded request", slog.String("method", "GET"), slog.Int("status", 200))

	line := out.String()
	assert.True(t, strings.HasPrefix(line, "INFO  ["), line)
	assert.Contains(t, line, "] recorded request\tmethod=GET status=200\n")
}

func TestHandlerFiltersLevel(t *testing.T) {
	var out bytes.Buffer
	logger := slog.New(newHandler(&out, slog.LevelWarn))

	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), "WARN  ")
}

func TestHandlerKeepsAttrsAndGroups(t *testing.T) {
	var out bytes.Buffer
	logger := slog.New(newHandler(&out, slog.LevelDebug)).
		With(slog.String("conn", "c1")).
		WithGroup("tls")

	logger.Debug("handshake", slog.String("sni", "url-host"))

	assert.Contains(t, out.String(), "conn=c1 tls.sni=url-host")
}
