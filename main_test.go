package main

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	var config Config
	require.NoError(t, envconfig.Process("", &config))

	assert.Equal(t, 8443, config.ListenPort)
	assert.True(t, config.TLSEnabled)
	assert.Equal(t, []string{"localhost", "127.0.0.1"}, config.TLSHostnames)
	assert.Equal(t, slog.LevelInfo, config.LogLevel)
	assert.Equal(t, "localhost", config.HostName)
	assert.Equal(t, "127.0.0.1", config.ListenHost)
	assert.Equal(t, 5*time.Second, config.HandshakeTimeout)
	assert.Zero(t, config.ResponseWait)
}

func TestConfigFromEnvironment(t *testing.T) {
	t.Setenv("LISTEN_PORT", "0")
	t.Setenv("TLS_ENABLED", "false")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("HOST_NAME", "mock.test")
	t.Setenv("RESPONSE_WAIT", "250ms")
	t.Setenv("MAX_CONNECTIONS", "4")

	var config Config
	require.NoError(t, envconfig.Process("", &config))

	assert.Zero(t, config.ListenPort)
	assert.False(t, config.TLSEnabled)
	assert.Equal(t, slog.LevelDebug, config.LogLevel)
	assert.Equal(t, "mock.test", config.HostName)
	assert.Equal(t, 250*time.Millisecond, config.ResponseWait)
	assert.Equal(t, int64(4), config.MaxConnections)
}

func TestServerTLSConfig(t *testing.T) {
	config, err := serverTLSConfig(Config{TLSEnabled: false})
	require.NoError(t, err)
	assert.Nil(t, config)

	config, err = serverTLSConfig(Config{TLSEnabled: true, TLSHostnames: []string{"url-host"}})
	require.NoError(t, err)
	require.Len(t, config.Certificates, 1)
	assert.Equal(t, []string{"url-host"}, config.Certificates[0].Leaf.DNSNames)

	missing := filepath.Join(t.TempDir(), "missing.pem")
	_, err = serverTLSConfig(Config{TLSEnabled: true, TLSCertFile: missing, TLSKeyFile: missing})
	require.Error(t, err)
}
