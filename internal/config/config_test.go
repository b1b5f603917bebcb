package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 50051, cfg.Server.GRPCPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)

	assert.Equal(t, "lab/lockin/1", cfg.Device.Name)
	assert.Equal(t, "192.168.1.242", cfg.Device.Endpoint)
	assert.Equal(t, 1865, cfg.Device.SocketPort)
	assert.Equal(t, 2*time.Second, cfg.Device.Timeout)
	assert.Equal(t, byte('\n'), cfg.Device.TerminatorByte())
	assert.Zero(t, cfg.Device.PollInterval)

	assert.False(t, cfg.Database.Enabled)
	assert.False(t, cfg.Auth.Enabled)
	assert.Equal(t, time.Hour, cfg.Auth.AccessTokenTTL)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 9090
device:
  name: mbi/lockin/b1
  endpoint: 3232236018
  terminator: cr
  poll_interval: 500ms
  polled_attributes: [X, Y]
database:
  enabled: true
  host: db.lab
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.HTTPPort)
	assert.Equal(t, "mbi/lockin/b1", cfg.Device.Name)
	assert.Equal(t, "3232236018", cfg.Device.Endpoint)
	assert.Equal(t, byte('\r'), cfg.Device.TerminatorByte())
	assert.Equal(t, 500*time.Millisecond, cfg.Device.PollInterval)
	assert.Equal(t, []string{"X", "Y"}, cfg.Device.PolledAttributes)
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, "postgres://openlockin:@db.lab:5432/openlockin?sslmode=disable", cfg.Database.DSN())
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("OLI_DEVICE_ENDPOINT", "TCPIP::10.1.2.3::INSTR")
	t.Setenv("OLI_SERVER_HTTP_PORT", "8181")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "TCPIP::10.1.2.3::INSTR", cfg.Device.Endpoint)
	assert.Equal(t, 8181, cfg.Server.HTTPPort)
}

func TestLoadRejectsInvalidDevice(t *testing.T) {
	tests := map[string]string{
		"bad name":       "device:\n  name: lockin\n",
		"bad terminator": "device:\n  terminator: crlf\n",
		"bad port":       "device:\n  socket_port: 70000\n",
		"bad attribute":  "device:\n  polled_attributes: [Z]\n",
		"blank endpoint": "device:\n  endpoint: \"\"\n",
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid device config")
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestJWTSecret(t *testing.T) {
	auth := AuthConfig{JWTSecretEnv: "OLI_TEST_SECRET"}

	t.Setenv("OLI_TEST_SECRET", "")
	assert.Equal(t, devJWTSecret, auth.GetJWTSecret())
	assert.False(t, auth.IsProductionReady())

	t.Setenv("OLI_TEST_SECRET", "0123456789abcdef0123456789abcdef")
	assert.True(t, auth.IsProductionReady())
}
