package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, BackendPhone, cfg.Reader.Backend)
	assert.Equal(t, "en", cfg.Reader.Language)
	assert.Equal(t, 3, cfg.Transfer.Confirm.Attempts)
	assert.Equal(t, time.Second, cfg.Transfer.Confirm.Pacing)
	assert.Equal(t, 2, cfg.Transfer.ScanRetry.Attempts)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
server:
  port: 9000
  mdns: false
reader:
  backend: usb
  device: "pn532_uart:/dev/ttyUSB0"
ledger:
  network: mainnet
  rpcURL: https://fullnode.mainnet.sui.io:443
transfer:
  confirm:
    attempts: 5
    pacing: 2s
  scanRetry:
    attempts: 0
wallet:
  sender: "0xabc123"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.False(t, cfg.Server.MDNS)
	assert.Equal(t, BackendUSB, cfg.Reader.Backend)
	assert.Equal(t, "pn532_uart:/dev/ttyUSB0", cfg.Reader.Device)
	assert.Equal(t, "mainnet", cfg.Ledger.Network)
	assert.Equal(t, DefaultRelayURL, cfg.Ledger.RelayURL, "unset keys keep defaults")
	assert.Equal(t, 5, cfg.Transfer.Confirm.Attempts)
	assert.Equal(t, 2*time.Second, cfg.Transfer.Confirm.Pacing)
	assert.Equal(t, 0, cfg.Transfer.ScanRetry.Attempts)
	assert.Equal(t, time.Second, cfg.Transfer.ScanRetry.Pacing)
	assert.Equal(t, "0xabc123", cfg.Wallet.Sender)
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeFile(t, "\n"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := Load(writeFile(t, "server:\n  prot: 9000\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prot")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"mdns name", func(c *Config) { c.Server.Name = " " }, "server.name"},
		{"backend", func(c *Config) { c.Reader.Backend = "bluetooth" }, "reader.backend"},
		{"language", func(c *Config) { c.Reader.Language = "" }, "reader.language"},
		{"rpc url", func(c *Config) { c.Ledger.RPCURL = "ftp://node" }, "ledger.rpcURL"},
		{"relay url", func(c *Config) { c.Ledger.RelayURL = "" }, "ledger.relayURL"},
		{"explorer", func(c *Config) { c.Ledger.Explorer = "https://suiscan.xyz" }, "ledger.explorer"},
		{"confirm attempts", func(c *Config) { c.Transfer.Confirm.Attempts = 0 }, "transfer.confirm.attempts"},
		{"scan attempts", func(c *Config) { c.Transfer.ScanRetry.Attempts = -1 }, "transfer.scanRetry.attempts"},
		{"pacing", func(c *Config) { c.Transfer.Confirm.Pacing = -time.Second }, "pacing"},
		{"sender", func(c *Config) { c.Wallet.Sender = "not an address" }, "wallet.sender"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0
	cfg.Reader.Backend = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "reader.backend")
}

func TestSaveThenLoad(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 8443
	cfg.Server.TLS.Enabled = true
	cfg.Transfer.Confirm.Pacing = 1500 * time.Millisecond

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
