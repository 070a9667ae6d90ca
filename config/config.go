// Package config defines the agent configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dotside-studios/davi-pay/coordinator"
	"github.com/dotside-studios/davi-pay/ledger/suirpc"
	"github.com/dotside-studios/davi-pay/nfc"
	"github.com/dotside-studios/davi-pay/transfer"
)

// Reader backends.
const (
	BackendPhone = "phone"
	BackendUSB   = "usb"
)

// Default configuration values.
const (
	DefaultPort          = 18080
	DefaultServiceName   = "Davi Pay"
	DefaultNetwork       = "testnet"
	DefaultRPCURL        = "https://fullnode.testnet.sui.io:443"
	DefaultRelayURL      = "http://127.0.0.1:8090"
	DefaultLedgerTimeout = 15 * time.Second
	DefaultDeviceTimeout = 30 * time.Second
)

// Config is the agent configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Reader   ReaderConfig   `yaml:"reader"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Transfer TransferConfig `yaml:"transfer"`
	Wallet   WalletConfig   `yaml:"wallet"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
	// MDNS advertises the agent on the local network for the phone app.
	MDNS bool      `yaml:"mdns"`
	Name string    `yaml:"name"`
	TLS  TLSConfig `yaml:"tls"`
}

// TLSConfig enables HTTPS with a locally trusted certificate.
type TLSConfig struct {
	Enabled bool `yaml:"enabled"`
	// Dir holds the generated CA and server certificate. Empty means the
	// user config directory.
	Dir string `yaml:"dir"`
}

type ReaderConfig struct {
	Backend string `yaml:"backend"`
	// Device is the libnfc connection string for the usb backend. Empty
	// picks the first reader found.
	Device string `yaml:"device"`
	// Language is the code written into text records.
	Language string `yaml:"language"`
	// DeviceTimeout drops phones that stop sending heartbeats.
	DeviceTimeout time.Duration `yaml:"deviceTimeout"`
}

type LedgerConfig struct {
	Network  string        `yaml:"network"`
	RPCURL   string        `yaml:"rpcURL"`
	RelayURL string        `yaml:"relayURL"`
	Explorer string        `yaml:"explorer"`
	Timeout  time.Duration `yaml:"timeout"`
}

type TransferConfig struct {
	Confirm   transfer.RetryPolicy `yaml:"confirm"`
	ScanRetry transfer.RetryPolicy `yaml:"scanRetry"`
}

type WalletConfig struct {
	// Sender is used as the connected wallet at startup when set.
	Sender string `yaml:"sender"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: DefaultPort,
			MDNS: true,
			Name: DefaultServiceName,
		},
		Reader: ReaderConfig{
			Backend:       BackendPhone,
			Language:      nfc.DefaultLanguage,
			DeviceTimeout: DefaultDeviceTimeout,
		},
		Ledger: LedgerConfig{
			Network:  DefaultNetwork,
			RPCURL:   DefaultRPCURL,
			RelayURL: DefaultRelayURL,
			Explorer: suirpc.DefaultExplorer,
			Timeout:  DefaultLedgerTimeout,
		},
		Transfer: TransferConfig{
			Confirm:   transfer.DefaultConfirmPolicy,
			ScanRetry: coordinator.DefaultScanRetry,
		},
	}
}

// DefaultDir returns the per-user configuration directory.
func DefaultDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "davi-pay"), nil
}

// DefaultPath returns the configuration file used when none is given.
func DefaultPath() (string, error) {
	dir, err := DefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads the file at path over the defaults and validates the result.
// An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := cfg.decode(data); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// decode parses YAML over c, rejecting unknown fields.
func (c *Config) decode(data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// Validate checks the configuration for values the agent cannot run with.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port: %d out of range", c.Server.Port)
	}
	if c.Server.MDNS && strings.TrimSpace(c.Server.Name) == "" {
		add("server.name: required when mdns is enabled")
	}

	switch c.Reader.Backend {
	case BackendPhone, BackendUSB:
	default:
		add("reader.backend: %q (must be %q or %q)", c.Reader.Backend, BackendPhone, BackendUSB)
	}
	// The text record status byte holds the code length in 6 bits.
	if n := len(c.Reader.Language); n == 0 || n > 63 {
		add("reader.language: %q must be 1 to 63 bytes", c.Reader.Language)
	}
	if c.Reader.DeviceTimeout < 0 {
		add("reader.deviceTimeout: must not be negative")
	}

	if c.Ledger.Network == "" {
		add("ledger.network: required")
	}
	if err := checkURL(c.Ledger.RPCURL); err != nil {
		add("ledger.rpcURL: %v", err)
	}
	if err := checkURL(c.Ledger.RelayURL); err != nil {
		add("ledger.relayURL: %v", err)
	}
	if !strings.Contains(c.Ledger.Explorer, "{id}") {
		add("ledger.explorer: %q has no {id} placeholder", c.Ledger.Explorer)
	}
	if c.Ledger.Timeout < 0 {
		add("ledger.timeout: must not be negative")
	}

	if c.Transfer.Confirm.Attempts < 1 {
		add("transfer.confirm.attempts: must be at least 1")
	}
	if c.Transfer.ScanRetry.Attempts < 0 {
		add("transfer.scanRetry.attempts: must not be negative")
	}
	if c.Transfer.Confirm.Pacing < 0 || c.Transfer.ScanRetry.Pacing < 0 {
		add("transfer: pacing must not be negative")
	}

	if c.Wallet.Sender != "" {
		if err := suirpc.ValidateAddress(c.Wallet.Sender); err != nil {
			add("wallet.sender: %v", err)
		}
	}
	return errors.Join(errs...)
}

func checkURL(raw string) error {
	if raw == "" {
		return errors.New("required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q must be an http or https URL", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}

// Save writes c to path as YAML, creating the directory if needed.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
