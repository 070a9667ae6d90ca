// Package tlscert issues a locally trusted certificate for the agent's
// HTTPS listener. Phones on the LAN connect over wss and need the server
// certificate to cover every address they might dial.
package tlscert

import (
	"bufio"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/jittering/truststore"
)

// Issuer creates a local CA and signs server certificates with it.
type Issuer interface {
	// Install adds the CA to the system trust store. It may prompt the
	// user for a password.
	Install() error
	// MakeCert writes a certificate for hosts into dir.
	MakeCert(hosts []string, dir string) (certFile, keyFile string, err error)
}

// Bundle is the set of files the server needs for HTTPS.
type Bundle struct {
	CertFile   string
	KeyFile    string
	CACertFile string
}

// Manager keeps the server certificate in dir current with the host's
// addresses.
type Manager struct {
	tlsDir     string
	caDir      string
	caCertFile string
	certFile   string
	keyFile    string
	hostsFile  string

	issuer Issuer
	hosts  func() ([]string, error)
	logger *log.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithIssuer replaces the truststore issuer.
func WithIssuer(i Issuer) Option {
	return func(m *Manager) { m.issuer = i }
}

// WithHosts replaces the host discovery used for certificate names.
func WithHosts(fn func() ([]string, error)) Option {
	return func(m *Manager) { m.hosts = fn }
}

// NewManager creates a manager storing its files under dir.
func NewManager(dir string, opts ...Option) *Manager {
	tlsDir := filepath.Join(dir, "tls")
	caDir := filepath.Join(dir, "ca")
	m := &Manager{
		tlsDir:     tlsDir,
		caDir:      caDir,
		caCertFile: filepath.Join(caDir, "rootCA.pem"),
		certFile:   filepath.Join(tlsDir, "server.crt"),
		keyFile:    filepath.Join(tlsDir, "server.key"),
		hostsFile:  filepath.Join(tlsDir, "hosts.txt"),
		hosts:      AllHosts,
		logger:     log.New(os.Stderr, "[tls] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.issuer == nil {
		m.issuer = &trustStoreIssuer{caDir: caDir}
	}
	return m
}

// Ensure returns a certificate bundle, issuing a new certificate when none
// exists or the host's addresses changed since the last one.
func (m *Manager) Ensure() (Bundle, error) {
	if err := os.MkdirAll(m.tlsDir, 0o700); err != nil {
		return Bundle{}, fmt.Errorf("failed to create TLS directory: %w", err)
	}

	hosts, err := m.hosts()
	if err != nil {
		m.logger.Printf("Warning: failed to get LAN IPs: %v", err)
	}
	if len(hosts) == 0 {
		hosts = []string{"localhost", "127.0.0.1"}
	}

	switch {
	case !m.certsExist():
		m.logger.Println("Certificates not found, generating...")
	case m.hostsChanged(hosts):
		m.logger.Println("Network configuration changed, regenerating certificates...")
	default:
		m.logger.Println("Using existing certificates")
		return m.bundle(), nil
	}

	if err := m.issue(hosts); err != nil {
		return Bundle{}, err
	}
	return m.bundle(), nil
}

func (m *Manager) bundle() Bundle {
	return Bundle{CertFile: m.certFile, KeyFile: m.keyFile, CACertFile: m.caCertFile}
}

func (m *Manager) certsExist() bool {
	_, certErr := os.Stat(m.certFile)
	_, keyErr := os.Stat(m.keyFile)
	return certErr == nil && keyErr == nil
}

// hostsChanged compares hosts with the names of the current certificate,
// ignoring order.
func (m *Manager) hostsChanged(hosts []string) bool {
	cached, err := m.readCachedHosts()
	if err != nil {
		return true
	}
	a := slices.Clone(cached)
	b := slices.Clone(hosts)
	slices.Sort(a)
	slices.Sort(b)
	return !slices.Equal(a, b)
}

func (m *Manager) readCachedHosts() ([]string, error) {
	file, err := os.Open(m.hostsFile)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var hosts []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if host := strings.TrimSpace(scanner.Text()); host != "" {
			hosts = append(hosts, host)
		}
	}
	return hosts, scanner.Err()
}

func (m *Manager) writeCachedHosts(hosts []string) error {
	return os.WriteFile(m.hostsFile, []byte(strings.Join(hosts, "\n")+"\n"), 0o600)
}

func (m *Manager) issue(hosts []string) error {
	if err := os.MkdirAll(m.caDir, 0o700); err != nil {
		return fmt.Errorf("failed to create CA directory: %w", err)
	}

	m.logger.Println("Ensuring CA is installed in system trust store...")
	m.logger.Println("(You may be prompted for your password)")
	if err := m.issuer.Install(); err != nil {
		return fmt.Errorf("failed to install CA: %w", err)
	}

	m.logger.Printf("Generating certificate for hosts: %v", hosts)
	certFile, keyFile, err := m.issuer.MakeCert(hosts, m.tlsDir)
	if err != nil {
		return fmt.Errorf("failed to generate certificate: %w", err)
	}
	if certFile != m.certFile {
		if err := os.Rename(certFile, m.certFile); err != nil {
			return fmt.Errorf("failed to rename cert file: %w", err)
		}
	}
	if keyFile != m.keyFile {
		if err := os.Rename(keyFile, m.keyFile); err != nil {
			return fmt.Errorf("failed to rename key file: %w", err)
		}
	}

	if err := m.writeCachedHosts(hosts); err != nil {
		m.logger.Printf("Warning: failed to cache hosts: %v", err)
	}
	m.logger.Printf("Certificate generated: %s", m.certFile)
	if fp, err := m.CAFingerprint(); err == nil {
		m.logger.Printf("CA Fingerprint (SHA256): %s", fp)
	}
	return nil
}

// CAFingerprint returns the SHA-256 fingerprint of the CA certificate as
// colon separated hex, for comparing against what a phone displays.
func (m *Manager) CAFingerprint() (string, error) {
	data, err := os.ReadFile(m.caCertFile)
	if err != nil {
		return "", fmt.Errorf("failed to read CA certificate: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return "", fmt.Errorf("failed to decode PEM block")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("failed to parse certificate: %w", err)
	}
	sum := sha256.Sum256(cert.Raw)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":"), nil
}

// trustStoreIssuer issues certificates from a CA kept in caDir.
type trustStoreIssuer struct {
	caDir    string
	install  func() error
	makeCert func(hosts []string, dir string) (string, string, error)
}

func (t *trustStoreIssuer) init() error {
	if t.install != nil {
		return nil
	}
	// truststore reads its CA location from CAROOT.
	if err := os.Setenv("CAROOT", t.caDir); err != nil {
		return err
	}
	lib, err := truststore.NewLib()
	if err != nil {
		return fmt.Errorf("failed to initialize truststore: %w", err)
	}
	t.install = lib.Install
	t.makeCert = func(hosts []string, dir string) (string, string, error) {
		cert, err := lib.MakeCert(hosts, dir)
		if err != nil {
			return "", "", err
		}
		return cert.CertFile, cert.KeyFile, nil
	}
	return nil
}

func (t *trustStoreIssuer) Install() error {
	if err := t.init(); err != nil {
		return err
	}
	return t.install()
}

func (t *trustStoreIssuer) MakeCert(hosts []string, dir string) (string, string, error) {
	if err := t.init(); err != nil {
		return "", "", err
	}
	return t.makeCert(hosts, dir)
}
