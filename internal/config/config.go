// Package config loads the qsign YAML configuration.
package config

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	pkicrypto "github.com/remiblancher/qsign/internal/crypto"
)

// Environment variables read by Load.
const (
	EnvConfig    = "QSIGN_CONFIG"
	EnvPort      = "QSIGN_PORT"
	EnvTSAURL    = "QSIGN_TSA_URL"
	EnvRemoteURL = "QSIGN_REMOTE_URL"
	EnvAuditLog  = "QSIGN_AUDIT_LOG"
)

// DefaultTSAURL is the national PKI timestamp service.
const DefaultTSAURL = "http://tsp.pki.gov.kz"

// Config is the complete qsign configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Signing SigningConfig `yaml:"signing"`
	Remote  RemoteConfig  `yaml:"remote"`
	Audit   AuditConfig   `yaml:"audit"`

	// Token is the path of a PKCS#11 token configuration file used by the
	// KAZTOKEN storage kind.
	Token string `yaml:"token,omitempty"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	TLSCert         string        `yaml:"tls_cert,omitempty"`
	TLSKey          string        `yaml:"tls_key,omitempty"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// MaxConnections caps concurrent connections; 0 means unlimited.
	MaxConnections int      `yaml:"max_connections"`
	CORSOrigins    []string `yaml:"cors_origins"`
}

// SigningConfig configures the software provider.
type SigningConfig struct {
	Digest        string        `yaml:"digest"`
	TSAURLs       []string      `yaml:"tsa_urls"`
	TSATimeout    time.Duration `yaml:"tsa_timeout"`
	Roots         []string      `yaml:"roots,omitempty"`
	Intermediates []string      `yaml:"intermediates,omitempty"`
}

// RemoteConfig configures the REST verification backend.
type RemoteConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`

	// Extraction lets co-signing and extraction fall back to the backend
	// when the provider cannot read the signed content.
	Extraction bool `yaml:"extraction"`
}

// AuditConfig configures the audit log. An empty Log disables auditing.
type AuditConfig struct {
	Log string `yaml:"log,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            5000,
			ReadTimeout:     60 * time.Second,
			WriteTimeout:    5 * time.Minute,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Signing: SigningConfig{
			Digest:     "sha256",
			TSAURLs:    []string{DefaultTSAURL},
			TSATimeout: 30 * time.Second,
		},
		Remote: RemoteConfig{
			URL:     "https://ezsigner.kz/",
			Timeout: 60 * time.Second,
		},
	}
}

// Load reads path (or $QSIGN_CONFIG when path is empty) over the defaults,
// applies environment overrides and validates the result. With no file the
// defaults are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv(EnvTSAURL); v != "" {
		c.Signing.TSAURLs = strings.Split(v, ",")
	}
	if v := os.Getenv(EnvRemoteURL); v != "" {
		c.Remote.URL = v
	}
	if v := os.Getenv(EnvAuditLog); v != "" {
		c.Audit.Log = v
	}
	return nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return fmt.Errorf("server.tls_cert and server.tls_key must be set together")
	}
	if c.Server.MaxConnections < 0 {
		return fmt.Errorf("server.max_connections must not be negative")
	}
	if _, err := c.DigestHash(); err != nil {
		return err
	}
	for _, u := range c.Signing.TSAURLs {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("signing.tsa_urls: %q is not an http(s) URL", u)
		}
	}
	return nil
}

// Address returns the listen address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// DigestHash maps signing.digest to a hash function.
func (c *Config) DigestHash() (crypto.Hash, error) {
	switch strings.ToLower(strings.ReplaceAll(c.Signing.Digest, "-", "")) {
	case "", "sha256":
		return crypto.SHA256, nil
	case "sha384":
		return crypto.SHA384, nil
	case "sha512":
		return crypto.SHA512, nil
	default:
		return 0, fmt.Errorf("signing.digest: unsupported digest %q", c.Signing.Digest)
	}
}

// TrustPools loads the configured root and intermediate certificates. Roots
// is nil when none are configured, which disables chain building.
func (c *Config) TrustPools() (roots, intermediates *x509.CertPool, err error) {
	if len(c.Signing.Roots) > 0 {
		if roots, err = loadPool(c.Signing.Roots); err != nil {
			return nil, nil, fmt.Errorf("failed to load roots: %w", err)
		}
	}
	if len(c.Signing.Intermediates) > 0 {
		if intermediates, err = loadPool(c.Signing.Intermediates); err != nil {
			return nil, nil, fmt.Errorf("failed to load intermediates: %w", err)
		}
	}
	return roots, intermediates, nil
}

func loadPool(paths []string) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		n := 0
		for len(data) > 0 {
			var block *pem.Block
			block, data = pem.Decode(data)
			if block == nil {
				break
			}
			if block.Type != "CERTIFICATE" {
				continue
			}
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			pool.AddCert(cert)
			n++
		}
		if n == 0 {
			return nil, fmt.Errorf("%s: no certificates found", path)
		}
	}
	return pool, nil
}

// TokenConfig loads the PKCS#11 token file, or returns nil when none is set.
func (c *Config) TokenConfig() (*pkicrypto.TokenFileConfig, error) {
	if c.Token == "" {
		return nil, nil
	}
	return pkicrypto.LoadTokenConfig(c.Token)
}
