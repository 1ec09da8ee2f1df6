// Package tlsconfig builds mutual TLS configurations for the automator server
// and its clients.
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

type Config struct {
	CertPath   string
	KeyPath    string
	CACertPath string

	// ServerName is checked against the server certificate by clients.
	ServerName string

	Server bool
}

// Enabled reports whether any of the certificate paths are set. A config with
// none set means the transport runs without TLS.
func (c *Config) Enabled() bool {
	return c.CertPath != "" || c.KeyPath != "" || c.CACertPath != ""
}

// Validate checks that either all or none of the certificate paths are set,
// and that the set ones exist.
func (c *Config) Validate() error {
	if !c.Enabled() {
		return nil
	}

	for flag, path := range map[string]string{
		"cert-path":    c.CertPath,
		"key-path":     c.KeyPath,
		"ca-cert-path": c.CACertPath,
	} {
		if path == "" {
			return fmt.Errorf("%s cannot be empty when TLS is configured", flag)
		}

		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("failed to stat %s: %w", flag, err)
		}
	}

	return nil
}

// SetupTLS loads the key pair and CA in config. Servers require and verify
// client certificates; clients verify the server against the CA.
func SetupTLS(config *Config) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(config.CertPath, config.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}

	caCert, err := os.ReadFile(config.CACertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, errors.New("failed to parse CA certificate")
	}

	tlsConfig := &tls.Config{
		MinVersion:   tls.VersionTLS13,
		ServerName:   config.ServerName,
		Certificates: []tls.Certificate{cert},
	}

	if config.Server {
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		tlsConfig.ClientCAs = caCertPool
	} else {
		tlsConfig.RootCAs = caCertPool
	}

	return tlsConfig, nil
}
