package tlsconfig_test

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"testing"

	"github.com/nixpig/trainworker/internal/certs"
	"github.com/nixpig/trainworker/internal/tlsconfig"
)

func TestSetupTLS(t *testing.T) {
	t.Parallel()

	certDir := t.TempDir()

	if err := certs.Generate(certDir, certs.Options{
		Hosts:   []string{"localhost"},
		Clients: []certs.Client{{Name: "operator", Role: "operator"}},
	}); err != nil {
		t.Fatalf("generate certs: %v", err)
	}

	caCertPath := filepath.Join(certDir, certs.CACertFile)
	serverCertPath := filepath.Join(certDir, certs.ServerCertFile)
	serverKeyPath := filepath.Join(certDir, certs.ServerKeyFile)
	operatorCertPath := filepath.Join(certDir, certs.ClientCertFile("operator"))
	operatorKeyPath := filepath.Join(certDir, certs.ClientKeyFile("operator"))

	t.Run("Test server TLS config", func(t *testing.T) {
		t.Parallel()

		tlsConfig, err := tlsconfig.SetupTLS(&tlsconfig.Config{
			CertPath:   serverCertPath,
			KeyPath:    serverKeyPath,
			CACertPath: caCertPath,
			Server:     true,
		})
		if err != nil {
			t.Fatalf("expected TLS setup not to return error: got '%v'", err)
		}

		if tlsConfig.MinVersion != tls.VersionTLS13 {
			t.Errorf(
				"expected min TLS version: got '%v', want '%v'",
				tlsConfig.MinVersion,
				tls.VersionTLS13,
			)
		}

		if tlsConfig.ClientAuth != tls.RequireAndVerifyClientCert {
			t.Errorf(
				"expected client auth: got '%v', want '%v'",
				tlsConfig.ClientAuth,
				tls.RequireAndVerifyClientCert,
			)
		}

		if tlsConfig.ClientCAs == nil {
			t.Errorf("expected client CAs to be set")
		}

		if tlsConfig.InsecureSkipVerify {
			t.Errorf("expected insecure skip verify: got 'true', want 'false'")
		}
	})

	t.Run("Test client TLS config", func(t *testing.T) {
		t.Parallel()

		tlsConfig, err := tlsconfig.SetupTLS(&tlsconfig.Config{
			CertPath:   operatorCertPath,
			KeyPath:    operatorKeyPath,
			CACertPath: caCertPath,
			ServerName: "localhost",
		})
		if err != nil {
			t.Fatalf("expected TLS setup not to return error: got '%v'", err)
		}

		if tlsConfig.ServerName != "localhost" {
			t.Errorf(
				"expected server name: got '%s', want 'localhost'",
				tlsConfig.ServerName,
			)
		}

		if tlsConfig.RootCAs == nil {
			t.Errorf("expected root CAs to be set")
		}
	})

	t.Run("Test invalid files", func(t *testing.T) {
		t.Parallel()

		notPEM := filepath.Join(t.TempDir(), "ca.crt")
		if err := os.WriteFile(notPEM, []byte("not a cert"), 0644); err != nil {
			t.Fatalf("write file: %v", err)
		}

		scenarios := map[string]*tlsconfig.Config{
			"missing key pair": {
				CertPath:   filepath.Join(certDir, "missing.crt"),
				KeyPath:    serverKeyPath,
				CACertPath: caCertPath,
			},
			"missing CA": {
				CertPath:   serverCertPath,
				KeyPath:    serverKeyPath,
				CACertPath: filepath.Join(certDir, "missing.crt"),
			},
			"invalid CA": {
				CertPath:   serverCertPath,
				KeyPath:    serverKeyPath,
				CACertPath: notPEM,
			},
		}

		for scenario, config := range scenarios {
			if _, err := tlsconfig.SetupTLS(config); err == nil {
				t.Errorf("expected error for %s", scenario)
			}
		}
	})
}

func TestValidate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	existing := filepath.Join(dir, "file")

	if err := os.WriteFile(existing, nil, 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	scenarios := map[string]struct {
		config  tlsconfig.Config
		enabled bool
		valid   bool
	}{
		"Test no TLS": {
			config:  tlsconfig.Config{},
			enabled: false,
			valid:   true,
		},
		"Test all paths set": {
			config: tlsconfig.Config{
				CertPath:   existing,
				KeyPath:    existing,
				CACertPath: existing,
			},
			enabled: true,
			valid:   true,
		},
		"Test partial paths": {
			config:  tlsconfig.Config{CertPath: existing},
			enabled: true,
			valid:   false,
		},
		"Test missing file": {
			config: tlsconfig.Config{
				CertPath:   existing,
				KeyPath:    existing,
				CACertPath: filepath.Join(dir, "missing"),
			},
			enabled: true,
			valid:   false,
		},
	}

	for scenario, s := range scenarios {
		t.Run(scenario, func(t *testing.T) {
			t.Parallel()

			if got := s.config.Enabled(); got != s.enabled {
				t.Errorf("expected enabled: got '%t', want '%t'", got, s.enabled)
			}

			err := s.config.Validate()

			if s.valid && err != nil {
				t.Errorf("expected not to receive error: got '%v'", err)
			}

			if !s.valid && err == nil {
				t.Errorf("expected to receive error")
			}
		})
	}
}
