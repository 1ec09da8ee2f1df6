package certs_test

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"

	"github.com/nixpig/trainworker/internal/certs"
)

func TestGenerate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	if err := certs.Generate(dir, certs.Options{
		Hosts:   []string{"localhost", "127.0.0.1"},
		Clients: []certs.Client{{Name: "alice", Role: "operator"}},
	}); err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	caPEM, err := os.ReadFile(filepath.Join(dir, certs.CACertFile))
	if err != nil {
		t.Fatalf("read CA cert: %v", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		t.Fatalf("expected CA cert to parse")
	}

	scenarios := map[string]struct {
		certFile string
		keyFile  string
		usage    x509.ExtKeyUsage
		check    func(t *testing.T, cert *x509.Certificate)
	}{
		"Test server certificate": {
			certFile: certs.ServerCertFile,
			keyFile:  certs.ServerKeyFile,
			usage:    x509.ExtKeyUsageServerAuth,
			check: func(t *testing.T, cert *x509.Certificate) {
				if err := cert.VerifyHostname("localhost"); err != nil {
					t.Errorf("expected localhost to be valid: got '%v'", err)
				}

				if err := cert.VerifyHostname("127.0.0.1"); err != nil {
					t.Errorf("expected 127.0.0.1 to be valid: got '%v'", err)
				}
			},
		},
		"Test client certificate": {
			certFile: certs.ClientCertFile("alice"),
			keyFile:  certs.ClientKeyFile("alice"),
			usage:    x509.ExtKeyUsageClientAuth,
			check: func(t *testing.T, cert *x509.Certificate) {
				if cert.Subject.CommonName != "alice" {
					t.Errorf(
						"expected CN: got '%s', want 'alice'",
						cert.Subject.CommonName,
					)
				}

				if len(cert.Subject.OrganizationalUnit) != 1 ||
					cert.Subject.OrganizationalUnit[0] != "operator" {
					t.Errorf(
						"expected OU: got '%v', want '[operator]'",
						cert.Subject.OrganizationalUnit,
					)
				}
			},
		},
	}

	for scenario, config := range scenarios {
		t.Run(scenario, func(t *testing.T) {
			t.Parallel()

			pair, err := tls.LoadX509KeyPair(
				filepath.Join(dir, config.certFile),
				filepath.Join(dir, config.keyFile),
			)
			if err != nil {
				t.Fatalf("expected key pair to load: got '%v'", err)
			}

			cert, err := x509.ParseCertificate(pair.Certificate[0])
			if err != nil {
				t.Fatalf("expected cert to parse: got '%v'", err)
			}

			if _, err := cert.Verify(x509.VerifyOptions{
				Roots:     pool,
				KeyUsages: []x509.ExtKeyUsage{config.usage},
			}); err != nil {
				t.Errorf("expected cert to verify against CA: got '%v'", err)
			}

			config.check(t, cert)
		})
	}

	t.Run("Test no hosts", func(t *testing.T) {
		t.Parallel()

		if err := certs.Generate(t.TempDir(), certs.Options{}); err == nil {
			t.Errorf("expected to receive error")
		}
	})
}
