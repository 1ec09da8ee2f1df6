// Package certs generates a throwaway certificate authority with a server
// certificate and role-bearing client certificates, for local mTLS setups and
// tests.
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

const (
	CACertFile     = "ca.crt"
	caKeyFile      = "ca.key"
	ServerCertFile = "server.crt"
	ServerKeyFile  = "server.key"
)

// Client is a client certificate to issue. Role is stored in the certificate's
// OrganizationalUnit.
type Client struct {
	Name string
	Role string
}

// Options configures Generate.
type Options struct {
	// Hosts are the DNS names and IP addresses the server certificate is
	// valid for.
	Hosts []string

	Clients []Client

	// Validity defaults to a year.
	Validity time.Duration
}

// ClientCertFile returns the file name of the named client's certificate.
func ClientCertFile(name string) string {
	return "client-" + name + ".crt"
}

// ClientKeyFile returns the file name of the named client's private key.
func ClientKeyFile(name string) string {
	return "client-" + name + ".key"
}

type issuer struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
}

// Generate writes a CA, a server key pair and a key pair per client into dir.
func Generate(dir string, opts Options) error {
	if len(opts.Hosts) == 0 {
		return errors.New("no server hosts")
	}

	if opts.Validity <= 0 {
		opts.Validity = 365 * 24 * time.Hour
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("make cert dir: %w", err)
	}

	ca, err := newCA(opts.Validity)
	if err != nil {
		return err
	}

	if err := writePair(dir, CACertFile, caKeyFile, ca.cert.Raw, ca.key); err != nil {
		return err
	}

	server := &x509.Certificate{
		Subject:     pkix.Name{CommonName: opts.Hosts[0]},
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	for _, h := range opts.Hosts {
		if ip := net.ParseIP(h); ip != nil {
			server.IPAddresses = append(server.IPAddresses, ip)
		} else {
			server.DNSNames = append(server.DNSNames, h)
		}
	}

	if err := ca.issue(dir, ServerCertFile, ServerKeyFile, server, opts.Validity); err != nil {
		return fmt.Errorf("issue server cert: %w", err)
	}

	for _, c := range opts.Clients {
		client := &x509.Certificate{
			Subject: pkix.Name{
				CommonName:         c.Name,
				OrganizationalUnit: []string{c.Role},
			},
			ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		}

		if err := ca.issue(
			dir,
			ClientCertFile(c.Name),
			ClientKeyFile(c.Name),
			client,
			opts.Validity,
		); err != nil {
			return fmt.Errorf("issue client cert %s: %w", c.Name, err)
		}
	}

	return nil
}

func newCA(validity time.Duration) (*issuer, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate CA key: %w", err)
	}

	serial, err := serialNumber()
	if err != nil {
		return nil, err
	}

	now := time.Now()

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "trainworker CA"},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create CA cert: %w", err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse CA cert: %w", err)
	}

	return &issuer{cert: cert, key: key}, nil
}

func (ca *issuer) issue(
	dir, certFile, keyFile string,
	tmpl *x509.Certificate,
	validity time.Duration,
) error {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	serial, err := serialNumber()
	if err != nil {
		return err
	}

	now := time.Now()

	tmpl.SerialNumber = serial
	tmpl.NotBefore = now.Add(-time.Minute)
	tmpl.NotAfter = now.Add(validity)
	tmpl.KeyUsage = x509.KeyUsageDigitalSignature

	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.cert, &key.PublicKey, ca.key)
	if err != nil {
		return fmt.Errorf("create cert: %w", err)
	}

	return writePair(dir, certFile, keyFile, der, key)
}

func writePair(
	dir, certFile, keyFile string,
	der []byte,
	key *ecdsa.PrivateKey,
) error {
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("marshal key: %w", err)
	}

	if err := os.WriteFile(
		filepath.Join(dir, certFile),
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		0644,
	); err != nil {
		return fmt.Errorf("write %s: %w", certFile, err)
	}

	if err := os.WriteFile(
		filepath.Join(dir, keyFile),
		pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}),
		0600,
	); err != nil {
		return fmt.Errorf("write %s: %w", keyFile, err)
	}

	return nil
}

func serialNumber() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial number: %w", err)
	}

	return serial, nil
}
