// Package heldcert creates self-signed TLS identities for servers under test
// and the trust material clients need to accept them.
package heldcert

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"sync"
	"time"
)

type Options struct {
	CommonName string
	// Hosts become subject alternative names: IP addresses as IP SANs,
	// everything else as DNS names.
	Hosts    []string
	Duration time.Duration
}

// Certificate is a private key together with its self-signed certificate.
type Certificate struct {
	Leaf *x509.Certificate
	TLS  tls.Certificate
}

func New(opts Options) (*Certificate, error) {
	if opts.Duration <= 0 {
		opts.Duration = 24 * time.Hour
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 127))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: opts.CommonName},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(opts.Duration),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	for _, host := range opts.Hosts {
		if ip := net.ParseIP(host); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, host)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return &Certificate{
		Leaf: leaf,
		TLS: tls.Certificate{
			Certificate: [][]byte{der},
			PrivateKey:  key,
			Leaf:        leaf,
		},
	}, nil
}

var localhost = sync.OnceValues(func() (*Certificate, error) {
	return New(Options{
		CommonName: "localhost",
		Hosts:      []string{"localhost", "127.0.0.1", "::1"},
	})
})

// Localhost returns a process-wide identity valid for localhost and the
// loopback addresses.
func Localhost() (*Certificate, error) {
	return localhost()
}

// ServerConfig returns a server configuration presenting c.
func (c *Certificate) ServerConfig() *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{c.TLS},
		MinVersion:   tls.VersionTLS12,
	}
}

// ClientConfig returns a client configuration trusting only the given
// certificates.
func ClientConfig(trusted ...*Certificate) *tls.Config {
	return &tls.Config{
		RootCAs:    Pool(trusted...),
		MinVersion: tls.VersionTLS12,
	}
}

func Pool(trusted ...*Certificate) *x509.CertPool {
	pool := x509.NewCertPool()
	for _, c := range trusted {
		pool.AddCert(c.Leaf)
	}
	return pool
}
