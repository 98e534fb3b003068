// Package tlsutil builds the STARTTLS configuration for the listener. A
// certificate pair is loaded from disk when the bootstrap config names one;
// otherwise an ephemeral self-signed certificate is generated for the
// gateway hostname so development and first-boot setups still offer TLS.
package tlsutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"time"
)

// selfSignedValidity bounds the lifetime of a generated certificate. It is
// deliberately short: generated certs are a dev/bootstrap convenience, not
// something to pin.
const selfSignedValidity = 90 * 24 * time.Hour

// LoadOrGenerateTLS returns a tls.Config for the listener. With both file
// paths set the pair is loaded from disk; with either empty a self-signed
// certificate is generated for hostname. TLS 1.2 is the floor either way.
func LoadOrGenerateTLS(certFile, keyFile, hostname string) (*tls.Config, error) {
	cert, err := listenerCertificate(certFile, keyFile, hostname)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{*cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func listenerCertificate(certFile, keyFile, hostname string) (*tls.Certificate, error) {
	if certFile == "" || keyFile == "" {
		return GenerateSelfSignedCert(hostname)
	}
	for _, path := range []string{certFile, keyFile} {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("TLS file not readable: %w", err)
		}
	}
	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
	}
	return &pair, nil
}

// GenerateSelfSignedCert creates an in-memory ECDSA P-256 self-signed
// certificate for hostname. The SANs always include localhost and
// 127.0.0.1 so local delivery tests work against the same listener. An
// empty hostname falls back to localhost. Nothing is written to disk.
func GenerateSelfSignedCert(hostname string) (*tls.Certificate, error) {
	if hostname == "" {
		hostname = "localhost"
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ECDSA key: %w", err)
	}

	template, err := selfSignedTemplate(hostname)
	if err != nil {
		return nil, err
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	pair, err := tls.X509KeyPair(
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}),
		pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble X509 key pair: %w", err)
	}
	return &pair, nil
}

func selfSignedTemplate(hostname string) (*x509.Certificate, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	names := []string{hostname}
	if hostname != "localhost" {
		names = append(names, "localhost")
	}

	now := time.Now()
	return &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   hostname,
			Organization: []string{"mailfold"},
		},
		NotBefore: now,
		NotAfter:  now.Add(selfSignedValidity),

		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,

		DNSNames:    names,
		IPAddresses: []net.IP{net.ParseIP("127.0.0.1")},
	}, nil
}
