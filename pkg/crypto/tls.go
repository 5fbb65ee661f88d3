package crypto

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
)

// ServerTLSConfig returns a TLS 1.3 server configuration with a certificate
// signed by the CA derived from key. With a key, clients must present a
// certificate from the same CA.
func ServerTLSConfig(key string, protos ...string) (*tls.Config, error) {
	ca, err := newAuthority(key)
	if err != nil {
		return nil, fmt.Errorf("derive CA: %w", err)
	}
	cert, err := ca.issue()
	if err != nil {
		return nil, fmt.Errorf("issue certificate: %w", err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
		NextProtos:   protos,
	}

	if key != "" {
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
		cfg.ClientCAs = ca.pool
	}

	return cfg, nil
}

// ClientTLSConfig returns a TLS 1.3 client configuration. Without a key the
// server certificate is not verified.
func ClientTLSConfig(key string, protos ...string) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS13,
		NextProtos:         protos,
		InsecureSkipVerify: true, // custom verification below
	}

	if key != "" {
		ca, err := newAuthority(key)
		if err != nil {
			return nil, fmt.Errorf("derive CA: %w", err)
		}
		cert, err := ca.issue()
		if err != nil {
			return nil, fmt.Errorf("issue certificate: %w", err)
		}

		cfg.Certificates = []tls.Certificate{cert}
		cfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return verifyPeerCertificate(ca.pool, rawCerts)
		}
	}

	return cfg, nil
}

// verifyPeerCertificate validates the peer certificate against the CA pool.
// It cares only about the root certificate, not SANs.
func verifyPeerCertificate(caCert *x509.CertPool, rawCerts [][]byte) error {
	if len(rawCerts) != 1 {
		return fmt.Errorf("unexpected number of raw certs: %d", len(rawCerts))
	}

	cert, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return fmt.Errorf("parse certificate: %w", err)
	}

	if _, err := cert.Verify(x509.VerifyOptions{
		Roots:     caCert,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}); err != nil {
		return fmt.Errorf("verify certificate: %w", err)
	}

	return nil
}
