// Package crypto derives TLS material from a pre-shared key. Both peers
// generate the same CA from the key, so each can verify the other's
// certificate without exchanging files.
package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"fmt"
	"io"
	"math/big"
	"time"
)

var (
	notBefore = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	notAfter  = time.Date(2063, 4, 5, 11, 0, 0, 0, time.UTC)
)

// authority is a CA whose key and certificate are a function of a seed.
type authority struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
	pool *x509.CertPool
}

// newAuthority derives the CA from seed. An empty seed yields a random CA.
func newAuthority(seed string) (*authority, error) {
	if seed == "" {
		s, err := GenerateRandomString(32)
		if err != nil {
			return nil, fmt.Errorf("GenerateRandomString(32): %w", err)
		}
		seed = s
	}
	rng := newDRand(seed)

	key, err := ecdsa.GenerateKey(elliptic.P256(), rng)
	if err != nil {
		return nil, fmt.Errorf("ecdsa.GenerateKey(): %w", err)
	}

	serial, err := randomSerial(rng)
	if err != nil {
		return nil, err
	}
	cn, err := generateRandomString(8, rng)
	if err != nil {
		return nil, fmt.Errorf("common name: %w", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: cn, Organization: []string{"sessnet"}},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		BasicConstraintsValid: true,
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("x509.CreateCertificate(ca): %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("x509.ParseCertificate(ca): %w", err)
	}

	pool := x509.NewCertPool()
	pool.AddCert(cert)

	return &authority{cert: cert, key: key, pool: pool}, nil
}

// issue returns a fresh leaf certificate signed by the CA, usable for both
// server and client authentication.
func (a *authority) issue() (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("ecdsa.GenerateKey(): %w", err)
	}
	serial, err := randomSerial(rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	cn, err := GenerateRandomString(8)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("common name: %w", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, a.cert, &key.PublicKey, a.key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("x509.CreateCertificate(leaf): %w", err)
	}

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, nil
}

func randomSerial(r io.Reader) (*big.Int, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return nil, fmt.Errorf("serial number: %w", err)
	}
	return new(big.Int).SetUint64(binary.BigEndian.Uint64(b[:]) >> 1), nil
}
