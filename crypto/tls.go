package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"time"
)

const certValidity = 365 * 24 * time.Hour

var (
	// ErrNoPeerCertificate indicates the TLS peer presented no certificate.
	ErrNoPeerCertificate = errors.New("crypto: peer presented no certificate")
	// ErrUnexpectedPeerKey indicates the peer certificate does not carry an Ed25519 key.
	ErrUnexpectedPeerKey = errors.New("crypto: peer certificate key is not Ed25519")
)

// Certificate builds a self-signed TLS certificate bound to the identity key.
//
// Peers never validate a chain; they only read the Ed25519 key out of the
// leaf and compare it to the node id they expect.
func (i *Identity) Certificate() (tls.Certificate, error) {
	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate certificate serial: %w", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject:      pkix.Name{CommonName: i.ID.String()},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(certValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, i.PublicKey, i.PrivateKey)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("create identity certificate: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  i.PrivateKey,
	}, nil
}

// NodeIDFromCertificates extracts and checks the node id from raw peer certificates.
func NodeIDFromCertificates(rawCerts [][]byte) (NodeID, error) {
	if len(rawCerts) == 0 {
		return NodeID{}, ErrNoPeerCertificate
	}
	cert, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return NodeID{}, fmt.Errorf("parse peer certificate: %w", err)
	}
	return NodeIDFromCertificate(cert)
}

// NodeIDFromCertificate verifies a self-signed leaf and returns its key as a NodeID.
func NodeIDFromCertificate(cert *x509.Certificate) (NodeID, error) {
	publicKey, ok := cert.PublicKey.(ed25519.PublicKey)
	if !ok {
		return NodeID{}, ErrUnexpectedPeerKey
	}
	if err := cert.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature); err != nil {
		return NodeID{}, fmt.Errorf("verify peer certificate signature: %w", err)
	}
	return NodeIDFromPublicKey(publicKey)
}
