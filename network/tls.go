package network

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"

	"peerdrop/crypto"
)

const serverName = "peerdrop"

// Peers authenticate by key, not by CA chain: both sides present the
// self-signed identity certificate and the verifier checks its signature.
func (e *Endpoint) serverTLSConfig(protocols []string) *tls.Config {
	return &tls.Config{
		MinVersion:   tls.VersionTLS13,
		Certificates: []tls.Certificate{e.tlsCert},
		NextProtos:   protocols,
		ClientAuth:   tls.RequireAnyClientCert,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			_, err := crypto.NodeIDFromCertificates(rawCerts)
			return err
		},
	}
}

func (e *Endpoint) clientTLSConfig(expected crypto.NodeID, alpn string) *tls.Config {
	return &tls.Config{
		MinVersion:         tls.VersionTLS13,
		Certificates:       []tls.Certificate{e.tlsCert},
		NextProtos:         []string{alpn},
		ServerName:         serverName,
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			got, err := crypto.NodeIDFromCertificates(rawCerts)
			if err != nil {
				return err
			}
			if got != expected {
				return fmt.Errorf("%w: expected %s, got %s", ErrPeerMismatch, expected.Short(), got.Short())
			}
			return nil
		},
	}
}

func peerIDFromState(state tls.ConnectionState) (crypto.NodeID, error) {
	if len(state.PeerCertificates) == 0 {
		return crypto.NodeID{}, errors.New("network: peer presented no certificate")
	}
	return crypto.NodeIDFromCertificate(state.PeerCertificates[0])
}
