package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// NodeIDSize is the byte width of a node id.
const NodeIDSize = ed25519.PublicKeySize

// ErrInvalidNodeID indicates a node id that is not a 32-byte Ed25519 public key.
var ErrInvalidNodeID = errors.New("crypto: invalid node id")

// NodeID is the public identity of a node: its raw Ed25519 public key.
type NodeID [NodeIDSize]byte

// NodeIDFromPublicKey converts an Ed25519 public key into a NodeID.
func NodeIDFromPublicKey(publicKey ed25519.PublicKey) (NodeID, error) {
	var id NodeID
	if len(publicKey) != ed25519.PublicKeySize {
		return id, fmt.Errorf("%w: key length %d", ErrInvalidNodeID, len(publicKey))
	}
	copy(id[:], publicKey)
	return id, nil
}

// ParseNodeID parses the lowercase hex form produced by String.
func ParseNodeID(s string) (NodeID, error) {
	var id NodeID
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return id, fmt.Errorf("%w: %v", ErrInvalidNodeID, err)
	}
	if len(raw) != NodeIDSize {
		return id, fmt.Errorf("%w: length %d", ErrInvalidNodeID, len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// String returns the lowercase hex encoding of the public key.
func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns the first 10 hex characters, for logs.
func (id NodeID) Short() string {
	return id.String()[:10]
}

// PublicKey returns the id as an Ed25519 public key.
func (id NodeID) PublicKey() ed25519.PublicKey {
	return ed25519.PublicKey(append([]byte(nil), id[:]...))
}

// IsZero reports whether the id is unset.
func (id NodeID) IsZero() bool {
	return id == NodeID{}
}

// Fingerprint returns the truncated SHA-256 hex fingerprint of the node key.
func (id NodeID) Fingerprint() string {
	sum := sha256.Sum256(id[:])
	return hex.EncodeToString(sum[:16])
}

// FormatFingerprint returns fingerprint text grouped in chunks of 4 uppercase chars.
func FormatFingerprint(fingerprint string) string {
	clean := strings.ToUpper(strings.ReplaceAll(fingerprint, " ", ""))
	if clean == "" {
		return ""
	}

	var b strings.Builder
	for i := 0; i < len(clean); i += 4 {
		if i > 0 {
			b.WriteByte(' ')
		}
		end := i + 4
		if end > len(clean) {
			end = len(clean)
		}
		b.WriteString(clean[i:end])
	}
	return b.String()
}

// MarshalText encodes the id as lowercase hex.
func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses the hex form.
func (id *NodeID) UnmarshalText(text []byte) error {
	parsed, err := ParseNodeID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
