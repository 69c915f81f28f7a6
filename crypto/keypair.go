package crypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	ed25519PrivatePEMType = "ED25519 PRIVATE KEY"
	ed25519PublicPEMType  = "ED25519 PUBLIC KEY"

	// PrivateKeyFileName is the identity private key file inside a keys directory.
	PrivateKeyFileName = "ed25519_private.pem"
	// PublicKeyFileName is the identity public key file inside a keys directory.
	PublicKeyFileName = "ed25519_public.pem"
)

// Identity is the long-lived keypair that names this node on the network.
type Identity struct {
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
	ID         NodeID
}

// LoadOrCreateIdentity returns the identity stored in keysDir, creating it on first use.
func LoadOrCreateIdentity(keysDir string) (*Identity, error) {
	if err := os.MkdirAll(keysDir, 0o700); err != nil {
		return nil, fmt.Errorf("create keys directory: %w", err)
	}

	privateKey, _, err := EnsureEd25519KeyPair(
		filepath.Join(keysDir, PrivateKeyFileName),
		filepath.Join(keysDir, PublicKeyFileName),
	)
	if err != nil {
		return nil, err
	}
	return NewIdentity(privateKey)
}

// GenerateIdentity creates a throwaway in-memory identity.
func GenerateIdentity() (*Identity, error) {
	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate Ed25519 keypair: %w", err)
	}
	return NewIdentity(privateKey)
}

// NewIdentity wraps an existing private key.
func NewIdentity(privateKey ed25519.PrivateKey) (*Identity, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid Ed25519 private key length: got %d want %d", len(privateKey), ed25519.PrivateKeySize)
	}
	publicKey := privateKey.Public().(ed25519.PublicKey)
	id, err := NodeIDFromPublicKey(publicKey)
	if err != nil {
		return nil, err
	}
	return &Identity{
		PrivateKey: privateKey,
		PublicKey:  publicKey,
		ID:         id,
	}, nil
}

// EnsureEd25519KeyPair loads an Ed25519 keypair from disk, generating it on first run.
func EnsureEd25519KeyPair(privatePath, publicPath string) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	privateKey, err := loadEd25519PrivateKey(privatePath)
	if err == nil {
		publicKey := privateKey.Public().(ed25519.PublicKey)

		// The public file is derived data; rewrite it if it drifted.
		storedPublic, pubErr := loadEd25519PublicKey(publicPath)
		if pubErr != nil || !bytes.Equal(storedPublic, publicKey) {
			if err := writePEM(publicPath, ed25519PublicPEMType, publicKey, 0o644); err != nil {
				return nil, nil, err
			}
		}
		return privateKey, publicKey, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, err
	}

	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate Ed25519 keypair: %w", err)
	}

	if err := writePEM(privatePath, ed25519PrivatePEMType, privateKey, 0o600); err != nil {
		return nil, nil, err
	}
	if err := writePEM(publicPath, ed25519PublicPEMType, publicKey, 0o644); err != nil {
		return nil, nil, err
	}
	return privateKey, publicKey, nil
}

func loadEd25519PrivateKey(path string) (ed25519.PrivateKey, error) {
	raw, err := readPEM(path, ed25519PrivatePEMType, ed25519.PrivateKeySize)
	if err != nil {
		return nil, err
	}
	return ed25519.PrivateKey(raw), nil
}

func loadEd25519PublicKey(path string) (ed25519.PublicKey, error) {
	raw, err := readPEM(path, ed25519PublicPEMType, ed25519.PublicKeySize)
	if err != nil {
		return nil, err
	}
	return ed25519.PublicKey(raw), nil
}

func readPEM(path, blockType string, size int) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", blockType, err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("decode %s: no PEM block", blockType)
	}
	if block.Type != blockType {
		return nil, fmt.Errorf("decode %s: unexpected type %q", blockType, block.Type)
	}
	if len(block.Bytes) != size {
		return nil, fmt.Errorf("decode %s: invalid key size %d", blockType, len(block.Bytes))
	}
	return block.Bytes, nil
}

func writePEM(path, blockType string, key []byte, perm os.FileMode) error {
	block := &pem.Block{
		Type:  blockType,
		Bytes: key,
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), perm); err != nil {
		return fmt.Errorf("write %s: %w", blockType, err)
	}
	return nil
}
