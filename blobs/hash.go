package blobs

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"lukechampine.com/blake3"
)

// HashSize is the BLAKE3 digest length used for content ids.
const HashSize = 32

// ErrInvalidHash indicates a content id string could not be parsed.
var ErrInvalidHash = errors.New("blobs: invalid content id")

// Hash is the BLAKE3 digest of a content unit. Equal bytes give equal hashes.
type Hash [HashSize]byte

// Sum hashes data.
func Sum(data []byte) Hash {
	return Hash(blake3.Sum256(data))
}

// HashFromBytes copies a 32-byte digest into a Hash.
func HashFromBytes(digest []byte) (Hash, error) {
	var h Hash
	if len(digest) != HashSize {
		return h, fmt.Errorf("%w: digest length %d", ErrInvalidHash, len(digest))
	}
	copy(h[:], digest)
	return h, nil
}

// ParseHash parses the CIDv1 string form produced by Hash.String.
func ParseHash(s string) (Hash, error) {
	c, err := cid.Decode(s)
	if err != nil {
		return Hash{}, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	if c.Prefix().Codec != cid.Raw {
		return Hash{}, fmt.Errorf("%w: unexpected codec %d", ErrInvalidHash, c.Prefix().Codec)
	}
	decoded, err := multihash.Decode(c.Hash())
	if err != nil {
		return Hash{}, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	if decoded.Code != multihash.BLAKE3 {
		return Hash{}, fmt.Errorf("%w: unexpected multihash %s", ErrInvalidHash, decoded.Name)
	}
	return HashFromBytes(decoded.Digest)
}

// CID returns the CIDv1 (raw codec, blake3 multihash) for h.
func (h Hash) CID() cid.Cid {
	mh, err := multihash.Encode(h[:], multihash.BLAKE3)
	if err != nil {
		// Encode only fails for unknown codes.
		return cid.Undef
	}
	return cid.NewCidV1(cid.Raw, mh)
}

// String returns the base32 CIDv1 string.
func (h Hash) String() string {
	return h.CID().String()
}

// Hex returns the lowercase hex digest.
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

// Short returns the hex of the first four digest bytes.
func (h Hash) Short() string {
	return hex.EncodeToString(h[:4])
}

// IsZero reports whether h is the all-zero digest.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// MarshalText encodes h as its CID string.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText parses a CID string.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
