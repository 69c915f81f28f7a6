package blobs

import (
	"errors"
	"fmt"
)

// ErrInvalidSequence indicates a sequence blob is not a whole number of digests.
var ErrInvalidSequence = errors.New("blobs: malformed sequence")

// EncodeSequence concatenates the digests of hashes in order.
func EncodeSequence(hashes []Hash) []byte {
	out := make([]byte, 0, len(hashes)*HashSize)
	for _, h := range hashes {
		out = append(out, h[:]...)
	}
	return out
}

// DecodeSequence splits a sequence blob into its digests.
func DecodeSequence(data []byte) ([]Hash, error) {
	if len(data)%HashSize != 0 {
		return nil, fmt.Errorf("%w: length %d is not a multiple of %d", ErrInvalidSequence, len(data), HashSize)
	}
	hashes := make([]Hash, 0, len(data)/HashSize)
	for offset := 0; offset < len(data); offset += HashSize {
		var h Hash
		copy(h[:], data[offset:offset+HashSize])
		hashes = append(hashes, h)
	}
	return hashes, nil
}
