// Package ticket encodes everything a receiver needs to fetch shared content
// (the sender's node id, dial addresses, content hash and shape) as one
// copyable string.
package ticket

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-varint"

	"peerdrop/blobs"
	"peerdrop/crypto"
	"peerdrop/network"
)

const (
	// Prefix precedes the encoded body of every ticket string.
	Prefix = "drop:"
	// MaxAddrs bounds the number of addresses a ticket may carry.
	MaxAddrs = network.MaxAdvertisedAddrs

	version      = 1
	maxAddrBytes = 255
)

// ErrInvalidTicket indicates a string is not a well-formed ticket.
var ErrInvalidTicket = errors.New("ticket: invalid ticket")

// Shape tells the receiver how to interpret the root content.
type Shape byte

const (
	// ShapeSingle is one raw content unit.
	ShapeSingle Shape = 0
	// ShapeSequence is a list of content ids: metadata first, payload second.
	ShapeSequence Shape = 1
)

// String returns the lowercase shape name.
func (s Shape) String() string {
	switch s {
	case ShapeSingle:
		return "single"
	case ShapeSequence:
		return "sequence"
	default:
		return fmt.Sprintf("shape(%d)", byte(s))
	}
}

// Ticket identifies content held by a node.
type Ticket struct {
	Addr  network.NodeAddr
	Hash  blobs.Hash
	Shape Shape
}

// ForAddr returns a ticket naming only the node: zero hash, Single shape.
func ForAddr(addr network.NodeAddr) Ticket {
	return Ticket{Addr: addr, Shape: ShapeSingle}
}

// String encodes t. See Encode.
func (t Ticket) String() string {
	s, err := Encode(t)
	if err != nil {
		return ""
	}
	return s
}

// Encode serializes t deterministically:
//
//	version | shape | node id (32) | digest (32) | uvarint count | (uvarint len | addr)*
//
// The body is multibase base32 and prefixed with "drop:".
func Encode(t Ticket) (string, error) {
	if t.Shape != ShapeSingle && t.Shape != ShapeSequence {
		return "", fmt.Errorf("%w: unknown shape %d", ErrInvalidTicket, byte(t.Shape))
	}
	if t.Addr.ID.IsZero() {
		return "", fmt.Errorf("%w: missing node id", ErrInvalidTicket)
	}
	if len(t.Addr.Addrs) > MaxAddrs {
		return "", fmt.Errorf("%w: %d addresses exceeds %d", ErrInvalidTicket, len(t.Addr.Addrs), MaxAddrs)
	}

	var body bytes.Buffer
	body.WriteByte(version)
	body.WriteByte(byte(t.Shape))
	body.Write(t.Addr.ID[:])
	body.Write(t.Hash[:])
	body.Write(varint.ToUvarint(uint64(len(t.Addr.Addrs))))
	for _, addr := range t.Addr.Addrs {
		if len(addr) > maxAddrBytes {
			return "", fmt.Errorf("%w: address too long", ErrInvalidTicket)
		}
		body.Write(varint.ToUvarint(uint64(len(addr))))
		body.WriteString(addr)
	}

	encoded, err := multibase.Encode(multibase.Base32, body.Bytes())
	if err != nil {
		return "", fmt.Errorf("encode ticket: %w", err)
	}
	return Prefix + encoded, nil
}

// Decode parses a ticket string. Surrounding whitespace and a
// case-insensitive "drop:" prefix are accepted.
func Decode(s string) (Ticket, error) {
	s = strings.TrimSpace(s)
	if len(s) >= len(Prefix) && strings.EqualFold(s[:len(Prefix)], Prefix) {
		s = s[len(Prefix):]
	}
	if s == "" {
		return Ticket{}, fmt.Errorf("%w: empty", ErrInvalidTicket)
	}

	_, data, err := multibase.Decode(s)
	if err != nil {
		return Ticket{}, fmt.Errorf("%w: %v", ErrInvalidTicket, err)
	}

	r := &reader{data: data}
	if v := r.readByte(); v != version {
		return Ticket{}, fmt.Errorf("%w: unsupported version %d", ErrInvalidTicket, v)
	}
	shape := Shape(r.readByte())
	if shape != ShapeSingle && shape != ShapeSequence {
		return Ticket{}, fmt.Errorf("%w: unknown shape %d", ErrInvalidTicket, byte(shape))
	}

	var t Ticket
	t.Shape = shape
	copy(t.Addr.ID[:], r.bytes(crypto.NodeIDSize))
	copy(t.Hash[:], r.bytes(blobs.HashSize))

	count := r.uvarint()
	if count > MaxAddrs {
		return Ticket{}, fmt.Errorf("%w: %d addresses exceeds %d", ErrInvalidTicket, count, MaxAddrs)
	}
	for i := uint64(0); i < count && r.err == nil; i++ {
		length := r.uvarint()
		if length > maxAddrBytes {
			return Ticket{}, fmt.Errorf("%w: address too long", ErrInvalidTicket)
		}
		addr := string(r.bytes(int(length)))
		if r.err != nil {
			break
		}
		if err := network.ValidateAddress(addr); err != nil {
			return Ticket{}, fmt.Errorf("%w: %v", ErrInvalidTicket, err)
		}
		t.Addr.Addrs = append(t.Addr.Addrs, addr)
	}

	if r.err != nil {
		return Ticket{}, fmt.Errorf("%w: %v", ErrInvalidTicket, r.err)
	}
	if r.remaining() > 0 {
		return Ticket{}, fmt.Errorf("%w: %d trailing bytes", ErrInvalidTicket, r.remaining())
	}
	if t.Addr.ID.IsZero() {
		return Ticket{}, fmt.Errorf("%w: missing node id", ErrInvalidTicket)
	}
	return t, nil
}

var errTruncated = errors.New("truncated body")

type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) remaining() int {
	return len(r.data) - r.pos
}

func (r *reader) readByte() byte {
	b := r.bytes(1)
	if len(b) == 0 {
		return 0
	}
	return b[0]
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.remaining() < n {
		r.err = errTruncated
		return nil
	}
	out := r.data[r.pos : r.pos+n]
	r.pos += n
	return out
}

func (r *reader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	value, n, err := varint.FromUvarint(r.data[r.pos:])
	if err != nil {
		r.err = err
		return 0
	}
	r.pos += n
	return value
}
