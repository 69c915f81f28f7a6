package ticket

import (
	"errors"
	"strings"
	"testing"

	"github.com/multiformats/go-multibase"

	"peerdrop/blobs"
	"peerdrop/crypto"
	"peerdrop/network"
)

func testAddr(t *testing.T, addrs ...string) network.NodeAddr {
	t.Helper()

	identity, err := crypto.GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity failed: %v", err)
	}
	return network.NodeAddr{ID: identity.ID, Addrs: addrs}
}

func TestTicketRoundTrip(t *testing.T) {
	original := Ticket{
		Addr:  testAddr(t, "192.168.1.20:7777", "[::1]:7777", "127.0.0.1:7777"),
		Hash:  blobs.Sum([]byte("root")),
		Shape: ShapeSequence,
	}

	encoded, err := Encode(original)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !strings.HasPrefix(encoded, Prefix) {
		t.Fatalf("expected %q prefix, got %q", Prefix, encoded)
	}
	if encoded != original.String() {
		t.Fatalf("expected String to match Encode")
	}

	again, err := Encode(original)
	if err != nil || again != encoded {
		t.Fatalf("expected deterministic encoding")
	}

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Addr.ID != original.Addr.ID || decoded.Hash != original.Hash || decoded.Shape != original.Shape {
		t.Fatalf("decoded ticket mismatch")
	}
	if strings.Join(decoded.Addr.Addrs, ",") != strings.Join(original.Addr.Addrs, ",") {
		t.Fatalf("expected address order to be preserved, got %v", decoded.Addr.Addrs)
	}
	if decoded.String() != encoded {
		t.Fatalf("expected re-encoding to reproduce the string")
	}
}

func TestDecodeAcceptsWhitespaceAndPrefixCase(t *testing.T) {
	original := Ticket{Addr: testAddr(t, "10.0.0.5:4000"), Hash: blobs.Sum([]byte("x")), Shape: ShapeSingle}
	encoded := original.String()
	body := strings.TrimPrefix(encoded, Prefix)

	inputs := []string{
		"  " + encoded + "\n",
		"DROP:" + body,
		body,
	}
	for _, input := range inputs {
		decoded, err := Decode(input)
		if err != nil {
			t.Fatalf("Decode(%q) failed: %v", input, err)
		}
		if decoded.Hash != original.Hash {
			t.Fatalf("Decode(%q) returned wrong hash", input)
		}
	}
}

func TestForAddrTicket(t *testing.T) {
	addr := testAddr(t, "127.0.0.1:9000")
	tk := ForAddr(addr)

	decoded, err := Decode(tk.String())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !decoded.Hash.IsZero() || decoded.Shape != ShapeSingle || decoded.Addr.ID != addr.ID {
		t.Fatalf("unexpected address ticket: %+v", decoded)
	}
}

func encodeRaw(t *testing.T, body []byte) string {
	t.Helper()

	encoded, err := multibase.Encode(multibase.Base32, body)
	if err != nil {
		t.Fatalf("multibase.Encode failed: %v", err)
	}
	return Prefix + encoded
}

func TestDecodeRejectsMalformedTickets(t *testing.T) {
	valid := Ticket{Addr: testAddr(t, "127.0.0.1:1"), Hash: blobs.Sum([]byte("y")), Shape: ShapeSequence}
	_, body, err := multibase.Decode(strings.TrimPrefix(valid.String(), Prefix))
	if err != nil {
		t.Fatalf("multibase.Decode failed: %v", err)
	}

	badVersion := append([]byte{}, body...)
	badVersion[0] = 2
	badShape := append([]byte{}, body...)
	badShape[1] = 7
	badAddr := append([]byte{}, body[:66]...)
	badAddr = append(badAddr, 1, 4)
	badAddr = append(badAddr, []byte("host")...)

	cases := map[string]string{
		"empty":         "",
		"prefix only":   "drop:",
		"not multibase": "drop:!!!",
		"bad version":   encodeRaw(t, badVersion),
		"unknown shape": encodeRaw(t, badShape),
		"truncated":     encodeRaw(t, body[:40]),
		"trailing":      encodeRaw(t, append(append([]byte{}, body...), 0x00)),
		"bad address":   encodeRaw(t, badAddr),
	}
	for name, input := range cases {
		if _, err := Decode(input); !errors.Is(err, ErrInvalidTicket) {
			t.Fatalf("%s: expected ErrInvalidTicket, got %v", name, err)
		}
	}
}

func TestEncodeRejectsTooManyAddresses(t *testing.T) {
	addrs := make([]string, MaxAddrs+1)
	for i := range addrs {
		addrs[i] = "127.0.0.1:1"
	}
	if _, err := Encode(Ticket{Addr: testAddr(t, addrs...)}); !errors.Is(err, ErrInvalidTicket) {
		t.Fatalf("expected ErrInvalidTicket, got %v", err)
	}
}
