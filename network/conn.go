package network

import (
	"context"
	"net"

	"github.com/quic-go/quic-go"

	"peerdrop/crypto"
)

// Conn is an authenticated QUIC connection to one peer for one protocol.
type Conn struct {
	conn     *quic.Conn
	peer     crypto.NodeID
	protocol string
}

func newConn(conn *quic.Conn, peer crypto.NodeID, protocol string) *Conn {
	return &Conn{conn: conn, peer: peer, protocol: protocol}
}

// PeerID returns the verified node id of the remote side.
func (c *Conn) PeerID() crypto.NodeID {
	return c.peer
}

// Protocol returns the negotiated ALPN.
func (c *Conn) Protocol() string {
	return c.protocol
}

// RemoteAddr returns the remote UDP address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// OpenStream opens a new bidirectional stream. The peer sees it on first write.
func (c *Conn) OpenStream(ctx context.Context) (*quic.Stream, error) {
	return c.conn.OpenStreamSync(ctx)
}

// AcceptStream waits for the peer to open a stream.
func (c *Conn) AcceptStream(ctx context.Context) (*quic.Stream, error) {
	return c.conn.AcceptStream(ctx)
}

// Done is closed once the connection is closed by either side.
func (c *Conn) Done() <-chan struct{} {
	return c.conn.Context().Done()
}

// Close closes the connection with no error.
func (c *Conn) Close() error {
	return c.conn.CloseWithError(0, "")
}
