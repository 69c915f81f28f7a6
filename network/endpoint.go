package network

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"

	"peerdrop/crypto"
	"peerdrop/logging"
)

var (
	// ErrEndpointClosed indicates the endpoint was closed.
	ErrEndpointClosed = errors.New("network: endpoint closed")
	// ErrDialFailed indicates no candidate address of a node was reachable.
	ErrDialFailed = errors.New("network: no address reachable")
	// ErrPeerMismatch indicates the remote key differs from the expected node id.
	ErrPeerMismatch = errors.New("network: peer identity mismatch")
	// ErrNoProtocols indicates Serve was called before any Handle.
	ErrNoProtocols = errors.New("network: no protocol handlers registered")
)

const (
	closeCodeUnauthenticated quic.ApplicationErrorCode = 1
	closeCodeUnsupported     quic.ApplicationErrorCode = 2
)

// ProtocolHandler serves connections negotiated for one ALPN protocol.
type ProtocolHandler interface {
	HandleConn(ctx context.Context, conn *Conn) error
}

// ProtocolHandlerFunc adapts a function to ProtocolHandler.
type ProtocolHandlerFunc func(ctx context.Context, conn *Conn) error

// HandleConn calls f(ctx, conn).
func (f ProtocolHandlerFunc) HandleConn(ctx context.Context, conn *Conn) error {
	return f(ctx, conn)
}

// AddressResolver finds additional candidate addresses for a node.
type AddressResolver interface {
	Resolve(ctx context.Context, id crypto.NodeID) ([]string, error)
}

// EndpointOptions configures a QUIC endpoint.
type EndpointOptions struct {
	Identity        *crypto.Identity
	ListenAddress   string
	DialTimeout     time.Duration
	KeepAlivePeriod time.Duration
	IdleTimeout     time.Duration
	Resolver        AddressResolver
	Logger          logrus.FieldLogger
}

func (o EndpointOptions) withDefaults() EndpointOptions {
	out := o
	if out.ListenAddress == "" {
		out.ListenAddress = ":0"
	}
	if out.DialTimeout <= 0 {
		out.DialTimeout = DefaultDialTimeout
	}
	if out.KeepAlivePeriod <= 0 {
		out.KeepAlivePeriod = DefaultKeepAlivePeriod
	}
	if out.IdleTimeout <= 0 {
		out.IdleTimeout = DefaultIdleTimeout
	}
	if out.Logger == nil {
		out.Logger = logging.Discard()
	}
	return out
}

func (o EndpointOptions) validate() error {
	if o.Identity == nil {
		return errors.New("local identity is required")
	}
	if len(o.Identity.PrivateKey) == 0 {
		return errors.New("local Ed25519 private key is required")
	}
	return nil
}

// Endpoint is a QUIC socket that dials peers and dispatches inbound
// connections to protocol handlers by negotiated ALPN.
type Endpoint struct {
	identity *crypto.Identity
	options  EndpointOptions
	logger   logrus.FieldLogger

	udpConn   *net.UDPConn
	transport *quic.Transport
	tlsCert   tls.Certificate

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	handlers map[string]ProtocolHandler
	listener *quic.Listener
	resolver AddressResolver
	isClosed bool

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Listen binds a UDP socket and prepares the endpoint. Call Handle for each
// protocol, then Serve to accept connections.
func Listen(options EndpointOptions) (*Endpoint, error) {
	opts := options.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	cert, err := opts.Identity.Certificate()
	if err != nil {
		return nil, fmt.Errorf("build tls certificate: %w", err)
	}

	udpAddr, err := net.ResolveUDPAddr("udp", opts.ListenAddress)
	if err != nil {
		return nil, fmt.Errorf("resolve listen address %q: %w", opts.ListenAddress, err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %q: %w", opts.ListenAddress, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	endpoint := &Endpoint{
		identity:  opts.Identity,
		options:   opts,
		logger:    opts.Logger.WithField("component", "endpoint"),
		udpConn:   udpConn,
		transport: &quic.Transport{Conn: udpConn},
		tlsCert:   cert,
		ctx:       ctx,
		cancel:    cancel,
		handlers:  make(map[string]ProtocolHandler),
		resolver:  opts.Resolver,
		closed:    make(chan struct{}),
	}
	return endpoint, nil
}

// ID returns the local node id.
func (e *Endpoint) ID() crypto.NodeID {
	return e.identity.ID
}

// LocalAddr returns the bound UDP address.
func (e *Endpoint) LocalAddr() *net.UDPAddr {
	addr, _ := e.udpConn.LocalAddr().(*net.UDPAddr)
	return addr
}

// Addr returns the local node id and every dialable local address.
func (e *Endpoint) Addr() NodeAddr {
	return NodeAddr{
		ID:    e.identity.ID,
		Addrs: LocalAddresses(e.LocalAddr()),
	}
}

// Handle registers handler for alpn. Handlers must be registered before Serve.
func (e *Endpoint) Handle(alpn string, handler ProtocolHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[alpn] = handler
}

// SetResolver installs the fallback address resolver used by Dial.
func (e *Endpoint) SetResolver(resolver AddressResolver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resolver = resolver
}

// Serve accepts connections until ctx is done or the endpoint is closed.
// Each connection runs its protocol handler in its own goroutine.
func (e *Endpoint) Serve(ctx context.Context) error {
	e.mu.Lock()
	if e.isClosed {
		e.mu.Unlock()
		return ErrEndpointClosed
	}
	if e.listener != nil {
		e.mu.Unlock()
		return errors.New("network: endpoint already serving")
	}
	protocols := make([]string, 0, len(e.handlers))
	for alpn := range e.handlers {
		protocols = append(protocols, alpn)
	}
	if len(protocols) == 0 {
		e.mu.Unlock()
		return ErrNoProtocols
	}
	sort.Strings(protocols)

	listener, err := e.transport.Listen(e.serverTLSConfig(protocols), e.quicConfig())
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("start quic listener: %w", err)
	}
	e.listener = listener
	e.mu.Unlock()

	e.logger.WithFields(logrus.Fields{
		"addr":      e.LocalAddr().String(),
		"protocols": protocols,
	}).Info("endpoint serving")

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(e.ctx, cancel)
	defer stop()

	for {
		qconn, err := listener.Accept(serveCtx)
		if err != nil {
			select {
			case <-e.closed:
				return nil
			default:
			}
			if serveCtx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("accept connection: %w", err)
		}

		if !e.track() {
			_ = qconn.CloseWithError(0, "endpoint closed")
			return nil
		}
		go e.handleInboundConn(serveCtx, qconn)
	}
}

// Dial connects to addr for the given protocol. Ticket addresses are tried in
// order, then any addresses the resolver knows. The remote key must match addr.ID.
func (e *Endpoint) Dial(ctx context.Context, addr NodeAddr, alpn string) (*Conn, error) {
	select {
	case <-e.closed:
		return nil, ErrEndpointClosed
	default:
	}
	if addr.ID.IsZero() {
		return nil, fmt.Errorf("%w: missing node id", ErrDialFailed)
	}

	tried := make(map[string]bool)
	conn, errs := e.dialCandidates(ctx, addr.ID, addr.Addrs, alpn, tried)
	if conn != nil {
		return conn, nil
	}

	resolver := e.currentResolver()
	if resolver != nil && ctx.Err() == nil {
		extra, err := resolver.Resolve(ctx, addr.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("resolve %s: %w", addr.ID.Short(), err))
		} else {
			var more []error
			conn, more = e.dialCandidates(ctx, addr.ID, extra, alpn, tried)
			if conn != nil {
				return conn, nil
			}
			errs = append(errs, more...)
		}
	}

	if len(errs) == 0 {
		errs = append(errs, errors.New("no candidate addresses"))
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrDialFailed, addr.ID.Short(), errors.Join(errs...))
}

// Close stops accepting, cancels running handlers, and releases the socket.
func (e *Endpoint) Close() error {
	var closeErr error
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.isClosed = true
		listener := e.listener
		e.mu.Unlock()

		close(e.closed)
		e.cancel()
		if listener != nil {
			_ = listener.Close()
		}
		e.wg.Wait()

		closeErr = e.transport.Close()
		if err := e.udpConn.Close(); err != nil && !errors.Is(err, net.ErrClosed) && closeErr == nil {
			closeErr = err
		}
	})
	return closeErr
}

func (e *Endpoint) dialCandidates(ctx context.Context, id crypto.NodeID, addrs []string, alpn string, tried map[string]bool) (*Conn, []error) {
	var errs []error
	for _, address := range addrs {
		if tried[address] {
			continue
		}
		tried[address] = true

		conn, err := e.dialOne(ctx, id, address, alpn)
		if err == nil {
			return conn, nil
		}
		e.logger.WithError(err).WithFields(logrus.Fields{
			"peer": id.Short(),
			"addr": address,
		}).Debug("dial attempt failed")
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errs
}

func (e *Endpoint) dialOne(ctx context.Context, id crypto.NodeID, address, alpn string) (*Conn, error) {
	if err := ValidateAddress(address); err != nil {
		return nil, err
	}
	udpAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", address, err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, e.options.DialTimeout)
	defer cancel()

	qconn, err := e.transport.Dial(dialCtx, udpAddr, e.clientTLSConfig(id, alpn), e.quicConfig())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return newConn(qconn, id, alpn), nil
}

func (e *Endpoint) handleInboundConn(ctx context.Context, qconn *quic.Conn) {
	defer e.wg.Done()

	state := qconn.ConnectionState().TLS
	alpn := state.NegotiatedProtocol
	logger := e.logger.WithFields(logrus.Fields{
		"protocol": alpn,
		"remote":   qconn.RemoteAddr().String(),
	})

	peerID, err := peerIDFromState(state)
	if err != nil {
		logger.WithError(err).Warn("rejecting connection without peer identity")
		_ = qconn.CloseWithError(closeCodeUnauthenticated, "unauthenticated")
		return
	}

	handler := e.handler(alpn)
	if handler == nil {
		logger.Warn("rejecting connection for unregistered protocol")
		_ = qconn.CloseWithError(closeCodeUnsupported, "unsupported protocol")
		return
	}

	conn := newConn(qconn, peerID, alpn)
	logger = logger.WithField("peer", peerID.Short())
	if err := handler.HandleConn(ctx, conn); err != nil && ctx.Err() == nil {
		logger.WithError(err).Debug("protocol handler ended with error")
	}
	_ = conn.Close()
}

func (e *Endpoint) track() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.isClosed {
		return false
	}
	e.wg.Add(1)
	return true
}

func (e *Endpoint) handler(alpn string) ProtocolHandler {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.handlers[alpn]
}

func (e *Endpoint) currentResolver() AddressResolver {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.resolver
}

func (e *Endpoint) quicConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod:      e.options.KeepAlivePeriod,
		MaxIdleTimeout:       e.options.IdleTimeout,
		HandshakeIdleTimeout: e.options.DialTimeout,
	}
}
