package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"peerdrop/blobs"
	"peerdrop/bundle"
	"peerdrop/logging"
	"peerdrop/network"
	"peerdrop/storage"
	"peerdrop/ticket"
)

const (
	// DefaultFetchTimeout bounds a whole download.
	DefaultFetchTimeout = 10 * time.Minute
	// DefaultDialTimeout bounds connection setup to the sending peer.
	DefaultDialTimeout = 15 * time.Second
)

var (
	// ErrFileNotFound indicates the file to send does not exist.
	ErrFileNotFound = errors.New("transfer: file does not exist")
	// ErrConnectionFailed indicates no address of the ticket was reachable.
	ErrConnectionFailed = errors.New("transfer: connection failed")
)

// Dialer opens protocol connections to peers. *network.Endpoint satisfies it.
type Dialer interface {
	Dial(ctx context.Context, addr network.NodeAddr, alpn string) (*network.Conn, error)
}

// History records transfers. *storage.Store satisfies it.
type History interface {
	CreateTransfer(transfer storage.Transfer) error
	UpdateTransferTicket(transferID, ticket string) error
	CompleteTransfer(transferID, filePath, displayName string, size int64) error
	FailTransfer(transferID, message string) error
}

// Options configures an Orchestrator.
type Options struct {
	Store        *blobs.Store
	Dialer       Dialer
	LocalAddr    func() network.NodeAddr
	History      History
	FetchTimeout time.Duration
	DialTimeout  time.Duration
	Logger       logrus.FieldLogger
}

// Orchestrator runs send and receive flows against one node's store and endpoint.
type Orchestrator struct {
	store    *blobs.Store
	dialer   Dialer
	self     func() network.NodeAddr
	history  History
	builder  *bundle.Builder
	resolver *bundle.Resolver

	fetchTimeout time.Duration
	dialTimeout  time.Duration
	logger       logrus.FieldLogger
}

// New validates options and returns an orchestrator.
func New(options Options) (*Orchestrator, error) {
	if options.Store == nil {
		return nil, errors.New("transfer: blob store is required")
	}
	if options.Dialer == nil {
		return nil, errors.New("transfer: dialer is required")
	}
	if options.LocalAddr == nil {
		return nil, errors.New("transfer: local address source is required")
	}
	if options.FetchTimeout <= 0 {
		options.FetchTimeout = DefaultFetchTimeout
	}
	if options.DialTimeout <= 0 {
		options.DialTimeout = DefaultDialTimeout
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	return &Orchestrator{
		store:        options.Store,
		dialer:       options.Dialer,
		self:         options.LocalAddr,
		history:      options.History,
		builder:      bundle.NewBuilder(options.Store, logger),
		resolver:     bundle.NewResolver(options.Store, logger),
		fetchTimeout: options.FetchTimeout,
		dialTimeout:  options.DialTimeout,
		logger:       logger.WithField("component", "transfer"),
	}, nil
}

// SendOperation is an in-flight send.
type SendOperation struct {
	*operation
	ticket ticket.Ticket
}

// Wait blocks until the file is published and returns its ticket.
func (s *SendOperation) Wait() (ticket.Ticket, error) {
	if err := s.result(); err != nil {
		return ticket.Ticket{}, err
	}
	return s.ticket, nil
}

// ReceiveOperation is an in-flight receive.
type ReceiveOperation struct {
	*operation
	out bundle.Result
}

// Wait blocks until the download ends and returns where the file was saved.
func (r *ReceiveOperation) Wait() (bundle.Result, error) {
	if err := r.result(); err != nil {
		return bundle.Result{}, err
	}
	return r.out, nil
}

// Send imports path and publishes it as a bundle. The content stays servable
// for as long as the node runs.
func (o *Orchestrator) Send(ctx context.Context, path string) *SendOperation {
	op := &SendOperation{operation: newOperation(ctx, uuid.NewString())}
	go func() {
		tk, err := o.runSend(op.operation, path)
		op.ticket = tk
		op.finish(err)
	}()
	return op
}

func (o *Orchestrator) runSend(op *operation, path string) (ticket.Ticket, error) {
	logger := o.logger.WithFields(logrus.Fields{"transfer": op.id, "path": path})
	op.emit(Event{Kind: EventInitializing})

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		op.emit(Event{Kind: EventError, Message: "file does not exist"})
		if err == nil {
			return ticket.Ticket{}, fmt.Errorf("%w: %s is a directory", ErrFileNotFound, path)
		}
		return ticket.Ticket{}, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}

	o.record(logger, func(h History) error {
		return h.CreateTransfer(storage.Transfer{
			TransferID:  op.id,
			Direction:   storage.DirectionSend,
			FilePath:    path,
			DisplayName: info.Name(),
			Size:        info.Size(),
		})
	})

	op.emit(Event{Kind: EventImporting})
	_, tk, err := o.builder.Build(op.ctx, path, o.self())
	if err != nil {
		o.fail(logger, op, err)
		return ticket.Ticket{}, err
	}

	encoded := tk.String()
	op.emit(Event{Kind: EventTicket, Ticket: encoded})
	o.record(logger, func(h History) error { return h.UpdateTransferTicket(op.id, encoded) })
	o.record(logger, func(h History) error {
		return h.CompleteTransfer(op.id, path, info.Name(), info.Size())
	})

	logger.WithField("root", tk.Hash.Short()).Info("file ready to send")
	op.emit(Event{Kind: EventReady, Ticket: encoded})
	return tk, nil
}

// Receive downloads the bundle named by encodedTicket into downloadDir.
func (o *Orchestrator) Receive(ctx context.Context, encodedTicket, downloadDir string) *ReceiveOperation {
	op := &ReceiveOperation{operation: newOperation(ctx, uuid.NewString())}
	go func() {
		out, err := o.runReceive(op.operation, encodedTicket, downloadDir)
		op.out = out
		op.finish(err)
	}()
	return op
}

func (o *Orchestrator) runReceive(op *operation, encodedTicket, downloadDir string) (bundle.Result, error) {
	logger := o.logger.WithField("transfer", op.id)
	op.emit(Event{Kind: EventInitializing})

	tk, err := ticket.Decode(encodedTicket)
	if err != nil {
		op.emit(Event{Kind: EventError, Message: err.Error()})
		return bundle.Result{}, err
	}
	logger = logger.WithFields(logrus.Fields{"peer": tk.Addr.ID.Short(), "root": tk.Hash.Short()})

	o.record(logger, func(h History) error {
		return h.CreateTransfer(storage.Transfer{
			TransferID: op.id,
			Direction:  storage.DirectionReceive,
			Ticket:     tk.String(),
			PeerID:     tk.Addr.ID.String(),
			FilePath:   downloadDir,
		})
	})

	op.emit(Event{Kind: EventConnecting})
	dialCtx, cancelDial := context.WithTimeout(op.ctx, o.dialTimeout)
	conn, err := o.dialer.Dial(dialCtx, tk.Addr, blobs.ProtocolALPN)
	cancelDial()
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		o.fail(logger, op, err)
		return bundle.Result{}, err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logger.WithError(err).Debug("close blob connection")
		}
	}()

	op.emit(Event{Kind: EventDownloading})
	fetchCtx, cancelFetch := context.WithTimeout(op.ctx, o.fetchTimeout)
	defer cancelFetch()

	fetcher := blobs.NewFetcher(conn, o.store, logger)
	out, err := o.resolver.Resolve(fetchCtx, fetcher, tk.Hash, tk.Shape, downloadDir, bundle.Hooks{
		Progress: op.progress,
		OnWriting: func(name string) {
			op.emit(Event{Kind: EventWriting, Message: name})
		},
	})
	if err != nil {
		o.fail(logger, op, err)
		return bundle.Result{}, err
	}

	o.record(logger, func(h History) error {
		return h.CompleteTransfer(op.id, out.Path, out.DisplayName, out.Size)
	})
	logger.WithFields(logrus.Fields{"path": out.Path, "size": out.Size}).Info("file received")
	op.emit(Event{Kind: EventSuccess, Path: out.Path, Message: out.DisplayName, Bytes: out.Size})
	return out, nil
}

func (o *Orchestrator) fail(logger logrus.FieldLogger, op *operation, err error) {
	logger.WithError(err).Warn("transfer failed")
	op.emit(Event{Kind: EventError, Message: err.Error()})
	o.record(logger, func(h History) error { return h.FailTransfer(op.id, err.Error()) })
}

// record writes history; failures are logged and never fail the transfer.
func (o *Orchestrator) record(logger logrus.FieldLogger, write func(History) error) {
	if o.history == nil {
		return
	}
	if err := write(o.history); err != nil {
		logger.WithError(err).Warn("record transfer history")
	}
}
