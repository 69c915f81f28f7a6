// Package node owns the process-wide peer: identity, storage, content store,
// QUIC endpoint and the protocols served on it.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"peerdrop/blobs"
	"peerdrop/chat"
	"peerdrop/config"
	"peerdrop/crypto"
	"peerdrop/discovery"
	"peerdrop/logging"
	"peerdrop/network"
	"peerdrop/storage"
	"peerdrop/ticket"
	"peerdrop/transfer"
)

// ErrNodeNotInitialized indicates Current was called before Init.
var ErrNodeNotInitialized = errors.New("node: not initialized")

var (
	initMu  sync.Mutex
	current *Node
)

// Node is a running peer.
type Node struct {
	cfg      *config.NodeConfig
	identity *crypto.Identity
	logger   logrus.FieldLogger

	db        *storage.Store
	blobs     *blobs.Store
	endpoint  *network.Endpoint
	transfers *transfer.Orchestrator
	chat      *chat.Service
	discovery *discovery.Service

	cancel    context.CancelFunc
	serveDone chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Init starts the process node on first call. Later calls return the same
// node and ignore their arguments.
func Init(ctx context.Context, cfg *config.NodeConfig, logger logrus.FieldLogger) (*Node, error) {
	initMu.Lock()
	defer initMu.Unlock()

	if current != nil {
		return current, nil
	}
	n, err := Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	current = n
	return n, nil
}

// Current returns the node started by Init.
func Current() (*Node, error) {
	initMu.Lock()
	defer initMu.Unlock()

	if current == nil {
		return nil, ErrNodeNotInitialized
	}
	return current, nil
}

// Open starts a node without registering it as the process node.
func Open(ctx context.Context, cfg *config.NodeConfig, logger logrus.FieldLogger) (*Node, error) {
	if cfg == nil || cfg.DataDir == "" {
		return nil, errors.New("node: config with data directory is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Discard()
	}
	if err := config.EnsureDataDirectories(cfg.DataDir); err != nil {
		return nil, err
	}

	identity, err := crypto.LoadOrCreateIdentity(cfg.KeysDir())
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	persistFingerprint(cfg, identity, logger)

	db, dbPath, err := storage.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	n := &Node{
		cfg:       cfg,
		identity:  identity,
		logger:    logger.WithField("node", identity.ID.Short()),
		db:        db,
		serveDone: make(chan struct{}),
	}
	if err := n.start(); err != nil {
		_ = db.Close()
		return nil, err
	}

	n.logger.WithFields(logrus.Fields{
		"addr":     n.endpoint.LocalAddr().String(),
		"database": dbPath,
	}).Info("node started")
	return n, nil
}

func (n *Node) start() error {
	store, err := blobs.NewStore(n.cfg.BlobsDir(), n.db, n.logger)
	if err != nil {
		return err
	}
	n.blobs = store

	endpoint, err := network.Listen(network.EndpointOptions{
		Identity:      n.identity,
		ListenAddress: n.cfg.ListenAddress(),
		DialTimeout:   n.cfg.DialTimeout(),
		Logger:        n.logger,
	})
	if err != nil {
		return fmt.Errorf("bind endpoint: %w", err)
	}
	n.endpoint = endpoint

	n.chat = chat.NewService(chat.Options{Dialer: endpoint, History: n.db, Logger: n.logger})
	endpoint.Handle(blobs.ProtocolALPN, blobs.NewServer(store, n.logger))
	endpoint.Handle(chat.ProtocolALPN, n.chat)

	n.transfers, err = transfer.New(transfer.Options{
		Store:        store,
		Dialer:       endpoint,
		LocalAddr:    endpoint.Addr,
		History:      n.db,
		FetchTimeout: n.cfg.FetchTimeout(),
		DialTimeout:  n.cfg.DialTimeout(),
		Logger:       n.logger,
	})
	if err != nil {
		_ = endpoint.Close()
		return err
	}

	if n.cfg.MDNSEnabled {
		n.startDiscovery()
	}

	serveCtx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	go func() {
		defer close(n.serveDone)
		if err := endpoint.Serve(serveCtx); err != nil && !errors.Is(err, context.Canceled) {
			n.logger.WithError(err).Error("endpoint stopped")
		}
	}()
	return nil
}

// startDiscovery failures are logged; the node still works with ticket addresses.
func (n *Node) startDiscovery() {
	svc, err := discovery.Start(discovery.Config{
		SelfID:        n.identity.ID,
		NodeName:      n.cfg.NodeName,
		ListeningPort: n.endpoint.LocalAddr().Port,
		Logger:        n.logger,
	})
	if err != nil {
		n.logger.WithError(err).Warn("mDNS discovery unavailable")
		return
	}
	n.discovery = svc
	n.endpoint.SetResolver(svc)
	go logDiscoveryEvents(n.logger, svc.Scanner.Events())
}

func logDiscoveryEvents(logger logrus.FieldLogger, events <-chan discovery.Event) {
	for event := range events {
		entry := logger.WithFields(logrus.Fields{"peer": event.Peer.ID.Short(), "name": event.Peer.Name})
		switch event.Type {
		case discovery.EventPeerUpserted:
			entry.WithField("addrs", event.Peer.Addresses).Debug("LAN peer available")
		case discovery.EventPeerRemoved:
			entry.Debug("LAN peer removed")
		}
	}
}

// persistFingerprint records the key fingerprint in config.json. Environment
// overrides applied to cfg are not written back.
func persistFingerprint(cfg *config.NodeConfig, identity *crypto.Identity, logger logrus.FieldLogger) {
	fingerprint := identity.ID.Fingerprint()
	if cfg.KeyFingerprint == fingerprint {
		return
	}
	cfg.KeyFingerprint = fingerprint

	path := config.ConfigPath(cfg.DataDir)
	onDisk, err := config.Load(path)
	if err != nil {
		logger.WithError(err).Debug("config not persisted, skipping fingerprint update")
		return
	}
	onDisk.KeyFingerprint = fingerprint
	if err := config.Save(path, onDisk); err != nil {
		logger.WithError(err).Warn("persist key fingerprint")
	}
}

// ID returns the node id.
func (n *Node) ID() crypto.NodeID {
	return n.identity.ID
}

// Fingerprint returns the grouped key fingerprint for display.
func (n *Node) Fingerprint() string {
	return crypto.FormatFingerprint(n.identity.ID.Fingerprint())
}

// Addr returns the node id and its dialable addresses.
func (n *Node) Addr() network.NodeAddr {
	return n.endpoint.Addr()
}

// MyAddr returns a ticket naming only this node, for peers to message back.
func (n *Node) MyAddr() string {
	return ticket.ForAddr(n.endpoint.Addr()).String()
}

// Config returns the effective configuration.
func (n *Node) Config() *config.NodeConfig {
	return n.cfg
}

// StartSend publishes path and reports progress on the returned operation.
func (n *Node) StartSend(ctx context.Context, path string) *transfer.SendOperation {
	return n.transfers.Send(ctx, path)
}

// ReceiveFile downloads the bundle named by encodedTicket. An empty
// downloadDir uses the configured download directory.
func (n *Node) ReceiveFile(ctx context.Context, encodedTicket, downloadDir string) *transfer.ReceiveOperation {
	if downloadDir == "" {
		downloadDir = n.cfg.DownloadDir
	}
	return n.transfers.Receive(ctx, encodedTicket, downloadDir)
}

// SendText sends text to the node named by targetTicket. myTicket is
// attached so the receiver can reply; empty means MyAddr.
func (n *Node) SendText(ctx context.Context, targetTicket, myTicket, text string) error {
	target, err := ticket.Decode(targetTicket)
	if err != nil {
		return err
	}
	if myTicket == "" {
		myTicket = n.MyAddr()
	}
	return n.chat.Send(ctx, target.Addr, chat.WireMessage{Text: text, SenderTicket: myTicket})
}

// SubscribeMessages returns the inbound message stream. Only one subscriber
// is allowed per node.
func (n *Node) SubscribeMessages() (<-chan chat.IncomingMessage, error) {
	return n.chat.Subscribe()
}

// Transfers lists recorded transfers, newest first.
func (n *Node) Transfers(limit, offset int) ([]storage.Transfer, error) {
	return n.db.ListTransfers(limit, offset)
}

// Messages lists message history, optionally for one peer id.
func (n *Node) Messages(peerID string, limit, offset int) ([]storage.Message, error) {
	return n.db.GetMessages(peerID, limit, offset)
}

// Peers lists nodes currently seen over mDNS. It is empty when discovery is off.
func (n *Node) Peers() []discovery.DiscoveredPeer {
	if n.discovery == nil || n.discovery.Scanner == nil {
		return nil
	}
	return n.discovery.Scanner.ListPeers()
}

// StoreStats reports how many content units the node holds and their total size.
func (n *Node) StoreStats() (count, bytes int64, err error) {
	return n.db.CountBlobs()
}

// Close stops the endpoint and releases storage. Closing the process node
// allows Init to start a new one.
func (n *Node) Close() error {
	n.closeOnce.Do(func() {
		initMu.Lock()
		if current == n {
			current = nil
		}
		initMu.Unlock()

		n.discovery.Stop()
		n.cancel()
		var errs []error
		if err := n.endpoint.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close endpoint: %w", err))
		}
		<-n.serveDone
		if err := n.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
		n.closeErr = errors.Join(errs...)
	})
	return n.closeErr
}
