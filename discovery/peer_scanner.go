package discovery

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"maps"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"

	"peerdrop/crypto"
)

const (
	// EventPeerUpserted is emitted when a node appears or its addresses change.
	EventPeerUpserted EventType = "peer_upserted"
	// EventPeerRemoved is emitted when a previously seen node disappears.
	EventPeerRemoved EventType = "peer_removed"
)

// EventType identifies scanner updates.
type EventType string

// Event carries one scanner update.
type Event struct {
	Type EventType
	Peer DiscoveredPeer
}

// DiscoveredPeer is a node seen on the LAN.
type DiscoveredPeer struct {
	ID          crypto.NodeID
	Name        string
	Fingerprint string
	Version     int
	HostName    string
	Port        int
	// Addresses are dialable host:port pairs, IPv4 first.
	Addresses []string
	LastSeen  time.Time
}

// ErrScannerStopped is returned by Refresh when the scanner is not running.
var ErrScannerStopped = errors.New("discovery: scanner is not running")

type refreshRequest struct {
	ctx  context.Context
	done chan error
}

// PeerScanner browses for peerdrop nodes periodically and on demand.
type PeerScanner struct {
	cfg    Config
	logger logrus.FieldLogger

	browse browseFunc

	mu    sync.RWMutex
	peers map[crypto.NodeID]DiscoveredPeer

	events chan Event

	startOnce sync.Once
	stopOnce  sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	refreshRequests chan refreshRequest
}

// NewPeerScanner creates a scanner with config defaults applied.
func NewPeerScanner(config Config) (*PeerScanner, error) {
	cfg := config.withDefaults()

	browse := cfg.browseFn
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, err
		}
		browse = resolver.Browse
	}

	return &PeerScanner{
		cfg:             cfg,
		logger:          cfg.Logger.WithField("component", "mdns-scanner"),
		browse:          browse,
		peers:           make(map[crypto.NodeID]DiscoveredPeer),
		events:          make(chan Event, 128),
		refreshRequests: make(chan refreshRequest),
	}, nil
}

// Start begins background scanning.
func (s *PeerScanner) Start() error {
	s.startOnce.Do(func() {
		s.ctx, s.cancel = context.WithCancel(context.Background())
		s.wg.Add(1)
		go s.loop()
	})
	return nil
}

// Stop stops background scanning and closes Events.
func (s *PeerScanner) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		close(s.events)
	})
}

// Events provides asynchronous scanner updates. Updates are dropped when
// nobody reads them.
func (s *PeerScanner) Events() <-chan Event {
	return s.events
}

// Refresh runs a scan now and waits for it to finish.
func (s *PeerScanner) Refresh(ctx context.Context) error {
	if s.ctx == nil {
		return ErrScannerStopped
	}

	req := refreshRequest{
		ctx:  ctx,
		done: make(chan error, 1),
	}

	select {
	case s.refreshRequests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrScannerStopped
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrScannerStopped
	}
}

// Lookup returns the last seen advertisement for id.
func (s *PeerScanner) Lookup(id crypto.NodeID) (DiscoveredPeer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	peer, ok := s.peers[id]
	return peer, ok
}

// Resolve returns the addresses id advertises, scanning once if it is unknown.
func (s *PeerScanner) Resolve(ctx context.Context, id crypto.NodeID) ([]string, error) {
	if peer, ok := s.Lookup(id); ok && len(peer.Addresses) > 0 {
		return append([]string(nil), peer.Addresses...), nil
	}
	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	if peer, ok := s.Lookup(id); ok && len(peer.Addresses) > 0 {
		return append([]string(nil), peer.Addresses...), nil
	}
	return nil, ErrNodeNotFound
}

// ListPeers returns the current snapshot sorted by name, then id.
func (s *PeerScanner) ListPeers() []DiscoveredPeer {
	s.mu.RLock()
	out := slices.Collect(maps.Values(s.peers))
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b DiscoveredPeer) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), bytes.Compare(a.ID[:], b.ID[:]))
	})
	return out
}

func (s *PeerScanner) loop() {
	defer s.wg.Done()

	s.runScan(context.Background())

	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.runScan(context.Background()); err != nil {
				s.logger.WithError(err).Debug("mDNS scan failed")
			}
		case req := <-s.refreshRequests:
			req.done <- s.runScan(req.ctx)
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *PeerScanner) runScan(requestCtx context.Context) error {
	scanCtx, cancel := context.WithTimeout(s.ctx, s.cfg.ScanTimeout)
	defer cancel()
	stop := context.AfterFunc(requestCtx, cancel)
	defer stop()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	collected := make(map[crypto.NodeID]DiscoveredPeer)
	collectorDone := make(chan struct{})

	go func() {
		defer close(collectorDone)
		for {
			select {
			case <-scanCtx.Done():
				return
			case entry := <-entries:
				if entry == nil {
					continue
				}
				peer, ok := parseEntry(entry, s.cfg.SelfID)
				if !ok {
					continue
				}
				peer.LastSeen = time.Now()
				collected[peer.ID] = peer
			}
		}
	}()

	if err := s.browse(scanCtx, s.cfg.Service, s.cfg.Domain, entries); err != nil &&
		!errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		cancel()
		<-collectorDone
		return err
	}

	<-scanCtx.Done()
	<-collectorDone
	s.applySnapshot(collected)
	return nil
}

func (s *PeerScanner) applySnapshot(next map[crypto.NodeID]DiscoveredPeer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.peers
	s.peers = next

	for id, peer := range next {
		old, exists := previous[id]
		if !exists || !peersEqual(old, peer) {
			s.emitEvent(Event{Type: EventPeerUpserted, Peer: peer})
		}
	}

	for id, peer := range previous {
		if _, exists := next[id]; !exists {
			s.emitEvent(Event{Type: EventPeerRemoved, Peer: peer})
		}
	}
}

func (s *PeerScanner) emitEvent(event Event) {
	select {
	case s.events <- event:
	default:
	}
}

func parseEntry(entry *zeroconf.ServiceEntry, self crypto.NodeID) (DiscoveredPeer, bool) {
	txt := txtToMap(entry.Text)

	id, err := crypto.ParseNodeID(txt[txtNodeID])
	if err != nil || id == self {
		return DiscoveredPeer{}, false
	}
	if entry.Port <= 0 {
		return DiscoveredPeer{}, false
	}

	version, _ := strconv.Atoi(txt[txtVersion])

	addresses := dialAddrs(entry.Port, entry.AddrIPv4, entry.AddrIPv6)

	name := cmp.Or(strings.TrimSpace(entry.Instance), strings.TrimSpace(entry.HostName), id.Short())

	return DiscoveredPeer{
		ID:          id,
		Name:        name,
		Fingerprint: strings.TrimSpace(txt[txtFingerprint]),
		Version:     version,
		HostName:    entry.HostName,
		Port:        entry.Port,
		Addresses:   addresses,
	}, true
}

// dialAddrs joins each usable IP with port. Groups keep their order (IPv4
// first) and are sorted within.
func dialAddrs(port int, groups ...[]net.IP) []string {
	p := strconv.Itoa(port)
	var out []string
	for _, group := range groups {
		start := len(out)
		for _, ip := range group {
			// Link-local IPv6 needs a zone we do not get from the record.
			if ip == nil || ip.IsUnspecified() || (ip.To4() == nil && ip.IsLinkLocalUnicast()) {
				continue
			}
			hostPort := net.JoinHostPort(ip.String(), p)
			if !slices.Contains(out, hostPort) {
				out = append(out, hostPort)
			}
		}
		slices.Sort(out[start:])
	}
	return out
}

func txtToMap(text []string) map[string]string {
	out := make(map[string]string, len(text))
	for _, entry := range text {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(value)
	}
	return out
}

func peersEqual(a, b DiscoveredPeer) bool {
	return a.ID == b.ID &&
		a.Name == b.Name &&
		a.Fingerprint == b.Fingerprint &&
		a.Version == b.Version &&
		a.HostName == b.HostName &&
		a.Port == b.Port &&
		slices.Equal(a.Addresses, b.Addresses)
}
