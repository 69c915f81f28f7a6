package discovery

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"

	"peerdrop/crypto"
	"peerdrop/logging"
)

const (
	// DefaultService is the mDNS service name without domain suffix.
	DefaultService = "_peerdrop._udp"
	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
	// DefaultVersion is the TXT record protocol version.
	DefaultVersion = 1
	// DefaultRefreshInterval is the background scan interval.
	DefaultRefreshInterval = 30 * time.Second
	// DefaultScanTimeout bounds each browse window.
	DefaultScanTimeout = 2 * time.Second

	txtNodeID      = "node_id"
	txtVersion     = "version"
	txtFingerprint = "fingerprint"
)

// ErrNodeNotFound indicates no LAN advertisement was seen for a node id.
var ErrNodeNotFound = errors.New("discovery: node not found on local network")

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)
type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// Config controls the broadcaster and scanner.
type Config struct {
	Service         string
	Domain          string
	Version         int
	RefreshInterval time.Duration
	ScanTimeout     time.Duration

	SelfID        crypto.NodeID
	NodeName      string
	ListeningPort int

	Logger logrus.FieldLogger

	registerFn registerFunc
	browseFn   browseFunc
}

func (c Config) withDefaults() Config {
	c.Service = cmp.Or(c.Service, DefaultService)
	c.Domain = cmp.Or(c.Domain, DefaultDomain)
	c.Version = cmp.Or(c.Version, DefaultVersion)
	c.RefreshInterval = positiveOr(c.RefreshInterval, DefaultRefreshInterval)
	c.ScanTimeout = positiveOr(c.ScanTimeout, DefaultScanTimeout)
	if c.Logger == nil {
		c.Logger = logging.Discard()
	}
	if c.registerFn == nil {
		c.registerFn = zeroconf.Register
	}
	return c
}

func positiveOr(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

func (c Config) validateForBroadcast() error {
	switch {
	case c.SelfID.IsZero():
		return errors.New("discovery: self node id is required")
	case strings.TrimSpace(c.NodeName) == "":
		return errors.New("discovery: node name is required")
	case c.ListeningPort <= 0:
		return errors.New("discovery: listening port must be > 0")
	}
	return nil
}

// instanceName is unique on the link even when two nodes share a name.
func (c Config) instanceName() string {
	return c.NodeName + "-" + c.SelfID.Short()
}

// txtRecords is the advertisement parsed back by parseEntry.
func (c Config) txtRecords() []string {
	return []string{
		txtNodeID + "=" + c.SelfID.String(),
		txtVersion + "=" + strconv.Itoa(c.Version),
		txtFingerprint + "=" + c.SelfID.Fingerprint(),
	}
}

// Broadcaster advertises this node's id and QUIC port via mDNS.
type Broadcaster struct {
	server *zeroconf.Server
}

// StartBroadcaster registers the local node.
func StartBroadcaster(config Config) (*Broadcaster, error) {
	cfg := config.withDefaults()
	if err := cfg.validateForBroadcast(); err != nil {
		return nil, err
	}

	instance := cfg.instanceName()
	server, err := cfg.registerFn(instance, cfg.Service, cfg.Domain, cfg.ListeningPort, cfg.txtRecords(), nil)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}

	cfg.Logger.WithFields(logrus.Fields{"instance": instance, "port": cfg.ListeningPort}).Info("mDNS broadcast started")
	return &Broadcaster{server: server}, nil
}

// Stop stops broadcasting.
func (b *Broadcaster) Stop() {
	if b == nil || b.server == nil {
		return
	}
	b.server.Shutdown()
}

// Service pairs the broadcaster with a scanner and resolves node ids to
// LAN addresses for the transport.
type Service struct {
	Broadcaster *Broadcaster
	Scanner     *PeerScanner
}

// Start advertises the node and begins scanning. Nothing is left running
// when it fails.
func Start(config Config) (*Service, error) {
	cfg := config.withDefaults()

	broadcaster, err := StartBroadcaster(cfg)
	if err != nil {
		return nil, err
	}
	svc := &Service{Broadcaster: broadcaster}

	if svc.Scanner, err = NewPeerScanner(cfg); err == nil {
		err = svc.Scanner.Start()
	}
	if err != nil {
		broadcaster.Stop()
		return nil, err
	}
	return svc, nil
}

// Resolve returns LAN addresses advertised by id.
func (s *Service) Resolve(ctx context.Context, id crypto.NodeID) ([]string, error) {
	if s == nil || s.Scanner == nil {
		return nil, ErrNodeNotFound
	}
	return s.Scanner.Resolve(ctx, id)
}

// Stop stops scanner and broadcaster.
func (s *Service) Stop() {
	if s == nil {
		return
	}
	if s.Scanner != nil {
		s.Scanner.Stop()
	}
	if s.Broadcaster != nil {
		s.Broadcaster.Stop()
	}
}
