package discovery

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"

	"peerdrop/crypto"
)

func TestPeerScannerFiltersSelfAndManualRefresh(t *testing.T) {
	self := deterministicTestNodeID("self")
	bob := deterministicTestNodeID("bob")
	carol := deterministicTestNodeID("carol")

	var browseCalls int32
	cfg := Config{
		SelfID:          self,
		RefreshInterval: time.Hour,
		ScanTimeout:     35 * time.Millisecond,
		browseFn: func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
			call := atomic.AddInt32(&browseCalls, 1)
			entries <- testServiceEntry(self, "Self", 7777, "10.0.0.1")
			entries <- testServiceEntry(bob, "Bob", 7778, "10.0.0.2")
			if call >= 2 {
				entries <- testServiceEntry(carol, "Carol", 7779, "10.0.0.3")
			}
			<-ctx.Done()
			return nil
		},
	}

	scanner, err := NewPeerScanner(cfg)
	if err != nil {
		t.Fatalf("NewPeerScanner failed: %v", err)
	}
	if err := scanner.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer scanner.Stop()

	waitForCondition(t, time.Second, func() bool {
		peers := scanner.ListPeers()
		return len(peers) == 1 && peers[0].ID == bob
	})

	if err := scanner.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	waitForCondition(t, time.Second, func() bool {
		return len(scanner.ListPeers()) == 2
	})
}

func TestPeerScannerBackgroundPollingAndRemovalEvent(t *testing.T) {
	bob := deterministicTestNodeID("bob")
	carol := deterministicTestNodeID("carol")

	var browseCalls int32
	cfg := Config{
		SelfID:          deterministicTestNodeID("self"),
		RefreshInterval: 40 * time.Millisecond,
		ScanTimeout:     25 * time.Millisecond,
		browseFn: func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
			call := atomic.AddInt32(&browseCalls, 1)
			if call == 1 {
				entries <- testServiceEntry(bob, "Bob", 7778, "10.0.0.2")
			}
			entries <- testServiceEntry(carol, "Carol", 7779, "10.0.0.3")
			<-ctx.Done()
			return nil
		},
	}

	scanner, err := NewPeerScanner(cfg)
	if err != nil {
		t.Fatalf("NewPeerScanner failed: %v", err)
	}
	if err := scanner.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer scanner.Stop()

	waitForCondition(t, 2*time.Second, func() bool {
		peers := scanner.ListPeers()
		return len(peers) == 1 && peers[0].ID == carol
	})

	if !waitForEvent(scanner.Events(), EventPeerRemoved, bob, 2*time.Second) {
		t.Fatalf("expected peer removal event for bob")
	}
}

func TestPeerScannerResolveScansForUnknownNode(t *testing.T) {
	bob := deterministicTestNodeID("bob")

	var browseCalls int32
	cfg := Config{
		SelfID:          deterministicTestNodeID("self"),
		RefreshInterval: time.Hour,
		ScanTimeout:     30 * time.Millisecond,
		browseFn: func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
			if atomic.AddInt32(&browseCalls, 1) >= 2 {
				entry := testServiceEntry(bob, "Bob", 7778, "10.0.0.2")
				entry.AddrIPv6 = []net.IP{net.ParseIP("fe80::1"), net.ParseIP("2001:db8::2")}
				entries <- entry
			}
			<-ctx.Done()
			return ctx.Err()
		},
	}

	scanner, err := NewPeerScanner(cfg)
	if err != nil {
		t.Fatalf("NewPeerScanner failed: %v", err)
	}
	if err := scanner.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer scanner.Stop()

	waitForCondition(t, time.Second, func() bool {
		return atomic.LoadInt32(&browseCalls) >= 1
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	addrs, err := scanner.Resolve(ctx, bob)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	want := []string{"10.0.0.2:7778", "[2001:db8::2]:7778"}
	if len(addrs) != len(want) {
		t.Fatalf("expected %v, got %v", want, addrs)
	}
	for i := range want {
		if addrs[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, addrs)
		}
	}

	if _, err := scanner.Resolve(ctx, deterministicTestNodeID("nobody")); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("expected ErrNodeNotFound, got %v", err)
	}
}

func TestParseEntryRejectsMalformedNodeID(t *testing.T) {
	entry := testServiceEntry(deterministicTestNodeID("bob"), "Bob", 7778, "10.0.0.2")
	entry.Text = []string{"node_id=not-hex", "version=1"}
	if _, ok := parseEntry(entry, crypto.NodeID{}); ok {
		t.Fatalf("expected malformed node id to be ignored")
	}
}

func TestDialAddrsOrdersAndFilters(t *testing.T) {
	got := dialAddrs(9000,
		[]net.IP{net.ParseIP("192.168.1.20"), net.ParseIP("10.0.0.5"), net.ParseIP("10.0.0.5"), net.IPv4zero},
		[]net.IP{net.ParseIP("fe80::1"), net.ParseIP("2001:db8::9")},
	)
	want := []string{"10.0.0.5:9000", "192.168.1.20:9000", "[2001:db8::9]:9000"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected addresses %v, want %v", got, want)
	}
}

func TestRefreshBeforeStart(t *testing.T) {
	scanner, err := NewPeerScanner(Config{
		browseFn: func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
			return nil
		},
	})
	if err != nil {
		t.Fatalf("NewPeerScanner failed: %v", err)
	}
	if err := scanner.Refresh(context.Background()); !errors.Is(err, ErrScannerStopped) {
		t.Fatalf("expected ErrScannerStopped, got %v", err)
	}
}

func testServiceEntry(id crypto.NodeID, instance string, port int, ip string) *zeroconf.ServiceEntry {
	return &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{
			Instance: instance,
			Service:  DefaultService,
			Domain:   DefaultDomain,
		},
		HostName: instance + ".local",
		Port:     port,
		Text: []string{
			"node_id=" + id.String(),
			"version=1",
			"fingerprint=" + id.Fingerprint(),
		},
		AddrIPv4: []net.IP{net.ParseIP(ip)},
	}
}

func waitForCondition(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before timeout %s", timeout)
}

func waitForEvent(events <-chan Event, eventType EventType, id crypto.NodeID, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return false
			}
			if event.Type == eventType && event.Peer.ID == id {
				return true
			}
		case <-deadline:
			return false
		}
	}
}
