package blobs

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"peerdrop/crypto"
	"peerdrop/network"
)

func newTestEndpoint(t *testing.T) *network.Endpoint {
	t.Helper()

	identity, err := crypto.GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity failed: %v", err)
	}
	endpoint, err := network.Listen(network.EndpointOptions{
		Identity:      identity,
		ListenAddress: "127.0.0.1:0",
		DialTimeout:   2 * time.Second,
	})
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	t.Cleanup(func() {
		_ = endpoint.Close()
	})
	return endpoint
}

func connectBlobPeers(t *testing.T, serving *Store) *network.Conn {
	t.Helper()

	server := newTestEndpoint(t)
	server.Handle(ProtocolALPN, NewServer(serving, nil))
	go func() {
		_ = server.Serve(context.Background())
	}()

	client := newTestEndpoint(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := client.Dial(ctx, server.Addr(), ProtocolALPN)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func TestFetchDownloadsAndVerifies(t *testing.T) {
	serving := newTestStore(t, nil)
	content := bytes.Repeat([]byte("peerdrop "), 50_000)
	h, err := serving.ImportBytes(context.Background(), content)
	if err != nil {
		t.Fatalf("ImportBytes failed: %v", err)
	}

	conn := connectBlobPeers(t, serving)
	local := newTestStore(t, nil)
	fetcher := NewFetcher(conn, local, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var lastReceived, lastTotal int64
	size, err := fetcher.Fetch(ctx, h, func(received, total int64) {
		lastReceived, lastTotal = received, total
	})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if size != int64(len(content)) {
		t.Fatalf("expected size %d, got %d", len(content), size)
	}
	if lastReceived != size || lastTotal != size {
		t.Fatalf("expected final progress %d/%d, got %d/%d", size, size, lastReceived, lastTotal)
	}

	got, err := local.ReadAll(h)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("fetched content mismatch")
	}
}

func TestFetchReportsRemoteNotFound(t *testing.T) {
	conn := connectBlobPeers(t, newTestStore(t, nil))
	fetcher := NewFetcher(conn, newTestStore(t, nil), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	missing := Sum([]byte("nobody has this"))
	if _, err := fetcher.Fetch(ctx, missing, nil); !errors.Is(err, ErrRemoteNotFound) {
		t.Fatalf("expected ErrRemoteNotFound, got %v", err)
	}
}

func TestFetcherReadAllSeveralBlobsOnOneConnection(t *testing.T) {
	serving := newTestStore(t, nil)
	ctx := context.Background()

	first, err := serving.ImportBytes(ctx, []byte("first"))
	if err != nil {
		t.Fatalf("ImportBytes first failed: %v", err)
	}
	second, err := serving.ImportBytes(ctx, []byte("second"))
	if err != nil {
		t.Fatalf("ImportBytes second failed: %v", err)
	}

	conn := connectBlobPeers(t, serving)
	fetcher := NewFetcher(conn, newTestStore(t, nil), nil)

	fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for h, want := range map[Hash]string{first: "first", second: "second"} {
		got, err := fetcher.ReadAll(fetchCtx, h)
		if err != nil {
			t.Fatalf("ReadAll %s failed: %v", h.Short(), err)
		}
		if string(got) != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	}
}
