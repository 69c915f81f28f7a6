package chat

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"peerdrop/crypto"
	"peerdrop/network"
	"peerdrop/storage"
)

type chatPeer struct {
	endpoint *network.Endpoint
	history  *storage.Store
	service  *Service
}

func newChatPeer(t *testing.T) *chatPeer {
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

	history, err := storage.OpenPath(filepath.Join(t.TempDir(), "peerdrop.db"))
	if err != nil {
		t.Fatalf("OpenPath failed: %v", err)
	}
	t.Cleanup(func() {
		_ = history.Close()
	})

	service := NewService(Options{Dialer: endpoint, History: history, CloseWait: 2 * time.Second})
	endpoint.Handle(ProtocolALPN, service)
	go func() {
		_ = endpoint.Serve(context.Background())
	}()

	return &chatPeer{endpoint: endpoint, history: history, service: service}
}

func receive(t *testing.T, inbox <-chan IncomingMessage) IncomingMessage {
	t.Helper()

	select {
	case msg := <-inbox:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for chat message")
	}
	return IncomingMessage{}
}

func TestSendDeliversOnce(t *testing.T) {
	alice := newChatPeer(t)
	bob := newChatPeer(t)

	inbox, err := bob.service.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := alice.service.Send(ctx, bob.endpoint.Addr(), WireMessage{Text: "hi bob", SenderTicket: "drop:alice"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	msg := receive(t, inbox)
	if msg.Text != "hi bob" || msg.Ticket != "drop:alice" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if msg.From != alice.endpoint.ID() {
		t.Fatalf("expected sender %s, got %s", alice.endpoint.ID(), msg.From)
	}

	select {
	case extra := <-inbox:
		t.Fatalf("expected exactly one delivery, got extra %+v", extra)
	case <-time.After(200 * time.Millisecond):
	}

	received, err := bob.history.GetMessages(alice.endpoint.ID().String(), 10, 0)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(received) != 1 || received[0].Direction != storage.MessageReceived {
		t.Fatalf("expected one received message in history, got %+v", received)
	}
	sent, err := alice.history.GetMessages(bob.endpoint.ID().String(), 10, 0)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(sent) != 1 || sent[0].Direction != storage.MessageSent || sent[0].MessageID != msg.ID {
		t.Fatalf("expected one sent message in history, got %+v", sent)
	}
}

func TestDuplicateMessageIDDropped(t *testing.T) {
	alice := newChatPeer(t)
	bob := newChatPeer(t)

	inbox, err := bob.service.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	retry := WireMessage{ID: "msg-1", Text: "once", SenderTicket: "drop:alice"}
	for i := 0; i < 2; i++ {
		if err := alice.service.Send(ctx, bob.endpoint.Addr(), retry); err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
	}
	if err := alice.service.Send(ctx, bob.endpoint.Addr(), WireMessage{ID: "msg-2", Text: "twice", SenderTicket: "drop:alice"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if first := receive(t, inbox); first.ID != "msg-1" {
		t.Fatalf("expected msg-1, got %+v", first)
	}
	if second := receive(t, inbox); second.ID != "msg-2" {
		t.Fatalf("expected msg-2 after duplicate was dropped, got %+v", second)
	}
}

func TestBacklogFlushedOnSubscribe(t *testing.T) {
	alice := newChatPeer(t)
	bob := newChatPeer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := alice.service.Send(ctx, bob.endpoint.Addr(), WireMessage{Text: "early", SenderTicket: "drop:alice"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	inbox, err := bob.service.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if msg := receive(t, inbox); msg.Text != "early" {
		t.Fatalf("expected backlog message, got %+v", msg)
	}
}

func TestBurstReachesSubscriber(t *testing.T) {
	alice := newChatPeer(t)
	bob := newChatPeer(t)

	inbox, err := bob.service.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	// The subscriber reads nothing until every send has returned, so the
	// last few deliveries have to wait for room in the inbox.
	const burst = BacklogSize + 6
	for i := 0; i < burst; i++ {
		msg := WireMessage{Text: fmt.Sprintf("burst %d", i), SenderTicket: "drop:alice"}
		if err := alice.service.Send(ctx, bob.endpoint.Addr(), msg); err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
	}

	seen := make(map[string]bool, burst)
	for i := 0; i < burst; i++ {
		seen[receive(t, inbox).Text] = true
	}
	for i := 0; i < burst; i++ {
		if !seen[fmt.Sprintf("burst %d", i)] {
			t.Fatalf("burst %d was not delivered", i)
		}
	}
}

func TestSubscribeTwice(t *testing.T) {
	service := NewService(Options{})
	if _, err := service.Subscribe(); err != nil {
		t.Fatalf("first Subscribe failed: %v", err)
	}
	if _, err := service.Subscribe(); !errors.Is(err, ErrAlreadySubscribed) {
		t.Fatalf("expected ErrAlreadySubscribed, got %v", err)
	}
}

func TestConcurrentSenders(t *testing.T) {
	bob := newChatPeer(t)
	inbox, err := bob.service.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	const senders = 8
	peers := make([]*chatPeer, senders)
	for i := range peers {
		peers[i] = newChatPeer(t)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, senders)
	for i, p := range peers {
		wg.Add(1)
		go func(i int, p *chatPeer) {
			defer wg.Done()
			errs <- p.service.Send(ctx, bob.endpoint.Addr(), WireMessage{
				Text:         fmt.Sprintf("message %d", i),
				SenderTicket: "drop:sender",
			})
		}(i, p)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}

	seen := make(map[string]bool)
	for i := 0; i < senders; i++ {
		seen[receive(t, inbox).Text] = true
	}
	for i := 0; i < senders; i++ {
		if !seen[fmt.Sprintf("message %d", i)] {
			t.Fatalf("message %d was not delivered", i)
		}
	}
}

func TestStalledConnectionDoesNotBlockOthers(t *testing.T) {
	bob := newChatPeer(t)
	inbox, err := bob.service.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	staller := newChatPeer(t)
	conn, err := staller.endpoint.Dial(ctx, bob.endpoint.Addr(), ProtocolALPN)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	stream, err := conn.OpenStream(ctx)
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	// Half a length prefix, then nothing.
	if _, err := stream.Write([]byte{0x00, 0x00}); err != nil {
		t.Fatalf("write partial frame: %v", err)
	}

	alice := newChatPeer(t)
	if err := alice.service.Send(ctx, bob.endpoint.Addr(), WireMessage{Text: "still works", SenderTicket: "drop:alice"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if msg := receive(t, inbox); msg.Text != "still works" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestSendRejectsOversizedMessage(t *testing.T) {
	alice := newChatPeer(t)
	bob := newChatPeer(t)

	text := make([]byte, network.MaxControlFrameSize)
	for i := range text {
		text[i] = 'a'
	}
	err := alice.service.Send(context.Background(), bob.endpoint.Addr(), WireMessage{Text: string(text), SenderTicket: "drop:alice"})
	if !errors.Is(err, network.ErrFraming) {
		t.Fatalf("expected framing error, got %v", err)
	}
}

func TestDecodeWireMessage(t *testing.T) {
	msg, err := decodeWireMessage([]byte(`{"text":"","sender_ticket":"drop:x"}`))
	if err != nil {
		t.Fatalf("decodeWireMessage failed: %v", err)
	}
	if msg.Text != "" || msg.SenderTicket != "drop:x" {
		t.Fatalf("unexpected message %+v", msg)
	}

	for _, input := range []string{
		`not json`,
		`{"sender_ticket":"drop:x"}`,
		`{"text":"hi"}`,
		`{"text":5,"sender_ticket":"drop:x"}`,
	} {
		if _, err := decodeWireMessage([]byte(input)); !errors.Is(err, ErrMessageParse) {
			t.Fatalf("expected ErrMessageParse for %s, got %v", input, err)
		}
	}
}
