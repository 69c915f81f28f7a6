package storage

import (
	"errors"
	"testing"
)

func TestMessageCRUD(t *testing.T) {
	store := newTestStore(t)

	sent := nowUnixMilli() - 10_000
	received := nowUnixMilli()

	if err := store.SaveMessage(Message{
		MessageID:    "msg-out",
		Direction:    MessageSent,
		PeerID:       "peer-1",
		Text:         "hello",
		SenderTicket: "drop:self",
		SentAt:       sent,
	}); err != nil {
		t.Fatalf("SaveMessage sent failed: %v", err)
	}
	if err := store.SaveMessage(Message{
		MessageID:    "msg-in",
		Direction:    MessageReceived,
		PeerID:       "peer-1",
		Text:         "hi back",
		SenderTicket: "drop:peer",
		SentAt:       sent + 1,
		ReceivedAt:   &received,
	}); err != nil {
		t.Fatalf("SaveMessage received failed: %v", err)
	}
	if err := store.SaveMessage(Message{
		MessageID: "msg-other",
		Direction: MessageReceived,
		PeerID:    "peer-2",
		Text:      "unrelated",
		SentAt:    sent + 2,
	}); err != nil {
		t.Fatalf("SaveMessage other failed: %v", err)
	}

	conversation, err := store.GetMessages("peer-1", 10, 0)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(conversation) != 2 {
		t.Fatalf("expected 2 messages for peer-1, got %d", len(conversation))
	}
	if conversation[0].MessageID != "msg-out" || conversation[1].MessageID != "msg-in" {
		t.Fatalf("unexpected message order: %q, %q", conversation[0].MessageID, conversation[1].MessageID)
	}
	if conversation[1].ReceivedAt == nil || *conversation[1].ReceivedAt != received {
		t.Fatalf("expected received timestamp to round trip")
	}

	all, err := store.GetMessages("", 10, 0)
	if err != nil {
		t.Fatalf("GetMessages all failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 messages overall, got %d", len(all))
	}

	got, err := store.GetMessageByID("msg-in")
	if err != nil {
		t.Fatalf("GetMessageByID failed: %v", err)
	}
	if got.Text != "hi back" || got.SenderTicket != "drop:peer" {
		t.Fatalf("unexpected message: %+v", got)
	}

	if _, err := store.GetMessageByID("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveMessageRejectsInvalidRows(t *testing.T) {
	store := newTestStore(t)

	if err := store.SaveMessage(Message{MessageID: "m", Direction: "sideways", PeerID: "p"}); err == nil {
		t.Fatalf("expected invalid direction to be rejected")
	}
	if err := store.SaveMessage(Message{MessageID: "m", Direction: MessageSent}); err == nil {
		t.Fatalf("expected missing peer to be rejected")
	}
	if err := store.SaveMessage(Message{MessageID: "dup", Direction: MessageSent, PeerID: "p"}); err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}
	if err := store.SaveMessage(Message{MessageID: "dup", Direction: MessageSent, PeerID: "p"}); err == nil {
		t.Fatalf("expected duplicate message id to be rejected")
	}
}
