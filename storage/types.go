package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
)

const (
	// DirectionSend marks a transfer this node served.
	DirectionSend = "send"
	// DirectionReceive marks a transfer this node fetched.
	DirectionReceive = "receive"
)

const (
	// TransferStatusPending is a transfer still in flight.
	TransferStatusPending = "pending"
	// TransferStatusComplete is a transfer that finished successfully.
	TransferStatusComplete = "complete"
	// TransferStatusFailed is a transfer that ended with an error.
	TransferStatusFailed = "failed"
)

const (
	// MessageSent is a message this node delivered to a peer.
	MessageSent = "sent"
	// MessageReceived is a message a peer delivered to this node.
	MessageReceived = "received"
)

// BlobRecord indexes one content unit held by the blob store.
type BlobRecord struct {
	Hash      string
	Size      int64
	CreatedAt int64
}

// Transfer is the SQLite representation of one send or receive.
type Transfer struct {
	TransferID  string
	Direction   string
	Ticket      string
	PeerID      string
	FilePath    string
	DisplayName string
	Size        int64
	Status      string
	Error       string
	StartedAt   int64
	FinishedAt  *int64
}

// Message is the SQLite representation of a chat message.
type Message struct {
	MessageID    string
	Direction    string
	PeerID       string
	Text         string
	SenderTicket string
	SentAt       int64
	ReceivedAt   *int64
}

type scanner interface {
	Scan(dest ...any) error
}

func validateDirection(direction string) error {
	switch direction {
	case DirectionSend, DirectionReceive:
		return nil
	default:
		return fmt.Errorf("invalid transfer direction %q", direction)
	}
}

func validateTransferStatus(status string) error {
	switch status {
	case TransferStatusPending, TransferStatusComplete, TransferStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid transfer status %q", status)
	}
}

func validateMessageDirection(direction string) error {
	switch direction {
	case MessageSent, MessageReceived:
		return nil
	default:
		return fmt.Errorf("invalid message direction %q", direction)
	}
}

func nullInt64(ptr *int64) sql.NullInt64 {
	if ptr == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *ptr, Valid: true}
}

func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

// page normalizes list bounds; a non-positive limit means 100.
func page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
