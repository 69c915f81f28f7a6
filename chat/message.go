package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"peerdrop/crypto"
)

// ProtocolALPN is the protocol channel for chat messages.
const ProtocolALPN = "peerdrop/chat/1"

var (
	// ErrMessageParse indicates a chat frame that is not a valid WireMessage.
	ErrMessageParse = errors.New("chat: invalid message")
	// ErrAlreadySubscribed indicates the single subscription is already taken.
	ErrAlreadySubscribed = errors.New("chat: already subscribed")
)

// WireMessage is the JSON body of a chat frame.
type WireMessage struct {
	ID           string `json:"id,omitempty"`
	Text         string `json:"text"`
	SenderTicket string `json:"sender_ticket"`
	SentAt       int64  `json:"sent_at,omitempty"`
}

// IncomingMessage is a delivered message tagged with the authenticated sender.
type IncomingMessage struct {
	ID         string        `json:"id"`
	From       crypto.NodeID `json:"from"`
	Text       string        `json:"text"`
	Ticket     string        `json:"ticket"`
	SentAt     int64         `json:"sent_at,omitempty"`
	ReceivedAt time.Time     `json:"received_at"`
}

// decodeWireMessage parses a frame body. text and sender_ticket must be present.
func decodeWireMessage(data []byte) (WireMessage, error) {
	var raw struct {
		ID           string  `json:"id"`
		Text         *string `json:"text"`
		SenderTicket *string `json:"sender_ticket"`
		SentAt       int64   `json:"sent_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return WireMessage{}, fmt.Errorf("%w: %v", ErrMessageParse, err)
	}
	if raw.Text == nil {
		return WireMessage{}, fmt.Errorf("%w: missing text", ErrMessageParse)
	}
	if raw.SenderTicket == nil {
		return WireMessage{}, fmt.Errorf("%w: missing sender_ticket", ErrMessageParse)
	}
	return WireMessage{
		ID:           raw.ID,
		Text:         *raw.Text,
		SenderTicket: *raw.SenderTicket,
		SentAt:       raw.SentAt,
	}, nil
}
