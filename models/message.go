package models

import "peerdrop/storage"

// Message is a stored chat message as reported by the control API.
type Message struct {
	MessageID    string `json:"message_id"`
	Direction    string `json:"direction"`
	PeerID       string `json:"peer_id"`
	Text         string `json:"text"`
	SenderTicket string `json:"sender_ticket,omitempty"`
	SentAt       int64  `json:"sent_at"`
	ReceivedAt   *int64 `json:"received_at,omitempty"`
}

// MessageFromRecord converts a stored message row.
func MessageFromRecord(record storage.Message) Message {
	return Message(record)
}
