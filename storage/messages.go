package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

const messageColumns = `message_id, direction, peer_id, text, sender_ticket, sent_at, received_at`

// SaveMessage stores one sent or received chat message.
func (s *Store) SaveMessage(message Message) error {
	switch {
	case message.MessageID == "":
		return errors.New("message_id is required")
	case message.PeerID == "":
		return errors.New("peer_id is required")
	}
	if err := validateMessageDirection(message.Direction); err != nil {
		return err
	}
	if message.SentAt == 0 {
		message.SentAt = nowUnixMilli()
	}

	if _, err := s.db.Exec(
		`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		message.MessageID, message.Direction, message.PeerID, message.Text,
		message.SenderTicket, message.SentAt, nullInt64(message.ReceivedAt),
	); err != nil {
		return fmt.Errorf("save message %q: %w", message.MessageID, err)
	}
	return nil
}

// GetMessages returns the conversation with peerID oldest first, or every
// conversation when peerID is empty. limit <= 0 means 100.
func (s *Store) GetMessages(peerID string, limit, offset int) ([]Message, error) {
	limit, offset = page(limit, offset)

	rows, err := s.db.Query(
		`SELECT `+messageColumns+` FROM messages
		WHERE ? = '' OR peer_id = ?
		ORDER BY sent_at, message_id
		LIMIT ? OFFSET ?`,
		peerID, peerID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// GetMessageByID returns one stored message or ErrNotFound.
func (s *Store) GetMessageByID(messageID string) (*Message, error) {
	row := s.db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE message_id = ?`, messageID)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message %q: %w", messageID, err)
	}
	return m, nil
}

func scanMessage(row scanner) (*Message, error) {
	var (
		m          Message
		receivedAt sql.NullInt64
	)
	err := row.Scan(&m.MessageID, &m.Direction, &m.PeerID, &m.Text, &m.SenderTicket, &m.SentAt, &receivedAt)
	if err != nil {
		return nil, err
	}
	m.ReceivedAt = int64Ptr(receivedAt)
	return &m, nil
}
