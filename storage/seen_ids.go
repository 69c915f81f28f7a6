package storage

import (
	"errors"
	"fmt"
	"time"
)

// MarkSeen records messageID in the dedup window. It returns false when the
// id was already there, meaning the message is a redelivery.
func (s *Store) MarkSeen(messageID string) (bool, error) {
	return s.markSeenAt(messageID, time.Now())
}

func (s *Store) markSeenAt(messageID string, at time.Time) (bool, error) {
	if messageID == "" {
		return false, errors.New("message_id is required")
	}

	res, err := s.db.Exec(
		`INSERT INTO seen_message_ids (message_id, seen_at) VALUES (?, ?)
		ON CONFLICT(message_id) DO NOTHING`,
		messageID, at.UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("mark %q seen: %w", messageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark %q seen: %w", messageID, err)
	}
	return n == 1, nil
}

// PruneSeen forgets ids seen before cutoff and returns how many were removed.
func (s *Store) PruneSeen(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM seen_message_ids WHERE seen_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune seen message ids: %w", err)
	}
	return res.RowsAffected()
}
