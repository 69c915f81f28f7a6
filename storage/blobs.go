package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// RecordBlob indexes a stored blob. Re-recording an existing hash is a no-op.
func (s *Store) RecordBlob(blob BlobRecord) error {
	if blob.Hash == "" {
		return errors.New("hash is required")
	}
	if blob.Size < 0 {
		return errors.New("size must be >= 0")
	}
	if blob.CreatedAt == 0 {
		blob.CreatedAt = nowUnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO blobs (hash, size, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(hash) DO NOTHING`,
		blob.Hash,
		blob.Size,
		blob.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record blob %q: %w", blob.Hash, err)
	}
	return nil
}

// GetBlob fetches one blob index row.
func (s *Store) GetBlob(hash string) (*BlobRecord, error) {
	if hash == "" {
		return nil, errors.New("hash is required")
	}

	var blob BlobRecord
	err := s.db.QueryRow(
		`SELECT hash, size, created_at FROM blobs WHERE hash = ?`,
		hash,
	).Scan(&blob.Hash, &blob.Size, &blob.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get blob %q: %w", hash, err)
	}
	return &blob, nil
}

// CountBlobs returns the number of indexed blobs and their total size.
func (s *Store) CountBlobs() (int64, int64, error) {
	var count, total int64
	if err := s.db.QueryRow(
		`SELECT COUNT(1), COALESCE(SUM(size), 0) FROM blobs`,
	).Scan(&count, &total); err != nil {
		return 0, 0, fmt.Errorf("count blobs: %w", err)
	}
	return count, total, nil
}
