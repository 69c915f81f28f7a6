package storage

import "fmt"

// schema is applied in order; PRAGMA user_version records how many steps ran.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS blobs (
		hash        TEXT PRIMARY KEY,
		size        INTEGER NOT NULL,
		created_at  INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS transfers (
		transfer_id   TEXT PRIMARY KEY,
		direction     TEXT NOT NULL CHECK(direction IN ('send','receive')),
		ticket        TEXT NOT NULL DEFAULT '',
		peer_id       TEXT NOT NULL DEFAULT '',
		file_path     TEXT NOT NULL DEFAULT '',
		display_name  TEXT NOT NULL DEFAULT '',
		size          INTEGER NOT NULL DEFAULT 0,
		status        TEXT NOT NULL CHECK(status IN ('pending','complete','failed')) DEFAULT 'pending',
		error         TEXT NOT NULL DEFAULT '',
		started_at    INTEGER NOT NULL,
		finished_at   INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		message_id     TEXT PRIMARY KEY,
		direction      TEXT NOT NULL CHECK(direction IN ('sent','received')),
		peer_id        TEXT NOT NULL,
		text           TEXT NOT NULL,
		sender_ticket  TEXT NOT NULL DEFAULT '',
		sent_at        INTEGER NOT NULL,
		received_at    INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS seen_message_ids (
		message_id  TEXT PRIMARY KEY,
		seen_at     INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transfers_started_at ON transfers (started_at DESC, transfer_id)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_peer_time ON messages (peer_id, sent_at)`,
	`CREATE INDEX IF NOT EXISTS idx_seen_message_ids_seen_at ON seen_message_ids (seen_at)`,
}

func (s *Store) schemaVersion() (int, error) {
	var version int
	if err := s.db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// migrate runs the pending schema steps in one transaction.
func (s *Store) migrate() error {
	version, err := s.schemaVersion()
	if err != nil {
		return err
	}
	if version >= len(schema) {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for step := version; step < len(schema); step++ {
		if _, err := tx.Exec(schema[step]); err != nil {
			return fmt.Errorf("schema step %d: %w", step+1, err)
		}
	}
	if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, len(schema))); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}
