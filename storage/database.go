package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	// DefaultDBFileName is the SQLite filename under the node data dir.
	DefaultDBFileName = "peerdrop.db"
	// DefaultMaintenanceInterval is how often the WAL is truncated and old
	// dedup entries are dropped.
	DefaultMaintenanceInterval = 24 * time.Hour
	// DefaultSeenRetention is how long a message id suppresses redelivery.
	DefaultSeenRetention = 7 * 24 * time.Hour
)

// Options tunes background maintenance. Zero values use the defaults; a
// negative interval disables the loop.
type Options struct {
	MaintenanceInterval time.Duration
	SeenRetention       time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaintenanceInterval == 0 {
		o.MaintenanceInterval = DefaultMaintenanceInterval
	}
	if o.SeenRetention <= 0 {
		o.SeenRetention = DefaultSeenRetention
	}
	return o
}

// Store is the node's SQLite database: blob index, transfer and message
// history, and the message dedup window.
type Store struct {
	db      *sql.DB
	options Options

	stop      chan struct{}
	loopDone  sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// Open opens peerdrop.db under dataDir, creating it when missing.
func Open(dataDir string) (*Store, string, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, "", fmt.Errorf("create storage directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DefaultDBFileName)
	store, err := OpenPath(dbPath)
	if err != nil {
		return nil, "", err
	}
	return store, dbPath, nil
}

// OpenPath opens the database at dbPath with default options.
func OpenPath(dbPath string) (*Store, error) {
	return OpenWithOptions(dbPath, Options{})
}

// OpenWithOptions opens the database at dbPath, switches it to WAL and
// brings the schema up to date.
func OpenWithOptions(dbPath string, options Options) (*Store, error) {
	dsn := "file:" + filepath.ToSlash(dbPath) + "?_foreign_keys=on&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	s := &Store{db: db, options: options.withDefaults(), stop: make(chan struct{})}
	for _, step := range []func() error{db.Ping, s.useWAL, s.migrate, s.truncateWAL} {
		if err := step(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("prepare %s: %w", dbPath, err)
		}
	}

	if s.options.MaintenanceInterval > 0 {
		s.loopDone.Add(1)
		go s.maintain(s.options.MaintenanceInterval)
	}
	return s, nil
}

// Close stops maintenance and closes the database. It is safe to call twice.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		close(s.stop)
		s.loopDone.Wait()
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

func (s *Store) useWAL() error {
	var mode string
	if err := s.db.QueryRow(`PRAGMA journal_mode=WAL`).Scan(&mode); err != nil {
		return fmt.Errorf("set journal mode: %w", err)
	}
	if !strings.EqualFold(mode, "wal") {
		return fmt.Errorf("journal mode is %q, want wal", mode)
	}
	return nil
}

func (s *Store) truncateWAL() error {
	if _, err := s.db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return fmt.Errorf("checkpoint wal: %w", err)
	}
	return nil
}

// Maintain truncates the WAL and drops dedup entries past retention.
func (s *Store) Maintain() error {
	if err := s.truncateWAL(); err != nil {
		return err
	}
	_, err := s.PruneSeen(time.Now().Add(-s.options.SeenRetention))
	return err
}

func (s *Store) maintain(every time.Duration) {
	defer s.loopDone.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = s.Maintain()
		case <-s.stop:
			return
		}
	}
}
