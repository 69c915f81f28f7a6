package blobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"lukechampine.com/blake3"

	"peerdrop/logging"
	"peerdrop/storage"
)

var (
	// ErrNotFound indicates the store holds no blob for a hash.
	ErrNotFound = errors.New("blobs: not found")
	// ErrHashMismatch indicates imported bytes did not hash to the expected id.
	ErrHashMismatch = errors.New("blobs: content hash mismatch")
)

// Index records imported blobs. storage.Store satisfies it.
type Index interface {
	RecordBlob(blob storage.BlobRecord) error
}

// Store is a local filesystem content-addressed store.
//
// Blobs are immutable, sharded by the first digest byte, and written through a
// temp file so readers never observe partial content.
type Store struct {
	root   string
	tmpDir string
	index  Index
	logger logrus.FieldLogger
}

// NewStore opens a store rooted at root. index and logger may be nil.
func NewStore(root string, index Index, logger logrus.FieldLogger) (*Store, error) {
	if root == "" {
		return nil, errors.New("blobs: root directory is required")
	}
	if logger == nil {
		logger = logging.Discard()
	}

	tmpDir := filepath.Join(root, "tmp")
	for _, dir := range []string{root, tmpDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create blob directory %q: %w", dir, err)
		}
	}

	return &Store{
		root:   root,
		tmpDir: tmpDir,
		index:  index,
		logger: logger.WithField("component", "blobs"),
	}, nil
}

// TempDir is where callers may stage files before import.
func (s *Store) TempDir() string {
	return s.tmpDir
}

// ImportFile imports the file at path.
func (s *Store) ImportFile(ctx context.Context, path string) (Hash, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return Hash{}, 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	return s.ImportReader(ctx, file, nil)
}

// ImportBytes imports an in-memory blob.
func (s *Store) ImportBytes(ctx context.Context, data []byte) (Hash, error) {
	h, _, err := s.ImportReader(ctx, bytes.NewReader(data), nil)
	return h, err
}

// ImportReader streams r into the store. When expected is set the content
// must hash to it, otherwise nothing is stored and ErrHashMismatch is returned.
func (s *Store) ImportReader(ctx context.Context, r io.Reader, expected *Hash) (Hash, int64, error) {
	tmp, err := os.CreateTemp(s.tmpDir, "import-*")
	if err != nil {
		return Hash{}, 0, fmt.Errorf("create import temp file: %w", err)
	}
	tmpPath := tmp.Name()
	keep := false
	defer func() {
		if !keep {
			_ = os.Remove(tmpPath)
		}
	}()

	hasher := blake3.New(HashSize, nil)
	size, err := io.Copy(io.MultiWriter(tmp, hasher), contextReader{ctx: ctx, r: r})
	if err != nil {
		_ = tmp.Close()
		return Hash{}, 0, fmt.Errorf("copy blob content: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return Hash{}, 0, fmt.Errorf("sync blob content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Hash{}, 0, fmt.Errorf("close blob temp file: %w", err)
	}

	var h Hash
	copy(h[:], hasher.Sum(nil))
	if expected != nil && h != *expected {
		return Hash{}, 0, fmt.Errorf("%w: expected %s, got %s", ErrHashMismatch, expected.Short(), h.Short())
	}

	finalPath := s.pathFor(h)
	if _, err := os.Stat(finalPath); err == nil {
		return h, size, s.record(h, size)
	}
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o700); err != nil {
		return Hash{}, 0, fmt.Errorf("create blob shard: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return Hash{}, 0, fmt.Errorf("store blob %s: %w", h.Short(), err)
	}
	keep = true

	s.logger.WithFields(logrus.Fields{"hash": h.Short(), "size": size}).Debug("blob imported")
	return h, size, s.record(h, size)
}

// Open returns a reader for the blob and its size.
func (s *Store) Open(h Hash) (io.ReadCloser, int64, error) {
	file, err := os.Open(s.pathFor(h))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, h.Short())
		}
		return nil, 0, fmt.Errorf("open blob %s: %w", h.Short(), err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, 0, fmt.Errorf("stat blob %s: %w", h.Short(), err)
	}
	return file, info.Size(), nil
}

// ReadAll loads a blob into memory and verifies its digest.
func (s *Store) ReadAll(h Hash) ([]byte, error) {
	data, err := os.ReadFile(s.pathFor(h))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, h.Short())
		}
		return nil, fmt.Errorf("read blob %s: %w", h.Short(), err)
	}
	if Sum(data) != h {
		return nil, fmt.Errorf("%w: stored blob %s is corrupt", ErrHashMismatch, h.Short())
	}
	return data, nil
}

// Has reports whether the blob is present.
func (s *Store) Has(h Hash) bool {
	_, err := os.Stat(s.pathFor(h))
	return err == nil
}

func (s *Store) record(h Hash, size int64) error {
	if s.index == nil {
		return nil
	}
	if err := s.index.RecordBlob(storage.BlobRecord{Hash: h.String(), Size: size}); err != nil {
		return fmt.Errorf("index blob %s: %w", h.Short(), err)
	}
	return nil
}

func (s *Store) pathFor(h Hash) string {
	name := h.Hex()
	return filepath.Join(s.root, name[:2], name)
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
