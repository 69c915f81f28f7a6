package bundle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"peerdrop/blobs"
	"peerdrop/logging"
	"peerdrop/network"
	"peerdrop/ticket"
)

// Bundle names the content units published for one file.
type Bundle struct {
	// MetadataID is set for Sequence bundles only.
	MetadataID *blobs.Hash
	PayloadID  blobs.Hash
	RootID     blobs.Hash
	Shape      ticket.Shape
}

// Builder imports files into a blob store as shareable bundles.
type Builder struct {
	store  *blobs.Store
	logger logrus.FieldLogger
}

// NewBuilder returns a builder writing into store.
func NewBuilder(store *blobs.Store, logger logrus.FieldLogger) *Builder {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Builder{store: store, logger: logger.WithField("component", "bundle-builder")}
}

// Build imports path as payload, its base name as metadata, and the pair as a
// sequence root, returning a Sequence ticket for addr.
func (b *Builder) Build(ctx context.Context, path string, addr network.NodeAddr) (Bundle, ticket.Ticket, error) {
	payload, size, err := b.store.ImportFile(ctx, path)
	if err != nil {
		return Bundle{}, ticket.Ticket{}, fmt.Errorf("%w: payload: %w", ErrImportFailed, err)
	}

	name := baseName(path)
	metadata, err := b.importStaged(ctx, "metadata-*", []byte(name))
	if err != nil {
		return Bundle{}, ticket.Ticket{}, fmt.Errorf("%w: metadata: %w", ErrImportFailed, err)
	}

	root, err := b.importStaged(ctx, "sequence-*", blobs.EncodeSequence([]blobs.Hash{metadata, payload}))
	if err != nil {
		return Bundle{}, ticket.Ticket{}, fmt.Errorf("%w: sequence: %w", ErrImportFailed, err)
	}

	b.logger.WithFields(logrus.Fields{
		"name":    name,
		"size":    size,
		"payload": payload.Short(),
		"root":    root.Short(),
	}).Info("bundle built")

	out := Bundle{
		MetadataID: &metadata,
		PayloadID:  payload,
		RootID:     root,
		Shape:      ticket.ShapeSequence,
	}
	return out, ticket.Ticket{Addr: addr, Hash: root, Shape: ticket.ShapeSequence}, nil
}

// BuildSingle imports path as one raw unit with no filename attached.
func (b *Builder) BuildSingle(ctx context.Context, path string, addr network.NodeAddr) (Bundle, ticket.Ticket, error) {
	payload, _, err := b.store.ImportFile(ctx, path)
	if err != nil {
		return Bundle{}, ticket.Ticket{}, fmt.Errorf("%w: %w", ErrImportFailed, err)
	}
	out := Bundle{PayloadID: payload, RootID: payload, Shape: ticket.ShapeSingle}
	return out, ticket.Ticket{Addr: addr, Hash: payload, Shape: ticket.ShapeSingle}, nil
}

// importStaged writes data to a temp file in the store's temp dir and imports
// it from there. The temp file is removed afterwards.
func (b *Builder) importStaged(ctx context.Context, pattern string, data []byte) (blobs.Hash, error) {
	tmp, err := os.CreateTemp(b.store.TempDir(), pattern)
	if err != nil {
		return blobs.Hash{}, fmt.Errorf("create staging file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
			b.logger.WithError(err).WithField("path", tmpPath).Warn("remove staging file")
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return blobs.Hash{}, fmt.Errorf("write staging file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return blobs.Hash{}, fmt.Errorf("close staging file: %w", err)
	}

	h, _, err := b.store.ImportFile(ctx, tmpPath)
	return h, err
}

func baseName(path string) string {
	name := filepath.Base(path)
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	return name
}
