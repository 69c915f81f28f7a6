package bundle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"peerdrop/blobs"
	"peerdrop/logging"
	"peerdrop/ticket"
)

// Fetcher pulls content units from a remote peer into the local store.
// *blobs.Fetcher satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, h blobs.Hash, progress blobs.ProgressFunc) (int64, error)
	ReadAll(ctx context.Context, h blobs.Hash) ([]byte, error)
}

// Hooks observe resolution progress. All fields are optional.
type Hooks struct {
	Progress  blobs.ProgressFunc
	OnWriting func(name string)
}

// Result describes the file a bundle was saved to.
type Result struct {
	Path        string
	DisplayName string
	Size        int64
	PayloadID   blobs.Hash
}

// Resolver turns a fetched bundle into a file in a download directory.
type Resolver struct {
	store  *blobs.Store
	logger logrus.FieldLogger
}

// NewResolver returns a resolver reading fetched content from store.
func NewResolver(store *blobs.Store, logger logrus.FieldLogger) *Resolver {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Resolver{store: store, logger: logger.WithField("component", "bundle-resolver")}
}

// Resolve fetches root with the given shape and writes the payload into downloadDir.
func (r *Resolver) Resolve(ctx context.Context, fetcher Fetcher, root blobs.Hash, shape ticket.Shape, downloadDir string, hooks Hooks) (Result, error) {
	switch shape {
	case ticket.ShapeSequence:
		return r.resolveSequence(ctx, fetcher, root, downloadDir, hooks)
	case ticket.ShapeSingle:
		return r.resolveSingle(ctx, fetcher, root, downloadDir, hooks)
	default:
		return Result{}, fmt.Errorf("bundle: unknown shape %s", shape)
	}
}

func (r *Resolver) resolveSequence(ctx context.Context, fetcher Fetcher, root blobs.Hash, downloadDir string, hooks Hooks) (Result, error) {
	raw, err := fetcher.ReadAll(ctx, root)
	if err != nil {
		return Result{}, downloadError(PartSequence, err)
	}
	entries, err := blobs.DecodeSequence(raw)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrInvalidSequenceLength, err)
	}
	if len(entries) < 2 {
		return Result{}, fmt.Errorf("%w: %d entries", ErrInvalidSequenceLength, len(entries))
	}
	metadataID, payloadID := entries[0], entries[1]

	name := ""
	metadata, err := fetcher.ReadAll(ctx, metadataID)
	if err != nil {
		r.logger.WithError(err).WithField("metadata", metadataID.Short()).Warn("metadata unavailable, using fallback name")
	} else {
		name = SanitizeFilename(strings.ToValidUTF8(string(metadata), "\uFFFD"))
	}

	size, err := fetcher.Fetch(ctx, payloadID, hooks.Progress)
	if err != nil {
		return Result{}, downloadError(PartPayload, err)
	}

	if name == "" {
		header, err := r.header(payloadID)
		if err != nil {
			return Result{}, err
		}
		name = FallbackName(payloadID, header)
	}
	return r.export(payloadID, size, name, downloadDir, hooks)
}

func (r *Resolver) resolveSingle(ctx context.Context, fetcher Fetcher, root blobs.Hash, downloadDir string, hooks Hooks) (Result, error) {
	size, err := fetcher.Fetch(ctx, root, hooks.Progress)
	if err != nil {
		return Result{}, downloadError(PartSingle, err)
	}
	header, err := r.header(root)
	if err != nil {
		return Result{}, err
	}
	return r.export(root, size, FallbackName(root, header), downloadDir, hooks)
}

func (r *Resolver) header(h blobs.Hash) ([]byte, error) {
	reader, _, err := r.store.Open(h)
	if err != nil {
		return nil, fmt.Errorf("open payload: %w", err)
	}
	defer reader.Close()

	header := make([]byte, SniffLength)
	n, err := io.ReadFull(reader, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read payload header: %w", err)
	}
	return header[:n], nil
}

// export copies the payload to downloadDir/name through a temp file. An
// existing file of the same name is replaced.
func (r *Resolver) export(h blobs.Hash, size int64, name, downloadDir string, hooks Hooks) (Result, error) {
	if hooks.OnWriting != nil {
		hooks.OnWriting(name)
	}
	if err := os.MkdirAll(downloadDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create download directory: %w", err)
	}

	reader, _, err := r.store.Open(h)
	if err != nil {
		return Result{}, fmt.Errorf("open payload: %w", err)
	}
	defer reader.Close()

	tmp, err := os.CreateTemp(downloadDir, ".peerdrop-*.part")
	if err != nil {
		return Result{}, fmt.Errorf("create download temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return Result{}, fmt.Errorf("chmod %s: %w", name, err)
	}
	if _, err := io.Copy(tmp, reader); err != nil {
		_ = tmp.Close()
		return Result{}, fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return Result{}, fmt.Errorf("close %s: %w", name, err)
	}

	dest := filepath.Join(downloadDir, name)
	if err := os.Rename(tmpPath, dest); err != nil {
		return Result{}, fmt.Errorf("save %s: %w", name, err)
	}
	committed = true

	r.logger.WithFields(logrus.Fields{"path": dest, "size": size}).Info("file saved")
	return Result{Path: dest, DisplayName: name, Size: size, PayloadID: h}, nil
}
