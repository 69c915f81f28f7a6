package blobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"peerdrop/logging"
	"peerdrop/network"
)

// ProtocolALPN is the protocol channel for blob requests.
const ProtocolALPN = "peerdrop/blobs/1"

const (
	typeGet   = "get"
	typeBlob  = "blob"
	typeError = "error"

	codeNotFound   = "not_found"
	codeBadRequest = "bad_request"
	codeInternal   = "internal"
)

var (
	// ErrRemoteNotFound indicates the serving peer does not hold the blob.
	ErrRemoteNotFound = errors.New("blobs: peer does not have blob")
	// ErrProtocol indicates the peer sent an unexpected response.
	ErrProtocol = errors.New("blobs: protocol error")
)

type getRequest struct {
	Type string `json:"type"`
	Hash string `json:"hash"`
}

type getResponse struct {
	Type    string `json:"type"`
	Size    int64  `json:"size,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ProgressFunc receives cumulative byte counts during a fetch.
type ProgressFunc func(received, total int64)

// Server answers blob requests from the local store. One request per stream.
type Server struct {
	store  *Store
	logger logrus.FieldLogger
}

// NewServer builds a protocol handler serving store.
func NewServer(store *Store, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{store: store, logger: logger.WithField("component", "blob-server")}
}

// HandleConn serves streams until the peer closes the connection.
func (s *Server) HandleConn(ctx context.Context, conn *network.Conn) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	logger := s.logger.WithField("peer", conn.PeerID().Short())
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return nil
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.serveStream(stream); err != nil {
				logger.WithError(err).Debug("blob request failed")
			}
		}()
	}
}

func (s *Server) serveStream(rw io.ReadWriteCloser) error {
	defer rw.Close()

	var req getRequest
	if err := network.ReadJSONFrame(rw, &req); err != nil {
		return err
	}
	if req.Type != typeGet {
		return s.reject(rw, codeBadRequest, fmt.Sprintf("unknown request type %q", req.Type))
	}
	h, err := ParseHash(req.Hash)
	if err != nil {
		return s.reject(rw, codeBadRequest, err.Error())
	}

	reader, size, err := s.store.Open(h)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return s.reject(rw, codeNotFound, "")
		}
		_ = s.reject(rw, codeInternal, "")
		return err
	}
	defer reader.Close()

	if err := network.WriteJSONFrame(rw, getResponse{Type: typeBlob, Size: size}); err != nil {
		return err
	}
	written, err := io.Copy(rw, reader)
	if err != nil {
		return fmt.Errorf("send blob %s: %w", h.Short(), err)
	}

	s.logger.WithFields(logrus.Fields{"hash": h.Short(), "bytes": written}).Debug("blob served")
	return nil
}

func (s *Server) reject(w io.Writer, code, message string) error {
	return network.WriteJSONFrame(w, getResponse{Type: typeError, Code: code, Message: message})
}

// Fetcher downloads blobs from one connected peer into the local store.
type Fetcher struct {
	conn   *network.Conn
	store  *Store
	logger logrus.FieldLogger
}

// NewFetcher returns a fetcher over conn.
func NewFetcher(conn *network.Conn, store *Store, logger logrus.FieldLogger) *Fetcher {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Fetcher{conn: conn, store: store, logger: logger.WithField("component", "blob-fetcher")}
}

// Fetch downloads h unless it is already present and returns its size.
// The content is verified against h before it becomes visible in the store.
func (f *Fetcher) Fetch(ctx context.Context, h Hash, progress ProgressFunc) (int64, error) {
	if f.store.Has(h) {
		reader, size, err := f.store.Open(h)
		if err == nil {
			_ = reader.Close()
			if progress != nil {
				progress(size, size)
			}
			return size, nil
		}
	}

	stream, err := f.conn.OpenStream(ctx)
	if err != nil {
		return 0, fmt.Errorf("open blob stream: %w", err)
	}
	stop := context.AfterFunc(ctx, func() {
		stream.CancelRead(0)
		stream.CancelWrite(0)
	})
	defer stop()

	if err := network.WriteJSONFrame(stream, getRequest{Type: typeGet, Hash: h.String()}); err != nil {
		return 0, fmt.Errorf("send blob request: %w", err)
	}
	if err := stream.Close(); err != nil {
		return 0, fmt.Errorf("close blob request: %w", err)
	}

	var resp getResponse
	if err := network.ReadJSONFrame(stream, &resp); err != nil {
		return 0, fmt.Errorf("read blob response: %w", ctxErr(ctx, err))
	}
	switch resp.Type {
	case typeBlob:
	case typeError:
		if resp.Code == codeNotFound {
			return 0, fmt.Errorf("%w: %s", ErrRemoteNotFound, h.Short())
		}
		return 0, fmt.Errorf("%w: peer error %s %s", ErrProtocol, resp.Code, resp.Message)
	default:
		return 0, fmt.Errorf("%w: unexpected response type %q", ErrProtocol, resp.Type)
	}
	if resp.Size < 0 {
		return 0, fmt.Errorf("%w: negative size", ErrProtocol)
	}

	body := &progressReader{r: io.LimitReader(stream, resp.Size), total: resp.Size, progress: progress}
	_, size, err := f.store.ImportReader(ctx, body, &h)
	if err != nil {
		return 0, fmt.Errorf("import blob %s: %w", h.Short(), ctxErr(ctx, err))
	}

	f.logger.WithFields(logrus.Fields{"hash": h.Short(), "size": size}).Debug("blob fetched")
	return size, nil
}

// ReadAll fetches h and returns its verified content.
func (f *Fetcher) ReadAll(ctx context.Context, h Hash) ([]byte, error) {
	if _, err := f.Fetch(ctx, h, nil); err != nil {
		return nil, err
	}
	return f.store.ReadAll(h)
}

func ctxErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	return err
}

type progressReader struct {
	r        io.Reader
	read     int64
	total    int64
	progress ProgressFunc
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.read += int64(n)
		if p.progress != nil {
			p.progress(p.read, p.total)
		}
	}
	return n, err
}
