// Package api exposes the node over a loopback HTTP and WebSocket surface
// for a separate UI process.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"peerdrop/chat"
	"peerdrop/crypto"
	"peerdrop/discovery"
	"peerdrop/logging"
	"peerdrop/storage"
	"peerdrop/transfer"
)

// Node is the subset of *node.Node the API serves.
type Node interface {
	ID() crypto.NodeID
	Fingerprint() string
	MyAddr() string
	StartSend(ctx context.Context, path string) *transfer.SendOperation
	ReceiveFile(ctx context.Context, encodedTicket, downloadDir string) *transfer.ReceiveOperation
	SendText(ctx context.Context, targetTicket, myTicket, text string) error
	SubscribeMessages() (<-chan chat.IncomingMessage, error)
	Transfers(limit, offset int) ([]storage.Transfer, error)
	Messages(peerID string, limit, offset int) ([]storage.Message, error)
	StoreStats() (count, bytes int64, err error)
	Peers() []discovery.DiscoveredPeer
}

// Handler serves the control API for one node.
type Handler struct {
	node     Node
	validate *validator.Validate
	logger   logrus.FieldLogger
	upgrader websocket.Upgrader

	// The node allows one message subscription; the API takes it once and
	// hands it to one WebSocket client at a time.
	subMu     sync.Mutex
	inbox     <-chan chat.IncomingMessage
	subActive bool
}

// NewHandler returns a handler for node.
func NewHandler(node Node, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{
		node:     node,
		validate: validator.New(),
		logger:   logger.WithField("component", "api"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) respondWithError(w http.ResponseWriter, code int, message string) {
	h.respondWithJSON(w, code, errorResponse{Error: message})
}

func (h *Handler) respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.logger.WithError(err).Error("marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		h.logger.WithError(err).Debug("write response")
	}
}

// decode reads a JSON body into req and validates it. It writes the error
// response itself and returns false on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
			h.respondWithError(w, http.StatusBadRequest, "invalid field: "+validationErrs[0].Field())
			return false
		}
		h.respondWithError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func pagination(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}
