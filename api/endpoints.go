package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"peerdrop/chat"
	"peerdrop/models"
	"peerdrop/ticket"
	"peerdrop/transfer"
)

type (
	sendRequest struct {
		Path string `json:"path" validate:"required"`
	}

	receiveRequest struct {
		Ticket      string `json:"ticket" validate:"required"`
		DownloadDir string `json:"download_dir"`
	}

	messageRequest struct {
		TargetTicket string `json:"target_ticket" validate:"required"`
		Text         string `json:"text" validate:"max=60000"`
	}
)

// handleGetNode (GET /v1/node)
func (h *Handler) handleGetNode(w http.ResponseWriter, r *http.Request) {
	count, total, err := h.node.StoreStats()
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.respondWithJSON(w, http.StatusOK, models.Node{
		NodeID:      h.node.ID().String(),
		Fingerprint: h.node.Fingerprint(),
		Ticket:      h.node.MyAddr(),
		Blobs:       count,
		BlobBytes:   total,
	})
}

// handleGetPeers (GET /v1/peers)
func (h *Handler) handleGetPeers(w http.ResponseWriter, r *http.Request) {
	peers := h.node.Peers()
	out := make([]models.Peer, 0, len(peers))
	for _, p := range peers {
		out = append(out, models.PeerFromDiscovery(p))
	}
	h.respondWithJSON(w, http.StatusOK, out)
}

// handleSend (POST /v1/send) streams events as NDJSON.
func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !h.decode(w, r, &req) {
		return
	}

	op := h.node.StartSend(r.Context(), req.Path)
	stream := h.streamEvents(w, op.Events())
	tk, err := op.Wait()
	if err != nil {
		stream(models.TransferResult{Error: err.Error()})
		return
	}
	stream(models.TransferResult{Ticket: tk.String()})
}

// handleReceive (POST /v1/receive) streams events as NDJSON.
func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	var req receiveRequest
	if !h.decode(w, r, &req) {
		return
	}

	op := h.node.ReceiveFile(r.Context(), req.Ticket, req.DownloadDir)
	stream := h.streamEvents(w, op.Events())
	out, err := op.Wait()
	if err != nil {
		stream(models.TransferResult{Error: err.Error()})
		return
	}
	stream(models.TransferResult{Path: out.Path, Name: out.DisplayName, Size: out.Size})
}

// streamEvents writes every event as one JSON line and returns a writer for
// the final line.
func (h *Handler) streamEvents(w http.ResponseWriter, events <-chan transfer.Event) func(any) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	encoder := json.NewEncoder(w)
	write := func(v any) {
		if err := encoder.Encode(v); err != nil {
			h.logger.WithError(err).Debug("write event stream")
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	for event := range events {
		write(event)
	}
	return write
}

// handleGetTransfers (GET /v1/transfers)
func (h *Handler) handleGetTransfers(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	transfers, err := h.node.Transfers(limit, offset)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]models.Transfer, 0, len(transfers))
	for _, t := range transfers {
		out = append(out, models.TransferFromRecord(t))
	}
	h.respondWithJSON(w, http.StatusOK, out)
}

// handleSendMessage (POST /v1/messages)
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.node.SendText(r.Context(), req.TargetTicket, "", req.Text); err != nil {
		if errors.Is(err, ticket.ErrInvalidTicket) {
			h.respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.respondWithError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetMessages (GET /v1/messages?peer=)
func (h *Handler) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	messages, err := h.node.Messages(r.URL.Query().Get("peer"), limit, offset)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]models.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, models.MessageFromRecord(m))
	}
	h.respondWithJSON(w, http.StatusOK, out)
}

// handleSubscribe (GET /v1/messages/subscribe) pushes inbound messages over a
// WebSocket. Only one client may be subscribed at a time.
func (h *Handler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	inbox, err := h.claimInbox()
	if err != nil {
		h.respondWithError(w, http.StatusConflict, err.Error())
		return
	}
	defer h.releaseInbox()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg, ok := <-inbox:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.WithError(err).Debug("websocket write failed")
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
			return
		}
	}
}

func (h *Handler) claimInbox() (<-chan chat.IncomingMessage, error) {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	if h.subActive {
		return nil, chat.ErrAlreadySubscribed
	}
	if h.inbox == nil {
		inbox, err := h.node.SubscribeMessages()
		if err != nil {
			return nil, err
		}
		h.inbox = inbox
	}
	h.subActive = true
	return h.inbox, nil
}

func (h *Handler) releaseInbox() {
	h.subMu.Lock()
	h.subActive = false
	h.subMu.Unlock()
}
