package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"peerdrop/logging"
	"peerdrop/network"
	"peerdrop/storage"
)

const (
	// BacklogSize bounds messages held before anyone subscribes.
	BacklogSize = 64
	// DefaultCloseWait bounds how long Send waits for the peer to close.
	DefaultCloseWait = 5 * time.Second
)

// Dialer opens protocol connections to peers. *network.Endpoint satisfies it.
type Dialer interface {
	Dial(ctx context.Context, addr network.NodeAddr, alpn string) (*network.Conn, error)
}

// History persists messages and remembers delivered ids. *storage.Store satisfies it.
type History interface {
	SaveMessage(message storage.Message) error
	MarkSeen(messageID string) (bool, error)
}

// Options configures a Service.
type Options struct {
	Dialer    Dialer
	History   History
	CloseWait time.Duration
	Logger    logrus.FieldLogger
}

// Service sends chat messages and delivers inbound ones to one subscriber.
type Service struct {
	dialer    Dialer
	history   History
	closeWait time.Duration
	logger    logrus.FieldLogger

	mu         sync.Mutex
	subscribed bool
	inbox      chan IncomingMessage
}

// NewService returns a chat service. Register it on an endpoint under ProtocolALPN.
func NewService(options Options) *Service {
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	closeWait := options.CloseWait
	if closeWait <= 0 {
		closeWait = DefaultCloseWait
	}
	return &Service{
		dialer:    options.Dialer,
		history:   options.History,
		closeWait: closeWait,
		logger:    logger.WithField("component", "chat"),
		inbox:     make(chan IncomingMessage, BacklogSize),
	}
}

// Subscribe returns the stream of inbound messages. Messages that arrived
// before the first call are delivered first. Only one subscription may exist.
func (s *Service) Subscribe() (<-chan IncomingMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribed {
		return nil, ErrAlreadySubscribed
	}
	s.subscribed = true
	return s.inbox, nil
}

// Send delivers msg to target over a fresh connection. It does not wait for
// a reply, only for the peer to close the connection after reading.
func (s *Service) Send(ctx context.Context, target network.NodeAddr, msg WireMessage) error {
	if s.dialer == nil {
		return errors.New("chat: no dialer configured")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SentAt == 0 {
		msg.SentAt = time.Now().UnixMilli()
	}

	payload, err := network.EncodeJSON(msg)
	if err != nil {
		return err
	}
	if len(payload) > network.MaxControlFrameSize {
		return fmt.Errorf("%w: chat message is %d bytes", network.ErrFrameTooLarge, len(payload))
	}

	conn, err := s.dialer.Dial(ctx, target, ProtocolALPN)
	if err != nil {
		return fmt.Errorf("dial chat peer: %w", err)
	}
	defer conn.Close()

	stream, err := conn.OpenStream(ctx)
	if err != nil {
		return fmt.Errorf("open chat stream: %w", err)
	}
	if err := network.WriteFrame(stream, payload); err != nil {
		return fmt.Errorf("write chat message: %w", err)
	}
	if err := stream.Close(); err != nil {
		return fmt.Errorf("finish chat stream: %w", err)
	}

	wait := time.NewTimer(s.closeWait)
	defer wait.Stop()
	select {
	case <-conn.Done():
	case <-wait.C:
		s.logger.WithField("peer", target.ID.Short()).Debug("peer did not close chat connection")
	case <-ctx.Done():
		return ctx.Err()
	}

	s.save(storage.Message{
		MessageID:    msg.ID,
		Direction:    storage.MessageSent,
		PeerID:       target.ID.String(),
		Text:         msg.Text,
		SenderTicket: msg.SenderTicket,
		SentAt:       msg.SentAt,
	})
	return nil
}

// HandleConn reads exactly one message from the first stream of conn.
func (s *Service) HandleConn(ctx context.Context, conn *network.Conn) error {
	logger := s.logger.WithField("peer", conn.PeerID().Short())

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		return fmt.Errorf("accept chat stream: %w", err)
	}
	defer stream.Close()

	frame, err := network.ReadControlFrame(stream)
	if err != nil {
		logger.WithError(err).Debug("read chat frame")
		return err
	}
	msg, err := decodeWireMessage(frame)
	if err != nil {
		logger.WithError(err).Warn("discarding chat message")
		return err
	}

	if msg.ID != "" && s.history != nil {
		fresh, err := s.history.MarkSeen(msg.ID)
		if err != nil {
			logger.WithError(err).Warn("record seen message id")
		} else if !fresh {
			logger.WithField("message", msg.ID).Debug("duplicate chat message dropped")
			return nil
		}
	}

	incoming := IncomingMessage{
		ID:         msg.ID,
		From:       conn.PeerID(),
		Text:       msg.Text,
		Ticket:     msg.SenderTicket,
		SentAt:     msg.SentAt,
		ReceivedAt: time.Now(),
	}
	if incoming.ID == "" {
		incoming.ID = uuid.NewString()
	}

	receivedAt := incoming.ReceivedAt.UnixMilli()
	s.save(storage.Message{
		MessageID:    incoming.ID,
		Direction:    storage.MessageReceived,
		PeerID:       incoming.From.String(),
		Text:         incoming.Text,
		SenderTicket: incoming.Ticket,
		SentAt:       msg.SentAt,
		ReceivedAt:   &receivedAt,
	})

	s.mu.Lock()
	subscribed := s.subscribed
	s.mu.Unlock()

	if subscribed {
		// Only this connection waits on a slow reader.
		select {
		case s.inbox <- incoming:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}

	select {
	case s.inbox <- incoming:
	default:
		logger.WithField("message", incoming.ID).Warn("chat backlog full, message kept in history only")
	}
	return nil
}

func (s *Service) save(message storage.Message) {
	if s.history == nil {
		return
	}
	if message.SentAt == 0 {
		message.SentAt = time.Now().UnixMilli()
	}
	if err := s.history.SaveMessage(message); err != nil {
		s.logger.WithError(err).WithField("message", message.MessageID).Warn("save chat message")
	}
}
