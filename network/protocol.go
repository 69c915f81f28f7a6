package network

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

const (
	// MaxFrameSize is the maximum accepted frame payload size (10 MB).
	MaxFrameSize = 10 * 1024 * 1024
	// MaxControlFrameSize bounds request and chat frames (64 KiB).
	MaxControlFrameSize = 64 * 1024
	// DefaultDialTimeout bounds connecting to one candidate address.
	DefaultDialTimeout = 15 * time.Second
	// DefaultKeepAlivePeriod keeps idle QUIC connections alive.
	DefaultKeepAlivePeriod = 10 * time.Second
	// DefaultIdleTimeout closes QUIC connections with no traffic.
	DefaultIdleTimeout = 30 * time.Second
)

var (
	// ErrFraming is the parent of every frame decoding failure.
	ErrFraming = errors.New("network: framing error")
	// ErrFrameTooLarge indicates payload exceeds the frame size limit.
	ErrFrameTooLarge = fmt.Errorf("%w: frame exceeds max size", ErrFraming)
	// ErrShortFrame indicates the stream ended inside a frame.
	ErrShortFrame = fmt.Errorf("%w: short frame", ErrFraming)
)

// EncodeJSON marshals a protocol message to JSON.
func EncodeJSON(message any) ([]byte, error) {
	payload, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("marshal protocol message: %w", err)
	}
	return payload, nil
}

// WriteFrame writes one length-prefixed frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}

	return nil
}

// WriteJSONFrame marshals message and writes it as one frame.
func WriteJSONFrame(w io.Writer, message any) error {
	payload, err := EncodeJSON(message)
	if err != nil {
		return err
	}
	return WriteFrame(w, payload)
}

// ReadFrame reads one length-prefixed frame of at most MaxFrameSize bytes.
func ReadFrame(r io.Reader) ([]byte, error) {
	return ReadFrameLimit(r, MaxFrameSize)
}

// ReadControlFrame reads one frame of at most MaxControlFrameSize bytes.
func ReadControlFrame(r io.Reader) ([]byte, error) {
	return ReadFrameLimit(r, MaxControlFrameSize)
}

// ReadFrameLimit reads one length-prefixed frame, rejecting lengths above limit.
func ReadFrameLimit(r io.Reader, limit int) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: read frame length: %w", ErrShortFrame, err)
	}

	length := binary.BigEndian.Uint32(header)
	if uint64(length) > uint64(limit) {
		return nil, ErrFrameTooLarge
	}
	if length == 0 {
		return []byte{}, nil
	}

	payload := make([]byte, int(length))
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: read frame payload: %w", ErrShortFrame, err)
	}

	return payload, nil
}

// ReadJSONFrame reads one control frame and unmarshals it into out.
func ReadJSONFrame(r io.Reader, out any) error {
	payload, err := ReadControlFrame(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	return nil
}
