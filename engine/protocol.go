package engine

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

const (
	// MaxFrameSize is the maximum accepted frame payload size (1 MiB).
	MaxFrameSize = 1024 * 1024
	// DefaultDialTimeout bounds Emitter connection setup.
	DefaultDialTimeout = 5 * time.Second
	// DefaultWriteTimeout bounds each frame write from an Emitter.
	DefaultWriteTimeout = 10 * time.Second
	// DefaultListenAddress keeps the callback stream on loopback.
	DefaultListenAddress = "127.0.0.1:0"
)

const (
	TypeSingleProgress     = "single_progress"
	TypeBatchProgress      = "batch_progress"
	TypeFileError          = "file_error"
	TypeFileDone           = "file_done"
	TypeFolderDragNotify   = "folder_drag_notify"
	TypeFileListDragNotify = "file_list_drag_notify"
)

var (
	// ErrFrameTooLarge indicates payload exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("engine: frame exceeds max size")
	// ErrInvalidMessageType indicates the event type is missing or unknown.
	ErrInvalidMessageType = errors.New("engine: invalid message type")
)

// Envelope wraps one event on the wire.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EncodeJSON marshals message for framing.
func EncodeJSON(message any) ([]byte, error) {
	payload, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("marshal engine message: %w", err)
	}
	return payload, nil
}

// EncodeEvent wraps event in an Envelope and marshals it.
func EncodeEvent(event Event) ([]byte, error) {
	if event == nil {
		return nil, ErrInvalidMessageType
	}
	payload, err := EncodeJSON(event)
	if err != nil {
		return nil, err
	}
	return EncodeJSON(Envelope{Type: event.Type(), Payload: payload})
}

// DecodeEvent parses one framed envelope into its typed event.
func DecodeEvent(frame []byte) (Event, error) {
	var envelope Envelope
	if err := json.Unmarshal(frame, &envelope); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch envelope.Type {
	case TypeSingleProgress:
		return decodePayload[SingleProgress](envelope)
	case TypeBatchProgress:
		return decodePayload[BatchProgress](envelope)
	case TypeFileError:
		return decodePayload[FileError](envelope)
	case TypeFileDone:
		return decodePayload[FileDone](envelope)
	case TypeFolderDragNotify:
		return decodePayload[FolderDragNotify](envelope)
	case TypeFileListDragNotify:
		return decodePayload[FileListDragNotify](envelope)
	case "":
		return nil, ErrInvalidMessageType
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidMessageType, envelope.Type)
	}
}

func decodePayload[T Event](envelope Envelope) (Event, error) {
	var event T
	if len(envelope.Payload) == 0 {
		return nil, fmt.Errorf("decode %s: empty payload", envelope.Type)
	}
	if err := json.Unmarshal(envelope.Payload, &event); err != nil {
		return nil, fmt.Errorf("decode %s: %w", envelope.Type, err)
	}
	return event, nil
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

// ReadFrame reads one length-prefixed frame.
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("read frame length: %w", err)
	}

	length := binary.BigEndian.Uint32(header)
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	if length == 0 {
		return []byte{}, nil
	}

	payload := make([]byte, int(length))
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}

	return payload, nil
}

// WriteFrameWithTimeout writes a frame with an optional write deadline.
func WriteFrameWithTimeout(conn net.Conn, payload []byte, timeout time.Duration) error {
	if timeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
		defer func() {
			_ = conn.SetWriteDeadline(time.Time{})
		}()
	}
	return WriteFrame(conn, payload)
}
