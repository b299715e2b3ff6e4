package engine

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// Emitter streams callbacks to a Server. It implements Sink and is what the
// engine host binds its native callbacks to.
type Emitter struct {
	conn         net.Conn
	writeTimeout time.Duration

	mu        sync.Mutex
	closeOnce sync.Once
}

// Dial connects an Emitter to the callback server at address.
func Dial(address string) (*Emitter, error) {
	conn, err := net.DialTimeout("tcp", address, DefaultDialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial %q: %w", address, err)
	}
	return &Emitter{
		conn:         conn,
		writeTimeout: DefaultWriteTimeout,
	}, nil
}

// Emit writes one event frame. Concurrent calls are serialized so frames
// never interleave.
func (e *Emitter) Emit(event Event) error {
	payload, err := EncodeEvent(event)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := WriteFrameWithTimeout(e.conn, payload, e.writeTimeout); err != nil {
		return fmt.Errorf("emit %s: %w", event.Type(), err)
	}
	return nil
}

// Close closes the underlying stream.
func (e *Emitter) Close() error {
	var closeErr error
	e.closeOnce.Do(func() {
		closeErr = e.conn.Close()
	})
	return closeErr
}

func (e *Emitter) OnSingleProgress(event SingleProgress) error { return e.Emit(event) }
func (e *Emitter) OnBatchProgress(event BatchProgress) error { return e.Emit(event) }
func (e *Emitter) OnFileError(event FileError) error { return e.Emit(event) }
func (e *Emitter) OnFileDone(event FileDone) error { return e.Emit(event) }
func (e *Emitter) OnFolderDragNotify(event FolderDragNotify) error { return e.Emit(event) }
func (e *Emitter) OnFileListDragNotify(event FileListDragNotify) error { return e.Emit(event) }
