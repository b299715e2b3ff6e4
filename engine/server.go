package engine

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// Server accepts callback streams from the engine host and replays every
// decoded frame into a Sink. Frames on one connection are dispatched in order.
type Server struct {
	listener net.Listener
	sink     Sink

	errs chan error

	connMu sync.Mutex
	conns  map[net.Conn]struct{}

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Listen starts a TCP listener feeding sink. An empty address binds an
// ephemeral loopback port.
func Listen(address string, sink Sink) (*Server, error) {
	if sink == nil {
		return nil, errors.New("engine sink is required")
	}
	if address == "" {
		address = DefaultListenAddress
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen on %q: %w", address, err)
	}

	server := &Server{
		listener: listener,
		sink:     sink,
		errs:     make(chan error, 16),
		conns:    make(map[net.Conn]struct{}),
		closed:   make(chan struct{}),
	}

	server.wg.Add(1)
	go server.acceptLoop()
	return server, nil
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Errors returns asynchronous decode and dispatch errors.
func (s *Server) Errors() <-chan error {
	return s.errs
}

// Close stops accepting, drops open streams and closes the error channel.
func (s *Server) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		close(s.closed)
		closeErr = s.listener.Close()

		s.connMu.Lock()
		for conn := range s.conns {
			_ = conn.Close()
		}
		s.connMu.Unlock()

		s.wg.Wait()
		close(s.errs)
	})
	return closeErr
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}

			s.reportError(fmt.Errorf("accept connection: %w", err))
			continue
		}

		if !s.track(conn) {
			_ = conn.Close()
			return
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	select {
	case <-s.closed:
		return false
	default:
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.connMu.Lock()
	delete(s.conns, conn)
	s.connMu.Unlock()
	_ = conn.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)

	remote := conn.RemoteAddr().String()
	logrus.WithFields(logrus.Fields{
		"function": "handleConn",
		"remote":   remote,
	}).Debug("Engine callback stream opened")

	for {
		frame, err := ReadFrame(conn)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			// A bad length prefix leaves the stream unsynchronized.
			s.reportError(fmt.Errorf("read engine frame from %s: %w", remote, err))
			return
		}

		event, err := DecodeEvent(frame)
		if err != nil {
			s.reportError(fmt.Errorf("decode engine frame from %s: %w", remote, err))
			continue
		}
		if err := Dispatch(s.sink, event); err != nil {
			s.reportError(fmt.Errorf("dispatch %s: %w", event.Type(), err))
		}
	}
}

func (s *Server) reportError(err error) {
	if err == nil {
		return
	}

	// Shutdown produces expected net.ErrClosed errors.
	if errors.Is(err, net.ErrClosed) {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "reportError",
	}).WithError(err).Warn("Engine stream error")

	select {
	case s.errs <- err:
	default:
	}
}
