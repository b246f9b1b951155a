package ipc

import (
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/micromdm/nanolib/log"
	"golang.org/x/sys/unix"
)

// Handlers are the agent-side callbacks invoked for each opcode the
// server receives. A nil handler is treated as a no-op that still
// acks OK, except EmergencyDisable which acks Fail when nil since
// silently accepting it would be worse than rejecting it.
type Handlers struct {
	OnHeartbeat        func()
	OnShutdown         func()
	OnStatus           func() bool
	OnEmergencyDisable func() error
}

// Server is the agent-side endpoint: it listens on SocketPath and
// dispatches each incoming opcode to Handlers, mirroring
// device-agent-linux/service/service.go's pattern of a long-running
// accept loop reacting to a small fixed set of external signals.
type Server struct {
	listener *net.UnixListener
	handlers Handlers
	logger   log.Logger

	closeOnce sync.Once
}

// NewServer binds SocketPath, removing any stale socket file left
// behind by a previous, uncleanly-terminated run.
func NewServer(handlers Handlers, logger log.Logger) (*Server, error) {
	if logger == nil {
		logger = log.NopLogger
	}

	if err := os.Remove(SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	addr, err := net.ResolveUnixAddr("unix", SocketPath)
	if err != nil {
		return nil, err
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, err
	}
	if err := unix.Chmod(SocketPath, 0600); err != nil {
		ln.Close()
		return nil, err
	}

	return &Server{listener: ln, handlers: handlers, logger: logger}, nil
}

// Serve accepts connections until Close is called. Each connection
// carries exactly one opcode followed by one ack byte, so it is
// handled and closed inline rather than kept open.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(HeartbeatTimeout))

	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err != nil {
		s.logger.Info("msg", "ipc: read failed", "err", err.Error())
		return
	}

	msg, ok := messageFromByte(buf[0])
	if !ok {
		s.logger.Info("msg", "ipc: unknown opcode", "byte", buf[0])
		conn.Write([]byte{byte(AckFail)})
		return
	}

	ack := s.dispatch(msg)
	conn.Write([]byte{byte(ack)})
}

func (s *Server) dispatch(msg Message) Ack {
	switch msg {
	case Heartbeat:
		if s.handlers.OnHeartbeat != nil {
			s.handlers.OnHeartbeat()
		}
		return AckOK
	case Shutdown:
		if s.handlers.OnShutdown != nil {
			s.handlers.OnShutdown()
		}
		return AckOK
	case Status:
		if s.handlers.OnStatus == nil || s.handlers.OnStatus() {
			return AckOK
		}
		return AckFail
	case EmergencyDisable:
		if s.handlers.OnEmergencyDisable == nil {
			return AckFail
		}
		if err := s.handlers.OnEmergencyDisable(); err != nil {
			s.logger.Info("msg", "ipc: emergency disable failed", "err", err.Error())
			return AckFail
		}
		return AckOK
	default:
		return AckFail
	}
}

// Close stops accepting connections and removes the socket file.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.listener.Close()
		os.Remove(SocketPath)
	})
	return err
}
