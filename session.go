package wsline

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/oesand/wsline/internal/catch"
	"github.com/oesand/wsline/specs"
	"github.com/oesand/wsline/ws"
)

// Session is an upgraded server side connection.
// Send and Close are safe for concurrent use.
type Session struct {
	id   uuid.UUID
	addr string

	transport    net.Conn
	writeTimeout time.Duration

	mu      sync.Mutex
	state   *ws.Conn
	closing atomic.Bool
}

func newSession(transport net.Conn, state *ws.Conn, writeTimeout time.Duration) *Session {
	return &Session{
		id:           uuid.New(),
		addr:         transport.RemoteAddr().String(),
		transport:    transport,
		writeTimeout: writeTimeout,
		state:        state,
	}
}

// ID is a random identifier used to correlate log lines.
func (s *Session) ID() uuid.UUID { return s.id }

// Addr is the peer address, the key of the session in a [Registry].
func (s *Session) Addr() string { return s.addr }

// Resource is the path requested in the upgrade request.
func (s *Session) Resource() string {
	if hs := s.state.Handshake(); hs != nil {
		return hs.Resource
	}
	return ""
}

// Header is the header of the upgrade request.
func (s *Session) Header() *specs.Header {
	if hs := s.state.Handshake(); hs != nil {
		return hs.Header
	}
	return nil
}

// Protocol is the selected subprotocol, if any.
func (s *Session) Protocol() string { return s.state.Protocol() }

// State reports the current connection state.
func (s *Session) State() ws.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.State()
}

// Send writes payload as a single frame. Sending ws.OpClose closes the session
// for writing; the transport is closed by the worker once the peer goes away.
func (s *Session) Send(payload []byte, opcode ws.Opcode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	frame, err := s.state.Send(payload, opcode)
	if err != nil {
		return err
	}
	return s.write(frame)
}

// SendText sends msg as a text frame, "exit" sends the close frame.
func (s *Session) SendText(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	frame, err := s.state.SendText(msg)
	if err != nil {
		return err
	}
	return s.write(frame)
}

// Close sends a close frame if the session is open and closes the transport.
// A write blocked on a peer that stopped reading is cut short first.
func (s *Session) Close() error {
	s.closing.Store(true)
	s.transport.SetWriteDeadline(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.state.State() == ws.StateOpen {
		var frame []byte
		if frame, err = s.state.Send(nil, ws.OpClose); err == nil {
			s.transport.SetWriteDeadline(time.Now().Add(closeWriteTimeout))
			_, err = s.transport.Write(frame)
			err = catch.CatchCommonErr(err)
		}
	}
	s.state.Terminate()
	if cerr := s.transport.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *Session) feed(chunk []byte) (ws.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Feed(chunk)
}

func (s *Session) terminate() {
	s.mu.Lock()
	s.state.Terminate()
	s.mu.Unlock()
}

// write must be called with s.mu held.
func (s *Session) write(frame []byte) error {
	var deadline time.Time
	if s.writeTimeout > 0 {
		deadline = time.Now().Add(s.writeTimeout)
	}
	s.transport.SetWriteDeadline(deadline)
	// checked after the deadline is set so a concurrent Close always wins
	if s.closing.Load() {
		return specs.ErrNotConnected
	}
	_, err := s.transport.Write(frame)
	return catch.CatchCommonErr(err)
}
