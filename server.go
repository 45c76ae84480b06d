package wsline

import (
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oesand/wsline/internal/pool"
	"github.com/oesand/wsline/ws"
)

// DefaultServer creates a [Server] serving handler with default limits.
func DefaultServer(handler Handler) *Server {
	return &Server{
		Handler:          handler,
		MaxWorkers:       DefaultMaxWorkers,
		MaxPendingConns:  DefaultMaxPendingConns,
		MaxHandshakes:    DefaultMaxHandshakes,
		HandshakeTimeout: DefaultHandshakeTimeout,
		WriteTimeout:     DefaultWriteTimeout,
	}
}

// Server accepts transport connections, upgrades them and feeds
// received messages to Handler. Zero limits fall back to the package defaults.
type Server struct {
	// Handler to invoke
	Handler Handler

	Logger *log.Logger

	// Debug flag to allow show system messages
	Debug bool

	// FilterConn optionally rejects connections by peer address before any byte is read.
	FilterConn func(addr net.Addr) bool

	// MaxWorkers is the number of goroutines serving connections.
	MaxWorkers int

	// MaxPendingConns caps accepted connections waiting for a free worker.
	// Connections over the cap are answered with 503 and closed.
	MaxPendingConns int

	// MaxHandshakes caps connections in the handshaking state at once.
	// Connections over the cap are answered with 503 and closed.
	MaxHandshakes int

	// HandshakeTimeout bounds the time from accept to a complete upgrade request.
	HandshakeTimeout time.Duration

	// ReadTimeout is the maximum idle time between reads of an open
	// connection. Expiry closes the connection like a peer EOF.
	// A zero or negative value means there will be no timeout.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration of a single frame write.
	// A zero or negative value means there will be no timeout.
	WriteTimeout time.Duration

	// ReadBufferSize is the size of a single transport read.
	ReadBufferSize int

	// MaxPayloadSize caps the payload of a received frame.
	MaxPayloadSize int64

	// MaxHandshakeSize caps the upgrade request head.
	MaxHandshakeSize int

	// SelectProtocol picks a subprotocol among those offered by the client.
	// If nil, the first one is selected.
	SelectProtocol func(protocols []string) string

	once     sync.Once
	registry *Registry
	workers  *pool.Pool
	slots    chan struct{}
	conns    sync.Map

	isShuttingdown atomic.Bool
	listenerTrack  sync.WaitGroup

	mutex     sync.Mutex
	listeners map[net.Listener]struct{}
}

func (srv *Server) init() {
	maxWorkers := srv.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	maxPending := srv.MaxPendingConns
	if maxPending <= 0 {
		maxPending = DefaultMaxPendingConns
	}
	maxHandshakes := srv.MaxHandshakes
	if maxHandshakes <= 0 {
		maxHandshakes = DefaultMaxHandshakes
	}

	srv.registry = NewRegistry()
	srv.slots = make(chan struct{}, maxHandshakes)
	srv.workers = pool.New(maxWorkers, maxPending, func(recovered any) {
		srv.logger().Printf("wsline: panic serving connection: %v", recovered)
	})
}

// Registry returns the set of open sessions.
func (srv *Server) Registry() *Registry {
	srv.once.Do(srv.init)
	return srv.registry
}

// Broadcast sends payload to every open session and returns how many
// sessions it was written to.
func (srv *Server) Broadcast(opcode ws.Opcode, payload []byte) int {
	var sent int
	srv.Registry().Range(func(session *Session) bool {
		if err := session.Send(payload, opcode); err != nil {
			if srv.Debug {
				srv.logger().Printf("wsline: [%s] broadcast to %s: %v", session.ID(), session.Addr(), err)
			}
		} else {
			sent++
		}
		return true
	})
	return sent
}

// Stats is a snapshot of the server load.
type Stats struct {
	// Sessions is the number of open sessions.
	Sessions int
	// Pending counts accepted connections waiting for a worker.
	Pending int
	// Active counts connections held by a worker, handshaking or open.
	Active int
	// Served counts connections whose worker has finished.
	Served int64
}

func (srv *Server) Stats() Stats {
	srv.once.Do(srv.init)
	return Stats{
		Sessions: srv.registry.Len(),
		Pending:  srv.workers.Pending(),
		Active:   srv.workers.Active(),
		Served:   srv.workers.Completed(),
	}
}

func (srv *Server) IsShutdown() bool {
	return srv.isShuttingdown.Load()
}

// Shutdown stops the listeners, closes open sessions and waits
// for the workers to finish.
func (srv *Server) Shutdown() {
	if !srv.isShuttingdown.CompareAndSwap(false, true) {
		return
	}
	srv.once.Do(srv.init)

	srv.mutex.Lock()
	for listener := range srv.listeners {
		listener.Close()
	}
	srv.mutex.Unlock()
	srv.listenerTrack.Wait()

	srv.registry.Range(func(session *Session) bool {
		session.Close()
		return true
	})
	srv.conns.Range(func(conn, _ any) bool {
		conn.(net.Conn).Close()
		return true
	})
	srv.workers.Close()
}

func (srv *Server) logger() *log.Logger {
	if srv.Logger != nil {
		return srv.Logger
	}
	return log.Default()
}

func (srv *Server) conf() ws.Conf {
	return ws.Conf{
		MaxPayloadSize:   srv.MaxPayloadSize,
		MaxHandshakeSize: srv.MaxHandshakeSize,
		SelectProtocol:   srv.SelectProtocol,
	}
}

func (srv *Server) readBufferSize() int {
	if srv.ReadBufferSize > 0 {
		return srv.ReadBufferSize
	}
	return DefaultReadBufferSize
}

func (srv *Server) handshakeTimeout() time.Duration {
	if srv.HandshakeTimeout > 0 {
		return srv.HandshakeTimeout
	}
	return DefaultHandshakeTimeout
}

func (srv *Server) trackListener(listener net.Listener, add bool) bool {
	srv.mutex.Lock()
	defer srv.mutex.Unlock()

	if add {
		if srv.isShuttingdown.Load() {
			return false
		}
		if srv.listeners == nil {
			srv.listeners = map[net.Listener]struct{}{}
		}
		srv.listeners[listener] = struct{}{}
		srv.listenerTrack.Add(1)
	} else {
		delete(srv.listeners, listener)
		srv.listenerTrack.Done()
	}
	return true
}
