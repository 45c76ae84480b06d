package wsline

import (
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oesand/wsline/internal/catch"
	"github.com/oesand/wsline/internal/parsing"
	"github.com/oesand/wsline/specs"
	"github.com/oesand/wsline/ws"
)

// Client is an open client side connection created by a [Dialer].
// A single goroutine receives frames and delivers them on Messages.
type Client struct {
	id        uuid.UUID
	transport net.Conn

	readTimeout  time.Duration
	writeTimeout time.Duration
	bufferSize   int
	logger       *log.Logger
	debug        bool

	mu    sync.Mutex
	state *ws.Conn

	messages  chan ws.Message
	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
	err       error
}

// newClient starts the receive goroutine. pending and pendingErr are what
// the chunk completing the handshake decoded to.
func (dialer *Dialer) newClient(conn net.Conn, state *ws.Conn, pending []ws.Message, pendingErr error) *Client {
	buffer := dialer.MessageBuffer
	if buffer <= 0 {
		buffer = DefaultMessageBuffer
	}

	cln := &Client{
		id:           uuid.New(),
		transport:    conn,
		readTimeout:  dialer.ReadTimeout,
		writeTimeout: dialer.WriteTimeout,
		bufferSize:   dialer.readBufferSize(),
		logger:       dialer.logger(),
		debug:        dialer.Debug,
		state:        state,
		messages:     make(chan ws.Message, buffer),
		closing:      make(chan struct{}),
		done:         make(chan struct{}),
	}
	if cln.debug {
		cln.logger.Printf("wsline: [%s] connected to %s", cln.id, conn.RemoteAddr())
	}
	go cln.receive(pending, pendingErr)
	return cln
}

// ID is a random identifier used to correlate log lines.
func (cln *Client) ID() uuid.UUID { return cln.id }

// RemoteAddr is the address of the server, or of the proxy when one is used.
func (cln *Client) RemoteAddr() net.Addr { return cln.transport.RemoteAddr() }

// Protocol is the subprotocol selected by the server, if any.
func (cln *Client) Protocol() string { return cln.state.Protocol() }

// Response is the accepted upgrade response.
func (cln *Client) Response() *parsing.Response { return cln.state.Response() }

// State reports the current connection state.
func (cln *Client) State() ws.State {
	cln.mu.Lock()
	defer cln.mu.Unlock()
	return cln.state.State()
}

// Messages delivers received data messages. It is closed once the
// connection ends.
func (cln *Client) Messages() <-chan ws.Message { return cln.messages }

// Done is closed once the receive goroutine has exited.
func (cln *Client) Done() <-chan struct{} { return cln.done }

// Err returns the failure that ended the connection. It is nil while
// open and after a normal closure.
func (cln *Client) Err() error {
	select {
	case <-cln.done:
		return cln.err
	default:
		return nil
	}
}

// Send writes payload as a single masked frame.
// Sending ws.OpClose emits the close frame and shuts the connection down.
func (cln *Client) Send(payload []byte, opcode ws.Opcode) error {
	cln.mu.Lock()
	frame, err := cln.state.Send(payload, opcode)
	if err == nil {
		err = cln.write(frame)
	}
	closed := cln.state.State() == ws.StateClosed
	cln.mu.Unlock()

	if closed {
		cln.shutdown()
	}
	return err
}

// SendText sends msg as a text frame. The message "exit" sends the
// close frame instead and shuts the connection down.
func (cln *Client) SendText(msg string) error {
	if msg == ws.ExitMessage {
		return cln.Send(nil, ws.OpClose)
	}
	return cln.Send([]byte(msg), ws.OpText)
}

// Close sends a close frame if still open and waits for the receive
// goroutine to exit.
func (cln *Client) Close() error {
	err := cln.Send(nil, ws.OpClose)
	if err == specs.ErrNotConnected {
		err = nil
	}
	cln.shutdown()
	<-cln.done
	return err
}

func (cln *Client) shutdown() {
	cln.closeOnce.Do(func() {
		close(cln.closing)
		cln.transport.Close()
	})
}

// write must be called with cln.mu held.
func (cln *Client) write(frame []byte) error {
	if cln.writeTimeout > 0 {
		cln.transport.SetWriteDeadline(time.Now().Add(cln.writeTimeout))
		defer cln.transport.SetWriteDeadline(time.Time{})
	}
	_, err := cln.transport.Write(frame)
	return catch.CatchCommonErr(err)
}

func (cln *Client) deliver(messages []ws.Message) bool {
	for _, msg := range messages {
		select {
		case cln.messages <- msg:
		case <-cln.closing:
			return false
		}
	}
	return true
}

func (cln *Client) receive(pending []ws.Message, pendingErr error) {
	err := cln.readLoop(pending, pendingErr)

	select {
	case <-cln.closing:
		// closed locally, the read error comes from the transport shutdown
		err = nil
	default:
	}

	cln.mu.Lock()
	cln.state.Terminate()
	cln.mu.Unlock()
	cln.shutdown()
	if err == nil || specs.IsNormalClosure(err) {
		if cln.debug {
			cln.logger.Printf("wsline: [%s] disconnected: %v", cln.id, err)
		}
		err = nil
	} else {
		cln.logger.Printf("wsline: [%s] closed on error: %v", cln.id, err)
	}

	cln.err = err
	close(cln.messages)
	close(cln.done)
}

func (cln *Client) readLoop(pending []ws.Message, pendingErr error) error {
	if !cln.deliver(pending) {
		return nil
	}
	if pendingErr != nil {
		return pendingErr
	}

	buf := make([]byte, cln.bufferSize)
	for {
		if cln.readTimeout > 0 {
			cln.transport.SetReadDeadline(time.Now().Add(cln.readTimeout))
		}

		n, err := cln.transport.Read(buf)
		if n > 0 {
			cln.mu.Lock()
			out, ferr := cln.state.Feed(buf[:n])
			cln.mu.Unlock()

			if !cln.deliver(out.Messages) {
				return nil
			}
			if ferr != nil && ferr != specs.ErrNotConnected {
				return ferr
			}
		}
		if err != nil {
			return catch.CatchCommonErr(err)
		}
	}
}
