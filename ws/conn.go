package ws

import (
	"errors"
	"fmt"

	"github.com/oesand/wsline/internal"
	"github.com/oesand/wsline/internal/parsing"
	"github.com/oesand/wsline/specs"
)

// State is the lifecycle stage of a Conn.
type State uint8

const (
	StateHandshaking State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Role tells which side of the handshake a Conn plays.
type Role uint8

const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}

// Conf tunes a Conn. Zero fields fall back to package defaults.
type Conf struct {
	// MaxPayloadSize caps a single frame payload, negative disables the cap.
	MaxPayloadSize int64

	// MaxHandshakeSize caps the bytes buffered while waiting for the handshake head.
	MaxHandshakeSize int

	// SelectProtocol picks a subprotocol on the server side.
	SelectProtocol func(protocols []string) string

	// AllowUnmasked lets a server accept unmasked data frames from clients.
	AllowUnmasked bool
}

// Message is a complete data frame delivered to the application.
type Message struct {
	Opcode  Opcode
	Payload []byte
}

// Text returns the payload as a string.
func (m Message) Text() string {
	return string(m.Payload)
}

// Outcome is what one Feed call produced.
type Outcome struct {
	// Reply must be written to the transport before anything else.
	Reply []byte

	// Messages holds decoded data frames in arrival order.
	Messages []Message

	// Close asks the caller to close the transport after writing Reply.
	Close bool
}

// Conn is the per connection protocol state machine. It does no I/O:
// the owner feeds it inbound bytes and writes whatever it returns.
// A Conn is not safe for concurrent use.
type Conn struct {
	_ internal.NoCopy

	role  Role
	state State
	conf  Conf

	challengeKey string
	handshake    *Handshake
	response     *parsing.Response
	protocol     string

	buf []byte
}

// NewServerConn returns a Conn awaiting an upgrade request.
func NewServerConn(conf Conf) *Conn {
	return &Conn{role: RoleServer, conf: normalizeConf(conf)}
}

// NewClientConn returns a Conn awaiting the answer to an upgrade request
// sent with challengeKey. An empty key skips accept value verification.
func NewClientConn(challengeKey string, conf Conf) *Conn {
	return &Conn{role: RoleClient, conf: normalizeConf(conf), challengeKey: challengeKey}
}

func normalizeConf(conf Conf) Conf {
	if conf.MaxPayloadSize == 0 {
		conf.MaxPayloadSize = DefaultMaxPayloadSize
	}
	if conf.MaxHandshakeSize <= 0 {
		conf.MaxHandshakeSize = DefaultMaxHandshakeSize
	}
	return conf
}

func (c *Conn) State() State { return c.state }
func (c *Conn) Role() Role   { return c.role }

// Protocol returns the negotiated subprotocol, if any.
func (c *Conn) Protocol() string { return c.protocol }

// Handshake returns the accepted request on the server side, nil otherwise.
func (c *Conn) Handshake() *Handshake { return c.handshake }

// Response returns the accepted upgrade response on the client side, nil otherwise.
func (c *Conn) Response() *parsing.Response { return c.response }

// Feed consumes a chunk of inbound bytes.
//
// While handshaking it buffers until a complete head arrives and then
// validates it; bytes past the head are decoded as frames straight away.
// While open it decodes every complete frame, keeping a trailing partial
// frame for the next call. A close frame returns specs.ErrCloseRequested and
// any other failure is fatal: both set Outcome.Close and move to StateClosed.
func (c *Conn) Feed(chunk []byte) (Outcome, error) {
	var out Outcome
	switch c.state {
	case StateClosed:
		return out, specs.ErrNotConnected
	case StateHandshaking:
		c.buf = append(c.buf, chunk...)
		done, err := c.feedHandshake(&out)
		if err != nil || !done {
			return out, err
		}
	case StateOpen:
		c.buf = append(c.buf, chunk...)
	}

	err := c.decodeFrames(&out)
	return out, err
}

func (c *Conn) feedHandshake(out *Outcome) (bool, error) {
	headLen := parsing.HeadLength(c.buf)
	if headLen < 0 {
		if len(c.buf) > c.conf.MaxHandshakeSize {
			err := &RejectError{
				Status: specs.StatusCodeRequestHeaderFieldsTooLarge,
				Reason: fmt.Sprintf("handshake exceeds %d bytes", c.conf.MaxHandshakeSize),
				Err:    specs.ErrTooLarge,
			}
			return false, c.fail(out, err)
		}
		return false, nil
	}

	head := c.buf[:headLen]
	if c.role == RoleServer {
		hs, err := ValidateRequest(head, c.conf.SelectProtocol)
		if err != nil {
			return false, c.fail(out, err)
		}
		c.handshake = hs
		c.protocol = hs.SelectedProtocol
		out.Reply = AcceptResponse(hs)
	} else {
		resp, err := ValidateResponse(head, c.challengeKey)
		if err != nil {
			return false, c.fail(out, err)
		}
		c.response = resp
		c.protocol = resp.Header.Get("Sec-WebSocket-Protocol")
	}

	c.buf = c.buf[headLen:]
	c.state = StateOpen
	return true, nil
}

func (c *Conn) decodeFrames(out *Outcome) error {
	for len(c.buf) > 0 {
		frame, n, err := DecodeLimit(c.buf, c.conf.MaxPayloadSize)
		if errors.Is(err, specs.ErrIncompleteFrame) {
			break
		}
		if err != nil {
			return c.fail(out, err)
		}
		c.buf = c.buf[n:]

		if err = c.checkFrame(frame); err != nil {
			return c.fail(out, err)
		}
		if frame.Opcode.IsData() {
			out.Messages = append(out.Messages, Message{Opcode: frame.Opcode, Payload: frame.Payload})
		}
	}

	if len(c.buf) == 0 {
		c.buf = nil
	}
	return nil
}

func (c *Conn) checkFrame(frame *Frame) error {
	if frame.Rsv1 || frame.Rsv2 || frame.Rsv3 {
		return fmt.Errorf("%w: reserved bits set without a negotiated extension", specs.ErrProtocol)
	}
	if !frame.Opcode.IsValid() {
		return fmt.Errorf("%w: reserved opcode %d", specs.ErrProtocol, frame.Opcode)
	}
	if frame.Opcode == OpContinuation || !frame.Fin {
		return fmt.Errorf("%w: fragmented messages", specs.ErrUnsupported)
	}
	if frame.Opcode.IsControl() {
		return nil
	}
	if c.role == RoleServer && !frame.Masked && !c.conf.AllowUnmasked {
		return fmt.Errorf("%w: client frames must be masked", specs.ErrProtocol)
	}
	if c.role == RoleClient && frame.Masked {
		return fmt.Errorf("%w: server frames must not be masked", specs.ErrProtocol)
	}
	return nil
}

// fail moves to StateClosed and, on the server while handshaking,
// queues the refusal response.
func (c *Conn) fail(out *Outcome, err error) error {
	if c.state == StateHandshaking && c.role == RoleServer {
		out.Reply = RefusalResponse(err)
	}
	out.Close = true
	c.close()
	return err
}

func (c *Conn) close() {
	c.state = StateClosed
	c.buf = nil
}

// Send encodes payload as a single frame. Client frames are masked.
// Sending OpClose emits the close shortcut and closes the Conn.
func (c *Conn) Send(payload []byte, opcode Opcode) ([]byte, error) {
	if c.state != StateOpen {
		return nil, specs.ErrNotConnected
	}
	if !opcode.IsValid() || opcode == OpContinuation {
		return nil, fmt.Errorf("%w: cannot send %s frame", specs.ErrUnsupported, opcode)
	}
	frame := Encode(payload, opcode, c.role == RoleClient)
	if opcode == OpClose {
		c.close()
	}
	return frame, nil
}

// SendText encodes msg through EncodeMessage, so ExitMessage closes the Conn.
func (c *Conn) SendText(msg string) ([]byte, error) {
	if c.state != StateOpen {
		return nil, specs.ErrNotConnected
	}
	if msg == ExitMessage {
		return c.Send(nil, OpClose)
	}
	return EncodeMessage(msg, c.role == RoleClient), nil
}

// Terminate moves to StateClosed after the transport ended.
func (c *Conn) Terminate() {
	c.close()
}
