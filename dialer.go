package wsline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/oesand/wsline/internal"
	"github.com/oesand/wsline/internal/catch"
	"github.com/oesand/wsline/internal/client"
	"github.com/oesand/wsline/internal/proxy"
	"github.com/oesand/wsline/specs"
	"github.com/oesand/wsline/ws"
)

// DefaultDialer returns a new Dialer with default settings.
func DefaultDialer() *Dialer {
	return &Dialer{
		HandshakeTimeout: DefaultHandshakeTimeout,
		MaxPayloadSize:   DefaultMaxPayloadSize,
		MessageBuffer:    DefaultMessageBuffer,
		WriteTimeout:     DefaultWriteTimeout,
	}
}

// Dialer is used to open a WebSocket connection to a server.
type Dialer struct {
	_ internal.NoCopy

	// NetDialer specifies the dialer for creating TCP connections.
	// If nil, a [net.Dialer] with a 30 second timeout is used.
	NetDialer NetDialer

	// Proxy is an optional "socks5://[user:password@]host[:port]" url.
	// The target host is resolved by the proxy.
	Proxy string

	// Origin is the value of the "Origin" header in the handshake request.
	Origin string

	// Protocols is a list of subprotocols that the client supports.
	Protocols []string

	// HandshakeTimeout bounds connecting plus the upgrade exchange.
	HandshakeTimeout time.Duration

	// ReadTimeout is the maximum idle time between reads once open.
	// Expiry ends the connection like a peer EOF.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration of a single frame write.
	WriteTimeout time.Duration

	// ReadBufferSize is the size of a single transport read.
	ReadBufferSize int

	// MaxPayloadSize caps the payload of a received frame.
	MaxPayloadSize int64

	// MessageBuffer is the capacity of the Client.Messages channel.
	MessageBuffer int

	Logger *log.Logger

	// Debug flag to allow show system messages
	Debug bool
}

// Dial connects to host:port and upgrades the connection for resource.
func (dialer *Dialer) Dial(host string, port uint16, resource string) (*Client, error) {
	return dialer.DialContext(context.Background(), host, port, resource)
}

// DialContext is [Dialer.Dial] with [context.Context] cancellation support.
// The context only bounds the connection setup.
func (dialer *Dialer) DialContext(ctx context.Context, host string, port uint16, resource string) (*Client, error) {
	if ctx == nil {
		panic("nil Context pointer")
	}
	if host == "" {
		return nil, specs.NewOpError("dial", "empty host")
	}

	host = client.IdnaHost(host)
	hostHeader := client.HostHeader(host, port, false)
	if !client.ValidHost(hostHeader) {
		return nil, specs.NewOpError("dial", "invalid host %q", host)
	}

	timeout := dialer.HandshakeTimeout
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := dialer.dial(ctx, host, port)
	if err != nil {
		return nil, specs.WrapOpError("dial", catch.CatchCommonErr(err))
	}

	cln, err := dialer.handshake(ctx, conn, hostHeader, resource)
	if err != nil {
		conn.Close()
		return nil, specs.WrapOpError("handshake", err)
	}
	return cln, nil
}

func (dialer *Dialer) dial(ctx context.Context, host string, port uint16) (net.Conn, error) {
	netDialer := dialer.NetDialer
	if netDialer == nil {
		netDialer = defaultNetDialer
	}

	var socks *proxy.Proxy
	if dialer.Proxy != "" {
		var err error
		if socks, err = proxy.ParseUrl(dialer.Proxy); err != nil {
			return nil, err
		}
	}

	// a custom NetDialer may ignore ctx, the call is bounded anyway
	deadline, _ := ctx.Deadline()
	return catch.CallWithTimeoutContext(ctx, time.Until(deadline), func(ctx context.Context) (net.Conn, error) {
		if socks == nil {
			return netDialer.Dial(ctx, "tcp", client.HostPort(host, port))
		}
		return socks.Dial(ctx, netDialer.Dial, host, port)
	}, func(late net.Conn) {
		late.Close()
	})
}

func (dialer *Dialer) handshake(ctx context.Context, conn net.Conn, hostHeader, resource string) (*Client, error) {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer func() {
		stop()
		conn.SetDeadline(time.Time{})
	}()

	challengeKey := ws.NewChallengeKey()
	state := ws.NewClientConn(challengeKey, ws.Conf{MaxPayloadSize: dialer.MaxPayloadSize})

	request := ws.HandshakeRequest(hostHeader, resource, challengeKey, ws.RequestConf{
		Origin:    dialer.Origin,
		Protocols: dialer.Protocols,
	})
	if _, err := conn.Write(request); err != nil {
		return nil, catch.CatchCommonErr(err)
	}

	buf := make([]byte, dialer.readBufferSize())
	for {
		if err := ctx.Err(); err != nil {
			return nil, catch.CatchContextCancel(ctx)
		}

		n, err := conn.Read(buf)
		if n > 0 {
			out, ferr := state.Feed(buf[:n])
			if state.Response() != nil {
				// upgraded, frames decoded before a failing one are still delivered
				return dialer.newClient(conn, state, out.Messages, ferr), nil
			}
			if ferr != nil {
				return nil, ferr
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, catch.CatchContextCancel(ctx)
			}
			err = catch.CatchCommonErr(err)
			if errors.Is(err, specs.ErrTimeout) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %w", specs.ErrHandshakeRejected, err)
		}
	}
}

func (dialer *Dialer) readBufferSize() int {
	if dialer.ReadBufferSize > 0 {
		return dialer.ReadBufferSize
	}
	return DefaultReadBufferSize
}

func (dialer *Dialer) logger() *log.Logger {
	if dialer.Logger != nil {
		return dialer.Logger
	}
	return log.Default()
}
