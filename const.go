package wsline

import (
	"context"
	"net"
	"time"

	"github.com/oesand/wsline/specs"
	"github.com/oesand/wsline/ws"
)

const (
	// DefaultHost and DefaultPort are used by the CLI when no address is given.
	DefaultHost        = "127.0.0.1"
	DefaultPort uint16 = 443

	// DefaultMaxWorkers default value for Server.MaxWorkers parameter
	DefaultMaxWorkers = 256

	// DefaultMaxPendingConns default value for Server.MaxPendingConns parameter
	DefaultMaxPendingConns = 1024

	// DefaultMaxHandshakes default value for Server.MaxHandshakes parameter
	DefaultMaxHandshakes = 64

	// DefaultHandshakeTimeout default value for Server.HandshakeTimeout and Dialer.HandshakeTimeout
	DefaultHandshakeTimeout = 10 * time.Second

	// DefaultWriteTimeout default value for Server.WriteTimeout and Dialer.WriteTimeout
	DefaultWriteTimeout = 10 * time.Second

	// closeWriteTimeout bounds the close frame written by Session.Close
	closeWriteTimeout = time.Second

	// DefaultReadBufferSize size of a single transport read
	DefaultReadBufferSize = 1024

	// DefaultMaxPayloadSize default value for Server.MaxPayloadSize parameter
	DefaultMaxPayloadSize = ws.DefaultMaxPayloadSize

	// DefaultMessageBuffer capacity of the Client.Messages channel
	DefaultMessageBuffer = 64
)

var (
	ErrServerShutdown = specs.NewOpError("server", "shutdown")

	defaultNetDialer = NetDialerFunc(func(ctx context.Context, network, address string) (net.Conn, error) {
		dialer := net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 10 * time.Second,
		}
		return dialer.DialContext(ctx, network, address)
	})
)
