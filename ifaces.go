package wsline

import (
	"context"
	"net"

	"github.com/oesand/wsline/ws"
)

// Handler serves messages received on an upgraded server connection.
type Handler interface {
	HandleMessage(session *Session, msg ws.Message)
}

// SessionHandler is optionally implemented by a [Handler]
// to observe sessions opening and closing.
//
// err passed to OnClose is nil for a normal closure
// (close frame, EOF or expired deadline).
type SessionHandler interface {
	OnOpen(session *Session)
	OnClose(session *Session, err error)
}

// NetDialer for start connection over network
type NetDialer interface {
	Dial(ctx context.Context, network, address string) (net.Conn, error)
}

// * Shorthand implementations *

// HandlerFunc shorthand implementation for Handler
type HandlerFunc func(session *Session, msg ws.Message)

func (f HandlerFunc) HandleMessage(session *Session, msg ws.Message) {
	f(session, msg)
}

// NetDialerFunc shorthand implementation for NetDialer
type NetDialerFunc func(ctx context.Context, network, address string) (net.Conn, error)

func (f NetDialerFunc) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	return f(ctx, network, address)
}
