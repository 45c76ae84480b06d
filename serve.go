package wsline

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/oesand/wsline/internal/catch"
	"github.com/oesand/wsline/specs"
	"github.com/oesand/wsline/ws"
)

var responseErrUnavailable = &ws.RejectError{
	Status: specs.StatusCodeServiceUnavailable,
	Reason: "server is busy, try again later",
	Err:    specs.ErrBacklogFull,
}

// ListenAndServe listens on the TCP address addr and then calls
// [Server.Serve]. SO_REUSEADDR is set on platforms that support it.
func (srv *Server) ListenAndServe(addr string) error {
	if srv.IsShutdown() {
		return ErrServerShutdown
	}
	config := net.ListenConfig{Control: reuseAddrControl}
	listener, err := config.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return err
	}
	return srv.Serve(listener)
}

// Serve accepts incoming connections on the [net.Listener] and hands each
// one to the worker pool. A connection that finds the backlog full is
// refused with 503.
//
// Serve always returns a non-nil error.
// After [Server.Shutdown], the returned error is [ErrServerShutdown].
func (srv *Server) Serve(listener net.Listener) error {
	if listener == nil {
		panic("nil listener")
	}
	if srv.Handler == nil {
		panic("nil server handler")
	}

	srv.once.Do(srv.init)
	if !srv.trackListener(listener, true) {
		listener.Close()
		return ErrServerShutdown
	}
	defer srv.trackListener(listener, false)

	if srv.Debug {
		srv.logger().Printf("wsline: listening on %s", listener.Addr())
	}

	var attemptDelay time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			if srv.IsShutdown() {
				return ErrServerShutdown
			}
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				if attemptDelay == 0 {
					attemptDelay = 5 * time.Millisecond
				} else if maxDelay := 1 * time.Second; attemptDelay >= maxDelay {
					attemptDelay = maxDelay
				} else {
					attemptDelay *= 2
				}

				time.Sleep(attemptDelay)
				continue
			}
			return err
		}

		attemptDelay = 0
		if srv.FilterConn != nil && !srv.FilterConn(conn.RemoteAddr()) {
			conn.Close()
			continue
		}

		err = srv.workers.Submit(func() { srv.serveConn(conn) })
		if err != nil {
			if srv.Debug {
				srv.logger().Printf("wsline: refusing %s: %v", conn.RemoteAddr(), err)
			}
			go srv.refuse(conn, responseErrUnavailable)
		}
	}
}

func (srv *Server) refuse(conn net.Conn, err error) {
	defer conn.Close()
	conn.SetWriteDeadline(time.Now().Add(time.Second))
	conn.Write(ws.RefusalResponse(err))
}

func (srv *Server) serveConn(conn net.Conn) {
	srv.conns.Store(conn, struct{}{})
	defer srv.conns.Delete(conn)
	defer conn.Close()
	if srv.IsShutdown() {
		return
	}

	select {
	case srv.slots <- struct{}{}:
	default:
		if srv.Debug {
			srv.logger().Printf("wsline: too many handshakes, refusing %s", conn.RemoteAddr())
		}
		srv.refuse(conn, responseErrUnavailable)
		return
	}

	session, pending, err := srv.handshake(conn)
	<-srv.slots

	if err != nil {
		if srv.Debug || !specs.IsNormalClosure(err) {
			srv.logger().Printf("wsline: handshake with %s failed: %v", conn.RemoteAddr(), err)
		}
		return
	}

	handler := srv.Handler
	sessionHandler, _ := handler.(SessionHandler)

	if !srv.registry.Add(session) {
		srv.logger().Printf("wsline: [%s] duplicate peer address %s", session.ID(), session.Addr())
		session.Close()
		return
	}
	if srv.Debug {
		srv.logger().Printf("wsline: [%s] %s connected to %q", session.ID(), session.Addr(), session.Resource())
	}
	if sessionHandler != nil {
		sessionHandler.OnOpen(session)
	}

	err = srv.readLoop(session, pending, handler)

	session.terminate()
	srv.registry.Remove(session.Addr())

	if err == nil || specs.IsNormalClosure(err) {
		if srv.Debug {
			srv.logger().Printf("wsline: [%s] %s disconnected: %v", session.ID(), session.Addr(), err)
		}
		err = nil
	} else {
		srv.logger().Printf("wsline: [%s] %s closed on error: %v", session.ID(), session.Addr(), err)
	}
	if sessionHandler != nil {
		sessionHandler.OnClose(session, err)
	}
}

// pendingFrames holds what was decoded from the chunk carrying the upgrade
// request, and the error that ended that chunk, if any.
type pendingFrames struct {
	messages []ws.Message
	err      error
}

// handshake reads until the upgrade request is complete and answers it.
// Frames pipelined behind the request are returned for dispatch.
func (srv *Server) handshake(conn net.Conn) (*Session, *pendingFrames, error) {
	state := ws.NewServerConn(srv.conf())
	buf := make([]byte, srv.readBufferSize())

	conn.SetReadDeadline(time.Now().Add(srv.handshakeTimeout()))
	defer conn.SetReadDeadline(time.Time{})

	for state.State() == ws.StateHandshaking {
		n, err := conn.Read(buf)
		if n > 0 {
			out, ferr := state.Feed(buf[:n])
			if len(out.Reply) > 0 {
				conn.SetWriteDeadline(time.Now().Add(time.Second))
				if _, werr := conn.Write(out.Reply); werr != nil && ferr == nil {
					ferr = catch.CatchCommonErr(werr)
				}
				conn.SetWriteDeadline(time.Time{})
			}
			if state.Handshake() != nil {
				// upgraded, frames decoded before a failing one are still dispatched
				return newSession(conn, state, srv.WriteTimeout), &pendingFrames{out.Messages, ferr}, nil
			}
			if ferr != nil {
				return nil, nil, ferr
			}
		}
		if err != nil {
			return nil, nil, catch.CatchCommonErr(err)
		}
	}
	return nil, nil, specs.ErrNotConnected
}

func (srv *Server) readLoop(session *Session, pending *pendingFrames, handler Handler) error {
	for _, msg := range pending.messages {
		handler.HandleMessage(session, msg)
	}
	if pending.err != nil {
		return pending.err
	}
	if session.State() == ws.StateClosed {
		return nil
	}

	conn := session.transport
	buf := make([]byte, srv.readBufferSize())
	for {
		if srv.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(srv.ReadTimeout))
		}

		n, err := conn.Read(buf)
		if n > 0 {
			out, ferr := session.feed(buf[:n])
			for _, msg := range out.Messages {
				handler.HandleMessage(session, msg)
			}
			if ferr == specs.ErrNotConnected {
				// closed locally, bytes after that are dropped
				return nil
			}
			if ferr != nil {
				return ferr
			}
			if session.State() == ws.StateClosed {
				return nil
			}
		}
		if err != nil {
			err = catch.CatchCommonErr(err)
			if errors.Is(err, specs.ErrTimeout) && srv.Debug {
				srv.logger().Printf("wsline: [%s] read timeout", session.ID())
			}
			return err
		}
	}
}
