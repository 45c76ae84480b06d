package wsline

import "github.com/oesand/wsline/ws"

// EchoHandler answers every message with a copy of itself.
func EchoHandler() Handler {
	return HandlerFunc(func(session *Session, msg ws.Message) {
		session.Send(msg.Payload, msg.Opcode)
	})
}

// BroadcastHandler relays every message to all open sessions of srv,
// the sender included.
func BroadcastHandler(srv *Server) Handler {
	return HandlerFunc(func(session *Session, msg ws.Message) {
		srv.Broadcast(msg.Opcode, msg.Payload)
	})
}

// LogHandler prints received text messages through the server logger.
func LogHandler(srv *Server) Handler {
	return HandlerFunc(func(session *Session, msg ws.Message) {
		srv.logger().Printf("wsline: [%s] %s: %q", session.ID(), session.Addr(), msg.Payload)
	})
}

// ChainHandlers calls each handler in order.
func ChainHandlers(handlers ...Handler) Handler {
	return HandlerFunc(func(session *Session, msg ws.Message) {
		for _, handler := range handlers {
			handler.HandleMessage(session, msg)
		}
	})
}
