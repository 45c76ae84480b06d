package wsline

import (
	"bytes"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oesand/wsline/internal/parsing"
	"github.com/oesand/wsline/specs"
	"github.com/oesand/wsline/ws"
)

const testTimeout = 2 * time.Second

func startServer(t *testing.T, srv *Server) (string, uint16) {
	t.Helper()
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go srv.Serve(listener)
	t.Cleanup(srv.Shutdown)

	addr := listener.Addr().(*net.TCPAddr)
	return "127.0.0.1", uint16(addr.Port)
}

func dialServer(t *testing.T, host string, port uint16) *Client {
	t.Helper()
	cln, err := DefaultDialer().Dial(host, port, "/chat")
	if err != nil {
		t.Fatal("dial:", err)
	}
	t.Cleanup(func() { cln.Close() })
	return cln
}

func receive(t *testing.T, cln *Client) ws.Message {
	t.Helper()
	select {
	case msg, ok := <-cln.Messages():
		if !ok {
			t.Fatalf("connection ended: %v", cln.Err())
		}
		return msg
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for a message")
	}
	return ws.Message{}
}

func waitDone(t *testing.T, cln *Client) {
	t.Helper()
	select {
	case <-cln.Done():
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for the connection to end")
	}
}

// rawUpgrade writes request over a fresh transport connection and returns
// the parsed response head.
func rawUpgrade(t *testing.T, host string, port uint16, request string) *parsing.Response {
	t.Helper()
	conn, err := net.Dial("tcp4", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(testTimeout))

	if _, err = conn.Write([]byte(request)); err != nil {
		t.Fatal(err)
	}
	return readResponseHead(t, conn)
}

func readResponseHead(t *testing.T, conn net.Conn) *parsing.Response {
	t.Helper()
	var raw []byte
	buf := make([]byte, 512)
	for parsing.HeadLength(raw) < 0 {
		n, err := conn.Read(buf)
		raw = append(raw, buf[:n]...)
		if err != nil {
			break
		}
	}
	headLen := parsing.HeadLength(raw)
	if headLen < 0 {
		t.Fatalf("incomplete response %q", raw)
	}
	resp, err := parsing.ParseResponse(raw[:headLen])
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func upgradeRequestString(version string) string {
	return "GET /chat HTTP/1.1\r\n" +
		"Host: localhost\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: " + version + "\r\n\r\n"
}

type recordingHandler struct {
	Handler
	opened chan *Session
	closed chan error
}

func newRecordingHandler(handler Handler) *recordingHandler {
	return &recordingHandler{
		Handler: handler,
		opened:  make(chan *Session, 8),
		closed:  make(chan error, 8),
	}
}

func (h *recordingHandler) OnOpen(session *Session)             { h.opened <- session }
func (h *recordingHandler) OnClose(session *Session, err error) { h.closed <- err }

func (h *recordingHandler) waitClosed(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.closed:
		return err
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for OnClose")
	}
	return nil
}

func TestServer_Echo(t *testing.T) {
	handler := newRecordingHandler(EchoHandler())
	host, port := startServer(t, DefaultServer(handler))

	cln := dialServer(t, host, port)
	if err := cln.SendText("hello"); err != nil {
		t.Fatal(err)
	}
	msg := receive(t, cln)
	if msg.Opcode != ws.OpText || msg.Text() != "hello" {
		t.Errorf("got %s %q", msg.Opcode, msg.Payload)
	}

	if err := cln.Send([]byte{0, 1, 2, 0xff}, ws.OpBinary); err != nil {
		t.Fatal(err)
	}
	msg = receive(t, cln)
	if msg.Opcode != ws.OpBinary || !bytes.Equal(msg.Payload, []byte{0, 1, 2, 0xff}) {
		t.Errorf("got %s %v", msg.Opcode, msg.Payload)
	}

	select {
	case session := <-handler.opened:
		if session.Resource() != "/chat" {
			t.Errorf("resource %q", session.Resource())
		}
	default:
		t.Error("OnOpen was not called")
	}

	if err := cln.SendText("exit"); err != nil {
		t.Fatal(err)
	}
	waitDone(t, cln)
	if err := cln.Err(); err != nil {
		t.Errorf("unexpected client error %v", err)
	}
	if err := handler.waitClosed(t); err != nil {
		t.Errorf("unexpected close error %v", err)
	}
}

func TestServer_LargeMessage(t *testing.T) {
	host, port := startServer(t, DefaultServer(EchoHandler()))
	cln := dialServer(t, host, port)

	payload := strings.Repeat("x", 70000)
	if err := cln.SendText(payload); err != nil {
		t.Fatal(err)
	}
	if msg := receive(t, cln); msg.Text() != payload {
		t.Errorf("got %d bytes, want %d", len(msg.Payload), len(payload))
	}
}

func TestServer_RefusesInvalidHandshake(t *testing.T) {
	host, port := startServer(t, DefaultServer(EchoHandler()))

	tests := []struct {
		name    string
		request string
		status  specs.StatusCode
	}{
		{
			name:    "missing upgrade",
			request: "GET / HTTP/1.1\r\nHost: localhost\r\n\r\n",
			status:  specs.StatusCodeBadRequest,
		},
		{
			name:    "wrong method",
			request: strings.Replace(upgradeRequestString("13"), "GET", "POST", 1),
			status:  specs.StatusCodeMethodNotAllowed,
		},
		{
			name:    "wrong version",
			request: upgradeRequestString("8"),
			status:  specs.StatusCodeUpgradeRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := rawUpgrade(t, host, port, tt.request)
			if resp.Status != tt.status {
				t.Errorf("status %d, want %d", resp.Status, tt.status)
			}
			if resp.Header.Get("Connection") != "close" {
				t.Errorf("connection header %q", resp.Header.Get("Connection"))
			}
			if tt.status == specs.StatusCodeUpgradeRequired && resp.Header.Get("Sec-WebSocket-Version") != "13" {
				t.Error("426 must advertise the supported version")
			}
		})
	}
}

func TestServer_AcceptsRawUpgrade(t *testing.T) {
	host, port := startServer(t, DefaultServer(EchoHandler()))

	resp := rawUpgrade(t, host, port, upgradeRequestString("13"))
	if resp.Status != specs.StatusCodeSwitchingProtocols {
		t.Fatalf("status %d", resp.Status)
	}
	if got := resp.Header.Get("Sec-WebSocket-Accept"); got != "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=" {
		t.Errorf("accept %q", got)
	}
}

func TestServer_BacklogFull(t *testing.T) {
	srv := DefaultServer(EchoHandler())
	srv.MaxWorkers = 1
	srv.MaxPendingConns = 1
	host, port := startServer(t, srv)

	// the single worker stays busy with an open session
	dialServer(t, host, port)

	address := net.JoinHostPort(host, strconv.Itoa(int(port)))
	waiting, err := net.Dial("tcp4", address)
	if err != nil {
		t.Fatal(err)
	}
	defer waiting.Close()

	resp := rawUpgrade(t, host, port, upgradeRequestString("13"))
	if resp.Status != specs.StatusCodeServiceUnavailable {
		t.Errorf("status %d, want 503", resp.Status)
	}
}

func TestServer_HandshakeLimit(t *testing.T) {
	srv := DefaultServer(EchoHandler())
	srv.MaxHandshakes = 1
	host, port := startServer(t, srv)
	address := net.JoinHostPort(host, strconv.Itoa(int(port)))

	stalled, err := net.Dial("tcp4", address)
	if err != nil {
		t.Fatal(err)
	}
	defer stalled.Close()
	stalled.Write([]byte("GET /chat HTTP/1.1\r\n"))

	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		resp := rawUpgrade(t, host, port, upgradeRequestString("13"))
		if resp.Status == specs.StatusCodeServiceUnavailable {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("expected 503 while another handshake is in progress")
}

func TestServer_Broadcast(t *testing.T) {
	srv := DefaultServer(nil)
	srv.Handler = BroadcastHandler(srv)
	host, port := startServer(t, srv)

	first := dialServer(t, host, port)
	second := dialServer(t, host, port)

	deadline := time.Now().Add(testTimeout)
	for srv.Registry().Len() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("registry holds %d sessions", srv.Registry().Len())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := first.SendText("to all"); err != nil {
		t.Fatal(err)
	}
	for _, cln := range []*Client{first, second} {
		if msg := receive(t, cln); msg.Text() != "to all" {
			t.Errorf("got %q", msg.Payload)
		}
	}

	if sent := srv.Broadcast(ws.OpText, []byte("from server")); sent != 2 {
		t.Errorf("broadcast reached %d sessions", sent)
	}
	for _, cln := range []*Client{first, second} {
		if msg := receive(t, cln); msg.Text() != "from server" {
			t.Errorf("got %q", msg.Payload)
		}
	}
}

func TestServer_ReadTimeout(t *testing.T) {
	handler := newRecordingHandler(EchoHandler())
	srv := DefaultServer(handler)
	srv.ReadTimeout = 100 * time.Millisecond
	host, port := startServer(t, srv)

	cln := dialServer(t, host, port)
	waitDone(t, cln)
	if err := cln.Err(); err != nil {
		t.Errorf("unexpected client error %v", err)
	}
	if err := handler.waitClosed(t); err != nil {
		t.Errorf("read timeout must be a normal closure, got %v", err)
	}
	if srv.Registry().Len() != 0 {
		t.Error("session was not removed from the registry")
	}
}

func TestServer_ProtocolViolation(t *testing.T) {
	handler := newRecordingHandler(EchoHandler())
	host, port := startServer(t, DefaultServer(handler))

	conn, err := net.Dial("tcp4", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(testTimeout))

	conn.Write([]byte(upgradeRequestString("13")))
	if resp := readResponseHead(t, conn); resp.Status != specs.StatusCodeSwitchingProtocols {
		t.Fatalf("status %d", resp.Status)
	}

	// unmasked client frame
	conn.Write(ws.Encode([]byte("hi"), ws.OpText, false))
	if err := handler.waitClosed(t); err == nil || !strings.Contains(err.Error(), "masked") {
		t.Errorf("expected a masking violation, got %v", err)
	}
	if _, err := io.ReadAll(conn); err != nil {
		t.Errorf("transport should be closed cleanly, got %v", err)
	}
}

func TestServer_FilterConn(t *testing.T) {
	srv := DefaultServer(EchoHandler())
	srv.FilterConn = func(addr net.Addr) bool { return false }
	host, port := startServer(t, srv)

	dialer := DefaultDialer()
	dialer.HandshakeTimeout = time.Second
	if _, err := dialer.Dial(host, port, "/"); err == nil {
		t.Error("expected filtered connection to fail")
	}
}

func TestServer_Shutdown(t *testing.T) {
	srv := DefaultServer(EchoHandler())
	host, port := startServer(t, srv)
	cln := dialServer(t, host, port)

	srv.Shutdown()
	waitDone(t, cln)

	if !srv.IsShutdown() {
		t.Error("server should report shutdown")
	}
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	if err = srv.Serve(listener); err != ErrServerShutdown {
		t.Errorf("expected ErrServerShutdown, got %v", err)
	}
}

func TestServer_FramesInUpgradeChunk(t *testing.T) {
	received := make(chan ws.Message, 4)
	handler := newRecordingHandler(HandlerFunc(func(session *Session, msg ws.Message) {
		received <- msg
	}))
	host, port := startServer(t, DefaultServer(handler))

	conn, err := net.Dial("tcp4", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(testTimeout))

	chunk := []byte(upgradeRequestString("13"))
	chunk = append(chunk, ws.Encode([]byte("hello"), ws.OpText, true)...)
	chunk = append(chunk, ws.Encode(nil, ws.OpClose, true)...)
	if _, err = conn.Write(chunk); err != nil {
		t.Fatal(err)
	}
	if resp := readResponseHead(t, conn); resp.Status != specs.StatusCodeSwitchingProtocols {
		t.Fatalf("status %d", resp.Status)
	}

	select {
	case msg := <-received:
		if msg.Text() != "hello" {
			t.Errorf("got %q", msg.Payload)
		}
	case <-time.After(testTimeout):
		t.Fatal("message sent with the upgrade request was not dispatched")
	}
	if err = handler.waitClosed(t); err != nil {
		t.Errorf("close frame must be a normal closure, got %v", err)
	}
}

func TestServer_ShutdownDuringStalledWrite(t *testing.T) {
	srv := DefaultServer(EchoHandler())
	srv.WriteTimeout = 0
	host, port := startServer(t, srv)

	// upgraded peer that never reads
	conn, err := net.Dial("tcp4", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.Write([]byte(upgradeRequestString("13")))

	deadline := time.Now().Add(testTimeout)
	for srv.Registry().Len() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("session was not registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	go srv.Broadcast(ws.OpBinary, make([]byte, 32<<20))
	// let the write fill the socket buffers
	time.Sleep(100 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		srv.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(closeWriteTimeout + testTimeout):
		t.Fatal("shutdown blocked behind a stalled write")
	}
}

func TestServer_GorillaClient(t *testing.T) {
	handler := newRecordingHandler(EchoHandler())
	srv := DefaultServer(handler)
	srv.SelectProtocol = func(protocols []string) string {
		for _, p := range protocols {
			if p == "v1" {
				return p
			}
		}
		return ""
	}
	host, port := startServer(t, srv)

	dialer := websocket.Dialer{
		HandshakeTimeout: testTimeout,
		Subprotocols:     []string{"v2", "v1"},
	}
	url := "ws://" + net.JoinHostPort(host, strconv.Itoa(int(port))) + "/chat"
	conn, resp, err := dialer.Dial(url, nil)
	if err != nil {
		t.Fatal("dial:", err)
	}
	defer conn.Close()

	if resp.Header.Get("Sec-WebSocket-Protocol") != "v1" {
		t.Errorf("selected protocol %q", resp.Header.Get("Sec-WebSocket-Protocol"))
	}

	conn.SetReadDeadline(time.Now().Add(testTimeout))
	for _, payload := range []string{"hello", "", strings.Repeat("y", 300)} {
		if err = conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
			t.Fatal(err)
		}
		kind, got, err := conn.ReadMessage()
		if err != nil {
			t.Fatal(err)
		}
		if kind != websocket.TextMessage || string(got) != payload {
			t.Errorf("got %d %q", kind, got)
		}
	}

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err = conn.WriteMessage(websocket.CloseMessage, closeMsg); err != nil {
		t.Fatal(err)
	}
	if err = handler.waitClosed(t); err != nil {
		t.Errorf("unexpected close error %v", err)
	}
}

func TestServer_Stats(t *testing.T) {
	srv := DefaultServer(EchoHandler())
	host, port := startServer(t, srv)

	cln := dialServer(t, host, port)
	deadline := time.Now().Add(testTimeout)
	for stats := srv.Stats(); stats.Sessions != 1 || stats.Active != 1; stats = srv.Stats() {
		if time.Now().After(deadline) {
			t.Fatalf("unexpected stats %+v", stats)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cln.Close()
	for stats := srv.Stats(); stats.Served != 1 || stats.Active != 0; stats = srv.Stats() {
		if time.Now().After(deadline) {
			t.Fatalf("unexpected stats %+v", stats)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
