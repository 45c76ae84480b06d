package ws

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/oesand/wsline/internal/parsing"
	"github.com/oesand/wsline/specs"
)

const sampleKey = "dGhlIHNhbXBsZSBub25jZQ=="
const sampleAccept = "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="

func upgradeRequest(headers ...string) []byte {
	return []byte("GET /chat HTTP/1.1\r\n" + strings.Join(headers, "\r\n") + "\r\n\r\n")
}

var validHeaders = []string{
	"Host: server.example.com",
	"Upgrade: websocket",
	"Connection: Upgrade",
	"Sec-WebSocket-Key: " + sampleKey,
	"Sec-WebSocket-Version: 13",
}

func replaceHeader(name, line string) []string {
	var out []string
	for _, h := range validHeaders {
		if strings.HasPrefix(h, name+":") {
			if line != "" {
				out = append(out, line)
			}
			continue
		}
		out = append(out, h)
	}
	return out
}

func TestValidateRequest_Accept(t *testing.T) {
	hs, err := ValidateRequest(upgradeRequest(validHeaders...), nil)
	if err != nil {
		t.Fatal(err)
	}
	if hs.AcceptKey != sampleAccept {
		t.Errorf("accept key %q, want %q", hs.AcceptKey, sampleAccept)
	}
	if hs.Resource != "/chat" || hs.Key != sampleKey {
		t.Errorf("unexpected handshake %+v", hs)
	}
	if hs.SelectedProtocol != "" {
		t.Errorf("no protocol offered, selected %q", hs.SelectedProtocol)
	}
}

func TestValidateRequest_CaseInsensitive(t *testing.T) {
	raw := upgradeRequest(
		"upgrade: WebSocket",
		"CONNECTION: keep-alive, Upgrade",
		"sec-websocket-key: "+sampleKey,
		"SEC-WEBSOCKET-VERSION: 13",
	)
	hs, err := ValidateRequest(raw, nil)
	if err != nil {
		t.Fatal(err)
	}
	if hs.AcceptKey != sampleAccept {
		t.Errorf("accept key %q", hs.AcceptKey)
	}
}

func TestValidateRequest_Reject(t *testing.T) {
	shortKey := base64.StdEncoding.EncodeToString([]byte("short"))

	tests := []struct {
		name       string
		raw        []byte
		wantStatus specs.StatusCode
		wantErr    error
	}{
		{
			name:       "Malformed request line",
			raw:        []byte("GET /chat\r\n\r\n"),
			wantStatus: specs.StatusCodeBadRequest,
			wantErr:    specs.ErrMalformedRequest,
		},
		{
			name:       "Malformed header",
			raw:        upgradeRequest("Upgrade websocket"),
			wantStatus: specs.StatusCodeBadRequest,
			wantErr:    specs.ErrMalformedRequest,
		},
		{
			name:       "Method",
			raw:        []byte("POST /chat HTTP/1.1\r\n" + strings.Join(validHeaders, "\r\n") + "\r\n\r\n"),
			wantStatus: specs.StatusCodeMethodNotAllowed,
			wantErr:    specs.ErrHandshakeRejected,
		},
		{
			name:       "Protocol",
			raw:        []byte("GET /chat HTTP/1.0\r\n" + strings.Join(validHeaders, "\r\n") + "\r\n\r\n"),
			wantStatus: specs.StatusCodeHTTPVersionNotSupported,
			wantErr:    specs.ErrHandshakeRejected,
		},
		{
			name:       "Upgrade absent",
			raw:        upgradeRequest(replaceHeader("Upgrade", "")...),
			wantStatus: specs.StatusCodeBadRequest,
			wantErr:    specs.ErrHandshakeRejected,
		},
		{
			name:       "Upgrade wrong",
			raw:        upgradeRequest(replaceHeader("Upgrade", "Upgrade: h2c")...),
			wantStatus: specs.StatusCodeBadRequest,
			wantErr:    specs.ErrHandshakeRejected,
		},
		{
			name:       "Connection without upgrade",
			raw:        upgradeRequest(replaceHeader("Connection", "Connection: keep-alive")...),
			wantStatus: specs.StatusCodeBadRequest,
			wantErr:    specs.ErrHandshakeRejected,
		},
		{
			name:       "Key absent",
			raw:        upgradeRequest(replaceHeader("Sec-WebSocket-Key", "")...),
			wantStatus: specs.StatusCodeBadRequest,
			wantErr:    specs.ErrHandshakeRejected,
		},
		{
			name:       "Key too short",
			raw:        upgradeRequest(replaceHeader("Sec-WebSocket-Key", "Sec-WebSocket-Key: "+shortKey)...),
			wantStatus: specs.StatusCodeBadRequest,
			wantErr:    specs.ErrHandshakeRejected,
		},
		{
			name:       "Key not base64",
			raw:        upgradeRequest(replaceHeader("Sec-WebSocket-Key", "Sec-WebSocket-Key: not*base64")...),
			wantStatus: specs.StatusCodeBadRequest,
			wantErr:    specs.ErrHandshakeRejected,
		},
		{
			name:       "Version 8",
			raw:        upgradeRequest(replaceHeader("Sec-WebSocket-Version", "Sec-WebSocket-Version: 8")...),
			wantStatus: specs.StatusCodeUpgradeRequired,
			wantErr:    specs.ErrHandshakeRejected,
		},
		{
			name:       "Upgrade checked before version",
			raw:        upgradeRequest("Connection: Upgrade", "Sec-WebSocket-Version: 8"),
			wantStatus: specs.StatusCodeBadRequest,
			wantErr:    specs.ErrHandshakeRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateRequest(tt.raw, nil)
			var rejectErr *RejectError
			if !errors.As(err, &rejectErr) {
				t.Fatalf("expected *RejectError, got %v", err)
			}
			if rejectErr.Status != tt.wantStatus {
				t.Errorf("status %d, want %d", rejectErr.Status, tt.wantStatus)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error %v does not match %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateRequest_Protocols(t *testing.T) {
	raw := upgradeRequest(append(validHeaders, "Sec-WebSocket-Protocol: chat, superchat")...)

	hs, err := ValidateRequest(raw, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hs.Protocols) != 2 || hs.SelectedProtocol != "chat" {
		t.Errorf("protocols %v selected %q", hs.Protocols, hs.SelectedProtocol)
	}

	hs, err = ValidateRequest(raw, func(protocols []string) string { return protocols[1] })
	if err != nil {
		t.Fatal(err)
	}
	if hs.SelectedProtocol != "superchat" {
		t.Errorf("selected %q, want superchat", hs.SelectedProtocol)
	}
	if !strings.Contains(string(AcceptResponse(hs)), "Sec-WebSocket-Protocol: superchat\r\n") {
		t.Error("accept response does not echo the selected protocol")
	}
}

func TestAcceptResponse(t *testing.T) {
	hs, err := ValidateRequest(upgradeRequest(validHeaders...), nil)
	if err != nil {
		t.Fatal(err)
	}
	raw := AcceptResponse(hs)

	want := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + sampleAccept + "\r\n\r\n"
	if string(raw) != want {
		t.Fatalf("got %q, want %q", raw, want)
	}

	if _, err = ValidateResponse(raw, sampleKey); err != nil {
		t.Fatalf("own accept response does not validate: %v", err)
	}
}

func TestRefusalResponse(t *testing.T) {
	_, err := ValidateRequest(upgradeRequest(replaceHeader("Sec-WebSocket-Version", "Sec-WebSocket-Version: 8")...), nil)
	raw := RefusalResponse(err)

	head := parsing.HeadLength(raw)
	if head < 0 {
		t.Fatalf("refusal is not a complete HTTP head: %q", raw)
	}
	resp, perr := parsing.ParseResponse(raw[:head])
	if perr != nil {
		t.Fatal(perr)
	}
	if resp.Status != specs.StatusCodeUpgradeRequired {
		t.Errorf("status %d", resp.Status)
	}
	if resp.Header.Get("Connection") != "close" {
		t.Error("refusal must close the connection")
	}
	if resp.Header.Get("Sec-WebSocket-Version") != "13" {
		t.Error("426 refusal must advertise the supported version")
	}
	body := raw[head:]
	if resp.Header.Get("Content-Length") != strconv.Itoa(len(body)) {
		t.Errorf("content length %q for body %q", resp.Header.Get("Content-Length"), body)
	}

	generic := RefusalResponse(errors.New("boom"))
	if !strings.HasPrefix(string(generic), "HTTP/1.1 400 Bad Request\r\n") {
		t.Errorf("unexpected generic refusal %q", generic)
	}
}

func TestHandshakeRequest(t *testing.T) {
	raw := HandshakeRequest("example.com:9000", "/chat", sampleKey, RequestConf{
		Origin:    "http://example.com",
		Protocols: []string{"chat", "superchat"},
	})

	hs, err := ValidateRequest(raw, nil)
	if err != nil {
		t.Fatalf("client request does not validate: %v", err)
	}
	if hs.Header.Get("Host") != "example.com:9000" || hs.Header.Get("Origin") != "http://example.com" {
		t.Errorf("unexpected headers in %q", raw)
	}
	if hs.SelectedProtocol != "chat" {
		t.Errorf("selected %q", hs.SelectedProtocol)
	}

	raw = HandshakeRequest("example.com", "", NewChallengeKey(), RequestConf{})
	if !strings.HasPrefix(string(raw), "GET / HTTP/1.1\r\n") {
		t.Errorf("empty resource must default to /: %q", raw)
	}
}

func TestNewChallengeKey(t *testing.T) {
	key := NewChallengeKey()
	decoded, err := base64.StdEncoding.DecodeString(key)
	if err != nil || len(decoded) != 16 {
		t.Fatalf("key %q decodes to %d bytes (%v)", key, len(decoded), err)
	}
	if NewChallengeKey() == key {
		t.Error("challenge keys must be random")
	}
}

func TestValidateResponse(t *testing.T) {
	ok := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + sampleAccept + "\r\n\r\n"

	tests := []struct {
		name    string
		raw     string
		key     string
		wantErr bool
	}{
		{name: "Accepted", raw: ok, key: sampleKey},
		{name: "Accepted without key check", raw: ok},
		{name: "Wrong accept value", raw: ok, key: NewChallengeKey(), wantErr: true},
		{name: "Empty", raw: "", wantErr: true},
		{name: "Whitespace", raw: "\r\n\r\n", wantErr: true},
		{name: "Refused", raw: "HTTP/1.1 400 Bad Request\r\nConnection: close\r\n\r\n", wantErr: true},
		{name: "Wrong reason", raw: "HTTP/1.1 101 OK\r\nSec-WebSocket-Accept: " + sampleAccept + "\r\n\r\n", wantErr: true},
		{name: "Missing accept", raw: "HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\n\r\n", wantErr: true},
		{name: "Garbage", raw: "garbage\r\n\r\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateResponse([]byte(tt.raw), tt.key)
			if tt.wantErr {
				if !errors.Is(err, specs.ErrHandshakeRejected) {
					t.Fatalf("expected ErrHandshakeRejected, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
		})
	}
}
