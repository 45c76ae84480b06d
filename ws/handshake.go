package ws

import (
	"bytes"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/oesand/wsline/internal/parsing"
	"github.com/oesand/wsline/specs"
)

// Handshake is a validated upgrade request.
type Handshake struct {
	Method   specs.HttpMethod
	Resource string
	Protocol string
	Header   *specs.Header

	// Key is Sec-WebSocket-Key as received, AcceptKey the value answered with.
	Key       string
	AcceptKey string

	// Protocols lists the offered subprotocols in order.
	Protocols        []string
	SelectedProtocol string
}

// RejectError describes why an upgrade request was refused and which
// status the refusal response carries.
type RejectError struct {
	Status specs.StatusCode
	Reason string
	Err    error
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err, e.Reason)
}

func (e *RejectError) Unwrap() error {
	return e.Err
}

func reject(status specs.StatusCode, reason string) *RejectError {
	return &RejectError{Status: status, Reason: reason, Err: specs.ErrHandshakeRejected}
}

// ComputeAcceptKey derives Sec-WebSocket-Accept from the key string as sent by the client.
func ComputeAcceptKey(challengeKey string) string {
	h := sha1.New() // (CWE-326) -- https://datatracker.ietf.org/doc/html/rfc6455#page-54
	h.Write([]byte(challengeKey))
	h.Write([]byte(acceptGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// NewChallengeKey returns a random base64 encoded 16 byte nonce.
func NewChallengeKey() string {
	key := make([]byte, challengeKeySize)
	rand.Read(key)
	return base64.StdEncoding.EncodeToString(key)
}

// ValidateRequest checks a complete request head and returns the accepted
// handshake. The first failing check wins:
//
//  1. the head parses (request line of 3 tokens, "Name: value" headers)
//  2. method is GET and protocol HTTP/1.1
//  3. Upgrade is websocket
//  4. Connection contains upgrade
//  5. Sec-WebSocket-Key decodes to 16 bytes
//  6. Sec-WebSocket-Version is 13
//
// Failures are *RejectError values. selectProtocol picks the subprotocol
// among those offered; nil selects the first one.
func ValidateRequest(raw []byte, selectProtocol func([]string) string) (*Handshake, error) {
	req, err := parsing.ParseRequest(raw)
	if err != nil {
		return nil, &RejectError{
			Status: specs.StatusCodeBadRequest,
			Reason: "malformed upgrade request",
			Err:    err,
		}
	}

	if req.Method != specs.HttpMethodGet {
		return nil, reject(specs.StatusCodeMethodNotAllowed, "upgrading requires request method GET")
	}
	if req.Protocol != specs.HttpVersion11 {
		return nil, reject(specs.StatusCodeHTTPVersionNotSupported, "upgrading requires HTTP/1.1")
	}

	header := req.Header
	if !strings.EqualFold(strings.TrimSpace(header.Get("Upgrade")), "websocket") {
		return nil, reject(specs.StatusCodeBadRequest, "'websocket' token not found in 'Upgrade' header")
	}
	if !strings.Contains(strings.ToLower(header.Get("Connection")), "upgrade") {
		return nil, reject(specs.StatusCodeBadRequest, "'upgrade' token not found in 'Connection' header")
	}

	key := strings.TrimSpace(header.Get("Sec-WebSocket-Key"))
	if decoded, err := base64.StdEncoding.DecodeString(key); key == "" || err != nil || len(decoded) != challengeKeySize {
		return nil, reject(specs.StatusCodeBadRequest, "'Sec-WebSocket-Key' must be base64 of 16 bytes")
	}

	if strings.TrimSpace(header.Get("Sec-WebSocket-Version")) != SupportedVersion {
		return nil, reject(specs.StatusCodeUpgradeRequired, "supports only websocket version 13")
	}

	hs := &Handshake{
		Method:    req.Method,
		Resource:  req.Resource,
		Protocol:  req.Protocol,
		Header:    header,
		Key:       key,
		AcceptKey: ComputeAcceptKey(key),
		Protocols: splitProtocols(header.Get("Sec-WebSocket-Protocol")),
	}
	if len(hs.Protocols) > 0 {
		if selectProtocol != nil {
			hs.SelectedProtocol = selectProtocol(hs.Protocols)
		} else {
			hs.SelectedProtocol = hs.Protocols[0]
		}
	}
	return hs, nil
}

func splitProtocols(value string) []string {
	var protocols []string
	for _, p := range strings.Split(value, ",") {
		if p = strings.TrimSpace(p); p != "" {
			protocols = append(protocols, p)
		}
	}
	return protocols
}

// AcceptResponse renders the 101 response completing hs.
func AcceptResponse(hs *Handshake) []byte {
	header := specs.NewHeader(func(header *specs.Header) {
		header.Set("Upgrade", "websocket")
		header.Set("Connection", "Upgrade")
		header.Set("Sec-WebSocket-Accept", hs.AcceptKey)
		if hs.SelectedProtocol != "" {
			header.Set("Sec-WebSocket-Protocol", hs.SelectedProtocol)
		}
	})
	return writeHead(specs.StatusCodeSwitchingProtocols, header, nil)
}

// RefusalResponse renders a complete HTTP error response for a failed upgrade.
// A *RejectError supplies status and reason; anything else becomes 400.
func RefusalResponse(err error) []byte {
	status := specs.StatusCodeBadRequest
	reason := "websocket handshake failed"

	var rejectErr *RejectError
	if errors.As(err, &rejectErr) {
		status = rejectErr.Status
		reason = rejectErr.Reason
	} else if err != nil {
		reason = err.Error()
	}
	body := []byte("websocket: " + reason + "\n")

	header := specs.NewHeader(func(header *specs.Header) {
		header.Set("Connection", "close")
		header.Set("Content-Type", "text/plain; charset=utf-8")
		header.Set("Content-Length", strconv.Itoa(len(body)))
		if status == specs.StatusCodeUpgradeRequired {
			header.Set("Sec-WebSocket-Version", SupportedVersion)
		}
	})
	return writeHead(status, header, body)
}

func writeHead(status specs.StatusCode, header *specs.Header, body []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(specs.HttpVersion11)
	buf.WriteByte(' ')
	buf.Write(status.Formatted())
	buf.WriteString("\r\n")
	buf.Write(header.Bytes())
	buf.WriteString("\r\n")
	buf.Write(body)
	return buf.Bytes()
}

// RequestConf holds the optional parts of a client upgrade request.
type RequestConf struct {
	Origin    string
	Protocols []string
}

// HandshakeRequest renders the client upgrade request.
func HandshakeRequest(host, resource, key string, conf RequestConf) []byte {
	if resource == "" {
		resource = "/"
	}
	header := specs.NewHeader(func(header *specs.Header) {
		header.Set("Host", host)
		header.Set("Upgrade", "websocket")
		header.Set("Connection", "Upgrade")
		header.Set("Sec-WebSocket-Key", key)
		header.Set("Sec-WebSocket-Version", SupportedVersion)
		if conf.Origin != "" {
			header.Set("Origin", conf.Origin)
		}
		if len(conf.Protocols) > 0 {
			header.Set("Sec-WebSocket-Protocol", strings.Join(conf.Protocols, ", "))
		}
	})

	var buf bytes.Buffer
	buf.WriteString(string(specs.HttpMethodGet))
	buf.WriteByte(' ')
	buf.WriteString(resource)
	buf.WriteByte(' ')
	buf.WriteString(specs.HttpVersion11)
	buf.WriteString("\r\n")
	buf.Write(header.Bytes())
	buf.WriteString("\r\n")
	return buf.Bytes()
}

// ValidateResponse checks the server answer to an upgrade request. The status
// line must carry 101 Switching Protocols and Sec-WebSocket-Accept must be set.
// When challengeKey is not empty the accept value must also match it.
func ValidateResponse(raw []byte, challengeKey string) (*parsing.Response, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: empty response", specs.ErrHandshakeRejected)
	}
	resp, err := parsing.ParseResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", specs.ErrHandshakeRejected, err)
	}

	if resp.Status != specs.StatusCodeSwitchingProtocols || !strings.Contains(resp.StatusLine, "Switching Protocols") {
		return nil, fmt.Errorf("%w: unexpected status %q", specs.ErrHandshakeRejected, resp.StatusLine)
	}

	accept, ok := resp.Header.TryGet("Sec-WebSocket-Accept")
	if !ok {
		return nil, fmt.Errorf("%w: missing Sec-WebSocket-Accept", specs.ErrHandshakeRejected)
	}
	if challengeKey != "" && strings.TrimSpace(accept) != ComputeAcceptKey(challengeKey) {
		return nil, fmt.Errorf("%w: Sec-WebSocket-Accept does not match the challenge", specs.ErrHandshakeRejected)
	}
	return resp, nil
}
