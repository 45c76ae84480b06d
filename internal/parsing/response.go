package parsing

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/oesand/wsline/specs"
)

// Response is the status line and header fields of an HTTP response head.
type Response struct {
	Protocol   string
	Status     specs.StatusCode
	Reason     string
	StatusLine string
	Header     *specs.Header
}

// ParseResponse parses a response head such as
//
//	HTTP/1.1 101 Switching Protocols
//	Upgrade: websocket
func ParseResponse(raw []byte) (*Response, error) {
	lines, err := splitHeadLines(raw)
	if err != nil {
		return nil, err
	}

	statusLine := lines[0]
	tokens := strings.SplitN(statusLine, " ", 3)
	if len(tokens) < 2 || !strings.HasPrefix(tokens[0], "HTTP/") {
		return nil, fmt.Errorf("%w: invalid status line %q", specs.ErrMalformedRequest, statusLine)
	}

	code, err := strconv.ParseUint(tokens[1], 10, 16)
	if err != nil || !specs.StatusCode(code).IsValid() {
		return nil, fmt.Errorf("%w: invalid status code %q", specs.ErrMalformedRequest, tokens[1])
	}

	header, err := parseHeaderLines(lines[1:])
	if err != nil {
		return nil, err
	}

	resp := &Response{
		Protocol:   tokens[0],
		Status:     specs.StatusCode(code),
		StatusLine: statusLine,
		Header:     header,
	}
	if len(tokens) == 3 {
		resp.Reason = tokens[2]
	}
	return resp, nil
}
