package parsing

import (
	"fmt"
	"strings"

	"github.com/oesand/wsline/specs"
)

// Request is the request line and header fields of an HTTP request head.
type Request struct {
	Method   specs.HttpMethod
	Resource string
	Protocol string
	Header   *specs.Header
}

// ParseRequest parses a request head such as
//
//	GET /chat HTTP/1.1
//	Host: server.example.com
//
// The request line must split into exactly 3 space separated tokens.
// Method and protocol values are not checked here.
func ParseRequest(raw []byte) (*Request, error) {
	lines, err := splitHeadLines(raw)
	if err != nil {
		return nil, err
	}

	tokens := strings.Split(lines[0], " ")
	if len(tokens) != 3 {
		return nil, fmt.Errorf("%w: invalid request line %q", specs.ErrMalformedRequest, lines[0])
	}

	header, err := parseHeaderLines(lines[1:])
	if err != nil {
		return nil, err
	}

	return &Request{
		Method:   specs.HttpMethod(tokens[0]),
		Resource: tokens[1],
		Protocol: tokens[2],
		Header:   header,
	}, nil
}
