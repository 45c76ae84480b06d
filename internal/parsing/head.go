package parsing

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/oesand/wsline/internal"
	"github.com/oesand/wsline/specs"
	"golang.org/x/net/http/httpguts"
)

var (
	crlfTerminator = []byte("\r\n\r\n")
	lfTerminator   = []byte("\n\n")
	headerSep      = ": "
)

// HeadLength returns the length of the message head in raw including
// the terminating blank line, or -1 when the head is not complete yet.
func HeadLength(raw []byte) int {
	end := -1
	if i := bytes.Index(raw, crlfTerminator); i >= 0 {
		end = i + len(crlfTerminator)
	}
	if i := bytes.Index(raw, lfTerminator); i >= 0 && (end < 0 || i+len(lfTerminator) < end) {
		end = i + len(lfTerminator)
	}
	return end
}

// splitHeadLines decodes raw as utf-8 text and returns its non blank lines,
// each trimmed of surrounding whitespace.
func splitHeadLines(raw []byte) ([]string, error) {
	if !utf8.Valid(raw) {
		return nil, fmt.Errorf("%w: not utf-8 text", specs.ErrMalformedRequest)
	}

	var lines []string
	for _, line := range strings.Split(internal.BufferToString(raw), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, strings.Clone(line))
		}
	}

	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: empty message", specs.ErrMalformedRequest)
	}
	return lines, nil
}

// parseHeaderLines builds a header from "Name: value" lines. Each line must hold
// exactly one ": " separator, duplicated names keep the last value.
func parseHeaderLines(lines []string) (*specs.Header, error) {
	header := specs.NewHeader()
	for _, line := range lines {
		if strings.Count(line, headerSep) != 1 {
			return nil, fmt.Errorf("%w: invalid header line %q", specs.ErrMalformedRequest, line)
		}

		name, value, _ := strings.Cut(line, headerSep)
		if !httpguts.ValidHeaderFieldName(name) {
			return nil, fmt.Errorf("%w: invalid header name %q", specs.ErrMalformedRequest, name)
		}
		if !httpguts.ValidHeaderFieldValue(value) {
			return nil, fmt.Errorf("%w: invalid value of header %q", specs.ErrMalformedRequest, name)
		}

		header.Set(name, value)
	}
	return header, nil
}
