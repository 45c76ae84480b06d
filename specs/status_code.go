package specs

import "strconv"

// StatusCode is an HTTP status, used by handshake responses only.
type StatusCode uint16

const (
	StatusCodeUndefined StatusCode = 0

	StatusCodeSwitchingProtocols StatusCode = 101

	StatusCodeBadRequest                  StatusCode = 400
	StatusCodeForbidden                   StatusCode = 403
	StatusCodeMethodNotAllowed            StatusCode = 405
	StatusCodeUpgradeRequired             StatusCode = 426
	StatusCodeRequestHeaderFieldsTooLarge StatusCode = 431

	StatusCodeInternalServerError     StatusCode = 500
	StatusCodeServiceUnavailable      StatusCode = 503
	StatusCodeHTTPVersionNotSupported StatusCode = 505
)

var statusText = map[StatusCode]string{
	StatusCodeSwitchingProtocols:          "Switching Protocols",
	StatusCodeBadRequest:                  "Bad Request",
	StatusCodeForbidden:                   "Forbidden",
	StatusCodeMethodNotAllowed:            "Method Not Allowed",
	StatusCodeUpgradeRequired:             "Upgrade Required",
	StatusCodeRequestHeaderFieldsTooLarge: "Request Header Fields Too Large",
	StatusCodeInternalServerError:         "Internal Server Error",
	StatusCodeServiceUnavailable:          "Service Unavailable",
	StatusCodeHTTPVersionNotSupported:     "HTTP Version Not Supported",
}

// IsValid reports whether status is in the 1xx-5xx range.
func (status StatusCode) IsValid() bool {
	return 100 <= status && status < 600
}

// Formatted renders the status line tail, "101 Switching Protocols".
func (status StatusCode) Formatted() []byte {
	buf := strconv.AppendUint(nil, uint64(status), 10)
	buf = append(buf, ' ')
	return append(buf, status.Detail()...)
}

// Detail is the reason phrase, empty for codes without one.
func (status StatusCode) Detail() string {
	return statusText[status]
}
