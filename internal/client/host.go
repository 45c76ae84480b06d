package client

import (
	"net"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/net/http/httpguts"
	"golang.org/x/net/idna"
)

// HostPort concat host and port.
// host must be idna formatted
func HostPort(host string, port uint16) string {
	return net.JoinHostPort(host, strconv.FormatUint(uint64(port), 10))
}

// IdnaHost converts an internationalised host name to its ASCII form.
// Hosts that fail conversion are returned as is.
func IdnaHost(host string) string {
	if !isAscii(host) {
		if v, err := idna.Lookup.ToASCII(host); err == nil {
			host = v
		}
	}
	return host
}

func isAscii(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// HostHeader compute valid host header.
// host must be idna formatted
func HostHeader(host string, port uint16, isProxy bool) string {
	host = removeIPv6Zone(host)
	if !isProxy && (port == 80 || port == 443) {
		if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
			return "[" + host + "]"
		}
		return host
	}
	return HostPort(strings.Trim(host, "[]"), port)
}

// ValidHost reports whether host is usable as a Host header value.
func ValidHost(host string) bool {
	return host != "" && httpguts.ValidHostHeader(host)
}

func removeIPv6Zone(host string) string {
	if !strings.Contains(host, ":") {
		return host
	}
	i := strings.LastIndex(host, "%")
	if i < 0 {
		return host
	}
	if strings.HasPrefix(host, "[") {
		return host[:i] + "]"
	}
	return host[:i]
}
