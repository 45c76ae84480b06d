package proxy

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// RFC 1928 and RFC 1929 constants.
const (
	socksVersion5   byte = 0x05
	socksCmdConnect byte = 0x01

	socksNoAuthFlag      byte = 0x00
	socksAuthByCredsFlag byte = 0x02

	socksAuthCredsVersion byte = 0x01
	socksSucceeded        byte = 0x00

	socksAddrTypeIPv4 byte = 0x01
	socksAddrTypeFQDN byte = 0x03
	socksAddrTypeIPv6 byte = 0x04
)

var (
	errNoAcceptableAuth = errors.New("socks5: no acceptable authentication methods")
	errAuthFailed       = errors.New("socks5: username/password authentication failed")
	errInvalidCreds     = errors.New("socks5: invalid username/password")
)

var socksReplyErrors = [...]string{
	0x01: "general SOCKS server failure",
	0x02: "connection not allowed by ruleset",
	0x03: "network unreachable",
	0x04: "host unreachable",
	0x05: "connection refused",
	0x06: "TTL expired",
	0x07: "command not supported",
	0x08: "address type not supported",
}

// Dial connects to the SOCKS5 proxy and asks it to CONNECT to host:port.
// The returned connection is tunnelled to the target.
func (proxy *Proxy) Dial(ctx context.Context, dial DialFunc, host string, port uint16) (net.Conn, error) {
	conn, err := dial(ctx, "tcp", proxy.Addr)
	if err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if _, err = DialSocks5(conn, host, port, proxy.Creds); err != nil {
		conn.Close()
		return nil, err
	}

	conn.SetDeadline(time.Time{})
	return conn, nil
}

// DialSocks5 runs the method negotiation and the CONNECT exchange over conn
// and returns the address the proxy bound for the tunnel.
func DialSocks5(conn net.Conn, host string, port uint16, creds *Creds) (net.Addr, error) {
	if creds != nil && (len(creds.Username) == 0 || len(creds.Username) > 255 || len(creds.Password) > 255) {
		return nil, errInvalidCreds
	}
	if err := socksAuthenticate(conn, creds); err != nil {
		return nil, err
	}

	request, err := appendSocksAddr([]byte{socksVersion5, socksCmdConnect, 0}, host)
	if err != nil {
		return nil, err
	}
	request = binary.BigEndian.AppendUint16(request, port)
	if _, err = conn.Write(request); err != nil {
		return nil, err
	}

	var reply [4]byte
	if _, err = io.ReadFull(conn, reply[:]); err != nil {
		return nil, err
	}
	if reply[0] != socksVersion5 {
		return nil, fmt.Errorf("socks5: unexpected protocol version %d", int(reply[0]))
	}
	if reply[1] != socksSucceeded {
		return nil, fmt.Errorf("socks5: reply error: %s", socksReplyError(reply[1]))
	}
	if reply[2] != 0 {
		return nil, errors.New("socks5: non-zero reserved field")
	}
	return readSocksAddr(conn, reply[3])
}

func socksAuthenticate(conn net.Conn, creds *Creds) error {
	greeting := []byte{socksVersion5, 1, socksNoAuthFlag}
	if creds != nil {
		greeting = []byte{socksVersion5, 2, socksNoAuthFlag, socksAuthByCredsFlag}
	}
	if _, err := conn.Write(greeting); err != nil {
		return err
	}

	var choice [2]byte
	if _, err := io.ReadFull(conn, choice[:]); err != nil {
		return err
	}
	if choice[0] != socksVersion5 {
		return fmt.Errorf("socks5: unexpected protocol version: %d", int(choice[0]))
	}

	switch choice[1] {
	case socksNoAuthFlag:
		return nil
	case socksAuthByCredsFlag:
		if creds == nil {
			return errors.New("socks5: authentication required")
		}
	default:
		return errNoAcceptableAuth
	}

	auth := make([]byte, 0, 3+len(creds.Username)+len(creds.Password))
	auth = append(auth, socksAuthCredsVersion, byte(len(creds.Username)))
	auth = append(auth, creds.Username...)
	auth = append(auth, byte(len(creds.Password)))
	auth = append(auth, creds.Password...)
	if _, err := conn.Write(auth); err != nil {
		return err
	}

	var status [2]byte
	if _, err := io.ReadFull(conn, status[:]); err != nil {
		return err
	}
	if status[0] != socksAuthCredsVersion {
		return errors.New("socks5: invalid username/password version")
	}
	if status[1] != socksSucceeded {
		return errAuthFailed
	}
	return nil
}

// appendSocksAddr encodes host as an IPv4, IPv6 or domain name address.
// Domain names are resolved by the proxy.
func appendSocksAddr(buf []byte, host string) ([]byte, error) {
	if ip := net.ParseIP(host); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			return append(append(buf, socksAddrTypeIPv4), ip4...), nil
		}
		return append(append(buf, socksAddrTypeIPv6), ip.To16()...), nil
	}
	if len(host) == 0 || len(host) > 255 {
		return nil, fmt.Errorf("socks5: invalid domain name length %d", len(host))
	}
	buf = append(buf, socksAddrTypeFQDN, byte(len(host)))
	return append(buf, host...), nil
}

func readSocksAddr(conn net.Conn, addrType byte) (net.Addr, error) {
	addr := &ResolvedAddr{Net: "socks"}

	var size int
	switch addrType {
	case socksAddrTypeIPv4:
		size = net.IPv4len
	case socksAddrTypeIPv6:
		size = net.IPv6len
	case socksAddrTypeFQDN:
		var length [1]byte
		if _, err := io.ReadFull(conn, length[:]); err != nil {
			return nil, err
		}
		size = int(length[0])
	default:
		return nil, fmt.Errorf("socks5: unknown address type %d", int(addrType))
	}

	buf := make([]byte, size+2)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, err
	}
	if addrType == socksAddrTypeFQDN {
		addr.Domain = string(buf[:size])
	} else {
		addr.IP = net.IP(buf[:size])
	}
	addr.Port = int(binary.BigEndian.Uint16(buf[size:]))
	return addr, nil
}

func socksReplyError(code byte) string {
	if int(code) < len(socksReplyErrors) && socksReplyErrors[code] != "" {
		return socksReplyErrors[code]
	}
	return fmt.Sprintf("unknown code: %d", int(code))
}
