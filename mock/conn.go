package mock

import (
	"net"

	"github.com/oesand/wsline/internal/proxy"
)

// DefaultConn creates a new ConnBuilder with a loopback peer on port 8080.
func DefaultConn() *ConnBuilder {
	return &ConnBuilder{
		localAddr: &net.TCPAddr{
			IP:   net.IPv4(127, 0, 0, 1),
			Port: 443,
		},
		remoteAddr: &net.TCPAddr{
			IP:   net.IPv4(127, 0, 0, 1),
			Port: 8080,
		},
	}
}

// ConnBuilder is used to build in-memory connections with customizable addresses.
type ConnBuilder struct {
	localAddr  net.Addr
	remoteAddr net.Addr
}

// Addr sets the remote address reported by the local end.
func (b *ConnBuilder) Addr(network, domain string, port int) *ConnBuilder {
	b.remoteAddr = &proxy.ResolvedAddr{
		Net:    network,
		Domain: domain,
		Port:   port,
	}
	return b
}

// RemoteIP sets the remote address to ip:port over tcp.
func (b *ConnBuilder) RemoteIP(ip net.IP, port int) *ConnBuilder {
	b.remoteAddr = &net.TCPAddr{IP: ip, Port: port}
	return b
}

// LocalAddr sets the local address reported by the local end.
func (b *ConnBuilder) LocalAddr(addr net.Addr) *ConnBuilder {
	b.localAddr = addr
	return b
}

// Pipe returns both ends of a synchronous in-memory connection.
// local reports the configured addresses, peer reports them swapped.
func (b *ConnBuilder) Pipe() (local, peer net.Conn) {
	a, c := net.Pipe()
	local = &Conn{Conn: a, local: b.localAddr, remote: b.remoteAddr}
	peer = &Conn{Conn: c, local: b.remoteAddr, remote: b.localAddr}
	return
}

// Conn is a [net.Conn] with overridden addresses.
type Conn struct {
	net.Conn
	local, remote net.Addr
}

func (c *Conn) LocalAddr() net.Addr {
	if c.local != nil {
		return c.local
	}
	return c.Conn.LocalAddr()
}

func (c *Conn) RemoteAddr() net.Addr {
	if c.remote != nil {
		return c.remote
	}
	return c.Conn.RemoteAddr()
}
