package proxy

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
)

const DefaultSocks5Port uint16 = 1080

// DialFunc opens the connection to the proxy itself.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

type Creds struct {
	Username string
	Password string
}

// Proxy is a SOCKS5 proxy endpoint with optional credentials.
type Proxy struct {
	Addr  string
	Creds *Creds
}

// ParseUrl parses "socks5://[user[:password]@]host[:port]".
func ParseUrl(raw string) (*Proxy, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "socks5" && u.Scheme != "socks5h" {
		return nil, fmt.Errorf("socks5: unsupported proxy scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("socks5: empty proxy host")
	}

	port := u.Port()
	if port == "" {
		port = strconv.FormatUint(uint64(DefaultSocks5Port), 10)
	}

	proxy := &Proxy{Addr: net.JoinHostPort(u.Hostname(), port)}
	if u.User != nil {
		password, _ := u.User.Password()
		proxy.Creds = &Creds{
			Username: u.User.Username(),
			Password: password,
		}
	}
	return proxy, nil
}

type ResolvedAddr struct {
	Net    string
	Domain string
	IP     net.IP
	Port   int
}

func (a *ResolvedAddr) Network() string { return a.Net }

func (a *ResolvedAddr) String() string {
	if a == nil {
		return "<nil>"
	}
	port := strconv.Itoa(a.Port)
	if a.IP == nil {
		return a.Domain + ":" + port
	}
	return a.IP.String() + ":" + port
}
