package gateway

import (
	"encoding/base64"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Proxy is a parsed HTTP proxy descriptor.
type Proxy struct {
	Host string
	Port int
	// Auth is the complete Proxy-Authorization value, or empty.
	Auth string
}

// Addr returns host:port.
func (p *Proxy) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// ParseProxy parses a proxy string. Accepted forms, each with an optional
// scheme:// prefix:
//
//	host:port
//	user:pass@host:port
//	host:port:user:pass
//
// An empty string yields a nil Proxy.
func ParseProxy(s string) (*Proxy, error) {
	if s == "" {
		return nil, nil
	}

	rest := s
	if i := strings.LastIndex(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	var creds string
	if i := strings.LastIndex(rest, "@"); i >= 0 {
		creds, rest = rest[:i], rest[i+1:]
	}

	fields := strings.SplitN(rest, ":", 3)
	if len(fields) == 3 {
		creds = fields[2]
	} else if len(fields) != 2 {
		return nil, fmt.Errorf("%w: %s", ErrProxyFormat, s)
	}

	host := strings.ToLower(fields[0])
	port, err := strconv.Atoi(fields[1])
	if host == "" || err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("%w: %s", ErrProxyFormat, s)
	}

	p := &Proxy{Host: host, Port: port}
	if creds != "" {
		p.Auth = "Basic " + base64.StdEncoding.EncodeToString([]byte(creds))
	}
	return p, nil
}
