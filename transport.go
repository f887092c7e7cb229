package gateway

import (
	"bufio"
	"context"
	"crypto/sha1"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/layr8/gateway-client/internal/wsframe"
	"github.com/layr8/gateway-client/internal/zstream"
)

const (
	upgradePath = "/?encoding=etf&v=9&compress=zlib-stream"
	origin      = "https://discord.com"

	websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

	readBufferSize = 64 << 10
)

// tlsProfile hands out a fresh TLS configuration for every connection
// attempt, each with its own cipher suite order.
type tlsProfile struct {
	base *tls.Config

	mu  sync.Mutex
	rng *rand.Rand
}

func newTLSProfile(base *tls.Config) *tlsProfile {
	return &tlsProfile{
		base: base,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (p *tlsProfile) config(serverName string) *tls.Config {
	var cfg *tls.Config
	if p.base != nil {
		cfg = p.base.Clone()
	} else {
		cfg = &tls.Config{}
	}
	cfg.ServerName = serverName
	if cfg.MinVersion == 0 {
		cfg.MinVersion = tls.VersionTLS12
	}

	suites := tls.CipherSuites()
	ids := make([]uint16, len(suites))
	for i, s := range suites {
		ids[i] = s.ID
	}
	p.mu.Lock()
	p.rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	p.mu.Unlock()
	cfg.CipherSuites = ids
	return cfg
}

// link is one upgraded connection. It is replaced wholesale on reconnect.
type link struct {
	id   uuid.UUID
	gen  uint64
	conn net.Conn
	br   *bufio.Reader
	z    zstream.Inflater
}

// readMessage reads frames until the inflater yields a complete message.
func (l *link) readMessage() ([]byte, error) {
	for {
		f, err := wsframe.ReadFrame(l.br)
		if err != nil {
			return nil, err
		}
		msg, ok, err := l.z.Feed(f.Payload)
		if err != nil {
			return nil, err
		}
		if ok {
			return msg, nil
		}
	}
}

// dialGateway opens a TCP connection to the gateway, through the proxy
// tunnel when one is configured.
func (s *session) dialGateway(ctx context.Context) (net.Conn, error) {
	if s.proxy == nil {
		conn, err := s.opts.dial(ctx, "tcp", s.cfg.Address)
		if err != nil {
			return nil, &ConnectionError{Addr: s.cfg.Address, Reason: err.Error()}
		}
		return conn, nil
	}

	conn, err := s.opts.dial(ctx, "tcp", s.proxy.Addr())
	if err != nil {
		return nil, &ConnectionError{Addr: s.proxy.Addr(), Reason: err.Error()}
	}
	tunneled, err := connectTunnel(conn, s.proxy, s.cfg.Address)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return tunneled, nil
}

// connectTunnel asks the proxy to open a tunnel to target.
func connectTunnel(conn net.Conn, p *Proxy, target string) (net.Conn, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "CONNECT %s HTTP/1.1\r\n", target)
	fmt.Fprintf(&b, "Host: %s\r\n", target)
	if p.Auth != "" {
		fmt.Fprintf(&b, "Proxy-Authorization: %s\r\n", p.Auth)
	}
	b.WriteString("\r\n")
	if _, err := io.WriteString(conn, b.String()); err != nil {
		return nil, &ConnectionError{Addr: p.Addr(), Reason: err.Error()}
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, &http.Request{Method: http.MethodConnect})
	if err != nil {
		return nil, &ConnectionError{Addr: p.Addr(), Reason: "read CONNECT response: " + err.Error()}
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &ProxyRejectedError{Proxy: p.Addr(), Status: resp.Status}
	}
	if br.Buffered() > 0 {
		return &bufferedConn{Conn: conn, r: br}, nil
	}
	return conn, nil
}

// bufferedConn replays bytes read past the proxy response.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

// upgrade performs the WebSocket handshake on conn and returns a reader
// positioned at the first frame.
func upgrade(conn net.Conn, host, userAgent string) (*bufio.Reader, error) {
	key := websocketKey()

	var b strings.Builder
	b.WriteString("GET " + upgradePath + " HTTP/1.1\r\n")
	b.WriteString("Host: " + host + "\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	b.WriteString("Pragma: no-cache\r\n")
	b.WriteString("Cache-Control: no-cache\r\n")
	b.WriteString("User-Agent: " + userAgent + "\r\n")
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Origin: " + origin + "\r\n")
	b.WriteString("Sec-WebSocket-Version: 13\r\n")
	b.WriteString("Accept-Encoding: gzip, deflate, br\r\n")
	b.WriteString("Accept-Language: en-US\r\n")
	b.WriteString("Sec-WebSocket-Key: " + key + "\r\n")
	b.WriteString("\r\n")

	if _, err := io.WriteString(conn, b.String()); err != nil {
		return nil, &ConnectionError{Addr: host, Reason: "write upgrade: " + err.Error()}
	}

	br := bufio.NewReaderSize(conn, readBufferSize)
	resp, err := http.ReadResponse(br, &http.Request{Method: http.MethodGet})
	if err != nil {
		return nil, &ConnectionError{Addr: host, Reason: "read upgrade response: " + err.Error()}
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		resp.Body.Close()
		return nil, &ConnectionError{Addr: host, Reason: "upgrade rejected: " + resp.Status}
	}
	if got := resp.Header.Get("Sec-WebSocket-Accept"); got != acceptKey(key) {
		return nil, &ConnectionError{Addr: host, Reason: "bad Sec-WebSocket-Accept " + got}
	}
	return br, nil
}

// websocketKey encodes the 16 bytes of a random UUID.
func websocketKey() string {
	id := uuid.New()
	return base64.StdEncoding.EncodeToString(id[:])
}

func acceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key + websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
