package gateway

import (
	"bytes"
	"compress/zlib"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/layr8/gateway-client/identity"
	"github.com/layr8/gateway-client/internal/etf"
)

// mockGateway simulates the gateway: it sends hello on every connection,
// compresses outbound envelopes into one zlib stream per connection and
// records every envelope the client sends.
type mockGateway struct {
	upgrader websocket.Upgrader
	srv      *httptest.Server

	mu         sync.Mutex
	interval   int // heartbeat interval in ms
	conns      []*gatewayConn
	received   []received
	closeCodes []int
	helloSent  []time.Time
	onIdentify func(gc *gatewayConn)
	onMsg      func(gc *gatewayConn, msg map[string]any)
}

// received is one envelope the client sent, tagged with its connection.
type received struct {
	conn int
	at   time.Time
	msg  map[string]any
}

// gatewayConn is the server side of one client connection.
type gatewayConn struct {
	index int
	ws    *websocket.Conn

	mu  sync.Mutex
	buf bytes.Buffer
	zw  *zlib.Writer
}

func newMockGateway(t *testing.T) *mockGateway {
	t.Helper()
	gw := &mockGateway{
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		interval: 45000,
	}
	gw.srv = httptest.NewTLSServer(http.HandlerFunc(gw.handler))
	t.Cleanup(gw.srv.Close)
	return gw
}

func (gw *mockGateway) addr() string {
	return gw.srv.Listener.Addr().String()
}

func (gw *mockGateway) tlsConfig() *tls.Config {
	pool := x509.NewCertPool()
	pool.AddCert(gw.srv.Certificate())
	return &tls.Config{RootCAs: pool}
}

func (gw *mockGateway) setInterval(ms int) {
	gw.mu.Lock()
	gw.interval = ms
	gw.mu.Unlock()
}

func (gw *mockGateway) setOnIdentify(fn func(gc *gatewayConn)) {
	gw.mu.Lock()
	gw.onIdentify = fn
	gw.mu.Unlock()
}

func (gw *mockGateway) setOnMsg(fn func(gc *gatewayConn, msg map[string]any)) {
	gw.mu.Lock()
	gw.onMsg = fn
	gw.mu.Unlock()
}

func (gw *mockGateway) handler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("encoding") != "etf" || r.URL.Query().Get("compress") != "zlib-stream" {
		http.Error(w, "bad query", http.StatusBadRequest)
		return
	}
	conn, err := gw.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	gc := &gatewayConn{ws: conn}
	gc.zw = zlib.NewWriter(&gc.buf)

	gw.mu.Lock()
	gc.index = len(gw.conns)
	gw.conns = append(gw.conns, gc)
	interval := gw.interval
	gw.helloSent = append(gw.helloSent, time.Now())
	gw.mu.Unlock()

	gc.send(map[string]any{"op": 10, "d": map[string]any{"heartbeat_interval": interval}})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				gw.mu.Lock()
				gw.closeCodes = append(gw.closeCodes, ce.Code)
				gw.mu.Unlock()
			}
			return
		}
		v, err := etf.Unmarshal(data)
		if err != nil {
			continue
		}
		msg, _ := v.(map[string]any)

		gw.mu.Lock()
		gw.received = append(gw.received, received{conn: gc.index, at: time.Now(), msg: msg})
		onIdentify, onMsg := gw.onIdentify, gw.onMsg
		gw.mu.Unlock()

		if msg["op"] == int64(OpIdentify) && onIdentify != nil {
			onIdentify(gc)
		}
		if onMsg != nil {
			onMsg(gc, msg)
		}
	}
}

// send compresses v into the connection's stream and writes it as one
// binary message.
func (gc *gatewayConn) send(v any) error {
	data, err := etf.Marshal(v)
	if err != nil {
		return err
	}
	gc.mu.Lock()
	defer gc.mu.Unlock()
	gc.buf.Reset()
	if _, err := gc.zw.Write(data); err != nil {
		return err
	}
	if err := gc.zw.Flush(); err != nil {
		return err
	}
	return gc.ws.WriteMessage(websocket.BinaryMessage, gc.buf.Bytes())
}

func (gc *gatewayConn) dispatch(eventType string, seq int64, d any) error {
	return gc.send(map[string]any{"op": 0, "t": eventType, "s": seq, "d": d})
}

func (gc *gatewayConn) closeWith(code int, text string) {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	gc.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
	gc.ws.Close()
}

func (gw *mockGateway) connCount() int {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	return len(gw.conns)
}

func (gw *mockGateway) getReceived() []received {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	cp := make([]received, len(gw.received))
	copy(cp, gw.received)
	return cp
}

// receivedOp returns the envelopes with the given opcode.
func (gw *mockGateway) receivedOp(op Opcode) []received {
	var out []received
	for _, r := range gw.getReceived() {
		if r.msg["op"] == int64(op) {
			out = append(out, r)
		}
	}
	return out
}

// faultLog collects TransportErrors.
type faultLog struct {
	mu     sync.Mutex
	faults []TransportError
}

func (f *faultLog) handle(e TransportError) {
	f.mu.Lock()
	f.faults = append(f.faults, e)
	f.mu.Unlock()
}

func (f *faultLog) kinds() []ErrorKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ErrorKind, len(f.faults))
	for i, e := range f.faults {
		out[i] = e.Kind
	}
	return out
}

func (f *faultLog) has(kind ErrorKind) bool {
	for _, k := range f.kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

var testIdentity = identity.Metadata{
	ClientVersion: "1.0.9163",
	BuildNumber:   312345,
	OSVersion:     "10.0.19045",
}

func testConfig(gw *mockGateway) Config {
	return Config{
		Token:          "test-token",
		Identity:       testIdentity,
		Address:        gw.addr(),
		ConnectTimeout: 2 * time.Second,
		ReadTimeout:    5 * time.Second,
		ReconnectDelay: 10 * time.Millisecond,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// dialMock connects a client to gw and closes it when the test ends.
func dialMock(t *testing.T, gw *mockGateway, faults *faultLog, opts ...Option) *Client {
	t.Helper()
	if faults == nil {
		faults = &faultLog{}
	}
	base := []Option{
		WithTLSConfig(gw.tlsConfig()),
		WithErrorHandler(faults.handle),
		WithLogger(discardLogger()),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, testConfig(gw), append(base, opts...)...)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func receiveCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
