package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/layr8/gateway-client/internal/wsframe"
)

const tracerName = "github.com/layr8/gateway-client"

// closeGrace bounds the close frame written by Close.
const closeGrace = time.Second

// State is the lifecycle state of a session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateUpgrading
	StateAwaitingHello
	StateAuthenticating
	StateReady
	StateClosed
	StateFailed
)

var stateNames = [...]string{
	StateDisconnected:   "disconnected",
	StateConnecting:     "connecting",
	StateUpgrading:      "upgrading",
	StateAwaitingHello:  "awaiting-hello",
	StateAuthenticating: "authenticating",
	StateReady:          "ready",
	StateClosed:         "closed",
	StateFailed:         "failed",
}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

// session owns the live link and recovers it on failure.
//
// Lock order: reconnectMu, then wmu, then mu. mu is never held across I/O.
type session struct {
	cfg     Config
	proxy   *Proxy
	opts    options
	tls     *tlsProfile
	log     *slog.Logger
	metrics *metrics
	tracer  trace.Tracer
	hb      *heartbeat

	// ctx lives until Close.
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	link       *link
	gen        uint64
	seq        *int64
	interval   time.Duration
	state      State
	failed     error
	closed     bool
	reconnects int

	wmu         sync.Mutex // serializes frame writes
	reconnectMu sync.Mutex // one reconnect at a time
}

func newSession(cfg Config, proxy *Proxy, opts options) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		cfg:     cfg,
		proxy:   proxy,
		opts:    opts,
		tls:     newTLSProfile(opts.tlsConfig),
		log:     opts.logger,
		metrics: newMetrics(opts.registerer),
		tracer:  opts.tracerProvider.Tracer(tracerName),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.hb = newHeartbeat(s)
	return s
}

func (s *session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.log.Debug("gateway state", slog.String("state", st.String()))
}

func (s *session) currentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) reconnectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnects
}

func (s *session) lastSeq() *int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq == nil {
		return nil
	}
	v := *s.seq
	return &v
}

func (s *session) heartbeatInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// observeSeq records seq if it is newer and gen is still the live session.
func (s *session) observeSeq(gen uint64, seq *int64) {
	if seq == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	if s.seq == nil || *seq > *s.seq {
		v := *seq
		s.seq = &v
	}
}

func (s *session) report(kind ErrorKind, gen uint64, err error) {
	s.metrics.faults.WithLabelValues(kind.String()).Inc()
	s.opts.onError(TransportError{
		Kind:      kind,
		Gen:       gen,
		Cause:     err,
		Timestamp: time.Now(),
	})
}

// current returns the live link, connecting first if there is none.
func (s *session) current(ctx context.Context) (*link, error) {
	for {
		s.mu.Lock()
		if s.failed != nil {
			err := s.failed
			s.mu.Unlock()
			return nil, err
		}
		if s.closed {
			s.mu.Unlock()
			return nil, ErrClientClosed
		}
		l, gen := s.link, s.gen
		s.mu.Unlock()

		if l != nil {
			return l, nil
		}
		if err := s.reconnect(ctx, gen); err != nil {
			return nil, err
		}
	}
}

// reconnect replaces the link of generation gen. It returns at once when
// another caller already replaced it.
func (s *session) reconnect(ctx context.Context, gen uint64) error {
	s.reconnectMu.Lock()
	defer s.reconnectMu.Unlock()

	s.mu.Lock()
	switch {
	case s.failed != nil:
		err := s.failed
		s.mu.Unlock()
		return err
	case s.closed:
		s.mu.Unlock()
		return ErrClientClosed
	case s.gen != gen:
		s.mu.Unlock()
		return nil
	}
	old := s.link
	s.link = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	failures := 0
	if old != nil {
		s.metrics.connected.Set(0)
		old.conn.Close()
		failures = 1
		s.log.Info("reconnecting to gateway", slog.Uint64("gen", gen))
	}

	for {
		if failures > 0 {
			if err := s.sleep(ctx, s.opts.backoff.Delay(failures)); err != nil {
				return err
			}
		}

		l, err := s.handshake(ctx)
		if err == nil {
			return s.install(l)
		}
		if t := terminal(err); t != nil {
			s.fail(t)
			return t
		}
		if s.ctx.Err() != nil {
			return ErrClientClosed
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.report(classify(err), gen, err)
		failures++
	}
}

func (s *session) sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-s.ctx.Done():
		return ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// install makes l the live link and starts the heartbeat on first use.
func (s *session) install(l *link) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		l.conn.Close()
		return ErrClientClosed
	}
	if s.gen > 0 {
		s.reconnects++
		s.metrics.reconnects.Inc()
	}
	s.gen++
	l.gen = s.gen
	s.link = l
	s.state = StateReady
	s.mu.Unlock()

	s.metrics.connected.Set(1)
	s.log.Info("gateway session ready",
		slog.String("conn", l.id.String()),
		slog.Uint64("gen", l.gen))
	s.hb.start()
	return nil
}

// fail moves the session to the Failed state for good.
func (s *session) fail(err error) {
	s.mu.Lock()
	if s.failed == nil {
		s.failed = err
	}
	if !s.closed {
		s.state = StateFailed
	}
	l := s.link
	s.link = nil
	s.mu.Unlock()

	if l != nil {
		l.conn.Close()
	}
	s.metrics.connected.Set(0)
	s.log.Error("gateway session failed", slog.Any("error", err))
}

// discard drops the link of generation gen without reconnecting. The next
// operation dials a new one.
func (s *session) discard(gen uint64) {
	s.mu.Lock()
	l := s.link
	if l == nil || s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.link = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	l.conn.Close()
	s.metrics.connected.Set(0)
}

// handshake dials and authenticates a new link. The link is not yet
// visible to other goroutines.
func (s *session) handshake(ctx context.Context) (_ *link, err error) {
	ctx, span := s.tracer.Start(ctx, "gateway.connect",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("gateway.address", s.cfg.Address)),
	)
	start := time.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			s.metrics.connectDuration.Observe(time.Since(start).Seconds())
		}
		span.End()
	}()

	s.mu.Lock()
	s.seq = nil
	s.mu.Unlock()
	s.setState(StateConnecting)

	deadline := time.Now().Add(s.cfg.ConnectTimeout)
	hctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	stopClose := context.AfterFunc(s.ctx, cancel)
	defer stopClose()

	raw, err := s.dialGateway(hctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			raw.Close()
		}
	}()
	raw.SetDeadline(deadline)
	stopDeadline := context.AfterFunc(hctx, func() { raw.SetDeadline(time.Unix(1, 0)) })

	conn := tls.Client(raw, s.tls.config(s.cfg.host()))
	if err := conn.HandshakeContext(hctx); err != nil {
		return nil, s.ctxErr(hctx, &ConnectionError{Addr: s.cfg.Address, Reason: "tls: " + err.Error()})
	}

	s.setState(StateUpgrading)
	br, err := upgrade(conn, s.cfg.host(), s.cfg.Identity.UserAgent())
	if err != nil {
		return nil, s.ctxErr(hctx, err)
	}
	l := &link{id: uuid.New(), conn: conn, br: br}
	span.SetAttributes(attribute.String("gateway.conn_id", l.id.String()))

	s.setState(StateAwaitingHello)
	hello, err := s.awaitHello(l)
	if err != nil {
		return nil, s.ctxErr(hctx, err)
	}
	s.mu.Lock()
	s.interval = hello.HeartbeatInterval
	s.mu.Unlock()

	s.setState(StateAuthenticating)
	payload, err := encodeIdentify(newIdentify(s.cfg.Token, s.cfg.Identity))
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(wsframe.Encode(payload)); err != nil {
		return nil, s.ctxErr(hctx, err)
	}

	if !stopDeadline() {
		return nil, s.ctxErr(hctx, context.DeadlineExceeded)
	}
	raw.SetDeadline(time.Time{})
	return l, nil
}

// ctxErr prefers the cancellation cause over the I/O error it produced.
func (s *session) ctxErr(hctx context.Context, err error) error {
	if terminal(err) != nil {
		return err
	}
	if s.ctx.Err() != nil {
		return ErrClientClosed
	}
	if hctx.Err() != nil && !errors.Is(hctx.Err(), context.DeadlineExceeded) {
		return hctx.Err()
	}
	return err
}

func (s *session) awaitHello(l *link) (Hello, error) {
	for {
		msg, err := l.readMessage()
		if err != nil {
			return Hello{}, err
		}
		env, err := decodeEnvelope(msg)
		if err != nil {
			return Hello{}, err
		}
		s.metrics.received.WithLabelValues(strconv.Itoa(int(env.Op))).Inc()
		if h, ok := env.Data.(Hello); ok {
			return h, nil
		}
	}
}

// receive reads the next envelope, recovering from transient faults.
// Invalid-session envelopes are consumed here and never returned.
func (s *session) receive(ctx context.Context) (*Envelope, error) {
	for {
		l, err := s.current(ctx)
		if err != nil {
			return nil, err
		}

		env, err := s.readEnvelope(ctx, l)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return nil, err
			}
			if err := s.recover(ctx, l.gen, err); err != nil {
				return nil, err
			}
			continue
		}

		s.metrics.received.WithLabelValues(strconv.Itoa(int(env.Op))).Inc()
		s.observeSeq(l.gen, env.Seq)

		switch env.Op {
		case OpInvalidSession:
			s.log.Info("gateway invalidated session", slog.Uint64("gen", l.gen))
			if err := s.recover(ctx, l.gen, errInvalidSession); err != nil {
				return nil, err
			}
			continue
		case OpHeartbeat:
			s.hb.trigger()
		}
		return env, nil
	}
}

// readEnvelope reads one envelope from l, honoring ctx. A read interrupted
// before the first byte leaves l usable; one interrupted mid-message
// discards it.
func (s *session) readEnvelope(ctx context.Context, l *link) (*Envelope, error) {
	stop := context.AfterFunc(ctx, func() { l.conn.SetReadDeadline(time.Unix(1, 0)) })
	l.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

	if _, err := l.br.Peek(1); err != nil {
		if !stop() && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	msg, err := l.readMessage()
	interrupted := !stop() && ctx.Err() != nil
	if err != nil {
		if interrupted {
			s.discard(l.gen)
			return nil, ctx.Err()
		}
		return nil, err
	}
	return decodeEnvelope(msg)
}

// recover handles a read or write failure on generation gen: terminal
// errors fail the session, anything else triggers a reconnect.
func (s *session) recover(ctx context.Context, gen uint64, err error) error {
	if t := terminal(err); t != nil {
		s.fail(t)
		return t
	}
	if s.ctx.Err() != nil {
		return ErrClientClosed
	}
	s.report(classify(err), gen, err)
	return s.reconnect(ctx, gen)
}

// send writes payload as one frame, reconnecting and resending until it is
// written or a terminal error occurs.
func (s *session) send(ctx context.Context, payload []byte) error {
	for {
		l, err := s.current(ctx)
		if err != nil {
			return err
		}
		err = s.write(ctx, l, wsframe.Encode(payload))
		if err == nil {
			s.metrics.sent.Inc()
			return nil
		}
		if ctx.Err() != nil {
			// The frame may be half written.
			s.discard(l.gen)
			return ctx.Err()
		}
		if err := s.recover(ctx, l.gen, err); err != nil {
			return err
		}
	}
}

func (s *session) write(ctx context.Context, l *link, frame []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	stop := context.AfterFunc(ctx, func() { l.conn.SetWriteDeadline(time.Unix(1, 0)) })
	defer stop()
	l.conn.SetWriteDeadline(time.Now().Add(s.cfg.ReadTimeout))
	_, err := l.conn.Write(frame)
	return err
}

// close tears the session down. It is safe to call more than once.
func (s *session) close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.state = StateClosed
	l := s.link
	s.link = nil
	s.mu.Unlock()

	s.cancel()
	s.metrics.connected.Set(0)
	if l == nil {
		return nil
	}

	// Unblock a writer stuck on a full socket before taking wmu.
	l.conn.SetWriteDeadline(time.Now().Add(closeGrace))
	s.wmu.Lock()
	l.conn.SetWriteDeadline(time.Now().Add(closeGrace))
	l.conn.Write(wsframe.EncodeClose(websocket.CloseNormalClosure, ""))
	s.wmu.Unlock()

	if err := l.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
