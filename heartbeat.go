package gateway

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// heartbeat runs the single heartbeat goroutine of a client. It is started
// on the first ready session and lives until the client is closed, across
// any number of reconnects.
type heartbeat struct {
	s     *session
	once  sync.Once
	kick  chan struct{}
	rearm chan struct{}
	tasks atomic.Int32 // running goroutines, for tests
}

func newHeartbeat(s *session) *heartbeat {
	return &heartbeat{
		s:    s,
		kick:  make(chan struct{}, 1),
		rearm: make(chan struct{}, 1),
	}
}

// start launches the loop on the first session. Later sessions only rearm
// the timer with the interval their hello announced.
func (h *heartbeat) start() {
	started := false
	h.once.Do(func() {
		started = true
		h.tasks.Add(1)
		go h.loop()
	})
	if !started {
		select {
		case h.rearm <- struct{}{}:
		default:
		}
	}
}

// trigger requests an immediate beat. It never blocks.
func (h *heartbeat) trigger() {
	select {
	case h.kick <- struct{}{}:
	default:
	}
}

func (h *heartbeat) loop() {
	defer h.tasks.Add(-1)

	ctx := h.s.ctx
	timer := time.NewTimer(h.s.heartbeatInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.rearm:
			timer.Reset(h.s.heartbeatInterval())
			continue
		case <-timer.C:
		case <-h.kick:
		}

		if err := h.beat(); err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrClientClosed) {
				return
			}
			if terminal(err) != nil {
				return
			}
			h.s.report(ErrHeartbeat, 0, err)
		}
		// The interval is relearned from every hello.
		timer.Reset(h.s.heartbeatInterval())
	}
}

func (h *heartbeat) beat() error {
	payload, err := encodeHeartbeat(h.s.lastSeq())
	if err != nil {
		return err
	}
	if err := h.s.send(h.s.ctx, payload); err != nil {
		return err
	}
	h.s.metrics.heartbeats.Inc()
	return nil
}
