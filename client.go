package gateway

import (
	"context"
	"fmt"

	"github.com/layr8/gateway-client/internal/etf"
)

// Client is a persistent gateway connection. It reconnects on any transient
// fault and retries the operation that observed it, so Send and Receive only
// fail with a terminal error, ErrClientClosed or a context error.
//
// Send may be called concurrently. Receive and Run must be called from a
// single goroutine.
type Client struct {
	s        *session
	registry *handlerRegistry
}

// Dial resolves cfg, connects and blocks until the session is ready, a
// terminal error occurs, or ctx is done.
func Dial(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	resolved, proxy, err := resolveConfig(cfg)
	if err != nil {
		return nil, err
	}

	o := clientDefaults(resolved)
	for _, opt := range opts {
		opt(&o)
	}
	if o.onError == nil {
		o.onError = LogErrors(o.logger)
	}

	c := &Client{
		s:        newSession(resolved, proxy, o),
		registry: newHandlerRegistry(),
	}
	if _, err := c.s.current(ctx); err != nil {
		c.s.close()
		return nil, err
	}
	return c, nil
}

// Scoped dials, runs fn and closes the client when fn returns.
func Scoped(ctx context.Context, cfg Config, fn func(*Client) error, opts ...Option) (err error) {
	c, err := Dial(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(c)
}

// Send encodes v and writes it as one envelope. A []byte is sent as an
// already encoded term payload.
func (c *Client) Send(ctx context.Context, v any) error {
	var payload []byte
	switch b := v.(type) {
	case []byte:
		payload = b
	default:
		var err error
		payload, err = etf.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode envelope: %w", err)
		}
	}
	return c.s.send(ctx, payload)
}

// Receive blocks until the next envelope arrives. Invalid-session
// envelopes are handled internally and never returned.
func (c *Client) Receive(ctx context.Context) (*Envelope, error) {
	return c.s.receive(ctx)
}

// Close stops the heartbeat, sends a close frame and releases the socket.
// It is safe to call more than once.
func (c *Client) Close() error {
	return c.s.close()
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	return c.s.currentState()
}

// Reconnects returns how many times the session was re-established.
func (c *Client) Reconnects() int {
	return c.s.reconnectCount()
}
