package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// HandlerFunc handles one dispatch envelope. Returned errors are reported
// to the ErrorHandler; they do not stop Run.
type HandlerFunc func(ctx context.Context, env *Envelope) error

type handlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc // event type → handler
	fallback HandlerFunc
}

func newHandlerRegistry() *handlerRegistry {
	return &handlerRegistry{
		handlers: make(map[string]HandlerFunc),
	}
}

func (r *handlerRegistry) register(eventType string, fn HandlerFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[eventType]; exists {
		return fmt.Errorf("handler already registered for event type %q", eventType)
	}
	r.handlers[eventType] = fn
	return nil
}

func (r *handlerRegistry) lookup(eventType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if fn, ok := r.handlers[eventType]; ok {
		return fn, true
	}
	return r.fallback, r.fallback != nil
}

// Handle registers fn for dispatch envelopes of the given event type.
func (c *Client) Handle(eventType string, fn HandlerFunc) error {
	return c.registry.register(eventType, fn)
}

// HandleDefault registers fn for dispatch types without a handler.
func (c *Client) HandleDefault(fn HandlerFunc) {
	c.registry.mu.Lock()
	c.registry.fallback = fn
	c.registry.mu.Unlock()
}

// Run receives envelopes and routes dispatches to registered handlers, in
// arrival order, until ctx is done or a terminal error occurs.
func (c *Client) Run(ctx context.Context) error {
	for {
		env, err := c.Receive(ctx)
		if err != nil {
			return err
		}
		if env.Op != OpDispatch {
			continue
		}
		fn, ok := c.registry.lookup(env.Type)
		if !ok {
			continue
		}
		c.dispatch(ctx, fn, env)
	}
}

func (c *Client) dispatch(ctx context.Context, fn HandlerFunc, env *Envelope) {
	defer func() {
		if r := recover(); r != nil {
			c.s.opts.onError(TransportError{
				Kind:      ErrHandlerPanic,
				Type:      env.Type,
				Cause:     fmt.Errorf("panic: %v", r),
				Timestamp: time.Now(),
			})
		}
	}()
	if err := fn(ctx, env); err != nil {
		c.s.opts.onError(TransportError{
			Kind:      ErrHandler,
			Type:      env.Type,
			Cause:     err,
			Timestamp: time.Now(),
		})
	}
}
