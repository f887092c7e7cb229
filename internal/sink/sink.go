// Package sink persists or prints dispatch events received from the gateway.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gateway "github.com/layr8/gateway-client"
)

// Record is one dispatch event ready to be written.
type Record struct {
	Seq      int64
	Type     string
	Received time.Time
	Body     map[string]any
}

// FromEnvelope builds a Record from a dispatch envelope. Bodies that are
// not maps are stored under the "value" key.
func FromEnvelope(env *gateway.Envelope, received time.Time) (Record, error) {
	ev, ok := env.Data.(gateway.Event)
	if !ok {
		return Record{}, fmt.Errorf("sink: %s envelope has no event body", env.Op)
	}
	v, err := ev.Decode()
	if err != nil {
		return Record{}, fmt.Errorf("sink: decode %s: %w", env.Type, err)
	}
	body, ok := v.(map[string]any)
	if !ok {
		body = map[string]any{"value": v}
	}

	rec := Record{Type: env.Type, Received: received, Body: body}
	if env.Seq != nil {
		rec.Seq = *env.Seq
	}
	return rec, nil
}

// bodyJSON renders the body for storage backends that keep JSON.
func (r Record) bodyJSON() ([]byte, error) {
	b, err := json.Marshal(r.Body)
	if err != nil {
		return nil, fmt.Errorf("sink: encode %s body: %w", r.Type, err)
	}
	return b, nil
}

// Sink receives records in arrival order from a single goroutine.
type Sink interface {
	Write(ctx context.Context, rec Record) error
	Close() error
}
