package sink

import (
	"context"
	"fmt"
	"io"
	"sync"

	gateway "github.com/layr8/gateway-client"
)

// Console prints chat messages as "user#discriminator: content". Message
// edits get an "(edit)" marker. Other event types are printed only in
// verbose mode.
type Console struct {
	mu      sync.Mutex
	w       io.Writer
	verbose bool
}

// NewConsole returns a Console writing to w.
func NewConsole(w io.Writer, verbose bool) *Console {
	return &Console{w: w, verbose: verbose}
}

func (c *Console) Write(_ context.Context, rec Record) error {
	var line string
	switch rec.Type {
	case "MESSAGE_CREATE":
		line = fmt.Sprintf("%s: %s", author(rec.Body), str(rec.Body["content"]))
	case "MESSAGE_UPDATE":
		line = fmt.Sprintf("%s (edit): %s", author(rec.Body), str(rec.Body["content"]))
	default:
		if !c.verbose {
			return nil
		}
		line = fmt.Sprintf("[%d] %s", rec.Seq, rec.Type)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintln(c.w, line)
	return err
}

func (c *Console) Close() error { return nil }

func author(body map[string]any) string {
	a, _ := body["author"].(map[string]any)
	return str(a["username"]) + "#" + str(a["discriminator"])
}

// str renders binaries and atoms; anything else becomes "".
func str(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case gateway.Atom:
		return string(s)
	}
	return ""
}
