package zstream

import (
	"bytes"
	"compress/zlib"
	"errors"
	"strings"
	"testing"
)

// flushWriter compresses messages the way the gateway does: one zlib stream,
// sync-flushed after every message.
type flushWriter struct {
	buf bytes.Buffer
	zw  *zlib.Writer
}

func newFlushWriter() *flushWriter {
	w := &flushWriter{}
	w.zw = zlib.NewWriter(&w.buf)
	return w
}

func (w *flushWriter) message(t *testing.T, msg string) []byte {
	t.Helper()
	w.buf.Reset()
	if _, err := w.zw.Write([]byte(msg)); err != nil {
		t.Fatalf("compress: %v", err)
	}
	if err := w.zw.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	return bytes.Clone(w.buf.Bytes())
}

func TestFeed_MessagesShareStream(t *testing.T) {
	w := newFlushWriter()
	var z Inflater

	msgs := []string{
		`{"op":10,"d":{"heartbeat_interval":41250}}`,
		`{"op":0,"t":"READY","s":1,"d":{"session_id":"abc"}}`,
		// Repeats earlier content so the encoder emits back-references
		// into the previous message.
		`{"op":0,"t":"READY","s":2,"d":{"session_id":"abc"}}`,
		strings.Repeat("large message body ", 4000),
	}
	for i, want := range msgs {
		chunk := w.message(t, want)
		if !bytes.HasSuffix(chunk, Suffix) {
			t.Fatalf("message %d: compressed chunk lacks flush suffix", i)
		}
		got, ok, err := z.Feed(chunk)
		if err != nil {
			t.Fatalf("message %d: Feed() error: %v", i, err)
		}
		if !ok {
			t.Fatalf("message %d: Feed() not complete", i)
		}
		if string(got) != want {
			t.Errorf("message %d: got %q, want %q", i, truncate(got), truncate([]byte(want)))
		}
	}
}

func TestFeed_PartialChunks(t *testing.T) {
	w := newFlushWriter()
	var z Inflater

	want := strings.Repeat("split across frames ", 50)
	chunk := w.message(t, want)
	mid := len(chunk) / 2

	got, ok, err := z.Feed(chunk[:mid])
	if err != nil || ok || got != nil {
		t.Fatalf("first half: got %q, %v, %v; want nil, false, nil", got, ok, err)
	}
	got, ok, err = z.Feed(chunk[mid:])
	if err != nil {
		t.Fatalf("second half: Feed() error: %v", err)
	}
	if !ok || string(got) != want {
		t.Errorf("second half: ok=%v got %q", ok, truncate(got))
	}
}

func TestFeed_CorruptHeader(t *testing.T) {
	var z Inflater
	_, _, err := z.Feed([]byte{0x12, 0x34, 0x00, 0x00, 0xff, 0xff})
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("error = %v, want ErrCorrupt", err)
	}
}

func TestFeed_CorruptBody(t *testing.T) {
	w := newFlushWriter()
	var z Inflater

	if _, _, err := z.Feed(w.message(t, "first")); err != nil {
		t.Fatalf("first message: %v", err)
	}
	// Block type 3 is reserved.
	_, _, err := z.Feed([]byte{0x07, 0x00, 0x00, 0x00, 0xff, 0xff})
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("error = %v, want ErrCorrupt", err)
	}
}

func TestReset_StartsNewStream(t *testing.T) {
	var z Inflater

	first := newFlushWriter()
	if _, _, err := z.Feed(first.message(t, "session one")); err != nil {
		t.Fatalf("first stream: %v", err)
	}

	z.Reset()

	second := newFlushWriter()
	got, ok, err := z.Feed(second.message(t, "session two"))
	if err != nil || !ok {
		t.Fatalf("second stream: ok=%v err=%v", ok, err)
	}
	if string(got) != "session two" {
		t.Errorf("got %q, want %q", got, "session two")
	}
}

func truncate(b []byte) string {
	if len(b) > 64 {
		return string(b[:64]) + "..."
	}
	return string(b)
}
