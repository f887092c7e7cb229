// Package zstream inflates a zlib stream that is flushed once per message,
// as used by gateway transport compression.
package zstream

import (
	"bytes"
	"compress/flate"
	"errors"
	"fmt"
	"io"
)

// ErrCorrupt is returned when the stream cannot be inflated.
var ErrCorrupt = errors.New("zstream: corrupt stream")

// Suffix terminates every complete message (an empty stored block).
var Suffix = []byte{0x00, 0x00, 0xff, 0xff}

const (
	windowSize = 32 << 10

	// MaxPending bounds the bytes buffered for a single message.
	MaxPending = 64 << 20
)

// Inflater decompresses consecutive messages of one stream. The zero value is
// ready to use. An Inflater is not safe for concurrent use.
type Inflater struct {
	pending []byte
	window  []byte
	started bool
	fr      io.ReadCloser
	src     bytes.Reader
}

// Feed buffers chunk. When the buffered data ends a message, the inflated
// message is returned with ok set; otherwise Feed returns nil, false, nil.
func (z *Inflater) Feed(chunk []byte) (msg []byte, ok bool, err error) {
	z.pending = append(z.pending, chunk...)
	if len(z.pending) > MaxPending {
		z.pending = nil
		return nil, false, fmt.Errorf("%w: message exceeds %d bytes", ErrCorrupt, MaxPending)
	}
	if !bytes.HasSuffix(z.pending, Suffix) {
		return nil, false, nil
	}

	data := z.pending
	z.pending = nil

	if !z.started {
		if err := checkHeader(data); err != nil {
			return nil, false, err
		}
		data = data[2:]
		z.started = true
	}

	out, err := z.inflate(data)
	if err != nil {
		return nil, false, err
	}
	z.remember(out)
	return out, true, nil
}

// Reset discards all stream state. The next message must start a new stream.
func (z *Inflater) Reset() {
	z.pending = nil
	z.window = nil
	z.started = false
}

func checkHeader(data []byte) error {
	if len(data) < 2 {
		return fmt.Errorf("%w: short zlib header", ErrCorrupt)
	}
	cmf, flg := data[0], data[1]
	if cmf&0x0f != 8 || (uint16(cmf)<<8|uint16(flg))%31 != 0 {
		return fmt.Errorf("%w: bad zlib header %02x%02x", ErrCorrupt, cmf, flg)
	}
	if flg&0x20 != 0 {
		return fmt.Errorf("%w: preset dictionary not supported", ErrCorrupt)
	}
	return nil
}

// inflate decodes one flushed segment. The previous output is supplied as the
// dictionary so back-references across messages resolve.
func (z *Inflater) inflate(data []byte) ([]byte, error) {
	z.src.Reset(data)
	if z.fr == nil {
		z.fr = flate.NewReaderDict(&z.src, z.window)
	} else if err := z.fr.(flate.Resetter).Reset(&z.src, z.window); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	var out bytes.Buffer
	_, err := io.Copy(&out, z.fr)
	switch {
	case err == nil:
		// Final block: the stream ended cleanly.
	case errors.Is(err, io.ErrUnexpectedEOF) && z.src.Len() == 0:
		// A flushed segment stops on a block boundary.
	default:
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return out.Bytes(), nil
}

func (z *Inflater) remember(out []byte) {
	z.window = append(z.window, out...)
	if n := len(z.window); n > windowSize {
		z.window = append(z.window[:0], z.window[n-windowSize:]...)
	}
}
