// Package wsframe encodes client-to-server WebSocket frames and decodes
// server-to-client frames read from a raw byte stream.
package wsframe

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/gorilla/websocket"
)

// MaxPayloadSize is the largest inbound payload ReadFrame accepts.
const MaxPayloadSize = 64 << 20

const (
	finBit  = 0x80
	rsvBits = 0x70
	maskBit = 0x80

	continuationFrame = 0
)

var (
	// ErrUnexpectedOpcode reports a frame that is neither data nor close,
	// or one with reserved bits set.
	ErrUnexpectedOpcode = errors.New("wsframe: unexpected opcode")

	// ErrFrameTooLarge reports a length header above MaxPayloadSize.
	ErrFrameTooLarge = errors.New("wsframe: frame too large")
)

// Frame is a decoded data frame.
type Frame struct {
	Opcode  int
	Fin     bool
	Payload []byte
}

// Encode returns payload as a single masked binary frame.
func Encode(payload []byte) []byte {
	return encode(websocket.BinaryMessage, payload)
}

// EncodeClose returns a masked close frame carrying code and text.
func EncodeClose(code int, text string) []byte {
	return encode(websocket.CloseMessage, websocket.FormatCloseMessage(code, text))
}

func encode(opcode int, payload []byte) []byte {
	n := len(payload)
	buf := make([]byte, 0, n+14)
	buf = append(buf, finBit|byte(opcode))

	switch {
	case n < 126:
		buf = append(buf, maskBit|byte(n))
	case n < 65536:
		buf = append(buf, maskBit|126)
		buf = binary.BigEndian.AppendUint16(buf, uint16(n))
	default:
		buf = append(buf, maskBit|127)
		buf = binary.BigEndian.AppendUint64(buf, uint64(n))
	}

	var key [4]byte
	_, _ = rand.Read(key[:])
	buf = append(buf, key[:]...)
	return AppendMasked(buf, key, payload)
}

// AppendMasked appends payload XORed with the repeating key to dst.
// Masking is its own inverse.
func AppendMasked(dst []byte, key [4]byte, payload []byte) []byte {
	for i, b := range payload {
		dst = append(dst, b^key[i&3])
	}
	return dst
}

// ReadFrame reads one frame from r. Short reads are retried until the
// payload is complete.
//
// A close frame is returned as a *websocket.CloseError. Control frames other
// than close, and frames with reserved bits set, return ErrUnexpectedOpcode.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}

	fin := hdr[0]&finBit != 0
	opcode := int(hdr[0] & 0x0f)
	masked := hdr[1]&maskBit != 0

	if hdr[0]&rsvBits != 0 {
		return Frame{}, fmt.Errorf("%w: reserved bits 0x%02x", ErrUnexpectedOpcode, hdr[0]&rsvBits)
	}

	length := uint64(hdr[1] & 0x7f)
	switch length {
	case 126:
		var ext [2]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return Frame{}, unexpected(err)
		}
		length = uint64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return Frame{}, unexpected(err)
		}
		length = binary.BigEndian.Uint64(ext[:])
	}
	if length > MaxPayloadSize {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	var key [4]byte
	if masked {
		if _, err := io.ReadFull(r, key[:]); err != nil {
			return Frame{}, unexpected(err)
		}
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, unexpected(err)
	}
	if masked {
		payload = AppendMasked(payload[:0], key, payload)
	}

	switch opcode {
	case continuationFrame, websocket.TextMessage, websocket.BinaryMessage:
		return Frame{Opcode: opcode, Fin: fin, Payload: payload}, nil
	case websocket.CloseMessage:
		return Frame{}, parseClose(payload)
	default:
		return Frame{}, fmt.Errorf("%w: %d", ErrUnexpectedOpcode, opcode)
	}
}

func parseClose(payload []byte) error {
	if len(payload) < 2 {
		return &websocket.CloseError{Code: websocket.CloseNoStatusReceived}
	}
	return &websocket.CloseError{
		Code: int(binary.BigEndian.Uint16(payload)),
		Text: string(payload[2:]),
	}
}

// unexpected turns a clean EOF inside a frame into io.ErrUnexpectedEOF.
func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
