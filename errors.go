package gateway

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/layr8/gateway-client/internal/etf"
	"github.com/layr8/gateway-client/internal/wsframe"
	"github.com/layr8/gateway-client/internal/zstream"
)

// Sentinel errors.
var (
	ErrClientClosed         = errors.New("gateway: client is closed")
	ErrAuthenticationFailed = errors.New("gateway: authentication failed")
	ErrProxyFormat          = errors.New("gateway: unrecognized proxy format")

	errInvalidSession = errors.New("gateway: session invalidated by server")
)

// CloseAuthenticationFailed is the close code the gateway sends for a
// rejected token.
const CloseAuthenticationFailed = 4004

// ProxyRejectedError is returned when the HTTP proxy refuses the CONNECT
// tunnel. It is terminal: the client will not retry.
type ProxyRejectedError struct {
	Proxy  string
	Status string
}

func (e *ProxyRejectedError) Error() string {
	return fmt.Sprintf("proxy %s refused CONNECT: %s", e.Proxy, e.Status)
}

// ConnectionError represents a failure to reach or upgrade a connection to the gateway.
type ConnectionError struct {
	Addr   string
	Reason string
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error [%s]: %s", e.Addr, e.Reason)
}

// ErrorKind classifies transient faults the client recovers from on its own.
type ErrorKind int

const (
	ErrSocket         ErrorKind = iota // read or write on the socket failed
	ErrFrame                           // frame header or length was invalid
	ErrDecompress                      // zlib stream was corrupt
	ErrDecode                          // envelope was not a valid term
	ErrClosed                          // server sent a close frame
	ErrDesync                          // unexpected opcode or reserved bits
	ErrInvalidSession                  // server sent op 9
	ErrHeartbeat                       // heartbeat could not be sent
	ErrConnect                         // dial, TLS or upgrade failed
	ErrHandler                         // event handler returned an error
	ErrHandlerPanic                    // event handler panicked
)

var errorKindNames = [...]string{
	ErrSocket:         "socket",
	ErrFrame:          "frame",
	ErrDecompress:     "decompress",
	ErrDecode:         "decode",
	ErrClosed:         "closed",
	ErrDesync:         "desync",
	ErrInvalidSession: "invalid-session",
	ErrHeartbeat:      "heartbeat",
	ErrConnect:        "connect",
	ErrHandler:        "handler",
	ErrHandlerPanic:   "handler-panic",
}

func (k ErrorKind) String() string {
	if int(k) >= 0 && int(k) < len(errorKindNames) {
		return errorKindNames[k]
	}
	return fmt.Sprintf("ErrorKind(%d)", k)
}

// TransportError describes a fault that was not returned to a caller,
// either because the client recovered from it or because it happened on
// a background goroutine. It is routed to the ErrorHandler.
type TransportError struct {
	Kind      ErrorKind
	Gen       uint64 // connection generation the fault occurred on
	Type      string // dispatch event type, for handler errors
	Cause     error
	Timestamp time.Time
}

func (e *TransportError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s: %v (gen=%d type=%s)", e.Kind, e.Cause, e.Gen, e.Type)
	}
	return fmt.Sprintf("%s: %v (gen=%d)", e.Kind, e.Cause, e.Gen)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// ErrorHandler receives every TransportError. It is called synchronously on
// the goroutine that observed the fault and must not block.
type ErrorHandler func(TransportError)

// LogErrors returns an ErrorHandler that logs every fault at warn level.
func LogErrors(logger *slog.Logger) ErrorHandler {
	return func(e TransportError) {
		attrs := []any{
			slog.String("kind", e.Kind.String()),
			slog.Uint64("gen", e.Gen),
			slog.Any("error", e.Cause),
		}
		if e.Type != "" {
			attrs = append(attrs, slog.String("type", e.Type))
		}
		logger.Warn("gateway fault", attrs...)
	}
}

// classify maps an error from the read or write path onto an ErrorKind.
func classify(err error) ErrorKind {
	var ce *websocket.CloseError
	var conn *ConnectionError
	switch {
	case errors.As(err, &ce):
		return ErrClosed
	case errors.Is(err, zstream.ErrCorrupt):
		return ErrDecompress
	case errors.Is(err, etf.ErrMalformed):
		return ErrDecode
	case errors.Is(err, wsframe.ErrUnexpectedOpcode):
		return ErrDesync
	case errors.Is(err, wsframe.ErrFrameTooLarge):
		return ErrFrame
	case errors.Is(err, errInvalidSession):
		return ErrInvalidSession
	case errors.As(err, &conn):
		return ErrConnect
	default:
		return ErrSocket
	}
}

// terminal converts errors that retrying cannot fix into their public form.
// It returns nil for transient errors.
func terminal(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Code == CloseAuthenticationFailed {
		return fmt.Errorf("%w: %s", ErrAuthenticationFailed, ce.Text)
	}
	if errors.Is(err, ErrAuthenticationFailed) {
		return err
	}
	var pr *ProxyRejectedError
	if errors.As(err, &pr) {
		return err
	}
	return nil
}
