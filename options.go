package gateway

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// DialFunc opens the raw TCP connection to the gateway or proxy.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Option configures a Client.
type Option func(*options)

type options struct {
	logger         *slog.Logger
	onError        ErrorHandler
	backoff        Backoff
	tlsConfig      *tls.Config
	dial           DialFunc
	registerer     prometheus.Registerer
	tracerProvider trace.TracerProvider
}

func clientDefaults(cfg Config) options {
	d := &net.Dialer{}
	return options{
		logger:         slog.Default(),
		backoff:        ConstantBackoff(cfg.ReconnectDelay),
		dial:           d.DialContext,
		tracerProvider: otel.GetTracerProvider(),
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithErrorHandler sets the handler for faults the client recovers from.
// Default: LogErrors with the client logger.
func WithErrorHandler(fn ErrorHandler) Option {
	return func(o *options) {
		o.onError = fn
	}
}

// WithBackoff replaces the fixed ReconnectDelay policy.
func WithBackoff(b Backoff) Option {
	return func(o *options) {
		o.backoff = b
	}
}

// WithTLSConfig sets the base TLS configuration, e.g. for custom root CAs.
// ServerName and the cipher suite order are set per connection.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(o *options) {
		o.tlsConfig = cfg
	}
}

// WithDialFunc replaces the TCP dialer.
func WithDialFunc(fn DialFunc) Option {
	return func(o *options) {
		o.dial = fn
	}
}

// WithMetrics registers the client's Prometheus collectors with reg.
// Without it the collectors live in a private registry.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithTracerProvider sets the provider for connection spans.
// Default: the global OpenTelemetry provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = tp
	}
}
