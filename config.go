package gateway

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/layr8/gateway-client/identity"
)

// Defaults applied by Dial to zero-valued Config fields.
const (
	DefaultAddress        = "gateway.discord.gg:443"
	DefaultConnectTimeout = 5 * time.Second
	DefaultReadTimeout    = 60 * time.Second
	DefaultReconnectDelay = 2 * time.Second
)

// Config holds the connection parameters of a Client. It is not modified
// after Dial.
type Config struct {
	// Token is the credential sent in identify.
	// Fallback: GATEWAY_TOKEN environment variable.
	Token string

	// Identity describes the client build. Use identity.Fetch to obtain it.
	Identity identity.Metadata

	// Address is the gateway host:port. Default: DefaultAddress.
	Address string

	// ConnectTimeout bounds dialing, the proxy tunnel, TLS, the upgrade
	// and the wait for hello.
	ConnectTimeout time.Duration

	// ReadTimeout is the socket deadline for each read and write once the
	// session is ready. It should exceed the heartbeat interval.
	ReadTimeout time.Duration

	// ReconnectDelay is the wait before reconnecting when no Backoff
	// option is given.
	ReconnectDelay time.Duration

	// Proxy is an HTTP proxy in one of the forms accepted by ParseProxy.
	// Fallback: GATEWAY_PROXY environment variable.
	Proxy string
}

// resolveConfig fills empty fields from environment variables and defaults
// and validates required fields.
func resolveConfig(cfg Config) (Config, *Proxy, error) {
	if cfg.Token == "" {
		cfg.Token = os.Getenv("GATEWAY_TOKEN")
	}
	if cfg.Proxy == "" {
		cfg.Proxy = os.Getenv("GATEWAY_PROXY")
	}
	if cfg.Address == "" {
		cfg.Address = DefaultAddress
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}

	if cfg.Token == "" {
		return cfg, nil, fmt.Errorf("Token is required (set in Config or GATEWAY_TOKEN env)")
	}
	if cfg.Identity.IsZero() {
		return cfg, nil, fmt.Errorf("Identity is required (see identity.Fetch)")
	}
	if _, _, err := net.SplitHostPort(cfg.Address); err != nil {
		return cfg, nil, fmt.Errorf("invalid Address %q: %w", cfg.Address, err)
	}

	proxy, err := ParseProxy(cfg.Proxy)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, proxy, nil
}

// host returns the host part of Address.
func (c Config) host() string {
	h, _, _ := net.SplitHostPort(c.Address)
	return h
}
