// Package config loads gatewaytail settings from a YAML file, GATEWAY_*
// environment variables and command-line flags, in increasing priority.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	gateway "github.com/layr8/gateway-client"
	"github.com/layr8/gateway-client/identity"
)

// Config holds all gatewaytail settings.
type Config struct {
	Token          string        `mapstructure:"token"`
	Address        string        `mapstructure:"address"`
	Proxy          string        `mapstructure:"proxy"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`

	Identity IdentityConfig `mapstructure:"identity"`
	Log      LogConfig      `mapstructure:"log"`
	Sink     SinkConfig     `mapstructure:"sink"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`

	// Events limits which dispatch types reach the sink. Empty means all.
	Events []string `mapstructure:"events"`
}

// IdentityConfig controls the client metadata lookup.
type IdentityConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text or json
}

// SinkConfig selects where dispatch events go.
type SinkConfig struct {
	Kind     string         `mapstructure:"kind"` // console, postgres or redis
	Verbose  bool           `mapstructure:"verbose"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig holds the postgres sink settings.
type PostgresConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// RedisConfig holds the redis sink settings.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Stream   string `mapstructure:"stream"`
	MaxLen   int64  `mapstructure:"max_len"`
}

// Addr returns the Redis address
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MetricsConfig controls the /metrics and /healthz listener.
type MetricsConfig struct {
	Listen string `mapstructure:"listen"` // empty disables it
}

var sinkKinds = map[string]bool{"console": true, "postgres": true, "redis": true}

func setDefaults(v *viper.Viper) {
	// Zero defaults make every key visible to AutomaticEnv during Unmarshal.
	for _, key := range []string{
		"token", "proxy", "metrics.listen",
		"sink.postgres.dsn", "sink.postgres.table",
		"sink.redis.password", "sink.redis.stream",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("events", []string{})
	v.SetDefault("sink.verbose", false)
	v.SetDefault("sink.redis.db", 0)
	v.SetDefault("sink.redis.max_len", 0)
	v.SetDefault("address", gateway.DefaultAddress)
	v.SetDefault("connect_timeout", gateway.DefaultConnectTimeout)
	v.SetDefault("read_timeout", gateway.DefaultReadTimeout)
	v.SetDefault("reconnect_delay", gateway.DefaultReconnectDelay)
	v.SetDefault("identity.base_url", identity.DefaultBaseURL)
	v.SetDefault("identity.timeout", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("sink.kind", "console")
	v.SetDefault("sink.redis.host", "localhost")
	v.SetDefault("sink.redis.port", 6379)
}

// flagKeys maps command-line flag names onto config keys.
var flagKeys = map[string]string{
	"token":          "token",
	"address":        "address",
	"proxy":          "proxy",
	"events":         "events",
	"sink":           "sink.kind",
	"verbose":        "sink.verbose",
	"postgres-dsn":   "sink.postgres.dsn",
	"redis-host":     "sink.redis.host",
	"redis-port":     "sink.redis.port",
	"redis-stream":   "sink.redis.stream",
	"metrics-listen": "metrics.listen",
	"log-level":      "log.level",
	"log-format":     "log.format",
}

// Load reads path (if not empty), then the environment, then the flags
// that were set on the command line. Keys map to GATEWAY_* variables with
// dots replaced by underscores, e.g. GATEWAY_SINK_POSTGRES_DSN.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the fields Load cannot default.
func (c *Config) Validate() error {
	c.Sink.Kind = strings.ToLower(c.Sink.Kind)
	if !sinkKinds[c.Sink.Kind] {
		return fmt.Errorf("unknown sink kind %q (want console, postgres or redis)", c.Sink.Kind)
	}
	if c.Sink.Kind == "postgres" && c.Sink.Postgres.DSN == "" {
		return fmt.Errorf("sink.postgres.dsn is required for the postgres sink")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// Client converts the settings into a gateway.Config. Identity is filled
// in by the caller.
func (c *Config) Client() gateway.Config {
	return gateway.Config{
		Token:          c.Token,
		Address:        c.Address,
		Proxy:          c.Proxy,
		ConnectTimeout: c.ConnectTimeout,
		ReadTimeout:    c.ReadTimeout,
		ReconnectDelay: c.ReconnectDelay,
	}
}
