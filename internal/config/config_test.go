package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gateway "github.com/layr8/gateway-client"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gatewaytail.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"GATEWAY_TOKEN", "GATEWAY_PROXY", "GATEWAY_ADDRESS", "GATEWAY_SINK_KIND", "GATEWAY_SINK_POSTGRES_DSN", "GATEWAY_READ_TIMEOUT"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, gateway.DefaultAddress, cfg.Address)
	assert.Equal(t, gateway.DefaultReadTimeout, cfg.ReadTimeout)
	assert.Equal(t, "console", cfg.Sink.Kind)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "localhost:6379", cfg.Sink.Redis.Addr())
	assert.Equal(t, 10*time.Second, cfg.Identity.Timeout)
	assert.Empty(t, cfg.Token)
	assert.Empty(t, cfg.Events)
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
token: file-token
read_timeout: 90s
events: [MESSAGE_CREATE, MESSAGE_UPDATE]
sink:
  kind: postgres
  postgres:
    dsn: postgres://localhost/gateway?sslmode=disable
    table: chat_log
metrics:
  listen: ":9090"
log:
  format: json
`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "file-token", cfg.Token)
	assert.Equal(t, 90*time.Second, cfg.ReadTimeout)
	assert.Equal(t, []string{"MESSAGE_CREATE", "MESSAGE_UPDATE"}, cfg.Events)
	assert.Equal(t, "postgres", cfg.Sink.Kind)
	assert.Equal(t, "chat_log", cfg.Sink.Postgres.Table)
	assert.Equal(t, ":9090", cfg.Metrics.Listen)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "token: file-token\nsink:\n  kind: console\n")
	t.Setenv("GATEWAY_TOKEN", "env-token")
	t.Setenv("GATEWAY_SINK_KIND", "redis")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Token)
	assert.Equal(t, "redis", cfg.Sink.Kind)
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("GATEWAY_TOKEN", "env-token")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("token", "", "")
	flags.String("sink", "console", "")
	flags.Bool("verbose", false, "")
	require.NoError(t, flags.Parse([]string{"--token", "flag-token", "--verbose"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, "flag-token", cfg.Token)
	assert.True(t, cfg.Sink.Verbose)
	assert.Equal(t, "console", cfg.Sink.Kind)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"console", Config{Sink: SinkConfig{Kind: "Console"}, Log: LogConfig{Format: "text"}}, ""},
		{"unknown sink", Config{Sink: SinkConfig{Kind: "kafka"}, Log: LogConfig{Format: "text"}}, "unknown sink kind"},
		{"postgres without dsn", Config{Sink: SinkConfig{Kind: "postgres"}, Log: LogConfig{Format: "text"}}, "dsn is required"},
		{"bad log format", Config{Sink: SinkConfig{Kind: "redis"}, Log: LogConfig{Format: "xml"}}, "unknown log format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_Client(t *testing.T) {
	cfg := Config{
		Token:          "tok",
		Address:        "gw:443",
		Proxy:          "p:1",
		ConnectTimeout: time.Second,
		ReadTimeout:    2 * time.Second,
		ReconnectDelay: 3 * time.Second,
	}
	got := cfg.Client()
	assert.Equal(t, "tok", got.Token)
	assert.Equal(t, "gw:443", got.Address)
	assert.Equal(t, "p:1", got.Proxy)
	assert.Equal(t, 3*time.Second, got.ReconnectDelay)
	assert.True(t, got.Identity.IsZero())
}
