package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	gateway "github.com/layr8/gateway-client"
	"github.com/layr8/gateway-client/credentials"
	"github.com/layr8/gateway-client/identity"
	"github.com/layr8/gateway-client/internal/config"
	"github.com/layr8/gateway-client/internal/sink"
)

const shutdownTimeout = 5 * time.Second

func runCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "gatewaytail",
		Short: "Stream gateway dispatch events to a sink",
		Long: `gatewaytail keeps a gateway session open, reconnecting on any transport
fault, and writes every dispatch event to the configured sink.

Chat messages are printed as "user#discriminator: content" by the console
sink. The postgres and redis sinks store the full event body as JSON.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath, cmd.Flags())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "YAML config file")
	f.String("token", "", "account token (default: discovered from local storage)")
	f.String("address", gateway.DefaultAddress, "gateway host:port")
	f.String("proxy", "", "HTTP proxy, [user:pass@]host:port")
	f.StringSlice("events", nil, "dispatch types to keep (default: all)")
	f.String("sink", "console", "sink: console, postgres or redis")
	f.BoolP("verbose", "v", false, "console sink: print every event type")
	f.String("postgres-dsn", "", "postgres sink connection string")
	f.String("redis-host", "localhost", "redis sink host")
	f.Int("redis-port", 6379, "redis sink port")
	f.String("redis-stream", "", "redis sink stream (default: "+sink.DefaultStream+")")
	f.String("metrics-listen", "", "address for /metrics and /healthz, e.g. :9090")
	f.String("log-level", "info", "log level: debug, info, warn, error")
	f.String("log-format", "text", "log format: text or json")

	return cmd
}

func run(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	logger := newLogger(cfg.Log, stderr)

	if cfg.Token == "" {
		token, err := credentials.Find()
		if err != nil {
			return fmt.Errorf("no token configured and none found: %w", err)
		}
		dir, _ := credentials.StorageDir()
		logger.Info("using token from local storage", slog.String("dir", dir))
		cfg.Token = token
	}

	md, err := identity.Fetch(ctx,
		identity.WithBaseURL(cfg.Identity.BaseURL),
		identity.WithTimeout(cfg.Identity.Timeout),
	)
	if err != nil {
		return fmt.Errorf("fetch client identity: %w", err)
	}
	logger.Info("client identity",
		slog.String("version", md.ClientVersion),
		slog.Int64("build", md.BuildNumber),
		slog.String("os_version", md.OSVersion))

	out, err := openSink(ctx, cfg.Sink, stdout)
	if err != nil {
		return err
	}
	defer out.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	clientCfg := cfg.Client()
	clientCfg.Identity = md
	client, err := gateway.Dial(ctx, clientCfg,
		gateway.WithLogger(logger),
		gateway.WithMetrics(reg),
	)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer client.Close()
	logger.Info("gateway session ready", slog.String("address", clientCfg.Address))

	if cfg.Metrics.Listen != "" {
		srv, err := startMetricsServer(cfg.Metrics.Listen, reg, client, logger)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			srv.Shutdown(sctx)
		}()
	}

	client.HandleDefault(writeTo(out, eventFilter(cfg.Events)))

	err = client.Run(ctx)
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		logger.Info("shutting down")
		return nil
	}
	return err
}

// writeTo returns a handler that stores every kept dispatch in out.
func writeTo(out sink.Sink, keep func(string) bool) gateway.HandlerFunc {
	return func(ctx context.Context, env *gateway.Envelope) error {
		if !keep(env.Type) {
			return nil
		}
		rec, err := sink.FromEnvelope(env, time.Now())
		if err != nil {
			return err
		}
		return out.Write(ctx, rec)
	}
}

// eventFilter keeps every type when types is empty.
func eventFilter(types []string) func(string) bool {
	if len(types) == 0 {
		return func(string) bool { return true }
	}
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[strings.ToUpper(strings.TrimSpace(t))] = true
	}
	return func(t string) bool { return set[t] }
}

func openSink(ctx context.Context, cfg config.SinkConfig, stdout io.Writer) (sink.Sink, error) {
	switch cfg.Kind {
	case "postgres":
		return sink.OpenPostgres(ctx, cfg.Postgres.DSN, cfg.Postgres.Table)
	case "redis":
		return sink.OpenRedis(ctx, sink.RedisOptions{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Stream:   cfg.Redis.Stream,
			MaxLen:   cfg.Redis.MaxLen,
		})
	default:
		return sink.NewConsole(stdout, cfg.Verbose), nil
	}
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
