package sink

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// DefaultStream is the stream Redis appends to when none is configured.
const DefaultStream = "gateway:events"

type streamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// Redis appends every record to a capped stream.
type Redis struct {
	client streamAdder
	closer func() error
	stream string
	maxLen int64
}

// RedisOptions configures OpenRedis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	MaxLen   int64 // approximate cap; 0 keeps everything
}

// OpenRedis connects and pings the server.
func OpenRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("sink: ping redis: %w", err)
	}
	r := newRedis(client, opts.Stream, opts.MaxLen)
	r.closer = client.Close
	return r, nil
}

func newRedis(client streamAdder, stream string, maxLen int64) *Redis {
	if stream == "" {
		stream = DefaultStream
	}
	return &Redis{
		client: client,
		closer: func() error { return nil },
		stream: stream,
		maxLen: maxLen,
	}
}

func (r *Redis) Write(ctx context.Context, rec Record) error {
	body, err := rec.bodyJSON()
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]any{
			"seq":         strconv.FormatInt(rec.Seq, 10),
			"type":        rec.Type,
			"received_at": rec.Received.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			"body":        string(body),
		},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("sink: xadd %s: %w", rec.Type, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.closer()
}
