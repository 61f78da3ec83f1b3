package incident

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultStream is the stream key used when none is configured.
const DefaultStream = "stdistill:incidents"

// RedisConfig holds configuration for the incident stream.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	// MaxLen caps the stream length approximately; 0 keeps everything.
	MaxLen int64
}

// RedisSink appends incidents to a Redis stream with XADD.
type RedisSink struct {
	rdb *redis.Client
	cfg RedisConfig
}

// NewRedisSink connects and validates the connection.
func NewRedisSink(cfg RedisConfig) (*RedisSink, error) {
	if cfg.Stream == "" {
		cfg.Stream = DefaultStream
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisSink{rdb: rdb, cfg: cfg}, nil
}

// Send implements Sink.
func (s *RedisSink) Send(ctx context.Context, inc Incident) error {
	args := &redis.XAddArgs{
		Stream: s.cfg.Stream,
		Values: inc.Values(),
	}
	if s.cfg.MaxLen > 0 {
		args.MaxLen = s.cfg.MaxLen
		args.Approx = true
	}
	if err := s.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd failed: %w", err)
	}
	return nil
}

// Close closes the client.
func (s *RedisSink) Close() error {
	return s.rdb.Close()
}
