package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaycast/relaycast/pkg/logger"
)

// RedisPublisher publishes session events to Redis Pub/Sub, one channel per
// owner: "{prefix}:{ownerID}".
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// RedisConfig configures the Redis publisher.
type RedisConfig struct {
	// Enabled controls whether the publisher is built from configuration.
	Enabled bool `mapstructure:"enabled"`

	// Addr is the Redis server address (e.g. "localhost:6379").
	Addr string `mapstructure:"addr"`

	// Password is the Redis password (optional).
	Password string `mapstructure:"password"`

	// DB is the Redis database number (default 0).
	DB int `mapstructure:"db"`

	// Channel is the Pub/Sub channel prefix (default "relaycast:sessions").
	Channel string `mapstructure:"channel"`

	// DialTimeout is the connection timeout (default 5s).
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// NewRedisPublisher connects and verifies the connection.
func NewRedisPublisher(cfg RedisConfig) (*RedisPublisher, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info().Str("addr", cfg.Addr).Msg("redis event publisher connected")
	return NewRedisPublisherWithClient(client, cfg), nil
}

// NewRedisPublisherWithClient wraps an existing client. Used by tests.
func NewRedisPublisherWithClient(client *redis.Client, cfg RedisConfig) *RedisPublisher {
	channel := cfg.Channel
	if channel == "" {
		channel = "relaycast:sessions"
	}
	return &RedisPublisher{client: client, channel: channel}
}

// Name implements Publisher.
func (p *RedisPublisher) Name() string {
	return "redis"
}

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, ev SessionEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	channel := fmt.Sprintf("%s:%s", p.channel, ev.OwnerID)
	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Close implements Publisher.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
