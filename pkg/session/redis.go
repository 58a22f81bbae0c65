package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaycast/relaycast/pkg/logger"
	"github.com/relaycast/relaycast/pkg/types"
)

// Number of optimistic-lock retries before an Update gives up. Contention
// on a single session is a client bug (one writer per session), so this
// only absorbs incidental races with the reaper.
const redisTxRetries = 5

// RedisConfig configures the Redis-backed store.
type RedisConfig struct {
	// Addr is the Redis server address (e.g. "localhost:6379").
	Addr string

	// Password is the Redis password (optional).
	Password string

	// DB is the Redis database number (default 0).
	DB int

	// KeyPrefix namespaces all keys (default "relaycast").
	KeyPrefix string

	// TTL applied to every session record. Should be the stale-session
	// timeout plus slack so the reaper sees a session before Redis drops
	// it.
	TTL time.Duration

	// DialTimeout is the connection timeout (default 5s).
	DialTimeout time.Duration
}

// DefaultRedisConfig returns a RedisConfig with sensible defaults.
func DefaultRedisConfig(addr string) RedisConfig {
	return RedisConfig{
		Addr:        addr,
		KeyPrefix:   "relaycast",
		TTL:         time.Hour,
		DialTimeout: 5 * time.Second,
	}
}

// RedisStore persists sessions as JSON values with a TTL, plus one SET per
// owner and one global SET for enumeration.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
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

	logger.Info().
		Str("addr", cfg.Addr).
		Dur("ttl", cfg.TTL).
		Msg("session store connected")

	return NewRedisStoreWithClient(client, cfg), nil
}

// NewRedisStoreWithClient wraps an existing client. Used by tests.
func NewRedisStoreWithClient(client *redis.Client, cfg RedisConfig) *RedisStore {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "relaycast"
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = time.Hour
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisStore) sessionKey(id string) string {
	return r.prefix + ":session:" + id
}

func (r *RedisStore) ownerKey(ownerID string) string {
	return r.prefix + ":owner:" + ownerID
}

func (r *RedisStore) indexKey() string {
	return r.prefix + ":sessions"
}

// Create implements Store.
func (r *RedisStore) Create(ctx context.Context, s *types.UploadSession) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	ok, err := r.client.SetNX(ctx, r.sessionKey(s.ID), data, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return ErrAlreadyExists
	}

	pipe := r.client.Pipeline()
	pipe.SAdd(ctx, r.ownerKey(s.OwnerID), s.ID)
	pipe.Expire(ctx, r.ownerKey(s.OwnerID), r.ttl)
	pipe.SAdd(ctx, r.indexKey(), s.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis index session: %w", err)
	}
	return nil
}

// Get implements Store.
func (r *RedisStore) Get(ctx context.Context, id string) (*types.UploadSession, error) {
	data, err := r.client.Get(ctx, r.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var s types.UploadSession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", id, err)
	}
	return &s, nil
}

// Update implements Store using WATCH for per-key atomicity: the
// transaction aborts and retries if the key changed between read and write.
func (r *RedisStore) Update(ctx context.Context, id string, mutate Mutator) (*types.UploadSession, error) {
	key := r.sessionKey(id)
	var updated *types.UploadSession

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var s types.UploadSession
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("unmarshal session %s: %w", id, err)
		}
		if err := mutate(&s); err != nil {
			return err
		}

		out, err := json.Marshal(&s)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, r.ttl)
			pipe.Expire(ctx, r.ownerKey(s.OwnerID), r.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		updated = &s
		return nil
	}

	for range redisTxRetries {
		err := r.client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("session %s: update contention exceeded %d retries", id, redisTxRetries)
}

// Delete implements Store.
func (r *RedisStore) Delete(ctx context.Context, id string) error {
	s, err := r.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		// Record already expired; still remove any index leftovers.
		return r.client.SRem(ctx, r.indexKey(), id).Err()
	}
	if err != nil {
		return err
	}

	pipe := r.client.Pipeline()
	pipe.Del(ctx, r.sessionKey(id))
	pipe.SRem(ctx, r.ownerKey(s.OwnerID), id)
	pipe.SRem(ctx, r.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// ListByOwner implements Store. Ids whose records have expired are pruned
// from the owner index as a side effect.
func (r *RedisStore) ListByOwner(ctx context.Context, ownerID string) ([]*types.UploadSession, error) {
	ids, err := r.client.SMembers(ctx, r.ownerKey(ownerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	return r.collect(ctx, ids, r.ownerKey(ownerID))
}

// List implements Store.
func (r *RedisStore) List(ctx context.Context) ([]*types.UploadSession, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	return r.collect(ctx, ids, r.indexKey())
}

func (r *RedisStore) collect(ctx context.Context, ids []string, pruneKey string) ([]*types.UploadSession, error) {
	sessions := make([]*types.UploadSession, 0, len(ids))
	var stale []any
	for _, id := range ids {
		s, err := r.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			stale = append(stale, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if len(stale) > 0 {
		if err := r.client.SRem(ctx, pruneKey, stale...).Err(); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("failed to prune expired session ids")
		}
	}
	return sessions, nil
}

// Close implements Store.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
