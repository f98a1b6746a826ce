// ABOUTME: Redis history backend for deployments sharing one outcome log
// ABOUTME: Stores outcomes as JSON strings indexed by global and per-target sorted sets

package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hikmaai-io/hikmaai-sentinel/internal/types"
)

// RedisConfig holds Redis backend configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string

	Password string
	DB       int

	// Prefix is prepended to all keys. Defaults to "sentinel:".
	Prefix string

	PoolSize     int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// MaxOutcomes trims the global log to the newest N entries. Zero keeps everything.
	MaxOutcomes int64
}

func (c *RedisConfig) setDefaults() {
	if c.Prefix == "" {
		c.Prefix = "sentinel:"
	}
	if c.PoolSize == 0 {
		c.PoolSize = 10
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 5 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Second
	}
}

// RedisStore stores outcomes in Redis.
//
// Layout (after the prefix):
//
//	outcome:<id>            -> JSON ScanOutcome
//	outcomes                -> ZSET of ids scored by unix millis
//	target:<kind>:<value>   -> ZSET of ids scored by unix millis
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	max    int64
}

// NewRedisStore connects and verifies the server with PING.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	cfg.setDefaults()

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ReadTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connecting to redis %s: %w", cfg.Addr, err)
	}

	return &RedisStore{rdb: rdb, prefix: cfg.Prefix, max: cfg.MaxOutcomes}, nil
}

func (s *RedisStore) key(parts ...string) string {
	k := s.prefix
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

// SaveScanOutcome writes the record and both indexes in one transaction.
func (s *RedisStore) SaveScanOutcome(ctx context.Context, outcome *types.ScanOutcome) error {
	if err := validateOutcome(outcome); err != nil {
		return err
	}
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshaling outcome: %w", err)
	}

	member := redis.Z{Score: float64(outcome.Timestamp.UnixMilli()), Member: outcome.ID}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key("outcome", outcome.ID), data, 0)
		pipe.ZAdd(ctx, s.key("outcomes"), member)
		pipe.ZAdd(ctx, s.key("target", outcome.TargetKey()), member)
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving outcome %s: %w", outcome.ID, err)
	}

	if s.max > 0 {
		s.trim(ctx)
	}
	return nil
}

// trim drops the oldest records beyond the configured maximum. Per-target
// indexes may keep ids of trimmed records; reads skip them.
func (s *RedisStore) trim(ctx context.Context) {
	stale, err := s.rdb.ZRange(ctx, s.key("outcomes"), 0, -s.max-1).Result()
	if err != nil || len(stale) == 0 {
		return
	}
	keys := make([]string, len(stale))
	members := make([]any, len(stale))
	for i, id := range stale {
		keys[i] = s.key("outcome", id)
		members[i] = id
	}
	_, _ = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, s.key("outcomes"), members...)
		return nil
	})
}

// ListOutcomes returns up to limit outcomes, newest first.
func (s *RedisStore) ListOutcomes(ctx context.Context, limit int) ([]*types.ScanOutcome, error) {
	limit = normalizeLimit(limit)
	ids, err := s.rdb.ZRevRange(ctx, s.key("outcomes"), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing outcomes: %w", err)
	}
	return s.load(ctx, ids)
}

// LookupTarget returns the newest outcome for target, or nil if none exists.
func (s *RedisStore) LookupTarget(ctx context.Context, target types.ScanTarget) (*types.ScanOutcome, error) {
	ids, err := s.rdb.ZRevRange(ctx, s.key("target", target.Key()), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("looking up target: %w", err)
	}
	outcomes, err := s.load(ctx, ids)
	if err != nil || len(outcomes) == 0 {
		return nil, err
	}
	return outcomes[0], nil
}

func (s *RedisStore) load(ctx context.Context, ids []string) ([]*types.ScanOutcome, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key("outcome", id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("loading outcomes: %w", err)
	}

	outcomes := make([]*types.ScanOutcome, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var o types.ScanOutcome
		if err := json.Unmarshal([]byte(raw), &o); err != nil {
			return nil, fmt.Errorf("decoding outcome %s: %w", ids[i], err)
		}
		outcomes = append(outcomes, &o)
	}
	return outcomes, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	if err := s.rdb.Close(); err != nil {
		return fmt.Errorf("closing redis client: %w", err)
	}
	return nil
}
