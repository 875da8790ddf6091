package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/config"
	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/moderation"
	"github.com/Significant-Gravitas/AutoModerate-sub000/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const resultCachePrefix = "automoderate:result:"

// RedisResultCache is the shared tier behind the in-process result cache, so
// replicas reuse each other's AI verdicts.
type RedisResultCache struct {
	rdb *redis.Client
}

var _ moderation.SecondaryCache = (*RedisResultCache)(nil)

type redisEntry struct {
	Result   moderation.RuleResult `json:"result"`
	StoredAt time.Time             `json:"stored_at"`
}

// NewRedisResultCache connects and pings Redis.
func NewRedisResultCache(ctx context.Context, cfg *config.RedisConfig) (*RedisResultCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return &RedisResultCache{rdb: rdb}, nil
}

func resultCacheKey(key string) string {
	return resultCachePrefix + key
}

func (c *RedisResultCache) Get(ctx context.Context, key string) (moderation.RuleResult, time.Time, bool) {
	raw, err := c.rdb.Get(ctx, resultCacheKey(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Warnf("[ResultCache] Redis get failed: %v", err)
		}
		return moderation.RuleResult{}, time.Time{}, false
	}
	entry, err := decodeRedisEntry(raw)
	if err != nil {
		logger.Warnf("[ResultCache] Dropping undecodable Redis entry %s: %v", key, err)
		c.Delete(ctx, key)
		return moderation.RuleResult{}, time.Time{}, false
	}
	return entry.Result, entry.StoredAt, true
}

// Set stores the entry for what remains of ttl since storedAt.
func (c *RedisResultCache) Set(ctx context.Context, key string, result moderation.RuleResult, storedAt time.Time, ttl time.Duration) {
	remaining := ttl - time.Since(storedAt)
	if remaining <= 0 {
		return
	}
	raw, err := encodeRedisEntry(result, storedAt)
	if err != nil {
		logger.Warnf("[ResultCache] Encode failed: %v", err)
		return
	}
	if err := c.rdb.Set(ctx, resultCacheKey(key), raw, remaining).Err(); err != nil {
		logger.Warnf("[ResultCache] Redis set failed: %v", err)
	}
}

func (c *RedisResultCache) Delete(ctx context.Context, key string) {
	if err := c.rdb.Del(ctx, resultCacheKey(key)).Err(); err != nil {
		logger.Warnf("[ResultCache] Redis delete failed: %v", err)
	}
}

// Clear removes every result entry. Other keys in the database are untouched.
func (c *RedisResultCache) Clear(ctx context.Context) {
	iter := c.rdb.Scan(ctx, 0, resultCachePrefix+"*", 500).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 500 {
			c.rdb.Del(ctx, batch...)
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		c.rdb.Del(ctx, batch...)
	}
	if err := iter.Err(); err != nil {
		logger.Warnf("[ResultCache] Redis clear failed: %v", err)
	}
}

func (c *RedisResultCache) Close() error {
	return c.rdb.Close()
}

func encodeRedisEntry(result moderation.RuleResult, storedAt time.Time) ([]byte, error) {
	return json.Marshal(redisEntry{Result: result, StoredAt: storedAt})
}

func decodeRedisEntry(raw []byte) (redisEntry, error) {
	var entry redisEntry
	err := json.Unmarshal(raw, &entry)
	return entry, err
}
