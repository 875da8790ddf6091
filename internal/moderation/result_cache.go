package moderation

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"
	"time"

	"github.com/Significant-Gravitas/AutoModerate-sub000/pkg/logger"
)

const (
	// EnhancedDefaultTag keys results of the default (no custom prompt) analysis.
	EnhancedDefaultTag = "enhanced_default"

	largeContentThreshold = 1000
	secondaryCacheTimeout = 200 * time.Millisecond
)

type ResultCacheConfig struct {
	Capacity         int
	CleanupThreshold int
	TTL              time.Duration
	CleanupInterval  time.Duration
}

func DefaultResultCacheConfig() ResultCacheConfig {
	return ResultCacheConfig{
		Capacity:         50000,
		CleanupThreshold: 45000,
		TTL:              time.Hour,
		CleanupInterval:  15 * time.Minute,
	}
}

// SecondaryCache is an optional shared tier behind the in-process cache.
// Entries carry their original store time so TTL is measured from the first write.
type SecondaryCache interface {
	Get(ctx context.Context, key string) (RuleResult, time.Time, bool)
	Set(ctx context.Context, key string, result RuleResult, storedAt time.Time, ttl time.Duration)
	Delete(ctx context.Context, key string)
	Clear(ctx context.Context)
}

type cacheEntry struct {
	result   RuleResult
	storedAt time.Time
}

// CacheStats is a point-in-time view of the result cache counters.
type CacheStats struct {
	Size             int     `json:"size"`
	Capacity         int     `json:"capacity"`
	CleanupThreshold int     `json:"cleanup_threshold"`
	TTLSeconds       float64 `json:"ttl_seconds"`
	Hits             uint64  `json:"hits"`
	Misses           uint64  `json:"misses"`
	Expired          uint64  `json:"expired"`
	Dropped          uint64  `json:"dropped"`
	Stores           uint64  `json:"stores"`
	HitRate          float64 `json:"hit_rate"`
	Secondary        bool    `json:"secondary"`
}

// ResultCache is a bounded TTL cache of AI decisions keyed by (content, prompt).
// A single mutex guards every read, write and cleanup. When full and nothing
// has expired, new entries are dropped instead of evicting live ones.
type ResultCache struct {
	mu          sync.Mutex
	entries     map[string]cacheEntry
	cfg         ResultCacheConfig
	lastCleanup time.Time
	secondary   SecondaryCache
	now         func() time.Time

	hits, misses, expired, dropped, stores uint64
}

func NewResultCache(cfg ResultCacheConfig) *ResultCache {
	def := DefaultResultCacheConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.CleanupThreshold <= 0 || cfg.CleanupThreshold > cfg.Capacity {
		cfg.CleanupThreshold = cfg.Capacity * 9 / 10
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	return &ResultCache{
		entries:     make(map[string]cacheEntry),
		cfg:         cfg,
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

// SetSecondary attaches a shared tier, e.g. Redis. Call before first use.
func (c *ResultCache) SetSecondary(s SecondaryCache) {
	c.mu.Lock()
	c.secondary = s
	c.mu.Unlock()
}

// GenerateKey derives the cache key for content analysed under prompt. Content
// over 1000 bytes is represented by its hash and length; an empty prompt is
// represented by the enhanced_default tag.
func GenerateKey(content, prompt string) string {
	contentPart := "v:" + content
	if len(content) > largeContentThreshold {
		sum := md5.Sum([]byte(content))
		contentPart = "h:" + hex.EncodeToString(sum[:]) + "_" + strconv.Itoa(len(content))
	}

	promptPart := "t:" + EnhancedDefaultTag
	if prompt != "" {
		sum := md5.Sum([]byte(prompt))
		promptPart = "p:" + hex.EncodeToString(sum[:])
	}

	key := sha256.Sum256([]byte(promptPart + "|" + contentPart))
	return hex.EncodeToString(key[:])
}

// Get returns a copy of the cached result. Entries at or past their TTL are
// purged and reported as a miss.
func (c *ResultCache) Get(key string) (RuleResult, bool) {
	now := c.now()

	c.mu.Lock()
	c.maybeCleanupLocked(now)
	entry, ok := c.entries[key]
	if ok && now.Sub(entry.storedAt) >= c.cfg.TTL {
		delete(c.entries, key)
		c.expired++
		ok = false
	}
	if ok {
		c.hits++
		c.mu.Unlock()
		resultCacheRequests.WithLabelValues("hit").Inc()
		return entry.result.Clone(), true
	}
	secondary := c.secondary
	c.mu.Unlock()

	if secondary != nil {
		ctx, cancel := context.WithTimeout(context.Background(), secondaryCacheTimeout)
		result, storedAt, found := secondary.Get(ctx, key)
		cancel()
		if found && now.Sub(storedAt) < c.cfg.TTL {
			c.mu.Lock()
			c.hits++
			c.storeLocked(key, cacheEntry{result: result.Clone(), storedAt: storedAt}, now)
			c.mu.Unlock()
			resultCacheRequests.WithLabelValues("secondary_hit").Inc()
			return result, true
		}
	}

	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	resultCacheRequests.WithLabelValues("miss").Inc()
	return RuleResult{}, false
}

// Put stores result under key. It never returns an error: a full cache with no
// expired entries drops the new result.
func (c *ResultCache) Put(key string, result RuleResult) {
	now := c.now()
	entry := cacheEntry{result: result.Clone(), storedAt: now}

	c.mu.Lock()
	c.maybeCleanupLocked(now)
	stored := c.storeLocked(key, entry, now)
	secondary := c.secondary
	c.mu.Unlock()

	if stored && secondary != nil {
		ctx, cancel := context.WithTimeout(context.Background(), secondaryCacheTimeout)
		secondary.Set(ctx, key, entry.result, now, c.cfg.TTL)
		cancel()
	}
}

// storeLocked inserts entry, purging entries expired as of now under capacity
// pressure. entry.storedAt may be older than now for entries from the
// secondary tier.
func (c *ResultCache) storeLocked(key string, entry cacheEntry, now time.Time) bool {
	if _, exists := c.entries[key]; !exists {
		if len(c.entries) >= c.cfg.CleanupThreshold {
			c.purgeExpiredLocked(now)
		}
		if len(c.entries) >= c.cfg.Capacity {
			c.dropped++
			logger.Warnf("[ResultCache] Cache full (%d entries, none expired), dropping new entry", len(c.entries))
			return false
		}
	}
	c.entries[key] = entry
	c.stores++
	resultCacheSize.Set(float64(len(c.entries)))
	return true
}

func (c *ResultCache) maybeCleanupLocked(now time.Time) {
	if now.Sub(c.lastCleanup) >= c.cfg.CleanupInterval {
		c.purgeExpiredLocked(now)
	}
}

func (c *ResultCache) purgeExpiredLocked(now time.Time) int {
	removed := 0
	for key, entry := range c.entries {
		if now.Sub(entry.storedAt) >= c.cfg.TTL {
			delete(c.entries, key)
			removed++
		}
	}
	c.expired += uint64(removed)
	c.lastCleanup = now
	resultCacheSize.Set(float64(len(c.entries)))
	return removed
}

// Cleanup purges expired entries and returns how many were removed.
func (c *ResultCache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.purgeExpiredLocked(c.now())
}

// Invalidate removes the given keys, or every entry when called without keys.
func (c *ResultCache) Invalidate(keys ...string) {
	c.mu.Lock()
	if len(keys) == 0 {
		c.entries = make(map[string]cacheEntry)
	} else {
		for _, key := range keys {
			delete(c.entries, key)
		}
	}
	resultCacheSize.Set(float64(len(c.entries)))
	secondary := c.secondary
	c.mu.Unlock()

	if secondary == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), secondaryCacheTimeout)
	defer cancel()
	if len(keys) == 0 {
		secondary.Clear(ctx)
		return
	}
	for _, key := range keys {
		secondary.Delete(ctx, key)
	}
}

func (c *ResultCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ResultCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Size:             len(c.entries),
		Capacity:         c.cfg.Capacity,
		CleanupThreshold: c.cfg.CleanupThreshold,
		TTLSeconds:       c.cfg.TTL.Seconds(),
		Hits:             c.hits,
		Misses:           c.misses,
		Expired:          c.expired,
		Dropped:          c.dropped,
		Stores:           c.stores,
		Secondary:        c.secondary != nil,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}
