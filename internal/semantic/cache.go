package semantic

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aihub/msgsearch-go/internal/logger"
)

// EmbeddingCache 向量缓存抽象
// 后端不可用时降级为全未命中，绝不阻塞向量生成
type EmbeddingCache interface {
	// Get 查询缓存，第二个返回值表示是否命中
	Get(ctx context.Context, text string) ([]float32, bool)
	// Put 写入缓存，并发写入同一键时后写者覆盖
	Put(ctx context.Context, text string, vector []float32)
	Ready() bool
}

// CacheHitStats 缓存命中率统计
type CacheHitStats struct {
	mu     sync.RWMutex
	hits   int64
	misses int64
}

func (s *CacheHitStats) recordHit() {
	s.mu.Lock()
	s.hits++
	s.mu.Unlock()
	cacheHitsTotal.Inc()
}

func (s *CacheHitStats) recordMiss() {
	s.mu.Lock()
	s.misses++
	s.mu.Unlock()
	cacheMissesTotal.Inc()
}

// Snapshot 返回命中/未命中计数和命中率
func (s *CacheHitStats) Snapshot() (hits, misses int64, hitRate float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hits = s.hits
	misses = s.misses
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return
}

// cacheKey 规范化文本后取SHA-256，键中带模型名，
// 模型切换后旧向量不可比，不能被复用
func cacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(NormalizeText(text)))
	return fmt.Sprintf("emb:%s:%s", model, hex.EncodeToString(sum[:]))
}

// redisEmbeddingCache Redis向量缓存
type redisEmbeddingCache struct {
	client *redis.Client
	model  string
	ttl    time.Duration
	stats  *CacheHitStats
}

// NewRedisEmbeddingCache 创建Redis向量缓存
func NewRedisEmbeddingCache(client *redis.Client, model string, ttl time.Duration) EmbeddingCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &redisEmbeddingCache{
		client: client,
		model:  model,
		ttl:    ttl,
		stats:  &CacheHitStats{},
	}
}

func (c *redisEmbeddingCache) Get(ctx context.Context, text string) ([]float32, bool) {
	if c.client == nil {
		c.stats.recordMiss()
		return nil, false
	}

	raw, err := c.client.Get(ctx, cacheKey(c.model, text)).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Warn("embedding cache get failed, treating as miss", zap.Error(err))
		}
		c.stats.recordMiss()
		return nil, false
	}

	var vector []float32
	if err := json.Unmarshal(raw, &vector); err != nil {
		logger.Warn("embedding cache entry corrupt, treating as miss", zap.Error(err))
		c.stats.recordMiss()
		return nil, false
	}

	c.stats.recordHit()
	return vector, true
}

func (c *redisEmbeddingCache) Put(ctx context.Context, text string, vector []float32) {
	if c.client == nil || len(vector) == 0 {
		return
	}

	raw, err := json.Marshal(vector)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(c.model, text), raw, c.ttl).Err(); err != nil {
		logger.Warn("embedding cache put failed", zap.Error(err))
	}
}

func (c *redisEmbeddingCache) Ready() bool {
	if c.client == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.client.Ping(ctx).Err() == nil
}

// Stats 返回命中率统计
func (c *redisEmbeddingCache) Stats() *CacheHitStats {
	return c.stats
}

type memoryCacheEntry struct {
	vector    []float32
	expiresAt time.Time
}

// memoryEmbeddingCache 进程内向量缓存，Redis未配置时的回退实现
type memoryEmbeddingCache struct {
	mu      sync.RWMutex
	entries map[string]memoryCacheEntry
	model   string
	ttl     time.Duration
	stats   *CacheHitStats
}

// NewMemoryEmbeddingCache 创建进程内向量缓存
func NewMemoryEmbeddingCache(model string, ttl time.Duration) EmbeddingCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &memoryEmbeddingCache{
		entries: make(map[string]memoryCacheEntry),
		model:   model,
		ttl:     ttl,
		stats:   &CacheHitStats{},
	}
}

func (c *memoryEmbeddingCache) Get(ctx context.Context, text string) ([]float32, bool) {
	key := cacheKey(c.model, text)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	// 过期条目等同冷未命中
	if !ok || time.Now().After(entry.expiresAt) {
		if ok {
			c.mu.Lock()
			delete(c.entries, key)
			c.mu.Unlock()
		}
		c.stats.recordMiss()
		return nil, false
	}

	c.stats.recordHit()
	vector := make([]float32, len(entry.vector))
	copy(vector, entry.vector)
	return vector, true
}

func (c *memoryEmbeddingCache) Put(ctx context.Context, text string, vector []float32) {
	if len(vector) == 0 {
		return
	}
	stored := make([]float32, len(vector))
	copy(stored, vector)

	c.mu.Lock()
	c.entries[cacheKey(c.model, text)] = memoryCacheEntry{
		vector:    stored,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.mu.Unlock()
}

func (c *memoryEmbeddingCache) Ready() bool {
	return true
}

// Stats 返回命中率统计
func (c *memoryEmbeddingCache) Stats() *CacheHitStats {
	return c.stats
}
