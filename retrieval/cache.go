package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/reasonflow/agent/reasoning"
	"github.com/BaSui01/reasonflow/internal/tlsutil"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "reasonflow:retrieval:"

// CacheConfig 检索缓存配置
type CacheConfig struct {
	Addr     string        `yaml:"addr" json:"addr"`
	Password string        `yaml:"password" json:"password"`
	DB       int           `yaml:"db" json:"db"`
	TTL      time.Duration `yaml:"ttl" json:"ttl"`
	PoolSize int           `yaml:"pool_size" json:"pool_size"`
	TLS      bool          `yaml:"tls" json:"tls"`
}

// DefaultCacheConfig 返回默认缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Addr:     "localhost:6379",
		TTL:      10 * time.Minute,
		PoolSize: 10,
	}
}

// CacheObserver 接收命中/未命中事件，由 metrics.Collector 实现
type CacheObserver interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

// CacheType is the label reported to a CacheObserver.
const CacheType = "retrieval"

// Cache memoizes a retrieval callback in Redis. Redis errors never fail a
// lookup; the wrapped callback is used instead.
type Cache struct {
	client   *redis.Client
	ttl      time.Duration
	logger   *zap.Logger
	observer CacheObserver
}

// NewCache connects to Redis and verifies the connection.
func NewCache(ctx context.Context, config CacheConfig, logger *zap.Logger) (*Cache, error) {
	opts := &redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	}
	if config.TLS {
		opts.TLSConfig = tlsutil.ForHost(config.Addr)
	}
	client := redis.NewClient(opts)

	// 测试连接
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewCacheWithClient(client, config.TTL, logger), nil
}

// NewCacheWithClient 使用已有客户端创建缓存
func NewCacheWithClient(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		client: client,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "retrieval_cache")),
	}
}

// WithObserver 设置命中率观察者
func (c *Cache) WithObserver(o CacheObserver) *Cache {
	c.observer = o
	return c
}

func (c *Cache) record(hit bool) {
	if c.observer == nil {
		return
	}
	if hit {
		c.observer.RecordCacheHit(CacheType)
	} else {
		c.observer.RecordCacheMiss(CacheType)
	}
}

// Key returns the Redis key for query.
func Key(query string) string {
	sum := sha256.Sum256([]byte(query))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// Wrap returns a callback that consults the cache before calling fn.
// Errors from fn are returned as-is and never cached.
func (c *Cache) Wrap(fn reasoning.RetrievalFunc) reasoning.RetrievalFunc {
	return func(ctx context.Context, query string) ([]string, error) {
		key := Key(query)

		cached, err := c.client.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			var snippets []string
			if jerr := json.Unmarshal(cached, &snippets); jerr == nil {
				c.logger.Debug("retrieval cache hit", zap.String("key", key))
				c.record(true)
				return snippets, nil
			}
			c.logger.Warn("corrupt retrieval cache entry", zap.String("key", key))
		case errors.Is(err, redis.Nil):
		default:
			c.logger.Warn("retrieval cache get failed", zap.String("key", key), zap.Error(err))
		}
		c.record(false)

		snippets, err := fn(ctx, query)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(snippets)
		if err != nil {
			return snippets, nil
		}
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn("retrieval cache set failed", zap.String("key", key), zap.Error(err))
		}
		return snippets, nil
	}
}

// Invalidate 删除指定查询的缓存
func (c *Cache) Invalidate(ctx context.Context, query string) error {
	return c.client.Del(ctx, Key(query)).Err()
}

// Ping 检查 Redis 连接，供就绪检查使用
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close 关闭 Redis 连接
func (c *Cache) Close() error {
	return c.client.Close()
}
