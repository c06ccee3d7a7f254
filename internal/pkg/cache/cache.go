package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mwqlight/auto-value-pliot/internal/pkg/metrics"

	"github.com/redis/go-redis/v9"
)

// Cache 基于 Redis 的旁路缓存层（cache-aside）。
//
// 所有读路径先查缓存、未命中再回源并写回；值统一使用 JSON 序列化。
// Redis 故障一律降级为缓存未命中，绝不让缓存失败拖垮请求本身。
// 键按业务命名空间划分（task: / tasks: / results: / search: / product:），
// 写路径通过 Delete 精确失效、通过 DeleteByPrefix 清扫无法精确定位的
// 列表/搜索类派生缓存。
type Cache struct {
	rdb    *redis.Client
	logger *slog.Logger
	prefix string
}

// New 创建缓存层实例。
//
// 参数:
//
//	rdb: Redis 客户端（进程启动时构造一次并注入，关闭时统一释放）
//	logger: 日志记录器
//	prefix: 应用级键前缀（如 "pricecompare:"），避免与同实例其他应用冲突
func New(rdb *redis.Client, logger *slog.Logger, prefix string) *Cache {
	return &Cache{
		rdb:    rdb,
		logger: logger,
		prefix: prefix,
	}
}

// Get 查询缓存并反序列化到 dest，返回是否命中。
//
// Redis 出错时记录日志并按未命中处理。
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) bool {
	if c == nil || c.rdb == nil {
		return false
	}

	raw, err := c.rdb.Get(ctx, c.prefix+key).Result()
	if err != nil {
		if err != redis.Nil {
			c.warn("cache get failed", key, err)
		}
		c.observe("miss")
		return false
	}

	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		c.warn("cache decode failed", key, err)
		c.observe("miss")
		return false
	}

	c.observe("hit")
	return true
}

// Set 序列化 value 并以给定 TTL 写入缓存。
//
// 缓存仅是派生视图，写入失败只记录日志，不向调用方返回错误。
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if c == nil || c.rdb == nil {
		return
	}

	payload, err := json.Marshal(value)
	if err != nil {
		c.warn("cache encode failed", key, err)
		return
	}
	if err := c.rdb.Set(ctx, c.prefix+key, payload, ttl).Err(); err != nil {
		c.warn("cache set failed", key, err)
	}
}

// Delete 删除若干精确键。
func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if c == nil || c.rdb == nil || len(keys) == 0 {
		return
	}

	full := make([]string, 0, len(keys))
	for _, k := range keys {
		full = append(full, c.prefix+k)
	}
	if err := c.rdb.Del(ctx, full...).Err(); err != nil && err != redis.Nil {
		c.warn("cache delete failed", fmt.Sprintf("%v", keys), err)
	}
}

// DeleteByPrefix 清扫某命名空间下的全部键（如 "tasks:"）。
//
// 使用 SCAN 增量遍历而非 KEYS，避免阻塞 Redis；
// 耗时与匹配键数量成正比，调用方不应在其上叠加额外等待。
func (c *Cache) DeleteByPrefix(ctx context.Context, prefix string) {
	if c == nil || c.rdb == nil {
		return
	}

	pattern := c.prefix + prefix + "*"
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= 100 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				c.warn("cache prefix sweep failed", prefix, err)
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		c.warn("cache prefix scan failed", prefix, err)
		return
	}
	if len(keys) > 0 {
		if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
			c.warn("cache prefix sweep failed", prefix, err)
		}
	}
}

func (c *Cache) warn(msg, key string, err error) {
	if c.logger != nil {
		c.logger.Warn(msg, slog.String("key", key), slog.String("error", err.Error()))
	}
}

func (c *Cache) observe(result string) {
	if metrics.CacheRequestsTotal != nil {
		metrics.CacheRequestsTotal.WithLabelValues(result).Inc()
	}
}
