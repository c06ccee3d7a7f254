package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"time"

	"github.com/mwqlight/auto-value-pliot/internal/pkg/metrics"

	"github.com/redis/go-redis/v9"
)

// ErrWaitTimeout 在令牌等待期间 context 被取消时返回。
var ErrWaitTimeout = errors.New("rate limit wait timeout")

// 令牌桶脚本：按毫秒时间戳惰性补充令牌，原子地判定并扣减。
// 返回 {是否获准, 建议等待毫秒数, 剩余令牌}。
const tokenBucketLua = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

if rate <= 0 or burst <= 0 then
  return {1, 0, burst}
end

local state = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil then
  tokens = burst
end
if ts == nil then
  ts = now
end

local elapsed = math.max(0, now - ts)
tokens = math.min(burst, tokens + (elapsed * rate) / 1000.0)

local allowed = tokens >= 1
local wait_ms = 0
if allowed then
  tokens = tokens - 1
else
  wait_ms = math.ceil((1 - tokens) * 1000.0 / rate)
end

redis.call("HMSET", key, "tokens", tokens, "ts", now)
redis.call("PEXPIRE", key, math.ceil((burst / rate) * 1000.0 * 2))

return {allowed and 1 or 0, wait_ms, tokens}
`

// Limiter 基于 Redis 的分布式令牌桶限流器，按平台编码隔离桶。
//
// 多个实例共享同一组桶，保证对外部平台的总调用速率可控；
// 桶的速率来自各平台配置 (PlatformConfig.RateLimitMs)，
// 不同平台互不影响。
type Limiter struct {
	rdb    *redis.Client
	logger *slog.Logger
	prefix string
	burst  float64
	script *redis.Script
}

// New 创建限流器。
//
// 参数:
//
//	rdb: Redis 客户端
//	logger: 日志记录器
//	prefix: 键前缀（如 "pricecompare:ratelimit:"）
//	burst: 桶容量（突发上限），小于 1 时取 1
func New(rdb *redis.Client, logger *slog.Logger, prefix string, burst float64) *Limiter {
	if prefix == "" {
		prefix = "pricecompare:ratelimit:"
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		rdb:    rdb,
		logger: logger,
		prefix: prefix,
		burst:  burst,
		script: redis.NewScript(tokenBucketLua),
	}
}

// Acquire 阻塞直至拿到 platform 对应桶的一枚令牌或 ctx 被取消。
//
// 未拿到令牌时按脚本给出的建议时长 + 少量抖动退避重试，
// 避免多个等待方同时唤醒争抢。rate 单位为 令牌/秒。
func (l *Limiter) Acquire(ctx context.Context, platform string, rate float64) error {
	if l == nil || l.rdb == nil || rate <= 0 {
		return nil
	}

	const jitterMax = 10 * time.Millisecond
	start := time.Now()
	for {
		allowed, waitMs, err := l.tryAcquire(ctx, platform, rate)
		if err != nil {
			// Redis 不可用时放行：限流是保护措施，不应成为单点。
			l.logger.Warn("rate limiter degraded, allow request",
				slog.String("platform", platform),
				slog.String("error", err.Error()))
			return nil
		}
		if allowed {
			l.observeWait(start)
			return nil
		}

		wait := time.Duration(waitMs) * time.Millisecond
		if wait <= 0 {
			wait = 50 * time.Millisecond
		}
		wait += time.Duration(rand.Int63n(int64(jitterMax)))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			l.observeWait(start)
			if metrics.RateLimitTimeoutTotal != nil {
				metrics.RateLimitTimeoutTotal.Inc()
			}
			return ErrWaitTimeout
		case <-timer.C:
		}
	}
}

func (l *Limiter) tryAcquire(ctx context.Context, platform string, rate float64) (bool, int64, error) {
	now := time.Now().UnixMilli()
	key := l.prefix + platform
	res, err := l.script.Run(ctx, l.rdb, []string{key}, rate, l.burst, now).Result()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit eval: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) < 2 {
		return false, 0, fmt.Errorf("ratelimit invalid result")
	}
	return toInt64(values[0]) == 1, toInt64(values[1]), nil
}

func (l *Limiter) observeWait(start time.Time) {
	if metrics.RateLimitWaitDuration != nil {
		metrics.RateLimitWaitDuration.Observe(time.Since(start).Seconds())
	}
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if parsed, err := strconv.ParseInt(t, 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}
