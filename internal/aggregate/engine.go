package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mwqlight/auto-value-pliot/internal/model"
	"github.com/mwqlight/auto-value-pliot/internal/pkg/cache"
	"github.com/mwqlight/auto-value-pliot/internal/pkg/metrics"
	"github.com/mwqlight/auto-value-pliot/internal/platform"
)

// 平台侧派生缓存的 TTL。
const (
	searchCacheTTL = 10 * time.Minute
	detailCacheTTL = 30 * time.Minute
)

// ConfigProvider 聚合引擎需要的平台配置读取能力。
type ConfigProvider interface {
	GetEnabled(ctx context.Context, code string) (*model.PlatformConfig, bool, error)
	ListEnabled(ctx context.Context) ([]model.PlatformConfig, error)
}

// Limiter 按平台隔离的令牌限流能力。
type Limiter interface {
	Acquire(ctx context.Context, platform string, rate float64) error
}

// Engine 多平台聚合引擎。
//
// 把一次查询并发扇出到全部启用的平台数据源上，收集各平台的部分结果。
// 单个平台的失败（超时、接口错误、被禁用）被收敛在引擎边界内：
// 该平台贡献零条记录并记入日志与指标，绝不中断其余平台，
// 也不向上抛出。扇出内每个平台受自身配置的超时与限流约束，
// 整次聚合的最坏耗时约等于最慢平台的超时，而非各平台之和。
type Engine struct {
	registry ConfigProvider
	sources  platform.Sources
	limiter  Limiter
	cache    *cache.Cache
	logger   *slog.Logger
}

// New 创建聚合引擎。
func New(registry ConfigProvider, sources platform.Sources, limiter Limiter, c *cache.Cache, logger *slog.Logger) *Engine {
	return &Engine{
		registry: registry,
		sources:  sources,
		limiter:  limiter,
		cache:    c,
		logger:   logger,
	}
}

// Search 并发聚合搜索。
//
// codes 为空时取全部启用平台。返回各平台成功结果的并集，
// 不保证顺序（排序与最低价标记是展示层的事）。
// error 仅在无法解析平台集合（数据库不可用）时返回。
func (e *Engine) Search(ctx context.Context, keyword string, codes []string) ([]model.PriceRecord, error) {
	configs, err := e.resolvePlatforms(ctx, codes)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var (
		mu     sync.Mutex
		merged []model.PriceRecord
		wg     sync.WaitGroup
	)

	for _, cfg := range configs {
		src, ok := e.sources.Lookup(cfg.PlatformCode)
		if !ok {
			e.logger.Warn("platform has no registered source, skip",
				slog.String("platform", cfg.PlatformCode))
			continue
		}

		wg.Add(1)
		go func(cfg model.PlatformConfig, src platform.Source) {
			defer wg.Done()

			records, err := e.searchOne(ctx, cfg, src, keyword)
			if err != nil {
				e.containFailure(cfg.PlatformCode, "search", err)
				return
			}

			mu.Lock()
			merged = append(merged, records...)
			mu.Unlock()
		}(cfg, src)
	}
	wg.Wait()

	if metrics.AggregationDuration != nil {
		metrics.AggregationDuration.Observe(time.Since(start).Seconds())
	}
	e.logger.Info("aggregation finished",
		slog.String("keyword", keyword),
		slog.Int("platforms", len(configs)),
		slog.Int("records", len(merged)),
		slog.Duration("elapsed", time.Since(start)))
	return merged, nil
}

// SearchPlatform 单平台搜索（供爬虫接口使用）。
//
// 平台未配置或被禁用返回空结果，不算错误。
func (e *Engine) SearchPlatform(ctx context.Context, code, keyword string) ([]model.PriceRecord, error) {
	cfg, enabled, err := e.registry.GetEnabled(ctx, code)
	if err != nil {
		return nil, err
	}
	if !enabled {
		e.logger.Warn("platform not configured or disabled", slog.String("platform", code))
		return []model.PriceRecord{}, nil
	}
	src, ok := e.sources.Lookup(code)
	if !ok {
		e.logger.Warn("platform has no registered source", slog.String("platform", code))
		return []model.PriceRecord{}, nil
	}
	return e.searchOne(ctx, *cfg, src, keyword)
}

// Detail 获取单平台商品详情，未找到时返回 (nil, nil)。
func (e *Engine) Detail(ctx context.Context, code, productID string) (*model.PriceRecord, error) {
	cfg, enabled, err := e.registry.GetEnabled(ctx, code)
	if err != nil {
		return nil, err
	}
	if !enabled {
		e.logger.Warn("platform not configured or disabled", slog.String("platform", code))
		return nil, nil
	}
	src, ok := e.sources.Lookup(code)
	if !ok {
		return nil, nil
	}

	key := fmt.Sprintf("detail:%s:%s", code, productID)
	var cached model.PriceRecord
	if e.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout())
	defer cancel()
	if err := e.limiter.Acquire(callCtx, code, cfg.RatePerSecond()); err != nil {
		return nil, fmt.Errorf("platform %s rate limit: %w", code, err)
	}

	record, err := src.Detail(callCtx, productID)
	if err != nil {
		return nil, fmt.Errorf("platform %s detail: %w", code, err)
	}
	if record != nil {
		e.cache.Set(ctx, key, record, detailCacheTTL)
	}
	return record, nil
}

// searchOne 对单个平台执行一次带缓存、限流、超时的搜索。
func (e *Engine) searchOne(ctx context.Context, cfg model.PlatformConfig, src platform.Source, keyword string) ([]model.PriceRecord, error) {
	key := fmt.Sprintf("search:%s:%s", cfg.PlatformCode, keyword)
	var cached []model.PriceRecord
	if e.cache.Get(ctx, key, &cached) {
		return cached, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout())
	defer cancel()

	if err := e.limiter.Acquire(callCtx, cfg.PlatformCode, cfg.RatePerSecond()); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	records, err := src.Search(callCtx, keyword)
	if err != nil {
		return nil, err
	}

	// 零结果同样是成功结果，照常缓存，避免空关键词反复穿透。
	e.cache.Set(ctx, key, records, searchCacheTTL)
	return records, nil
}

// resolvePlatforms 把请求的平台编码解析成启用的配置集合。
func (e *Engine) resolvePlatforms(ctx context.Context, codes []string) ([]model.PlatformConfig, error) {
	if len(codes) == 0 {
		configs, err := e.registry.ListEnabled(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve enabled platforms: %w", err)
		}
		return configs, nil
	}

	configs := make([]model.PlatformConfig, 0, len(codes))
	for _, code := range codes {
		cfg, enabled, err := e.registry.GetEnabled(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("resolve platform %s: %w", code, err)
		}
		if !enabled {
			e.logger.Warn("platform not configured or disabled, skip",
				slog.String("platform", code))
			continue
		}
		configs = append(configs, *cfg)
	}
	return configs, nil
}

// containFailure 把单平台失败收敛为日志与指标。
func (e *Engine) containFailure(code, op string, err error) {
	e.logger.Warn("platform call failed, contribute zero records",
		slog.String("platform", code),
		slog.String("op", op),
		slog.String("error", err.Error()))
	if metrics.PlatformSearchFailuresTotal != nil {
		metrics.PlatformSearchFailuresTotal.WithLabelValues(code).Inc()
	}
}
