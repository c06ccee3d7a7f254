package aggregate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mwqlight/auto-value-pliot/internal/model"
	"github.com/mwqlight/auto-value-pliot/internal/pkg/cache"
	"github.com/mwqlight/auto-value-pliot/internal/platform"
)

type memRegistry struct {
	configs map[string]model.PlatformConfig
}

func (m *memRegistry) GetEnabled(ctx context.Context, code string) (*model.PlatformConfig, bool, error) {
	cfg, ok := m.configs[code]
	if !ok || !cfg.Enabled {
		return nil, false, nil
	}
	return &cfg, true, nil
}

func (m *memRegistry) ListEnabled(ctx context.Context) ([]model.PlatformConfig, error) {
	var out []model.PlatformConfig
	for _, cfg := range m.configs {
		if cfg.Enabled {
			out = append(out, cfg)
		}
	}
	return out, nil
}

type noopLimiter struct{}

func (noopLimiter) Acquire(ctx context.Context, platform string, rate float64) error { return nil }

// failingSource 固定返回错误，用于验证部分失败不影响整体。
type failingSource struct{ code string }

func (f *failingSource) Code() string { return f.code }
func (f *failingSource) Name() string { return f.code }
func (f *failingSource) Search(ctx context.Context, keyword string) ([]model.PriceRecord, error) {
	return nil, errors.New("upstream unavailable")
}
func (f *failingSource) Detail(ctx context.Context, productID string) (*model.PriceRecord, error) {
	return nil, errors.New("upstream unavailable")
}

// slowSource 阻塞到 ctx 取消为止，用于验证平台级超时约束。
type slowSource struct{ code string }

func (s *slowSource) Code() string { return s.code }
func (s *slowSource) Name() string { return s.code }
func (s *slowSource) Search(ctx context.Context, keyword string) ([]model.PriceRecord, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
func (s *slowSource) Detail(ctx context.Context, productID string) (*model.PriceRecord, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// countingSource 记录被调用次数，用于验证缓存命中后不再打到数据源。
type countingSource struct {
	inner platform.Source
	calls atomic.Int32
}

func (c *countingSource) Code() string { return c.inner.Code() }
func (c *countingSource) Name() string { return c.inner.Name() }
func (c *countingSource) Search(ctx context.Context, keyword string) ([]model.PriceRecord, error) {
	c.calls.Add(1)
	return c.inner.Search(ctx, keyword)
}
func (c *countingSource) Detail(ctx context.Context, productID string) (*model.PriceRecord, error) {
	c.calls.Add(1)
	return c.inner.Detail(ctx, productID)
}

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return cache.New(rdb, newTestLogger(), "test:")
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func enabledConfig(code string) model.PlatformConfig {
	return model.PlatformConfig{
		PlatformCode: code,
		PlatformName: code,
		TimeoutMs:    5000,
		Enabled:      true,
	}
}

func TestEngine_SearchMergesAllPlatforms(t *testing.T) {
	registry := &memRegistry{configs: map[string]model.PlatformConfig{
		"taobao": enabledConfig("taobao"),
		"jd":     enabledConfig("jd"),
		"pdd":    enabledConfig("pdd"),
	}}
	sources := platform.NewSources(
		platform.NewMockSource("taobao", "淘宝", 5, 299, 10),
		platform.NewMockSource("jd", "京东", 5, 289, 15),
		platform.NewMockSource("pdd", "拼多多", 5, 259, 8),
	)
	engine := New(registry, sources, noopLimiter{}, newTestCache(t), newTestLogger())

	records, err := engine.Search(context.Background(), "iPhone 15", nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(records) != 15 {
		t.Fatalf("expected 15 records from 3 platforms, got %d", len(records))
	}

	byPlatform := make(map[string]int)
	for _, r := range records {
		byPlatform[r.PlatformCode]++
	}
	for _, code := range []string{"taobao", "jd", "pdd"} {
		if byPlatform[code] != 5 {
			t.Errorf("platform %s: expected 5 records, got %d", code, byPlatform[code])
		}
	}
}

func TestEngine_SearchToleratesPartialFailure(t *testing.T) {
	registry := &memRegistry{configs: map[string]model.PlatformConfig{
		"taobao": enabledConfig("taobao"),
		"jd":     enabledConfig("jd"),
		"pdd":    enabledConfig("pdd"),
	}}
	sources := platform.NewSources(
		platform.NewMockSource("taobao", "淘宝", 5, 299, 10),
		&failingSource{code: "jd"},
		platform.NewMockSource("pdd", "拼多多", 5, 259, 8),
	)
	engine := New(registry, sources, noopLimiter{}, newTestCache(t), newTestLogger())

	records, err := engine.Search(context.Background(), "iPhone 15", nil)
	if err != nil {
		t.Fatalf("partial failure should not surface as error: %v", err)
	}
	if len(records) != 10 {
		t.Fatalf("expected 10 records from the 2 healthy platforms, got %d", len(records))
	}
	for _, r := range records {
		if r.PlatformCode == "jd" {
			t.Fatal("failed platform should contribute zero records")
		}
	}
}

func TestEngine_SlowPlatformBoundedByOwnTimeout(t *testing.T) {
	slow := enabledConfig("taobao")
	slow.TimeoutMs = 200
	registry := &memRegistry{configs: map[string]model.PlatformConfig{
		"taobao": slow,
		"jd":     enabledConfig("jd"),
	}}
	sources := platform.NewSources(
		&slowSource{code: "taobao"},
		platform.NewMockSource("jd", "京东", 5, 289, 15),
	)
	engine := New(registry, sources, noopLimiter{}, newTestCache(t), newTestLogger())

	start := time.Now()
	records, err := engine.Search(context.Background(), "iPhone 15", nil)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("expected 5 records from the healthy platform, got %d", len(records))
	}
	for _, r := range records {
		if r.PlatformCode != "jd" {
			t.Fatalf("unexpected record from %s", r.PlatformCode)
		}
	}
	// 整次聚合的耗时受最慢平台自身的超时约束，而不是被它无限拖住
	if elapsed > 2*time.Second {
		t.Fatalf("aggregation not bounded by platform timeout, took %v", elapsed)
	}
}

func TestEngine_SearchSkipsDisabledPlatform(t *testing.T) {
	disabled := enabledConfig("jd")
	disabled.Enabled = false
	registry := &memRegistry{configs: map[string]model.PlatformConfig{
		"taobao": enabledConfig("taobao"),
		"jd":     disabled,
	}}
	sources := platform.NewSources(
		platform.NewMockSource("taobao", "淘宝", 5, 299, 10),
		platform.NewMockSource("jd", "京东", 5, 289, 15),
	)
	engine := New(registry, sources, noopLimiter{}, newTestCache(t), newTestLogger())

	records, err := engine.Search(context.Background(), "iPhone 15", []string{"taobao", "jd"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("expected only enabled platform records, got %d", len(records))
	}
}

func TestEngine_SearchUsesCacheOnSecondCall(t *testing.T) {
	registry := &memRegistry{configs: map[string]model.PlatformConfig{
		"taobao": enabledConfig("taobao"),
	}}
	counting := &countingSource{inner: platform.NewMockSource("taobao", "淘宝", 5, 299, 10)}
	sources := platform.NewSources(counting)
	engine := New(registry, sources, noopLimiter{}, newTestCache(t), newTestLogger())

	for i := 0; i < 2; i++ {
		if _, err := engine.Search(context.Background(), "iPhone 15", []string{"taobao"}); err != nil {
			t.Fatalf("search %d: %v", i, err)
		}
	}
	if got := counting.calls.Load(); got != 1 {
		t.Fatalf("expected source to be hit once, got %d", got)
	}
}

func TestEngine_SearchPlatformDisabledReturnsEmpty(t *testing.T) {
	registry := &memRegistry{configs: map[string]model.PlatformConfig{}}
	sources := platform.NewSources(platform.NewMockSource("jd", "京东", 5, 289, 15))
	engine := New(registry, sources, noopLimiter{}, newTestCache(t), newTestLogger())

	records, err := engine.SearchPlatform(context.Background(), "jd", "switch")
	if err != nil {
		t.Fatalf("search platform: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty result for unconfigured platform, got %d", len(records))
	}
}

func TestEngine_Detail(t *testing.T) {
	registry := &memRegistry{configs: map[string]model.PlatformConfig{
		"taobao": enabledConfig("taobao"),
	}}
	counting := &countingSource{inner: platform.NewMockSource("taobao", "淘宝", 5, 299, 10)}
	sources := platform.NewSources(counting)
	engine := New(registry, sources, noopLimiter{}, newTestCache(t), newTestLogger())

	first, err := engine.Detail(context.Background(), "taobao", "taobao_1_1")
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if first == nil || first.PlatformProductID != "taobao_1_1" {
		t.Fatalf("unexpected detail record: %+v", first)
	}

	// 第二次应命中缓存
	second, err := engine.Detail(context.Background(), "taobao", "taobao_1_1")
	if err != nil {
		t.Fatalf("cached detail: %v", err)
	}
	if second == nil || second.Price != first.Price {
		t.Fatalf("cached record mismatch: %+v vs %+v", second, first)
	}
	if got := counting.calls.Load(); got != 1 {
		t.Fatalf("expected detail source to be hit once, got %d", got)
	}
}

func TestEngine_DetailNotFound(t *testing.T) {
	registry := &memRegistry{configs: map[string]model.PlatformConfig{
		"taobao": enabledConfig("taobao"),
	}}
	sources := platform.NewSources(platform.NewMockSource("taobao", "淘宝", 5, 299, 10))
	engine := New(registry, sources, noopLimiter{}, newTestCache(t), newTestLogger())

	record, err := engine.Detail(context.Background(), "taobao", "")
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if record != nil {
		t.Fatalf("expected (nil, nil) for absent product, got %+v", record)
	}
}
