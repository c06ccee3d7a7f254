package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CompareTasksTotal 按终态统计的比价任务总数 (status: completed / failed)。
	CompareTasksTotal *prometheus.CounterVec

	// AggregationDuration 单次聚合扇出的耗时分布（秒）。
	AggregationDuration prometheus.Histogram

	// PlatformSearchFailuresTotal 按平台统计的搜索失败次数。
	PlatformSearchFailuresTotal *prometheus.CounterVec

	// CacheRequestsTotal 缓存读请求统计 (result: hit / miss)。
	CacheRequestsTotal *prometheus.CounterVec

	// RateLimitWaitDuration 获取平台限流令牌的等待耗时（秒）。
	RateLimitWaitDuration prometheus.Histogram

	// RateLimitTimeoutTotal 限流等待超时次数。
	RateLimitTimeoutTotal prometheus.Counter

	// WorkerQueuePending 任务队列当前积压数。
	WorkerQueuePending prometheus.Gauge

	// WorkerPoolSize Worker Pool 大小。
	WorkerPoolSize prometheus.Gauge
)

var initOnce sync.Once

// InitMetrics 注册所有 Prometheus 指标（幂等，可在测试中重复调用）。
//
// 参数:
//
//	workers: Worker Pool 大小，作为常量 Gauge 上报
func InitMetrics(workers int) {
	initOnce.Do(func() {
		CompareTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pricecompare_tasks_total",
			Help: "Total number of compare tasks by terminal status.",
		}, []string{"status"})

		AggregationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pricecompare_aggregation_duration_seconds",
			Help:    "Duration of one aggregation fan-out across platforms.",
			Buckets: prometheus.DefBuckets,
		})

		PlatformSearchFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pricecompare_platform_search_failures_total",
			Help: "Search failures per platform (contained, not surfaced).",
		}, []string{"platform"})

		CacheRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pricecompare_cache_requests_total",
			Help: "Cache lookups by result.",
		}, []string{"result"})

		RateLimitWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pricecompare_ratelimit_wait_seconds",
			Help:    "Time spent waiting for a platform rate limit token.",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 2, 5},
		})

		RateLimitTimeoutTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "pricecompare_ratelimit_timeouts_total",
			Help: "Rate limit waits aborted by context cancellation.",
		})

		WorkerQueuePending = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pricecompare_worker_queue_pending",
			Help: "Jobs currently waiting in the aggregation worker queue.",
		})

		WorkerPoolSize = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pricecompare_worker_pool_size",
			Help: "Configured aggregation worker pool size.",
		})
	})

	if WorkerPoolSize != nil {
		WorkerPoolSize.Set(float64(workers))
	}
}
