package queue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mwqlight/auto-value-pliot/internal/pkg/metrics"
)

// Job 表示一个可执行的后台聚合任务。
type Job func(ctx context.Context) error

// Queue 内存任务队列 + 固定大小 Worker Pool。
//
// 比价任务的聚合作业全部经由这里执行：调用方提交 Job 后立即返回，
// Job 在独立的 worker goroutine 中运行，与发起请求的生命周期解耦。
// 单个 Job 的 panic 在 worker 边界被恢复，不会影响其他 Job。
type Queue struct {
	logger  *slog.Logger
	workers int
	jobs    chan Job

	wg     sync.WaitGroup
	closed atomic.Bool

	enqueued  atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	panics    atomic.Int64
}

// Stats 队列统计信息快照。
type Stats struct {
	Enqueued  int64 // 总入队数
	Processed int64 // 总处理完成数
	Failed    int64 // 失败数
	Dropped   int64 // 因队列满被拒绝数
	Panics    int64 // panic 恢复次数
}

// New 创建任务队列。
//
// 参数:
//
//	logger: 日志记录器
//	workers: worker 数量（至少 1）
//	capacity: 队列容量（至少 1）
func New(logger *slog.Logger, workers, capacity int) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		logger:  logger,
		workers: workers,
		jobs:    make(chan Job, capacity),
	}
}

// Start 启动 worker 池，直到 ctx 取消或队列关闭。
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			q.logger.Debug("worker stopped", slog.Int("worker_id", id))
			return
		case job, ok := <-q.jobs:
			if !ok {
				return
			}
			if job != nil {
				q.run(ctx, job, id)
				q.gauge()
			}
		}
	}
}

// run 执行单个任务，恢复 panic 并记录结果。
func (q *Queue) run(ctx context.Context, job Job, workerID int) {
	defer func() {
		if r := recover(); r != nil {
			q.panics.Add(1)
			q.logger.Error("job panic recovered",
				slog.Int("worker_id", workerID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	err := job(ctx)
	q.processed.Add(1)
	if err != nil {
		q.failed.Add(1)
		q.logger.Warn("job failed",
			slog.Int("worker_id", workerID),
			slog.String("error", err.Error()))
	}
}

// Enqueue 非阻塞入队；队列满或已关闭时返回 false，由调用方决定降级策略。
func (q *Queue) Enqueue(job Job) bool {
	if job == nil || q.closed.Load() {
		return false
	}

	select {
	case q.jobs <- job:
		q.enqueued.Add(1)
		q.gauge()
		return true
	default:
		q.dropped.Add(1)
		q.logger.Warn("queue full, reject job",
			slog.Int("capacity", cap(q.jobs)),
			slog.Int("pending", len(q.jobs)))
		return false
	}
}

// Shutdown 优雅关闭：拒绝新任务，等待在途任务全部执行完。
func (q *Queue) Shutdown() {
	if q.closed.CompareAndSwap(false, true) {
		close(q.jobs)
		q.wg.Wait()
		q.logger.Info("queue shutdown completed")
	}
}

// ShutdownWithTimeout 带超时的优雅关闭，超时后放弃等待并返回错误。
func (q *Queue) ShutdownWithTimeout(timeout time.Duration) error {
	if !q.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("queue already closed")
	}
	close(q.jobs)

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("queue shutdown completed")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timeout after %s", timeout)
	}
}

// Stats 返回统计信息快照。
func (q *Queue) Stats() Stats {
	return Stats{
		Enqueued:  q.enqueued.Load(),
		Processed: q.processed.Load(),
		Failed:    q.failed.Load(),
		Dropped:   q.dropped.Load(),
		Panics:    q.panics.Load(),
	}
}

// Len 当前积压任务数。
func (q *Queue) Len() int {
	return len(q.jobs)
}

// Cap 队列容量。
func (q *Queue) Cap() int {
	return cap(q.jobs)
}

func (q *Queue) gauge() {
	if metrics.WorkerQueuePending != nil {
		metrics.WorkerQueuePending.Set(float64(len(q.jobs)))
	}
}
