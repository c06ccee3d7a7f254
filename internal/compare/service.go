package compare

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/mwqlight/auto-value-pliot/internal/model"
	"github.com/mwqlight/auto-value-pliot/internal/pkg/cache"
	"github.com/mwqlight/auto-value-pliot/internal/pkg/metrics"
	"github.com/mwqlight/auto-value-pliot/internal/pkg/queue"

	"github.com/google/uuid"
)

// ErrTaskNotFound 任务不存在。
var ErrTaskNotFound = errors.New("compare task not found")

// 比价读路径各命名空间的缓存 TTL。
const (
	taskCacheTTL    = 30 * time.Minute
	tasksCacheTTL   = 10 * time.Minute
	resultsCacheTTL = 15 * time.Minute
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// Searcher 编排服务需要的聚合搜索能力。
type Searcher interface {
	Search(ctx context.Context, keyword string, codes []string) ([]model.PriceRecord, error)
}

// JobQueue 编排服务需要的后台任务调度能力。
type JobQueue interface {
	Enqueue(job queue.Job) bool
}

// Service 比价任务编排服务。
//
// 负责任务的完整生命周期：创建（立即返回）、调度后台聚合、
// 终态迁移、读路径缓存与删除时的缓存失效。
// 任务记录只被两个写方修改：创建它的 StartTask 和拥有它的
// 聚合作业；读路径从不回写任务。
type Service struct {
	store  Store
	engine Searcher
	jobs   JobQueue
	cache  *cache.Cache
	logger *slog.Logger
}

// NewService 创建编排服务。
func NewService(store Store, engine Searcher, jobs JobQueue, c *cache.Cache, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		engine: engine,
		jobs:   jobs,
		cache:  c,
		logger: logger,
	}
}

// StartTask 创建比价任务并调度后台聚合，立即返回任务本身。
//
// 每次调用恰好调度一个聚合作业；队列已满时任务直接置为 failed
// （任务仍然可查，调用方通过正常读路径看到失败原因），
// 不会出现"已创建却永远停在 processing"的悬挂任务。
func (s *Service) StartTask(ctx context.Context, userID uint, productName string) (*model.CompareTask, error) {
	if productName == "" {
		return nil, fmt.Errorf("product name is required")
	}

	now := time.Now()
	task := &model.CompareTask{
		TaskID:      uuid.NewString(),
		UserID:      userID,
		ProductName: productName,
		Status:      model.TaskStatusProcessing,
		StartTime:   &now,
	}
	if err := s.store.Create(ctx, task); err != nil {
		return nil, err
	}
	s.cache.DeleteByPrefix(ctx, "tasks:")

	taskID := task.TaskID
	ok := s.jobs.Enqueue(func(jobCtx context.Context) error {
		return s.runTask(jobCtx, taskID, productName)
	})
	if !ok {
		s.failTask(ctx, taskID, "task queue is full, aggregation not scheduled")
		if refreshed, err := s.store.GetByTaskID(ctx, taskID); err == nil && refreshed != nil {
			task = refreshed
		}
		return task, nil
	}

	s.logger.Info("compare task scheduled",
		slog.String("task_id", taskID),
		slog.String("product", productName),
		slog.Uint64("user_id", uint64(userID)))
	return task, nil
}

// runTask 后台聚合作业。
//
// 作业内的一切异常就地收敛为任务终态，绝不越过作业边界：
// 聚合失败与 panic 都转成 failed + errorMessage。
// 终态写入带 processing 守卫，任务被并发删除时静默返回。
func (s *Service) runTask(ctx context.Context, taskID, productName string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.failTask(ctx, taskID, fmt.Sprintf("aggregation panic: %v", r))
			err = fmt.Errorf("aggregation panic: %v", r)
		}
	}()

	records, err := s.engine.Search(ctx, productName, nil)
	if err != nil {
		s.failTask(ctx, taskID, fmt.Sprintf("aggregation failed: %v", err))
		return err
	}

	rankRecords(records)
	payload, err := json.Marshal(records)
	if err != nil {
		s.failTask(ctx, taskID, fmt.Sprintf("encode results failed: %v", err))
		return err
	}

	applied, err := s.store.Complete(ctx, taskID, records, string(payload), time.Now())
	if err != nil {
		s.failTask(ctx, taskID, fmt.Sprintf("persist results failed: %v", err))
		return err
	}
	if !applied {
		s.logger.Debug("task gone before completion, skip",
			slog.String("task_id", taskID))
		return nil
	}

	s.invalidateTask(ctx, taskID)
	s.countTerminal(model.TaskStatusCompleted)
	s.logger.Info("compare task completed",
		slog.String("task_id", taskID),
		slog.Int("result_count", len(records)))
	return nil
}

// GetTasks 分页查询任务列表（新任务在前），cache-aside。
func (s *Service) GetTasks(ctx context.Context, page, size int) ([]model.CompareTask, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > maxPageSize {
		size = defaultPageSize
	}

	key := fmt.Sprintf("tasks:%d:%d", page, size)
	var cached []model.CompareTask
	if s.cache.Get(ctx, key, &cached) {
		return cached, nil
	}

	tasks, err := s.store.List(ctx, (page-1)*size, size)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, key, tasks, tasksCacheTTL)
	return tasks, nil
}

// GetTask 按对外标识查询单个任务，cache-aside。
func (s *Service) GetTask(ctx context.Context, taskID string) (*model.CompareTask, error) {
	key := "task:" + taskID
	var cached model.CompareTask
	if s.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	task, err := s.store.GetByTaskID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, ErrTaskNotFound
	}
	s.cache.Set(ctx, key, task, taskCacheTTL)
	return task, nil
}

// GetResults 查询任务的比价结果，价格升序且恰好一条标记最低价。
//
// 最低价标记在读路径上重新计算：并列最低时只保留
// 升序遍历遇到的第一条。
func (s *Service) GetResults(ctx context.Context, taskID string) ([]model.PriceRecord, error) {
	key := "results:" + taskID
	var cached []model.PriceRecord
	if s.cache.Get(ctx, key, &cached) {
		return cached, nil
	}

	task, err := s.store.GetByTaskID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, ErrTaskNotFound
	}

	records, err := s.store.Results(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	rankRecords(records)

	s.cache.Set(ctx, key, records, resultsCacheTTL)
	return records, nil
}

// DeleteTask 删除任务并失效全部关联缓存。
func (s *Service) DeleteTask(ctx context.Context, taskID string) error {
	applied, err := s.store.Delete(ctx, taskID)
	if err != nil {
		return err
	}
	if !applied {
		return ErrTaskNotFound
	}

	s.invalidateTask(ctx, taskID)
	s.logger.Info("compare task deleted", slog.String("task_id", taskID))
	return nil
}

// failTask 任务失败的收口：终态写入 + 缓存失效 + 指标。
func (s *Service) failTask(ctx context.Context, taskID, msg string) {
	applied, err := s.store.Fail(ctx, taskID, msg, time.Now())
	if err != nil {
		s.logger.Error("mark task failed error",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()))
		return
	}
	if !applied {
		return
	}

	s.invalidateTask(ctx, taskID)
	s.countTerminal(model.TaskStatusFailed)
	s.logger.Warn("compare task failed",
		slog.String("task_id", taskID),
		slog.String("reason", msg))
}

// invalidateTask 失效任务的三类关联缓存：
// 精确键 task:<id>、results:<id>，以及无法精确定位的列表页缓存。
func (s *Service) invalidateTask(ctx context.Context, taskID string) {
	s.cache.Delete(ctx, "task:"+taskID, "results:"+taskID)
	s.cache.DeleteByPrefix(ctx, "tasks:")
}

func (s *Service) countTerminal(status model.TaskStatus) {
	if metrics.CompareTasksTotal != nil {
		metrics.CompareTasksTotal.WithLabelValues(string(status)).Inc()
	}
}

// rankRecords 原地将记录按价格稳定升序排列，并恰好标记一条最低价。
func rankRecords(records []model.PriceRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Price < records[j].Price
	})
	for i := range records {
		records[i].IsLowest = false
	}
	if len(records) > 0 {
		records[0].IsLowest = true
	}
}
