package compare

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mwqlight/auto-value-pliot/internal/model"

	"gorm.io/gorm"
)

// Store 比价任务的持久化接口。
//
// 任务不存在对读路径而言返回 (nil, nil)；
// Complete / Fail / Delete 返回的 bool 表示写入是否真正生效，
// 任务已被并发删除或已处于终态时返回 false 而不是错误。
type Store interface {
	// Create 持久化一个新任务。
	Create(ctx context.Context, task *model.CompareTask) error
	// GetByTaskID 按对外任务标识查询，不存在时返回 (nil, nil)。
	GetByTaskID(ctx context.Context, taskID string) (*model.CompareTask, error)
	// List 按创建时间倒序分页查询。
	List(ctx context.Context, offset, limit int) ([]model.CompareTask, error)
	// Complete 将 processing 状态的任务置为 completed 并写入价格记录。
	Complete(ctx context.Context, taskID string, records []model.PriceRecord, payload string, finishedAt time.Time) (bool, error)
	// Fail 将 processing 状态的任务置为 failed 并记录错误信息。
	Fail(ctx context.Context, taskID string, errMsg string, finishedAt time.Time) (bool, error)
	// Delete 删除任务及其全部价格记录，任务不存在时返回 false。
	Delete(ctx context.Context, taskID string) (bool, error)
	// Results 按代理主键查询任务的全部价格记录（价格升序）。
	Results(ctx context.Context, taskRef uint) ([]model.PriceRecord, error)
}

// gormStore 基于 GORM + MySQL 的 Store 实现。
type gormStore struct {
	db *gorm.DB
}

// NewStore 创建任务存储。
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Create(ctx context.Context, task *model.CompareTask) error {
	if err := s.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("create compare task: %w", err)
	}
	return nil
}

func (s *gormStore) GetByTaskID(ctx context.Context, taskID string) (*model.CompareTask, error) {
	var task model.CompareTask
	err := s.db.WithContext(ctx).Where("task_id = ?", taskID).First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query compare task %s: %w", taskID, err)
	}
	return &task, nil
}

func (s *gormStore) List(ctx context.Context, offset, limit int) ([]model.CompareTask, error) {
	var tasks []model.CompareTask
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("list compare tasks: %w", err)
	}
	return tasks, nil
}

// Complete 在单个事务内完成终态迁移与结果落库。
//
// 状态更新带 status = processing 守卫：任务已被并发删除
// 或已处于终态时更新影响 0 行，整个操作放弃且不报错。
func (s *gormStore) Complete(ctx context.Context, taskID string, records []model.PriceRecord, payload string, finishedAt time.Time) (bool, error) {
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var task model.CompareTask
		if err := tx.Where("task_id = ?", taskID).First(&task).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		res := tx.Model(&model.CompareTask{}).
			Where("id = ? AND status = ?", task.ID, model.TaskStatusProcessing).
			Updates(map[string]interface{}{
				"status":         model.TaskStatusCompleted,
				"progress":       100,
				"end_time":       finishedAt,
				"finish_time":    finishedAt,
				"result_count":   len(records),
				"compare_result": payload,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		for i := range records {
			records[i].TaskRef = task.ID
		}
		if len(records) > 0 {
			if err := tx.CreateInBatches(records, 100).Error; err != nil {
				return err
			}
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("complete compare task %s: %w", taskID, err)
	}
	return applied, nil
}

// Fail 将任务置为 failed，带与 Complete 相同的 processing 守卫。
func (s *gormStore) Fail(ctx context.Context, taskID string, errMsg string, finishedAt time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.CompareTask{}).
		Where("task_id = ? AND status = ?", taskID, model.TaskStatusProcessing).
		Updates(map[string]interface{}{
			"status":        model.TaskStatusFailed,
			"end_time":      finishedAt,
			"finish_time":   finishedAt,
			"error_message": errMsg,
		})
	if res.Error != nil {
		return false, fmt.Errorf("fail compare task %s: %w", taskID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Delete 删除任务与其全部价格记录（同一事务）。
func (s *gormStore) Delete(ctx context.Context, taskID string) (bool, error) {
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var task model.CompareTask
		if err := tx.Where("task_id = ?", taskID).First(&task).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		if err := tx.Where("task_ref = ?", task.ID).Delete(&model.PriceRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&model.CompareTask{}, task.ID).Error; err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete compare task %s: %w", taskID, err)
	}
	return applied, nil
}

func (s *gormStore) Results(ctx context.Context, taskRef uint) ([]model.PriceRecord, error) {
	var records []model.PriceRecord
	err := s.db.WithContext(ctx).
		Where("task_ref = ?", taskRef).
		Order("price ASC, id ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("query results of task %d: %w", taskRef, err)
	}
	return records, nil
}
