package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/mwqlight/auto-value-pliot/internal/model"

	"gorm.io/gorm"
)

// Registry 平台配置注册表，负责回答"某平台当前是否可用、参数是什么"。
//
// 配置存在数据库里（platform_configs 表），读多写少。
// 平台未配置或被禁用是正常业务状态而不是错误：
// GetEnabled 对这两种情况都返回 (nil, false, nil)，
// error 只用于数据库本身不可用。
type Registry struct {
	db *gorm.DB
}

// NewRegistry 创建平台配置注册表。
func NewRegistry(db *gorm.DB) *Registry {
	return &Registry{db: db}
}

// Get 按平台编码查询配置，不存在时返回 (nil, nil)。
func (r *Registry) Get(ctx context.Context, code string) (*model.PlatformConfig, error) {
	var cfg model.PlatformConfig
	err := r.db.WithContext(ctx).Where("platform_code = ?", code).First(&cfg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query platform config %s: %w", code, err)
	}
	return &cfg, nil
}

// GetEnabled 按编码查询配置，第二个返回值表示平台是否存在且启用。
func (r *Registry) GetEnabled(ctx context.Context, code string) (*model.PlatformConfig, bool, error) {
	cfg, err := r.Get(ctx, code)
	if err != nil {
		return nil, false, err
	}
	if cfg == nil || !cfg.Enabled {
		return nil, false, nil
	}
	return cfg, true, nil
}

// ListEnabled 返回全部启用的平台配置。
func (r *Registry) ListEnabled(ctx context.Context) ([]model.PlatformConfig, error) {
	var configs []model.PlatformConfig
	if err := r.db.WithContext(ctx).Where("enabled = ?", true).Find(&configs).Error; err != nil {
		return nil, fmt.Errorf("list enabled platforms: %w", err)
	}
	return configs, nil
}

// EnabledCodes 返回全部启用平台的编码。
func (r *Registry) EnabledCodes(ctx context.Context) ([]string, error) {
	configs, err := r.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}
	codes := make([]string, 0, len(configs))
	for _, c := range configs {
		codes = append(codes, c.PlatformCode)
	}
	return codes, nil
}

// Available 报告平台是否存在、启用且已注册数据源实现。
func (r *Registry) Available(ctx context.Context, code string, sources Sources) (bool, error) {
	if _, ok := sources.Lookup(code); !ok {
		return false, nil
	}
	_, enabled, err := r.GetEnabled(ctx, code)
	return enabled, err
}
