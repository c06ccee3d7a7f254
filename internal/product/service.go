package product

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mwqlight/auto-value-pliot/internal/model"
	"github.com/mwqlight/auto-value-pliot/internal/pkg/cache"

	"gorm.io/gorm"
)

// ErrProductNotFound 商品不存在。
var ErrProductNotFound = errors.New("product not found")

const (
	searchCacheTTL   = time.Hour
	detailCacheTTL   = 30 * time.Minute
	platformCacheTTL = 30 * time.Minute
	hotCacheTTL      = 15 * time.Minute
)

// Service 商品档案服务。
//
// 商品表存的是聚合后的商品画像（跨平台去重前的原始条目），
// 读路径全部 cache-aside；写入后精确删除 ID 缓存，
// 并清扫搜索/平台/热门三类无法精确定位的派生缓存。
type Service struct {
	db     *gorm.DB
	cache  *cache.Cache
	logger *slog.Logger
}

// NewService 创建商品服务。
func NewService(db *gorm.DB, c *cache.Cache, logger *slog.Logger) *Service {
	return &Service{db: db, cache: c, logger: logger}
}

// Search 按关键词模糊搜索商品（标题/品牌/型号），cache-aside。
func (s *Service) Search(ctx context.Context, keyword string, page, size int) ([]model.Product, error) {
	page, size = normalizePage(page, size)

	key := fmt.Sprintf("product:search:%s:%d:%d", keyword, page, size)
	var cached []model.Product
	if s.cache.Get(ctx, key, &cached) {
		return cached, nil
	}

	like := "%" + keyword + "%"
	var products []model.Product
	err := s.db.WithContext(ctx).
		Where("title LIKE ? OR brand LIKE ? OR model LIKE ?", like, like, like).
		Order("updated_at DESC").
		Offset((page - 1) * size).
		Limit(size).
		Find(&products).Error
	if err != nil {
		return nil, fmt.Errorf("search products: %w", err)
	}

	s.cache.Set(ctx, key, products, searchCacheTTL)
	return products, nil
}

// GetByID 按主键查询商品，cache-aside。
func (s *Service) GetByID(ctx context.Context, id uint) (*model.Product, error) {
	key := fmt.Sprintf("product:id:%d", id)
	var cached model.Product
	if s.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	var p model.Product
	err := s.db.WithContext(ctx).First(&p, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("query product %d: %w", id, err)
	}

	s.cache.Set(ctx, key, &p, detailCacheTTL)
	return &p, nil
}

// ListByPlatform 按平台分页查询商品，cache-aside。
func (s *Service) ListByPlatform(ctx context.Context, platformCode string, page, size int) ([]model.Product, error) {
	page, size = normalizePage(page, size)

	key := fmt.Sprintf("product:platform:%s:%d:%d", platformCode, page, size)
	var cached []model.Product
	if s.cache.Get(ctx, key, &cached) {
		return cached, nil
	}

	var products []model.Product
	err := s.db.WithContext(ctx).
		Where("platform = ?", platformCode).
		Order("updated_at DESC").
		Offset((page - 1) * size).
		Limit(size).
		Find(&products).Error
	if err != nil {
		return nil, fmt.Errorf("list products by platform: %w", err)
	}

	s.cache.Set(ctx, key, products, platformCacheTTL)
	return products, nil
}

// Hot 返回最近更新的热门商品，cache-aside。
func (s *Service) Hot(ctx context.Context, limit int) ([]model.Product, error) {
	if limit < 1 || limit > 100 {
		limit = 10
	}

	key := fmt.Sprintf("product:hot:%d", limit)
	var cached []model.Product
	if s.cache.Get(ctx, key, &cached) {
		return cached, nil
	}

	var products []model.Product
	err := s.db.WithContext(ctx).
		Order("updated_at DESC").
		Limit(limit).
		Find(&products).Error
	if err != nil {
		return nil, fmt.Errorf("list hot products: %w", err)
	}

	s.cache.Set(ctx, key, products, hotCacheTTL)
	return products, nil
}

// Save 保存或更新单个商品，并失效其关联缓存。
func (s *Service) Save(ctx context.Context, p *model.Product) error {
	if err := s.db.WithContext(ctx).Save(p).Error; err != nil {
		return fmt.Errorf("save product: %w", err)
	}
	s.invalidate(ctx, p.ID)
	return nil
}

// BatchSave 批量保存商品，并逐个失效关联缓存。
func (s *Service) BatchSave(ctx context.Context, products []model.Product) error {
	if len(products) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Save(&products).Error; err != nil {
		return fmt.Errorf("batch save products: %w", err)
	}
	for i := range products {
		s.cache.Delete(ctx, fmt.Sprintf("product:id:%d", products[i].ID))
	}
	s.sweepDerived(ctx)
	return nil
}

// invalidate 精确删除 ID 缓存并清扫派生缓存。
func (s *Service) invalidate(ctx context.Context, id uint) {
	s.cache.Delete(ctx, fmt.Sprintf("product:id:%d", id))
	s.sweepDerived(ctx)
}

// sweepDerived 清扫无法精确定位的列表/搜索派生缓存。
func (s *Service) sweepDerived(ctx context.Context) {
	s.cache.DeleteByPrefix(ctx, "product:search:")
	s.cache.DeleteByPrefix(ctx, "product:platform:")
	s.cache.DeleteByPrefix(ctx, "product:hot:")
}

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 10
	}
	return page, size
}
