package platform

import (
	"context"

	"github.com/mwqlight/auto-value-pliot/internal/model"
)

// Source 表示一个可查询的电商平台数据源。
//
// Search 返回的记录只需携带平台侧字段（价格、店铺、销量等），
// 任务归属、是否最低价等字段由上层聚合时填充。
// 平台内部错误通过 error 返回，由聚合层决定容错策略。
type Source interface {
	// Code 平台编码（如 "taobao"），与 PlatformConfig.PlatformCode 对应。
	Code() string
	// Name 平台展示名。
	Name() string
	// Search 按关键词搜索商品价格记录。
	Search(ctx context.Context, keyword string) ([]model.PriceRecord, error)
	// Detail 按平台商品 ID 获取单条价格详情，未找到时返回 (nil, nil)。
	Detail(ctx context.Context, productID string) (*model.PriceRecord, error)
}

// Sources 按平台编码索引的数据源能力表。
//
// 平台是否可用由两层共同决定：能力表里有没有实现，
// 以及数据库配置 (PlatformConfig.Enabled) 是否启用。
// 新增平台只需注册一个 Source 实现并插入一行配置。
type Sources map[string]Source

// NewSources 将若干数据源组装成能力表，后注册者覆盖同编码的先注册者。
func NewSources(list ...Source) Sources {
	m := make(Sources, len(list))
	for _, s := range list {
		if s != nil {
			m[s.Code()] = s
		}
	}
	return m
}

// Lookup 按编码查找数据源，第二个返回值表示是否存在。
func (s Sources) Lookup(code string) (Source, bool) {
	src, ok := s[code]
	return src, ok
}

// Codes 返回全部已注册的平台编码。
func (s Sources) Codes() []string {
	codes := make([]string, 0, len(s))
	for code := range s {
		codes = append(codes, code)
	}
	return codes
}
