package platform

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/mwqlight/auto-value-pliot/internal/model"
)

// profile 描述一个模拟平台的数据形态：返回多少条记录、价格阶梯、销量阶梯。
//
// 各平台的价格分布刻意错开，保证聚合结果里的最低价平台稳定可预期，
// 方便联调与测试。真实对接时用实现了 Source 的 HTTP 客户端替换即可。
type profile struct {
	code      string
	name      string
	count     int     // 搜索返回的记录条数
	basePrice float64 // 首条记录价格
	priceStep float64 // 相邻记录价格增量
	baseSales int     // 首条记录销量
	salesStep int     // 相邻记录销量增量
	delivery  string  // 配送描述

	// 详情接口的固定画像
	detailPrice    float64
	detailOriginal float64
	detailDiscount string
	detailSales    int
	detailRating   float64
	detailShop     string
	detailShopRate float64
}

var builtinProfiles = []profile{
	{
		code: "taobao", name: "淘宝",
		count: 5, basePrice: 299, priceStep: 10, baseSales: 1000, salesStep: 200,
		delivery:    "快递 免运费",
		detailPrice: 299, detailOriginal: 399, detailDiscount: "7.5折",
		detailSales: 1500, detailRating: 4.8, detailShop: "天猫旗舰店", detailShopRate: 4.9,
	},
	{
		code: "jd", name: "京东",
		count: 5, basePrice: 289, priceStep: 15, baseSales: 1500, salesStep: 300,
		delivery:    "京东物流 次日达",
		detailPrice: 289, detailOriginal: 389, detailDiscount: "7.4折",
		detailSales: 2000, detailRating: 4.9, detailShop: "京东自营", detailShopRate: 4.8,
	},
	{
		code: "pdd", name: "拼多多",
		count: 5, basePrice: 259, priceStep: 8, baseSales: 2000, salesStep: 500,
		delivery:    "快递 包邮",
		detailPrice: 259, detailOriginal: 359, detailDiscount: "7.2折",
		detailSales: 5000, detailRating: 4.7, detailShop: "拼多多官方店", detailShopRate: 4.6,
	},
	{
		code: "suning", name: "苏宁易购",
		count: 4, basePrice: 279, priceStep: 12, baseSales: 800, salesStep: 150,
		delivery:    "快递",
		detailPrice: 299, detailSales: 1000, detailRating: 4.5, detailShop: "苏宁易购官方店",
	},
	{
		code: "vip", name: "唯品会",
		count: 3, basePrice: 269, priceStep: 20, baseSales: 600, salesStep: 100,
		delivery:    "快递",
		detailPrice: 299, detailSales: 1000, detailRating: 4.5, detailShop: "唯品会官方店",
	},
}

var shopSuffixes = []string{"官方旗舰店", "品牌专卖店", "优质商家", "金牌卖家", "认证店铺"}

// MockSource 按 profile 生成确定性数据的模拟平台数据源。
type MockSource struct {
	p profile
}

// BuiltinSources 返回内置五个模拟平台组成的能力表。
func BuiltinSources() Sources {
	list := make([]Source, 0, len(builtinProfiles))
	for _, p := range builtinProfiles {
		list = append(list, &MockSource{p: p})
	}
	return NewSources(list...)
}

// NewMockSource 按自定义形态构造模拟数据源，主要供测试使用。
func NewMockSource(code, name string, count int, basePrice, priceStep float64) *MockSource {
	return &MockSource{p: profile{
		code: code, name: name,
		count: count, basePrice: basePrice, priceStep: priceStep,
		baseSales: 1000, salesStep: 100, delivery: "快递",
		detailPrice: basePrice, detailSales: 1000, detailRating: 4.5, detailShop: name,
	}}
}

func (m *MockSource) Code() string { return m.p.code }
func (m *MockSource) Name() string { return m.p.name }

// Search 生成 count 条价格递增的模拟记录。
//
// 商品 ID 由关键词哈希 + 序号构成，同一关键词多次搜索结果一致。
func (m *MockSource) Search(ctx context.Context, keyword string) ([]model.PriceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := time.Now()
	kw := hashKeyword(keyword)
	records := make([]model.PriceRecord, 0, m.p.count)
	for i := 1; i <= m.p.count; i++ {
		records = append(records, model.PriceRecord{
			PlatformCode:      m.p.code,
			PlatformProductID: fmt.Sprintf("%s_%d_%d", m.p.code, kw, i),
			Price:             m.p.basePrice + float64(i)*m.p.priceStep,
			Sales:             m.p.baseSales + i*m.p.salesStep,
			Rating:            4.5 + float64(i%5)*0.1,
			ShopName:          m.p.name + " " + shopSuffixes[i%len(shopSuffixes)],
			ShopRating:        4.6 + float64(i%4)*0.1,
			Delivery:          m.p.delivery,
			ProductURL:        fmt.Sprintf("https://%s.com/product/%d_%d", m.p.code, kw, i),
			CrawlTime:         now,
		})
	}
	return records, nil
}

// Detail 返回该平台的固定详情画像。
func (m *MockSource) Detail(ctx context.Context, productID string) (*model.PriceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if productID == "" {
		return nil, nil
	}

	return &model.PriceRecord{
		PlatformCode:      m.p.code,
		PlatformProductID: productID,
		Price:             m.p.detailPrice,
		OriginalPrice:     m.p.detailOriginal,
		Discount:          m.p.detailDiscount,
		Sales:             m.p.detailSales,
		Rating:            m.p.detailRating,
		ShopName:          m.p.detailShop,
		ShopRating:        m.p.detailShopRate,
		Delivery:          m.p.delivery,
		ProductURL:        fmt.Sprintf("https://%s.com/product/%s", m.p.code, productID),
		CrawlTime:         time.Now(),
	}, nil
}

func hashKeyword(keyword string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(keyword))
	return h.Sum32()
}
