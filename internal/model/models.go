package model

import (
	"time"
)

// TaskStatus 比价任务状态。
//
// 任务创建即进入 processing（对调用方而言创建与进入处理是原子的，
// 不存在可观测的 pending 窗口），终态为 completed / failed，
// 终态之后不再发生任何状态迁移。
type TaskStatus string

const (
	TaskStatusProcessing TaskStatus = "processing" // 处理中
	TaskStatusCompleted  TaskStatus = "completed"  // 已完成（终态）
	TaskStatusFailed     TaskStatus = "failed"     // 失败（终态）
)

// Terminal 返回该状态是否为终态。
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// CompareTask 表示一次比价任务。
//
// TaskID 是对外暴露的任务标识（UUID），ID 仅作为数据库代理主键使用。
// 任务由编排服务创建并由其完成回调独占修改，读路径从不修改任务。
type CompareTask struct {
	ID        uint      `gorm:"primaryKey" json:"-"` // 代理主键
	CreatedAt time.Time `json:"createTime"`          // 创建时间
	UpdatedAt time.Time `json:"updateTime"`          // 更新时间

	TaskID      string `gorm:"type:varchar(64);uniqueIndex;not null" json:"taskId"` // 对外任务标识（UUID）
	UserID      uint   `gorm:"index" json:"userId"`                                 // 发起用户 ID
	ProductName string `gorm:"type:varchar(255);not null" json:"productName"`       // 查询的商品名称

	Status   TaskStatus `gorm:"type:varchar(16);not null;default:processing" json:"status"` // 任务状态
	Progress int        `gorm:"default:0" json:"progress"`                                  // 任务进度（0-100，仅供展示）

	StartTime  *time.Time `json:"startTime"`  // 任务开始时间
	EndTime    *time.Time `json:"endTime"`    // 任务结束时间
	FinishTime *time.Time `json:"finishTime"` // 任务完成时间

	ResultCount   int    `gorm:"default:0" json:"resultCount"` // 比价结果数量（仅在完成时写入一次）
	ErrorMessage  string `gorm:"type:text" json:"errorMessage"` // 错误信息（当且仅当 failed 时非空）
	CompareResult string `gorm:"type:longtext" json:"-"`        // 比价结果（JSON 序列化）
}

// PriceRecord 表示某平台对一个商品的一条价格观测。
//
// 价格记录归属于一个比价任务（通过 TaskRef 外键显式关联），
// 删除任务时级联删除其全部价格记录。
type PriceRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createTime"`
	UpdatedAt time.Time `json:"-"`

	TaskRef           uint      `gorm:"index;not null" json:"-"`                    // 所属任务的代理主键
	PlatformCode      string    `gorm:"type:varchar(32);not null" json:"platform"`  // 平台代码：taobao / jd / pdd / suning / vip
	PlatformProductID string    `gorm:"type:varchar(128)" json:"platformProductId"` // 平台商品 ID
	Price             float64   `gorm:"type:decimal(10,2)" json:"price"`            // 商品价格
	OriginalPrice     float64   `gorm:"type:decimal(10,2)" json:"originalPrice"`    // 原价
	Discount          string    `gorm:"type:varchar(32)" json:"discount"`           // 折扣信息
	Sales             int       `json:"sales"`                                      // 销量
	Rating            float64   `gorm:"type:decimal(3,1)" json:"rating"`            // 商品评分
	ShopName          string    `gorm:"type:varchar(128)" json:"shopName"`          // 店铺名称
	ShopRating        float64   `gorm:"type:decimal(3,1)" json:"shopRating"`        // 店铺评分
	Delivery          string    `gorm:"type:varchar(64)" json:"delivery"`           // 配送信息
	ProductURL        string    `gorm:"type:varchar(512)" json:"productUrl"`        // 商品链接
	IsLowest          bool      `gorm:"default:false" json:"isLowest"`              // 是否为本次比价的最低价
	CrawlTime         time.Time `json:"crawlTime"`                                  // 抓取时间
}

// PlatformConfig 平台接入配置。
//
// 读多写少，由管理端维护；Enabled=false 的平台在聚合扇出时视为不存在。
type PlatformConfig struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createTime"`
	UpdatedAt time.Time `json:"updateTime"`

	PlatformCode  string `gorm:"type:varchar(32);uniqueIndex;not null" json:"platformCode"` // 平台代码（唯一）
	PlatformName  string `gorm:"type:varchar(64)" json:"platformName"`                      // 平台展示名
	APIBaseURL    string `gorm:"type:varchar(255)" json:"apiBaseUrl"`                       // 平台 API 基础 URL
	SearchAPIPath string `gorm:"type:varchar(255)" json:"searchApiPath"`                    // 搜索 API 路径模板
	DetailAPIPath string `gorm:"type:varchar(255)" json:"detailApiPath"`                    // 详情 API 路径模板
	TimeoutMs     int    `gorm:"default:5000" json:"timeout"`                               // 单次请求超时（毫秒）
	MaxRetries    int    `gorm:"default:3" json:"maxRetries"`                               // 最大重试次数
	Enabled       bool   `gorm:"default:true" json:"enabled"`                               // 是否启用
	RateLimitMs   int    `gorm:"default:1000" json:"rateLimit"`                             // 请求频率限制（毫秒/次）
}

// Timeout 返回平台请求超时时间。
func (c *PlatformConfig) Timeout() time.Duration {
	if c == nil || c.TimeoutMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// RatePerSecond 将 RateLimitMs（毫秒/次）换算为令牌桶速率（次/秒）。
func (c *PlatformConfig) RatePerSecond() float64 {
	if c == nil || c.RateLimitMs <= 0 {
		return 0
	}
	return 1000.0 / float64(c.RateLimitMs)
}

// Product 表示聚合后的商品档案（商品服务使用）。
type Product struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createTime"`
	UpdatedAt time.Time `json:"updateTime"`

	Title             string  `gorm:"type:varchar(255);not null" json:"title"`    // 商品标题
	ImageURL          string  `gorm:"type:varchar(512)" json:"imageUrl"`          // 商品图片
	ProductURL        string  `gorm:"type:varchar(512)" json:"productUrl"`        // 商品链接
	Platform          string  `gorm:"type:varchar(32);index" json:"platform"`     // 所在平台
	PlatformProductID string  `gorm:"type:varchar(128)" json:"platformProductId"` // 平台商品 ID
	Price             float64 `gorm:"type:decimal(10,2)" json:"price"`            // 价格
	OriginalPrice     float64 `gorm:"type:decimal(10,2)" json:"originalPrice"`    // 原价
	Sales             int     `json:"sales"`                                      // 销量
	Rating            float64 `gorm:"type:decimal(3,1)" json:"rating"`            // 评分
	ShopName          string  `gorm:"type:varchar(128)" json:"shopName"`          // 店铺名称
	Brand             string  `gorm:"type:varchar(64)" json:"brand"`              // 品牌
	Model             string  `gorm:"type:varchar(64)" json:"model"`              // 型号
	Category          string  `gorm:"type:varchar(64)" json:"category"`           // 分类
}
