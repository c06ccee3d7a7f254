package api

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/mwqlight/auto-value-pliot/internal/model"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// defaultPlatforms 内置平台的初始配置。
//
// 只补齐缺失的行，不覆盖已有配置：管理员对超时、限流、
// 启用状态的修改在重启后保留。
var defaultPlatforms = []model.PlatformConfig{
	{PlatformCode: "taobao", PlatformName: "淘宝", APIBaseURL: "https://api.taobao.com", SearchAPIPath: "/search", DetailAPIPath: "/item/%s", TimeoutMs: 5000, MaxRetries: 3, Enabled: true, RateLimitMs: 1000},
	{PlatformCode: "jd", PlatformName: "京东", APIBaseURL: "https://api.jd.com", SearchAPIPath: "/search", DetailAPIPath: "/item/%s", TimeoutMs: 5000, MaxRetries: 3, Enabled: true, RateLimitMs: 800},
	{PlatformCode: "pdd", PlatformName: "拼多多", APIBaseURL: "https://api.pinduoduo.com", SearchAPIPath: "/search", DetailAPIPath: "/goods/%s", TimeoutMs: 5000, MaxRetries: 3, Enabled: true, RateLimitMs: 1200},
	{PlatformCode: "suning", PlatformName: "苏宁易购", APIBaseURL: "https://api.suning.com", SearchAPIPath: "/search", DetailAPIPath: "/product/%s", TimeoutMs: 5000, MaxRetries: 3, Enabled: true, RateLimitMs: 1000},
	{PlatformCode: "vip", PlatformName: "唯品会", APIBaseURL: "https://api.vip.com", SearchAPIPath: "/search", DetailAPIPath: "/product/%s", TimeoutMs: 5000, MaxRetries: 3, Enabled: true, RateLimitMs: 1500},
}

// seedPlatforms 启动时补齐内置平台配置。
func (s *Server) seedPlatforms(ctx context.Context) error {
	for _, p := range defaultPlatforms {
		var existing model.PlatformConfig
		err := s.db.WithContext(ctx).
			Where("platform_code = ?", p.PlatformCode).
			First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := s.db.WithContext(ctx).Create(&p).Error; err != nil {
			return err
		}
		s.logger.Info("seeded platform config", slog.String("platform", p.PlatformCode))
	}
	return s.seedAdminUser(ctx)
}

// seedAdminUser 启动时补齐默认管理员账号（已存在则跳过）。
func (s *Server) seedAdminUser(ctx context.Context) error {
	var existing model.User
	err := s.db.WithContext(ctx).Where("username = ?", "admin").First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	password := os.Getenv("ADMIN_PASSWORD")
	if password == "" {
		password = "admin123"
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	admin := model.User{
		Username: "admin",
		Password: string(hash),
		Nickname: "管理员",
		Role:     "admin",
	}
	if err := s.db.WithContext(ctx).Create(&admin).Error; err != nil {
		return err
	}
	s.logger.Info("seeded admin user", slog.String("username", admin.Username))
	return nil
}
