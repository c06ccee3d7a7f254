package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mwqlight/auto-value-pliot/internal/aggregate"
	"github.com/mwqlight/auto-value-pliot/internal/api/auth"
	"github.com/mwqlight/auto-value-pliot/internal/api/middleware"
	"github.com/mwqlight/auto-value-pliot/internal/api/response"
	"github.com/mwqlight/auto-value-pliot/internal/compare"
	"github.com/mwqlight/auto-value-pliot/internal/config"
	"github.com/mwqlight/auto-value-pliot/internal/model"
	"github.com/mwqlight/auto-value-pliot/internal/pkg/cache"
	"github.com/mwqlight/auto-value-pliot/internal/pkg/metrics"
	"github.com/mwqlight/auto-value-pliot/internal/pkg/queue"
	"github.com/mwqlight/auto-value-pliot/internal/pkg/ratelimit"
	"github.com/mwqlight/auto-value-pliot/internal/platform"
	"github.com/mwqlight/auto-value-pliot/internal/product"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// CompareService 比价编排接口（供 HTTP 层与测试使用）。
type CompareService interface {
	StartTask(ctx context.Context, userID uint, productName string) (*model.CompareTask, error)
	GetTasks(ctx context.Context, page, size int) ([]model.CompareTask, error)
	GetTask(ctx context.Context, taskID string) (*model.CompareTask, error)
	GetResults(ctx context.Context, taskID string) ([]model.PriceRecord, error)
	DeleteTask(ctx context.Context, taskID string) error
}

// ProductService 商品档案接口。
type ProductService interface {
	Search(ctx context.Context, keyword string, page, size int) ([]model.Product, error)
	GetByID(ctx context.Context, id uint) (*model.Product, error)
	ListByPlatform(ctx context.Context, platformCode string, page, size int) ([]model.Product, error)
	Hot(ctx context.Context, limit int) ([]model.Product, error)
}

// CrawlerService 平台侧搜索与详情接口。
type CrawlerService interface {
	Search(ctx context.Context, keyword string, codes []string) ([]model.PriceRecord, error)
	SearchPlatform(ctx context.Context, code, keyword string) ([]model.PriceRecord, error)
	Detail(ctx context.Context, code, productID string) (*model.PriceRecord, error)
}

// PlatformDirectory 平台可用性查询接口。
type PlatformDirectory interface {
	EnabledCodes(ctx context.Context) ([]string, error)
	Available(ctx context.Context, code string, sources platform.Sources) (bool, error)
}

// Server 封装 API 服务所需的依赖和路由处理。
//
// 它持有数据库连接、Redis 客户端、聚合任务队列以及 Gin 路由引擎。
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	db      *gorm.DB
	rdb     *redis.Client
	router  *gin.Engine
	jobs    *queue.Queue
	auth    *auth.Handler
	sources platform.Sources

	compareSvc CompareService
	productSvc ProductService
	crawlerSvc CrawlerService
	directory  PlatformDirectory
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 连接 MySQL 并执行自动迁移
// 2. 连接 Redis 并构造缓存层与限流器
// 3. 组装平台数据源、聚合引擎与比价编排服务
// 4. 初始化 Gin 路由引擎
//
// 参数:
//
//	ctx: 上下文
//	cfg: 配置对象
//	logger: 日志记录器
//
// 返回值:
//
//	*Server: 初始化完成的服务器实例
//	error: 初始化失败返回错误
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&model.User{},
		&model.CompareTask{},
		&model.PriceRecord{},
		&model.PlatformConfig{},
		&model.Product{},
	); err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	metrics.InitMetrics(cfg.App.WorkerPoolSize)

	c := cache.New(rdb, logger, cfg.App.CachePrefix)
	limiter := ratelimit.New(rdb, logger, cfg.App.CachePrefix+"ratelimit:", cfg.App.RateBurst)
	sources := platform.BuiltinSources()
	registry := platform.NewRegistry(db)
	engine := aggregate.New(registry, sources, limiter, c, logger)
	jobs := queue.New(logger, cfg.App.WorkerPoolSize, cfg.App.QueueCapacity)

	compareSvc := compare.NewService(compare.NewStore(db), engine, jobs, c, logger)
	productSvc := product.NewService(db, c, logger)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		rdb:        rdb,
		router:     r,
		jobs:       jobs,
		auth:       auth.NewHandler(db, cfg.Security.JWTSecret, cfg.App.TokenTTL, logger),
		sources:    sources,
		compareSvc: compareSvc,
		productSvc: productSvc,
		crawlerSvc: engine,
		directory:  registry,
	}
	s.registerRoutes()

	if cfg.App.SeedPlatforms {
		if err := s.seedPlatforms(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// StartWorkers 启动聚合 Worker Pool。
func (s *Server) StartWorkers(ctx context.Context) {
	s.jobs.Start(ctx)
}

// Run 启动 Worker Pool 与 HTTP 服务器（阻塞直至出错）。
func (s *Server) Run(ctx context.Context) error {
	s.StartWorkers(ctx)
	s.logger.Info("api server listening", slog.String("addr", s.cfg.App.HTTPAddr))
	return s.router.Run(s.cfg.App.HTTPAddr)
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// Close 停止队列并关闭数据库与缓存连接。
func (s *Server) Close() error {
	var firstErr error
	if s.jobs != nil {
		if err := s.jobs.ShutdownWithTimeout(30 * time.Second); err != nil {
			firstErr = err
		}
	}
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else if closeErr := sqlDB.Close(); closeErr != nil && firstErr == nil {
			firstErr = closeErr
		}
	}
	return firstErr
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.handleHealthz)

	v1 := s.router.Group("/api/v1")
	v1.POST("/auth/register", s.auth.Register)
	v1.POST("/auth/login", s.auth.Login)

	authed := v1.Group("/")
	authed.Use(middleware.Auth(s.cfg.Security.JWTSecret))

	authed.POST("/compare/start", s.handleStartCompare)
	authed.GET("/compare/tasks", s.handleListCompareTasks)
	authed.GET("/compare/tasks/:taskId", s.handleGetCompareTask)
	authed.GET("/compare/tasks/:taskId/products", s.handleGetCompareResults)
	authed.DELETE("/compare/tasks/:taskId", s.handleDeleteCompareTask)

	authed.GET("/products/search", s.handleSearchProducts)
	authed.GET("/products/hot", s.handleHotProducts)
	authed.GET("/products/platform/:platform", s.handleProductsByPlatform)
	authed.GET("/products/:id", s.handleGetProduct)

	authed.GET("/crawler/search", s.handleCrawlerSearch)
	authed.GET("/crawler/detail", s.handleCrawlerDetail)
	authed.GET("/crawler/platforms", s.handleSupportedPlatforms)
	authed.GET("/crawler/platform/status", s.handlePlatformStatus)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.db == nil || s.rdb == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	var one int
	if err := s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// startCompareRequest 启动比价任务的请求参数。
type startCompareRequest struct {
	ProductName string `json:"productName" binding:"required"`
}

// handleStartCompare 创建比价任务并立即返回。
//
// POST /api/v1/compare/start
func (s *Server) handleStartCompare(c *gin.Context) {
	var req startCompareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	name := strings.TrimSpace(req.ProductName)
	if name == "" {
		response.Error(c, http.StatusBadRequest, "productName is required")
		return
	}

	task, err := s.compareSvc.StartTask(c.Request.Context(), middleware.UserID(c), name)
	if err != nil {
		s.logger.Error("start compare task failed", slog.String("error", err.Error()))
		response.Error(c, http.StatusInternalServerError, "启动比价任务失败")
		return
	}
	response.OK(c, task)
}

// handleListCompareTasks 分页返回比价任务列表。
//
// GET /api/v1/compare/tasks?page=1&size=20
func (s *Server) handleListCompareTasks(c *gin.Context) {
	page := parseQueryInt(c, "page", 1)
	size := parseQueryInt(c, "size", 20)

	tasks, err := s.compareSvc.GetTasks(c.Request.Context(), page, size)
	if err != nil {
		s.logger.Error("list compare tasks failed", slog.String("error", err.Error()))
		response.Error(c, http.StatusInternalServerError, "查询任务列表失败")
		return
	}
	if tasks == nil {
		tasks = []model.CompareTask{}
	}
	response.OK(c, tasks)
}

// handleGetCompareTask 返回单个比价任务。
//
// GET /api/v1/compare/tasks/:taskId
func (s *Server) handleGetCompareTask(c *gin.Context) {
	task, err := s.compareSvc.GetTask(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		if errors.Is(err, compare.ErrTaskNotFound) {
			response.Error(c, http.StatusNotFound, "任务不存在")
			return
		}
		s.logger.Error("get compare task failed", slog.String("error", err.Error()))
		response.Error(c, http.StatusInternalServerError, "查询任务失败")
		return
	}
	response.OK(c, task)
}

// handleGetCompareResults 返回比价结果（价格升序，恰好一条最低价标记）。
//
// GET /api/v1/compare/tasks/:taskId/products
func (s *Server) handleGetCompareResults(c *gin.Context) {
	records, err := s.compareSvc.GetResults(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		if errors.Is(err, compare.ErrTaskNotFound) {
			response.Error(c, http.StatusNotFound, "任务不存在")
			return
		}
		s.logger.Error("get compare results failed", slog.String("error", err.Error()))
		response.Error(c, http.StatusInternalServerError, "查询比价结果失败")
		return
	}
	if records == nil {
		records = []model.PriceRecord{}
	}
	response.OK(c, records)
}

// handleDeleteCompareTask 删除比价任务。
//
// DELETE /api/v1/compare/tasks/:taskId
func (s *Server) handleDeleteCompareTask(c *gin.Context) {
	err := s.compareSvc.DeleteTask(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		if errors.Is(err, compare.ErrTaskNotFound) {
			response.Error(c, http.StatusNotFound, "任务不存在")
			return
		}
		s.logger.Error("delete compare task failed", slog.String("error", err.Error()))
		response.Error(c, http.StatusInternalServerError, "删除任务失败")
		return
	}
	response.OK(c, nil)
}

// handleSearchProducts 按关键词搜索商品。
//
// GET /api/v1/products/search?keyword=xx&page=1&size=20
func (s *Server) handleSearchProducts(c *gin.Context) {
	keyword := strings.TrimSpace(c.Query("keyword"))
	if keyword == "" {
		response.Error(c, http.StatusBadRequest, "keyword is required")
		return
	}

	products, err := s.productSvc.Search(c.Request.Context(), keyword,
		parseQueryInt(c, "page", 1), parseQueryInt(c, "size", 20))
	if err != nil {
		s.logger.Error("search products failed", slog.String("error", err.Error()))
		response.Error(c, http.StatusInternalServerError, "搜索商品失败")
		return
	}
	if products == nil {
		products = []model.Product{}
	}
	response.OK(c, products)
}

// handleGetProduct 按 ID 返回商品详情。
//
// GET /api/v1/products/:id
func (s *Server) handleGetProduct(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid product id")
		return
	}

	p, err := s.productSvc.GetByID(c.Request.Context(), uint(id))
	if err != nil {
		if errors.Is(err, product.ErrProductNotFound) {
			response.Error(c, http.StatusNotFound, "商品不存在")
			return
		}
		s.logger.Error("get product failed", slog.String("error", err.Error()))
		response.Error(c, http.StatusInternalServerError, "查询商品失败")
		return
	}
	response.OK(c, p)
}

// handleProductsByPlatform 按平台返回商品列表。
//
// GET /api/v1/products/platform/:platform?page=1&size=20
func (s *Server) handleProductsByPlatform(c *gin.Context) {
	products, err := s.productSvc.ListByPlatform(c.Request.Context(), c.Param("platform"),
		parseQueryInt(c, "page", 1), parseQueryInt(c, "size", 20))
	if err != nil {
		s.logger.Error("list products by platform failed", slog.String("error", err.Error()))
		response.Error(c, http.StatusInternalServerError, "查询平台商品失败")
		return
	}
	if products == nil {
		products = []model.Product{}
	}
	response.OK(c, products)
}

// handleHotProducts 返回热门商品。
//
// GET /api/v1/products/hot?limit=10
func (s *Server) handleHotProducts(c *gin.Context) {
	products, err := s.productSvc.Hot(c.Request.Context(), parseQueryInt(c, "limit", 10))
	if err != nil {
		s.logger.Error("list hot products failed", slog.String("error", err.Error()))
		response.Error(c, http.StatusInternalServerError, "查询热门商品失败")
		return
	}
	if products == nil {
		products = []model.Product{}
	}
	response.OK(c, products)
}

// handleCrawlerSearch 平台侧搜索。
//
// GET /api/v1/crawler/search?keyword=xx&platformCode=jd
// platformCode 为空时并发搜索全部启用平台。
func (s *Server) handleCrawlerSearch(c *gin.Context) {
	keyword := strings.TrimSpace(c.Query("keyword"))
	if keyword == "" {
		response.Error(c, http.StatusBadRequest, "keyword is required")
		return
	}

	var (
		records []model.PriceRecord
		err     error
	)
	if code := strings.TrimSpace(c.Query("platformCode")); code != "" {
		records, err = s.crawlerSvc.SearchPlatform(c.Request.Context(), code, keyword)
	} else {
		records, err = s.crawlerSvc.Search(c.Request.Context(), keyword, nil)
	}
	if err != nil {
		s.logger.Error("crawler search failed", slog.String("error", err.Error()))
		response.Error(c, http.StatusInternalServerError, "搜索失败")
		return
	}
	if records == nil {
		records = []model.PriceRecord{}
	}
	response.OK(c, records)
}

// handleCrawlerDetail 平台侧商品详情。
//
// GET /api/v1/crawler/detail?platformProductId=xx&platformCode=jd
func (s *Server) handleCrawlerDetail(c *gin.Context) {
	productID := strings.TrimSpace(c.Query("platformProductId"))
	code := strings.TrimSpace(c.Query("platformCode"))
	if productID == "" || code == "" {
		response.Error(c, http.StatusBadRequest, "platformProductId and platformCode are required")
		return
	}

	record, err := s.crawlerSvc.Detail(c.Request.Context(), code, productID)
	if err != nil {
		s.logger.Error("crawler detail failed", slog.String("error", err.Error()))
		response.Error(c, http.StatusInternalServerError, "获取详情失败")
		return
	}
	if record == nil {
		response.Error(c, http.StatusNotFound, "商品不存在")
		return
	}
	response.OK(c, record)
}

// handleSupportedPlatforms 返回当前启用的平台编码列表。
//
// GET /api/v1/crawler/platforms
func (s *Server) handleSupportedPlatforms(c *gin.Context) {
	codes, err := s.directory.EnabledCodes(c.Request.Context())
	if err != nil {
		s.logger.Error("list platforms failed", slog.String("error", err.Error()))
		response.Error(c, http.StatusInternalServerError, "获取平台列表失败")
		return
	}
	if codes == nil {
		codes = []string{}
	}
	response.OK(c, codes)
}

// handlePlatformStatus 检查指定平台是否可用。
//
// GET /api/v1/crawler/platform/status?platformCode=jd
func (s *Server) handlePlatformStatus(c *gin.Context) {
	code := strings.TrimSpace(c.Query("platformCode"))
	if code == "" {
		response.Error(c, http.StatusBadRequest, "platformCode is required")
		return
	}

	available, err := s.directory.Available(c.Request.Context(), code, s.sources)
	if err != nil {
		s.logger.Error("check platform status failed", slog.String("error", err.Error()))
		response.Error(c, http.StatusInternalServerError, "检查平台状态失败")
		return
	}
	response.OK(c, available)
}

// parseQueryInt 解析查询参数中的整数值。
func parseQueryInt(c *gin.Context, key string, def int) int {
	val := c.Query(key)
	if val == "" {
		return def
	}
	iv, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return iv
}
