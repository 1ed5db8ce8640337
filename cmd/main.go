// 兑换聚合引擎主程序
// 负责启动报价聚合服务，初始化聚合器适配器、缓存和上游回退代理
// 提供高性能的并发报价聚合与交易构建功能
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"defi-aggregator/swap-engine/internal/handlers"
	"defi-aggregator/swap-engine/internal/middleware"
	"defi-aggregator/swap-engine/internal/proxy"
	"defi-aggregator/swap-engine/internal/services"
	"defi-aggregator/swap-engine/internal/types"
	"defi-aggregator/swap-engine/pkg/cache"
	"defi-aggregator/swap-engine/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Application 兑换聚合应用程序
type Application struct {
	Config     *types.Config               // 应用配置
	Cache      cache.CacheManager          // 缓存管理器
	Aggregator *services.AggregatorService // 聚合服务
	Handler    *handlers.SwapHandler       // HTTP处理器
	Server     *http.Server                // HTTP服务器
	Logger     *logrus.Logger              // 日志记录器
}

// main 主函数
func main() {
	// 创建应用程序实例
	app, err := NewApplication()
	if err != nil {
		logrus.Fatalf("创建兑换聚合应用失败: %v", err)
	}

	// 启动应用程序
	if err := app.Run(); err != nil {
		logrus.Fatalf("运行兑换聚合应用失败: %v", err)
	}
}

// NewApplication 创建兑换聚合应用实例
func NewApplication() (*Application, error) {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}

	// 2. 初始化日志记录器
	logger := initLogger(cfg)
	logger.Infof("启动兑换聚合引擎 - 环境: %s", cfg.Server.Environment)

	// 3. 初始化缓存管理器
	// Redis未启用或连接失败时退化为进程内缓存，聚合语义不变
	var cacheManager cache.CacheManager
	if cfg.Redis.Enabled {
		logger.Info("初始化Redis缓存...")
		redisCache, err := cache.NewRedisCache(&cfg.Redis, logger)
		if err != nil {
			logger.Warnf("Redis缓存初始化失败，退化为内存缓存: %v", err)
			cacheManager = cache.NewMemoryCache()
		} else {
			cacheManager = redisCache
		}
	} else {
		logger.Info("Redis未启用，使用内存缓存")
		cacheManager = cache.NewMemoryCache()
	}

	// 4. 初始化聚合服务
	logger.Info("初始化报价聚合服务...")
	aggregatorService := services.NewAggregatorService(cfg, cacheManager, logger)

	// 5. 初始化HTTP处理器
	logger.Info("初始化HTTP处理器...")
	swapHandler := handlers.NewSwapHandler(aggregatorService, logger)

	// 6. 设置Gin模式
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 7. 创建HTTP路由器
	router, err := setupRouter(cfg, swapHandler, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化路由失败: %w", err)
	}

	// 8. 创建HTTP服务器
	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	return &Application{
		Config:     cfg,
		Cache:      cacheManager,
		Aggregator: aggregatorService,
		Handler:    swapHandler,
		Server:     server,
		Logger:     logger,
	}, nil
}

// Run 启动应用程序
func (app *Application) Run() error {
	// 创建用于监听系统信号的通道
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// 在goroutine中启动HTTP服务器
	go func() {
		app.Logger.Infof("兑换聚合引擎启动，监听端口: %s", app.Server.Addr)
		app.Logger.Info("API接口:")
		app.Logger.Infof("  报价聚合: POST http://localhost:%d/api/v1/quote", app.Config.Server.Port)
		app.Logger.Infof("  交易构建: POST http://localhost:%d/api/v1/build-tx", app.Config.Server.Port)
		app.Logger.Infof("  健康检查: GET  http://localhost:%d/health", app.Config.Server.Port)
		app.Logger.Infof("  性能指标: GET  http://localhost:%d/api/v1/metrics", app.Config.Server.Port)

		if err := app.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.Logger.Fatalf("HTTP服务器启动失败: %v", err)
		}
	}()

	// 等待中断信号
	<-quit
	app.Logger.Info("接收到关闭信号，开始优雅关闭...")

	// 执行优雅关闭
	return app.Shutdown()
}

// Shutdown 优雅关闭应用程序
func (app *Application) Shutdown() error {
	// 设置关闭超时时间
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	app.Logger.Info("正在关闭HTTP服务器...")

	// 关闭HTTP服务器
	if err := app.Server.Shutdown(ctx); err != nil {
		app.Logger.Errorf("HTTP服务器关闭失败: %v", err)
		return err
	}

	app.Logger.Info("正在关闭缓存连接...")

	// 关闭缓存连接
	if err := app.Cache.Close(); err != nil {
		app.Logger.Errorf("缓存关闭失败: %v", err)
		return err
	}

	app.Logger.Info("兑换聚合引擎已优雅关闭")
	return nil
}

// initLogger 初始化日志记录器
func initLogger(cfg *types.Config) *logrus.Logger {
	logger := logrus.New()

	// 设置日志级别
	level, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// 设置日志格式
	if cfg.Server.Environment == "production" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			ForceColors:     true,
		})
	}

	return logger
}

// setupRouter 设置HTTP路由器
func setupRouter(cfg *types.Config, handler *handlers.SwapHandler, logger *logrus.Logger) (*gin.Engine, error) {
	router := gin.New()

	// 添加中间件
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.CORS())

	if cfg.RateLimit.Enabled {
		rateLimiter := middleware.NewRateLimiter(&cfg.RateLimit, logger)
		router.Use(rateLimiter.Handler())
	}

	// 健康检查路由
	router.GET("/health", handler.HealthCheck)

	// API路由组
	v1 := router.Group("/api/v1")
	{
		// 核心聚合接口
		v1.POST("/quote", handler.GetQuote)
		v1.POST("/build-tx", handler.BuildTransaction)

		// 监控接口
		v1.GET("/metrics", handler.GetMetrics)
		v1.GET("/providers/status", handler.GetProviderStatus)
	}

	// 未匹配路由透明转发到上游全功能聚合器
	fallback, err := proxy.NewFallbackProxy(cfg.Upstream.URL, cfg.Upstream.Timeout, logger)
	if err != nil {
		return nil, fmt.Errorf("创建上游回退代理失败: %w", err)
	}

	if fallback != nil {
		router.NoRoute(fallback.Handler())
	} else {
		router.NoRoute(func(c *gin.Context) {
			c.JSON(http.StatusNotFound, types.APIResponse{
				Success: false,
				Error: &types.APIError{
					Code:    "NOT_FOUND",
					Message: "请求的资源不存在",
				},
				Timestamp: time.Now().Unix(),
			})
		})
	}

	return router, nil
}
