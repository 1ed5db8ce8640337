// Package middleware 聚合引擎HTTP中间件
// 提供请求日志、CORS、限流等中间件功能
// 实现统一的请求处理流水线
package middleware

import (
	"net/http"
	"sync"
	"time"

	"defi-aggregator/swap-engine/internal/types"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ========================================
// 请求日志中间件
// ========================================

// RequestLogger 请求日志中间件
// 记录所有请求的详细信息并透传请求ID
func RequestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		// 获取或生成请求ID
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
			c.Header("X-Request-ID", requestID)
		}
		c.Set("request_id", requestID)

		// 处理请求
		c.Next()

		// 记录请求完成
		duration := time.Since(startTime)
		statusCode := c.Writer.Status()

		logLevel := logrus.InfoLevel
		if statusCode >= 400 {
			logLevel = logrus.WarnLevel
		}
		if statusCode >= 500 {
			logLevel = logrus.ErrorLevel
		}

		logger.WithFields(logrus.Fields{
			"request_id":  requestID,
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status_code": statusCode,
			"duration_ms": duration.Milliseconds(),
			"client_ip":   c.ClientIP(),
		}).Log(logLevel, "请求完成")
	}
}

// ========================================
// CORS中间件
// ========================================

// CORS 跨域资源共享中间件
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// ========================================
// 限流中间件
// ========================================

// RateLimiter 基于令牌桶的按IP限流器
type RateLimiter struct {
	config   *types.RateLimitConfig   // 限流配置
	limiters map[string]*rate.Limiter // 按IP的限流器集合
	mutex    sync.Mutex               // 限流器映射锁
	logger   *logrus.Logger           // 日志记录器
}

// NewRateLimiter 创建限流器实例
func NewRateLimiter(config *types.RateLimitConfig, logger *logrus.Logger) *RateLimiter {
	return &RateLimiter{
		config:   config,
		limiters: make(map[string]*rate.Limiter),
		logger:   logger,
	}
}

// Handler 限流中间件入口
// 超出限额的请求返回429
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.config.Enabled {
			c.Next()
			return
		}

		limiter := rl.getLimiter(c.ClientIP())
		if !limiter.Allow() {
			rl.logger.Warnf("限流触发: client_ip=%s, path=%s", c.ClientIP(), c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, types.APIResponse{
				Success: false,
				Error: &types.APIError{
					Code:    "RATE_LIMIT_EXCEEDED",
					Message: "请求过于频繁，请稍后重试",
				},
				Timestamp: time.Now().Unix(),
			})
			return
		}

		c.Next()
	}
}

// getLimiter 获取或创建指定IP的限流器
func (rl *RateLimiter) getLimiter(clientIP string) *rate.Limiter {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	limiter, ok := rl.limiters[clientIP]
	if !ok {
		limiter = rate.NewLimiter(
			rate.Every(rl.config.Window/time.Duration(rl.config.Requests)),
			rl.config.Requests,
		)
		rl.limiters[clientIP] = limiter
	}
	return limiter
}
