// Package handlers 兑换聚合HTTP处理器
// 提供RESTful API接口，处理报价聚合与交易构建请求
// 实现标准的HTTP错误处理和响应格式
package handlers

import (
	"fmt"
	"net/http"
	"time"

	"defi-aggregator/swap-engine/internal/services"
	"defi-aggregator/swap-engine/internal/types"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SwapHandler 兑换聚合处理器
// 处理报价聚合与交易构建相关的HTTP请求
type SwapHandler struct {
	aggregator *services.AggregatorService // 聚合服务
	logger     *logrus.Logger              // 日志记录器
	startedAt  time.Time                   // 服务启动时间
}

// NewSwapHandler 创建兑换处理器实例
func NewSwapHandler(aggregator *services.AggregatorService, logger *logrus.Logger) *SwapHandler {
	return &SwapHandler{
		aggregator: aggregator,
		logger:     logger,
		startedAt:  time.Now(),
	}
}

// ========================================
// 核心API接口
// ========================================

// GetQuote 获取聚合报价
// POST /api/v1/quote
// 聚合引擎的核心接口，返回按最优在前排序的报价集合
// 无可用路由时返回空报价列表（HTTP 200），与传输层错误严格区分
func (h *SwapHandler) GetQuote(c *gin.Context) {
	requestID := h.getOrGenerateRequestID(c)
	startTime := time.Now()

	h.logger.Infof("[%s] 收到报价请求", requestID)

	// 绑定请求参数
	var req types.SwapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warnf("[%s] 报价请求参数无效: %v", requestID, err)
		h.respondBadRequest(c, requestID, "请求参数无效", err)
		return
	}

	if req.RequestID == "" {
		req.RequestID = requestID
	}

	// 验证请求参数
	if err := h.validateSwapRequest(&req); err != nil {
		h.logger.Warnf("[%s] 报价请求验证失败: %v", requestID, err)
		h.respondBadRequest(c, requestID, err.Error(), nil)
		return
	}

	// 调用聚合服务
	response, err := h.aggregator.AggregateQuotes(c.Request.Context(), &req)
	if err != nil {
		h.handleRouterError(c, err, requestID)
		return
	}

	// 返回成功响应（空报价集合代表无路由，同样是成功）
	c.JSON(http.StatusOK, types.APIResponse{
		Success:   true,
		Data:      response,
		Timestamp: time.Now().Unix(),
		RequestID: requestID,
	})

	h.logger.Infof("[%s] 报价请求处理完成: quotes=%d, duration=%v",
		requestID, len(response.Quotes), time.Since(startTime))
}

// BuildTransaction 构建可签名交易
// POST /api/v1/build-tx
// 请求体为报价阶段返回的quote_context；严格路由到产生报价的聚合器
func (h *SwapHandler) BuildTransaction(c *gin.Context) {
	requestID := h.getOrGenerateRequestID(c)
	startTime := time.Now()

	h.logger.Infof("[%s] 收到交易构建请求", requestID)

	// 绑定报价上下文
	var qc types.QuoteContext
	if err := c.ShouldBindJSON(&qc); err != nil {
		h.logger.Warnf("[%s] 交易构建参数无效: %v", requestID, err)
		h.respondBadRequest(c, requestID, "请求参数无效", err)
		return
	}

	if qc.Provider == "" {
		h.respondBadRequest(c, requestID, "quote_context缺少provider", nil)
		return
	}

	// 调用聚合服务构建交易
	tx, err := h.aggregator.BuildTransaction(c.Request.Context(), &qc)
	if err != nil {
		h.handleRouterError(c, err, requestID)
		return
	}

	c.JSON(http.StatusOK, types.APIResponse{
		Success:   true,
		Data:      tx,
		Timestamp: time.Now().Unix(),
		RequestID: requestID,
	})

	h.logger.Infof("[%s] 交易构建完成: provider=%s, duration=%v",
		requestID, qc.Provider, time.Since(startTime))
}

// ========================================
// 监控和管理接口
// ========================================

// GetMetrics 获取服务指标
// GET /api/v1/metrics
func (h *SwapHandler) GetMetrics(c *gin.Context) {
	requestID := h.getOrGenerateRequestID(c)

	metrics := map[string]interface{}{
		"aggregator": h.aggregator.GetMetrics(),
		"timestamp":  time.Now().Unix(),
	}

	c.JSON(http.StatusOK, types.APIResponse{
		Success:   true,
		Data:      metrics,
		Timestamp: time.Now().Unix(),
		RequestID: requestID,
	})

	h.logger.Debugf("[%s] 指标查询完成", requestID)
}

// HealthCheck 健康检查
// GET /health
func (h *SwapHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"version":   "1.0.0",
		"uptime":    time.Since(h.startedAt).String(),
	})
}

// GetProviderStatus 获取聚合器状态
// GET /api/v1/providers/status
func (h *SwapHandler) GetProviderStatus(c *gin.Context) {
	requestID := h.getOrGenerateRequestID(c)

	c.JSON(http.StatusOK, types.APIResponse{
		Success:   true,
		Data:      h.aggregator.ProviderStatus(),
		Timestamp: time.Now().Unix(),
		RequestID: requestID,
	})

	h.logger.Debugf("[%s] 聚合器状态查询完成", requestID)
}

// ========================================
// 辅助方法
// ========================================

// validateSwapRequest 验证兑换请求参数
func (h *SwapHandler) validateSwapRequest(req *types.SwapRequest) error {
	if req.FromToken == "" {
		return fmt.Errorf("源代币地址不能为空")
	}
	if req.ToToken == "" {
		return fmt.Errorf("目标代币地址不能为空")
	}
	if req.FromToken == req.ToToken && req.FromChainID == req.ToChainID {
		return fmt.Errorf("源代币和目标代币不能相同")
	}
	if req.AmountIn.IsZero() || req.AmountIn.IsNegative() {
		return fmt.Errorf("输入数量必须大于0")
	}
	if !req.AmountIn.Equal(req.AmountIn.Truncate(0)) {
		return fmt.Errorf("输入数量必须为最小单位整数")
	}
	if req.FromChainID == 0 || req.ToChainID == 0 {
		return fmt.Errorf("链ID不能为0")
	}
	if req.UserAddress == "" {
		return fmt.Errorf("用户地址不能为空")
	}
	if req.SlippageBps > 5000 {
		return fmt.Errorf("滑点不能超过50%%")
	}
	return nil
}

// getOrGenerateRequestID 获取或生成请求ID
func (h *SwapHandler) getOrGenerateRequestID(c *gin.Context) string {
	if requestID := c.GetHeader("X-Request-ID"); requestID != "" {
		return requestID
	}
	if requestID := c.GetString("request_id"); requestID != "" {
		return requestID
	}

	requestID := uuid.New().String()
	c.Set("request_id", requestID)
	return requestID
}

// respondBadRequest 返回400响应
func (h *SwapHandler) respondBadRequest(c *gin.Context, requestID, message string, err error) {
	apiErr := &types.APIError{
		Code:    types.ErrCodeInvalidRequest,
		Message: message,
	}
	if err != nil {
		apiErr.Details = map[string]interface{}{"error": err.Error()}
	}

	c.JSON(http.StatusBadRequest, types.APIResponse{
		Success:   false,
		Error:     apiErr,
		Timestamp: time.Now().Unix(),
		RequestID: requestID,
	})
}

// handleRouterError 处理聚合服务错误
// 未知聚合器（build-tx上下文无法路由）是无效输入，与上游故障严格区分
func (h *SwapHandler) handleRouterError(c *gin.Context, err error, requestID string) {
	if routerErr, ok := err.(*types.RouterError); ok {
		var statusCode int
		switch routerErr.Code {
		case types.ErrCodeInvalidRequest, types.ErrCodeUnknownProvider:
			statusCode = http.StatusBadRequest
		case types.ErrCodeProviderError:
			statusCode = http.StatusBadGateway
		default:
			statusCode = http.StatusInternalServerError
		}

		c.JSON(statusCode, types.APIResponse{
			Success: false,
			Error: &types.APIError{
				Code:    routerErr.Code,
				Message: routerErr.Message,
			},
			Timestamp: time.Now().Unix(),
			RequestID: requestID,
		})

		if statusCode >= 500 {
			h.logger.Errorf("[%s] 聚合服务错误: %v", requestID, err)
		} else {
			h.logger.Warnf("[%s] 聚合服务错误: %v", requestID, err)
		}
		return
	}

	// 未知错误
	c.JSON(http.StatusInternalServerError, types.APIResponse{
		Success: false,
		Error: &types.APIError{
			Code:    types.ErrCodeInternalError,
			Message: "内部服务错误",
		},
		Timestamp: time.Now().Unix(),
		RequestID: requestID,
	})

	h.logger.Errorf("[%s] 未知错误: %v", requestID, err)
}
