// Package adapters 第三方聚合器适配器
// 提供统一的聚合器接口，封装不同聚合器的API差异
// 实现适配器模式，失败在适配器边界收敛为Unavailable
package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"defi-aggregator/swap-engine/internal/types"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// BaseAdapter 基础适配器结构
// 提供所有适配器的通用功能：HTTP客户端、重试、响应解析、金额换算
type BaseAdapter struct {
	config     *types.ProviderConfig // 聚合器配置（启动后不可变）
	fee        *types.FeePolicy      // 平台费注入策略
	httpClient *http.Client          // HTTP客户端
	logger     *logrus.Logger        // 日志记录器
	metrics    *AdapterMetrics       // 性能指标
}

// AdapterMetrics 适配器性能指标
// 记录适配器的运行时性能数据
type AdapterMetrics struct {
	TotalRequests   int64         `json:"total_requests"`    // 总请求数
	SuccessRequests int64         `json:"success_requests"`  // 成功请求数
	FailedRequests  int64         `json:"failed_requests"`   // 失败请求数
	AvgResponseTime time.Duration `json:"avg_response_time"` // 平均响应时间
	LastRequestTime time.Time     `json:"last_request_time"` // 最后请求时间
}

// NewBaseAdapter 创建基础适配器
// 初始化通用的HTTP客户端和配置
func NewBaseAdapter(config *types.ProviderConfig, fee *types.FeePolicy, logger *logrus.Logger) *BaseAdapter {
	// 创建专用的HTTP客户端
	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     30 * time.Second,
		},
	}

	return &BaseAdapter{
		config:     config,
		fee:        fee,
		httpClient: httpClient,
		logger:     logger,
		metrics:    &AdapterMetrics{},
	}
}

// ========================================
// 通用HTTP请求方法
// ========================================

// makeHTTPRequest 发送HTTP请求
// 统一的HTTP请求方法，包含5xx重试、超时、错误处理
// 参数:
//   - ctx: 上下文，用于超时控制
//   - method: HTTP方法
//   - url: 请求URL
//   - body: 请求体
//   - headers: 请求头
//
// 返回:
//   - []byte: 响应体
//   - error: 请求错误
func (b *BaseAdapter) makeHTTPRequest(ctx context.Context, method, url string, body io.Reader, headers map[string]string) ([]byte, error) {
	startTime := time.Now()

	b.logger.Debugf("[%s] 开始请求: %s %s", b.config.Name, method, url)

	// 创建HTTP请求
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}

	// 设置请求头
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "DeFi-Aggregator-Swap-Engine/1.0")

	// 添加自定义请求头
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	// 执行请求（带重试）
	var resp *http.Response
	var lastErr error

	for attempt := 0; attempt <= b.config.RetryCount; attempt++ {
		if attempt > 0 {
			// 重试前等待
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			}
			b.logger.Debugf("[%s] 重试请求: attempt=%d", b.config.Name, attempt)
		}

		resp, lastErr = b.httpClient.Do(req)
		if lastErr == nil && resp.StatusCode < 500 {
			// 请求成功或客户端错误（不重试）
			break
		}

		if resp != nil {
			resp.Body.Close()
		}
	}

	if lastErr != nil {
		b.updateMetrics(false, time.Since(startTime))
		return nil, fmt.Errorf("HTTP请求失败: %w", lastErr)
	}
	defer resp.Body.Close()

	// 读取响应体
	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		b.updateMetrics(false, time.Since(startTime))
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	// 检查HTTP状态码
	if resp.StatusCode >= 400 {
		b.updateMetrics(false, time.Since(startTime))
		return nil, fmt.Errorf("HTTP错误: status=%d, body=%s", resp.StatusCode, string(responseBody))
	}

	// 更新性能指标
	duration := time.Since(startTime)
	b.updateMetrics(true, duration)

	b.logger.Debugf("[%s] 请求完成: duration=%v, status=%d",
		b.config.Name, duration, resp.StatusCode)

	return responseBody, nil
}

// unavailableFromHTTPError 将HTTP层错误映射为Unavailable
// 超时和上游错误分别归类，保证错误不越过适配器边界
func (b *BaseAdapter) unavailableFromHTTPError(err error) *types.Unavailable {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewUnavailable(b.config.Name, types.ReasonTimeout, err)
	}
	return types.NewUnavailable(b.config.Name, types.ReasonUpstream, err)
}

// ========================================
// 通用数据处理方法
// ========================================

// parseJSONResponse 解析JSON响应
// 统一的JSON解析方法，包含错误处理
func (b *BaseAdapter) parseJSONResponse(data []byte, target interface{}) error {
	if err := json.Unmarshal(data, target); err != nil {
		b.logger.Errorf("[%s] JSON解析失败: %v, data=%s", b.config.Name, err, string(data))
		return fmt.Errorf("JSON解析失败: %w", err)
	}
	return nil
}

// ToSmallestUnit 将人类可读金额转换为最小单位整数
// 结果截断小数位，保证误差不超过1个最小单位且偏向平台
func ToSmallestUnit(amount decimal.Decimal, decimals int32) decimal.Decimal {
	return amount.Shift(decimals).Truncate(0)
}

// FromSmallestUnit 将最小单位整数转换为人类可读金额
func FromSmallestUnit(amount decimal.Decimal, decimals int32) decimal.Decimal {
	return amount.Shift(-decimals)
}

// minAmountAfterSlippage 按滑点计算最差输出数量
// 上游未返回最小输出时的统一兜底计算，结果截断到最小单位整数
func minAmountAfterSlippage(toAmount decimal.Decimal, slippageBps uint) decimal.Decimal {
	factor := decimal.New(10000-int64(slippageBps), -4)
	return toAmount.Mul(factor).Truncate(0)
}

// ========================================
// 性能指标管理
// ========================================

// updateMetrics 更新适配器性能指标
// 记录每次请求的结果和响应时间
func (b *BaseAdapter) updateMetrics(success bool, duration time.Duration) {
	b.metrics.TotalRequests++
	b.metrics.LastRequestTime = time.Now()

	if success {
		b.metrics.SuccessRequests++
	} else {
		b.metrics.FailedRequests++
	}

	// 更新平均响应时间（滑动平均）
	if b.metrics.TotalRequests == 1 {
		b.metrics.AvgResponseTime = duration
	} else {
		alpha := 0.1 // 平滑因子
		b.metrics.AvgResponseTime = time.Duration(
			float64(b.metrics.AvgResponseTime)*(1-alpha) + float64(duration)*alpha,
		)
	}
}

// GetMetrics 获取适配器性能指标
func (b *BaseAdapter) GetMetrics() *AdapterMetrics {
	return b.metrics
}

// ========================================
// 基础信息与适用性
// ========================================

// GetConfig 获取当前配置
func (b *BaseAdapter) GetConfig() *types.ProviderConfig {
	return b.config
}

// GetName 获取聚合器名称
func (b *BaseAdapter) GetName() string {
	return b.config.Name
}

// GetDisplayName 获取显示名称
func (b *BaseAdapter) GetDisplayName() string {
	return b.config.DisplayName
}

// Supports 检查是否适用于指定链组合
// 同链聚合器要求from==to且在支持列表中；跨链聚合器要求from!=to且两端均支持
func (b *BaseAdapter) Supports(fromChainID, toChainID uint) bool {
	if b.config.CrossChainOnly {
		return fromChainID != toChainID &&
			b.supportsChain(fromChainID) && b.supportsChain(toChainID)
	}
	return fromChainID == toChainID && b.supportsChain(fromChainID)
}

func (b *BaseAdapter) supportsChain(chainID uint) bool {
	for _, supported := range b.config.SupportedChains {
		if supported == chainID {
			return true
		}
	}
	return false
}
