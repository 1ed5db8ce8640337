// Package adapters 1inch聚合器适配器实现
// 实现1inch Swap API的标准化接口，处理API格式转换和错误处理
// 支持1inch v5.2 API规范，报价阶段直接返回可签名交易
package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"defi-aggregator/swap-engine/internal/types"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// OneInchAdapter 1inch聚合器适配器
// 封装1inch API调用，提供标准化的报价接口
type OneInchAdapter struct {
	*BaseAdapter // 嵌入基础适配器
}

// NewOneInchAdapter 创建1inch适配器实例
func NewOneInchAdapter(config *types.ProviderConfig, fee *types.FeePolicy, logger *logrus.Logger) ProviderAdapter {
	return &OneInchAdapter{
		BaseAdapter: NewBaseAdapter(config, fee, logger),
	}
}

// ========================================
// 1inch API响应结构定义
// ========================================

// OneInchSwapResponse 1inch兑换API响应
// 对应1inch /swap接口的响应格式
type OneInchSwapResponse struct {
	ToAmount string `json:"toAmount"` // 输出数量（最小单位，字符串格式）

	Tx struct {
		From     string `json:"from"`     // 发起地址
		To       string `json:"to"`       // 交易目标地址
		Data     string `json:"data"`     // 交易calldata
		Value    string `json:"value"`    // 发送的ETH数量
		Gas      int64  `json:"gas"`      // Gas限制
		GasPrice string `json:"gasPrice"` // Gas价格
	} `json:"tx"`
}

// OneInchErrorResponse 1inch错误响应
type OneInchErrorResponse struct {
	StatusCode  int    `json:"statusCode"`
	Error       string `json:"error"`
	Description string `json:"description"`
}

// ========================================
// 核心接口实现
// ========================================

// GetQuote 获取1inch报价
// 调用1inch /swap接口，报价与交易载荷一次返回
// 参数:
//   - ctx: 上下文，用于超时控制
//   - req: 标准化的兑换请求
//
// 返回:
//   - *types.NormalizedQuote: 标准化的报价
//   - error: 不适用或失败时为*types.Unavailable
func (a *OneInchAdapter) GetQuote(ctx context.Context, req *types.SwapRequest) (*types.NormalizedQuote, error) {
	startTime := time.Now()

	// 检查适用性（不发起任何网络调用）
	if !a.Supports(req.FromChainID, req.ToChainID) {
		return nil, types.NewUnavailable(types.Provider1inch, types.ReasonInapplicable, nil)
	}

	// 构建请求URL（含平台费注入）
	apiURL := a.buildSwapURL(req)
	a.logger.Debugf("[1inch] 请求URL: %s", apiURL)

	// 设置请求headers
	headers := map[string]string{}
	if a.config.APIKey != "" {
		headers["Authorization"] = fmt.Sprintf("Bearer %s", a.config.APIKey)
	}

	// 发送HTTP请求
	responseBody, err := a.makeHTTPRequest(ctx, "GET", apiURL, nil, headers)
	if err != nil {
		return nil, a.unavailableFromHTTPError(err)
	}

	// 解析响应
	// 错误响应也是合法JSON，按toAmount是否存在区分两种响应体
	var swapResp OneInchSwapResponse
	if err := a.parseJSONResponse(responseBody, &swapResp); err != nil {
		return nil, types.NewUnavailable(types.Provider1inch, types.ReasonBadResponse, err)
	}
	if swapResp.ToAmount == "" {
		var errorResp OneInchErrorResponse
		if parseErr := json.Unmarshal(responseBody, &errorResp); parseErr == nil && errorResp.Error != "" {
			a.logger.Warnf("[1inch] API返回错误: %d - %s", errorResp.StatusCode, errorResp.Description)
			return nil, types.NewUnavailable(types.Provider1inch, types.ReasonUpstream,
				fmt.Errorf("1inch API错误: %s", errorResp.Description))
		}
		return nil, types.NewUnavailable(types.Provider1inch, types.ReasonBadResponse,
			fmt.Errorf("1inch响应缺少toAmount"))
	}

	// 转换为标准格式
	quote, err := a.convertToNormalizedQuote(&swapResp, req, startTime)
	if err != nil {
		return nil, types.NewUnavailable(types.Provider1inch, types.ReasonBadResponse, err)
	}

	a.logger.Infof("[1inch] 报价获取成功: toAmount=%s, gas=%d",
		quote.ToAmount.String(), quote.EstimatedGas)
	return quote, nil
}

// BuildTransaction 构建1inch可签名交易
// 1inch在报价阶段已返回交易载荷；build-tx阶段按上下文重新请求/swap获取新鲜交易
func (a *OneInchAdapter) BuildTransaction(ctx context.Context, qc *types.QuoteContext) (*types.TransactionPayload, error) {
	req := &types.SwapRequest{
		FromChainID: qc.FromChainID,
		ToChainID:   qc.ToChainID,
		FromToken:   qc.FromToken,
		ToToken:     qc.ToToken,
		AmountIn:    qc.AmountIn,
		UserAddress: qc.UserAddress,
		SlippageBps: qc.SlippageBps,
	}

	quote, err := a.GetQuote(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("1inch重建交易失败: %w", err)
	}
	if quote.Transaction == nil {
		return nil, fmt.Errorf("1inch响应缺少交易载荷")
	}
	return quote.Transaction, nil
}

// ========================================
// 1inch URL构建和数据转换
// ========================================

// buildSwapURL 构建1inch兑换请求URL
// 平台费策略在此注入：fee为百分比，referrer为费用接收地址
func (a *OneInchAdapter) buildSwapURL(req *types.SwapRequest) string {
	params := url.Values{}
	params.Set("src", req.FromToken)
	params.Set("dst", req.ToToken)
	params.Set("amount", req.AmountIn.String())
	params.Set("from", req.UserAddress)
	params.Set("slippage", decimal.New(int64(req.EffectiveSlippageBps()), -2).String())
	params.Set("disableEstimate", "true")

	// 平台费注入（只依赖聚合器与配置，不依赖请求金额）
	if a.fee.FeeBps > 0 && a.fee.EVMRecipient != "" {
		params.Set("fee", a.fee.FeePercent().String())
		params.Set("referrer", a.fee.EVMRecipient)
	}

	return fmt.Sprintf("%s/swap/v5.2/%d/swap?%s",
		strings.TrimSuffix(a.config.BaseURL, "/"), req.FromChainID, params.Encode())
}

// convertToNormalizedQuote 将1inch响应转换为标准报价格式
func (a *OneInchAdapter) convertToNormalizedQuote(resp *OneInchSwapResponse, req *types.SwapRequest, startTime time.Time) (*types.NormalizedQuote, error) {
	// 解析输出数量
	toAmount, err := decimal.NewFromString(resp.ToAmount)
	if err != nil {
		return nil, fmt.Errorf("解析toAmount失败: %w", err)
	}
	if toAmount.IsZero() {
		return nil, fmt.Errorf("1inch返回零输出数量")
	}

	// 解析Gas估算
	gasEstimate := uint64(0)
	if resp.Tx.Gas > 0 {
		gasEstimate = uint64(resp.Tx.Gas)
	}

	// 1inch不返回最小输出，按滑点兜底计算
	minOut := minAmountAfterSlippage(toAmount, req.EffectiveSlippageBps())

	return &types.NormalizedQuote{
		Provider:     types.Provider1inch,
		ToAmount:     toAmount,
		ToAmountMin:  &minOut,
		EstimatedGas: gasEstimate,
		FeePercent:   a.fee.FeePercent(),
		Transaction: &types.TransactionPayload{
			To:       resp.Tx.To,
			Value:    resp.Tx.Value,
			Data:     resp.Tx.Data,
			GasLimit: gasEstimate,
		},
		Context: &types.QuoteContext{
			Provider:    types.Provider1inch,
			FromChainID: req.FromChainID,
			ToChainID:   req.ToChainID,
			FromToken:   req.FromToken,
			ToToken:     req.ToToken,
			AmountIn:    req.AmountIn,
			UserAddress: req.UserAddress,
			SlippageBps: req.EffectiveSlippageBps(),
		},
		ResponseTime: time.Since(startTime),
	}, nil
}

// GetName 返回适配器名称
func (a *OneInchAdapter) GetName() string {
	return types.Provider1inch
}
