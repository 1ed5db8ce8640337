// Package adapters LI.FI跨链聚合器适配器实现
// 实现LI.FI Quote API的标准化接口，服务跨链兑换请求
// 报价阶段直接返回可签名交易载荷
package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"defi-aggregator/swap-engine/internal/types"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// LiFiAdapter LI.FI跨链聚合器适配器
// 封装LI.FI API调用，只对跨链请求生效（CrossChainOnly）
type LiFiAdapter struct {
	*BaseAdapter // 嵌入基础适配器
}

// NewLiFiAdapter 创建LI.FI适配器实例
func NewLiFiAdapter(config *types.ProviderConfig, fee *types.FeePolicy, logger *logrus.Logger) ProviderAdapter {
	return &LiFiAdapter{
		BaseAdapter: NewBaseAdapter(config, fee, logger),
	}
}

// ========================================
// LI.FI API响应结构定义
// ========================================

// LiFiQuoteResponse LI.FI报价API响应
type LiFiQuoteResponse struct {
	Estimate struct {
		ToAmount    string `json:"toAmount"`    // 输出数量（最小单位）
		ToAmountMin string `json:"toAmountMin"` // 滑点保护后的最差输出
		GasCosts    []struct {
			Estimate string `json:"estimate"` // Gas数量估算
		} `json:"gasCosts"`
	} `json:"estimate"`

	TransactionRequest struct {
		To       string `json:"to"`       // 交易目标地址
		Value    string `json:"value"`    // 发送的原生代币数量（十六进制）
		Data     string `json:"data"`     // 交易calldata
		GasLimit string `json:"gasLimit"` // Gas限制（十六进制）
	} `json:"transactionRequest"`
}

// LiFiErrorResponse LI.FI错误响应
type LiFiErrorResponse struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// ========================================
// LI.FI适配器接口实现
// ========================================

// GetQuote 获取LI.FI跨链报价
// 调用LI.FI /quote接口，交易载荷随报价一起返回
func (a *LiFiAdapter) GetQuote(ctx context.Context, req *types.SwapRequest) (*types.NormalizedQuote, error) {
	startTime := time.Now()

	// 检查适用性：仅跨链请求（不发起任何网络调用）
	if !a.Supports(req.FromChainID, req.ToChainID) {
		return nil, types.NewUnavailable(types.ProviderLiFi, types.ReasonInapplicable, nil)
	}

	// 构建请求URL（含集成商费注入）
	apiURL := a.buildQuoteURL(req)
	a.logger.Debugf("[lifi] 请求URL: %s", apiURL)

	headers := map[string]string{}
	if a.config.APIKey != "" {
		headers["x-lifi-api-key"] = a.config.APIKey
	}

	// 发送HTTP请求
	responseBody, err := a.makeHTTPRequest(ctx, "GET", apiURL, nil, headers)
	if err != nil {
		return nil, a.unavailableFromHTTPError(err)
	}

	// 解析响应
	// 错误响应也是合法JSON，按toAmount是否存在区分两种响应体
	var quoteResp LiFiQuoteResponse
	if err := a.parseJSONResponse(responseBody, &quoteResp); err != nil {
		return nil, types.NewUnavailable(types.ProviderLiFi, types.ReasonBadResponse, err)
	}
	if quoteResp.Estimate.ToAmount == "" {
		var errorResp LiFiErrorResponse
		if jsonErr := json.Unmarshal(responseBody, &errorResp); jsonErr == nil && errorResp.Message != "" {
			a.logger.Warnf("[lifi] API返回错误: %s", errorResp.Message)
			return nil, types.NewUnavailable(types.ProviderLiFi, types.ReasonUpstream,
				fmt.Errorf("LI.FI API错误: %s", errorResp.Message))
		}
		return nil, types.NewUnavailable(types.ProviderLiFi, types.ReasonBadResponse,
			fmt.Errorf("LI.FI响应缺少toAmount"))
	}

	// 转换为标准格式
	quote, err := a.convertToNormalizedQuote(&quoteResp, req, startTime)
	if err != nil {
		return nil, types.NewUnavailable(types.ProviderLiFi, types.ReasonBadResponse, err)
	}

	a.logger.Infof("[lifi] 跨链报价获取成功: toAmount=%s, %d->%d",
		quote.ToAmount.String(), req.FromChainID, req.ToChainID)
	return quote, nil
}

// BuildTransaction 构建LI.FI可签名交易
// 报价阶段已返回交易载荷；build-tx阶段按上下文重新请求获取新鲜交易
func (a *LiFiAdapter) BuildTransaction(ctx context.Context, qc *types.QuoteContext) (*types.TransactionPayload, error) {
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
		return nil, fmt.Errorf("LI.FI重建交易失败: %w", err)
	}
	if quote.Transaction == nil {
		return nil, fmt.Errorf("LI.FI响应缺少交易载荷")
	}
	return quote.Transaction, nil
}

// ========================================
// LI.FI URL构建和数据转换
// ========================================

// buildQuoteURL 构建LI.FI报价请求URL
// 平台费注入：integrator为集成商标识，fee为小数费率
func (a *LiFiAdapter) buildQuoteURL(req *types.SwapRequest) string {
	params := url.Values{}
	params.Set("fromChain", strconv.FormatUint(uint64(req.FromChainID), 10))
	params.Set("toChain", strconv.FormatUint(uint64(req.ToChainID), 10))
	params.Set("fromToken", req.FromToken)
	params.Set("toToken", req.ToToken)
	params.Set("fromAmount", req.AmountIn.String())
	params.Set("fromAddress", req.UserAddress)
	params.Set("slippage", decimal.New(int64(req.EffectiveSlippageBps()), -4).String())

	// 平台费注入
	if a.fee.FeeBps > 0 && a.fee.EVMRecipient != "" {
		params.Set("integrator", "defi-aggregator")
		params.Set("fee", decimal.New(int64(a.fee.FeeBps), -4).String())
		params.Set("referrer", a.fee.EVMRecipient)
	}

	return fmt.Sprintf("%s/v1/quote?%s", strings.TrimSuffix(a.config.BaseURL, "/"), params.Encode())
}

// convertToNormalizedQuote 将LI.FI响应转换为标准报价格式
func (a *LiFiAdapter) convertToNormalizedQuote(resp *LiFiQuoteResponse, req *types.SwapRequest, startTime time.Time) (*types.NormalizedQuote, error) {
	// 解析输出数量
	toAmount, err := decimal.NewFromString(resp.Estimate.ToAmount)
	if err != nil {
		return nil, fmt.Errorf("解析toAmount失败: %w", err)
	}
	if toAmount.IsZero() {
		return nil, fmt.Errorf("LI.FI返回零输出数量")
	}

	// 最差输出数量（上游直接提供）
	var minOut *decimal.Decimal
	if parsed, err := decimal.NewFromString(resp.Estimate.ToAmountMin); err == nil {
		minOut = &parsed
	}

	// 解析Gas估算（十六进制或十进制）
	gasEstimate := parseFlexibleUint(resp.TransactionRequest.GasLimit)
	if gasEstimate == 0 && len(resp.Estimate.GasCosts) > 0 {
		gasEstimate = parseFlexibleUint(resp.Estimate.GasCosts[0].Estimate)
	}

	return &types.NormalizedQuote{
		Provider:     types.ProviderLiFi,
		ToAmount:     toAmount,
		ToAmountMin:  minOut,
		EstimatedGas: gasEstimate,
		FeePercent:   a.fee.FeePercent(),
		Transaction: &types.TransactionPayload{
			To:       resp.TransactionRequest.To,
			Value:    resp.TransactionRequest.Value,
			Data:     resp.TransactionRequest.Data,
			GasLimit: gasEstimate,
		},
		Context: &types.QuoteContext{
			Provider:    types.ProviderLiFi,
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

// parseFlexibleUint 解析十进制或0x前缀十六进制的数量字段
func parseFlexibleUint(s string) uint64 {
	if s == "" {
		return 0
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		if v, err := strconv.ParseUint(s[2:], 16, 64); err == nil {
			return v
		}
		return 0
	}
	if v, err := strconv.ParseUint(s, 10, 64); err == nil {
		return v
	}
	return 0
}

// GetName 返回适配器名称
func (a *LiFiAdapter) GetName() string {
	return types.ProviderLiFi
}
