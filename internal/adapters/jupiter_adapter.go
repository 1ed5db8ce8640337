// Package adapters Jupiter聚合器适配器实现
// 实现Jupiter v6 API的标准化接口，服务Solana链上兑换
// 两阶段接入：/quote只返回价格估算，/swap用报价阶段返回的quoteResponse构建交易，
// 费用接收账户feeAccount只在/swap阶段注入
package adapters

import (
	"bytes"
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

// JupiterAdapter Jupiter聚合器适配器
// 封装Jupiter API调用，报价上下文携带完整的quoteResponse原文
type JupiterAdapter struct {
	*BaseAdapter // 嵌入基础适配器
}

// NewJupiterAdapter 创建Jupiter适配器实例
func NewJupiterAdapter(config *types.ProviderConfig, fee *types.FeePolicy, logger *logrus.Logger) ProviderAdapter {
	return &JupiterAdapter{
		BaseAdapter: NewBaseAdapter(config, fee, logger),
	}
}

// ========================================
// Jupiter API结构定义
// ========================================

// JupiterQuoteResponse Jupiter报价API响应
// 只解析选择算法需要的字段；原文整体作为不透明上下文保存，
// /swap接口要求原样回传
type JupiterQuoteResponse struct {
	OutAmount            string `json:"outAmount"`            // 输出数量（最小单位）
	OtherAmountThreshold string `json:"otherAmountThreshold"` // 滑点保护后的最差输出
	ErrorMessage         string `json:"error"`                // 错误信息（失败时）
}

// JupiterSwapRequest Jupiter交易构建请求体
type JupiterSwapRequest struct {
	QuoteResponse    json.RawMessage `json:"quoteResponse"`         // 报价阶段的完整响应原文
	UserPublicKey    string          `json:"userPublicKey"`         // 用户钱包公钥
	FeeAccount       string          `json:"feeAccount,omitempty"`  // 平台费接收代币账户
	WrapAndUnwrapSol bool            `json:"wrapAndUnwrapSol"`      // 自动处理wSOL
}

// JupiterSwapResponse Jupiter交易构建响应
type JupiterSwapResponse struct {
	SwapTransaction string `json:"swapTransaction"` // base64序列化交易
	ErrorMessage    string `json:"error"`           // 错误信息（失败时）
}

// ========================================
// Jupiter适配器接口实现
// ========================================

// GetQuote 获取Jupiter报价
// 第一阶段只返回价格估算；完整响应原文存入上下文供第二阶段回传
func (a *JupiterAdapter) GetQuote(ctx context.Context, req *types.SwapRequest) (*types.NormalizedQuote, error) {
	startTime := time.Now()

	// 检查适用性（不发起任何网络调用）
	if !a.Supports(req.FromChainID, req.ToChainID) {
		return nil, types.NewUnavailable(types.ProviderJupiter, types.ReasonInapplicable, nil)
	}

	// 构建请求URL（平台费率在报价阶段注入）
	apiURL := a.buildQuoteURL(req)
	a.logger.Debugf("[jupiter] 请求URL: %s", apiURL)

	// 发送HTTP请求
	responseBody, err := a.makeHTTPRequest(ctx, "GET", apiURL, nil, nil)
	if err != nil {
		return nil, a.unavailableFromHTTPError(err)
	}

	// 解析响应
	var quoteResp JupiterQuoteResponse
	if err := a.parseJSONResponse(responseBody, &quoteResp); err != nil {
		return nil, types.NewUnavailable(types.ProviderJupiter, types.ReasonBadResponse, err)
	}
	if quoteResp.ErrorMessage != "" {
		a.logger.Warnf("[jupiter] API返回错误: %s", quoteResp.ErrorMessage)
		return nil, types.NewUnavailable(types.ProviderJupiter, types.ReasonUpstream,
			fmt.Errorf("Jupiter API错误: %s", quoteResp.ErrorMessage))
	}

	// 解析输出数量
	toAmount, err := decimal.NewFromString(quoteResp.OutAmount)
	if err != nil {
		return nil, types.NewUnavailable(types.ProviderJupiter, types.ReasonBadResponse,
			fmt.Errorf("解析outAmount失败: %w", err))
	}
	if toAmount.IsZero() {
		return nil, types.NewUnavailable(types.ProviderJupiter, types.ReasonNoLiquidity,
			fmt.Errorf("Jupiter返回零输出数量"))
	}

	// 最差输出数量（上游直接提供）
	var minOut *decimal.Decimal
	if parsed, err := decimal.NewFromString(quoteResp.OtherAmountThreshold); err == nil {
		minOut = &parsed
	}

	a.logger.Infof("[jupiter] 报价获取成功: outAmount=%s", toAmount.String())

	return &types.NormalizedQuote{
		Provider:    types.ProviderJupiter,
		ToAmount:    toAmount,
		ToAmountMin: minOut,
		FeePercent:  a.fee.FeePercent(),
		Context: &types.QuoteContext{
			Provider:    types.ProviderJupiter,
			FromChainID: req.FromChainID,
			ToChainID:   req.ToChainID,
			FromToken:   req.FromToken,
			ToToken:     req.ToToken,
			AmountIn:    req.AmountIn,
			UserAddress: req.UserAddress,
			SlippageBps: req.EffectiveSlippageBps(),
			Payload:     json.RawMessage(responseBody), // /swap要求原样回传
		},
		ResponseTime: time.Since(startTime),
	}, nil
}

// BuildTransaction 构建Jupiter可签名交易
// 第二阶段POST /swap，回传报价原文；feeAccount只在本阶段注入
func (a *JupiterAdapter) BuildTransaction(ctx context.Context, qc *types.QuoteContext) (*types.TransactionPayload, error) {
	if len(qc.Payload) == 0 {
		return nil, fmt.Errorf("Jupiter上下文缺少quoteResponse")
	}

	// 构建请求体
	swapReq := JupiterSwapRequest{
		QuoteResponse:    qc.Payload,
		UserPublicKey:    qc.UserAddress,
		FeeAccount:       a.fee.SolanaFeeAccount,
		WrapAndUnwrapSol: true,
	}
	body, err := json.Marshal(swapReq)
	if err != nil {
		return nil, fmt.Errorf("序列化Jupiter请求失败: %w", err)
	}

	apiURL := fmt.Sprintf("%s/v6/swap", strings.TrimSuffix(a.config.BaseURL, "/"))
	a.logger.Debugf("[jupiter] 构建交易URL: %s", apiURL)

	responseBody, err := a.makeHTTPRequest(ctx, "POST", apiURL, bytes.NewReader(body), nil)
	if err != nil {
		return nil, fmt.Errorf("Jupiter构建交易请求失败: %w", err)
	}

	var swapResp JupiterSwapResponse
	if err := a.parseJSONResponse(responseBody, &swapResp); err != nil {
		return nil, fmt.Errorf("Jupiter构建交易响应解析失败: %w", err)
	}
	if swapResp.ErrorMessage != "" {
		return nil, fmt.Errorf("Jupiter构建交易错误: %s", swapResp.ErrorMessage)
	}
	if swapResp.SwapTransaction == "" {
		return nil, fmt.Errorf("Jupiter未返回交易数据")
	}

	// Solana交易以base64序列化形式整体返回，无to/value/gas概念
	return &types.TransactionPayload{
		Data: swapResp.SwapTransaction,
	}, nil
}

// ========================================
// Jupiter URL构建
// ========================================

// buildQuoteURL 构建Jupiter报价请求URL
func (a *JupiterAdapter) buildQuoteURL(req *types.SwapRequest) string {
	params := url.Values{}
	params.Set("inputMint", req.FromToken)
	params.Set("outputMint", req.ToToken)
	params.Set("amount", req.AmountIn.String())
	params.Set("slippageBps", strconv.FormatUint(uint64(req.EffectiveSlippageBps()), 10))

	// 平台费率在报价阶段声明，接收账户在build-tx阶段注入
	if a.fee.FeeBps > 0 && a.fee.SolanaFeeAccount != "" {
		params.Set("platformFeeBps", strconv.FormatUint(uint64(a.fee.FeeBps), 10))
	}

	return fmt.Sprintf("%s/v6/quote?%s", strings.TrimSuffix(a.config.BaseURL, "/"), params.Encode())
}

// GetName 返回适配器名称
func (a *JupiterAdapter) GetName() string {
	return types.ProviderJupiter
}
