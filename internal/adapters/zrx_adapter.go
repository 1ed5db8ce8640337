// Package adapters 0x Protocol (ZRX) 聚合器适配器实现
// 实现0x Protocol Swap API的标准化接口，处理API格式转换和错误处理
// 支持0x Protocol v2 API规范，使用permit2协议
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

// ZRXAdapter 0x Protocol聚合器适配器
// 封装0x Protocol API调用，提供标准化的报价接口
type ZRXAdapter struct {
	*BaseAdapter // 嵌入基础适配器
}

// NewZRXAdapter 创建0x Protocol适配器实例
func NewZRXAdapter(config *types.ProviderConfig, fee *types.FeePolicy, logger *logrus.Logger) ProviderAdapter {
	return &ZRXAdapter{
		BaseAdapter: NewBaseAdapter(config, fee, logger),
	}
}

// ========================================
// 0x Protocol API响应结构定义
// ========================================

// ZRXQuoteResponse 0x Protocol报价API响应
type ZRXQuoteResponse struct {
	BuyAmount          string `json:"buyAmount"`          // 买入数量
	MinBuyAmount       string `json:"minBuyAmount"`       // 最小买入数量
	LiquidityAvailable bool   `json:"liquidityAvailable"` // 流动性可用性
	SellAmount         string `json:"sellAmount"`         // 卖出数量

	Transaction struct {
		To       string `json:"to"`       // 交易目标地址
		Data     string `json:"data"`     // 交易数据
		Gas      string `json:"gas"`      // Gas限制
		GasPrice string `json:"gasPrice"` // Gas价格
		Value    string `json:"value"`    // 发送的ETH数量
	} `json:"transaction"`
}

// ZRXErrorResponse 0x Protocol错误响应
type ZRXErrorResponse struct {
	Code    int    `json:"code"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// ========================================
// 0x Protocol适配器接口实现
// ========================================

// GetQuote 获取0x Protocol报价
// 调用0x Protocol Swap API获取报价，交易载荷随报价一起返回
func (a *ZRXAdapter) GetQuote(ctx context.Context, req *types.SwapRequest) (*types.NormalizedQuote, error) {
	startTime := time.Now()

	// 检查适用性（不发起任何网络调用）
	if !a.Supports(req.FromChainID, req.ToChainID) {
		return nil, types.NewUnavailable(types.Provider0x, types.ReasonInapplicable, nil)
	}

	if a.config.APIKey == "" {
		return nil, types.NewUnavailable(types.Provider0x, types.ReasonUpstream,
			fmt.Errorf("0x Protocol API Key未配置"))
	}

	// 构建请求URL（含平台费注入）
	apiURL := a.buildQuoteURL(req)
	a.logger.Debugf("[0x] 请求URL: %s", apiURL)

	// 设置请求headers
	headers := map[string]string{
		"0x-api-key": a.config.APIKey,
		"0x-version": "v2",
	}

	// 发送HTTP GET请求
	responseBody, err := a.makeHTTPRequest(ctx, "GET", apiURL, nil, headers)
	if err != nil {
		return nil, a.unavailableFromHTTPError(err)
	}

	// 解析响应
	// 错误响应也是合法JSON，先识别错误体再做流动性判断
	var zrxResp ZRXQuoteResponse
	if err := a.parseJSONResponse(responseBody, &zrxResp); err != nil {
		return nil, types.NewUnavailable(types.Provider0x, types.ReasonBadResponse, err)
	}

	var errorResp ZRXErrorResponse
	if jsonErr := json.Unmarshal(responseBody, &errorResp); jsonErr == nil && errorResp.Reason != "" {
		a.logger.Warnf("[0x] API返回错误: %d - %s", errorResp.Code, errorResp.Reason)
		return nil, types.NewUnavailable(types.Provider0x, types.ReasonUpstream,
			fmt.Errorf("0x API错误: %s", errorResp.Reason))
	}

	// 检查流动性可用性
	if !zrxResp.LiquidityAvailable {
		return nil, types.NewUnavailable(types.Provider0x, types.ReasonNoLiquidity,
			fmt.Errorf("0x Protocol: 流动性不可用"))
	}

	// 转换为标准格式
	quote, err := a.convertToNormalizedQuote(&zrxResp, req, startTime)
	if err != nil {
		return nil, types.NewUnavailable(types.Provider0x, types.ReasonBadResponse, err)
	}

	a.logger.Infof("[0x] 报价获取成功: buyAmount=%s, minBuyAmount=%s",
		quote.ToAmount.String(), zrxResp.MinBuyAmount)
	return quote, nil
}

// BuildTransaction 构建0x可签名交易
// 0x在报价阶段已返回交易载荷；build-tx阶段按上下文重新请求获取新鲜交易
func (a *ZRXAdapter) BuildTransaction(ctx context.Context, qc *types.QuoteContext) (*types.TransactionPayload, error) {
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
		return nil, fmt.Errorf("0x重建交易失败: %w", err)
	}
	if quote.Transaction == nil {
		return nil, fmt.Errorf("0x响应缺少交易载荷")
	}
	return quote.Transaction, nil
}

// ========================================
// 0x Protocol URL构建和数据转换
// ========================================

// buildQuoteURL 构建0x Protocol报价请求URL
// 平台费策略在此注入：swapFeeBps + swapFeeRecipient + swapFeeToken
func (a *ZRXAdapter) buildQuoteURL(req *types.SwapRequest) string {
	params := url.Values{}
	params.Set("chainId", strconv.FormatUint(uint64(req.FromChainID), 10))
	params.Set("sellToken", req.FromToken)
	params.Set("buyToken", req.ToToken)
	params.Set("sellAmount", req.AmountIn.String())
	params.Set("taker", req.UserAddress)
	params.Set("slippageBps", strconv.FormatUint(uint64(req.EffectiveSlippageBps()), 10))

	// 平台费注入（费用以卖出代币计收）
	if a.fee.FeeBps > 0 && a.fee.EVMRecipient != "" {
		params.Set("swapFeeBps", strconv.FormatUint(uint64(a.fee.FeeBps), 10))
		params.Set("swapFeeRecipient", a.fee.EVMRecipient)
		params.Set("swapFeeToken", req.FromToken)
	}

	return fmt.Sprintf("%s/swap/permit2/quote?%s",
		strings.TrimSuffix(a.config.BaseURL, "/"), params.Encode())
}

// convertToNormalizedQuote 将0x Protocol响应转换为标准报价格式
func (a *ZRXAdapter) convertToNormalizedQuote(zrxResp *ZRXQuoteResponse, req *types.SwapRequest, startTime time.Time) (*types.NormalizedQuote, error) {
	// 解析买入数量
	buyAmount, err := decimal.NewFromString(zrxResp.BuyAmount)
	if err != nil {
		return nil, fmt.Errorf("解析buyAmount失败: %w", err)
	}
	if buyAmount.IsZero() {
		return nil, fmt.Errorf("0x返回零输出数量")
	}

	// 解析最小买入数量（上游直接提供）
	var minOut *decimal.Decimal
	if zrxResp.MinBuyAmount != "" {
		if parsed, err := decimal.NewFromString(zrxResp.MinBuyAmount); err == nil {
			minOut = &parsed
		}
	}
	if minOut == nil {
		fallback := minAmountAfterSlippage(buyAmount, req.EffectiveSlippageBps())
		minOut = &fallback
	}

	// 解析Gas估算
	gasEstimate := uint64(0)
	if zrxResp.Transaction.Gas != "" {
		if gas, err := strconv.ParseUint(zrxResp.Transaction.Gas, 10, 64); err == nil {
			gasEstimate = gas
		}
	}

	return &types.NormalizedQuote{
		Provider:     types.Provider0x,
		ToAmount:     buyAmount,
		ToAmountMin:  minOut,
		EstimatedGas: gasEstimate,
		FeePercent:   a.fee.FeePercent(),
		Transaction: &types.TransactionPayload{
			To:       zrxResp.Transaction.To,
			Value:    zrxResp.Transaction.Value,
			Data:     zrxResp.Transaction.Data,
			GasLimit: gasEstimate,
		},
		Context: &types.QuoteContext{
			Provider:    types.Provider0x,
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
func (a *ZRXAdapter) GetName() string {
	return types.Provider0x
}
