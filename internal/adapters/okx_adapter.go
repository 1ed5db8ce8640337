// Package adapters OKX DEX聚合器适配器实现
// 实现OKX DEX Aggregator API的标准化接口，处理API格式转换和错误处理
// OKX要求对 timestamp + method + requestPath + body 做HMAC-SHA256签名，
// 签名绑定时间戳，每次调用必须重新计算
package adapters

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"defi-aggregator/swap-engine/internal/types"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// OKXAdapter OKX DEX聚合器适配器
// 封装OKX DEX API调用；报价与交易构建为两个独立接口（两阶段）
type OKXAdapter struct {
	*BaseAdapter // 嵌入基础适配器

	now func() time.Time // 时间源（测试时可替换）
}

// NewOKXAdapter 创建OKX DEX适配器实例
func NewOKXAdapter(config *types.ProviderConfig, fee *types.FeePolicy, logger *logrus.Logger) ProviderAdapter {
	return &OKXAdapter{
		BaseAdapter: NewBaseAdapter(config, fee, logger),
		now:         time.Now,
	}
}

// ========================================
// OKX DEX API响应结构定义
// ========================================

// OKXResponse OKX统一响应外层
// code为"0"表示成功，其余情况msg携带错误信息
type OKXResponse struct {
	Code string `json:"code"` // 业务状态码
	Msg  string `json:"msg"`  // 错误信息
}

// OKXQuoteResponse OKX报价API响应
type OKXQuoteResponse struct {
	OKXResponse
	Data []struct {
		ToTokenAmount   string `json:"toTokenAmount"`   // 输出数量（最小单位）
		EstimateGasFee  string `json:"estimateGasFee"`  // Gas估算
		FromTokenAmount string `json:"fromTokenAmount"` // 输入数量
	} `json:"data"`
}

// OKXSwapResponse OKX交易构建API响应
type OKXSwapResponse struct {
	OKXResponse
	Data []struct {
		Tx struct {
			To    string `json:"to"`    // 交易目标地址
			Value string `json:"value"` // 发送的原生代币数量
			Data  string `json:"data"`  // 交易calldata
			Gas   string `json:"gas"`   // Gas限制
		} `json:"tx"`
		RouterResult struct {
			ToTokenAmount string `json:"toTokenAmount"` // 输出数量
		} `json:"routerResult"`
	} `json:"data"`
}

// ========================================
// OKX适配器接口实现
// ========================================

// GetQuote 获取OKX DEX报价
// 第一阶段只返回价格估算，交易载荷通过BuildTransaction的第二次调用获取
func (a *OKXAdapter) GetQuote(ctx context.Context, req *types.SwapRequest) (*types.NormalizedQuote, error) {
	startTime := time.Now()

	// 检查适用性（不发起任何网络调用）
	if !a.Supports(req.FromChainID, req.ToChainID) {
		return nil, types.NewUnavailable(types.ProviderOKX, types.ReasonInapplicable, nil)
	}

	// 构建请求路径（签名覆盖path+query）
	requestPath := a.buildQuotePath(req)
	a.logger.Debugf("[okx] 请求路径: %s", requestPath)

	// 发送签名请求
	responseBody, err := a.makeSignedRequest(ctx, "GET", requestPath, "")
	if err != nil {
		return nil, a.unavailableFromHTTPError(err)
	}

	// 解析响应
	var quoteResp OKXQuoteResponse
	if err := a.parseJSONResponse(responseBody, &quoteResp); err != nil {
		return nil, types.NewUnavailable(types.ProviderOKX, types.ReasonBadResponse, err)
	}
	if quoteResp.Code != "0" {
		a.logger.Warnf("[okx] API返回错误: code=%s, msg=%s", quoteResp.Code, quoteResp.Msg)
		return nil, types.NewUnavailable(types.ProviderOKX, types.ReasonUpstream,
			fmt.Errorf("OKX API错误: %s", quoteResp.Msg))
	}
	if len(quoteResp.Data) == 0 {
		return nil, types.NewUnavailable(types.ProviderOKX, types.ReasonNoLiquidity,
			fmt.Errorf("OKX未返回报价数据"))
	}

	// 解析输出数量
	toAmount, err := decimal.NewFromString(quoteResp.Data[0].ToTokenAmount)
	if err != nil {
		return nil, types.NewUnavailable(types.ProviderOKX, types.ReasonBadResponse,
			fmt.Errorf("解析toTokenAmount失败: %w", err))
	}
	if toAmount.IsZero() {
		return nil, types.NewUnavailable(types.ProviderOKX, types.ReasonNoLiquidity,
			fmt.Errorf("OKX返回零输出数量"))
	}

	// 解析Gas估算
	gasEstimate := uint64(0)
	if gas, err := strconv.ParseUint(quoteResp.Data[0].EstimateGasFee, 10, 64); err == nil {
		gasEstimate = gas
	}

	minOut := minAmountAfterSlippage(toAmount, req.EffectiveSlippageBps())

	a.logger.Infof("[okx] 报价获取成功: toTokenAmount=%s", toAmount.String())

	// 报价阶段无交易载荷，上下文必须携带第二阶段所需的全部参数
	return &types.NormalizedQuote{
		Provider:     types.ProviderOKX,
		ToAmount:     toAmount,
		ToAmountMin:  &minOut,
		EstimatedGas: gasEstimate,
		FeePercent:   a.fee.FeePercent(),
		Context: &types.QuoteContext{
			Provider:    types.ProviderOKX,
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

// BuildTransaction 构建OKX可签名交易
// 第二阶段调用/swap接口，平台费与返佣地址在此注入
func (a *OKXAdapter) BuildTransaction(ctx context.Context, qc *types.QuoteContext) (*types.TransactionPayload, error) {
	requestPath := a.buildSwapPath(qc)
	a.logger.Debugf("[okx] 构建交易路径: %s", requestPath)

	responseBody, err := a.makeSignedRequest(ctx, "GET", requestPath, "")
	if err != nil {
		return nil, fmt.Errorf("OKX构建交易请求失败: %w", err)
	}

	var swapResp OKXSwapResponse
	if err := a.parseJSONResponse(responseBody, &swapResp); err != nil {
		return nil, fmt.Errorf("OKX构建交易响应解析失败: %w", err)
	}
	if swapResp.Code != "0" {
		return nil, fmt.Errorf("OKX构建交易错误: %s", swapResp.Msg)
	}
	if len(swapResp.Data) == 0 {
		return nil, fmt.Errorf("OKX构建交易未返回数据")
	}

	tx := swapResp.Data[0].Tx
	gasLimit := uint64(0)
	if gas, err := strconv.ParseUint(tx.Gas, 10, 64); err == nil {
		gasLimit = gas
	}

	return &types.TransactionPayload{
		To:       tx.To,
		Value:    tx.Value,
		Data:     tx.Data,
		GasLimit: gasLimit,
	}, nil
}

// ========================================
// 请求签名
// ========================================

// makeSignedRequest 发送带OKX签名headers的请求
// 签名内容为 timestamp + method + requestPath + body，时间戳取当前时刻，
// 因此每次调用都重新计算签名
func (a *OKXAdapter) makeSignedRequest(ctx context.Context, method, requestPath, body string) ([]byte, error) {
	timestamp := a.now().UTC().Format("2006-01-02T15:04:05.000Z")
	signature := a.sign(timestamp, method, requestPath, body)

	headers := map[string]string{
		"OK-ACCESS-KEY":        a.config.APIKey,
		"OK-ACCESS-SIGN":       signature,
		"OK-ACCESS-TIMESTAMP":  timestamp,
		"OK-ACCESS-PASSPHRASE": a.config.APIPassphrase,
	}

	apiURL := strings.TrimSuffix(a.config.BaseURL, "/") + requestPath

	var bodyReader *strings.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
		return a.makeHTTPRequest(ctx, method, apiURL, bodyReader, headers)
	}
	return a.makeHTTPRequest(ctx, method, apiURL, nil, headers)
}

// sign 计算OKX请求签名
// base64(HMAC-SHA256(timestamp + method + requestPath + body, secret))
func (a *OKXAdapter) sign(timestamp, method, requestPath, body string) string {
	mac := hmac.New(sha256.New, []byte(a.config.APISecret))
	mac.Write([]byte(timestamp + strings.ToUpper(method) + requestPath + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ========================================
// OKX请求路径构建
// ========================================

// buildQuotePath 构建报价请求路径（含query，供签名使用）
func (a *OKXAdapter) buildQuotePath(req *types.SwapRequest) string {
	params := url.Values{}
	params.Set("chainId", strconv.FormatUint(uint64(req.FromChainID), 10))
	params.Set("fromTokenAddress", req.FromToken)
	params.Set("toTokenAddress", req.ToToken)
	params.Set("amount", req.AmountIn.String())

	// 平台费注入
	if a.fee.FeeBps > 0 {
		params.Set("feePercent", a.fee.FeePercent().String())
	}

	return "/api/v5/dex/aggregator/quote?" + params.Encode()
}

// buildSwapPath 构建交易构建请求路径
// 返佣地址toTokenReferrerAddress只在本阶段注入
func (a *OKXAdapter) buildSwapPath(qc *types.QuoteContext) string {
	params := url.Values{}
	params.Set("chainId", strconv.FormatUint(uint64(qc.FromChainID), 10))
	params.Set("fromTokenAddress", qc.FromToken)
	params.Set("toTokenAddress", qc.ToToken)
	params.Set("amount", qc.AmountIn.String())
	params.Set("userWalletAddress", qc.UserAddress)
	params.Set("slippage", decimal.New(int64(qc.SlippageBps), -4).String())

	// 平台费注入
	if a.fee.FeeBps > 0 {
		params.Set("feePercent", a.fee.FeePercent().String())
		if a.fee.EVMRecipient != "" {
			params.Set("toTokenReferrerAddress", a.fee.EVMRecipient)
		}
	}

	return "/api/v5/dex/aggregator/swap?" + params.Encode()
}

// GetName 返回适配器名称
func (a *OKXAdapter) GetName() string {
	return types.ProviderOKX
}
