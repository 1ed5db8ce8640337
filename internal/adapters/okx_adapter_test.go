// OKX DEX适配器测试
// 覆盖请求签名、两阶段报价/交易构建、平台费注入
package adapters

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"defi-aggregator/swap-engine/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const okxTestSecret = "okx-test-secret"

// newOKXAdapter 创建指向测试服务器的OKX适配器
func newOKXAdapter(serverURL string, fee *types.FeePolicy) ProviderAdapter {
	config := newTestProviderConfig(types.ProviderOKX, serverURL)
	config.APIKey = "okx-test-key"
	config.APISecret = okxTestSecret
	config.APIPassphrase = "okx-test-pass"
	return NewOKXAdapter(config, fee, newTestLogger())
}

// verifyOKXSignature 用请求自带的时间戳重新计算并核对签名
func verifyOKXSignature(t *testing.T, r *http.Request) {
	t.Helper()

	timestamp := r.Header.Get("OK-ACCESS-TIMESTAMP")
	require.NotEmpty(t, timestamp)
	assert.Equal(t, "okx-test-key", r.Header.Get("OK-ACCESS-KEY"))
	assert.Equal(t, "okx-test-pass", r.Header.Get("OK-ACCESS-PASSPHRASE"))

	mac := hmac.New(sha256.New, []byte(okxTestSecret))
	mac.Write([]byte(timestamp + r.Method + r.URL.RequestURI()))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	assert.Equal(t, expected, r.Header.Get("OK-ACCESS-SIGN"))
}

func TestOKXQuoteSignsRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		verifyOKXSignature(t, r)
		assert.Equal(t, "/api/v5/dex/aggregator/quote", r.URL.Path)
		w.Write([]byte(`{"code":"0","msg":"","data":[{"toTokenAmount":"2500000","estimateGasFee":"160000","fromTokenAmount":"1000000"}]}`))
	}))
	defer server.Close()

	fee := &types.FeePolicy{FeeBps: 30, EVMRecipient: "0xFee0000000000000000000000000000000000001"}
	adapter := newOKXAdapter(server.URL, fee)

	quote, err := adapter.GetQuote(context.Background(), newEVMSwapRequest())
	require.NoError(t, err)

	assert.True(t, quote.ToAmount.Equal(decimal.NewFromInt(2500000)))
	assert.Equal(t, uint64(160000), quote.EstimatedGas)

	// 两阶段：报价无交易载荷，上下文携带第二阶段全部参数
	assert.Nil(t, quote.Transaction)
	require.NotNil(t, quote.Context)
	assert.Equal(t, types.ProviderOKX, quote.Context.Provider)
	assert.Equal(t, uint(50), quote.Context.SlippageBps)
	assert.NotEmpty(t, quote.Context.UserAddress)
}

func TestOKXBuildTransactionSignsAndInjectsFee(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		verifyOKXSignature(t, r)
		assert.Equal(t, "/api/v5/dex/aggregator/swap", r.URL.Path)

		query := r.URL.Query()
		assert.Equal(t, "0.3", query.Get("feePercent"))
		assert.Equal(t, "0xFee0000000000000000000000000000000000001", query.Get("toTokenReferrerAddress"))
		assert.Equal(t, "0.005", query.Get("slippage"))
		assert.Equal(t, "0x1111111111111111111111111111111111111111", query.Get("userWalletAddress"))

		w.Write([]byte(`{"code":"0","msg":"","data":[{"tx":{"to":"0xOKXRouter","value":"0","data":"0xfeed","gas":"230000"},"routerResult":{"toTokenAmount":"2500000"}}]}`))
	}))
	defer server.Close()

	fee := &types.FeePolicy{FeeBps: 30, EVMRecipient: "0xFee0000000000000000000000000000000000001"}
	adapter := newOKXAdapter(server.URL, fee)

	qc := &types.QuoteContext{
		Provider:    types.ProviderOKX,
		FromChainID: types.ChainEthereum,
		ToChainID:   types.ChainEthereum,
		FromToken:   "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		ToToken:     "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
		AmountIn:    decimal.NewFromInt(1000000),
		UserAddress: "0x1111111111111111111111111111111111111111",
		SlippageBps: 50,
	}

	tx, err := adapter.BuildTransaction(context.Background(), qc)
	require.NoError(t, err)
	assert.Equal(t, "0xOKXRouter", tx.To)
	assert.Equal(t, "0xfeed", tx.Data)
	assert.Equal(t, uint64(230000), tx.GasLimit)
}

func TestOKXQuoteBusinessError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"50011","msg":"Invalid request","data":[]}`))
	}))
	defer server.Close()

	adapter := newOKXAdapter(server.URL, &types.FeePolicy{})

	quote, err := adapter.GetQuote(context.Background(), newEVMSwapRequest())
	assert.Nil(t, quote)

	var unavailable *types.Unavailable
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, types.ReasonUpstream, unavailable.Reason)
}

func TestOKXQuoteEmptyDataIsNoLiquidity(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"0","msg":"","data":[]}`))
	}))
	defer server.Close()

	adapter := newOKXAdapter(server.URL, &types.FeePolicy{})

	_, err := adapter.GetQuote(context.Background(), newEVMSwapRequest())

	var unavailable *types.Unavailable
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, types.ReasonNoLiquidity, unavailable.Reason)
}
