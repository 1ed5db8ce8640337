// 1inch适配器测试
// 覆盖平台费参数注入、响应标准化、失败收敛
package adapters

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"defi-aggregator/swap-engine/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const oneInchQuoteBody = `{
	"toAmount": "1200000",
	"tx": {
		"from": "0x1111111111111111111111111111111111111111",
		"to": "0x1inchRouter",
		"data": "0xabcdef",
		"value": "0",
		"gas": 210000,
		"gasPrice": "20000000000"
	}
}`

func TestOneInchQuoteInjectsFeeParams(t *testing.T) {
	var capturedQuery url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedQuery = r.URL.Query()
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Write([]byte(oneInchQuoteBody))
	}))
	defer server.Close()

	config := newTestProviderConfig(types.Provider1inch, server.URL)
	config.APIKey = "test-key"
	fee := &types.FeePolicy{FeeBps: 30, EVMRecipient: "0xFee0000000000000000000000000000000000001"}
	adapter := NewOneInchAdapter(config, fee, newTestLogger())

	quote, err := adapter.GetQuote(context.Background(), newEVMSwapRequest())
	require.NoError(t, err)

	// 平台费参数注入到出站URL
	assert.Equal(t, "0.3", capturedQuery.Get("fee"))
	assert.Equal(t, "0xFee0000000000000000000000000000000000001", capturedQuery.Get("referrer"))
	assert.Equal(t, "0.5", capturedQuery.Get("slippage"))

	// 响应标准化
	assert.Equal(t, types.Provider1inch, quote.Provider)
	assert.True(t, quote.ToAmount.Equal(decimal.NewFromInt(1200000)))
	assert.Equal(t, uint64(210000), quote.EstimatedGas)
	require.NotNil(t, quote.Transaction)
	assert.Equal(t, "0x1inchRouter", quote.Transaction.To)
	require.NotNil(t, quote.Context)
	assert.Equal(t, types.Provider1inch, quote.Context.Provider)
}

func TestOneInchQuoteOmitsFeeParamsWhenUnconfigured(t *testing.T) {
	var capturedQuery url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedQuery = r.URL.Query()
		w.Write([]byte(oneInchQuoteBody))
	}))
	defer server.Close()

	adapter := NewOneInchAdapter(newTestProviderConfig(types.Provider1inch, server.URL),
		&types.FeePolicy{}, newTestLogger())

	_, err := adapter.GetQuote(context.Background(), newEVMSwapRequest())
	require.NoError(t, err)

	assert.False(t, capturedQuery.Has("fee"))
	assert.False(t, capturedQuery.Has("referrer"))
}

func TestOneInchInapplicableWithoutNetworkCall(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	adapter := NewOneInchAdapter(newTestProviderConfig(types.Provider1inch, server.URL),
		&types.FeePolicy{}, newTestLogger())

	req := newEVMSwapRequest()
	req.ToChainID = types.ChainPolygon // 跨链对同链适配器不适用

	quote, err := adapter.GetQuote(context.Background(), req)
	assert.Nil(t, quote)

	var unavailable *types.Unavailable
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, types.ReasonInapplicable, unavailable.Reason)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestOneInchServerErrorReturnsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	adapter := NewOneInchAdapter(newTestProviderConfig(types.Provider1inch, server.URL),
		&types.FeePolicy{}, newTestLogger())

	quote, err := adapter.GetQuote(context.Background(), newEVMSwapRequest())
	assert.Nil(t, quote)

	var unavailable *types.Unavailable
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, types.ReasonUpstream, unavailable.Reason)
}

func TestOneInchGarbageResponseReturnsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not a json body"))
	}))
	defer server.Close()

	adapter := NewOneInchAdapter(newTestProviderConfig(types.Provider1inch, server.URL),
		&types.FeePolicy{}, newTestLogger())

	quote, err := adapter.GetQuote(context.Background(), newEVMSwapRequest())
	assert.Nil(t, quote)

	var unavailable *types.Unavailable
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, types.ReasonBadResponse, unavailable.Reason)
}

func TestOneInchBuildTransactionRebuildsFromContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(oneInchQuoteBody))
	}))
	defer server.Close()

	adapter := NewOneInchAdapter(newTestProviderConfig(types.Provider1inch, server.URL),
		&types.FeePolicy{}, newTestLogger())

	qc := &types.QuoteContext{
		Provider:    types.Provider1inch,
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
	assert.Equal(t, "0x1inchRouter", tx.To)
	assert.Equal(t, "0xabcdef", tx.Data)
}
