// 0x Protocol适配器测试
// 覆盖平台费参数注入、流动性检查、最小输出解析
package adapters

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"defi-aggregator/swap-engine/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const zrxQuoteBody = `{
	"liquidityAvailable": true,
	"buyAmount": "990000",
	"minBuyAmount": "985050",
	"sellAmount": "1000000",
	"transaction": {
		"to": "0xZeroExSettler",
		"data": "0xdeadbeef",
		"gas": "185000",
		"gasPrice": "15000000000",
		"value": "0"
	}
}`

func newZRXAdapter(serverURL string, fee *types.FeePolicy) ProviderAdapter {
	config := newTestProviderConfig(types.Provider0x, serverURL)
	config.APIKey = "zrx-test-key"
	return NewZRXAdapter(config, fee, newTestLogger())
}

func TestZRXQuoteInjectsFeeParams(t *testing.T) {
	var capturedQuery url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedQuery = r.URL.Query()
		assert.Equal(t, "zrx-test-key", r.Header.Get("0x-api-key"))
		assert.Equal(t, "v2", r.Header.Get("0x-version"))
		w.Write([]byte(zrxQuoteBody))
	}))
	defer server.Close()

	fee := &types.FeePolicy{FeeBps: 30, EVMRecipient: "0xFee0000000000000000000000000000000000001"}
	adapter := newZRXAdapter(server.URL, fee)

	req := newEVMSwapRequest()
	quote, err := adapter.GetQuote(context.Background(), req)
	require.NoError(t, err)

	// 平台费三参数齐全，费用以卖出代币计收
	assert.Equal(t, "30", capturedQuery.Get("swapFeeBps"))
	assert.Equal(t, "0xFee0000000000000000000000000000000000001", capturedQuery.Get("swapFeeRecipient"))
	assert.Equal(t, req.FromToken, capturedQuery.Get("swapFeeToken"))
	assert.Equal(t, "50", capturedQuery.Get("slippageBps"))

	// 响应标准化：上游最小输出优先于滑点兜底
	assert.True(t, quote.ToAmount.Equal(decimal.NewFromInt(990000)))
	require.NotNil(t, quote.ToAmountMin)
	assert.True(t, quote.ToAmountMin.Equal(decimal.NewFromInt(985050)))
	assert.Equal(t, uint64(185000), quote.EstimatedGas)
	require.NotNil(t, quote.Transaction)
	assert.Equal(t, "0xZeroExSettler", quote.Transaction.To)
}

func TestZRXQuoteNoLiquidity(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"liquidityAvailable": false}`))
	}))
	defer server.Close()

	adapter := newZRXAdapter(server.URL, &types.FeePolicy{})

	quote, err := adapter.GetQuote(context.Background(), newEVMSwapRequest())
	assert.Nil(t, quote)

	var unavailable *types.Unavailable
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, types.ReasonNoLiquidity, unavailable.Reason)
}

func TestZRXQuoteMissingAPIKey(t *testing.T) {
	config := newTestProviderConfig(types.Provider0x, "http://unused.invalid")
	adapter := NewZRXAdapter(config, &types.FeePolicy{}, newTestLogger())

	quote, err := adapter.GetQuote(context.Background(), newEVMSwapRequest())
	assert.Nil(t, quote)

	var unavailable *types.Unavailable
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, types.ReasonUpstream, unavailable.Reason)
}

func TestZRXQuoteMinBuyAmountFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"liquidityAvailable": true,
			"buyAmount": "1000000",
			"transaction": {"to": "0xZeroExSettler", "data": "0x00", "gas": "100000", "value": "0"}
		}`))
	}))
	defer server.Close()

	adapter := newZRXAdapter(server.URL, &types.FeePolicy{})

	quote, err := adapter.GetQuote(context.Background(), newEVMSwapRequest())
	require.NoError(t, err)

	// 上游未给最小输出时按滑点兜底计算（默认50bps）
	require.NotNil(t, quote.ToAmountMin)
	assert.True(t, quote.ToAmountMin.Equal(decimal.NewFromInt(995000)))
}
