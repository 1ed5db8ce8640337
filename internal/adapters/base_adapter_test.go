// 基础适配器测试
// 覆盖金额换算截断、滑点兜底计算、适用性判断与HTTP重试
package adapters

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"defi-aggregator/swap-engine/internal/types"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestLogger 创建静默日志记录器
func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// newTestProviderConfig 创建指向测试服务器的聚合器配置
func newTestProviderConfig(name, baseURL string) *types.ProviderConfig {
	return &types.ProviderConfig{
		Name:            name,
		DisplayName:     name,
		BaseURL:         baseURL,
		Timeout:         2 * time.Second,
		RetryCount:      0,
		Priority:        1,
		IsActive:        true,
		SupportedChains: []uint{types.ChainEthereum, types.ChainPolygon},
	}
}

// newEVMSwapRequest 创建以太坊同链测试请求
func newEVMSwapRequest() *types.SwapRequest {
	return &types.SwapRequest{
		RequestID:   "test-req",
		FromChainID: types.ChainEthereum,
		ToChainID:   types.ChainEthereum,
		FromToken:   "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		ToToken:     "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
		AmountIn:    decimal.NewFromInt(1000000),
		UserAddress: "0x1111111111111111111111111111111111111111",
	}
}

// ========================================
// 金额换算
// ========================================

func TestToSmallestUnitTruncates(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		decimals int32
		expected string
	}{
		{"整数金额", "1", 6, "1000000"},
		{"常规小数", "1.5", 6, "1500000"},
		{"截断多余精度", "0.0000019", 6, "1"},
		{"18位精度", "2.123456789012345678", 18, "2123456789012345678"},
		{"超出精度截断不进位", "0.1234567891", 6, "123456"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount := decimal.RequireFromString(tt.amount)
			result := ToSmallestUnit(amount, tt.decimals)
			assert.Equal(t, tt.expected, result.String())
		})
	}
}

func TestFromSmallestUnitRoundTrip(t *testing.T) {
	smallest := decimal.RequireFromString("1500000")
	human := FromSmallestUnit(smallest, 6)
	assert.Equal(t, "1.5", human.String())

	// 整数最小单位往返无损
	back := ToSmallestUnit(human, 6)
	assert.True(t, smallest.Equal(back))
}

func TestMinAmountAfterSlippageTruncates(t *testing.T) {
	// 1000000 * (1 - 0.005) = 995000
	result := minAmountAfterSlippage(decimal.NewFromInt(1000000), 50)
	assert.Equal(t, "995000", result.String())

	// 999 * 0.995 = 994.005，截断到994（不向上取整用户所得）
	result = minAmountAfterSlippage(decimal.NewFromInt(999), 50)
	assert.Equal(t, "994", result.String())
}

// ========================================
// 适用性判断
// ========================================

func TestSupportsSameChain(t *testing.T) {
	adapter := NewBaseAdapter(newTestProviderConfig("test", ""), &types.FeePolicy{}, newTestLogger())

	assert.True(t, adapter.Supports(types.ChainEthereum, types.ChainEthereum))
	assert.True(t, adapter.Supports(types.ChainPolygon, types.ChainPolygon))

	// 跨链请求不适用于同链聚合器
	assert.False(t, adapter.Supports(types.ChainEthereum, types.ChainPolygon))
	// 不支持的链
	assert.False(t, adapter.Supports(types.ChainBSC, types.ChainBSC))
}

func TestSupportsCrossChainOnly(t *testing.T) {
	config := newTestProviderConfig("bridge", "")
	config.CrossChainOnly = true
	adapter := NewBaseAdapter(config, &types.FeePolicy{}, newTestLogger())

	assert.True(t, adapter.Supports(types.ChainEthereum, types.ChainPolygon))

	// 同链请求不适用于跨链聚合器
	assert.False(t, adapter.Supports(types.ChainEthereum, types.ChainEthereum))
	// 任一端不支持即不适用
	assert.False(t, adapter.Supports(types.ChainEthereum, types.ChainBSC))
}

// ========================================
// HTTP请求与重试
// ========================================

func TestMakeHTTPRequestRetriesOn5xx(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	config := newTestProviderConfig("test", server.URL)
	config.RetryCount = 2
	adapter := NewBaseAdapter(config, &types.FeePolicy{}, newTestLogger())

	body, err := adapter.makeHTTPRequest(context.Background(), "GET", server.URL, nil, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestMakeHTTPRequestNoRetryOn4xx(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"reason":"bad params"}`))
	}))
	defer server.Close()

	config := newTestProviderConfig("test", server.URL)
	config.RetryCount = 3
	adapter := NewBaseAdapter(config, &types.FeePolicy{}, newTestLogger())

	_, err := adapter.makeHTTPRequest(context.Background(), "GET", server.URL, nil, nil)
	require.Error(t, err)

	// 4xx为确定性失败，不重试
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestUnavailableFromHTTPErrorClassifiesTimeout(t *testing.T) {
	adapter := NewBaseAdapter(newTestProviderConfig("test", ""), &types.FeePolicy{}, newTestLogger())

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	unavailable := adapter.unavailableFromHTTPError(ctx.Err())
	assert.Equal(t, types.ReasonTimeout, unavailable.Reason)

	unavailable = adapter.unavailableFromHTTPError(assert.AnError)
	assert.Equal(t, types.ReasonUpstream, unavailable.Reason)
}
