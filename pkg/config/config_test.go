// 配置加载与验证测试
package config

import (
	"testing"
	"time"

	"defi-aggregator/swap-engine/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ONEINCH_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5180, cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Environment)
	assert.Equal(t, 10*time.Second, cfg.Cache.DefaultTTL)

	// 未配置时不注入平台费
	assert.Equal(t, uint(0), cfg.Fee.FeeBps)
	assert.True(t, cfg.Fee.FeePercent().IsZero())
}

func TestLoadFeePolicy(t *testing.T) {
	t.Setenv("ONEINCH_ENABLED", "true")
	t.Setenv("PLATFORM_FEE_BPS", "25")
	t.Setenv("PLATFORM_FEE_RECIPIENT", "0xFee0000000000000000000000000000000000001")
	t.Setenv("PLATFORM_SOLANA_FEE_ACCOUNT", "FeeAccountPubkey11111111111111111111111111")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, uint(25), cfg.Fee.FeeBps)
	assert.Equal(t, "0xFee0000000000000000000000000000000000001", cfg.Fee.EVMRecipient)
	assert.Equal(t, "FeeAccountPubkey11111111111111111111111111", cfg.Fee.SolanaFeeAccount)
	assert.Equal(t, "0.25", cfg.Fee.FeePercent().String())
}

func TestLoadRequiresActiveProvider(t *testing.T) {
	// 所有聚合器默认关闭
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "至少需要一个活跃的聚合器")
}

func TestLoadRejectsExcessiveFee(t *testing.T) {
	t.Setenv("ONEINCH_ENABLED", "true")
	t.Setenv("PLATFORM_FEE_BPS", "500")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "平台费率")
}

func TestLoadRejectsFeeWithoutRecipient(t *testing.T) {
	t.Setenv("ONEINCH_ENABLED", "true")
	t.Setenv("PLATFORM_FEE_BPS", "30")
	t.Setenv("PLATFORM_FEE_RECIPIENT", "")
	t.Setenv("PLATFORM_SOLANA_FEE_ACCOUNT", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "费用接收地址")
}

func TestLoadRequiresOKXCredentials(t *testing.T) {
	t.Setenv("OKX_ENABLED", "true")
	t.Setenv("OKX_API_KEY", "key")
	// 缺少secret和passphrase

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OKX")
}

func TestLoadOKXWithFullCredentials(t *testing.T) {
	t.Setenv("OKX_ENABLED", "true")
	t.Setenv("OKX_API_KEY", "key")
	t.Setenv("OKX_API_SECRET", "secret")
	t.Setenv("OKX_API_PASSPHRASE", "pass")

	cfg, err := Load()
	require.NoError(t, err)

	var okx *types.ProviderConfig
	for i := range cfg.Providers {
		if cfg.Providers[i].Name == types.ProviderOKX {
			okx = &cfg.Providers[i]
		}
	}
	require.NotNil(t, okx)
	assert.True(t, okx.IsActive)
	assert.Equal(t, "secret", okx.APISecret)
	assert.Contains(t, okx.SupportedChains, uint(types.ChainSolana))
}

func TestLoadLiFiIsCrossChainOnly(t *testing.T) {
	t.Setenv("LIFI_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	for i := range cfg.Providers {
		if cfg.Providers[i].Name == types.ProviderLiFi {
			assert.True(t, cfg.Providers[i].CrossChainOnly)
			return
		}
	}
	t.Fatal("未找到LI.FI配置")
}
