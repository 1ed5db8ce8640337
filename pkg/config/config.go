// Package config 兑换聚合服务配置管理
// 提供配置加载、验证、环境变量处理等功能
// 配置在启动时加载一次，之后不可变，通过构造函数显式注入各组件
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"defi-aggregator/swap-engine/internal/types"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Load 加载兑换聚合服务配置
// 从环境变量和.env文件加载配置，设置默认值
// 返回:
//   - *types.Config: 完整的服务配置
//   - error: 配置加载或验证错误
func Load() (*types.Config, error) {
	// 尝试加载.env文件
	if err := godotenv.Load(); err != nil {
		logrus.Info("未找到.env文件，使用环境变量配置")
	}

	config := &types.Config{
		Server: types.ServerConfig{
			Port:        getEnvAsInt("PORT", 5180),
			Environment: getEnv("APP_ENV", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Redis: types.RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB_SWAP_ENGINE", 0),
			PoolSize: getEnvAsInt("REDIS_POOL_SIZE", 10),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},
		Providers: loadProviderConfigs(),
		Fee: types.FeePolicy{
			FeeBps:           uint(getEnvAsInt("PLATFORM_FEE_BPS", 0)),
			EVMRecipient:     getEnv("PLATFORM_FEE_RECIPIENT", ""),
			SolanaFeeAccount: getEnv("PLATFORM_SOLANA_FEE_ACCOUNT", ""),
		},
		Cache: types.CacheConfig{
			DefaultTTL: getEnvAsDuration("CACHE_DEFAULT_TTL", 10*time.Second),
			PrefixKey:  getEnv("CACHE_PREFIX", "swap_engine:"),
		},
		Upstream: types.UpstreamConfig{
			URL:     getEnv("UPSTREAM_AGGREGATOR_URL", ""),
			Timeout: getEnvAsDuration("UPSTREAM_TIMEOUT", 15*time.Second),
		},
		RateLimit: types.RateLimitConfig{
			Enabled:  getEnvAsBool("RATE_LIMIT_ENABLED", true),
			Requests: getEnvAsInt("RATE_LIMIT_REQUESTS", 30),
			Window:   getEnvAsDuration("RATE_LIMIT_WINDOW", 1*time.Minute),
		},
	}

	// 验证配置
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return config, nil
}

// loadProviderConfigs 加载聚合器配置
// 从环境变量加载各个聚合器的配置信息
func loadProviderConfigs() []types.ProviderConfig {
	providers := []types.ProviderConfig{
		// 1inch配置
		{
			Name:            types.Provider1inch,
			DisplayName:     "1inch",
			BaseURL:         getEnv("ONEINCH_API_URL", "https://api.1inch.dev"),
			APIKey:          getEnv("ONEINCH_API_KEY", ""),
			Timeout:         getEnvAsDuration("ONEINCH_TIMEOUT", 3*time.Second),
			RetryCount:      getEnvAsInt("ONEINCH_RETRY_COUNT", 2),
			Priority:        1,
			IsActive:        getEnvAsBool("ONEINCH_ENABLED", false),
			SupportedChains: []uint{types.ChainEthereum, types.ChainBSC, types.ChainPolygon, types.ChainArbitrum, types.ChainOptimism, types.ChainBase},
		},

		// 0x Protocol配置
		{
			Name:            types.Provider0x,
			DisplayName:     "0x Protocol",
			BaseURL:         getEnv("ZRX_API_URL", "https://api.0x.org"),
			APIKey:          getEnv("ZRX_API_KEY", ""),
			Timeout:         getEnvAsDuration("ZRX_TIMEOUT", 5*time.Second),
			RetryCount:      getEnvAsInt("ZRX_RETRY_COUNT", 2),
			Priority:        2,
			IsActive:        getEnvAsBool("ZRX_ENABLED", false),
			SupportedChains: []uint{types.ChainEthereum, types.ChainPolygon, types.ChainArbitrum, types.ChainBase},
		},

		// OKX DEX配置（签名接入）
		{
			Name:            types.ProviderOKX,
			DisplayName:     "OKX DEX",
			BaseURL:         getEnv("OKX_API_URL", "https://www.okx.com"),
			APIKey:          getEnv("OKX_API_KEY", ""),
			APISecret:       getEnv("OKX_API_SECRET", ""),
			APIPassphrase:   getEnv("OKX_API_PASSPHRASE", ""),
			Timeout:         getEnvAsDuration("OKX_TIMEOUT", 4*time.Second),
			RetryCount:      getEnvAsInt("OKX_RETRY_COUNT", 1),
			Priority:        3,
			IsActive:        getEnvAsBool("OKX_ENABLED", false),
			SupportedChains: []uint{types.ChainEthereum, types.ChainBSC, types.ChainPolygon, types.ChainArbitrum, types.ChainOptimism, types.ChainSolana},
		},

		// Jupiter配置（Solana专用，两阶段）
		{
			Name:            types.ProviderJupiter,
			DisplayName:     "Jupiter",
			BaseURL:         getEnv("JUPITER_API_URL", "https://quote-api.jup.ag"),
			Timeout:         getEnvAsDuration("JUPITER_TIMEOUT", 4*time.Second),
			RetryCount:      getEnvAsInt("JUPITER_RETRY_COUNT", 1),
			Priority:        4,
			IsActive:        getEnvAsBool("JUPITER_ENABLED", false),
			SupportedChains: []uint{types.ChainSolana},
		},

		// LI.FI配置（仅跨链）
		{
			Name:            types.ProviderLiFi,
			DisplayName:     "LI.FI",
			BaseURL:         getEnv("LIFI_API_URL", "https://li.quest"),
			APIKey:          getEnv("LIFI_API_KEY", ""),
			Timeout:         getEnvAsDuration("LIFI_TIMEOUT", 8*time.Second),
			RetryCount:      getEnvAsInt("LIFI_RETRY_COUNT", 1),
			Priority:        5,
			IsActive:        getEnvAsBool("LIFI_ENABLED", false),
			SupportedChains: []uint{types.ChainEthereum, types.ChainBSC, types.ChainPolygon, types.ChainArbitrum, types.ChainOptimism, types.ChainBase},
			CrossChainOnly:  true,
		},
	}

	return providers
}

// validateConfig 验证配置的有效性
func validateConfig(cfg *types.Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("无效的端口号: %d", cfg.Server.Port)
	}

	// 验证至少有一个活跃的聚合器
	activeProviders := 0
	for _, provider := range cfg.Providers {
		if !provider.IsActive {
			continue
		}
		activeProviders++

		if provider.BaseURL == "" {
			return fmt.Errorf("%s已启用但未配置API URL", provider.Name)
		}

		// 签名类聚合器必须配置完整凭证
		if provider.Name == types.ProviderOKX {
			if provider.APIKey == "" || provider.APISecret == "" || provider.APIPassphrase == "" {
				return fmt.Errorf("OKX已启用但缺少API凭证（key/secret/passphrase）")
			}
		}
	}
	if activeProviders == 0 {
		return fmt.Errorf("至少需要一个活跃的聚合器")
	}

	// 验证平台费策略
	if cfg.Fee.FeeBps > 300 {
		return fmt.Errorf("平台费率不能超过300bps，当前为: %d", cfg.Fee.FeeBps)
	}
	if cfg.Fee.FeeBps > 0 && cfg.Fee.EVMRecipient == "" && cfg.Fee.SolanaFeeAccount == "" {
		return fmt.Errorf("配置了平台费率但未配置任何费用接收地址")
	}

	// 验证限流配置
	if cfg.RateLimit.Enabled && (cfg.RateLimit.Requests <= 0 || cfg.RateLimit.Window <= 0) {
		return fmt.Errorf("限流配置无效: requests=%d, window=%v", cfg.RateLimit.Requests, cfg.RateLimit.Window)
	}

	return nil
}

// ========================================
// 环境变量辅助函数
// ========================================

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		logrus.Warnf("无法解析环境变量 %s 为整数，使用默认值 %d", key, defaultValue)
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
		logrus.Warnf("无法解析环境变量 %s 为布尔值，使用默认值 %t", key, defaultValue)
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		logrus.Warnf("无法解析环境变量 %s 为时间间隔，使用默认值 %v", key, defaultValue)
	}
	return defaultValue
}
