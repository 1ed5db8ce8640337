// Package types 定义兑换聚合引擎中使用的所有数据类型
// 包含兑换请求响应、标准化报价、交易构建、错误码等
// 遵循领域驱动设计原则，确保类型安全和业务语义清晰
package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ========================================
// 核心业务类型定义
// ========================================

// SwapRequest 兑换报价请求
// 每次聚合调用构造一次，之后不再修改
type SwapRequest struct {
	RequestID   string          `json:"request_id"`                                // 唯一请求ID
	FromChainID uint            `json:"from_chain_id" binding:"required"`          // 源链ID
	ToChainID   uint            `json:"to_chain_id" binding:"required"`            // 目标链ID（同链兑换时与源链相同）
	FromToken   string          `json:"from_token" binding:"required"`             // 源代币合约地址
	ToToken     string          `json:"to_token" binding:"required"`               // 目标代币合约地址
	AmountIn    decimal.Decimal `json:"amount_in" binding:"required"`              // 输入数量（最小单位整数）
	UserAddress string          `json:"user_address" binding:"required"`           // 用户钱包地址
	SlippageBps uint            `json:"slippage_bps" binding:"omitempty,lte=5000"` // 滑点容忍度（基点，可选）
}

// IsCrossChain 是否为跨链兑换请求
func (r *SwapRequest) IsCrossChain() bool {
	return r.FromChainID != r.ToChainID
}

// EffectiveSlippageBps 返回生效的滑点（未指定时使用默认值50bps）
func (r *SwapRequest) EffectiveSlippageBps() uint {
	if r.SlippageBps == 0 {
		return DefaultSlippageBps
	}
	return r.SlippageBps
}

// NormalizedQuote 标准化报价
// 各聚合器适配器的统一输出格式，由适配器构造
// isBest由选择器在重新构造的副本上设置，不对适配器返回值做原地修改
type NormalizedQuote struct {
	Provider     string              `json:"provider"`                  // 聚合器名称
	ToAmount     decimal.Decimal     `json:"to_amount"`                 // 输出数量（目标代币最小单位）
	ToAmountMin  *decimal.Decimal    `json:"to_amount_min,omitempty"`   // 滑点保护后的最差输出（可选）
	EstimatedGas uint64              `json:"estimated_gas,omitempty"`   // Gas估算（可选）
	FeePercent   decimal.Decimal     `json:"fee_percent"`               // 注入的平台费率（百分比）
	IsBest       bool                `json:"is_best"`                   // 是否为最优报价
	Transaction  *TransactionPayload `json:"transaction,omitempty"`     // 报价阶段即可用的交易载荷（可选）
	Context      *QuoteContext       `json:"quote_context"`             // 构建交易所需的上下文
	ResponseTime time.Duration       `json:"response_time"`             // 适配器响应耗时
}

// TransactionPayload 可签名的交易载荷
// 部分聚合器在报价阶段直接返回，其余通过build-tx阶段获取
type TransactionPayload struct {
	To       string `json:"to"`        // 交易目标地址
	Value    string `json:"value"`     // 发送的原生代币数量
	Data     string `json:"data"`      // 交易calldata（Solana为序列化交易）
	GasLimit uint64 `json:"gas_limit"` // Gas限制
}

// QuoteContext 报价上下文
// 每条报价携带的不透明上下文，足以在build-tx阶段重建该报价的交易
// Payload内容由产生它的适配器私有定义，引擎只负责按Provider路由
type QuoteContext struct {
	Provider    string          `json:"provider" binding:"required"` // 产生报价的聚合器
	FromChainID uint            `json:"from_chain_id"`               // 源链ID
	ToChainID   uint            `json:"to_chain_id"`                 // 目标链ID
	FromToken   string          `json:"from_token"`                  // 源代币地址
	ToToken     string          `json:"to_token"`                    // 目标代币地址
	AmountIn    decimal.Decimal `json:"amount_in"`                   // 输入数量（最小单位）
	UserAddress string          `json:"user_address"`                // 用户钱包地址
	SlippageBps uint            `json:"slippage_bps"`                // 滑点（基点）
	Payload     json.RawMessage `json:"payload,omitempty"`           // 聚合器私有数据（如Jupiter的quoteResponse）
}

// QuoteResponse 聚合报价响应
// 按最优在前的顺序返回全部可用报价；Quotes为空表示无可用路由（非错误）
type QuoteResponse struct {
	RequestID    string                 `json:"request_id"`              // 请求ID
	Success      bool                   `json:"success"`                 // 是否成功（无路由也视为成功）
	BestProvider string                 `json:"best_provider,omitempty"` // 最优聚合器
	Quotes       []*NormalizedQuote     `json:"quotes"`                  // 全部报价（最优在前）
	Performance  AggregationPerformance `json:"performance"`             // 聚合性能指标
	ValidUntil   time.Time              `json:"valid_until"`             // 报价有效期
	CacheHit     bool                   `json:"cache_hit"`               // 是否命中缓存
	Timestamp    time.Time              `json:"timestamp"`               // 响应时间戳
}

// AggregationPerformance 聚合性能指标
// 记录本次聚合的性能和质量指标
type AggregationPerformance struct {
	TotalDuration    time.Duration `json:"total_duration"`    // 总耗时
	ProvidersQueried int           `json:"providers_queried"` // 查询的聚合器数量
	ProvidersSuccess int           `json:"providers_success"` // 成功响应的数量
	FastestProvider  string        `json:"fastest_provider"`  // 最快响应的聚合器
	SlowestProvider  string        `json:"slowest_provider"`  // 最慢响应的聚合器
}

// ========================================
// 适配器结果类型
// ========================================

// Unavailable 适配器"无报价"结果
// 显式建模的两态结果之一：不可用不是异常，而是一种正常结束
// 实现error接口以便在适配器边界作为返回值传递，绝不跨越聚合汇合点
type Unavailable struct {
	Provider string // 聚合器名称
	Reason   string // 不可用原因分类
	Err      error  // 底层错误（可选，仅用于日志）
}

func (u *Unavailable) Error() string {
	if u.Err != nil {
		return fmt.Sprintf("%s不可用(%s): %v", u.Provider, u.Reason, u.Err)
	}
	return fmt.Sprintf("%s不可用(%s)", u.Provider, u.Reason)
}

func (u *Unavailable) Unwrap() error {
	return u.Err
}

// NewUnavailable 构造适配器不可用结果
func NewUnavailable(provider, reason string, err error) *Unavailable {
	return &Unavailable{Provider: provider, Reason: reason, Err: err}
}

// 不可用原因分类
const (
	ReasonInapplicable = "inapplicable"  // 请求不在适配器支持范围内（静默跳过）
	ReasonUpstream     = "upstream"      // 上游网络错误、非2xx响应、限流
	ReasonTimeout      = "timeout"       // 独立超时
	ReasonBadResponse  = "bad_response"  // 上游响应格式异常或缺少字段
	ReasonNoLiquidity  = "no_liquidity"  // 上游明确表示无流动性
)

// ========================================
// 聚合器配置类型
// ========================================

// ProviderConfig 聚合器配置
// 定义每个第三方聚合器的连接和行为配置
// 启动时加载一次，之后不可变，通过构造函数注入适配器
type ProviderConfig struct {
	Name            string        `json:"name"`             // 聚合器名称
	DisplayName     string        `json:"display_name"`     // 显示名称
	BaseURL         string        `json:"base_url"`         // API基础URL
	APIKey          string        `json:"api_key"`          // API密钥
	APISecret       string        `json:"api_secret"`       // API签名密钥（仅签名类聚合器）
	APIPassphrase   string        `json:"api_passphrase"`   // API口令（仅签名类聚合器）
	Timeout         time.Duration `json:"timeout"`          // 独立请求超时时间
	RetryCount      int           `json:"retry_count"`      // 5xx重试次数
	Priority        int           `json:"priority"`         // 优先级（1最高，等价报价的平局规则）
	IsActive        bool          `json:"is_active"`        // 是否启用
	SupportedChains []uint        `json:"supported_chains"` // 支持的链ID列表
	CrossChainOnly  bool          `json:"cross_chain_only"` // 仅服务跨链请求
}

// FeePolicy 平台费注入策略
// providerId -> 费用参数的声明式映射；只依赖聚合器和配置，不依赖请求金额
type FeePolicy struct {
	FeeBps           uint   `json:"fee_bps"`            // 平台费率（基点）
	EVMRecipient     string `json:"evm_recipient"`      // EVM链费用接收地址
	SolanaFeeAccount string `json:"solana_fee_account"` // Solana费用接收代币账户（仅build-tx阶段注入）
}

// FeePercent 以百分比形式返回费率（如30bps -> 0.3）
func (p *FeePolicy) FeePercent() decimal.Decimal {
	return decimal.New(int64(p.FeeBps), -2)
}

// ========================================
// 错误类型定义
// ========================================

// RouterError 聚合引擎错误
// 仅用于需要呈现给调用方的失败（无效请求、未知聚合器等）
// 单个适配器的失败一律在适配器边界收敛为Unavailable，不使用该类型
type RouterError struct {
	Code     string `json:"code"`               // 错误代码
	Message  string `json:"message"`            // 错误消息
	Provider string `json:"provider,omitempty"` // 相关聚合器
}

func (e *RouterError) Error() string {
	return e.Message
}

// 预定义错误代码
const (
	ErrCodeInvalidRequest  = "INVALID_REQUEST"  // 无效请求
	ErrCodeUnknownProvider = "UNKNOWN_PROVIDER" // build-tx上下文无法映射到已知聚合器
	ErrCodeProviderError   = "PROVIDER_ERROR"   // build-tx阶段聚合器调用失败
	ErrCodeInternalError   = "INTERNAL_ERROR"   // 内部错误
)

// ========================================
// 配置类型
// ========================================

// Config 兑换聚合服务配置
type Config struct {
	Server    ServerConfig     `json:"server"`    // 服务器配置
	Redis     RedisConfig      `json:"redis"`     // Redis配置
	Providers []ProviderConfig `json:"providers"` // 聚合器配置
	Fee       FeePolicy        `json:"fee"`       // 平台费策略
	Cache     CacheConfig      `json:"cache"`     // 缓存配置
	Upstream  UpstreamConfig   `json:"upstream"`  // 上游全功能聚合器配置
	RateLimit RateLimitConfig  `json:"ratelimit"` // 限流配置
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port        int    `json:"port"`        // 监听端口
	Environment string `json:"environment"` // 运行环境
	LogLevel    string `json:"log_level"`   // 日志级别
}

// RedisConfig Redis配置
type RedisConfig struct {
	Host     string `json:"host"`      // Redis主机
	Port     int    `json:"port"`      // Redis端口
	Password string `json:"password"`  // Redis密码
	DB       int    `json:"db"`        // 数据库编号
	PoolSize int    `json:"pool_size"` // 连接池大小
	Enabled  bool   `json:"enabled"`   // 未启用时退化为内存缓存
}

// CacheConfig 缓存配置
type CacheConfig struct {
	DefaultTTL time.Duration `json:"default_ttl"` // 报价缓存TTL
	PrefixKey  string        `json:"prefix_key"`  // 缓存键前缀
}

// UpstreamConfig 上游全功能聚合器配置
// 未实现的端点和无路由场景透明转发到该上游
type UpstreamConfig struct {
	URL     string        `json:"url"`     // 上游地址（为空时禁用转发）
	Timeout time.Duration `json:"timeout"` // 转发超时
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Enabled  bool          `json:"enabled"`  // 是否启用
	Requests int           `json:"requests"` // 时间窗口内允许的请求数
	Window   time.Duration `json:"window"`   // 时间窗口
}

// ========================================
// HTTP响应类型
// ========================================

// APIResponse 统一API响应格式
type APIResponse struct {
	Success   bool        `json:"success"`         // 是否成功
	Data      interface{} `json:"data,omitempty"`  // 响应数据
	Error     *APIError   `json:"error,omitempty"` // 错误信息
	Timestamp int64       `json:"timestamp"`       // 时间戳
	RequestID string      `json:"request_id"`      // 请求ID
}

// APIError API错误信息
type APIError struct {
	Code    string                 `json:"code"`              // 错误代码
	Message string                 `json:"message"`           // 错误消息
	Details map[string]interface{} `json:"details,omitempty"` // 详细信息
}

// ========================================
// 常量定义
// ========================================

// 支持的聚合器列表
const (
	Provider1inch   = "1inch"   // 1inch聚合器
	Provider0x      = "0x"      // 0x Protocol
	ProviderOKX     = "okx"     // OKX DEX聚合器（签名接入）
	ProviderJupiter = "jupiter" // Jupiter聚合器（Solana）
	ProviderLiFi    = "lifi"    // LI.FI跨链聚合器
)

// 链ID常量
const (
	ChainEthereum = 1     // Ethereum主网
	ChainBSC      = 56    // BNB Chain
	ChainPolygon  = 137   // Polygon
	ChainOptimism = 10    // Optimism
	ChainBase     = 8453  // Base
	ChainArbitrum = 42161 // Arbitrum One
	ChainSolana   = 501   // Solana（沿用OKX DEX的链ID约定）
)

// DefaultSlippageBps 默认滑点（0.5%）
const DefaultSlippageBps = 50
