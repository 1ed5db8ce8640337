// Package adapters 聚合器适配器接口定义
// 定义所有聚合器适配器的标准接口
package adapters

import (
	"context"

	"defi-aggregator/swap-engine/internal/types"
)

// ProviderAdapter 聚合器适配器接口
// 定义所有第三方聚合器必须实现的标准接口
// GetQuote/BuildTransaction的任何失败都收敛为*types.Unavailable或错误返回值，
// 绝不以panic形式越过适配器边界
type ProviderAdapter interface {
	// 基础信息
	GetName() string                          // 获取聚合器名称
	GetDisplayName() string                   // 获取显示名称
	Supports(fromChainID, toChainID uint) bool // 检查是否适用于指定链组合

	// 核心功能
	// GetQuote 获取标准化报价；不适用或失败时返回*types.Unavailable
	GetQuote(ctx context.Context, req *types.SwapRequest) (*types.NormalizedQuote, error)
	// BuildTransaction 基于报价上下文构建可签名交易（build-tx阶段）
	BuildTransaction(ctx context.Context, qc *types.QuoteContext) (*types.TransactionPayload, error)

	// 配置管理
	GetConfig() *types.ProviderConfig // 获取当前配置
}
