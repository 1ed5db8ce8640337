// Package services 兑换聚合核心服务实现
// 实现并发聚合算法、最优报价选择、build-tx路由
// 这是整个兑换聚合引擎的核心大脑，负责扇出/汇合与失败隔离
package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"defi-aggregator/swap-engine/internal/adapters"
	"defi-aggregator/swap-engine/internal/types"
	"defi-aggregator/swap-engine/pkg/cache"

	"github.com/sirupsen/logrus"
)

// AggregatorService 兑换聚合服务
// 协调多个聚合器适配器，实现并发报价聚合与交易构建路由
type AggregatorService struct {
	adapters map[string]adapters.ProviderAdapter // 聚合器适配器集合
	cache    cache.CacheManager                  // 缓存管理器
	config   *types.Config                       // 服务配置
	logger   *logrus.Logger                      // 日志记录器
	metrics  *ServiceMetrics                     // 服务指标
}

// ServiceMetrics 聚合服务指标
type ServiceMetrics struct {
	TotalRequests      int64         `json:"total_requests"`
	NoRouteRequests    int64         `json:"no_route_requests"`
	BuildTxRequests    int64         `json:"build_tx_requests"`
	CacheHits          int64         `json:"cache_hits"`
	CacheMisses        int64         `json:"cache_misses"`
	AvgAggregationTime time.Duration `json:"avg_aggregation_time"`
	LastRequestTime    time.Time     `json:"last_request_time"`
	mutex              sync.RWMutex  // 指标读写锁
}

// providerResult 单个适配器的扇出结果
// 两态：quote与unavailable必有且仅有其一非空
type providerResult struct {
	provider    string
	quote       *types.NormalizedQuote
	unavailable *types.Unavailable
}

// NewAggregatorService 创建兑换聚合服务实例
// 根据配置初始化所有启用的聚合器适配器
func NewAggregatorService(config *types.Config, cacheManager cache.CacheManager, logger *logrus.Logger) *AggregatorService {
	service := &AggregatorService{
		adapters: make(map[string]adapters.ProviderAdapter),
		cache:    cacheManager,
		config:   config,
		logger:   logger,
		metrics:  &ServiceMetrics{},
	}

	// 初始化聚合器适配器
	service.initializeAdapters()

	return service
}

// RegisterAdapter 注册聚合器适配器
// 初始化阶段与测试注入共用的注册入口
func (s *AggregatorService) RegisterAdapter(adapter adapters.ProviderAdapter) {
	s.adapters[adapter.GetName()] = adapter
}

// ========================================
// 核心聚合算法实现
// ========================================

// AggregateQuotes 聚合兑换报价
// 并发调用全部适用的聚合器，过滤不可用结果，按最优在前排序返回
// 没有任何可用报价时返回空列表（无路由），不视为错误
// 参数:
//   - ctx: 上下文，用于超时控制
//   - req: 兑换请求
//
// 返回:
//   - *types.QuoteResponse: 聚合后的报价集合（最优在前，恰好一条IsBest）
//   - error: 聚合过程中的内部错误（单个适配器失败不在此列）
func (s *AggregatorService) AggregateQuotes(ctx context.Context, req *types.SwapRequest) (*types.QuoteResponse, error) {
	startTime := time.Now()

	s.logger.Infof("[%s] 🚀 聚合请求: %s->%s, 金额=%s, 链=%d->%d",
		req.RequestID, req.FromToken, req.ToToken, req.AmountIn.String(), req.FromChainID, req.ToChainID)

	// 1. 检查缓存
	if cached := s.checkCache(ctx, req); cached != nil {
		s.updateMetrics(time.Since(startTime), true, len(cached.Quotes) == 0)
		s.logger.Infof("[%s] 缓存命中，直接返回结果", req.RequestID)
		return cached, nil
	}

	// 2. 确定适用的聚合器子集（不适用的聚合器不会被调用）
	eligible := s.eligibleAdapters(req.FromChainID, req.ToChainID)
	s.logger.Infof("[%s] 🔍 找到 %d 个适用的聚合器", req.RequestID, len(eligible))

	// 3. 执行并发聚合
	quotes := s.executeParallelAggregation(ctx, req, eligible)

	// 4. 排序并标记最优报价
	ranked := s.rankQuotes(quotes)

	// 5. 构建聚合响应（空结果集代表无路由，仍是成功响应）
	response := s.buildAggregationResponse(req, ranked, len(eligible), startTime)

	// 6. 缓存结果
	if len(ranked) > 0 {
		s.cacheResult(ctx, req, response)
	}

	// 7. 更新指标
	s.updateMetrics(time.Since(startTime), false, len(ranked) == 0)

	if len(ranked) == 0 {
		s.logger.Warnf("[%s] 😕 无可用报价（无路由）, 总耗时=%v", req.RequestID, time.Since(startTime))
	} else {
		s.logger.Infof("[%s] 🎉 聚合完成: 最优聚合器=%s, toAmount=%s, 报价数=%d, 总耗时=%v",
			req.RequestID, ranked[0].Provider, ranked[0].ToAmount.String(), len(ranked), time.Since(startTime))
	}

	return response, nil
}

// ========================================
// 并发聚合实现
// ========================================

// executeParallelAggregation 执行并发聚合
// 同时调用全部适用的聚合器，等待所有调用结束（成功、不可用或各自超时）
// 总延迟由最慢的聚合器决定，而非各聚合器之和
func (s *AggregatorService) executeParallelAggregation(ctx context.Context, req *types.SwapRequest, eligible []adapters.ProviderAdapter) []*types.NormalizedQuote {
	resultChan := make(chan providerResult, len(eligible))
	var wg sync.WaitGroup

	s.logger.Infof("[%s] 🚀 并发调用 %d 个聚合器", req.RequestID, len(eligible))

	// 为每个聚合器启动独立的goroutine
	for _, adapter := range eligible {
		wg.Add(1)
		go func(adp adapters.ProviderAdapter) {
			defer wg.Done()

			adapterStartTime := time.Now()

			// 每个适配器独立超时，互不影响
			adapterCtx, cancel := context.WithTimeout(ctx, adp.GetConfig().Timeout)
			defer cancel()

			quote, err := s.safeGetQuote(adapterCtx, adp, req)
			if err != nil {
				var unavailable *types.Unavailable
				if !errors.As(err, &unavailable) {
					// 非Unavailable错误同样收敛，保证失败隔离
					unavailable = types.NewUnavailable(adp.GetName(), types.ReasonUpstream, err)
				}
				resultChan <- providerResult{provider: adp.GetName(), unavailable: unavailable}
				return
			}

			s.logger.Infof("[%s] ✅ %s: 报价=%s, 耗时=%v",
				req.RequestID, adp.GetName(), quote.ToAmount.String(), time.Since(adapterStartTime))
			resultChan <- providerResult{provider: adp.GetName(), quote: quote}
		}(adapter)
	}

	// 等待所有goroutine完成后关闭channel
	go func() {
		wg.Wait()
		close(resultChan)
	}()

	// 收集所有结果，过滤不可用
	var quotes []*types.NormalizedQuote
	for result := range resultChan {
		if result.unavailable != nil {
			// 不适用是正常跳过，其余原因记录告警
			if result.unavailable.Reason == types.ReasonInapplicable {
				s.logger.Debugf("[%s] ⏭️ %s: 不适用，已跳过", req.RequestID, result.provider)
			} else {
				s.logger.Warnf("[%s] ❌ %s: %v", req.RequestID, result.provider, result.unavailable)
			}
			continue
		}
		quotes = append(quotes, result.quote)
	}

	return quotes
}

// safeGetQuote 调用适配器获取报价
// 适配器的panic在此兜底转换为Unavailable，保证失败不越过汇合点
func (s *AggregatorService) safeGetQuote(ctx context.Context, adp adapters.ProviderAdapter, req *types.SwapRequest) (quote *types.NormalizedQuote, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("聚合器 %s 发生panic: %v", adp.GetName(), r)
			quote = nil
			err = types.NewUnavailable(adp.GetName(), types.ReasonUpstream, fmt.Errorf("panic: %v", r))
		}
	}()

	return adp.GetQuote(ctx, req)
}

// ========================================
// 最优选择算法
// ========================================

// rankQuotes 排序并标记最优报价
// 纯函数：相同输入集合产生相同顺序
// 主排序键为输出数量（降序）；平局按配置优先级（1最高），再按名称字典序，
// 保证结果确定性。输出为重新构造的副本，IsBest在构造时设置，
// 不对适配器返回的记录做原地修改
func (s *AggregatorService) rankQuotes(quotes []*types.NormalizedQuote) []*types.NormalizedQuote {
	if len(quotes) == 0 {
		return nil
	}

	ranked := make([]*types.NormalizedQuote, 0, len(quotes))
	for _, q := range quotes {
		cp := *q
		cp.IsBest = false
		ranked = append(ranked, &cp)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		cmp := ranked[i].ToAmount.Cmp(ranked[j].ToAmount)
		if cmp != 0 {
			return cmp > 0
		}
		pi, pj := s.providerPriority(ranked[i].Provider), s.providerPriority(ranked[j].Provider)
		if pi != pj {
			return pi < pj
		}
		return ranked[i].Provider < ranked[j].Provider
	})

	ranked[0].IsBest = true
	return ranked
}

// providerPriority 查询聚合器的配置优先级
// 未注册的聚合器排在所有已配置聚合器之后
func (s *AggregatorService) providerPriority(provider string) int {
	if adp, ok := s.adapters[provider]; ok {
		return adp.GetConfig().Priority
	}
	return int(^uint(0) >> 1)
}

// ========================================
// 交易构建路由
// ========================================

// BuildTransaction 根据报价上下文构建可签名交易
// 严格路由到产生该报价的聚合器；上下文无法映射到已知聚合器视为无效输入
func (s *AggregatorService) BuildTransaction(ctx context.Context, qc *types.QuoteContext) (*types.TransactionPayload, error) {
	s.metrics.mutex.Lock()
	s.metrics.BuildTxRequests++
	s.metrics.mutex.Unlock()

	adapter, ok := s.adapters[qc.Provider]
	if !ok {
		return nil, &types.RouterError{
			Code:     types.ErrCodeUnknownProvider,
			Message:  fmt.Sprintf("未知的聚合器: %s", qc.Provider),
			Provider: qc.Provider,
		}
	}

	s.logger.Infof("🔧 构建交易: provider=%s, %s->%s", qc.Provider, qc.FromToken, qc.ToToken)

	buildCtx, cancel := context.WithTimeout(ctx, adapter.GetConfig().Timeout)
	defer cancel()

	tx, err := adapter.BuildTransaction(buildCtx, qc)
	if err != nil {
		s.logger.Errorf("💥 聚合器 %s 构建交易失败: %v", qc.Provider, err)
		return nil, &types.RouterError{
			Code:     types.ErrCodeProviderError,
			Message:  fmt.Sprintf("构建交易失败: %v", err),
			Provider: qc.Provider,
		}
	}

	s.logger.Infof("🎉 交易构建完成: provider=%s, to=%s", qc.Provider, tx.To)
	return tx, nil
}

// ========================================
// 缓存管理
// ========================================

// checkCache 检查缓存
// 根据请求参数检查是否有有效的缓存结果
func (s *AggregatorService) checkCache(ctx context.Context, req *types.SwapRequest) *types.QuoteResponse {
	if s.cache == nil {
		return nil
	}

	var cached types.QuoteResponse
	found, err := s.cache.Get(ctx, s.generateCacheKey(req), &cached)
	if err != nil {
		s.logger.Debugf("缓存查询失败: %v", err)
		return nil
	}
	if !found || time.Now().After(cached.ValidUntil) {
		return nil
	}

	cached.CacheHit = true
	cached.RequestID = req.RequestID
	return &cached
}

// cacheResult 缓存聚合结果
func (s *AggregatorService) cacheResult(ctx context.Context, req *types.SwapRequest, response *types.QuoteResponse) {
	if s.cache == nil {
		return
	}

	ttl := s.config.Cache.DefaultTTL
	if err := s.cache.Set(ctx, s.generateCacheKey(req), response, ttl); err != nil {
		s.logger.Warnf("缓存结果失败: %v", err)
	}
}

// generateCacheKey 生成缓存键
func (s *AggregatorService) generateCacheKey(req *types.SwapRequest) string {
	return fmt.Sprintf("%s%d_%d_%s_%s_%s_%d",
		s.config.Cache.PrefixKey,
		req.FromChainID,
		req.ToChainID,
		req.FromToken,
		req.ToToken,
		req.AmountIn.String(),
		req.EffectiveSlippageBps(),
	)
}

// ========================================
// 辅助方法
// ========================================

// initializeAdapters 初始化聚合器适配器
// 确保配置正确传递；每个适配器持有独立的配置副本
func (s *AggregatorService) initializeAdapters() {
	s.logger.Infof("🚀 开始初始化聚合器适配器系统，配置数量: %d", len(s.config.Providers))

	activeCount := 0

	for i := range s.config.Providers {
		// 独立的配置副本，避免引用污染
		config := s.config.Providers[i]
		config.SupportedChains = append([]uint{}, config.SupportedChains...)

		if !config.IsActive {
			s.logger.Infof("⏭️ 跳过未启用的聚合器: %s (is_active=false)", config.DisplayName)
			continue
		}

		adapter, err := s.createAdapter(&config)
		if err != nil {
			s.logger.Errorf("❌ 创建适配器失败: %s - %v", config.Name, err)
			continue
		}

		s.RegisterAdapter(adapter)
		activeCount++
		s.logger.Infof("✅ 适配器注册成功: %s (%s)", adapter.GetName(), adapter.GetDisplayName())
	}

	s.logger.Infof("🎉 聚合器适配器初始化完成: %d/%d 个适配器活跃", activeCount, len(s.config.Providers))
}

// createAdapter 创建聚合器适配器
func (s *AggregatorService) createAdapter(config *types.ProviderConfig) (adapters.ProviderAdapter, error) {
	fee := &s.config.Fee

	switch config.Name {
	case types.Provider1inch:
		return adapters.NewOneInchAdapter(config, fee, s.logger), nil
	case types.Provider0x:
		return adapters.NewZRXAdapter(config, fee, s.logger), nil
	case types.ProviderOKX:
		return adapters.NewOKXAdapter(config, fee, s.logger), nil
	case types.ProviderJupiter:
		return adapters.NewJupiterAdapter(config, fee, s.logger), nil
	case types.ProviderLiFi:
		return adapters.NewLiFiAdapter(config, fee, s.logger), nil
	default:
		return nil, fmt.Errorf("未知的聚合器类型: %s", config.Name)
	}
}

// eligibleAdapters 获取适用于指定链组合的适配器
func (s *AggregatorService) eligibleAdapters(fromChainID, toChainID uint) []adapters.ProviderAdapter {
	var eligible []adapters.ProviderAdapter

	for _, adapter := range s.adapters {
		if adapter.Supports(fromChainID, toChainID) {
			eligible = append(eligible, adapter)
		}
	}

	return eligible
}

// ProviderStatus 返回所有已注册聚合器的基础状态
func (s *AggregatorService) ProviderStatus() map[string]interface{} {
	status := make(map[string]interface{}, len(s.adapters))
	for name, adapter := range s.adapters {
		cfg := adapter.GetConfig()
		status[name] = map[string]interface{}{
			"display_name":     adapter.GetDisplayName(),
			"priority":         cfg.Priority,
			"supported_chains": cfg.SupportedChains,
			"cross_chain_only": cfg.CrossChainOnly,
			"timeout":          cfg.Timeout.String(),
		}
	}
	return status
}

// buildAggregationResponse 构建聚合响应
func (s *AggregatorService) buildAggregationResponse(
	req *types.SwapRequest,
	ranked []*types.NormalizedQuote,
	providersQueried int,
	startTime time.Time,
) *types.QuoteResponse {
	response := &types.QuoteResponse{
		RequestID:   req.RequestID,
		Success:     true,
		Quotes:      ranked,
		Performance: s.calculatePerformance(ranked, providersQueried, startTime),
		ValidUntil:  time.Now().Add(s.config.Cache.DefaultTTL),
		CacheHit:    false,
		Timestamp:   time.Now(),
	}

	if len(ranked) > 0 {
		response.BestProvider = ranked[0].Provider
	}

	return response
}

// calculatePerformance 计算聚合性能指标
func (s *AggregatorService) calculatePerformance(quotes []*types.NormalizedQuote, providersQueried int, startTime time.Time) types.AggregationPerformance {
	perf := types.AggregationPerformance{
		TotalDuration:    time.Since(startTime),
		ProvidersQueried: providersQueried,
		ProvidersSuccess: len(quotes),
	}

	var minTime, maxTime time.Duration
	for i, quote := range quotes {
		if i == 0 || quote.ResponseTime < minTime {
			minTime = quote.ResponseTime
			perf.FastestProvider = quote.Provider
		}
		if i == 0 || quote.ResponseTime > maxTime {
			maxTime = quote.ResponseTime
			perf.SlowestProvider = quote.Provider
		}
	}

	return perf
}

// ========================================
// 指标管理
// ========================================

// updateMetrics 更新服务指标
func (s *AggregatorService) updateMetrics(duration time.Duration, cacheHit, noRoute bool) {
	s.metrics.mutex.Lock()
	defer s.metrics.mutex.Unlock()

	s.metrics.TotalRequests++
	s.metrics.LastRequestTime = time.Now()

	if cacheHit {
		s.metrics.CacheHits++
	} else {
		s.metrics.CacheMisses++
	}
	if noRoute {
		s.metrics.NoRouteRequests++
	}

	// 更新平均聚合时间（滑动平均）
	if s.metrics.TotalRequests == 1 {
		s.metrics.AvgAggregationTime = duration
	} else {
		alpha := 0.1
		s.metrics.AvgAggregationTime = time.Duration(
			float64(s.metrics.AvgAggregationTime)*(1-alpha) + float64(duration)*alpha,
		)
	}
}

// GetMetrics 获取服务指标副本
func (s *AggregatorService) GetMetrics() *ServiceMetrics {
	s.metrics.mutex.RLock()
	defer s.metrics.mutex.RUnlock()

	return &ServiceMetrics{
		TotalRequests:      s.metrics.TotalRequests,
		NoRouteRequests:    s.metrics.NoRouteRequests,
		BuildTxRequests:    s.metrics.BuildTxRequests,
		CacheHits:          s.metrics.CacheHits,
		CacheMisses:        s.metrics.CacheMisses,
		AvgAggregationTime: s.metrics.AvgAggregationTime,
		LastRequestTime:    s.metrics.LastRequestTime,
	}
}
