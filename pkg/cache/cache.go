// Package cache 报价缓存管理
// 提供统一的缓存接口，Redis为主实现，未启用Redis时退化为进程内缓存
// 缓存只存放短TTL的聚合响应，不承担任何持久化职责
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"defi-aggregator/swap-engine/internal/types"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// CacheManager 缓存管理器接口
type CacheManager interface {
	// Get 读取缓存并反序列化到dest；返回是否命中
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	// Set 序列化value并按ttl写入缓存
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Close 释放底层连接
	Close() error
}

// ========================================
// Redis实现
// ========================================

// RedisCache 基于Redis的缓存管理器
type RedisCache struct {
	client *redis.Client  // Redis客户端
	logger *logrus.Logger // 日志记录器
}

// NewRedisCache 创建Redis缓存管理器
// 启动时验证连接可用，连接失败直接返回错误由调用方决定降级策略
func NewRedisCache(cfg *types.RedisConfig, logger *logrus.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	// 验证连接
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redis连接失败: %w", err)
	}

	logger.Infof("Redis缓存连接成功: %s:%d/db%d", cfg.Host, cfg.Port, cfg.DB)

	return &RedisCache{
		client: client,
		logger: logger,
	}, nil
}

// Get 读取缓存
func (r *RedisCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("Redis读取失败: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("缓存数据反序列化失败: %w", err)
	}
	return true, nil
}

// Set 写入缓存
func (r *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("缓存数据序列化失败: %w", err)
	}

	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("Redis写入失败: %w", err)
	}
	return nil
}

// Close 关闭Redis连接
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// ========================================
// 进程内实现（Redis未启用时的降级）
// ========================================

// memoryEntry 进程内缓存条目
type memoryEntry struct {
	data      []byte    // 序列化后的数据
	expiresAt time.Time // 过期时间
}

// MemoryCache 进程内缓存管理器
// 单机降级实现，TTL检查在读取时惰性执行
type MemoryCache struct {
	entries map[string]memoryEntry
	mutex   sync.RWMutex
}

// NewMemoryCache 创建进程内缓存管理器
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
	}
}

// Get 读取缓存
func (m *MemoryCache) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	m.mutex.RLock()
	entry, ok := m.entries[key]
	m.mutex.RUnlock()

	if !ok {
		return false, nil
	}
	if time.Now().After(entry.expiresAt) {
		m.mutex.Lock()
		delete(m.entries, key)
		m.mutex.Unlock()
		return false, nil
	}

	if err := json.Unmarshal(entry.data, dest); err != nil {
		return false, fmt.Errorf("缓存数据反序列化失败: %w", err)
	}
	return true, nil
}

// Set 写入缓存
func (m *MemoryCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("缓存数据序列化失败: %w", err)
	}

	m.mutex.Lock()
	m.entries[key] = memoryEntry{
		data:      data,
		expiresAt: time.Now().Add(ttl),
	}
	m.mutex.Unlock()
	return nil
}

// Close 关闭缓存（进程内实现无需清理连接）
func (m *MemoryCache) Close() error {
	return nil
}
