package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss 表示键不存在或已过期。
var ErrMiss = errors.New("cache: key not found")

// Backend 定义缓存后端的字节级 KV 契约。
//
// Get 未命中时返回 ErrMiss，其余错误视为后端故障，
// 由上层决定降级策略。
type Backend interface {
	// Get 读取键对应的值。
	Get(ctx context.Context, key string) ([]byte, error)

	// Set 写入键值并设置过期时间。
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete 删除键，键不存在时为空操作。
	Delete(ctx context.Context, key string) error

	// Ping 探测后端可用性。
	Ping(ctx context.Context) error

	// Close 释放后端资源。
	Close() error
}
