package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// DefaultMemoryMaxEntries 内存后端的默认容量上限。
const DefaultMemoryMaxEntries = 4096

type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// MemoryBackend 实现有界的内存缓存后端，可作为 Redis 不可用时的
// 进程内替代或测试替身。容量满时按写入顺序淘汰最旧条目。
type MemoryBackend struct {
	mu         sync.RWMutex
	data       map[string]*list.Element
	order      *list.List
	maxEntries int

	// now 可在测试中替换以控制过期判定。
	now func() time.Time
}

// NewMemoryBackend 创建内存缓存后端。maxEntries 非正数时使用默认上限。
func NewMemoryBackend(maxEntries int) *MemoryBackend {
	if maxEntries <= 0 {
		maxEntries = DefaultMemoryMaxEntries
	}
	return &MemoryBackend{
		data:       make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get 读取键对应的值，未命中或已过期时返回 ErrMiss。
func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	elem, ok := b.data[key]
	var entry *memoryEntry
	if ok {
		entry = elem.Value.(*memoryEntry)
	}
	b.mu.RUnlock()

	if !ok {
		return nil, ErrMiss
	}
	if !entry.expiresAt.IsZero() && b.now().After(entry.expiresAt) {
		b.mu.Lock()
		b.removeLocked(key)
		b.mu.Unlock()
		return nil, ErrMiss
	}

	// 返回副本，避免调用方修改缓存内容。
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

// Set 写入键值。重写已有键视为重新写入，排到淘汰顺序末尾。
func (b *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = b.now().Add(ttl)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if elem, exists := b.data[key]; exists {
		entry := elem.Value.(*memoryEntry)
		entry.value = stored
		entry.expiresAt = expiresAt
		b.order.MoveToBack(elem)
		return nil
	}

	if len(b.data) >= b.maxEntries {
		b.evictLocked()
	}

	b.data[key] = b.order.PushBack(&memoryEntry{key: key, value: stored, expiresAt: expiresAt})
	return nil
}

// evictLocked 先清理过期项，仍满则淘汰写入最早的条目。调用方需持有写锁。
func (b *MemoryBackend) evictLocked() {
	now := b.now()
	for elem := b.order.Front(); elem != nil; {
		next := elem.Next()
		entry := elem.Value.(*memoryEntry)
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			b.removeLocked(entry.key)
		}
		elem = next
	}

	if b.order.Len() < b.maxEntries {
		return
	}
	if oldest := b.order.Front(); oldest != nil {
		b.removeLocked(oldest.Value.(*memoryEntry).key)
	}
}

// removeLocked 删除键及其顺序记录。调用方需持有写锁。
func (b *MemoryBackend) removeLocked(key string) {
	if elem, ok := b.data[key]; ok {
		b.order.Remove(elem)
		delete(b.data, key)
	}
}

// Delete 删除键。
func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	b.removeLocked(key)
	b.mu.Unlock()
	return nil
}

// Ping 内存后端恒为可用。
func (b *MemoryBackend) Ping(_ context.Context) error {
	return nil
}

// Close 清空数据。
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	b.data = make(map[string]*list.Element)
	b.order = list.New()
	b.mu.Unlock()
	return nil
}

// Len 返回当前条目数。
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

var _ Backend = (*MemoryBackend)(nil)
