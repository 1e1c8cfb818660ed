package store

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/Dexhub/planted-dating-app/core"
)

// MemoryStore 是进程内的 core.Cache 实现，基于 ttlcache。
//
//   - 每个条目独立 TTL，从写入时刻起算（命中不续期）
//   - 超过容量时按 LRU 提前淘汰，调用方应把未命中当作正常路径
//   - 后台协程定期清理过期条目，Close 时停止
type MemoryStore struct {
	cache *ttlcache.Cache[string, []byte]
}

// NewMemoryStore 创建内存缓存，capacity <= 0 表示不限容量。
func NewMemoryStore(capacity int) *MemoryStore {
	opts := []ttlcache.Option[string, []byte]{
		ttlcache.WithDisableTouchOnHit[string, []byte](),
	}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, []byte](uint64(capacity)))
	}
	ms := &MemoryStore{cache: ttlcache.New[string, []byte](opts...)}
	go ms.cache.Start()
	return ms
}

func (m *MemoryStore) Name() string { return "memory" }

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	item := m.cache.Get(key)
	if item == nil || item.IsExpired() {
		return nil, core.ErrCacheMiss
	}
	return item.Value(), nil
}

// GetWithTTL 返回值及剩余存活时间；不过期的条目剩余时间为 0。
func (m *MemoryStore) GetWithTTL(_ context.Context, key string) ([]byte, time.Duration, error) {
	item := m.cache.Get(key)
	if item == nil || item.IsExpired() {
		return nil, 0, core.ErrCacheMiss
	}
	if item.TTL() <= 0 {
		return item.Value(), 0, nil
	}
	return item.Value(), time.Until(item.ExpiresAt()), nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = ttlcache.NoTTL
	}
	// 复制一份，避免调用方后续修改底层数组
	buf := make([]byte, len(value))
	copy(buf, value)
	m.cache.Set(key, buf, ttl)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.cache.Delete(key)
	return nil
}

// Len 返回当前条目数（包含尚未被清理的过期条目）。
func (m *MemoryStore) Len() int {
	return m.cache.Len()
}

func (m *MemoryStore) Close() error {
	m.cache.Stop()
	return nil
}

var _ core.Cache = (*MemoryStore)(nil)
