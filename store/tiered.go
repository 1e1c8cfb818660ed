package store

import (
	"context"
	"errors"
	"time"

	"github.com/Dexhub/planted-dating-app/core"
)

// ttlReader 是能返回剩余 TTL 的缓存层（MemoryStore、RedisStore 都满足）。
type ttlReader interface {
	core.Cache
	GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, error)
}

// TieredStore 是两级缓存：L1 进程内（快、实例私有），L2 远程（共享）。
//
// 读：L1 命中直接返回；否则读 L2，命中后回填 L1。
// 写：先写 L2，再写 L1。L1 驻留时间不超过 localTTL，也不超过条目在 L2 的剩余时间，
// 因此 L1 永远不会让一个已在 L2 过期的值"复活"。
type TieredStore struct {
	local    *MemoryStore
	remote   ttlReader
	localTTL time.Duration
}

// NewTieredStore 组合两级缓存，localTTL <= 0 表示 L1 只受条目自身 TTL 约束。
func NewTieredStore(local *MemoryStore, remote ttlReader, localTTL time.Duration) *TieredStore {
	return &TieredStore{local: local, remote: remote, localTTL: localTTL}
}

func (t *TieredStore) Name() string { return "tiered(" + t.local.Name() + "+" + t.remote.Name() + ")" }

func (t *TieredStore) Get(ctx context.Context, key string) ([]byte, error) {
	if val, err := t.local.Get(ctx, key); err == nil {
		return val, nil
	}

	val, remaining, err := t.remote.GetWithTTL(ctx, key)
	if err != nil {
		return nil, err
	}
	_ = t.local.Set(ctx, key, val, t.residency(remaining))
	return val, nil
}

func (t *TieredStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	remoteErr := t.remote.Set(ctx, key, value, ttl)
	// L2 写失败时仍写 L1：本实例的后续请求依旧受益，错误交给调用方记录
	_ = t.local.Set(ctx, key, value, t.residency(ttl))
	return remoteErr
}

func (t *TieredStore) Delete(ctx context.Context, key string) error {
	_ = t.local.Delete(ctx, key)
	return t.remote.Delete(ctx, key)
}

func (t *TieredStore) Close() error {
	return errors.Join(t.local.Close(), t.remote.Close())
}

// residency 返回条目在 L1 的驻留时间：min(ttl, localTTL)，0 表示不过期。
func (t *TieredStore) residency(ttl time.Duration) time.Duration {
	switch {
	case t.localTTL <= 0:
		return ttl
	case ttl <= 0:
		return t.localTTL
	case ttl < t.localTTL:
		return ttl
	default:
		return t.localTTL
	}
}

var _ core.Cache = (*TieredStore)(nil)
