// Package profile 负责用户画像的读取：缓存优先的 Resolver，以及 Profile Store 的各种实现。
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Dexhub/planted-dating-app/core"
	"github.com/Dexhub/planted-dating-app/monitor"
	"github.com/Dexhub/planted-dating-app/pkg/logger"
)

// Resolver 按 "缓存 -> 存储" 的顺序解析用户画像。
//
// 语义：
//   - 缓存命中：解码、补全后返回，不访问存储
//   - 未命中：读存储，找到则写回缓存（profile_ttl），找不到不做负缓存
//   - 缓存错误按未命中处理；存储错误统一转换为 ErrProfileNotFound
//
// 返回的画像总是经过 NormalizeProfile 的只读副本。
type Resolver struct {
	cache    core.Cache
	store    core.ProfileStore
	ttl      time.Duration
	logger   *zap.Logger
	recorder *monitor.Recorder
}

// ResolverOption 是 Resolver 的配置选项，采用函数式选项模式。
type ResolverOption func(*Resolver)

// WithTTL 设置画像缓存时间
func WithTTL(ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.ttl = ttl
	}
}

// WithLogger 设置日志
func WithLogger(l *zap.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger.OrNop(l)
	}
}

// WithRecorder 设置计数器
func WithRecorder(rec *monitor.Recorder) ResolverOption {
	return func(r *Resolver) {
		r.recorder = rec
	}
}

// NewResolver 创建 Resolver，默认缓存 1 小时。
func NewResolver(cache core.Cache, store core.ProfileStore, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		cache:  cache,
		store:  store,
		ttl:    time.Hour,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve 返回 userID 的画像，无法解析时返回 ErrProfileNotFound。
func (r *Resolver) Resolve(ctx context.Context, userID string) (*core.UserProfile, error) {
	if userID == "" {
		return nil, core.ErrProfileNotFound
	}
	key := core.ProfileKey(userID)

	if p, ok := r.fromCache(ctx, key); ok {
		return p, nil
	}

	p, err := r.store.GetProfile(ctx, userID)
	if err != nil {
		if !errors.Is(err, core.ErrProfileNotFound) {
			r.logger.Warn("profile store read failed",
				zap.String("user_id", userID), zap.String("store", r.store.Name()), zap.Error(err))
			return nil, core.ErrProfileNotFound.Wrap(err)
		}
		return nil, err
	}
	if p == nil {
		return nil, core.ErrProfileNotFound
	}

	p = core.NormalizeProfile(p)
	if p.UserID == "" {
		p.UserID = userID
	}
	r.toCache(ctx, key, p)
	return p, nil
}

func (r *Resolver) fromCache(ctx context.Context, key string) (*core.UserProfile, bool) {
	data, err := r.cache.Get(ctx, key)
	if err != nil {
		if errors.Is(err, core.ErrCacheMiss) {
			r.recorder.CacheMiss(monitor.TierProfile)
		} else {
			r.recorder.CacheError(monitor.TierProfile)
			r.logger.Warn("profile cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var p core.UserProfile
	if err := json.Unmarshal(data, &p); err != nil {
		r.recorder.CacheError(monitor.TierProfile)
		r.logger.Warn("undecodable cached profile", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	r.recorder.CacheHit(monitor.TierProfile)
	return core.NormalizeProfile(&p), true
}

func (r *Resolver) toCache(ctx context.Context, key string, p *core.UserProfile) {
	data, err := json.Marshal(p)
	if err != nil {
		r.logger.Warn("encode profile failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := r.cache.Set(ctx, key, data, r.ttl); err != nil {
		r.recorder.CacheError(monitor.TierProfile)
		r.logger.Warn("profile cache write failed", zap.String("key", key), zap.Error(err))
	}
}
