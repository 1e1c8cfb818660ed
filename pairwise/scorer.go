// Package pairwise 计算两个用户之间的匹配度：缓存优先，未命中时解析画像并调用评分函数。
package pairwise

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Dexhub/planted-dating-app/core"
	"github.com/Dexhub/planted-dating-app/monitor"
	"github.com/Dexhub/planted-dating-app/pkg/logger"
)

// Symmetry 决定冷启动用户对如何调用评分函数。
type Symmetry string

const (
	// SymmetryTrust 信任评分函数对称，每个冷用户对只调用一次 compute(lo, hi)。
	SymmetryTrust Symmetry = "trust"
	// SymmetryAverage 调用两个方向并取平均。
	SymmetryAverage Symmetry = "average"
)

// ProfileResolver 解析用户画像，找不到时返回 core.ErrProfileNotFound。
type ProfileResolver interface {
	Resolve(ctx context.Context, userID string) (*core.UserProfile, error)
}

// Scorer 是带缓存的成对评分器。Score 从不返回错误：
// 任何无法得到有效分数的情况都返回 core.NeutralScore，且该结果不写缓存。
type Scorer struct {
	cache    core.Cache
	resolver ProfileResolver
	fn       core.Scorer
	ttl      time.Duration
	symmetry Symmetry
	logger   *zap.Logger
	recorder *monitor.Recorder
	flight   singleflight.Group
}

// Option 是 Scorer 的配置选项。
type Option func(*Scorer)

// WithTTL 设置匹配度缓存时间，默认 2 小时。
func WithTTL(ttl time.Duration) Option {
	return func(s *Scorer) { s.ttl = ttl }
}

// WithSymmetry 设置对称策略，默认 SymmetryTrust。
func WithSymmetry(m Symmetry) Option {
	return func(s *Scorer) {
		if m != "" {
			s.symmetry = m
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Scorer) {
		s.logger = logger.OrNop(l)
	}
}

func WithRecorder(r *monitor.Recorder) Option {
	return func(s *Scorer) { s.recorder = r }
}

// NewScorer 创建成对评分器。
func NewScorer(cache core.Cache, resolver ProfileResolver, fn core.Scorer, opts ...Option) *Scorer {
	s := &Scorer{
		cache:    cache,
		resolver: resolver,
		fn:       fn,
		ttl:      2 * time.Hour,
		symmetry: SymmetryTrust,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ModelName 返回评分函数名称。
func (s *Scorer) ModelName() string { return s.fn.Name() }

type outcome struct {
	score      float64
	ok         bool // false 表示中性默认分，不可缓存
	callerDone bool // 计算结束时发起方的 ctx 已结束
}

// Score 返回 a、b 的匹配度，结果在 [0,1]，Score(a,b) == Score(b,a)。
func (s *Scorer) Score(ctx context.Context, a, b string) float64 {
	key := core.PairKey(a, b)
	if v, ok := s.fromCache(ctx, key); ok {
		return v
	}
	lo, hi := core.CanonicalPair(a, b)

	// 同一用户对的并发冷请求合并为一次计算
	v, _, shared := s.flight.Do(key, func() (any, error) {
		return s.computeAndStore(ctx, key, lo, hi), nil
	})
	out := v.(outcome)
	// 发起方因自身 ctx 结束而失败时，ctx 仍有效的等待方自己重算
	if shared && !out.ok && out.callerDone && ctx.Err() == nil {
		out = s.computeAndStore(ctx, key, lo, hi)
	}
	return out.score
}

func (s *Scorer) computeAndStore(ctx context.Context, key, lo, hi string) outcome {
	out := s.compute(ctx, lo, hi)
	if out.ok {
		s.toCache(ctx, key, out.score)
	} else {
		out.callerDone = ctx.Err() != nil
	}
	return out
}

func (s *Scorer) fromCache(ctx context.Context, key string) (float64, bool) {
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		if errors.Is(err, core.ErrCacheMiss) {
			s.recorder.CacheMiss(monitor.TierCompat)
		} else {
			s.recorder.CacheError(monitor.TierCompat)
			s.logger.Warn("compat cache read failed", zap.String("key", key), zap.Error(err))
		}
		return 0, false
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		s.recorder.CacheError(monitor.TierCompat)
		s.logger.Warn("undecodable cached score", zap.String("key", key))
		return 0, false
	}
	s.recorder.CacheHit(monitor.TierCompat)
	return core.Clamp01(v), true
}

func (s *Scorer) toCache(ctx context.Context, key string, v float64) {
	data := strconv.FormatFloat(v, 'g', -1, 64)
	if err := s.cache.Set(ctx, key, []byte(data), s.ttl); err != nil {
		s.recorder.CacheError(monitor.TierCompat)
		s.logger.Warn("compat cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *Scorer) compute(ctx context.Context, lo, hi string) outcome {
	neutral := outcome{score: core.NeutralScore}

	pl, err := s.resolver.Resolve(ctx, lo)
	if err != nil {
		s.logger.Debug("profile unresolved, neutral score", zap.String("user_id", lo), zap.Error(err))
		return neutral
	}
	ph, err := s.resolver.Resolve(ctx, hi)
	if err != nil {
		s.logger.Debug("profile unresolved, neutral score", zap.String("user_id", hi), zap.Error(err))
		return neutral
	}

	v, err := s.call(ctx, pl, ph)
	if err == nil && s.symmetry == SymmetryAverage {
		var rev float64
		rev, err = s.call(ctx, ph, pl)
		v = (v + rev) / 2
	}
	if err != nil {
		s.logger.Warn("scoring failed, neutral score",
			zap.String("user_id", lo), zap.String("candidate_id", hi),
			zap.String("model", s.fn.Name()), zap.Error(err))
		return neutral
	}
	return outcome{score: core.Clamp01(v), ok: true}
}

// call 调用评分函数一次：panic、NaN、Inf 都视为失败。
func (s *Scorer) call(ctx context.Context, a, b *core.UserProfile) (v float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scoring function panic: %v", r)
		}
		s.recorder.ScoringCall(err == nil)
	}()
	v, err = s.fn.Compute(ctx, a, b)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("scoring function returned %v", v)
	}
	return v, nil
}
