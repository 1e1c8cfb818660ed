// Package engine 组装服务核心：缓存、画像存储、评分函数、排序与预计算，
// 对外提供一个可注入、可关闭的上下文对象。
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Dexhub/planted-dating-app/config"
	"github.com/Dexhub/planted-dating-app/core"
	"github.com/Dexhub/planted-dating-app/feast"
	"github.com/Dexhub/planted-dating-app/model"
	"github.com/Dexhub/planted-dating-app/monitor"
	"github.com/Dexhub/planted-dating-app/pairwise"
	"github.com/Dexhub/planted-dating-app/pkg/logger"
	"github.com/Dexhub/planted-dating-app/precompute"
	"github.com/Dexhub/planted-dating-app/profile"
	"github.com/Dexhub/planted-dating-app/rank"
)

// Engine 是服务核心的上下文对象。
//
// 所有方法可并发调用。nil 或已关闭的 Engine 返回 ErrEngineNotInitialized，
// 这是唯一对调用方可见的硬错误：缓存、存储、评分函数的故障都在内部降级。
type Engine struct {
	cfg      *config.Config
	logger   *zap.Logger
	recorder *monitor.Recorder

	cache core.Cache
	store core.ProfileStore
	model core.Scorer

	resolver  *profile.Resolver
	pairs     *pairwise.Scorer
	ranker    *rank.Ranker
	scheduler *precompute.Scheduler

	closed       atomic.Bool
	interactions sync.WaitGroup
}

// Option 是 Engine 的配置选项，用于注入依赖（测试或自定义实现）。
type Option func(*options)

type options struct {
	cache    core.Cache
	store    core.ProfileStore
	model    core.Scorer
	feast    feast.Client
	logger   *zap.Logger
	recorder *monitor.Recorder
}

// WithCache 使用给定缓存，忽略 cache.backend 配置。
func WithCache(c core.Cache) Option {
	return func(o *options) { o.cache = c }
}

// WithProfileStore 使用给定画像存储，忽略 profile_store 配置（熔断配置仍生效）。
func WithProfileStore(s core.ProfileStore) Option {
	return func(o *options) { o.store = s }
}

// WithScorer 使用给定评分函数，忽略 scoring.model 配置。
func WithScorer(s core.Scorer) Option {
	return func(o *options) { o.model = s }
}

// WithFeastClient 在 profile_store.driver 为 feast 时使用给定客户端。
func WithFeastClient(c feast.Client) Option {
	return func(o *options) { o.feast = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithRecorder(r *monitor.Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// New 按配置创建 Engine 并启动预计算 worker。cfg 为 nil 时使用 config.Default()。
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	log := o.logger
	if log == nil {
		var err error
		if log, err = logger.New(logger.Options{Level: cfg.Log.Level, Development: cfg.Log.Development}); err != nil {
			return nil, err
		}
	}
	rec := o.recorder
	if rec == nil {
		rec = monitor.NewRecorder("match")
	}

	e := &Engine{cfg: cfg, logger: log, recorder: rec}

	var err error
	if e.cache = o.cache; e.cache == nil {
		if e.cache, err = newCache(ctx, cfg); err != nil {
			return nil, err
		}
	}
	if e.store = o.store; e.store == nil {
		if e.store, err = newProfileStore(ctx, cfg, o.feast); err != nil {
			_ = e.cache.Close()
			return nil, err
		}
	}
	if cfg.Breaker.Enabled {
		e.store = profile.NewBreakerStore(e.store, profile.BreakerOptions{
			MaxRequests:  cfg.Breaker.MaxRequests,
			Interval:     cfg.Breaker.Interval,
			Timeout:      cfg.Breaker.Timeout,
			MinRequests:  cfg.Breaker.MinRequests,
			FailureRatio: cfg.Breaker.FailureRatio,
			Logger:       log,
		})
	}
	if e.model = o.model; e.model == nil {
		if e.model, err = model.New(cfg.Scoring); err != nil {
			_ = e.cache.Close()
			_ = e.store.Close()
			return nil, fmt.Errorf("scoring model: %w", err)
		}
	}

	e.resolver = profile.NewResolver(e.cache, e.store,
		profile.WithTTL(cfg.Cache.ProfileTTL),
		profile.WithLogger(log.Named("profile")),
		profile.WithRecorder(rec))
	e.pairs = pairwise.NewScorer(e.cache, e.resolver, e.model,
		pairwise.WithTTL(cfg.Cache.CompatTTL),
		pairwise.WithSymmetry(pairwise.Symmetry(cfg.Scoring.Symmetry)),
		pairwise.WithLogger(log.Named("pairwise")),
		pairwise.WithRecorder(rec))
	e.ranker = rank.NewRanker(e.cache, e.resolver, e.pairs, e.store,
		rank.WithConfig(cfg.Ranker),
		rank.WithListTTL(cfg.Cache.ListTTL),
		rank.WithLogger(log.Named("rank")),
		rank.WithRecorder(rec))
	e.scheduler = precompute.NewScheduler(e.ranker, e.store, cfg.Precompute,
		precompute.WithLogger(log.Named("precompute")))
	// worker 不随请求 ctx 取消，只随 Close 停止
	e.scheduler.Start(context.WithoutCancel(ctx))

	log.Info("engine initialized",
		zap.String("cache", e.cache.Name()),
		zap.String("store", e.store.Name()),
		zap.String("model", e.model.Name()))
	return e, nil
}

func (e *Engine) ready() error {
	if e == nil || e.closed.Load() {
		return core.ErrEngineNotInitialized
	}
	return nil
}

// Recommend 返回用户的推荐列表。
func (e *Engine) Recommend(ctx context.Context, req rank.Request) (*rank.Result, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.ranker.Recommend(ctx, req)
}

// Score 返回两个用户的匹配度。
func (e *Engine) Score(ctx context.Context, a, b string) (float64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	return e.pairs.Score(ctx, a, b), nil
}

// Warm 提交单用户预热任务，返回任务 id。
func (e *Engine) Warm(userID string) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	return e.scheduler.Warm(userID), nil
}

// WarmBatch 提交批量预热任务，limit <= 0 时使用 ranker.max_candidates。
func (e *Engine) WarmBatch(limit int) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	if limit <= 0 {
		limit = e.cfg.Ranker.MaxCandidates
	}
	return e.scheduler.WarmBatch(limit), nil
}

// JobStatus 返回预热任务状态。
func (e *Engine) JobStatus(id string) (precompute.JobStatus, bool) {
	if e.ready() != nil {
		return precompute.JobStatus{}, false
	}
	return e.scheduler.Status(id)
}

// interactionTimeout 是后台写入交互记录的超时
const interactionTimeout = 5 * time.Second

// RecordInteraction 异步写入一次交互（fire-and-forget），写入失败只记录日志。
func (e *Engine) RecordInteraction(userID, targetID, kind string, score float64) error {
	if err := e.ready(); err != nil {
		return err
	}
	in := core.Interaction{UserID: userID, TargetID: targetID, Type: kind, Score: score, At: time.Now()}
	e.interactions.Add(1)
	go func() {
		defer e.interactions.Done()
		ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
		defer cancel()
		if err := e.store.RecordInteraction(ctx, in); err != nil {
			e.logger.Warn("record interaction failed",
				zap.String("user_id", userID), zap.String("candidate_id", targetID), zap.Error(err))
		}
	}()
	return nil
}

// Health 是 Engine 的健康信息。
type Health struct {
	Initialized bool   `json:"initialized"`
	Model       string `json:"model"`
	Cache       string `json:"cache"`
	Store       string `json:"store"`
}

// Health 返回健康信息；nil 或已关闭的 Engine 返回 Initialized=false。
func (e *Engine) Health(ctx context.Context) Health {
	if e.ready() != nil {
		return Health{}
	}
	return Health{
		Initialized: true,
		Model:       e.model.Name(),
		Cache:       e.cache.Name(),
		Store:       e.store.Name(),
	}
}

// Stats 返回精确计数快照。
func (e *Engine) Stats() monitor.Snapshot {
	if e == nil {
		return (*monitor.Recorder)(nil).Snapshot()
	}
	return e.recorder.Snapshot()
}

// Metrics 返回 Prometheus Registry，可挂到外层的 /metrics。
func (e *Engine) Metrics() *prometheus.Registry {
	if e == nil {
		return nil
	}
	return e.recorder.Registry()
}

// Close 停止预计算、等待交互写入完成并释放缓存与存储。重复调用返回 ErrEngineNotInitialized。
func (e *Engine) Close() error {
	if e == nil || !e.closed.CompareAndSwap(false, true) {
		return core.ErrEngineNotInitialized
	}
	e.scheduler.Stop()
	e.interactions.Wait()
	err := errors.Join(e.cache.Close(), e.store.Close())
	_ = e.logger.Sync()
	return err
}
