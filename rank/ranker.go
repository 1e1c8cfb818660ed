// Package rank 为一个用户生成按匹配度排序的候选列表。
package rank

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Dexhub/planted-dating-app/config"
	"github.com/Dexhub/planted-dating-app/core"
	"github.com/Dexhub/planted-dating-app/monitor"
	"github.com/Dexhub/planted-dating-app/pkg/dsl"
	"github.com/Dexhub/planted-dating-app/pkg/logger"
)

// ProfileResolver 解析用户画像。
type ProfileResolver interface {
	Resolve(ctx context.Context, userID string) (*core.UserProfile, error)
}

// PairScorer 返回两个用户的匹配度，失败时为中性分。
type PairScorer interface {
	Score(ctx context.Context, a, b string) float64
}

// Roster 提供系统生成候选时使用的活跃用户名单。
type Roster interface {
	GetActiveUsers(ctx context.Context, limit int) ([]string, error)
}

// Request 是一次推荐请求。
type Request struct {
	UserID       string
	CandidateIDs []string // 为空时使用活跃用户名单
	TopK         int      // <= 0 时使用默认值
	Filter       string   // CEL 表达式，可选
}

// Result 是推荐结果。
type Result struct {
	UserID          string           `json:"user_id"`
	Matches         []core.Candidate `json:"matches"`
	Cached          bool             `json:"cached"`
	TotalCandidates int              `json:"total_candidates"`
	ProcessingTime  time.Duration    `json:"processing_time"`
}

// Ranker 并发为候选打分并排序。
//
// 只有 "系统生成 + 无过滤" 的结果会写入排序缓存（截断到 RetainedLength）；
// 调用方指定的候选集或带过滤的结果只对本次请求有效。
type Ranker struct {
	cache    core.Cache
	resolver ProfileResolver
	scorer   PairScorer
	roster   Roster

	cfg     config.RankerConfig
	listTTL time.Duration

	logger   *zap.Logger
	recorder *monitor.Recorder
	now      func() time.Time
}

// Option 是 Ranker 的配置选项。
type Option func(*Ranker)

// WithConfig 设置候选池、并发度、保留长度等参数。
func WithConfig(cfg config.RankerConfig) Option {
	return func(r *Ranker) { r.cfg = cfg }
}

// WithListTTL 设置排序结果缓存时间，默认 6 小时。
func WithListTTL(ttl time.Duration) Option {
	return func(r *Ranker) { r.listTTL = ttl }
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Ranker) {
		r.logger = logger.OrNop(l)
	}
}

func WithRecorder(rec *monitor.Recorder) Option {
	return func(r *Ranker) { r.recorder = rec }
}

// NewRanker 创建 Ranker，未设置的参数取 config.Default() 中的值。
func NewRanker(cache core.Cache, resolver ProfileResolver, scorer PairScorer, roster Roster, opts ...Option) *Ranker {
	r := &Ranker{
		cache:    cache,
		resolver: resolver,
		scorer:   scorer,
		roster:   roster,
		cfg:      config.Default().Ranker,
		listTTL:  6 * time.Hour,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cfg.Concurrency <= 0 {
		r.cfg.Concurrency = 1
	}
	if r.cfg.DefaultTopK <= 0 {
		r.cfg.DefaultTopK = 10
	}
	if r.cfg.RetainedLength <= 0 {
		r.cfg.RetainedLength = 50
	}
	return r
}

// Recommend 返回 req.UserID 的前 top_k 个候选。
//
// 请求用户不存在时返回空结果；只有过滤表达式无效（ErrInvalidInput）
// 或 ctx 在打分前被取消时返回错误。
func (r *Ranker) Recommend(ctx context.Context, req Request) (*Result, error) {
	start := r.now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	topK := req.TopK
	if topK <= 0 {
		topK = r.cfg.DefaultTopK
	}
	system := len(req.CandidateIDs) == 0
	cacheable := system && req.Filter == ""

	filter, err := dsl.Compile(req.Filter)
	if err != nil {
		return nil, core.ErrInvalidInput.Wrap(err)
	}

	if cacheable {
		if list, ok := r.cachedList(ctx, req.UserID, topK); ok {
			res := &Result{
				UserID:          req.UserID,
				Matches:         list.Top(topK),
				Cached:          true,
				TotalCandidates: max(list.Total, len(list.Candidates)),
			}
			return r.finish(res, start), nil
		}
	}

	requester, err := r.resolver.Resolve(ctx, req.UserID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		r.logger.Debug("requester unresolved, empty result", zap.String("user_id", req.UserID), zap.Error(err))
		return r.finish(&Result{UserID: req.UserID, Matches: []core.Candidate{}}, start), nil
	}

	ids := req.CandidateIDs
	if system {
		ids = r.activeUsers(ctx, req.UserID)
	}
	ids = prepare(ids, req.UserID, r.cfg.MaxCandidates)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	scored := r.fanOut(ctx, req.UserID, requester, ids, filter)

	core.SortCandidates(scored)
	if cacheable {
		r.storeList(ctx, req.UserID, core.Truncate(scored, r.cfg.RetainedLength), len(scored), start)
	}
	res := &Result{
		UserID:          req.UserID,
		Matches:         copyTop(scored, topK),
		TotalCandidates: len(scored),
	}
	return r.finish(res, start), nil
}

func (r *Ranker) finish(res *Result, start time.Time) *Result {
	res.ProcessingTime = r.now().Sub(start)
	r.recorder.ObserveRequest(res.ProcessingTime, res.Cached)
	return res
}

// cachedList 读取排序缓存。缓存列表满足 top_k，或已包含全部候选（短于保留长度）时才可用。
func (r *Ranker) cachedList(ctx context.Context, userID string, topK int) (*core.RankedList, bool) {
	key := core.MatchesKey(userID)
	data, err := r.cache.Get(ctx, key)
	if err != nil {
		if errors.Is(err, core.ErrCacheMiss) {
			r.recorder.CacheMiss(monitor.TierList)
		} else {
			r.recorder.CacheError(monitor.TierList)
			r.logger.Warn("list cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	var list core.RankedList
	if err := json.Unmarshal(data, &list); err != nil {
		r.recorder.CacheError(monitor.TierList)
		r.logger.Warn("undecodable cached list", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if len(list.Candidates) < topK && len(list.Candidates) >= r.cfg.RetainedLength {
		r.recorder.CacheMiss(monitor.TierList)
		return nil, false
	}
	r.recorder.CacheHit(monitor.TierList)
	return &list, true
}

func (r *Ranker) storeList(ctx context.Context, userID string, cs []core.Candidate, total int, at time.Time) {
	key := core.MatchesKey(userID)
	data, err := json.Marshal(core.RankedList{UserID: userID, Candidates: cs, Total: total, ComputedAt: at})
	if err != nil {
		r.logger.Warn("encode ranked list failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := r.cache.Set(ctx, key, data, r.listTTL); err != nil {
		r.recorder.CacheError(monitor.TierList)
		r.logger.Warn("list cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (r *Ranker) activeUsers(ctx context.Context, userID string) []string {
	if r.roster == nil {
		return nil
	}
	// 多取一个，给排除请求用户留出位置
	ids, err := r.roster.GetActiveUsers(ctx, r.cfg.MaxCandidates+1)
	if err != nil {
		r.logger.Warn("active users unavailable, empty roster", zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	return ids
}

// fanOut 并发打分，结果按下标写入预分配的切片，与完成顺序无关。
// 有过滤表达式时，每个候选先解析画像并求值，不通过的候选被丢弃。
func (r *Ranker) fanOut(ctx context.Context, userID string, requester *core.UserProfile, ids []string, filter *dsl.Filter) []core.Candidate {
	type slot struct {
		score float64
		kept  bool
	}
	slots := make([]slot, len(ids))

	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			cctx := ctx
			if r.cfg.CandidateTimeout > 0 {
				var cancel context.CancelFunc
				cctx, cancel = context.WithTimeout(ctx, r.cfg.CandidateTimeout)
				defer cancel()
			}
			if filter != nil && !r.accept(cctx, requester, id, filter) {
				return nil
			}
			slots[i] = slot{score: r.scorer.Score(cctx, userID, id), kept: true}
			return nil
		})
	}
	_ = g.Wait()

	computedAt := r.now()
	out := make([]core.Candidate, 0, len(ids))
	for i, s := range slots {
		if s.kept {
			out = append(out, core.Candidate{CandidateID: ids[i], Score: s.score, ComputedAt: computedAt})
		}
	}
	return out
}

func (r *Ranker) accept(ctx context.Context, requester *core.UserProfile, id string, filter *dsl.Filter) bool {
	cand, err := r.resolver.Resolve(ctx, id)
	if err != nil {
		return false
	}
	ok, err := filter.Match(requester, cand)
	if err != nil {
		r.logger.Debug("filter eval failed, candidate dropped",
			zap.String("candidate_id", id), zap.String("filter", filter.String()), zap.Error(err))
		return false
	}
	return ok
}

// prepare 去重（保持顺序），去掉请求用户与空 id，并截断到 limit。
func prepare(ids []string, userID string, limit int) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || id == userID {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func copyTop(cs []core.Candidate, k int) []core.Candidate {
	cs = core.Truncate(cs, k)
	out := make([]core.Candidate, len(cs))
	copy(out, cs)
	return out
}
