// Package monitor 提供服务核心的计数与 Prometheus 指标。
package monitor

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Tier 标识一层缓存。
type Tier string

const (
	TierProfile Tier = "profile" // 画像缓存
	TierCompat  Tier = "compat"  // 匹配度缓存
	TierList    Tier = "list"    // 排序结果缓存
)

// Tiers 返回全部缓存层。
func Tiers() []Tier { return []Tier{TierProfile, TierCompat, TierList} }

type tierCounters struct {
	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

// Recorder 记录服务核心的观测数据：每层缓存的命中/未命中/错误、评分函数调用、请求耗时。
//
// 计数同时写入两处：
//   - Prometheus 指标（私有 Registry，由外层决定是否暴露）
//   - 原子计数，Snapshot() 直接返回精确值，供测试与 Stats 使用
//
// 所有方法对 nil 接收者安全，组件可以不配置 Recorder。
type Recorder struct {
	registry *prometheus.Registry

	cacheOps   *prometheus.CounterVec
	scoreCalls *prometheus.CounterVec
	requests   *prometheus.CounterVec
	latency    prometheus.Histogram

	tiers map[Tier]*tierCounters

	scoreOK      atomic.Int64
	scoreFailed  atomic.Int64
	requestCount atomic.Int64
	cachedCount  atomic.Int64
	totalNanos   atomic.Int64
}

// NewRecorder 创建 Recorder，指标名以 namespace 为前缀。
func NewRecorder(namespace string) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		cacheOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_operations_total",
			Help:      "Cache lookups by tier and result (hit, miss, error).",
		}, []string{"tier", "result"}),
		scoreCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scoring_calls_total",
			Help:      "Scoring function invocations by result.",
		}, []string{"result"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recommend_requests_total",
			Help:      "Recommendation requests by whether they were served from the list cache.",
		}, []string{"cached"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recommend_duration_seconds",
			Help:      "Recommendation latency.",
			Buckets:   []float64{.005, .01, .025, .05, .075, .1, .25, .5, 1},
		}),
		tiers: make(map[Tier]*tierCounters, 3),
	}
	for _, t := range Tiers() {
		r.tiers[t] = &tierCounters{}
	}
	r.registry.MustRegister(r.cacheOps, r.scoreCalls, r.requests, r.latency)
	return r
}

// Registry 返回私有 Registry，可挂到外层的 /metrics。
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) counters(t Tier) *tierCounters {
	c, ok := r.tiers[t]
	if !ok {
		return nil
	}
	return c
}

// CacheHit 记录一次命中。
func (r *Recorder) CacheHit(t Tier) {
	if r == nil {
		return
	}
	if c := r.counters(t); c != nil {
		c.hits.Add(1)
	}
	r.cacheOps.WithLabelValues(string(t), "hit").Inc()
}

// CacheMiss 记录一次未命中。
func (r *Recorder) CacheMiss(t Tier) {
	if r == nil {
		return
	}
	if c := r.counters(t); c != nil {
		c.misses.Add(1)
	}
	r.cacheOps.WithLabelValues(string(t), "miss").Inc()
}

// CacheError 记录一次缓存错误（读写失败，按未命中处理）。
func (r *Recorder) CacheError(t Tier) {
	if r == nil {
		return
	}
	if c := r.counters(t); c != nil {
		c.errors.Add(1)
	}
	r.cacheOps.WithLabelValues(string(t), "error").Inc()
}

// ScoringCall 记录一次评分函数调用。
func (r *Recorder) ScoringCall(ok bool) {
	if r == nil {
		return
	}
	if ok {
		r.scoreOK.Add(1)
		r.scoreCalls.WithLabelValues("ok").Inc()
		return
	}
	r.scoreFailed.Add(1)
	r.scoreCalls.WithLabelValues("error").Inc()
}

// ObserveRequest 记录一次推荐请求。
func (r *Recorder) ObserveRequest(d time.Duration, cached bool) {
	if r == nil {
		return
	}
	r.requestCount.Add(1)
	r.totalNanos.Add(int64(d))
	label := "false"
	if cached {
		r.cachedCount.Add(1)
		label = "true"
	}
	r.requests.WithLabelValues(label).Inc()
	r.latency.Observe(d.Seconds())
}

// TierStats 是一层缓存的精确计数。
type TierStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Errors int64 `json:"errors"`
}

// HitRate 返回 hits / (hits + misses + errors)，没有请求时为 0。
func (s TierStats) HitRate() float64 {
	total := s.Hits + s.Misses + s.Errors
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Snapshot 是某一时刻的计数快照。
type Snapshot struct {
	Tiers             map[Tier]TierStats `json:"tiers"`
	ScoringCalls      int64              `json:"scoring_calls"`
	ScoringFailures   int64              `json:"scoring_failures"`
	Requests          int64              `json:"requests"`
	CachedRequests    int64              `json:"cached_requests"`
	AvgProcessingTime time.Duration      `json:"avg_processing_time"`
}

// Snapshot 返回当前计数的副本。
func (r *Recorder) Snapshot() Snapshot {
	s := Snapshot{Tiers: make(map[Tier]TierStats, 3)}
	if r == nil {
		return s
	}
	for t, c := range r.tiers {
		s.Tiers[t] = TierStats{
			Hits:   c.hits.Load(),
			Misses: c.misses.Load(),
			Errors: c.errors.Load(),
		}
	}
	s.ScoringCalls = r.scoreOK.Load() + r.scoreFailed.Load()
	s.ScoringFailures = r.scoreFailed.Load()
	s.Requests = r.requestCount.Load()
	s.CachedRequests = r.cachedCount.Load()
	if s.Requests > 0 {
		s.AvgProcessingTime = time.Duration(r.totalNanos.Load() / s.Requests)
	}
	return s
}
