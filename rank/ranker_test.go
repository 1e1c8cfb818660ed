package rank

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dexhub/planted-dating-app/config"
	"github.com/Dexhub/planted-dating-app/core"
	"github.com/Dexhub/planted-dating-app/monitor"
	"github.com/Dexhub/planted-dating-app/pairwise"
	"github.com/Dexhub/planted-dating-app/profile"
	"github.com/Dexhub/planted-dating-app/store"
)

// tableScorer 按候选 id 返回固定分数，可注入随机延迟。
type tableScorer struct {
	scores   map[string]float64
	calls    atomic.Int64
	maxDelay time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

func (s *tableScorer) Score(ctx context.Context, a, b string) float64 {
	s.calls.Add(1)
	if s.maxDelay > 0 {
		s.mu.Lock()
		d := time.Duration(s.rnd.Int63n(int64(s.maxDelay)))
		s.mu.Unlock()
		time.Sleep(d)
	}
	if v, ok := s.scores[b]; ok {
		return v
	}
	return core.NeutralScore
}

type fixture struct {
	cache  *store.MemoryStore
	users  *profile.MemoryStore
	scorer *tableScorer
	rec    *monitor.Recorder
}

func newFixture(t *testing.T, ids ...string) *fixture {
	t.Helper()
	fx := &fixture{
		cache:  store.NewMemoryStore(0),
		users:  profile.NewMemoryStore(),
		scorer: &tableScorer{scores: map[string]float64{}, rnd: rand.New(rand.NewSource(1))},
		rec:    monitor.NewRecorder("test"),
	}
	t.Cleanup(func() { _ = fx.cache.Close() })
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range ids {
		// 越靠前越活跃
		fx.users.Put(&core.UserProfile{UserID: id, UpdatedAt: base.Add(-time.Duration(i) * time.Minute)})
	}
	return fx
}

func (fx *fixture) ranker(cfg config.RankerConfig) *Ranker {
	resolver := profile.NewResolver(fx.cache, fx.users)
	return NewRanker(fx.cache, resolver, fx.scorer, fx.users, WithConfig(cfg), WithRecorder(fx.rec))
}

func defaultCfg() config.RankerConfig { return config.Default().Ranker }

func ids(cs []core.Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.CandidateID
	}
	return out
}

func TestRecommend_DeterministicUnderRandomCompletion(t *testing.T) {
	fx := newFixture(t, "u", "a", "b", "c")
	fx.scorer.scores = map[string]float64{"a": 0.9, "b": 0.7, "c": 0.8}
	fx.scorer.maxDelay = 5 * time.Millisecond
	cfg := defaultCfg()
	cfg.Concurrency = 3

	for i := 0; i < 20; i++ {
		res, err := fx.ranker(cfg).Recommend(context.Background(), Request{
			UserID: "u", CandidateIDs: []string{"a", "b", "c"}, TopK: 3,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "c", "b"}, ids(res.Matches))
		assert.Equal(t, []float64{0.9, 0.8, 0.7}, []float64{res.Matches[0].Score, res.Matches[1].Score, res.Matches[2].Score})
	}
}

func TestRecommend_TiesBrokenByID(t *testing.T) {
	fx := newFixture(t, "u", "b", "a", "c")
	fx.scorer.scores = map[string]float64{"a": 0.6, "b": 0.6, "c": 0.6}
	res, err := fx.ranker(defaultCfg()).Recommend(context.Background(), Request{UserID: "u", CandidateIDs: []string{"c", "b", "a"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(res.Matches))
}

func TestRecommend_PartialFailureIsolated(t *testing.T) {
	ctx := context.Background()
	cands := []string{"c0", "c1", "c2", "c3", "x", "c5", "c6", "c7", "c8", "c9"}
	fx := newFixture(t, append([]string{"u"}, cands...)...)

	fn := core.ScorerFunc(func(_ context.Context, a, b *core.UserProfile) (float64, error) {
		if a.UserID == "x" || b.UserID == "x" {
			return 0, errors.New("model exploded")
		}
		return 0.9, nil
	})
	resolver := profile.NewResolver(fx.cache, fx.users)
	ps := pairwise.NewScorer(fx.cache, resolver, fn)
	r := NewRanker(fx.cache, resolver, ps, fx.users)

	res, err := r.Recommend(ctx, Request{UserID: "u", CandidateIDs: cands, TopK: 10})
	require.NoError(t, err)
	require.Len(t, res.Matches, 10)
	last := res.Matches[9]
	assert.Equal(t, "x", last.CandidateID)
	assert.Equal(t, core.NeutralScore, last.Score)
	for _, m := range res.Matches[:9] {
		assert.Equal(t, 0.9, m.Score)
	}
}

func TestRecommend_CachedListTruncatedWithoutScoring(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, "u")
	list := core.RankedList{UserID: "u", ComputedAt: time.Now()}
	for i := 0; i < 50; i++ {
		list.Candidates = append(list.Candidates, core.Candidate{
			CandidateID: fmt.Sprintf("c%02d", i),
			Score:       1 - float64(i)/100,
		})
	}
	data, err := json.Marshal(list)
	require.NoError(t, err)
	require.NoError(t, fx.cache.Set(ctx, core.MatchesKey("u"), data, time.Hour))

	res, err := fx.ranker(defaultCfg()).Recommend(ctx, Request{UserID: "u", TopK: 10})
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, 50, res.TotalCandidates)
	require.Len(t, res.Matches, 10)
	assert.Equal(t, list.Candidates[:10], res.Matches)
	assert.Equal(t, int64(0), fx.scorer.calls.Load())
	assert.Equal(t, int64(1), fx.rec.Snapshot().Tiers[monitor.TierList].Hits)
	assert.Equal(t, int64(1), fx.rec.Snapshot().CachedRequests)
}

func TestRecommend_SystemGeneratedIsCached(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, "u", "a", "b", "c", "d")
	fx.scorer.scores = map[string]float64{"a": 0.1, "b": 0.4, "c": 0.3, "d": 0.2}
	cfg := defaultCfg()
	cfg.RetainedLength = 3
	r := fx.ranker(cfg)

	res, err := r.Recommend(ctx, Request{UserID: "u", TopK: 2})
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, []string{"b", "c"}, ids(res.Matches))
	assert.Equal(t, 4, res.TotalCandidates)
	assert.Equal(t, int64(4), fx.scorer.calls.Load(), "requester is excluded from the roster")

	raw, err := fx.cache.Get(ctx, core.MatchesKey("u"))
	require.NoError(t, err)
	var cached core.RankedList
	require.NoError(t, json.Unmarshal(raw, &cached))
	assert.Equal(t, []string{"b", "c", "d"}, ids(cached.Candidates), "cached list is truncated to retained length")
	assert.Equal(t, 4, cached.Total)

	res, err = r.Recommend(ctx, Request{UserID: "u", TopK: 3})
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, 4, res.TotalCandidates, "cached path reports the scored count, not the retained length")
	assert.Equal(t, int64(4), fx.scorer.calls.Load())

	// 保留长度不足以回答 top_k 时重新计算
	res, err = r.Recommend(ctx, Request{UserID: "u", TopK: 4})
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Len(t, res.Matches, 4)
}

func TestRecommend_ShortCachedListServesLargeTopK(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, "u", "a", "b")
	r := fx.ranker(defaultCfg())

	_, err := r.Recommend(ctx, Request{UserID: "u"})
	require.NoError(t, err)
	res, err := r.Recommend(ctx, Request{UserID: "u", TopK: 40})
	require.NoError(t, err)
	assert.True(t, res.Cached, "a list shorter than retained length already holds every candidate")
	assert.Len(t, res.Matches, 2)
}

func TestRecommend_CallerSuppliedNotCached(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, "u", "a", "b")
	r := fx.ranker(defaultCfg())

	res, err := r.Recommend(ctx, Request{UserID: "u", CandidateIDs: []string{"a", "b", "a", "", "u"}})
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalCandidates, "duplicates, empty ids and the requester are dropped")
	assert.Equal(t, int64(2), fx.scorer.calls.Load())

	_, err = fx.cache.Get(ctx, core.MatchesKey("u"))
	assert.True(t, errors.Is(err, core.ErrCacheMiss))
}

func TestRecommend_Filter(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, "u")
	fx.users.Put(&core.UserProfile{UserID: "strict", Attributes: map[string]float64{"strictness_level": 0.9}})
	fx.users.Put(&core.UserProfile{UserID: "flex", Attributes: map[string]float64{"strictness_level": 0.2}})
	r := fx.ranker(defaultCfg())

	res, err := r.Recommend(ctx, Request{UserID: "u", Filter: `candidate.strictness_level >= 0.5`})
	require.NoError(t, err)
	assert.Equal(t, []string{"strict"}, ids(res.Matches))
	_, err = fx.cache.Get(ctx, core.MatchesKey("u"))
	assert.True(t, errors.Is(err, core.ErrCacheMiss), "filtered results are not cached")

	res, err = r.Recommend(ctx, Request{UserID: "u", CandidateIDs: []string{"strict", "ghost"}, Filter: `true`})
	require.NoError(t, err)
	assert.Equal(t, []string{"strict"}, ids(res.Matches), "unresolvable candidates are dropped by the filter")

	_, err = r.Recommend(ctx, Request{UserID: "u", Filter: `candidate.strictness_level >=`})
	assert.True(t, errors.Is(err, core.ErrInvalidInput))
}

func TestRecommend_UnknownRequesterIsEmpty(t *testing.T) {
	fx := newFixture(t, "a")
	res, err := fx.ranker(defaultCfg()).Recommend(context.Background(), Request{UserID: "ghost"})
	require.NoError(t, err)
	assert.Empty(t, res.Matches)
	assert.NotNil(t, res.Matches)
	assert.Equal(t, int64(0), fx.scorer.calls.Load())
}

func TestRecommend_CancelledContext(t *testing.T) {
	fx := newFixture(t, "u", "a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fx.ranker(defaultCfg()).Recommend(ctx, Request{UserID: "u"})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRecommend_MaxCandidatesBound(t *testing.T) {
	fx := newFixture(t, "u", "a", "b", "c", "d", "e")
	cfg := defaultCfg()
	cfg.MaxCandidates = 3

	res, err := fx.ranker(cfg).Recommend(context.Background(), Request{UserID: "u", CandidateIDs: []string{"a", "b", "c", "d", "e"}})
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalCandidates)

	res, err = fx.ranker(cfg).Recommend(context.Background(), Request{UserID: "b"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalCandidates)
	assert.ElementsMatch(t, []string{"u", "a", "c"}, ids(res.Matches))
}

type failingRoster struct{}

func (failingRoster) GetActiveUsers(context.Context, int) ([]string, error) {
	return nil, errors.New("db down")
}

func TestRecommend_RosterErrorIsEmpty(t *testing.T) {
	fx := newFixture(t, "u")
	r := NewRanker(fx.cache, profile.NewResolver(fx.cache, fx.users), fx.scorer, failingRoster{})
	res, err := r.Recommend(context.Background(), Request{UserID: "u"})
	require.NoError(t, err)
	assert.Empty(t, res.Matches)
}

func TestPrepare(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, prepare([]string{"a", "", "u", "b", "a", "c"}, "u", 2))
	assert.Equal(t, []string{}, prepare(nil, "u", 5))
}

// renamingResolver 返回 id 被改写过的画像（如大小写规范化的存储）。
type renamingResolver struct{ users *profile.MemoryStore }

func (r renamingResolver) Resolve(ctx context.Context, id string) (*core.UserProfile, error) {
	p, err := r.users.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	return &core.UserProfile{UserID: strings.ToUpper(p.UserID), Attributes: p.Attributes}, nil
}

// pairRecorder 记录每次打分的第一个参数。
type pairRecorder struct {
	mu     sync.Mutex
	firsts []string
}

func (s *pairRecorder) Score(_ context.Context, a, _ string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.firsts = append(s.firsts, a)
	return core.NeutralScore
}

func TestRecommend_ScoresUnderRequestedUserID(t *testing.T) {
	fx := newFixture(t, "u", "a", "b")
	scorer := &pairRecorder{}
	r := NewRanker(fx.cache, renamingResolver{users: fx.users}, scorer, fx.users, WithConfig(defaultCfg()))

	res, err := r.Recommend(context.Background(), Request{UserID: "u", CandidateIDs: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Len(t, res.Matches, 2)
	assert.Equal(t, []string{"u", "u"}, scorer.firsts)
}
