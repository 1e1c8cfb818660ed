package pairwise

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dexhub/planted-dating-app/core"
	"github.com/Dexhub/planted-dating-app/model"
	"github.com/Dexhub/planted-dating-app/monitor"
	"github.com/Dexhub/planted-dating-app/profile"
	"github.com/Dexhub/planted-dating-app/store"
)

// countingFn 统计调用次数，返回 f 的结果。
type countingFn struct {
	calls atomic.Int64
	f     func(a, b *core.UserProfile) (float64, error)
}

func (c *countingFn) Name() string { return "counting" }

func (c *countingFn) Compute(_ context.Context, a, b *core.UserProfile) (float64, error) {
	c.calls.Add(1)
	return c.f(a, b)
}

type fixture struct {
	cache *store.MemoryStore
	users *profile.MemoryStore
	fn    *countingFn
	rec   *monitor.Recorder
}

func newFixture(t *testing.T, f func(a, b *core.UserProfile) (float64, error), ids ...string) *fixture {
	t.Helper()
	fx := &fixture{
		cache: store.NewMemoryStore(0),
		users: profile.NewMemoryStore(),
		fn:    &countingFn{f: f},
		rec:   monitor.NewRecorder("test"),
	}
	t.Cleanup(func() { _ = fx.cache.Close() })
	for _, id := range ids {
		fx.users.Put(&core.UserProfile{UserID: id})
	}
	return fx
}

func (fx *fixture) scorer(opts ...Option) *Scorer {
	resolver := profile.NewResolver(fx.cache, fx.users)
	opts = append([]Option{WithRecorder(fx.rec)}, opts...)
	return NewScorer(fx.cache, resolver, fx.fn, opts...)
}

func constant(v float64) func(a, b *core.UserProfile) (float64, error) {
	return func(a, b *core.UserProfile) (float64, error) { return v, nil }
}

func TestScore_SymmetricAndIdempotent(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, constant(0.73), "alice", "bob")
	s := fx.scorer()

	ab := s.Score(ctx, "alice", "bob")
	ba := s.Score(ctx, "bob", "alice")
	assert.Equal(t, 0.73, ab)
	assert.Equal(t, ab, ba)
	assert.Equal(t, int64(1), fx.fn.calls.Load(), "second request must be served from cache")

	raw, err := fx.cache.Get(ctx, core.PairKey("bob", "alice"))
	require.NoError(t, err)
	assert.Equal(t, "0.73", string(raw))

	compat := fx.rec.Snapshot().Tiers[monitor.TierCompat]
	assert.Equal(t, monitor.TierStats{Hits: 1, Misses: 1}, compat)
}

func TestScore_CanonicalOrderPassedToModel(t *testing.T) {
	ctx := context.Background()
	var seen [2]string
	fx := newFixture(t, func(a, b *core.UserProfile) (float64, error) {
		seen = [2]string{a.UserID, b.UserID}
		return 0.6, nil
	}, "zed", "amy")
	fx.scorer().Score(ctx, "zed", "amy")
	assert.Equal(t, [2]string{"amy", "zed"}, seen)
}

func TestScore_MissingProfileIsNeutralAndUncached(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, constant(0.9), "alice")
	s := fx.scorer()

	assert.Equal(t, core.NeutralScore, s.Score(ctx, "alice", "ghost"))
	assert.Equal(t, core.NeutralScore, s.Score(ctx, "ghost", "alice"))
	assert.Equal(t, int64(0), fx.fn.calls.Load())

	_, err := fx.cache.Get(ctx, core.PairKey("alice", "ghost"))
	assert.True(t, errors.Is(err, core.ErrCacheMiss))

	// 用户出现后重新计算
	fx.users.Put(&core.UserProfile{UserID: "ghost"})
	assert.Equal(t, 0.9, s.Score(ctx, "alice", "ghost"))
}

func TestScore_ComputationFailureIsNeutralAndUncached(t *testing.T) {
	cases := map[string]func(a, b *core.UserProfile) (float64, error){
		"error": func(a, b *core.UserProfile) (float64, error) { return 0, errors.New("model unavailable") },
		"nan":   constant(math.NaN()),
		"+inf":  constant(math.Inf(1)),
		"-inf":  constant(math.Inf(-1)),
		"panic": func(a, b *core.UserProfile) (float64, error) { panic("index out of range") },
	}
	for name, f := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			fx := newFixture(t, f, "alice", "bob")
			s := fx.scorer()

			assert.Equal(t, core.NeutralScore, s.Score(ctx, "alice", "bob"))
			_, err := fx.cache.Get(ctx, core.PairKey("alice", "bob"))
			assert.True(t, errors.Is(err, core.ErrCacheMiss), "failures must not be cached")

			s.Score(ctx, "alice", "bob")
			assert.Equal(t, int64(2), fx.fn.calls.Load(), "failures are retried on the next request")
			assert.Equal(t, int64(2), fx.rec.Snapshot().ScoringFailures)
		})
	}
}

func TestScore_ClipsOutOfRange(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, constant(1.7), "alice", "bob", "carol")
	s := fx.scorer()
	assert.Equal(t, 1.0, s.Score(ctx, "alice", "bob"))

	fx.fn.f = constant(-0.2)
	assert.Equal(t, 0.0, s.Score(ctx, "alice", "carol"))
}

func TestScore_AverageSymmetry(t *testing.T) {
	ctx := context.Background()
	// 非对称评分函数：只看第一个参数
	fx := newFixture(t, func(a, b *core.UserProfile) (float64, error) {
		return a.Get("motivation_score"), nil
	})
	fx.users.Put(&core.UserProfile{UserID: "alice", Attributes: map[string]float64{"motivation_score": 0.2}})
	fx.users.Put(&core.UserProfile{UserID: "bob", Attributes: map[string]float64{"motivation_score": 0.6}})

	s := fx.scorer(WithSymmetry(SymmetryAverage))
	assert.InDelta(t, 0.4, s.Score(ctx, "bob", "alice"), 1e-9)
	assert.Equal(t, int64(2), fx.fn.calls.Load())
}

func TestScore_SelfPair(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, constant(0.8), "alice")
	assert.Equal(t, 0.8, fx.scorer().Score(ctx, "alice", "alice"))
}

func TestScore_ConcurrentColdRequestsCollapse(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	fx := newFixture(t, func(a, b *core.UserProfile) (float64, error) {
		<-release
		return 0.66, nil
	}, "alice", "bob")
	s := fx.scorer()

	var wg sync.WaitGroup
	results := make([]float64, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				results[i] = s.Score(ctx, "alice", "bob")
			} else {
				results[i] = s.Score(ctx, "bob", "alice")
			}
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, 0.66, r)
	}
	assert.Equal(t, int64(1), fx.fn.calls.Load())
}

func TestScore_UndecodableCacheEntryRecomputed(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, constant(0.3), "alice", "bob")
	require.NoError(t, fx.cache.Set(ctx, core.PairKey("alice", "bob"), []byte("garbage"), time.Hour))

	assert.Equal(t, 0.3, fx.scorer().Score(ctx, "alice", "bob"))
	assert.Equal(t, int64(1), fx.fn.calls.Load())
}

func TestScore_IdenticalProfilesEndToEnd(t *testing.T) {
	ctx := context.Background()
	cache := store.NewMemoryStore(0)
	defer cache.Close()
	users := profile.NewMemoryStore()
	attrs := map[string]float64{"motivation_score": 0.8, "activism_level": 0.3, "cooking_skill_level": 0.9}
	users.Put(&core.UserProfile{UserID: "u1", Attributes: attrs})
	users.Put(&core.UserProfile{UserID: "u2", Attributes: attrs})

	s := NewScorer(cache, profile.NewResolver(cache, users), model.NewHybridModel())
	assert.Equal(t, 1.0, s.Score(ctx, "u1", "u2"))

	raw, err := cache.Get(ctx, core.PairKey("u1", "u2"))
	require.NoError(t, err)
	assert.Equal(t, "1", string(raw))
}

// slowFn 耗时 delay 返回 score，ctx 先结束时返回 ctx.Err()。
type slowFn struct {
	calls atomic.Int64
	delay time.Duration
	score float64
}

func (f *slowFn) Name() string { return "slow" }

func (f *slowFn) Compute(ctx context.Context, _, _ *core.UserProfile) (float64, error) {
	f.calls.Add(1)
	select {
	case <-time.After(f.delay):
		return f.score, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func TestScore_WaiterUnaffectedByLeaderDeadline(t *testing.T) {
	cache := store.NewMemoryStore(0)
	defer cache.Close()
	users := profile.NewMemoryStore()
	users.Put(&core.UserProfile{UserID: "a"})
	users.Put(&core.UserProfile{UserID: "b"})
	fn := &slowFn{delay: 50 * time.Millisecond, score: 0.9}
	s := NewScorer(cache, profile.NewResolver(cache, users), fn)

	var wg sync.WaitGroup
	var short, healthy float64
	wg.Add(2)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		short = s.Score(ctx, "a", "b")
	}()
	go func() {
		defer wg.Done()
		time.Sleep(2 * time.Millisecond)
		healthy = s.Score(context.Background(), "b", "a")
	}()
	wg.Wait()

	assert.Equal(t, core.NeutralScore, short)
	assert.Equal(t, 0.9, healthy)

	raw, err := cache.Get(context.Background(), core.PairKey("a", "b"))
	require.NoError(t, err)
	assert.Equal(t, "0.9", string(raw))
}

func TestScore_WaiterSharesGenuineFailure(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	fx := newFixture(t, func(a, b *core.UserProfile) (float64, error) {
		<-release
		return 0, errors.New("model down")
	}, "alice", "bob")
	s := fx.scorer()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, core.NeutralScore, s.Score(ctx, "alice", "bob"))
		}()
	}
	time.Sleep(30 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, int64(1), fx.fn.calls.Load())
}

func TestScore_NilLoggerOption(t *testing.T) {
	fx := newFixture(t, func(a, b *core.UserProfile) (float64, error) {
		return 0, errors.New("model down")
	}, "alice", "bob")
	s := fx.scorer(WithLogger(nil))
	assert.Equal(t, core.NeutralScore, s.Score(context.Background(), "alice", "bob"))
}
