package profile

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/Dexhub/planted-dating-app/core"
	"github.com/Dexhub/planted-dating-app/pkg/logger"
)

// BreakerOptions 是熔断器配置。
type BreakerOptions struct {
	MaxRequests  uint32        // 半开状态允许通过的请求数
	Interval     time.Duration // 关闭状态下计数清零周期
	Timeout      time.Duration // 打开状态持续时间
	MinRequests  uint32        // 判定熔断前的最少请求数
	FailureRatio float64       // 失败比例阈值
	Logger       *zap.Logger
}

// BreakerStore 为 Profile Store 加上熔断：存储持续失败时快速失败，
// 避免慢存储拖住请求的 fan-out。
//
// "用户不存在" 是正常结果，不计为失败；调用方自己的 ctx 取消或超时也不计为失败。
// 熔断打开时返回 ErrStoreUnavailable。
type BreakerStore struct {
	next core.ProfileStore
	cb   *gobreaker.CircuitBreaker[any]
}

// NewBreakerStore 用熔断器包装 next。
func NewBreakerStore(next core.ProfileStore, opts BreakerOptions) *BreakerStore {
	log := logger.OrNop(opts.Logger)
	minRequests := opts.MinRequests
	if minRequests == 0 {
		minRequests = 10
	}
	ratio := opts.FailureRatio
	if ratio <= 0 {
		ratio = 0.6
	}

	settings := gobreaker.Settings{
		Name:        "profile-store:" + next.Name(),
		MaxRequests: opts.MaxRequests,
		Interval:    opts.Interval,
		Timeout:     opts.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= minRequests &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= ratio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("profile store breaker state changed",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			var gone *callerGone
			return err == nil || errors.Is(err, core.ErrProfileNotFound) || errors.As(err, &gone)
		},
	}
	return &BreakerStore{next: next, cb: gobreaker.NewCircuitBreaker[any](settings)}
}

func (s *BreakerStore) Name() string { return "breaker(" + s.next.Name() + ")" }

// State 返回熔断器当前状态。
func (s *BreakerStore) State() gobreaker.State { return s.cb.State() }

func (s *BreakerStore) GetProfile(ctx context.Context, userID string) (*core.UserProfile, error) {
	v, err := run(ctx, s.cb, func() (any, error) {
		return s.next.GetProfile(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	p, _ := v.(*core.UserProfile)
	return p, nil
}

func (s *BreakerStore) GetActiveUsers(ctx context.Context, limit int) ([]string, error) {
	v, err := run(ctx, s.cb, func() (any, error) {
		return s.next.GetActiveUsers(ctx, limit)
	})
	if err != nil {
		return nil, err
	}
	ids, _ := v.([]string)
	return ids, nil
}

func (s *BreakerStore) RecordInteraction(ctx context.Context, in core.Interaction) error {
	_, err := run(ctx, s.cb, func() (any, error) {
		return nil, s.next.RecordInteraction(ctx, in)
	})
	return err
}

func (s *BreakerStore) Close() error { return s.next.Close() }

// callerGone 标记调用方 ctx 已结束时的错误，熔断器不计为存储失败。
type callerGone struct{ err error }

func (e *callerGone) Error() string { return e.err.Error() }
func (e *callerGone) Unwrap() error { return e.err }

// run 在熔断器内执行 fn。ctx 已结束时不经过熔断器直接返回。
func run(ctx context.Context, cb *gobreaker.CircuitBreaker[any], fn func() (any, error)) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, err := cb.Execute(func() (any, error) {
		v, err := fn()
		if err != nil && ctx.Err() != nil {
			return v, &callerGone{err: err}
		}
		return v, err
	})
	var gone *callerGone
	if errors.As(err, &gone) {
		return nil, gone.err
	}
	return v, unavailable(err)
}

// unavailable 把熔断拒绝转换为 ErrStoreUnavailable，其余错误原样返回。
func unavailable(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return core.ErrStoreUnavailable.Wrap(err)
	}
	return err
}

var _ core.ProfileStore = (*BreakerStore)(nil)
