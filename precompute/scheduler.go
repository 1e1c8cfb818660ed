// Package precompute 在后台预热排序结果缓存，与交互请求互不影响。
package precompute

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Dexhub/planted-dating-app/config"
	"github.com/Dexhub/planted-dating-app/pkg/logger"
	"github.com/Dexhub/planted-dating-app/rank"
)

// Recommender 是预热调用的排序入口。
type Recommender interface {
	Recommend(ctx context.Context, req rank.Request) (*rank.Result, error)
}

// Roster 提供批量预热的活跃用户名单。
type Roster interface {
	GetActiveUsers(ctx context.Context, limit int) ([]string, error)
}

// Kind 是任务类型。
type Kind string

const (
	KindWarm      Kind = "warm"
	KindWarmBatch Kind = "warm_batch"
)

// State 是任务状态。
type State string

const (
	StateQueued   State = "queued"
	StateRunning  State = "running"
	StateDone     State = "done"
	StateFailed   State = "failed"
	StateDropped  State = "dropped"  // 队列已满或调度器已停止
	StateCanceled State = "canceled" // Stop 时仍在执行
)

// JobStatus 是一个预热任务的记录。
type JobStatus struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	UserID     string    `json:"user_id,omitempty"`
	Limit      int       `json:"limit,omitempty"`
	State      State     `json:"state"`
	Warmed     int       `json:"warmed"`
	Failed     int       `json:"failed"`
	Error      string    `json:"error,omitempty"`
	QueuedAt   time.Time `json:"queued_at"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Finished 表示任务不会再变化。
func (s JobStatus) Finished() bool {
	switch s.State {
	case StateDone, StateFailed, StateDropped, StateCanceled:
		return true
	}
	return false
}

type job struct {
	id     string
	kind   Kind
	userID string
	limit  int
}

// Scheduler 是预计算调度器。
//
// Warm / WarmBatch 立即返回任务 id，从不阻塞调用方；任务进入有界队列，
// 由单独的后台 worker 顺序执行。批量预热按 batch_delay 限速。
type Scheduler struct {
	rec     Recommender
	roster  Roster
	cfg     config.PrecomputeConfig
	logger  *zap.Logger
	limiter *rate.Limiter

	queue chan job

	mu      sync.Mutex
	jobs    map[string]*JobStatus
	order   []string
	stopped bool

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// Option 是 Scheduler 的配置选项。
type Option func(*Scheduler)

func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger.OrNop(l)
	}
}

// NewScheduler 创建调度器，需调用 Start 才会开始执行任务。
func NewScheduler(rec Recommender, roster Roster, cfg config.PrecomputeConfig, opts ...Option) *Scheduler {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.History <= 0 {
		cfg.History = 256
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 50
	}
	limit := rate.Inf
	if cfg.BatchDelay > 0 {
		limit = rate.Every(cfg.BatchDelay)
	}
	s := &Scheduler{
		rec:     rec,
		roster:  roster,
		cfg:     cfg,
		logger:  zap.NewNop(),
		limiter: rate.NewLimiter(limit, 1),
		queue:   make(chan job, cfg.QueueSize),
		jobs:    make(map[string]*JobStatus),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start 启动后台 worker。worker 使用自己的 context（派生自 ctx），重复调用无效。
func (s *Scheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)
		go s.run(ctx)
	})
}

// Stop 取消正在执行的任务并等待 worker 退出。之后提交的任务直接标记为 dropped。
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()

		s.startOnce.Do(func() {}) // 未启动时阻止之后的 Start
		if s.cancel != nil {
			s.cancel()
			<-s.done
		}
		s.drain()
	})
}

// Warm 提交单用户预热任务，返回任务 id。
func (s *Scheduler) Warm(userID string) string {
	return s.submit(job{kind: KindWarm, userID: userID})
}

// WarmBatch 提交批量预热任务：预热最近活跃的 limit 个用户。
func (s *Scheduler) WarmBatch(limit int) string {
	return s.submit(job{kind: KindWarmBatch, limit: limit})
}

// Status 返回任务记录的副本。
func (s *Scheduler) Status(id string) (JobStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.jobs[id]
	if !ok {
		return JobStatus{}, false
	}
	return *st, true
}

func (s *Scheduler) submit(j job) string {
	j.id = uuid.NewString()
	st := &JobStatus{ID: j.id, Kind: j.kind, UserID: j.userID, Limit: j.limit, State: StateQueued, QueuedAt: time.Now()}

	s.mu.Lock()
	s.record(st)
	if s.stopped {
		st.State, st.FinishedAt = StateDropped, st.QueuedAt
		s.mu.Unlock()
		s.logger.Warn("precompute job dropped, scheduler stopped", zap.String("job_id", j.id))
		return j.id
	}
	select {
	case s.queue <- j:
		s.mu.Unlock()
	default:
		st.State, st.FinishedAt = StateDropped, st.QueuedAt
		s.mu.Unlock()
		s.logger.Warn("precompute queue full, job dropped",
			zap.String("job_id", j.id), zap.String("kind", string(j.kind)), zap.String("user_id", j.userID))
	}
	return j.id
}

// record 保存任务记录，超过 History 时淘汰最早的记录。调用方持有锁。
func (s *Scheduler) record(st *JobStatus) {
	s.jobs[st.ID] = st
	s.order = append(s.order, st.ID)
	for len(s.order) > s.cfg.History {
		delete(s.jobs, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *Scheduler) update(id string, fn func(*JobStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.jobs[id]; ok {
		fn(st)
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			s.execute(ctx, j)
		}
	}
}

// drain 把 Stop 后仍在队列中的任务标记为 dropped。
func (s *Scheduler) drain() {
	for {
		select {
		case j := <-s.queue:
			s.update(j.id, func(st *JobStatus) {
				st.State, st.FinishedAt = StateDropped, time.Now()
			})
		default:
			return
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, j job) {
	s.update(j.id, func(st *JobStatus) {
		st.State, st.StartedAt = StateRunning, time.Now()
	})
	log := s.logger.With(zap.String("job_id", j.id), zap.String("kind", string(j.kind)))

	var err error
	switch j.kind {
	case KindWarm:
		err = s.warmOne(ctx, j.id, j.userID)
	case KindWarmBatch:
		err = s.warmBatch(ctx, j.id, j.limit, log)
	}

	s.update(j.id, func(st *JobStatus) {
		st.FinishedAt = time.Now()
		switch {
		case err == nil:
			st.State = StateDone
		case errors.Is(err, context.Canceled):
			st.State, st.Error = StateCanceled, err.Error()
		default:
			st.State, st.Error = StateFailed, err.Error()
		}
	})
	if err != nil {
		log.Warn("precompute job failed", zap.String("user_id", j.userID), zap.Error(err))
		return
	}
	log.Debug("precompute job done")
}

func (s *Scheduler) warmOne(ctx context.Context, id, userID string) error {
	_, err := s.rec.Recommend(ctx, rank.Request{UserID: userID, TopK: s.cfg.TopK})
	s.update(id, func(st *JobStatus) {
		if err != nil {
			st.Failed++
		} else {
			st.Warmed++
		}
	})
	return err
}

// warmBatch 逐个预热活跃用户，单个用户失败不影响其他用户。
func (s *Scheduler) warmBatch(ctx context.Context, id string, limit int, log *zap.Logger) error {
	users, err := s.roster.GetActiveUsers(ctx, limit)
	if err != nil {
		return err
	}
	log.Info("batch precompute started", zap.Int("users", len(users)))
	for _, userID := range users {
		if err := s.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
		if err := s.warmOne(ctx, id, userID); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			log.Warn("precompute user failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return nil
}
