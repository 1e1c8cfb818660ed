package profile

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Dexhub/planted-dating-app/core"
)

// MemoryStore 是进程内的 Profile Store，用于测试与本地开发。
type MemoryStore struct {
	mu           sync.RWMutex
	profiles     map[string]*core.UserProfile
	lastActive   map[string]time.Time
	interactions []core.Interaction
	now          func() time.Time
}

// NewMemoryStore 创建空的内存画像存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles:   make(map[string]*core.UserProfile),
		lastActive: make(map[string]time.Time),
		now:        time.Now,
	}
}

func (s *MemoryStore) Name() string { return "memory" }

// Put 写入（或覆盖）画像，并把用户标记为当前活跃。
func (s *MemoryStore) Put(p *core.UserProfile) {
	if p == nil || p.UserID == "" {
		return
	}
	cp := core.NormalizeProfile(p)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = cp
	at := p.UpdatedAt
	if at.IsZero() {
		at = s.now()
	}
	if at.After(s.lastActive[p.UserID]) {
		s.lastActive[p.UserID] = at
	}
}

// Remove 删除画像。
func (s *MemoryStore) Remove(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, userID)
	delete(s.lastActive, userID)
}

func (s *MemoryStore) GetProfile(ctx context.Context, userID string) (*core.UserProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	p, ok := s.profiles[userID]
	s.mu.RUnlock()
	if !ok {
		return nil, core.ErrProfileNotFound
	}
	return core.NormalizeProfile(p), nil
}

// GetActiveUsers 按最近活跃时间降序返回用户，时间相同按 id 升序。
func (s *MemoryStore) GetActiveUsers(ctx context.Context, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	ids := make([]string, 0, len(s.profiles))
	at := make(map[string]time.Time, len(s.profiles))
	for id := range s.profiles {
		ids = append(ids, id)
		at[id] = s.lastActive[id]
	}
	s.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool {
		if !at[ids[i]].Equal(at[ids[j]]) {
			return at[ids[i]].After(at[ids[j]])
		}
		return ids[i] < ids[j]
	})
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// RecordInteraction 记录交互并刷新发起方的活跃时间。
func (s *MemoryStore) RecordInteraction(ctx context.Context, in core.Interaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if in.At.IsZero() {
		in.At = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interactions = append(s.interactions, in)
	if _, ok := s.profiles[in.UserID]; ok && in.At.After(s.lastActive[in.UserID]) {
		s.lastActive[in.UserID] = in.At
	}
	return nil
}

// Interactions 返回已记录交互的副本。
func (s *MemoryStore) Interactions() []core.Interaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Interaction, len(s.interactions))
	copy(out, s.interactions)
	return out
}

func (s *MemoryStore) Close() error { return nil }

var _ core.ProfileStore = (*MemoryStore)(nil)
