package core

import (
	"context"
	"time"
)

// Cache 是缓存层（Cache Tier）的领域接口。
//
// 设计原则：
//   - 定义在领域层（core），由基础设施层（store）实现
//   - 只有 "带 TTL 的 set" 与 get：写入幂等，并发写同一个 key 以最后一次为准
//   - 除过期外不提供一致性保证；实现可以因容量提前淘汰
//
// 使用场景：
//   - 画像缓存：profile:{user_id}
//   - 匹配度缓存：compat:{pair}
//   - 排序结果缓存：matches:{user_id}
//
// 实现：
//   - store.MemoryStore（进程内，ttlcache）
//   - store.RedisStore（远程）
//   - store.TieredStore（L1 内存 + L2 Redis）
type Cache interface {
	// Name 返回缓存后端名称（用于日志/监控）
	Name() string

	// Get 读取 key；不存在或已过期返回 ErrCacheMiss
	Get(ctx context.Context, key string) ([]byte, error)

	// Set 写入 key，ttl <= 0 表示不过期
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete 删除 key
	Delete(ctx context.Context, key string) error

	// Close 释放资源
	Close() error
}

// Interaction 是一次用户交互记录（滑动、消息、匹配等）。
type Interaction struct {
	UserID   string
	TargetID string
	Type     string
	Score    float64
	At       time.Time
}

// ProfileStore 是画像权威存储的领域接口，通常较慢（网络/磁盘）。
//
// 设计原则：
//   - GetProfile 找不到用户时返回 ErrProfileNotFound，其余错误视为暂时性故障
//   - GetActiveUsers 按最近活跃时间降序
//   - RecordInteraction 供外围系统写入，服务核心的读路径不依赖它
//
// 实现：
//   - profile.MemoryStore（测试/开发）
//   - profile.PostgresStore（生产）
//   - profile.FeastStore（画像读自 Feast 在线特征库）
//   - profile.BreakerStore（熔断装饰器）
type ProfileStore interface {
	Name() string
	GetProfile(ctx context.Context, userID string) (*UserProfile, error)
	GetActiveUsers(ctx context.Context, limit int) ([]string, error)
	RecordInteraction(ctx context.Context, in Interaction) error
	Close() error
}
