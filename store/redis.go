package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Dexhub/planted-dating-app/core"
)

// RedisOptions 是 RedisStore 的连接配置。
type RedisOptions struct {
	Addr     string
	DB       int
	Password string
	PoolSize int
}

// RedisStore 是 Redis 实现的 core.Cache，生产环境的远程缓存层。
// 多个服务实例共享同一份画像/匹配度/排序结果缓存。
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore 连接 Redis 并 Ping 一次，连接失败直接返回错误。
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		DB:       opts.DB,
		Password: opts.Password,
		PoolSize: opts.PoolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient 复用已有客户端（集群、哨兵、测试用 miniredis 等）。
func NewRedisStoreFromClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Name() string { return "redis" }

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrCacheMiss
	}
	return val, err
}

// GetWithTTL 在一次往返中读取值与剩余 TTL（GET + PTTL pipeline）。
// 不过期的 key 剩余时间为 0。
func (r *RedisStore) GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, error) {
	pipe := r.client.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, err
	}

	val, err := getCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, 0, core.ErrCacheMiss
	}
	if err != nil {
		return nil, 0, err
	}
	ttl := ttlCmd.Val()
	if ttl < 0 {
		ttl = 0
	}
	return val, ttl, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

var _ core.Cache = (*RedisStore)(nil)
