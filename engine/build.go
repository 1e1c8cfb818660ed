package engine

import (
	"context"
	"fmt"

	"github.com/Dexhub/planted-dating-app/config"
	"github.com/Dexhub/planted-dating-app/core"
	"github.com/Dexhub/planted-dating-app/feast"
	"github.com/Dexhub/planted-dating-app/profile"
	"github.com/Dexhub/planted-dating-app/store"
)

// newCache 按 cache.backend 创建缓存层。
func newCache(ctx context.Context, cfg *config.Config) (core.Cache, error) {
	switch cfg.Cache.Backend {
	case "", "memory":
		return store.NewMemoryStore(cfg.Cache.LocalCapacity), nil
	case "redis", "tiered":
		remote, err := store.NewRedisStore(ctx, store.RedisOptions{
			Addr:     cfg.Redis.Addr,
			DB:       cfg.Redis.DB,
			Password: cfg.Redis.Password,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			return nil, err
		}
		if cfg.Cache.Backend == "redis" {
			return remote, nil
		}
		return store.NewTieredStore(store.NewMemoryStore(cfg.Cache.LocalCapacity), remote, cfg.Cache.LocalTTL), nil
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", cfg.Cache.Backend)
	}
}

// newProfileStore 按 profile_store.driver 创建画像存储。
// feast 模式下活跃名单与交互记录由 postgres（配置了 dsn 时）承担，否则名单为空。
func newProfileStore(ctx context.Context, cfg *config.Config, client feast.Client) (core.ProfileStore, error) {
	ps := cfg.ProfileStore
	switch ps.Driver {
	case "", "memory":
		return profile.NewMemoryStore(), nil
	case "postgres":
		return newPostgres(ctx, ps)
	case "feast":
		if client == nil {
			c, err := feast.NewGrpcClient(cfg.Feast.Host, cfg.Feast.Port, cfg.Feast.Project)
			if err != nil {
				return nil, err
			}
			client = c
		}
		var roster core.ProfileStore
		if ps.DSN != "" {
			pg, err := newPostgres(ctx, ps)
			if err != nil {
				_ = client.Close()
				return nil, err
			}
			roster = pg
		}
		return profile.NewFeastStore(client, roster, profile.FeastOptions{
			Project:     cfg.Feast.Project,
			FeatureView: cfg.Feast.FeatureView,
			Entity:      cfg.Feast.Entity,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported profile store driver %q", ps.Driver)
	}
}

func newPostgres(ctx context.Context, ps config.ProfileStoreConfig) (*profile.PostgresStore, error) {
	return profile.NewPostgresStore(ctx, profile.PostgresOptions{
		DSN:            ps.DSN,
		MaxOpenConns:   ps.MaxOpenConns,
		MaxIdleConns:   ps.MaxIdleConns,
		AcquireTimeout: ps.AcquireTimeout,
		ActiveWindow:   ps.ActiveWindow,
	})
}
