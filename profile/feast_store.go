package profile

import (
	"context"
	"fmt"

	"github.com/Dexhub/planted-dating-app/core"
	"github.com/Dexhub/planted-dating-app/feast"
)

// FeastOptions 描述画像在 Feast 中的位置。
type FeastOptions struct {
	Project     string
	FeatureView string // 默认 user_profile
	Entity      string // 默认 user_id
}

// FeastStore 从 Feast 在线特征库读取画像属性。
//
// Feast 只保存特征，不保存活跃名单与交互记录，
// 这两类调用转交给 roster（通常是 PostgresStore）。
type FeastStore struct {
	client   feast.Client
	roster   core.ProfileStore
	opts     FeastOptions
	features []string
}

// NewFeastStore 创建 FeastStore，roster 可以为 nil（此时名单为空、交互写入被忽略）。
func NewFeastStore(client feast.Client, roster core.ProfileStore, opts FeastOptions) *FeastStore {
	if opts.FeatureView == "" {
		opts.FeatureView = "user_profile"
	}
	if opts.Entity == "" {
		opts.Entity = "user_id"
	}
	schema := core.ProfileSchema()
	features := make([]string, len(schema))
	for i, name := range schema {
		features[i] = opts.FeatureView + ":" + name
	}
	return &FeastStore{client: client, roster: roster, opts: opts, features: features}
}

func (s *FeastStore) Name() string { return "feast" }

// GetProfile 读取一个用户的全部画像特征；Feast 没有返回任何特征时视为用户不存在。
func (s *FeastStore) GetProfile(ctx context.Context, userID string) (*core.UserProfile, error) {
	resp, err := s.client.GetOnlineFeatures(ctx, &feast.GetOnlineFeaturesRequest{
		Features:   s.features,
		EntityRows: []map[string]any{{s.opts.Entity: userID}},
		Project:    s.opts.Project,
	})
	if err != nil {
		return nil, fmt.Errorf("feast store: get profile %s: %w", userID, err)
	}
	if len(resp.FeatureVectors) == 0 {
		return nil, core.ErrProfileNotFound
	}

	values := resp.FeatureVectors[0].Values
	p := &core.UserProfile{UserID: userID, Attributes: make(map[string]float64, len(values))}
	for i, name := range core.ProfileSchema() {
		if v, ok := values[s.features[i]]; ok {
			p.Attributes[name] = v
		} else if v, ok := values[name]; ok {
			p.Attributes[name] = v
		}
	}
	if len(p.Attributes) == 0 {
		return nil, core.ErrProfileNotFound
	}
	return core.NormalizeProfile(p), nil
}

func (s *FeastStore) GetActiveUsers(ctx context.Context, limit int) ([]string, error) {
	if s.roster == nil {
		return nil, nil
	}
	return s.roster.GetActiveUsers(ctx, limit)
}

func (s *FeastStore) RecordInteraction(ctx context.Context, in core.Interaction) error {
	if s.roster == nil {
		return nil
	}
	return s.roster.RecordInteraction(ctx, in)
}

// Close 关闭 Feast 客户端与 roster。
func (s *FeastStore) Close() error {
	err := s.client.Close()
	if s.roster != nil {
		if rerr := s.roster.Close(); err == nil {
			err = rerr
		}
	}
	return err
}

var _ core.ProfileStore = (*FeastStore)(nil)
