// Package feast 提供从 Feast 在线特征库读取用户画像特征的客户端。
package feast

import (
	"context"
)

// Client 是 Feast 在线特征读取的最小接口，画像存储只依赖这一能力。
//
// 特征名使用 Feast 的 feature reference 形式 "{feature_view}:{feature}"，
// 例如 "user_profile:plant_based_years"。
type Client interface {
	GetOnlineFeatures(ctx context.Context, req *GetOnlineFeaturesRequest) (*GetOnlineFeaturesResponse, error)
	Close() error
}

// GetOnlineFeaturesRequest 获取在线特征请求
type GetOnlineFeaturesRequest struct {
	// Features 特征引用列表
	Features []string

	// EntityRows 实体行，例如 [{"user_id": "u1"}, {"user_id": "u2"}]
	EntityRows []map[string]any

	// Project 项目名称（为空时使用客户端默认项目）
	Project string
}

// GetOnlineFeaturesResponse 获取在线特征响应，FeatureVectors 与 EntityRows 一一对应。
type GetOnlineFeaturesResponse struct {
	FeatureVectors []FeatureVector
}

// FeatureVector 是一个实体行的特征值。
// Values 只包含 Feast 返回了数值的特征，缺失或非数值特征不出现。
type FeatureVector struct {
	Values    map[string]float64
	EntityRow map[string]any
}

// ClientOption 客户端配置选项
type ClientOption func(*ClientConfig)

// ClientConfig 客户端配置
type ClientConfig struct {
	// Token 非空时使用静态 Token 认证
	Token string

	// TLS 是否启用 TLS（仅在设置 Token 时生效）
	TLS bool
}

// WithToken 使用静态 Token 认证
func WithToken(token string) ClientOption {
	return func(c *ClientConfig) {
		c.Token = token
	}
}

// WithTLS 启用 TLS
func WithTLS() ClientOption {
	return func(c *ClientConfig) {
		c.TLS = true
	}
}
