package feast

import (
	"context"
	"fmt"

	feastsdk "github.com/feast-dev/feast/sdk/go"
	"github.com/feast-dev/feast/sdk/go/protos/feast/types"
)

// GrpcClient 是基于官方 Feast Go SDK 的 gRPC 客户端实现。
type GrpcClient struct {
	client  *feastsdk.GrpcClient
	project string
}

// NewGrpcClient 创建 Feast gRPC 客户端，port 为 0 时使用默认端口 6565。
func NewGrpcClient(host string, port int, project string, opts ...ClientOption) (*GrpcClient, error) {
	if port == 0 {
		port = 6565
	}
	cfg := &ClientConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	var (
		client *feastsdk.GrpcClient
		err    error
	)
	if cfg.Token != "" {
		client, err = feastsdk.NewSecureGrpcClient(host, port, feastsdk.SecurityConfig{
			EnableTLS:  cfg.TLS,
			Credential: feastsdk.NewStaticCredential(cfg.Token),
		})
	} else {
		client, err = feastsdk.NewGrpcClient(host, port)
	}
	if err != nil {
		return nil, fmt.Errorf("feast: dial %s:%d: %w", host, port, err)
	}
	return &GrpcClient{client: client, project: project}, nil
}

// GetOnlineFeatures 获取在线特征（实现 Client 接口）
func (c *GrpcClient) GetOnlineFeatures(ctx context.Context, req *GetOnlineFeaturesRequest) (*GetOnlineFeaturesResponse, error) {
	if len(req.Features) == 0 {
		return nil, fmt.Errorf("feast: features are required")
	}
	if len(req.EntityRows) == 0 {
		return nil, fmt.Errorf("feast: entity rows are required")
	}
	project := req.Project
	if project == "" {
		project = c.project
	}
	if project == "" {
		return nil, fmt.Errorf("feast: project is required")
	}

	entities := make([]feastsdk.Row, len(req.EntityRows))
	for i, row := range req.EntityRows {
		entities[i] = toSDKRow(row)
	}

	resp, err := c.client.GetOnlineFeatures(ctx, &feastsdk.OnlineFeaturesRequest{
		Features: req.Features,
		Entities: entities,
		Project:  project,
	})
	if err != nil {
		return nil, fmt.Errorf("feast: get online features: %w", err)
	}

	rows := resp.Rows()
	if len(rows) != len(req.EntityRows) {
		return nil, fmt.Errorf("feast: response row count mismatch: expected %d, got %d", len(req.EntityRows), len(rows))
	}
	out := &GetOnlineFeaturesResponse{FeatureVectors: make([]FeatureVector, len(rows))}
	for i, row := range rows {
		out.FeatureVectors[i] = FeatureVector{
			Values:    rowValues(row, req.Features),
			EntityRow: req.EntityRows[i],
		}
	}
	return out, nil
}

// Close 释放客户端。SDK 的连接由 gRPC 库管理，这里只断开引用。
func (c *GrpcClient) Close() error {
	c.client = nil
	return nil
}

func toSDKRow(row map[string]any) feastsdk.Row {
	out := make(feastsdk.Row, len(row))
	for k, v := range row {
		out[k] = toSDKValue(v)
	}
	return out
}

// toSDKValue 将实体键转换为 SDK 值类型，未知类型按字符串处理。
func toSDKValue(v any) *types.Value {
	switch val := v.(type) {
	case string:
		return feastsdk.StrVal(val)
	case int:
		return feastsdk.Int64Val(int64(val))
	case int64:
		return feastsdk.Int64Val(val)
	case int32:
		return feastsdk.Int32Val(val)
	case float64:
		return feastsdk.DoubleVal(val)
	case float32:
		return feastsdk.FloatVal(val)
	case bool:
		return feastsdk.BoolVal(val)
	case []byte:
		return feastsdk.BytesVal(val)
	default:
		return feastsdk.StrVal(fmt.Sprintf("%v", val))
	}
}

// rowValues 提取一行中的数值特征。
func rowValues(row feastsdk.Row, features []string) map[string]float64 {
	values := make(map[string]float64, len(features))
	for _, name := range features {
		val, ok := row[name]
		if !ok {
			continue
		}
		if f, ok := fromSDKValue(val); ok {
			values[name] = f
		}
	}
	return values
}

// fromSDKValue 将 SDK 值转换为 float64，非数值或空值返回 false。
func fromSDKValue(val *types.Value) (float64, bool) {
	if val == nil {
		return 0, false
	}
	switch v := val.GetVal().(type) {
	case *types.Value_DoubleVal:
		return v.DoubleVal, true
	case *types.Value_FloatVal:
		return float64(v.FloatVal), true
	case *types.Value_Int64Val:
		return float64(v.Int64Val), true
	case *types.Value_Int32Val:
		return float64(v.Int32Val), true
	case *types.Value_BoolVal:
		if v.BoolVal {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

var _ Client = (*GrpcClient)(nil)
