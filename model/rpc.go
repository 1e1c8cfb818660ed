package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Dexhub/planted-dating-app/core"
)

// RPCModel 通过 HTTP 调用外部匹配度模型服务。
//
// 请求格式（JSON）：
//
//	{"pairs": [{"a": {"motivation_score": 0.7, ...}, "b": {...}}, ...]}
//
// 响应格式（JSON）：
//
//	{"scores": [0.85, 0.72, ...]}
//
// 服务端需保证对 (a, b) 对称。
type RPCModel struct {
	Endpoint string
	Timeout  time.Duration
	Client   *http.Client
}

// NewRPCModel 创建 RPCModel，timeout 为 0 时默认 50ms。
func NewRPCModel(endpoint string, timeout time.Duration) *RPCModel {
	if timeout == 0 {
		timeout = 50 * time.Millisecond
	}
	return &RPCModel{
		Endpoint: endpoint,
		Timeout:  timeout,
		Client:   &http.Client{Timeout: timeout},
	}
}

func (m *RPCModel) Name() string { return "rpc" }

// Pair 是一次评分请求中的一对画像。
type Pair struct {
	A map[string]float64 `json:"a"`
	B map[string]float64 `json:"b"`
}

// Compute 对单个画像对打分（内部调用批量接口）。
func (m *RPCModel) Compute(ctx context.Context, a, b *core.UserProfile) (float64, error) {
	scores, err := m.ComputeBatch(ctx, []Pair{{A: a.AttributeMap(), B: b.AttributeMap()}})
	if err != nil {
		return 0, err
	}
	return scores[0], nil
}

// ComputeBatch 批量打分，返回值与 pairs 一一对应。
func (m *RPCModel) ComputeBatch(ctx context.Context, pairs []Pair) ([]float64, error) {
	if len(pairs) == 0 {
		return []float64{}, nil
	}
	if m.Client == nil {
		m.Client = &http.Client{Timeout: m.Timeout}
	}

	body, err := json.Marshal(map[string]any{"pairs": pairs})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpc call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, err := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		if err != nil {
			return nil, fmt.Errorf("rpc error: status=%d, read body failed: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("rpc error: status=%d, body=%s", resp.StatusCode, string(msg))
	}

	var result struct {
		Scores []float64 `json:"scores"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Scores) != len(pairs) {
		return nil, fmt.Errorf("response scores count mismatch: expected %d, got %d", len(pairs), len(result.Scores))
	}
	return result.Scores, nil
}

var _ core.Scorer = (*RPCModel)(nil)
