// Package planted 是交友匹配服务核心：画像解析、成对匹配度、候选排序与预计算。
//
// 设计要点：
// - 三层缓存：画像（1h）< 匹配度（2h）< 排序结果（6h），Redis 与进程内缓存可叠加
// - 匹配度与参数顺序无关：A↔B 只计算一次，并发请求合并为一次评分调用
// - 评分函数可替换（hybrid / lr / rpc），失败时返回中性分 0.5，不影响排序
package planted

import (
	"context"

	"github.com/Dexhub/planted-dating-app/config"
	"github.com/Dexhub/planted-dating-app/engine"
	"github.com/Dexhub/planted-dating-app/rank"
)

// 轻量 facade：便于直接 import 根包使用核心抽象。
type Engine = engine.Engine
type Option = engine.Option
type Config = config.Config
type Request = rank.Request
type Result = rank.Result

var (
	WithCache        = engine.WithCache
	WithProfileStore = engine.WithProfileStore
	WithScorer       = engine.WithScorer
	WithLogger       = engine.WithLogger
	WithRecorder     = engine.WithRecorder
)

// New 按配置创建 Engine，等同 engine.New。
func New(ctx context.Context, cfg *Config, opts ...Option) (*Engine, error) {
	return engine.New(ctx, cfg, opts...)
}

// DefaultConfig 返回默认配置。
func DefaultConfig() *Config { return config.Default() }
