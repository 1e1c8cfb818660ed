package model

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Dexhub/planted-dating-app/config"
	"github.com/Dexhub/planted-dating-app/core"
)

// Builder 根据评分配置构建评分函数。
type Builder func(cfg config.ScoringConfig) (core.Scorer, error)

var (
	builders   = make(map[string]Builder)
	buildersMu sync.RWMutex
)

func init() {
	Register("hybrid", func(config.ScoringConfig) (core.Scorer, error) {
		return NewHybridModel(), nil
	})
	Register("lr", func(cfg config.ScoringConfig) (core.Scorer, error) {
		return LoadLRModel(cfg.LRWeights)
	})
	Register("rpc", func(cfg config.ScoringConfig) (core.Scorer, error) {
		if cfg.RPCEndpoint == "" {
			return nil, fmt.Errorf("rpc model: endpoint is required")
		}
		return NewRPCModel(cfg.RPCEndpoint, cfg.RPCTimeout), nil
	})
}

// Register 注册一种评分函数，同名覆盖。
func Register(name string, b Builder) {
	if name == "" || b == nil {
		return
	}
	buildersMu.Lock()
	defer buildersMu.Unlock()
	builders[name] = b
}

// SupportedTypes 返回已注册的评分函数名（排序），用于错误提示。
func SupportedTypes() []string {
	buildersMu.RLock()
	defer buildersMu.RUnlock()
	names := make([]string, 0, len(builders))
	for n := range builders {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New 按 cfg.Model 构建评分函数，空值使用 hybrid。
func New(cfg config.ScoringConfig) (core.Scorer, error) {
	name := cfg.Model
	if name == "" {
		name = "hybrid"
	}
	buildersMu.RLock()
	b, ok := builders[name]
	buildersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported scoring model %q (supported: %v)", name, SupportedTypes())
	}
	return b(cfg)
}
