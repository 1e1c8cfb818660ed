package core

import "context"

// Scorer 是评分函数（Scoring Function）的领域接口。
//
// 设计原则：
//   - 定义在领域层（core），由 model 包实现（本地模型或远程服务）
//   - 输入两个已补全的画像，输出 [0,1] 的匹配度
//   - 必须可被多个 goroutine 并发调用，且无副作用
//   - 约定对称：Compute(a, b) == Compute(b, a)；不满足时由 pairwise 的 average 模式兜底
//
// 实现：
//   - model.HybridModel（默认，分组对齐 + 余弦相似度）
//   - model.LRModel（对称配对特征上的逻辑回归）
//   - model.RPCModel（远程模型服务）
type Scorer interface {
	Name() string
	Compute(ctx context.Context, a, b *UserProfile) (float64, error)
}

// ScorerFunc 把普通函数适配为 Scorer，便于测试与快速接入。
type ScorerFunc func(ctx context.Context, a, b *UserProfile) (float64, error)

func (f ScorerFunc) Name() string { return "func" }

func (f ScorerFunc) Compute(ctx context.Context, a, b *UserProfile) (float64, error) {
	return f(ctx, a, b)
}
