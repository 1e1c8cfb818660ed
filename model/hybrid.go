package model

import (
	"context"
	"math"
	"slices"

	"github.com/Dexhub/planted-dating-app/core"
)

// DefaultGroupWeights 是各属性分组在对齐度中的权重。
var DefaultGroupWeights = map[string]float64{
	"dietary_journey":  0.3,
	"values_alignment": 0.3,
	"lifestyle":        0.2,
	"behavioral":       0.2,
}

// HybridModel 是默认的本地评分函数：
//
//	score = AlignmentWeight * alignment + (1 - AlignmentWeight) * similarity
//
// alignment 是各分组 "1 - 平均绝对差" 的加权平均；
// similarity 是全属性向量的余弦相似度映射到 [0,1]。
// 两部分都对称，画像完全相同时得 1。
type HybridModel struct {
	GroupWeights    map[string]float64
	AlignmentWeight float64
}

// NewHybridModel 使用默认权重创建 HybridModel（对齐度 0.8，相似度 0.2）。
func NewHybridModel() *HybridModel {
	return &HybridModel{GroupWeights: DefaultGroupWeights, AlignmentWeight: 0.8}
}

func (m *HybridModel) Name() string { return "hybrid" }

func (m *HybridModel) Compute(ctx context.Context, a, b *core.UserProfile) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	w := m.AlignmentWeight
	score := w*m.alignment(a, b) + (1-w)*cosine01(a.Vector(), b.Vector())
	return core.Clamp01(score), nil
}

func (m *HybridModel) alignment(a, b *core.UserProfile) float64 {
	var sum, total float64
	for _, g := range core.AttributeGroups() {
		w := m.GroupWeights[g.Name]
		if w <= 0 || len(g.Attributes) == 0 {
			continue
		}
		var diff float64
		for _, name := range g.Attributes {
			diff += math.Abs(a.Get(name) - b.Get(name))
		}
		sum += w * (1 - diff/float64(len(g.Attributes)))
		total += w
	}
	if total == 0 {
		return core.NeutralScore
	}
	return sum / total
}

// cosine01 返回 (cos+1)/2。相同向量（包括两个零向量）为 1，只有一个为零时返回 0.5。
func cosine01(x, y []float64) float64 {
	if slices.Equal(x, y) {
		return 1
	}
	var dot, nx, ny float64
	for i := range x {
		dot += x[i] * y[i]
		nx += x[i] * x[i]
		ny += y[i] * y[i]
	}
	if nx == 0 || ny == 0 {
		return core.NeutralScore
	}
	cos := dot / (math.Sqrt(nx) * math.Sqrt(ny))
	if cos > 1 {
		cos = 1
	}
	return (cos + 1) / 2
}

var _ core.Scorer = (*HybridModel)(nil)
