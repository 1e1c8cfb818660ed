// Package model 提供匹配度评分函数（core.Scorer）的实现：
// 本地的 hybrid / lr 模型，以及调用外部模型服务的 rpc 模型。
//
// 所有实现对 (a, b) 对称，返回值在 [0,1]，可并发调用。
package model

import (
	"github.com/Dexhub/planted-dating-app/core"
)

// 成对特征名前缀
const (
	FeatureAbsDiff = "absdiff_"
	FeatureProduct = "prod_"
)

// PairFeatures 构造对称的成对特征：每个属性的 |a-b| 与 a*b。
// 交换 a、b 不改变结果。
func PairFeatures(a, b *core.UserProfile) map[string]float64 {
	schema := core.ProfileSchema()
	out := make(map[string]float64, 2*len(schema))
	for _, name := range schema {
		x, y := a.Get(name), b.Get(name)
		d := x - y
		if d < 0 {
			d = -d
		}
		out[FeatureAbsDiff+name] = d
		out[FeatureProduct+name] = x * y
	}
	return out
}
