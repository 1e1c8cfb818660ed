package model

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Dexhub/planted-dating-app/core"
)

// LRModel 实现了逻辑回归 (Logistic Regression) 匹配度模型。
//
// 预测原理：
// 1. 构造对称成对特征（PairFeatures）：absdiff_{attr} 与 prod_{attr}
// 2. 线性加权求和: z = Bias + sum(Weight_i * Feature_i)
// 3. Sigmoid 变换: P = 1 / (1 + exp(-z))
type LRModel struct {
	Bias    float64            `yaml:"bias" json:"bias"`
	Weights map[string]float64 `yaml:"weights" json:"weights"`
}

// LoadLRModel 从 YAML 或 JSON 文件加载权重（按扩展名区分，.json 以外按 YAML 解析）。
func LoadLRModel(path string) (*LRModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	var m LRModel
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if len(m.Weights) == 0 {
		return nil, fmt.Errorf("lr model %s: no weights", path)
	}
	return &m, nil
}

func (m *LRModel) Name() string { return "lr" }

// Predict 对一组特征打分，未知特征忽略。
func (m *LRModel) Predict(features map[string]float64) float64 {
	z := m.Bias
	for k, v := range features {
		if w, ok := m.Weights[k]; ok {
			z += w * v
		}
	}
	return 1 / (1 + math.Exp(-z))
}

func (m *LRModel) Compute(ctx context.Context, a, b *core.UserProfile) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return m.Predict(PairFeatures(a, b)), nil
}

var _ core.Scorer = (*LRModel)(nil)
