package core

import (
	"math"
	"time"
)

// NeutralScore 是无法计算匹配度时的中性默认分（用户缺失、模型失败等）。
const NeutralScore = 0.5

// DefaultAttributeValue 是画像属性缺失时的默认值。
const DefaultAttributeValue = 0.5

// 画像属性分组，顺序即向量化顺序。
var (
	DietaryJourneyAttributes = []string{
		"motivation_score",
		"strictness_level",
		"journey_stage",
		"social_comfort",
	}
	ValuesAlignmentAttributes = []string{
		"animal_rights_score",
		"environmental_score",
		"health_motivation",
		"spiritual_connection",
		"activism_level",
	}
	LifestyleAttributes = []string{
		"cooking_skill_level",
		"sustainability_practices",
		"community_involvement",
	}
	BehavioralAttributes = []string{
		"swipe_selectivity",
		"message_quality_score",
		"response_time_pattern",
		"engagement_depth",
		"profile_completion",
		"activity_frequency",
	}
)

// AttributeGroup 是一组语义相关的画像属性。
type AttributeGroup struct {
	Name       string
	Attributes []string
}

// AttributeGroups 返回固定的画像 schema（按分组）。
func AttributeGroups() []AttributeGroup {
	return []AttributeGroup{
		{Name: "dietary_journey", Attributes: DietaryJourneyAttributes},
		{Name: "values_alignment", Attributes: ValuesAlignmentAttributes},
		{Name: "lifestyle", Attributes: LifestyleAttributes},
		{Name: "behavioral", Attributes: BehavioralAttributes},
	}
}

var profileSchema = func() []string {
	var names []string
	for _, g := range AttributeGroups() {
		names = append(names, g.Attributes...)
	}
	return names
}()

// ProfileSchema 返回全部属性名（固定顺序）。返回值是副本。
func ProfileSchema() []string {
	out := make([]string, len(profileSchema))
	copy(out, profileSchema)
	return out
}

// UserProfile 是一个用户的画像快照。
//
// 不变量（经 NormalizeProfile 之后）：
//   - schema 中的每个属性都存在，且取值在 [0,1]
//   - 缺失属性默认 0.5，评分函数永远不会收到残缺输入
//
// 服务核心不会修改画像：每个请求拿到的是只读快照。
type UserProfile struct {
	UserID     string             `json:"user_id"`
	Attributes map[string]float64 `json:"attributes"`
	UpdatedAt  time.Time          `json:"updated_at,omitempty"`
}

// NewUserProfile 创建一个所有属性为默认值的画像。
func NewUserProfile(userID string) *UserProfile {
	return NormalizeProfile(&UserProfile{UserID: userID})
}

// Get 读取属性值；未知属性返回默认值。
func (p *UserProfile) Get(name string) float64 {
	if p == nil || p.Attributes == nil {
		return DefaultAttributeValue
	}
	v, ok := p.Attributes[name]
	if !ok {
		return DefaultAttributeValue
	}
	return v
}

// Vector 按 schema 顺序返回属性向量。
func (p *UserProfile) Vector() []float64 {
	vec := make([]float64, len(profileSchema))
	for i, name := range profileSchema {
		vec[i] = p.Get(name)
	}
	return vec
}

// AttributeMap 返回属性的副本，供表达式求值等只读场景使用。
func (p *UserProfile) AttributeMap() map[string]float64 {
	out := make(map[string]float64, len(profileSchema))
	for _, name := range profileSchema {
		out[name] = p.Get(name)
	}
	return out
}

// NormalizeProfile 返回补全并裁剪后的画像副本：
// 缺失或 NaN 属性取 0.5，越界值裁剪到 [0,1]，schema 外的属性被丢弃。
func NormalizeProfile(p *UserProfile) *UserProfile {
	if p == nil {
		return nil
	}
	out := &UserProfile{
		UserID:     p.UserID,
		Attributes: make(map[string]float64, len(profileSchema)),
		UpdatedAt:  p.UpdatedAt,
	}
	for _, name := range profileSchema {
		v, ok := p.Attributes[name]
		if !ok || math.IsNaN(v) {
			v = DefaultAttributeValue
		}
		out.Attributes[name] = Clamp01(v)
	}
	return out
}

// Clamp01 把 v 裁剪到 [0,1]。NaN 视为中性分。
func Clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return NeutralScore
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
