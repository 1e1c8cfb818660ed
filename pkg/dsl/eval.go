// Package dsl 提供候选过滤表达式，使用 CEL (Common Expression Language) 实现。
package dsl

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/Dexhub/planted-dating-app/core"
)

var (
	// celEnv 是全局的 CEL 环境，线程安全，可复用
	celEnv     *cel.Env
	celEnvErr  error
	celEnvOnce sync.Once
)

// getCELEnv 获取或创建 CEL 环境，定义 user / candidate 两个变量
func getCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("user", cel.DynType),
			cel.Variable("candidate", cel.DynType),
		)
	})
	return celEnv, celEnvErr
}

// Filter 是编译后的候选过滤表达式，可并发求值。
//
// 表达式中 user 与 candidate 是画像属性 map，另有 id 字段：
//   - candidate.strictness_level >= 0.5
//   - candidate.activism_level > user.activism_level - 0.2
//   - candidate.id != "blocked_user"
type Filter struct {
	expr string
	prg  cel.Program
}

// Compile 编译表达式，表达式为空时返回 nil（不过滤）。
func Compile(expr string) (*Filter, error) {
	if expr == "" {
		return nil, nil
	}
	env, err := getCELEnv()
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program error: %w", err)
	}
	return &Filter{expr: expr, prg: prg}, nil
}

// String 返回原始表达式。
func (f *Filter) String() string { return f.expr }

// Match 对一对画像求值；nil Filter 总是返回 true。
func (f *Filter) Match(user, candidate *core.UserProfile) (bool, error) {
	if f == nil {
		return true, nil
	}
	out, _, err := f.prg.Eval(map[string]any{
		"user":      buildInput(user),
		"candidate": buildInput(candidate),
	})
	if err != nil {
		return false, fmt.Errorf("eval error: %w", err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression must return boolean, got %T", out.Value())
	}
	return result, nil
}

// buildInput 构建 CEL 输入：全部 schema 属性加 id。
func buildInput(p *core.UserProfile) map[string]any {
	attrs := p.AttributeMap()
	in := make(map[string]any, len(attrs)+1)
	for k, v := range attrs {
		in[k] = v
	}
	in["id"] = p.UserID
	return in
}
