package core

import "errors"

// DomainError 是领域层的统一错误类型。
//
// 设计原则：
//   - 所有领域层错误都使用此类型，Module + Code 决定错误语义
//   - 支持 errors.Is：Module 与 Code 相同即视为同一类错误
//   - 支持 errors.Unwrap：Err 保存底层原因（网络、驱动等）
//
// 使用场景：
//   - Cache 错误：NOT_FOUND（未命中）
//   - Profile 错误：NOT_FOUND（用户不存在）、UNAVAILABLE（存储不可用）
//   - Engine 错误：NOT_INITIALIZED
type DomainError struct {
	Code    string // 错误代码（如 "NOT_FOUND", "UNAVAILABLE"）
	Message string // 错误消息
	Module  string // 模块名称（如 "cache", "profile", "engine"）
	Err     error  // 底层错误（可选）
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *DomainError) Unwrap() error { return e.Err }

// Is 按 Module + Code 比较，便于 errors.Is(err, ErrProfileNotFound) 匹配包装后的错误。
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Module == t.Module && e.Code == t.Code
}

// Wrap 返回携带底层原因的同类错误副本。
func (e *DomainError) Wrap(err error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Module:  e.Module,
		Err:     err,
	}
}

// NewDomainError 创建新的领域错误
func NewDomainError(module, code, message string) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: message,
	}
}

// GetDomainError 获取错误链上的 DomainError，如果不存在则返回 nil
func GetDomainError(err error) *DomainError {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return nil
}

// 错误代码常量
const (
	ErrorCodeNotFound       = "NOT_FOUND"       // 资源不存在
	ErrorCodeUnavailable    = "UNAVAILABLE"     // 服务不可用
	ErrorCodeInvalidInput   = "INVALID_INPUT"   // 输入无效
	ErrorCodeNotInitialized = "NOT_INITIALIZED" // 未初始化
)

// 模块名称常量
const (
	ModuleCache   = "cache"
	ModuleProfile = "profile"
	ModuleEngine  = "engine"
	ModuleRank    = "rank"
)

var (
	// ErrCacheMiss 表示 key 不存在或已过期，是正常路径而不是异常
	ErrCacheMiss = NewDomainError(ModuleCache, ErrorCodeNotFound, "cache: key not found")

	// ErrProfileNotFound 表示用户画像无法解析（不存在，或存储暂时不可用）
	ErrProfileNotFound = NewDomainError(ModuleProfile, ErrorCodeNotFound, "profile: not found")

	// ErrStoreUnavailable 表示 Profile Store 暂时不可用（熔断、连接池耗尽等）
	ErrStoreUnavailable = NewDomainError(ModuleProfile, ErrorCodeUnavailable, "profile: store unavailable")

	// ErrEngineNotInitialized 表示引擎未初始化或已关闭，是唯一对调用方可见的硬错误
	ErrEngineNotInitialized = NewDomainError(ModuleEngine, ErrorCodeNotInitialized, "engine: not initialized")

	// ErrInvalidInput 表示请求参数无效（例如过滤表达式无法编译）
	ErrInvalidInput = NewDomainError(ModuleRank, ErrorCodeInvalidInput, "rank: invalid input")
)

// IsNotFound 检查错误是否为 NOT_FOUND（任意模块）
func IsNotFound(err error) bool {
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code == ErrorCodeNotFound
	}
	return false
}

// IsUnavailable 检查错误是否为 UNAVAILABLE
func IsUnavailable(err error) bool {
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code == ErrorCodeUnavailable
	}
	return false
}
