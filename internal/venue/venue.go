package venue

import (
	"fmt"
	"sync"
	"time"
)

// Profile 描述一个交易所的错误码语义
// 各交易所只提供判定谓词，判定的先后次序由分类器统一控制：
// 同一个 HTTP 状态码（典型如 403）可能承载多种语义，必须结合错误码判定
type Profile interface {
	Name() string

	// Ignorable 明确可忽略的失败（例如非法 symbol 的 400），按成功处理
	Ignorable(e *CallError) bool
	// RecvWindowMismatch 本地时钟偏移/签名时间窗口失败
	RecvWindowMismatch(e *CallError) bool
	// IPNotWhitelisted 账户未将本机 IP 加入白名单（需用户处理，账户级）
	IPNotWhitelisted(e *CallError) bool
	// IPRateLimited 本机 IP 被临时限流（自恢复，服务器级）
	IPRateLimited(e *CallError) bool
	// RateLimited 一般限流（与 IP 状态无关）
	RateLimited(e *CallError) bool
	// IPBanned 本机 IP 被永久封禁（服务器级，需人工处理）
	IPBanned(e *CallError) bool
	// AccountBlocked 账户凭证/权限失败（账户级）
	AccountBlocked(e *CallError) bool
	// Retryable 交易所侧瞬时故障（5xx 等），消耗重试预算
	Retryable(e *CallError) bool
}

// WindowBackoffProvider 可选接口：限频按固定时间窗口计算的交易所
// （如 okx 按 2s 窗口计数）实现它以覆盖默认的 Retry-After 退避
type WindowBackoffProvider interface {
	RateLimitWindow() time.Duration
}

var (
	profilesMu sync.RWMutex
	profiles   = make(map[string]Profile)
)

// RegisterProfile 注册交易所 Profile
// 各交易所包应该在 init() 中调用（bbgo 风格）
func RegisterProfile(p Profile) {
	profilesMu.Lock()
	defer profilesMu.Unlock()

	if _, exists := profiles[p.Name()]; exists {
		panic(fmt.Errorf("venue profile %s already registered", p.Name()))
	}
	profiles[p.Name()] = p
}

// GetProfile 获取已注册的交易所 Profile
func GetProfile(name string) (Profile, error) {
	profilesMu.RLock()
	defer profilesMu.RUnlock()

	p, exists := profiles[name]
	if !exists {
		return nil, fmt.Errorf("venue profile %s not found", name)
	}
	return p, nil
}

// RegisteredProfiles 返回所有已注册的交易所名
func RegisteredProfiles() []string {
	profilesMu.RLock()
	defer profilesMu.RUnlock()

	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	return names
}
