package classify

import (
	"github.com/futbot/gofut/internal/venue"
)

// Classification 单次失败的唯一归因
type Classification string

const (
	// Ignorable 明确可忽略：按成功处理，结果为空
	Ignorable Classification = "ignorable"
	// RecvWindowMismatch 时钟偏移/签名时间窗口失败：限流语义，无限重试
	RecvWindowMismatch Classification = "recv-window-mismatch"
	// IPNotWhitelisted 账户未把本机 IP 加入白名单：账户级限制，需用户处理
	IPNotWhitelisted Classification = "ip-not-whitelisted"
	// IPRateLimited 本机 IP 被临时限流：服务器级，自恢复
	IPRateLimited Classification = "ip-rate-limited"
	// RateLimited 一般限流
	RateLimited Classification = "rate-limited"
	// IPBanned 本机 IP 被永久封禁：服务器级，需人工处理
	IPBanned Classification = "ip-banned"
	// AccountBlocked 账户凭证/权限失败：账户级
	AccountBlocked Classification = "account-blocked"
	// Retryable 交易所瞬时故障：消耗重试预算
	Retryable Classification = "retryable"
	// Unclassified 无法归因：按致命错误向上传播
	Unclassified Classification = "unclassified"
)

// Classify 把一次失败的出站调用归为唯一分类
//
// 判定次序固定，各交易所只能提供谓词、不能改次序：
// 多种原因可能共享同一 HTTP 状态码（典型如 403），只有错误码能区分，
// 而且「可忽略」必须先于一切限流/封禁判定，否则空结果会被当成故障重试
func Classify(p venue.Profile, e *venue.CallError) Classification {
	if e == nil {
		return Unclassified
	}
	switch {
	case p.Ignorable(e):
		return Ignorable
	case p.RecvWindowMismatch(e):
		return RecvWindowMismatch
	case p.IPNotWhitelisted(e):
		return IPNotWhitelisted
	case p.IPRateLimited(e):
		return IPRateLimited
	case p.RateLimited(e):
		return RateLimited
	case p.IPBanned(e):
		return IPBanned
	case p.AccountBlocked(e):
		return AccountBlocked
	case p.Retryable(e):
		return Retryable
	default:
		return Unclassified
	}
}

// IsThrottling 限流语义：无限重试，不消耗重试预算
func (c Classification) IsThrottling() bool {
	switch c {
	case RecvWindowMismatch, IPRateLimited, RateLimited:
		return true
	}
	return false
}

// IsRestriction 限制语义：写入封禁账本并等待外部解除
func (c Classification) IsRestriction() bool {
	switch c {
	case IPNotWhitelisted, IPBanned, AccountBlocked:
		return true
	}
	return false
}

// AccountScoped 该限制是否只影响单个账户（否则影响整台服务器的出口 IP）
func (c Classification) AccountScoped() bool {
	switch c {
	case IPNotWhitelisted, AccountBlocked:
		return true
	}
	return false
}
