package okx

import (
	"net/http"
	"time"

	"github.com/futbot/gofut/internal/venue"
)

// okx v5 REST 错误码语义：
//
//	50011  Rate limit reached
//	50013  系统繁忙（瞬时）
//	50102  请求时间戳过期
//	50110  本机 IP 不在 API key 的白名单内
//	50113  签名无效
//	50100  API 已被冻结（账户级）
//	51001  instrument 不存在（按成功处理）
//
// okx 的限频按固定窗口（2s）计数，不下发 Retry-After，
// 因此实现 WindowBackoffProvider 用窗口边界做退避
type Profile struct{}

func init() {
	venue.RegisterProfile(&Profile{})
}

const Name = "okx"

func (p *Profile) Name() string { return Name }

func codeIs(e *venue.CallError, want string) bool {
	return e.Code == want
}

func (p *Profile) Ignorable(e *venue.CallError) bool {
	return codeIs(e, "51001")
}

func (p *Profile) RecvWindowMismatch(e *venue.CallError) bool {
	return codeIs(e, "50102")
}

func (p *Profile) IPNotWhitelisted(e *venue.CallError) bool {
	return codeIs(e, "50110")
}

func (p *Profile) IPRateLimited(e *venue.CallError) bool {
	// okx 对单 IP 的公共接口限频：429 且无业务错误码
	return e.Status == http.StatusTooManyRequests && e.Code == ""
}

func (p *Profile) RateLimited(e *venue.CallError) bool {
	return codeIs(e, "50011")
}

func (p *Profile) IPBanned(e *venue.CallError) bool {
	return e.Status == http.StatusForbidden && e.Code == ""
}

func (p *Profile) AccountBlocked(e *venue.CallError) bool {
	return codeIs(e, "50100") || codeIs(e, "50113") || codeIs(e, "50111")
}

func (p *Profile) Retryable(e *venue.CallError) bool {
	if e.IsTransport() {
		return true
	}
	return e.Status >= 500 || codeIs(e, "50013")
}

// RateLimitWindow okx 固定限频窗口
func (p *Profile) RateLimitWindow() time.Duration {
	return 2 * time.Second
}
