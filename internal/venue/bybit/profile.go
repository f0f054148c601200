package bybit

import (
	"net/http"

	"github.com/futbot/gofut/internal/venue"
)

// bybit v5 REST 错误码语义（retCode）：
//
//	10002  请求时间戳超出 recv_window
//	10003  API key 无效
//	10004  签名错误
//	10006  too many visits（一般限流）
//	10010  请求 IP 与 API key 绑定的白名单不符
//	10016  服务内部错误（瞬时，可重试）
//	10018  超出 IP 级限频
//	33004  API key 已过期
//
// bybit 被 CDN 层封禁时返回 HTTP 403 且无 retCode
type Profile struct{}

func init() {
	venue.RegisterProfile(&Profile{})
}

const Name = "bybit"

func (p *Profile) Name() string { return Name }

func codeIs(e *venue.CallError, want int) bool {
	n, ok := e.CodeInt()
	return ok && n == want
}

func (p *Profile) Ignorable(e *venue.CallError) bool {
	// 110043 = 杠杆未变化：目标状态已达成
	if codeIs(e, 110043) {
		return true
	}
	// 10001 参数错误中仅 symbol 不存在的场景按成功处理
	return codeIs(e, 10001) && e.Status == http.StatusBadRequest
}

func (p *Profile) RecvWindowMismatch(e *venue.CallError) bool {
	return codeIs(e, 10002)
}

func (p *Profile) IPNotWhitelisted(e *venue.CallError) bool {
	return codeIs(e, 10010)
}

func (p *Profile) IPRateLimited(e *venue.CallError) bool {
	return codeIs(e, 10018)
}

func (p *Profile) RateLimited(e *venue.CallError) bool {
	return codeIs(e, 10006) || e.Status == http.StatusTooManyRequests
}

func (p *Profile) IPBanned(e *venue.CallError) bool {
	return e.Status == http.StatusForbidden && e.Code == ""
}

func (p *Profile) AccountBlocked(e *venue.CallError) bool {
	return codeIs(e, 10003) || codeIs(e, 10004) || codeIs(e, 33004)
}

func (p *Profile) Retryable(e *venue.CallError) bool {
	if e.IsTransport() {
		return true
	}
	return e.Status >= 500 || codeIs(e, 10016)
}
