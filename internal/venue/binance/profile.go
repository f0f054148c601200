package binance

import (
	"net/http"
	"strings"

	"github.com/futbot/gofut/internal/venue"
)

// binance 合约 REST 错误码语义
// 错误码参考 fapi 文档；同一个 HTTP 状态码承载多种语义，必须看 code：
//
//	-1021  recvWindow 之外的时间戳（时钟偏移）
//	-1003  TOO_MANY_REQUESTS（429 一般限流；418 表示本机 IP 已被临时自动封禁）
//	-1121  Invalid symbol（按成功处理，调用方拿空结果）
//	-2014  API-key format invalid（账户级）
//	-2015  Invalid API-key, IP, or permissions for action（账户级，典型为 IP 未加白名单）
//
// HTTP 403 且无 code 的响应来自 WAF，视为本机 IP 被封禁
type Profile struct{}

func init() {
	venue.RegisterProfile(&Profile{})
}

const Name = "binance"

func (p *Profile) Name() string { return Name }

func codeIs(e *venue.CallError, want int) bool {
	n, ok := e.CodeInt()
	return ok && n == want
}

func (p *Profile) Ignorable(e *venue.CallError) bool {
	// -4046 = No need to change margin type：目标状态已达成
	return codeIs(e, -1121) || codeIs(e, -4046)
}

func (p *Profile) RecvWindowMismatch(e *venue.CallError) bool {
	return codeIs(e, -1021)
}

func (p *Profile) IPNotWhitelisted(e *venue.CallError) bool {
	// -2015 的文案是「Invalid API-key, IP, or permissions」，binance 不区分
	// 具体原因；实际运维中绝大多数由 IP 白名单引起，按账户级限制处理
	return codeIs(e, -2015)
}

func (p *Profile) IPRateLimited(e *venue.CallError) bool {
	// 429 连续触发之后 binance 返回 418，表示本机 IP 进入临时封禁，
	// Retry-After 给出解除时间
	return e.Status == http.StatusTeapot
}

func (p *Profile) RateLimited(e *venue.CallError) bool {
	return e.Status == http.StatusTooManyRequests || codeIs(e, -1003)
}

func (p *Profile) IPBanned(e *venue.CallError) bool {
	// WAF 403：无 vendor code，响应体为 HTML 或空
	return e.Status == http.StatusForbidden && e.Code == "" &&
		!strings.Contains(strings.ToLower(e.Message), "api-key")
}

func (p *Profile) AccountBlocked(e *venue.CallError) bool {
	return codeIs(e, -2014) || codeIs(e, -2008) || codeIs(e, -1002)
}

func (p *Profile) Retryable(e *venue.CallError) bool {
	if e.IsTransport() {
		return true
	}
	return e.Status >= 500
}
