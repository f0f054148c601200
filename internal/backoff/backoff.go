package backoff

import (
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/futbot/gofut/internal/venue"
)

const (
	// DefaultBaseDelay 无服务端提示时的兜底延迟
	DefaultBaseDelay = 30 * time.Second
	// maxHintDelay 服务端提示的上限（防止异常头导致的超长休眠）
	maxHintDelay = 24 * time.Hour
	// jitterSpan 抖动区间：1s ~ 4s，错开多个 worker 的重试时点
	jitterSpan = 3
)

// Options 退避选项
type Options struct {
	BaseDelay time.Duration // 为 0 时使用 DefaultBaseDelay
	Rand      *rand.Rand    // 为 nil 时使用全局随机源（测试注入用）
}

// NextAttempt 计算被限流的操作下一次可执行的时刻
//
// 优先使用服务端的 Retry-After 提示（数字秒或 HTTP 日期），过期或非法时
// 退回固定基础延迟；总是叠加几秒随机抖动，且返回值一定在 now 之后。
// 返回时间戳而不是时长：调用方持久化 dispatch_after，不能假设「现在」
func NextAttempt(now time.Time, e *venue.CallError, opts Options) time.Time {
	base := opts.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}

	if d, ok := retryHint(now, e); ok {
		return now.Add(d + jitter(opts.Rand))
	}
	return now.Add(base + jitter(opts.Rand))
}

// NextWindow 固定限频窗口的交易所用窗口边界做退避：
// 下一个窗口开始后加抖动即可重试，不依赖服务端提示
func NextWindow(now time.Time, window time.Duration, opts Options) time.Time {
	if window <= 0 {
		return NextAttempt(now, nil, opts)
	}
	boundary := now.Truncate(window).Add(window)
	return boundary.Add(jitter(opts.Rand))
}

// RetryAfterHint 解析服务端的 Retry-After 提示，返回建议的解封时刻
// 没有可用提示（缺失/非法/过期/越界）时 ok 为 false
func RetryAfterHint(now time.Time, e *venue.CallError) (time.Time, bool) {
	d, ok := retryHint(now, e)
	if !ok {
		return time.Time{}, false
	}
	return now.Add(d), true
}

// retryHint 解析 Retry-After 头；无效/过期/越界时返回 false
func retryHint(now time.Time, e *venue.CallError) (time.Duration, bool) {
	if e == nil {
		return 0, false
	}
	raw := strings.TrimSpace(e.Header("Retry-After"))
	if raw == "" {
		return 0, false
	}

	// 数字秒
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs <= 0 {
			return 0, false
		}
		d := time.Duration(secs) * time.Second
		if d > maxHintDelay {
			return 0, false
		}
		return d, true
	}

	// HTTP 日期
	if t, err := http.ParseTime(raw); err == nil {
		d := t.Sub(now)
		if d <= 0 || d > maxHintDelay {
			return 0, false
		}
		return d, true
	}

	return 0, false
}

func jitter(r *rand.Rand) time.Duration {
	var n int
	if r != nil {
		n = r.Intn(jitterSpan)
	} else {
		n = rand.Intn(jitterSpan)
	}
	return time.Duration(n+1) * time.Second
}
