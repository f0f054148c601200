package notify

import (
	"context"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// 运维通知出口。去重靠 dedupKey：同一键在窗口期内只发一次，
// 避免同一封禁/同一失败块反复刷屏

const dedupWindow = 6 * time.Hour

// LogNotifier 只写日志的通知器，未配置 webhook 时的缺省实现
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, audience, message, dedupKey string) {
	logrus.WithFields(logrus.Fields{
		"audience":  audience,
		"dedup_key": dedupKey,
	}).Warnf("运维通知: %s", message)
}

// WebhookNotifier 经 HTTP webhook 投递通知（飞书/钉钉/Slack 均为同类形状）
type WebhookNotifier struct {
	client *resty.Client
	url    string

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewWebhookNotifier 创建 webhook 通知器
func NewWebhookNotifier(url string) *WebhookNotifier {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)

	return &WebhookNotifier{
		client: client,
		url:    url,
		seen:   make(map[string]time.Time),
	}
}

type webhookPayload struct {
	Audience string `json:"audience"`
	Message  string `json:"message"`
	DedupKey string `json:"dedup_key,omitempty"`
	SentAt   string `json:"sent_at"`
}

// Notify 投递一条通知
// dedupKey 非空时做窗口期去重；投递失败只记日志不向上传播，
// 通知永远不能把业务步骤拖垮
func (n *WebhookNotifier) Notify(ctx context.Context, audience, message, dedupKey string) {
	if dedupKey != "" && n.suppressed(dedupKey) {
		return
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(webhookPayload{
			Audience: audience,
			Message:  message,
			DedupKey: dedupKey,
			SentAt:   time.Now().Format(time.RFC3339),
		}).
		Post(n.url)
	if err != nil {
		logrus.Errorf("通知投递失败: %v", err)
		return
	}
	if resp.IsError() {
		logrus.Errorf("通知投递被拒: status=%d body=%s", resp.StatusCode(), resp.String())
	}
}

func (n *WebhookNotifier) suppressed(key string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := time.Now()
	if last, ok := n.seen[key]; ok && now.Sub(last) < dedupWindow {
		return true
	}
	// 顺手清掉过期键，map 不会无界增长
	for k, at := range n.seen {
		if now.Sub(at) >= dedupWindow {
			delete(n.seen, k)
		}
	}
	n.seen[key] = now
	return false
}
