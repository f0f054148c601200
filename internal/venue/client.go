package venue

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/futbot/gofut/pkg/ratelimit"
)

// Client 交易所 REST 基础客户端
// 各交易所的具体接口封装建立在它之上；失败统一转成 *CallError
type Client struct {
	venue   string
	client  *resty.Client
	signer  Signer
	limiter ratelimit.RateLimiter
}

// Signer 请求签名器（各交易所的 HMAC 规则不同）
type Signer interface {
	// Sign 对请求做签名，返回附加的 header 与改写后的 query
	Sign(method, path string, query url.Values, body []byte, ts time.Time) (headers map[string]string, signedQuery url.Values)
}

// HMACSigner binance 风格的 HMAC-SHA256 签名器：
// 把 timestamp/recvWindow 并入 query，对 query string 做 HMAC，追加 signature 参数
type HMACSigner struct {
	APIKey     string
	APISecret  string
	RecvWindow int64 // 毫秒，0 使用 5000
}

func (s *HMACSigner) Sign(method, path string, query url.Values, body []byte, ts time.Time) (map[string]string, url.Values) {
	if query == nil {
		query = url.Values{}
	}
	recv := s.RecvWindow
	if recv <= 0 {
		recv = 5000
	}
	query.Set("timestamp", fmt.Sprintf("%d", ts.UnixMilli()))
	query.Set("recvWindow", fmt.Sprintf("%d", recv))

	// 按 key 排序保证签名串稳定
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(query.Get(k))
	}
	mac := hmac.New(sha256.New, []byte(s.APISecret))
	mac.Write([]byte(sb.String()))
	query.Set("signature", hex.EncodeToString(mac.Sum(nil)))

	return map[string]string{"X-MBX-APIKEY": s.APIKey}, query
}

// ClientOptions 客户端选项
type ClientOptions struct {
	BaseURL string
	Signer  Signer                // 为空则不签名（公共接口）
	Limiter ratelimit.RateLimiter // 为空则不限速
	Timeout time.Duration
}

// NewClient 创建交易所基础客户端
func NewClient(venueName string, opts ClientOptions) *Client {
	host := strings.TrimSuffix(opts.BaseURL, "/")
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	// resty 会自动从环境变量读取代理配置（HTTP_PROXY, HTTPS_PROXY）
	// 注意：不在 resty 层做重试——限流/封禁的重试语义由作业执行契约统一处理
	rc := resty.New().
		SetBaseURL(host).
		SetTimeout(timeout)

	return &Client{
		venue:   venueName,
		client:  rc,
		signer:  opts.Signer,
		limiter: opts.Limiter,
	}
}

// RequestOptions 单次请求选项
type RequestOptions struct {
	Params map[string]string // query 参数
	Body   []byte            // 请求体（JSON）
	Signed bool              // 是否需要签名
}

// Do 发起请求并解码响应；失败时返回 *CallError
func (c *Client) Do(ctx context.Context, method, endpoint string, opt *RequestOptions, out any) error {
	// 出站前过限速器（封禁账本的检查在作业执行契约层做）
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &CallError{Venue: c.venue, Err: err}
		}
	}

	query := url.Values{}
	var body []byte
	if opt != nil {
		for k, v := range opt.Params {
			query.Set(k, v)
		}
		body = opt.Body
	}

	headers := map[string]string{
		"Accept":     "application/json",
		"Connection": "keep-alive",
	}
	if opt != nil && opt.Signed && c.signer != nil {
		h, signed := c.signer.Sign(method, endpoint, query, body, time.Now())
		for k, v := range h {
			headers[k] = v
		}
		query = signed
	}

	r := c.client.R().SetContext(ctx).SetHeaders(headers)
	if len(query) > 0 {
		r.SetQueryParamsFromValues(query)
	}
	if len(body) > 0 {
		r.SetHeader("Content-Type", "application/json")
		r.SetBody(body)
	}
	if out != nil {
		r.SetResult(out)
	}

	var (
		resp *resty.Response
		err  error
	)
	switch strings.ToUpper(method) {
	case http.MethodGet:
		resp, err = r.Get(endpoint)
	case http.MethodPost:
		resp, err = r.Post(endpoint)
	case http.MethodDelete:
		resp, err = r.Delete(endpoint)
	case http.MethodPut:
		resp, err = r.Put(endpoint)
	default:
		return &CallError{Venue: c.venue, Err: fmt.Errorf("unsupported method: %s", method)}
	}

	return c.parseFailure(resp, err)
}

// parseFailure 把 resty 的结果统一成 *CallError（成功时返回 nil）
func (c *Client) parseFailure(resp *resty.Response, err error) error {
	if err != nil {
		return &CallError{Venue: c.venue, Err: err}
	}
	if resp.IsSuccess() {
		return nil
	}
	code, msg := DecodeVendorBody(resp.Body())
	return &CallError{
		Venue:   c.venue,
		Status:  resp.StatusCode(),
		Code:    code,
		Message: msg,
		Headers: resp.Header(),
	}
}
