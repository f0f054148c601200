package venue

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// CallError 是所有交易所 REST 调用失败的统一形态
// 异常分类器与退避计算器只认这个结构，不接触各交易所原始响应
type CallError struct {
	Venue   string      // 交易所标识
	Status  int         // HTTP 状态码（传输层错误时为 0）
	Code    string      // 交易所错误码（binance 为负整数，okx/bybit 为字符串数字）
	Message string      // 交易所错误信息
	Headers http.Header // 响应头（Retry-After 等）
	Err     error       // 传输层错误（无响应时）
}

func (e *CallError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: transport: %v", e.Venue, e.Err)
	}
	return fmt.Sprintf("%s: http %d code=%s msg=%s", e.Venue, e.Status, e.Code, e.Message)
}

// CodeInt 将错误码解析为整数（binance 风格的负数错误码）
func (e *CallError) CodeInt() (int, bool) {
	if e == nil || e.Code == "" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(e.Code))
	if err != nil {
		return 0, false
	}
	return n, true
}

// Header 读取响应头（不存在时返回空串）
func (e *CallError) Header(key string) string {
	if e == nil || e.Headers == nil {
		return ""
	}
	return e.Headers.Get(key)
}

// IsTransport 是否为传输层错误（超时、连接失败等，无 HTTP 响应）
func (e *CallError) IsTransport() bool {
	return e != nil && e.Err != nil && e.Status == 0
}

// vendorBody 覆盖主流合约交易所的错误响应形态：
// binance: {"code":-1021,"msg":"..."}
// okx:     {"code":"50011","msg":"..."}
// bybit:   {"retCode":10006,"retMsg":"..."}
type vendorBody struct {
	Code    json.Number `json:"code"`
	Msg     string      `json:"msg"`
	RetCode json.Number `json:"retCode"`
	RetMsg  string      `json:"retMsg"`
}

// DecodeVendorBody 从响应体提取错误码与错误信息
// 解析失败时返回空串（分类器会落入 unclassified）
func DecodeVendorBody(body []byte) (code, message string) {
	if len(body) == 0 {
		return "", ""
	}
	var vb vendorBody
	if err := json.Unmarshal(body, &vb); err != nil {
		return "", ""
	}
	if s := vb.Code.String(); s != "" && s != "0" {
		return s, vb.Msg
	}
	if s := vb.RetCode.String(); s != "" && s != "0" {
		return s, vb.RetMsg
	}
	return "", firstNonEmpty(vb.Msg, vb.RetMsg)
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}
