package bybit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/futbot/gofut/internal/domain"
	"github.com/futbot/gofut/internal/ports"
	"github.com/futbot/gofut/internal/venue"
	"github.com/futbot/gofut/pkg/ratelimit"
)

// bybit v5 合约薄封装
// 与 binance 的区别：签名放在 header 里；HTTP 层几乎总是 200，
// 业务失败在响应体的 retCode 里，需要就地转成 *CallError

const DefaultBaseURL = "https://api.bybit.com"

const category = "linear" // USDT 永续

// Signer v5 签名：HMAC-SHA256(timestamp + apiKey + recvWindow + payload)
type Signer struct {
	APIKey     string
	APISecret  string
	RecvWindow int64
}

func (s *Signer) Sign(method, path string, query url.Values, body []byte, ts time.Time) (map[string]string, url.Values) {
	recv := s.RecvWindow
	if recv <= 0 {
		recv = 5000
	}
	timestamp := strconv.FormatInt(ts.UnixMilli(), 10)
	recvStr := strconv.FormatInt(recv, 10)

	payload := query.Encode()
	if method == http.MethodPost {
		payload = string(body)
	}
	mac := hmac.New(sha256.New, []byte(s.APISecret))
	mac.Write([]byte(timestamp + s.APIKey + recvStr + payload))

	return map[string]string{
		"X-BAPI-API-KEY":     s.APIKey,
		"X-BAPI-TIMESTAMP":   timestamp,
		"X-BAPI-RECV-WINDOW": recvStr,
		"X-BAPI-SIGN":        hex.EncodeToString(mac.Sum(nil)),
	}, query
}

type Client struct {
	c *venue.Client
}

// ClientConfig 客户端配置
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	RecvWindow int64
	Limiter    ratelimit.RateLimiter
}

// NewClient 创建 bybit 合约客户端
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		c: venue.NewClient(Name, venue.ClientOptions{
			BaseURL: baseURL,
			Signer: &Signer{
				APIKey:     cfg.APIKey,
				APISecret:  cfg.APISecret,
				RecvWindow: cfg.RecvWindow,
			},
			Limiter: cfg.Limiter,
		}),
	}
}

var _ ports.TradingOps = (*Client)(nil)

type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// do 发请求并剥掉 v5 信封；retCode 非零转成 *CallError
func (c *Client) do(ctx context.Context, method, endpoint string, opt *venue.RequestOptions, out any) error {
	var env envelope
	if err := c.c.Do(ctx, method, endpoint, opt, &env); err != nil {
		return err
	}
	if env.RetCode != 0 {
		return &venue.CallError{
			Venue:   Name,
			Status:  http.StatusOK,
			Code:    strconv.Itoa(env.RetCode),
			Message: env.RetMsg,
		}
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return &venue.CallError{Venue: Name, Err: err}
		}
	}
	return nil
}

func jsonBody(v any) []byte {
	raw, _ := json.Marshal(v)
	return raw
}

func (c *Client) PlaceOrder(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	side := "Buy"
	if order.Side == domain.OrderSideSell {
		side = "Sell"
	}
	body := map[string]any{
		"category":    category,
		"symbol":      order.Symbol,
		"side":        side,
		"orderType":   "Limit",
		"timeInForce": "GTC",
		"qty":         order.Qty.String(),
		"price":       order.Price.String(),
		"orderLinkId": order.ClientID,
	}
	if order.ReduceOnly {
		body["reduceOnly"] = true
	}
	var result struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	err := c.do(ctx, http.MethodPost, "/v5/order/create",
		&venue.RequestOptions{Body: jsonBody(body), Signed: true}, &result)
	if err != nil {
		return nil, err
	}
	placed := *order
	placed.OrderID = result.OrderID
	placed.Status = domain.OrderStatusNew
	return &placed, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return c.do(ctx, http.MethodPost, "/v5/order/cancel", &venue.RequestOptions{
		Body:   jsonBody(map[string]any{"category": category, "symbol": symbol, "orderId": orderID}),
		Signed: true,
	}, nil)
}

func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	return c.do(ctx, http.MethodPost, "/v5/order/cancel-all", &venue.RequestOptions{
		Body:   jsonBody(map[string]any{"category": category, "symbol": symbol}),
		Signed: true,
	}, nil)
}

func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]*domain.Order, error) {
	var result struct {
		List []struct {
			OrderID     string `json:"orderId"`
			OrderLinkID string `json:"orderLinkId"`
			Symbol      string `json:"symbol"`
			Side        string `json:"side"`
			Price       string `json:"price"`
			Qty         string `json:"qty"`
			CumExecQty  string `json:"cumExecQty"`
			AvgPrice    string `json:"avgPrice"`
			OrderStatus string `json:"orderStatus"`
		} `json:"list"`
	}
	err := c.do(ctx, http.MethodGet, "/v5/order/realtime", &venue.RequestOptions{
		Params: map[string]string{"category": category, "symbol": symbol},
		Signed: true,
	}, &result)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Order, 0, len(result.List))
	for _, it := range result.List {
		o := &domain.Order{
			OrderID:  it.OrderID,
			ClientID: it.OrderLinkID,
			Symbol:   it.Symbol,
			Side:     domain.OrderSideBuy,
		}
		if it.Side == "Sell" {
			o.Side = domain.OrderSideSell
		}
		o.Price, _ = decimal.NewFromString(it.Price)
		o.Qty, _ = decimal.NewFromString(it.Qty)
		o.FilledQty, _ = decimal.NewFromString(it.CumExecQty)
		o.AvgPrice, _ = decimal.NewFromString(it.AvgPrice)
		switch it.OrderStatus {
		case "New", "Untriggered":
			o.Status = domain.OrderStatusNew
		case "PartiallyFilled":
			o.Status = domain.OrderStatusPartial
		case "Filled":
			o.Status = domain.OrderStatusFilled
		case "Cancelled", "Deactivated":
			o.Status = domain.OrderStatusCanceled
		case "Rejected":
			o.Status = domain.OrderStatusRejected
		}
		out = append(out, o)
	}
	return out, nil
}

func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	lv := strconv.Itoa(leverage)
	// 110043 = leverage not modified，profile 归为可忽略
	return c.do(ctx, http.MethodPost, "/v5/position/set-leverage", &venue.RequestOptions{
		Body: jsonBody(map[string]any{
			"category": category, "symbol": symbol,
			"buyLeverage": lv, "sellLeverage": lv,
		}),
		Signed: true,
	}, nil)
}

func (c *Client) SetMarginMode(ctx context.Context, symbol string, mode string) error {
	tradeMode := 1 // isolated
	if mode == "cross" {
		tradeMode = 0
	}
	return c.do(ctx, http.MethodPost, "/v5/position/switch-isolated", &venue.RequestOptions{
		Body: jsonBody(map[string]any{
			"category": category, "symbol": symbol, "tradeMode": tradeMode,
		}),
		Signed: true,
	}, nil)
}

func (c *Client) PositionSize(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var result struct {
		List []struct {
			Side string `json:"side"`
			Size string `json:"size"`
		} `json:"list"`
	}
	err := c.do(ctx, http.MethodGet, "/v5/position/list", &venue.RequestOptions{
		Params: map[string]string{"category": category, "symbol": symbol},
		Signed: true,
	}, &result)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, it := range result.List {
		size, perr := decimal.NewFromString(it.Size)
		if perr != nil {
			continue
		}
		if it.Side == "Sell" {
			size = size.Neg()
		}
		total = total.Add(size)
	}
	return total, nil
}

func (c *Client) MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var result struct {
		List []struct {
			MarkPrice string `json:"markPrice"`
		} `json:"list"`
	}
	err := c.do(ctx, http.MethodGet, "/v5/market/tickers", &venue.RequestOptions{
		Params: map[string]string{"category": category, "symbol": symbol},
	}, &result)
	if err != nil {
		return decimal.Zero, err
	}
	if len(result.List) == 0 {
		return decimal.Zero, &venue.CallError{
			Venue: Name, Err: fmt.Errorf("ticker %s not found", symbol),
		}
	}
	return decimal.NewFromString(result.List[0].MarkPrice)
}

func (c *Client) ClosePosition(ctx context.Context, symbol string, side domain.PositionSide, qty decimal.Decimal) error {
	orderSide := "Sell"
	if side == domain.PositionSideShort {
		orderSide = "Buy"
	}
	return c.do(ctx, http.MethodPost, "/v5/order/create", &venue.RequestOptions{
		Body: jsonBody(map[string]any{
			"category": category, "symbol": symbol,
			"side": orderSide, "orderType": "Market",
			"qty": qty.String(), "reduceOnly": true,
		}),
		Signed: true,
	}, nil)
}
