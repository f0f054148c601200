package binance

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/futbot/gofut/internal/domain"
	"github.com/futbot/gofut/internal/ports"
	"github.com/futbot/gofut/internal/venue"
	"github.com/futbot/gofut/pkg/ratelimit"
)

// binance USDT 合约（fapi）薄封装
// 只覆盖生命周期作业需要的几个接口，字段映射就地完成；
// 失败原样返回基础客户端给出的 *CallError

const DefaultBaseURL = "https://fapi.binance.com"

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

// NewClient 创建 binance 合约客户端
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		c: venue.NewClient(Name, venue.ClientOptions{
			BaseURL: baseURL,
			Signer: &venue.HMACSigner{
				APIKey:     cfg.APIKey,
				APISecret:  cfg.APISecret,
				RecvWindow: cfg.RecvWindow,
			},
			Limiter: cfg.Limiter,
		}),
	}
}

var _ ports.TradingOps = (*Client)(nil)

type orderResp struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	AvgPrice      string `json:"avgPrice"`
	ReduceOnly    bool   `json:"reduceOnly"`
	Status        string `json:"status"`
}

func (r *orderResp) toDomain() *domain.Order {
	o := &domain.Order{
		OrderID:    strconv.FormatInt(r.OrderID, 10),
		ClientID:   r.ClientOrderID,
		Symbol:     r.Symbol,
		Side:       domain.OrderSideBuy,
		ReduceOnly: r.ReduceOnly,
	}
	if r.Side == "SELL" {
		o.Side = domain.OrderSideSell
	}
	o.Price, _ = decimal.NewFromString(r.Price)
	o.Qty, _ = decimal.NewFromString(r.OrigQty)
	o.FilledQty, _ = decimal.NewFromString(r.ExecutedQty)
	o.AvgPrice, _ = decimal.NewFromString(r.AvgPrice)
	switch r.Status {
	case "NEW":
		o.Status = domain.OrderStatusNew
	case "PARTIALLY_FILLED":
		o.Status = domain.OrderStatusPartial
	case "FILLED":
		o.Status = domain.OrderStatusFilled
	case "CANCELED", "EXPIRED":
		o.Status = domain.OrderStatusCanceled
	case "REJECTED":
		o.Status = domain.OrderStatusRejected
	}
	return o
}

func (c *Client) PlaceOrder(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	side := "BUY"
	if order.Side == domain.OrderSideSell {
		side = "SELL"
	}
	params := map[string]string{
		"symbol":           order.Symbol,
		"side":             side,
		"type":             "LIMIT",
		"timeInForce":      "GTC",
		"quantity":         order.Qty.String(),
		"price":            order.Price.String(),
		"newClientOrderId": order.ClientID,
	}
	if order.ReduceOnly {
		params["reduceOnly"] = "true"
	}
	var resp orderResp
	err := c.c.Do(ctx, http.MethodPost, "/fapi/v1/order",
		&venue.RequestOptions{Params: params, Signed: true}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.toDomain(), nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return c.c.Do(ctx, http.MethodDelete, "/fapi/v1/order", &venue.RequestOptions{
		Params: map[string]string{"symbol": symbol, "orderId": orderID},
		Signed: true,
	}, nil)
}

func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	return c.c.Do(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", &venue.RequestOptions{
		Params: map[string]string{"symbol": symbol},
		Signed: true,
	}, nil)
}

func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]*domain.Order, error) {
	var resp []orderResp
	err := c.c.Do(ctx, http.MethodGet, "/fapi/v1/openOrders", &venue.RequestOptions{
		Params: map[string]string{"symbol": symbol},
		Signed: true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Order, 0, len(resp))
	for i := range resp {
		out = append(out, resp[i].toDomain())
	}
	return out, nil
}

func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return c.c.Do(ctx, http.MethodPost, "/fapi/v1/leverage", &venue.RequestOptions{
		Params: map[string]string{"symbol": symbol, "leverage": strconv.Itoa(leverage)},
		Signed: true,
	}, nil)
}

func (c *Client) SetMarginMode(ctx context.Context, symbol string, mode string) error {
	marginType := "ISOLATED"
	if mode == "cross" {
		marginType = "CROSSED"
	}
	// 模式已一致时返回 -4046（No need to change margin type），profile 归为可忽略
	return c.c.Do(ctx, http.MethodPost, "/fapi/v1/marginType", &venue.RequestOptions{
		Params: map[string]string{"symbol": symbol, "marginType": marginType},
		Signed: true,
	}, nil)
}

func (c *Client) PositionSize(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var resp []struct {
		Symbol      string `json:"symbol"`
		PositionAmt string `json:"positionAmt"`
	}
	err := c.c.Do(ctx, http.MethodGet, "/fapi/v2/positionRisk", &venue.RequestOptions{
		Params: map[string]string{"symbol": symbol},
		Signed: true,
	}, &resp)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for i := range resp {
		amt, perr := decimal.NewFromString(resp[i].PositionAmt)
		if perr != nil {
			continue
		}
		total = total.Add(amt)
	}
	return total, nil
}

func (c *Client) MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var resp struct {
		MarkPrice json.Number `json:"markPrice"`
	}
	err := c.c.Do(ctx, http.MethodGet, "/fapi/v1/premiumIndex", &venue.RequestOptions{
		Params: map[string]string{"symbol": symbol},
	}, &resp)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(resp.MarkPrice.String())
}

func (c *Client) ClosePosition(ctx context.Context, symbol string, side domain.PositionSide, qty decimal.Decimal) error {
	// 平仓方向与持仓方向相反，市价 + reduceOnly
	orderSide := "SELL"
	if side == domain.PositionSideShort {
		orderSide = "BUY"
	}
	return c.c.Do(ctx, http.MethodPost, "/fapi/v1/order", &venue.RequestOptions{
		Params: map[string]string{
			"symbol":     symbol,
			"side":       orderSide,
			"type":       "MARKET",
			"quantity":   qty.String(),
			"reduceOnly": "true",
		},
		Signed: true,
	}, nil)
}
