package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide 订单方向
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusNew      OrderStatus = "new"
	OrderStatusPartial  OrderStatus = "partial"
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusCanceled OrderStatus = "canceled"
	OrderStatusRejected OrderStatus = "rejected"
)

// Order 合约订单领域模型（只保留编排需要的字段，完整映射由交易所客户端负责）
type Order struct {
	OrderID    string          // 交易所订单 ID
	ClientID   string          // 本地幂等 ID（重复下单时交易所去重）
	Symbol     string          // 合约符号
	Side       OrderSide       // 方向
	Price      decimal.Decimal // 委托价
	Qty        decimal.Decimal // 委托数量
	FilledQty  decimal.Decimal // 已成交数量
	AvgPrice   decimal.Decimal // 成交均价
	ReduceOnly bool            // 只减仓
	Status     OrderStatus     // 状态
	CreatedAt  time.Time
}

// IsOpen 订单是否仍在挂单
func (o *Order) IsOpen() bool {
	return o.Status == OrderStatusNew || o.Status == OrderStatusPartial
}

// IsFinal 是否为终态
func (o *Order) IsFinal() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected:
		return true
	}
	return false
}
