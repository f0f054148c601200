package ports

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/futbot/gofut/internal/domain"
)

// Small capability interfaces shared across layers (lifecycle handlers /
// venue clients). Venue clients return failures as *venue.CallError so the
// classifier can disambiguate them.

// OrderPlacer 下单
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, order *domain.Order) (*domain.Order, error)
}

// OrderCanceler 撤单
type OrderCanceler interface {
	CancelOrder(ctx context.Context, symbol, orderID string) error
	CancelAllOrders(ctx context.Context, symbol string) error
}

// OpenOrderLister 查询挂单
type OpenOrderLister interface {
	OpenOrders(ctx context.Context, symbol string) ([]*domain.Order, error)
}

// LeverageSetter 设置杠杆与保证金模式
type LeverageSetter interface {
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetMarginMode(ctx context.Context, symbol string, mode string) error
}

// PositionReader 查询交易所侧仓位
type PositionReader interface {
	// PositionSize 返回交易所侧净持仓数量（多正空负）
	PositionSize(ctx context.Context, symbol string) (decimal.Decimal, error)
	// MarkPrice 返回标记价格
	MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// PositionCloser 市价平仓
type PositionCloser interface {
	ClosePosition(ctx context.Context, symbol string, side domain.PositionSide, qty decimal.Decimal) error
}

// TradingOps 生命周期作业需要的全部交易能力
type TradingOps interface {
	OrderPlacer
	OrderCanceler
	OpenOrderLister
	LeverageSetter
	PositionReader
	PositionCloser
}
