package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionSide 持仓方向
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// PositionStatus 仓位状态
// 生命周期作业用状态做前置守卫（只有 active 相关状态才允许平仓等操作），
// 竞争的工作流靠状态 CAS 串行化
type PositionStatus string

const (
	PositionStatusPending   PositionStatus = "pending"   // 已创建，未开始执行
	PositionStatusOpening   PositionStatus = "opening"   // 开仓工作流执行中
	PositionStatusActive    PositionStatus = "active"    // 持仓中
	PositionStatusClosing   PositionStatus = "closing"   // 平仓工作流执行中
	PositionStatusCanceling PositionStatus = "canceling" // 撤单工作流执行中
	PositionStatusClosed    PositionStatus = "closed"    // 已平仓
	PositionStatusCanceled  PositionStatus = "canceled"  // 已撤销
	PositionStatusFailed    PositionStatus = "failed"    // 工作流终态失败，需人工介入
)

// Position 合约仓位领域模型
type Position struct {
	ID         string          // 仓位 ID
	AccountID  string          // 所属账户
	Venue      string          // 交易所
	Symbol     string          // 合约符号（BTCUSDT）
	Side       PositionSide    // 方向
	Leverage   int             // 杠杆倍数
	MarginMode string          // 保证金模式：isolated / cross
	Size       decimal.Decimal // 目标仓位数量
	FilledSize decimal.Decimal // 已成交数量
	EntryPrice decimal.Decimal // 加权平均入场价
	Status     PositionStatus  // 仓位状态
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsActiveRelated 仓位是否处于「持仓相关」状态
// 平仓/撤单工作流的守卫只放行这些状态
func (p *Position) IsActiveRelated() bool {
	switch p.Status {
	case PositionStatusOpening, PositionStatusActive, PositionStatusClosing, PositionStatusCanceling:
		return true
	}
	return false
}

// IsFinal 是否为终态
func (p *Position) IsFinal() bool {
	switch p.Status {
	case PositionStatusClosed, PositionStatusCanceled, PositionStatusFailed:
		return true
	}
	return false
}

// AddFill 累加一笔成交，维护加权平均入场价
func (p *Position) AddFill(size, price decimal.Decimal) {
	if size.Sign() <= 0 {
		return
	}
	oldCost := p.EntryPrice.Mul(p.FilledSize)
	p.FilledSize = p.FilledSize.Add(size)
	if p.FilledSize.Sign() > 0 {
		p.EntryPrice = oldCost.Add(price.Mul(size)).Div(p.FilledSize)
	}
}
