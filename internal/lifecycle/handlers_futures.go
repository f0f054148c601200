package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/futbot/gofut/internal/domain"
	"github.com/futbot/gofut/internal/step"
	"github.com/futbot/gofut/pkg/ladder"
)

// 交易所出站处理器
// 出站失败原样向上返回（*venue.CallError），分类和重试是执行契约的事，
// 处理器只关心业务语义

type ladderArgs struct {
	PositionID string `json:"position_id"`
	Levels     int    `json:"levels"`
	StartBps   int64  `json:"start_bps"`
	EndBps     int64  `json:"end_bps"`
	// Remaining 为 true 时只挂未成交的剩余数量（重挂阶梯用）
	Remaining bool `json:"remaining,omitempty"`
}

type verifyArgs struct {
	PositionID string `json:"position_id"`
	ChecksLeft int    `json:"checks_left"`
	RecheckSec int    `json:"recheck_sec"`
}

func init() {
	step.RegisterHandler("futures.set_leverage", newPositionHandler(func(h *positionHandler) stepFunc {
		return h.setLeverage
	}))
	step.RegisterHandler("futures.set_margin_mode", newPositionHandler(func(h *positionHandler) stepFunc {
		return h.setMarginMode
	}))
	step.RegisterHandler("futures.sync_fills", newPositionHandler(func(h *positionHandler) stepFunc {
		return h.syncFills
	}))
	step.RegisterHandler("futures.cancel_orders", newPositionHandler(func(h *positionHandler) stepFunc {
		return h.cancelOrders
	}))
	step.RegisterHandler("futures.close_position", newPositionHandler(func(h *positionHandler) stepFunc {
		return h.closePosition
	}))

	step.RegisterHandler("futures.place_entry_ladder", func(raw json.RawMessage) (step.Handler, error) {
		var args ladderArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, err
		}
		return &placeLadderHandler{args: args}, nil
	})
	step.RegisterHandler("futures.verify_filled", func(raw json.RawMessage) (step.Handler, error) {
		var args verifyArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, err
		}
		return &verifyHandler{name: "futures.verify_filled", args: args, flat: false}, nil
	})
	step.RegisterHandler("futures.verify_flat", func(raw json.RawMessage) (step.Handler, error) {
		var args verifyArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, err
		}
		return &verifyHandler{name: "futures.verify_flat", args: args, flat: true}, nil
	})
}

type stepFunc func(ctx context.Context, ec *step.ExecContext, pos *domain.Position) (*step.Outcome, error)

// positionHandler 只需要仓位和交易客户端的简单出站步骤的公共壳
type positionHandler struct {
	args positionRef
	do   stepFunc
}

func newPositionHandler(pick func(h *positionHandler) stepFunc) step.Factory {
	return func(raw json.RawMessage) (step.Handler, error) {
		var args positionRef
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, err
		}
		h := &positionHandler{args: args}
		h.do = pick(h)
		return h, nil
	}
}

func (h *positionHandler) Execute(ctx context.Context, ec *step.ExecContext) (*step.Outcome, error) {
	pos, err := loadPosition(ctx, ec, h.args.PositionID)
	if err != nil {
		return nil, err
	}
	return h.do(ctx, ec, pos)
}

func (h *positionHandler) setLeverage(ctx context.Context, ec *step.ExecContext, pos *domain.Position) (*step.Outcome, error) {
	ops, err := tradingFor(ec)
	if err != nil {
		return nil, err
	}
	if err := ops.SetLeverage(ctx, pos.Symbol, pos.Leverage); err != nil {
		return nil, err
	}
	return &step.Outcome{Response: map[string]int{"leverage": pos.Leverage}}, nil
}

func (h *positionHandler) setMarginMode(ctx context.Context, ec *step.ExecContext, pos *domain.Position) (*step.Outcome, error) {
	ops, err := tradingFor(ec)
	if err != nil {
		return nil, err
	}
	// 模式已一致时部分交易所会报「无需修改」，对应 profile 把它归为可忽略
	if err := ops.SetMarginMode(ctx, pos.Symbol, pos.MarginMode); err != nil {
		return nil, err
	}
	return &step.Outcome{Response: map[string]string{"margin_mode": pos.MarginMode}}, nil
}

func (h *positionHandler) syncFills(ctx context.Context, ec *step.ExecContext, pos *domain.Position) (*step.Outcome, error) {
	ops, err := tradingFor(ec)
	if err != nil {
		return nil, err
	}
	size, err := ops.PositionSize(ctx, pos.Symbol)
	if err != nil {
		return nil, err
	}
	filled := size.Abs()
	if !filled.Equal(pos.FilledSize) {
		mark, err := ops.MarkPrice(ctx, pos.Symbol)
		if err != nil {
			return nil, err
		}
		pos.AddFill(filled.Sub(pos.FilledSize), mark)
		if err := ec.Deps.Positions.UpdateFill(ctx, pos.ID, pos); err != nil {
			return nil, err
		}
	}
	return &step.Outcome{Response: map[string]string{
		"filled_size": pos.FilledSize.String(),
		"entry_price": pos.EntryPrice.String(),
	}}, nil
}

func (h *positionHandler) cancelOrders(ctx context.Context, ec *step.ExecContext, pos *domain.Position) (*step.Outcome, error) {
	ops, err := tradingFor(ec)
	if err != nil {
		return nil, err
	}
	if err := ops.CancelAllOrders(ctx, pos.Symbol); err != nil {
		return nil, err
	}
	logrus.Infof("仓位 %s 全部挂单已撤销", pos.ID)
	return &step.Outcome{}, nil
}

func (h *positionHandler) closePosition(ctx context.Context, ec *step.ExecContext, pos *domain.Position) (*step.Outcome, error) {
	ops, err := tradingFor(ec)
	if err != nil {
		return nil, err
	}
	size, err := ops.PositionSize(ctx, pos.Symbol)
	if err != nil {
		return nil, err
	}
	qty := size.Abs()
	if qty.Sign() == 0 {
		// 交易所侧已无持仓，幂等完结
		return &step.Outcome{Response: map[string]string{"closed": "0"}}, nil
	}
	if err := ops.ClosePosition(ctx, pos.Symbol, pos.Side, qty); err != nil {
		return nil, err
	}
	return &step.Outcome{Response: map[string]string{"closed": qty.String()}}, nil
}

// placeLadderHandler 挂入场阶梯
// client_id 由仓位与档位序号确定，同一步骤重试不会重复下单
type placeLadderHandler struct {
	args ladderArgs
}

func (h *placeLadderHandler) Execute(ctx context.Context, ec *step.ExecContext) (*step.Outcome, error) {
	pos, err := loadPosition(ctx, ec, h.args.PositionID)
	if err != nil {
		return nil, err
	}
	ops, err := tradingFor(ec)
	if err != nil {
		return nil, err
	}

	size := pos.Size
	if h.args.Remaining {
		size = pos.Size.Sub(pos.FilledSize)
		if size.Sign() <= 0 {
			return &step.Outcome{Response: map[string]string{"placed": "0"}}, nil
		}
	}
	mark, err := ops.MarkPrice(ctx, pos.Symbol)
	if err != nil {
		return nil, err
	}

	plan, err := ladder.Build(ladder.Params{
		MarkPrice: mark,
		TotalSize: size,
		Levels:    h.args.Levels,
		StartBps:  h.args.StartBps,
		EndBps:    h.args.EndBps,
		Short:     pos.Side == domain.PositionSideShort,
	})
	if err != nil {
		return nil, errors.Wrap(err, "构建入场阶梯失败")
	}

	side := domain.OrderSideBuy
	if pos.Side == domain.PositionSideShort {
		side = domain.OrderSideSell
	}

	orderIDs := make([]string, 0, len(plan.Rungs))
	for i, rung := range plan.Rungs {
		placed, err := ops.PlaceOrder(ctx, &domain.Order{
			ClientID: fmt.Sprintf("%s-rung-%d", pos.ID, i),
			Symbol:   pos.Symbol,
			Side:     side,
			Price:    rung.Price,
			Qty:      rung.Size,
		})
		if err != nil {
			return nil, err
		}
		orderIDs = append(orderIDs, placed.OrderID)
	}
	logrus.Infof("仓位 %s 阶梯挂单完成: %d 档, 预期 WAP=%s",
		pos.ID, len(plan.Rungs), plan.WAP().String())
	return &step.Outcome{Response: map[string]any{
		"order_ids":    orderIDs,
		"expected_wap": plan.WAP().String(),
	}}, nil
}

// verifyHandler 成交/清仓校验
// 条件未满足且还有重查次数时，在自己的位置续接一个延迟执行的自己，
// 后续步骤等它出结论才会派发；
// 次数耗尽返回错误，由执行契约走预算直至终态触发补偿
type verifyHandler struct {
	name string
	args verifyArgs
	flat bool // true: 校验交易所侧无持仓；false: 校验目标数量已成交
}

func (h *verifyHandler) Execute(ctx context.Context, ec *step.ExecContext) (*step.Outcome, error) {
	pos, err := loadPosition(ctx, ec, h.args.PositionID)
	if err != nil {
		return nil, err
	}
	ops, err := tradingFor(ec)
	if err != nil {
		return nil, err
	}
	size, err := ops.PositionSize(ctx, pos.Symbol)
	if err != nil {
		return nil, err
	}

	satisfied := false
	if h.flat {
		satisfied = size.Abs().Sign() == 0
	} else {
		satisfied = size.Abs().GreaterThanOrEqual(pos.Size)
	}
	if satisfied {
		return &step.Outcome{Response: map[string]string{"exchange_size": size.String()}}, nil
	}

	if h.args.ChecksLeft <= 1 {
		return nil, errors.Errorf("校验超时: 仓位 %s 交易所侧数量 %s 未达预期", pos.ID, size)
	}
	// 续接一个延迟的重查步骤，让出 worker，不在执行期空转等待
	next := verifyArgs{
		PositionID: h.args.PositionID,
		ChecksLeft: h.args.ChecksLeft - 1,
		RecheckSec: h.args.RecheckSec,
	}
	return &step.Outcome{
		Response: map[string]any{"exchange_size": size.String(), "checks_left": next.ChecksLeft},
		Next: []step.Spec{{
			Handler:       h.name,
			Args:          next,
			Venue:         ec.Step.Venue,
			AccountID:     ec.Step.AccountID,
			DispatchAfter: time.Now().Add(time.Duration(h.args.RecheckSec) * time.Second),
		}},
	}, nil
}
