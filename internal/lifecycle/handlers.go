package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/futbot/gofut/internal/domain"
	"github.com/futbot/gofut/internal/ports"
	"github.com/futbot/gofut/internal/step"
)

// 仓位生命周期处理器（状态机部分）
// 交易所出站操作见 handlers_futures.go

type positionRef struct {
	PositionID string `json:"position_id"`
}

type claimArgs struct {
	PositionID string                  `json:"position_id"`
	From       []domain.PositionStatus `json:"from"`
	To         domain.PositionStatus   `json:"to"`
}

type finalizeArgs struct {
	PositionID string                `json:"position_id"`
	To         domain.PositionStatus `json:"to"`
}

type resolveArgs struct {
	PositionID   string `json:"position_id"`
	CancelOrders bool   `json:"cancel_orders"`
	Flatten      bool   `json:"flatten"`
}

func init() {
	step.RegisterHandler("position.claim", func(raw json.RawMessage) (step.Handler, error) {
		var args claimArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, err
		}
		return &claimHandler{args: args}, nil
	})
	step.RegisterHandler("position.finalize", func(raw json.RawMessage) (step.Handler, error) {
		var args finalizeArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, err
		}
		return &finalizeHandler{args: args}, nil
	})
	step.RegisterHandler("position.resolve_failure", func(raw json.RawMessage) (step.Handler, error) {
		var args resolveArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, err
		}
		return &resolveHandler{args: args}, nil
	})
}

func loadPosition(ctx context.Context, ec *step.ExecContext, id string) (*domain.Position, error) {
	pos, err := ec.Deps.Positions.GetPosition(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "读取仓位 %s 失败", id)
	}
	return pos, nil
}

func tradingFor(ec *step.ExecContext) (ports.TradingOps, error) {
	if ec.Deps.Trading == nil {
		return nil, errors.New("trading provider 未配置")
	}
	return ec.Deps.Trading(ec.Step.Venue, ec.Step.AccountID)
}

// claimHandler 工作流的第一步：状态 CAS 认领仓位
// 竞争的工作流在这里被串行化——CAS 失败说明别的工作流已经接管，
// 整个 block 原地中止（不触发补偿，仓位不属于本工作流）
type claimHandler struct {
	args claimArgs
}

func (h *claimHandler) Guard(ctx context.Context, ec *step.ExecContext) (step.GuardDecision, error) {
	for _, from := range h.args.From {
		ok, err := ec.Deps.Positions.CASStatus(ctx, h.args.PositionID, from, h.args.To)
		if err != nil {
			return step.GuardPass, err
		}
		if ok {
			logrus.Infof("仓位 %s 认领成功: %s -> %s（操作者=%s）",
				h.args.PositionID, from, h.args.To, ec.Principal.Name)
			return step.GuardPass, nil
		}
	}
	logrus.Warnf("仓位 %s 认领失败（已被其他工作流接管），中止本 block", h.args.PositionID)
	return step.GuardAbortBlock, nil
}

func (h *claimHandler) Execute(ctx context.Context, ec *step.ExecContext) (*step.Outcome, error) {
	return &step.Outcome{Response: map[string]string{"status": string(h.args.To)}}, nil
}

// finalizeHandler 工作流的最后一步：把仓位推进到目标终态/稳态
type finalizeHandler struct {
	args finalizeArgs
}

func (h *finalizeHandler) Execute(ctx context.Context, ec *step.ExecContext) (*step.Outcome, error) {
	if err := ec.Deps.Positions.SetStatus(ctx, h.args.PositionID, h.args.To); err != nil {
		return nil, err
	}
	logrus.Infof("仓位 %s 收尾: -> %s", h.args.PositionID, h.args.To)
	return &step.Outcome{Response: map[string]string{"status": string(h.args.To)}}, nil
}

// resolveHandler 补偿步骤：block 内任一步骤终态失败后被提升执行
// 尽力撤单/清仓，把仓位置为 failed 并上报运维。自身的出站失败
// 仍走统一的失败分类（限流会重试，真失败只上报一次）
type resolveHandler struct {
	args resolveArgs
}

func (h *resolveHandler) Execute(ctx context.Context, ec *step.ExecContext) (*step.Outcome, error) {
	pos, err := loadPosition(ctx, ec, h.args.PositionID)
	if err != nil {
		return nil, err
	}

	if h.args.CancelOrders || h.args.Flatten {
		ops, err := tradingFor(ec)
		if err != nil {
			return nil, err
		}
		if h.args.CancelOrders {
			if err := ops.CancelAllOrders(ctx, pos.Symbol); err != nil {
				return nil, err
			}
		}
		if h.args.Flatten {
			size, err := ops.PositionSize(ctx, pos.Symbol)
			if err != nil {
				return nil, err
			}
			if size.Abs().Sign() > 0 {
				if err := ops.ClosePosition(ctx, pos.Symbol, pos.Side, size.Abs()); err != nil {
					return nil, err
				}
			}
		}
	}

	if err := ec.Deps.Positions.SetStatus(ctx, h.args.PositionID, domain.PositionStatusFailed); err != nil {
		return nil, err
	}
	if ec.Deps.Notifier != nil {
		msg := fmt.Sprintf("仓位 %s(%s %s) 工作流失败，已执行补偿，需人工确认",
			pos.ID, pos.Venue, pos.Symbol)
		ec.Deps.Notifier.Notify(ctx, "operator", msg, "position_failed:"+pos.ID)
	}
	return &step.Outcome{Response: map[string]string{"status": string(domain.PositionStatusFailed)}}, nil
}
