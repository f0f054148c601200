package lifecycle

import (
	"github.com/futbot/gofut/internal/domain"
	"github.com/futbot/gofut/internal/step"
)

// 四条标准工作流的组合函数
// 全部是纯函数：同样的参数组合出同样的步骤序列。触发入口
//（管理面 API / 策略信号）拿到 Composer 后调用 Launch 落库

// WorkflowParams 工作流触发参数
type WorkflowParams struct {
	PositionID string
	Venue      string
	AccountID  string
	Queue      string // 为空时用 "trading"

	// 开仓/重挂阶梯参数
	Levels     int
	StartBps   int64
	EndBps     int64
	RecheckSec int // 成交/清仓校验的重查间隔
	MaxChecks  int // 校验重查次数上限
}

func (p WorkflowParams) withDefaults() WorkflowParams {
	if p.Queue == "" {
		p.Queue = "trading"
	}
	if p.Levels <= 0 {
		p.Levels = 3
	}
	if p.EndBps <= 0 {
		p.EndBps = 30
	}
	if p.RecheckSec <= 0 {
		p.RecheckSec = 10
	}
	if p.MaxChecks <= 0 {
		p.MaxChecks = 30
	}
	return p
}

func (p WorkflowParams) spec(handler string, args any) step.Spec {
	return step.Spec{
		Handler:   handler,
		Args:      args,
		Venue:     p.Venue,
		AccountID: p.AccountID,
	}
}

// OpenWorkflow 开仓：认领仓位 → 设杠杆 → 设保证金模式 → 挂入场阶梯
// → 同步成交 → 校验成交 → 收尾置 active；失败补偿撤单并清掉残留仓位
func OpenWorkflow(p WorkflowParams) Composer {
	p = p.withDefaults()
	return NewComposer(p.Queue).
		Append(p.spec("position.claim", claimArgs{
			PositionID: p.PositionID,
			From:       []domain.PositionStatus{domain.PositionStatusPending},
			To:         domain.PositionStatusOpening,
		})).
		Append(p.spec("futures.set_leverage", positionRef{PositionID: p.PositionID})).
		Append(p.spec("futures.set_margin_mode", positionRef{PositionID: p.PositionID})).
		Append(p.spec("futures.place_entry_ladder", ladderArgs{
			PositionID: p.PositionID,
			Levels:     p.Levels,
			StartBps:   p.StartBps,
			EndBps:     p.EndBps,
		})).
		Append(p.spec("futures.sync_fills", positionRef{PositionID: p.PositionID})).
		Append(p.spec("futures.verify_filled", verifyArgs{
			PositionID: p.PositionID,
			ChecksLeft: p.MaxChecks,
			RecheckSec: p.RecheckSec,
		})).
		Append(p.spec("position.finalize", finalizeArgs{
			PositionID: p.PositionID,
			To:         domain.PositionStatusActive,
		})).
		WithResolve(p.spec("position.resolve_failure", resolveArgs{
			PositionID:   p.PositionID,
			CancelOrders: true,
			Flatten:      true,
		}))
}

// CloseWorkflow 平仓：认领 → 撤掉全部挂单 → 市价清仓 → 校验无残留
// → 收尾置 closed；失败补偿只上报并置 failed，等人工处理
func CloseWorkflow(p WorkflowParams) Composer {
	p = p.withDefaults()
	return NewComposer(p.Queue).
		Append(p.spec("position.claim", claimArgs{
			PositionID: p.PositionID,
			From:       []domain.PositionStatus{domain.PositionStatusActive, domain.PositionStatusOpening},
			To:         domain.PositionStatusClosing,
		})).
		Append(p.spec("futures.cancel_orders", positionRef{PositionID: p.PositionID})).
		Append(p.spec("futures.close_position", positionRef{PositionID: p.PositionID})).
		Append(p.spec("futures.verify_flat", verifyArgs{
			PositionID: p.PositionID,
			ChecksLeft: p.MaxChecks,
			RecheckSec: p.RecheckSec,
		})).
		Append(p.spec("position.finalize", finalizeArgs{
			PositionID: p.PositionID,
			To:         domain.PositionStatusClosed,
		})).
		WithResolve(p.spec("position.resolve_failure", resolveArgs{
			PositionID: p.PositionID,
		}))
}

// CancelWorkflow 撤销未成交的开仓：认领 → 撤单 → 清掉已成交的零头
// → 收尾置 canceled
func CancelWorkflow(p WorkflowParams) Composer {
	p = p.withDefaults()
	return NewComposer(p.Queue).
		Append(p.spec("position.claim", claimArgs{
			PositionID: p.PositionID,
			From:       []domain.PositionStatus{domain.PositionStatusOpening, domain.PositionStatusActive},
			To:         domain.PositionStatusCanceling,
		})).
		Append(p.spec("futures.cancel_orders", positionRef{PositionID: p.PositionID})).
		Append(p.spec("futures.close_position", positionRef{PositionID: p.PositionID})).
		Append(p.spec("futures.verify_flat", verifyArgs{
			PositionID: p.PositionID,
			ChecksLeft: p.MaxChecks,
			RecheckSec: p.RecheckSec,
		})).
		Append(p.spec("position.finalize", finalizeArgs{
			PositionID: p.PositionID,
			To:         domain.PositionStatusCanceled,
		})).
		WithResolve(p.spec("position.resolve_failure", resolveArgs{
			PositionID: p.PositionID,
		}))
}

// ApplyWAPWorkflow 重挂阶梯：撤掉旧挂单，按剩余数量和最新标记价
// 重新铺入场阶梯（仓位保持 opening，随后的成交校验继续推进）
func ApplyWAPWorkflow(p WorkflowParams) Composer {
	p = p.withDefaults()
	return NewComposer(p.Queue).
		Append(p.spec("position.claim", claimArgs{
			PositionID: p.PositionID,
			From:       []domain.PositionStatus{domain.PositionStatusOpening},
			To:         domain.PositionStatusOpening,
		})).
		Append(p.spec("futures.cancel_orders", positionRef{PositionID: p.PositionID})).
		Append(p.spec("futures.place_entry_ladder", ladderArgs{
			PositionID: p.PositionID,
			Levels:     p.Levels,
			StartBps:   p.StartBps,
			EndBps:     p.EndBps,
			Remaining:  true,
		})).
		Append(p.spec("futures.sync_fills", positionRef{PositionID: p.PositionID})).
		Append(p.spec("futures.verify_filled", verifyArgs{
			PositionID: p.PositionID,
			ChecksLeft: p.MaxChecks,
			RecheckSec: p.RecheckSec,
		})).
		Append(p.spec("position.finalize", finalizeArgs{
			PositionID: p.PositionID,
			To:         domain.PositionStatusActive,
		})).
		WithResolve(p.spec("position.resolve_failure", resolveArgs{
			PositionID:   p.PositionID,
			CancelOrders: true,
		}))
}
