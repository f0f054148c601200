package ladder

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// 入场阶梯定价：把目标仓位拆成沿价格区间分布的多笔限价单，
// 成交后的加权均价（WAP）随档位逐级摊薄。
//
// 约定：
// - 做多时阶梯从 mark 价向下挂；做空时向上挂
// - 数量按权重分摊，余数并入最后一档，保证合计严格等于目标数量

// Rung 阶梯中的一档
type Rung struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Plan 一次入场的完整阶梯
type Plan struct {
	Rungs []Rung
}

// Params 阶梯参数
type Params struct {
	MarkPrice  decimal.Decimal // 当前标记价
	TotalSize  decimal.Decimal // 目标总数量
	Levels     int             // 档数
	StartBps   int64           // 第一档相对 mark 的偏移（基点，1bp=0.01%）
	EndBps     int64           // 最后一档相对 mark 的偏移（基点）
	Short      bool            // 做空：阶梯向上挂
	PriceTick  decimal.Decimal // 价格最小变动单位（0 表示不取整）
	SizeStep   decimal.Decimal // 数量最小变动单位（0 表示不取整）
}

func (p Params) Validate() error {
	if p.MarkPrice.Sign() <= 0 {
		return fmt.Errorf("mark price must be positive")
	}
	if p.TotalSize.Sign() <= 0 {
		return fmt.Errorf("total size must be positive")
	}
	if p.Levels <= 0 {
		return fmt.Errorf("levels must be positive")
	}
	if p.StartBps < 0 || p.EndBps < p.StartBps {
		return fmt.Errorf("invalid bps range: start=%d end=%d", p.StartBps, p.EndBps)
	}
	return nil
}

var tenThousand = decimal.NewFromInt(10000)

// Build 生成阶梯：档位在 [StartBps, EndBps] 区间线性分布，数量均摊
func Build(p Params) (Plan, error) {
	if err := p.Validate(); err != nil {
		return Plan{}, err
	}

	levels := p.Levels
	rungs := make([]Rung, 0, levels)

	each := p.TotalSize.Div(decimal.NewFromInt(int64(levels)))
	if p.SizeStep.Sign() > 0 {
		each = each.Div(p.SizeStep).Floor().Mul(p.SizeStep)
	}
	allocated := decimal.Zero

	for i := 0; i < levels; i++ {
		bps := p.StartBps
		if levels > 1 {
			bps = p.StartBps + (p.EndBps-p.StartBps)*int64(i)/int64(levels-1)
		}
		offset := p.MarkPrice.Mul(decimal.NewFromInt(bps)).Div(tenThousand)
		price := p.MarkPrice.Sub(offset)
		if p.Short {
			price = p.MarkPrice.Add(offset)
		}
		if p.PriceTick.Sign() > 0 {
			price = price.Div(p.PriceTick).Round(0).Mul(p.PriceTick)
		}

		size := each
		if i == levels-1 {
			// 余数并入最后一档
			size = p.TotalSize.Sub(allocated)
		}
		if size.Sign() <= 0 {
			return Plan{}, fmt.Errorf("rung %d size is not positive, size step too coarse", i)
		}
		allocated = allocated.Add(size)
		rungs = append(rungs, Rung{Price: price, Size: size})
	}

	return Plan{Rungs: rungs}, nil
}

// TotalSize 阶梯合计数量
func (p Plan) TotalSize() decimal.Decimal {
	total := decimal.Zero
	for _, r := range p.Rungs {
		total = total.Add(r.Size)
	}
	return total
}

// WAP 阶梯全部成交后的加权平均价
func (p Plan) WAP() decimal.Decimal {
	total := decimal.Zero
	cost := decimal.Zero
	for _, r := range p.Rungs {
		total = total.Add(r.Size)
		cost = cost.Add(r.Price.Mul(r.Size))
	}
	if total.Sign() <= 0 {
		return decimal.Zero
	}
	return cost.Div(total)
}
