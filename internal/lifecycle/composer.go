package lifecycle

import (
	"context"

	"github.com/futbot/gofut/internal/step"
)

// Composer 工作流组合器
// 值语义：每次 Append 返回新值，不改动接收者。同一参数组合两次
// 得到完全相同的步骤序列，方便在测试里直接断言整条工作流
type Composer struct {
	queue   string
	specs   []step.Spec
	resolve *step.Spec
}

// NewComposer 创建组合器，queue 为 block 内步骤的默认队列
func NewComposer(queue string) Composer {
	return Composer{queue: queue}
}

// Append 追加一个普通步骤
func (c Composer) Append(spec step.Spec) Composer {
	specs := make([]step.Spec, len(c.specs), len(c.specs)+1)
	copy(specs, c.specs)
	c.specs = append(specs, spec)
	return c
}

// WithResolve 设置补偿步骤（一个 block 至多一个，后设置的覆盖前面的）
func (c Composer) WithResolve(spec step.Spec) Composer {
	spec.Type = step.TypeResolveException
	c.resolve = &spec
	return c
}

// Steps 导出步骤序列：普通步骤按追加顺序，补偿步骤排在最后
func (c Composer) Steps() []step.Spec {
	out := make([]step.Spec, 0, len(c.specs)+1)
	for _, s := range c.specs {
		if s.Queue == "" {
			s.Queue = c.queue
		}
		out = append(out, s)
	}
	if c.resolve != nil {
		r := *c.resolve
		if r.Queue == "" {
			r.Queue = c.queue
		}
		out = append(out, r)
	}
	return out
}

// Launch 把组合好的工作流落成一个新 block，返回 block UUID
func (c Composer) Launch(ctx context.Context, store step.Store) (string, error) {
	return step.NewBlock(ctx, store, c.queue, c.Steps())
}
