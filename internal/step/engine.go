package step

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// 工作流引擎：block 级操作
// block 内 normal 步骤按 (index, created_at) 执行；任一步骤终态失败后
// 补偿步骤成为唯一可派发步骤（HaltBlock 的职责，在 Store 层原子完成）。
// 这里提供的是续接/派生：工作流允许在执行期增量构造，而不必预先铺完全部步骤

// ContinueFrom 把续接步骤插在发起步骤自己的 index 上
// 同 index 内按 created_at 先后派发，所以续接步骤先于 block 内 index
// 更大的 normal 步骤执行；发起步骤此时已完结，不会互相阻塞
func ContinueFrom(ctx context.Context, store Store, origin *WorkStep, specs []Spec) error {
	if len(specs) == 0 {
		return nil
	}
	now := time.Now()
	steps := make([]*WorkStep, 0, len(specs))
	for i, spec := range specs {
		if spec.Queue == "" {
			spec.Queue = origin.Queue
		}
		// created_at 逐条递增 1ns，多条续接之间保持稳定顺序
		st, err := spec.Materialize(origin.BlockUUID, origin.Index, now.Add(time.Duration(i)))
		if err != nil {
			return errors.Wrapf(err, "序列化步骤 %s 参数失败", spec.Handler)
		}
		steps = append(steps, st)
	}
	return store.CreateSteps(ctx, steps)
}

// EnqueueChild 派生嵌套子工作流，返回子 block 的 UUID
func EnqueueChild(ctx context.Context, store Store, defaultQueue string, child *ChildBlock) (string, error) {
	childUUID := child.UUID
	if childUUID == "" {
		childUUID = uuid.NewString()
	}
	now := time.Now()
	steps := make([]*WorkStep, 0, len(child.Steps))
	for i, spec := range child.Steps {
		if spec.Queue == "" {
			spec.Queue = defaultQueue
		}
		st, err := spec.Materialize(childUUID, i+1, now)
		if err != nil {
			return "", errors.Wrapf(err, "序列化子工作流步骤 %s 参数失败", spec.Handler)
		}
		steps = append(steps, st)
	}
	if err := store.CreateSteps(ctx, steps); err != nil {
		return "", err
	}
	return childUUID, nil
}

// NewBlock 创建一个全新的 block（工作流触发入口用）
// 返回 block UUID；steps 的 index 从 1 开始
func NewBlock(ctx context.Context, store Store, defaultQueue string, specs []Spec) (string, error) {
	if len(specs) == 0 {
		return "", errors.New("block 不能为空")
	}
	blockUUID := uuid.NewString()
	now := time.Now()
	steps := make([]*WorkStep, 0, len(specs))
	for i, spec := range specs {
		if spec.Queue == "" {
			spec.Queue = defaultQueue
		}
		st, err := spec.Materialize(blockUUID, i+1, now)
		if err != nil {
			return "", errors.Wrapf(err, "序列化步骤 %s 参数失败", spec.Handler)
		}
		steps = append(steps, st)
	}
	if err := store.CreateSteps(ctx, steps); err != nil {
		return "", err
	}
	return blockUUID, nil
}
