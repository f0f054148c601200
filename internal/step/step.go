package step

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type 步骤类型
type Type string

const (
	// TypeNormal 普通步骤，按 index 顺序执行
	TypeNormal Type = "normal"
	// TypeResolveException 补偿步骤：block 内任一步骤终态失败后被提升为唯一可派发步骤
	TypeResolveException Type = "resolve-exception"
)

// Status 步骤状态
type Status string

const (
	// StatusPending 等待派发
	StatusPending Status = "pending"
	// StatusStandby 补偿步骤的初始状态：不参与正常派发
	StatusStandby Status = "standby"
	// StatusDispatched 已被某个 worker 认领
	StatusDispatched Status = "dispatched"
	// StatusCompleted 执行成功
	StatusCompleted Status = "completed"
	// StatusSkipped 守卫不通过，静默跳过
	StatusSkipped Status = "skipped"
	// StatusFailed 终态失败
	StatusFailed Status = "failed"
	// StatusHalted block 失败/中止后未执行的剩余步骤
	StatusHalted Status = "halted"
)

// IsFinal 状态是否为终态（不再阻塞 block 内后续步骤）
func (s Status) IsFinal() bool {
	switch s {
	case StatusCompleted, StatusSkipped, StatusFailed, StatusHalted:
		return true
	}
	return false
}

// WorkStep 一个可派发的工作单元
// arguments 创建后不可变；执行后只允许更新 Response 与状态
type WorkStep struct {
	ID             string          // 步骤 ID
	Handler        string          // 处理器注册名
	Args           json.RawMessage // 参数（每个处理器解码成自己的参数结构）
	Queue          string          // 逻辑队列
	BlockUUID      string          // 所属工作流实例
	ChildBlockUUID string          // 本步骤派生的嵌套工作流（可选）
	Index          int             // block 内顺序
	WorkflowID     string          // 命名工作流（可选）
	Type           Type            // normal / resolve-exception
	Status         Status          // 状态
	Attempts       int             // 已消耗的重试预算（限流/封禁重试不计入）
	DispatchAfter  time.Time       // 最早可执行时间
	Response       json.RawMessage // 执行结果
	Venue          string          // 交易所（出站步骤必填，分类器需要）
	AccountID      string          // 账户（账户级步骤必填）
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Spec 待创建步骤的描述（Composer 与步骤续接都用它）
type Spec struct {
	Handler       string
	Args          any    // 入库前 JSON 序列化
	Queue         string // 为空时继承 block 默认队列
	Type          Type   // 为空时视为 normal
	Venue         string
	AccountID     string
	DispatchAfter time.Time // 零值表示立即可派发
}

// Materialize 把 Spec 落成 WorkStep
func (s Spec) Materialize(blockUUID string, index int, now time.Time) (*WorkStep, error) {
	raw, err := json.Marshal(s.Args)
	if err != nil {
		return nil, err
	}
	typ := s.Type
	if typ == "" {
		typ = TypeNormal
	}
	status := StatusPending
	if typ == TypeResolveException {
		status = StatusStandby
	}
	queue := s.Queue
	if queue == "" {
		queue = "default"
	}
	dispatchAfter := s.DispatchAfter
	if dispatchAfter.IsZero() {
		dispatchAfter = now
	}
	return &WorkStep{
		ID:            uuid.NewString(),
		Handler:       s.Handler,
		Args:          raw,
		Queue:         queue,
		BlockUUID:     blockUUID,
		Index:         index,
		Type:          typ,
		Status:        status,
		DispatchAfter: dispatchAfter,
		Venue:         s.Venue,
		AccountID:     s.AccountID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Store 步骤持久化接口（sqlite 实现见 internal/store）
type Store interface {
	// CreateSteps 批量创建步骤
	CreateSteps(ctx context.Context, steps []*WorkStep) error
	// ClaimNext 认领下一个可派发步骤：状态 pending、dispatch_after 已到、
	// 且是所在 block 中 (index, created_at) 最靠前的未完结步骤；
	// standby 的补偿步骤不阻塞派发；找不到时返回 (nil, nil)
	ClaimNext(ctx context.Context, queues []string, now time.Time) (*WorkStep, error)
	// RequeueStale 把更新时间早于 olderThan 的 dispatched 步骤放回 pending
	// （认领方崩溃后的租约回收）；返回回收数量
	RequeueStale(ctx context.Context, olderThan time.Time) (int, error)
	// Reschedule 把步骤放回 pending 并更新最早可执行时间与已消耗预算
	Reschedule(ctx context.Context, id string, at time.Time, attempts int) error
	// Complete 标记执行成功并写入结果
	Complete(ctx context.Context, id string, response json.RawMessage) error
	// MarkSkipped 守卫跳过
	MarkSkipped(ctx context.Context, id string) error
	// Fail 标记终态失败
	Fail(ctx context.Context, id string) error
	// HaltBlock 中止 block：未完结的 normal 步骤置为 halted；
	// promoteResolve 为 true 时把 standby 的补偿步骤（若有）置为 pending，
	// 否则补偿步骤一并置为 halted；返回是否存在补偿步骤
	HaltBlock(ctx context.Context, blockUUID string, promoteResolve bool) (hasResolve bool, err error)
	// SetChildBlock 记录步骤派生的子工作流
	SetChildBlock(ctx context.Context, stepID, childBlockUUID string) error
	// StepsInBlock 返回 block 内全部步骤（index 升序）
	StepsInBlock(ctx context.Context, blockUUID string) ([]*WorkStep, error)
}
