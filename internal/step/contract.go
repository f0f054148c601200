package step

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/futbot/gofut/internal/backoff"
	"github.com/futbot/gofut/internal/classify"
	"github.com/futbot/gofut/internal/domain"
	"github.com/futbot/gofut/internal/metrics"
	"github.com/futbot/gofut/internal/ports"
	"github.com/futbot/gofut/internal/venue"
)

// Outcome 步骤执行成功后的产出
// 续接的步骤由执行结果显式返回，而不是处理器直接去操作工作流构造 API，
// 这样「这一步接下来排了什么」可以单独测试
type Outcome struct {
	Response any         // 写入步骤 response 的结果（可为 nil）
	Next     []Spec      // 插在当前步骤 index 上的续接步骤，先于 block 中后续步骤执行
	Child    *ChildBlock // 派生的嵌套工作流（可选）
}

// ChildBlock 嵌套子工作流
type ChildBlock struct {
	UUID  string // 为空时自动生成
	Steps []Spec
}

// ExecContext 一次步骤执行的上下文
type ExecContext struct {
	Step      *WorkStep
	Principal domain.SystemPrincipal // 系统级调用的显式身份
	Deps      *Deps
}

// TradingProvider 按（交易所, 账户）构造交易客户端
type TradingProvider func(venueName, accountID string) (ports.TradingOps, error)

// RestrictionLedger 封禁/限流账本的窄接口（实现见 internal/ledger）
type RestrictionLedger interface {
	// IsRestricted 出站调用前的预检：账户级或服务器级限制命中即为 true
	IsRestricted(ctx context.Context, venueName, accountID, ip string, now time.Time) (bool, error)
	// RecordRestriction 创建或刷新一条限制记录
	RecordRestriction(ctx context.Context, rec RestrictionRecord) error
}

// RestrictionRecord 账本记录（account_id 为空串表示服务器级）
type RestrictionRecord struct {
	Venue         string
	AccountID     string
	IP            string
	Type          string // classify.Classification 的字符串值
	Until         *time.Time
	VendorCode    string
	VendorMessage string
}

// Notifier 通知通道的窄接口（实现见 internal/notify）
type Notifier interface {
	Notify(ctx context.Context, audience, message, dedupKey string)
}

// AuditEntry 工作流级审计事件（管理面排障用）
type AuditEntry struct {
	Kind      string // workflow_failed / compensated
	BlockUUID string
	Workflow  string
	AccountID string
	Detail    string
}

// Auditor 审计落盘的窄接口（实现见 internal/store）
type Auditor interface {
	AppendAuditEntry(ctx context.Context, e AuditEntry) error
}

// Deps 处理器可用的全部协作方
type Deps struct {
	Store     Store
	Ledger    RestrictionLedger
	Notifier  Notifier
	Trading   TradingProvider
	Positions PositionStore
	ServerIP  string
}

// PositionStore 仓位持久化的窄接口（实现见 internal/store）
type PositionStore interface {
	GetPosition(ctx context.Context, id string) (*domain.Position, error)
	// CASStatus 仅当当前状态为 from 时置为 to；返回是否生效
	CASStatus(ctx context.Context, id string, from, to domain.PositionStatus) (bool, error)
	SetStatus(ctx context.Context, id string, to domain.PositionStatus) error
	UpdateFill(ctx context.Context, id string, p *domain.Position) error
}

// RunnerOptions Runner 配置
type RunnerOptions struct {
	Store          Store
	Ledger         RestrictionLedger
	Notifier       Notifier
	Trading        TradingProvider
	Positions      PositionStore
	Audit          Auditor // 可为 nil
	ServerIP       string
	Principal      domain.SystemPrincipal
	MaxAttempts    int           // 未分类瞬时失败的重试预算
	BaseRetryDelay time.Duration // 预算内重试的基础延迟
	ThrottleDelay  time.Duration // 限流且无服务端提示时的兜底延迟
	ProbeInterval  time.Duration // 命中限制后的再探测间隔
}

// Runner 作业执行契约：守卫 → 执行 → 成功钩子 / 失败处理
// 所有步骤共用同一套失败语义：限流无限重试、封禁入账本、未分类走终态
type Runner struct {
	store          Store
	ledger         RestrictionLedger
	notifier       Notifier
	trading        TradingProvider
	positions      PositionStore
	audits         Auditor
	serverIP       string
	principal      domain.SystemPrincipal
	maxAttempts    int
	baseRetryDelay time.Duration
	throttleDelay  time.Duration
	probeInterval  time.Duration
	log            *logrus.Entry
}

// NewRunner 创建 Runner
func NewRunner(opts RunnerOptions) *Runner {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.BaseRetryDelay <= 0 {
		opts.BaseRetryDelay = 5 * time.Second
	}
	if opts.ThrottleDelay <= 0 {
		opts.ThrottleDelay = backoff.DefaultBaseDelay
	}
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = 5 * time.Minute
	}
	if opts.Principal.Name == "" {
		opts.Principal = domain.DefaultSystemPrincipal
	}
	return &Runner{
		store:          opts.Store,
		ledger:         opts.Ledger,
		notifier:       opts.Notifier,
		trading:        opts.Trading,
		positions:      opts.Positions,
		audits:         opts.Audit,
		serverIP:       opts.ServerIP,
		principal:      opts.Principal,
		maxAttempts:    opts.MaxAttempts,
		baseRetryDelay: opts.BaseRetryDelay,
		throttleDelay:  opts.ThrottleDelay,
		probeInterval:  opts.ProbeInterval,
		log:            logrus.WithField("component", "step_runner"),
	}
}

// Run 执行一个已认领的步骤
// 返回 error 仅表示持久化等基础设施故障；业务失败都在内部消化
func (r *Runner) Run(ctx context.Context, st *WorkStep) error {
	now := time.Now()

	// 出站前预检封禁账本：命中限制的步骤直接改期，任何 worker 之后都可接手
	if r.ledger != nil && st.Venue != "" {
		restricted, err := r.ledger.IsRestricted(ctx, st.Venue, st.AccountID, r.serverIP, now)
		if err != nil {
			return errors.Wrap(err, "查询封禁账本失败")
		}
		if restricted {
			r.log.Warnf("步骤 %s 被账本拦截（venue=%s account=%s），%s 后再试",
				st.ID, st.Venue, st.AccountID, r.probeInterval)
			return r.store.Reschedule(ctx, st.ID, now.Add(r.probeInterval), st.Attempts)
		}
	}

	handler, err := NewHandler(st.Handler, st.Args)
	if err != nil {
		// 注册表里找不到处理器属于部署错误，直接走终态
		r.log.Errorf("步骤 %s 构造处理器失败: %v", st.ID, err)
		return r.terminalFail(ctx, st, err)
	}

	ec := &ExecContext{
		Step:      st,
		Principal: r.principal,
		Deps: &Deps{
			Store:     r.store,
			Ledger:    r.ledger,
			Notifier:  r.notifier,
			Trading:   r.trading,
			Positions: r.positions,
			ServerIP:  r.serverIP,
		},
	}

	// 前置守卫
	if g, ok := handler.(Guarded); ok {
		decision, gerr := g.Guard(ctx, ec)
		if gerr != nil {
			return r.handleFailure(ctx, st, gerr)
		}
		switch decision {
		case GuardSkip:
			return r.store.MarkSkipped(ctx, st.ID)
		case GuardAbortBlock:
			if err := r.store.MarkSkipped(ctx, st.ID); err != nil {
				return err
			}
			// 中止不是失败：剩余步骤作废，补偿步骤不提升
			_, err := r.store.HaltBlock(ctx, st.BlockUUID, false)
			return err
		}
	}

	out, execErr := handler.Execute(ctx, ec)
	if execErr != nil {
		return r.handleFailure(ctx, st, execErr)
	}

	if err := r.completeStep(ctx, st, out); err != nil {
		return err
	}

	if pc, ok := handler.(PostCompleter); ok {
		pc.OnComplete(ctx, ec, out)
	}
	metrics.StepsCompleted.Add(1)
	return nil
}

// completeStep 持久化结果并落地续接步骤/子工作流
func (r *Runner) completeStep(ctx context.Context, st *WorkStep, out *Outcome) error {
	var response json.RawMessage
	if out != nil && out.Response != nil {
		raw, err := json.Marshal(out.Response)
		if err != nil {
			return errors.Wrap(err, "序列化步骤结果失败")
		}
		response = raw
	}

	if out != nil && len(out.Next) > 0 {
		if err := ContinueFrom(ctx, r.store, st, out.Next); err != nil {
			return err
		}
	}
	if out != nil && out.Child != nil && len(out.Child.Steps) > 0 {
		childUUID, err := EnqueueChild(ctx, r.store, st.Queue, out.Child)
		if err != nil {
			return err
		}
		if err := r.store.SetChildBlock(ctx, st.ID, childUUID); err != nil {
			return err
		}
	}

	return r.store.Complete(ctx, st.ID, response)
}

// handleFailure 失败处理：分类 → 忽略/限流/封禁/预算/终态
func (r *Runner) handleFailure(ctx context.Context, st *WorkStep, failure error) error {
	now := time.Now()

	var ce *venue.CallError
	if !errors.As(failure, &ce) {
		// 非出站失败（本地逻辑/持久化抖动）：按瞬时未分类消耗预算
		r.log.Warnf("步骤 %s 非出站失败: %v", st.ID, failure)
		return r.consumeBudget(ctx, st, now)
	}

	prof, perr := venue.GetProfile(st.Venue)
	if perr != nil {
		r.log.Errorf("步骤 %s 的交易所 %s 未注册: %v", st.ID, st.Venue, perr)
		return r.terminalFail(ctx, st, failure)
	}

	c := classify.Classify(prof, ce)
	r.log.WithFields(logrus.Fields{
		"step":  st.ID,
		"venue": st.Venue,
		"class": string(c),
	}).Warnf("出站调用失败: %v", ce)

	switch {
	case c == classify.Ignorable:
		// 明确可忽略：按成功完结，结果为空
		return r.store.Complete(ctx, st.ID, json.RawMessage(`{}`))

	case c.IsThrottling():
		// 限流不是本步骤的失败：原样改期，不消耗重试预算，直到交易所放行
		metrics.StepsThrottled.Add(1)
		return r.store.Reschedule(ctx, st.ID, r.throttleAt(now, prof, c, ce), st.Attempts)

	case c.IsRestriction():
		// 入账本并改期，之后由任何未受限的 worker 接手
		metrics.RestrictionsRecorded.Add(1)
		r.recordRestriction(ctx, c, ce, st, now)
		return r.store.Reschedule(ctx, st.ID, now.Add(r.probeInterval), st.Attempts)

	case c == classify.Retryable:
		return r.consumeBudget(ctx, st, now)

	default: // classify.Unclassified
		return r.terminalFail(ctx, st, failure)
	}
}

// throttleAt 计算限流后的下一次尝试时间
func (r *Runner) throttleAt(now time.Time, prof venue.Profile, c classify.Classification, ce *venue.CallError) time.Time {
	opts := backoff.Options{BaseDelay: r.throttleDelay}
	// 固定窗口限频的交易所按窗口边界退避
	if wp, ok := prof.(venue.WindowBackoffProvider); ok &&
		(c == classify.RateLimited || c == classify.IPRateLimited) {
		return backoff.NextWindow(now, wp.RateLimitWindow(), opts)
	}
	return backoff.NextAttempt(now, ce, opts)
}

// recordRestriction 把限制写入账本（首次创建时账本内部发通知）
func (r *Runner) recordRestriction(ctx context.Context, c classify.Classification, ce *venue.CallError, st *WorkStep, now time.Time) {
	accountID := ""
	if c.AccountScoped() {
		accountID = st.AccountID
	}
	var until *time.Time
	// 服务端给了解除时间提示则带上（没有就留空，表示需要外部解除）
	if t, ok := backoff.RetryAfterHint(now, ce); ok {
		until = &t
	}
	rec := RestrictionRecord{
		Venue:         st.Venue,
		AccountID:     accountID,
		IP:            r.serverIP,
		Type:          string(c),
		Until:         until,
		VendorCode:    ce.Code,
		VendorMessage: ce.Message,
	}
	if err := r.ledger.RecordRestriction(ctx, rec); err != nil {
		r.log.Errorf("写入封禁账本失败: %v", err)
	}
}

// consumeBudget 消耗一次重试预算；预算耗尽走终态
func (r *Runner) consumeBudget(ctx context.Context, st *WorkStep, now time.Time) error {
	attempts := st.Attempts + 1
	if attempts >= r.maxAttempts {
		return r.terminalFail(ctx, st, errors.Errorf("重试预算耗尽（%d 次）", attempts))
	}
	// 指数退避，封顶 5 分钟
	delay := r.baseRetryDelay * time.Duration(1<<uint(attempts-1))
	if delay > 5*time.Minute {
		delay = 5 * time.Minute
	}
	return r.store.Reschedule(ctx, st.ID, now.Add(delay), attempts)
}

// terminalFail 终态失败：标记失败并触发 block 补偿
func (r *Runner) terminalFail(ctx context.Context, st *WorkStep, cause error) error {
	metrics.StepsFailed.Add(1)
	if err := r.store.Fail(ctx, st.ID); err != nil {
		return err
	}

	if st.Type == TypeResolveException {
		// 补偿步骤自身失败：上报运维，不再自动重试
		r.notifyTerminal(ctx, st, cause, "补偿步骤失败")
		r.appendAudit(ctx, st, "workflow_failed", "补偿步骤失败: "+causeText(cause))
		return nil
	}

	hasResolve, err := r.store.HaltBlock(ctx, st.BlockUUID, true)
	if err != nil {
		return err
	}
	metrics.BlocksCompensated.Add(1)
	r.appendAudit(ctx, st, "workflow_failed", "step="+st.Handler+" cause="+causeText(cause))
	if hasResolve {
		r.appendAudit(ctx, st, "compensated", "step="+st.Handler)
	} else {
		// 没有补偿步骤的 block 直接停住，上报运维
		r.notifyTerminal(ctx, st, cause, "工作流终态失败（无补偿步骤）")
	}
	return nil
}

// appendAudit 终态结果落审计表；审计失败只记日志，不影响主流程
func (r *Runner) appendAudit(ctx context.Context, st *WorkStep, kind, detail string) {
	if r.audits == nil {
		return
	}
	err := r.audits.AppendAuditEntry(ctx, AuditEntry{
		Kind:      kind,
		BlockUUID: st.BlockUUID,
		Workflow:  st.WorkflowID,
		AccountID: st.AccountID,
		Detail:    detail,
	})
	if err != nil {
		r.log.Errorf("写入审计失败: %v", err)
	}
}

func causeText(cause error) string {
	if cause == nil {
		return ""
	}
	return cause.Error()
}

func (r *Runner) notifyTerminal(ctx context.Context, st *WorkStep, cause error, title string) {
	if r.notifier == nil {
		return
	}
	msg := title + ": block=" + st.BlockUUID + " step=" + st.Handler
	if cause != nil {
		msg += " cause=" + cause.Error()
	}
	r.notifier.Notify(ctx, "operator", msg, "block_failed:"+st.BlockUUID)
}
