package repeater

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/futbot/gofut/internal/metrics"
)

// 条件轮询器（Repeater）：有界重试地等待一个由外部解决的条件
// 典型场景：等用户把本机 IP 加回交易所白名单。同一条件同时只有一个
// 轮询任务在册；重试耗尽后自行终止，之后交给人工

// Strategy 重试间隔策略
type Strategy string

const (
	// StrategyFixed 固定间隔
	StrategyFixed Strategy = "fixed"
	// StrategyGrowing 间隔随次数成比例增长（interval * attempts）
	StrategyGrowing Strategy = "growing"
)

// Task 一个在册的轮询任务
type Task struct {
	ID          string
	Handler     string
	DedupKey    string // 唯一键：同一条件不重复注册
	Args        json.RawMessage
	Strategy    Strategy
	Interval    time.Duration
	MaxAttempts int
	Attempts    int
	NextRunAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Store 轮询任务持久化接口（sqlite 实现见 internal/store）
type Store interface {
	// CreateTask 注册任务；dedup_key 已存在时不重复创建，created=false
	CreateTask(ctx context.Context, t *Task) (created bool, err error)
	// DueTasks 返回 next_run_at 已到的任务
	DueTasks(ctx context.Context, now time.Time, limit int) ([]*Task, error)
	// UpdateAfterFiring 记一次尝试并排下一次
	UpdateAfterFiring(ctx context.Context, id string, attempts int, next time.Time) error
	// DeleteTask 移除任务（条件已解决或重试耗尽）
	DeleteTask(ctx context.Context, id string) error
	// ListTasks 管理面用
	ListTasks(ctx context.Context) ([]*Task, error)
}

// HandlerFunc 轮询处理函数：resolved 为 true 表示条件已解决
type HandlerFunc func(ctx context.Context, args json.RawMessage) (resolved bool, err error)

var (
	handlersMu sync.RWMutex
	handlers   = make(map[string]HandlerFunc)
)

// RegisterHandler 注册轮询处理函数（init() 中调用）
func RegisterHandler(name string, fn HandlerFunc) {
	handlersMu.Lock()
	defer handlersMu.Unlock()

	if _, exists := handlers[name]; exists {
		panic(fmt.Errorf("repeater handler %s already registered", name))
	}
	handlers[name] = fn
}

func getHandler(name string) (HandlerFunc, bool) {
	handlersMu.RLock()
	defer handlersMu.RUnlock()
	fn, ok := handlers[name]
	return fn, ok
}

// Scheduler 轮询调度器
type Scheduler struct {
	store Store
	log   *logrus.Entry
}

// NewScheduler 创建调度器
func NewScheduler(store Store) *Scheduler {
	return &Scheduler{
		store: store,
		log:   logrus.WithField("component", "repeater"),
	}
}

// Schedule 注册一个轮询任务
// 同一 dedupKey 已有任务在册时静默返回，不会出现重复轮询
func (s *Scheduler) Schedule(ctx context.Context, handler, dedupKey string, args any,
	strategy Strategy, interval time.Duration, maxAttempts int) error {

	if interval <= 0 {
		return errors.New("轮询间隔必须为正")
	}
	if maxAttempts <= 0 {
		return errors.New("最大尝试次数必须为正")
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return errors.Wrap(err, "序列化轮询参数失败")
	}
	if strategy == "" {
		strategy = StrategyFixed
	}

	now := time.Now()
	created, err := s.store.CreateTask(ctx, &Task{
		ID:          uuid.NewString(),
		Handler:     handler,
		DedupKey:    dedupKey,
		Args:        raw,
		Strategy:    strategy,
		Interval:    interval,
		MaxAttempts: maxAttempts,
		NextRunAt:   now.Add(interval),
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return err
	}
	if created {
		s.log.Infof("轮询任务注册: handler=%s key=%s interval=%s max=%d",
			handler, dedupKey, interval, maxAttempts)
	}
	return nil
}

// Tick 执行一轮到期任务（worker 定时调用）
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	tasks, err := s.store.DueTasks(ctx, now, 32)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		s.fire(ctx, t, now)
	}
	return nil
}

func (s *Scheduler) fire(ctx context.Context, t *Task, now time.Time) {
	fn, ok := getHandler(t.Handler)
	if !ok {
		s.log.Errorf("轮询处理器 %s 未注册，移除任务 %s", t.Handler, t.DedupKey)
		_ = s.store.DeleteTask(ctx, t.ID)
		return
	}

	metrics.RepeaterFirings.Add(1)
	resolved, err := fn(ctx, t.Args)
	if err != nil {
		// 处理函数出错按「条件未解决」处理，同样消耗一次尝试
		s.log.Warnf("轮询 %s 第 %d 次执行失败: %v", t.DedupKey, t.Attempts+1, err)
	}
	if resolved {
		s.log.Infof("条件已解决，移除轮询: %s", t.DedupKey)
		_ = s.store.DeleteTask(ctx, t.ID)
		return
	}

	attempts := t.Attempts + 1
	if attempts >= t.MaxAttempts {
		// 重试耗尽：自行终止，不再追加通知噪音
		metrics.RepeaterExhausted.Add(1)
		s.log.Warnf("轮询 %s 已达最大尝试次数 %d，终止", t.DedupKey, t.MaxAttempts)
		_ = s.store.DeleteTask(ctx, t.ID)
		return
	}

	next := now.Add(t.NextInterval(attempts))
	if err := s.store.UpdateAfterFiring(ctx, t.ID, attempts, next); err != nil {
		s.log.Errorf("更新轮询任务 %s 失败: %v", t.DedupKey, err)
	}
}

// NextInterval 第 attempts 次之后的等待间隔
func (t *Task) NextInterval(attempts int) time.Duration {
	if t.Strategy == StrategyGrowing && attempts > 0 {
		return t.Interval * time.Duration(attempts)
	}
	return t.Interval
}
