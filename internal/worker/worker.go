package worker

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/futbot/gofut/internal/metrics"
	"github.com/futbot/gofut/internal/repeater"
	"github.com/futbot/gofut/internal/step"
)

// Worker 步骤执行运行时：N 个轮询循环从队列认领步骤交给 Runner，
// 外加一个条件轮询（repeater）循环和一个租约回收循环。停止顺序由
// 调用方的 shutdown 管理器控制：先 cancel ctx，再 Wait 等所有循环退出

// Options Worker 配置
type Options struct {
	Store        step.Store
	Runner       *step.Runner
	Repeater     *repeater.Scheduler // 可为 nil
	Concurrency  int
	PollInterval time.Duration
	LeaseTTL     time.Duration // dispatched 步骤超过该时长未更新即判定认领方已死
	Queues       []string
}

type Worker struct {
	store        step.Store
	runner       *step.Runner
	repeater     *repeater.Scheduler
	concurrency  int
	pollInterval time.Duration
	leaseTTL     time.Duration
	queues       []string

	inFlight *InFlightDeduper
	wake     chan struct{}
	wg       sync.WaitGroup
	log      *logrus.Entry
}

// New 创建 Worker
func New(opts Options) *Worker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 5 * time.Minute
	}
	if len(opts.Queues) == 0 {
		opts.Queues = []string{"default"}
	}
	return &Worker{
		store:        opts.Store,
		runner:       opts.Runner,
		repeater:     opts.Repeater,
		concurrency:  opts.Concurrency,
		pollInterval: opts.PollInterval,
		leaseTTL:     opts.LeaseTTL,
		queues:       opts.Queues,
		inFlight:     NewInFlightDeduper(2*time.Minute, 16),
		wake:         make(chan struct{}, 1),
		log:          logrus.WithField("component", "worker"),
	}
}

// Wake 提示轮询循环立刻再认领一次（新步骤入库后调用，省掉一个轮询间隔）
// 非阻塞：已有待处理信号时直接丢弃
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Start 启动全部循环，立即返回
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.concurrency; i++ {
		id := i
		w.spawn(func() { w.pollLoop(ctx, id) })
	}
	if w.repeater != nil {
		w.spawn(func() { w.repeaterLoop(ctx) })
	}
	w.spawn(func() { w.leaseLoop(ctx) })
	w.log.Infof("worker 已启动: concurrency=%d queues=%v poll=%s lease=%s",
		w.concurrency, w.queues, w.pollInterval, w.leaseTTL)
}

// Wait 阻塞到所有循环退出
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) spawn(fn func()) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		fn()
	}()
}

// leaseLoop 回收崩溃 worker 残留的 dispatched 步骤
// 正常执行远快于 LeaseTTL，超时未更新的只能是认领方已死
func (w *Worker) leaseLoop(ctx context.Context) {
	ticker := time.NewTicker(w.leaseTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.store.RequeueStale(ctx, time.Now().Add(-w.leaseTTL))
			if err != nil {
				w.log.Errorf("回收超时步骤失败: %v", err)
				continue
			}
			if n > 0 {
				w.log.Warnf("回收 %d 个超时未完结的步骤", n)
				w.Wake()
			}
		}
	}
}

func (w *Worker) pollLoop(ctx context.Context, id int) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		// 认领到步骤就立刻再试一次，把同 block 之外的积压尽快清掉
		for {
			claimed, err := w.claimAndRun(ctx)
			if err != nil || !claimed {
				break
			}
		}

		select {
		case <-ctx.Done():
			w.log.Debugf("轮询循环 %d 退出", id)
			return
		case <-ticker.C:
		case <-w.wake:
		}
	}
}

// claimAndRun 认领并执行一个步骤；claimed=false 表示当前没有可派发步骤
func (w *Worker) claimAndRun(ctx context.Context) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	st, err := w.store.ClaimNext(ctx, w.queues, time.Now())
	if err != nil {
		w.log.Errorf("认领步骤失败: %v", err)
		return false, err
	}
	if st == nil {
		return false, nil
	}

	if err := w.inFlight.TryAcquire(st.ID); err != nil {
		// 本进程已有同 ID 在执行：放回队列稍后重试，不能把步骤丢在 dispatched 上
		if rerr := w.store.Reschedule(ctx, st.ID, time.Now().Add(w.pollInterval), st.Attempts); rerr != nil {
			w.log.Errorf("放回重复认领的步骤 %s 失败: %v", st.ID, rerr)
		}
		return false, nil
	}
	defer w.inFlight.Release(st.ID)

	metrics.StepsClaimed.Add(1)
	if err := w.runner.Run(ctx, st); err != nil {
		// Runner 返回 error 只代表状态落库失败，业务失败都在内部消化
		w.log.Errorf("步骤 %s(%s) 状态落库失败: %v", st.Handler, st.ID, err)
	}
	return true, nil
}

func (w *Worker) repeaterLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.repeater.Tick(ctx, time.Now()); err != nil {
				w.log.Errorf("条件轮询执行失败: %v", err)
			}
		}
	}
}
