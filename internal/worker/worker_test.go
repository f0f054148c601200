package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/futbot/gofut/internal/step"
)

// queueStore 只记录 Worker 对持久层的调用
type queueStore struct {
	mu          sync.Mutex
	next        []*step.WorkStep
	rescheduled []string
	requeues    []time.Time
}

func (q *queueStore) CreateSteps(ctx context.Context, steps []*step.WorkStep) error { return nil }

func (q *queueStore) ClaimNext(ctx context.Context, queues []string, now time.Time) (*step.WorkStep, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.next) == 0 {
		return nil, nil
	}
	st := q.next[0]
	q.next = q.next[1:]
	return st, nil
}

func (q *queueStore) RequeueStale(ctx context.Context, olderThan time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.requeues = append(q.requeues, olderThan)
	return 0, nil
}

func (q *queueStore) Reschedule(ctx context.Context, id string, at time.Time, attempts int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rescheduled = append(q.rescheduled, id)
	return nil
}

func (q *queueStore) Complete(ctx context.Context, id string, response json.RawMessage) error {
	return nil
}
func (q *queueStore) MarkSkipped(ctx context.Context, id string) error { return nil }
func (q *queueStore) Fail(ctx context.Context, id string) error        { return nil }
func (q *queueStore) HaltBlock(ctx context.Context, blockUUID string, promoteResolve bool) (bool, error) {
	return false, nil
}
func (q *queueStore) SetChildBlock(ctx context.Context, stepID, childBlockUUID string) error {
	return nil
}
func (q *queueStore) StepsInBlock(ctx context.Context, blockUUID string) ([]*step.WorkStep, error) {
	return nil, nil
}

func TestDuplicateClaimReschedulesStep(t *testing.T) {
	qs := &queueStore{next: []*step.WorkStep{{
		ID:        "dup-step",
		Handler:   "noop",
		BlockUUID: "blk",
		Status:    step.StatusDispatched,
	}}}
	w := New(Options{Store: qs})

	// 同 ID 已在本进程执行中
	if err := w.inFlight.TryAcquire("dup-step"); err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}

	claimed, err := w.claimAndRun(context.Background())
	if err != nil {
		t.Fatalf("claimAndRun: %v", err)
	}
	if claimed {
		t.Fatal("duplicate claim must not count as progress")
	}
	// 重复认领必须放回队列，不能丢在 dispatched 上
	if len(qs.rescheduled) != 1 || qs.rescheduled[0] != "dup-step" {
		t.Fatalf("rescheduled got=%v want=[dup-step]", qs.rescheduled)
	}
}

func TestWakeNeverBlocks(t *testing.T) {
	w := New(Options{Store: &queueStore{}})
	// 没有消费者时连续唤醒也不能阻塞
	w.Wake()
	w.Wake()
	w.Wake()
	select {
	case <-w.wake:
	default:
		t.Fatal("expected a pending wake signal")
	}
}
