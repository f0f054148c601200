package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/futbot/gofut/internal/step"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustNewBlock(t *testing.T, s *Store, specs []step.Spec) string {
	t.Helper()
	blockUUID, err := step.NewBlock(context.Background(), s, "default", specs)
	if err != nil {
		t.Fatalf("NewBlock: %v", err)
	}
	return blockUUID
}

func claim(t *testing.T, s *Store) *step.WorkStep {
	t.Helper()
	st, err := s.ClaimNext(context.Background(), nil, time.Now())
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	return st
}

func TestClaimNextOrderWithinBlock(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mustNewBlock(t, s, []step.Spec{
		{Handler: "first", Args: map[string]string{}},
		{Handler: "second", Args: map[string]string{}},
	})

	st := claim(t, s)
	if st == nil || st.Handler != "first" {
		t.Fatalf("expected to claim first, got %+v", st)
	}

	// block is serial: second must wait while first is dispatched
	if other := claim(t, s); other != nil {
		t.Fatalf("claimed %s while first still dispatched", other.Handler)
	}

	if err := s.Complete(ctx, st.ID, nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	st2 := claim(t, s)
	if st2 == nil || st2.Handler != "second" {
		t.Fatalf("expected to claim second, got %+v", st2)
	}
}

func TestClaimNextHonorsDispatchAfter(t *testing.T) {
	s := openTestStore(t)

	mustNewBlock(t, s, []step.Spec{
		{Handler: "later", Args: map[string]string{}, DispatchAfter: time.Now().Add(time.Hour)},
	})
	if st := claim(t, s); st != nil {
		t.Fatalf("claimed step scheduled for the future: %+v", st)
	}
}

func TestClaimNextSkipsStandbyResolve(t *testing.T) {
	s := openTestStore(t)

	mustNewBlock(t, s, []step.Spec{
		{Handler: "work", Args: map[string]string{}},
		{Handler: "compensate", Args: map[string]string{}, Type: step.TypeResolveException},
	})

	st := claim(t, s)
	if st == nil || st.Handler != "work" {
		t.Fatalf("expected work, got %+v", st)
	}
	if err := s.Complete(context.Background(), st.ID, nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	// standby compensation step never dispatches on the normal path
	if st := claim(t, s); st != nil {
		t.Fatalf("claimed standby step: %+v", st)
	}
}

func TestClaimNextQueueFilter(t *testing.T) {
	s := openTestStore(t)

	mustNewBlock(t, s, []step.Spec{{Handler: "a", Args: map[string]string{}, Queue: "trading"}})

	st, err := s.ClaimNext(context.Background(), []string{"other"}, time.Now())
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if st != nil {
		t.Fatalf("claimed from wrong queue: %+v", st)
	}
	st, err = s.ClaimNext(context.Background(), []string{"trading"}, time.Now())
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if st == nil {
		t.Fatal("expected claim from trading queue")
	}
}

func TestRescheduleMakesClaimableAgain(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mustNewBlock(t, s, []step.Spec{{Handler: "retry-me", Args: map[string]string{}}})
	st := claim(t, s)
	if st == nil {
		t.Fatal("expected claim")
	}
	if err := s.Reschedule(ctx, st.ID, time.Now().Add(-time.Second), 2); err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	st2 := claim(t, s)
	if st2 == nil || st2.ID != st.ID {
		t.Fatalf("expected to reclaim %s, got %+v", st.ID, st2)
	}
	if st2.Attempts != 2 {
		t.Fatalf("attempts got=%d want=2", st2.Attempts)
	}
}

func TestHaltBlockPromotesResolve(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	blockUUID := mustNewBlock(t, s, []step.Spec{
		{Handler: "a", Args: map[string]string{}},
		{Handler: "b", Args: map[string]string{}},
		{Handler: "compensate", Args: map[string]string{}, Type: step.TypeResolveException},
	})

	st := claim(t, s)
	if err := s.Fail(ctx, st.ID); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	hasResolve, err := s.HaltBlock(ctx, blockUUID, true)
	if err != nil {
		t.Fatalf("HaltBlock: %v", err)
	}
	if !hasResolve {
		t.Fatal("expected promoted compensation step")
	}

	steps, err := s.StepsInBlock(ctx, blockUUID)
	if err != nil {
		t.Fatalf("StepsInBlock: %v", err)
	}
	byHandler := map[string]step.Status{}
	for _, ws := range steps {
		byHandler[ws.Handler] = ws.Status
	}
	if byHandler["a"] != step.StatusFailed {
		t.Fatalf("a got=%s want=failed", byHandler["a"])
	}
	if byHandler["b"] != step.StatusHalted {
		t.Fatalf("b got=%s want=halted", byHandler["b"])
	}
	if byHandler["compensate"] != step.StatusPending {
		t.Fatalf("compensate got=%s want=pending", byHandler["compensate"])
	}

	// only the compensation step is dispatchable now
	next := claim(t, s)
	if next == nil || next.Handler != "compensate" {
		t.Fatalf("expected compensate, got %+v", next)
	}
}

func TestHaltBlockWithoutPromotionHaltsResolve(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	blockUUID := mustNewBlock(t, s, []step.Spec{
		{Handler: "a", Args: map[string]string{}},
		{Handler: "compensate", Args: map[string]string{}, Type: step.TypeResolveException},
	})

	st := claim(t, s)
	if err := s.MarkSkipped(ctx, st.ID); err != nil {
		t.Fatalf("MarkSkipped: %v", err)
	}
	hasResolve, err := s.HaltBlock(ctx, blockUUID, false)
	if err != nil {
		t.Fatalf("HaltBlock: %v", err)
	}
	if hasResolve {
		t.Fatal("abort must not promote the compensation step")
	}
	if next := claim(t, s); next != nil {
		t.Fatalf("nothing should be dispatchable, got %+v", next)
	}
}

func TestContinuationRunsBeforeLaterSteps(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// 典型形状：核对 → 收尾 → 备用补偿
	mustNewBlock(t, s, []step.Spec{
		{Handler: "verify", Args: map[string]string{}},
		{Handler: "finalize", Args: map[string]string{}},
		{Handler: "compensate", Args: map[string]string{}, Type: step.TypeResolveException},
	})

	verify := claim(t, s)
	if verify == nil || verify.Handler != "verify" {
		t.Fatalf("expected verify, got %+v", verify)
	}
	// verify 未出结论：续接一次复查再完结自己
	if err := step.ContinueFrom(ctx, s, verify, []step.Spec{
		{Handler: "recheck", Args: map[string]string{}},
	}); err != nil {
		t.Fatalf("ContinueFrom: %v", err)
	}
	if err := s.Complete(ctx, verify.ID, nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	// 复查必须先于收尾派发
	next := claim(t, s)
	if next == nil || next.Handler != "recheck" {
		t.Fatalf("expected recheck before finalize, got %+v", next)
	}
	if next.Index != verify.Index {
		t.Fatalf("recheck index got=%d want=%d", next.Index, verify.Index)
	}
	if err := s.Complete(ctx, next.ID, nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	// 复查完结后轮到收尾；standby 的补偿步骤全程不阻塞
	fin := claim(t, s)
	if fin == nil || fin.Handler != "finalize" {
		t.Fatalf("expected finalize, got %+v", fin)
	}
	if err := s.Complete(ctx, fin.ID, nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if leftover := claim(t, s); leftover != nil {
		t.Fatalf("nothing should be dispatchable, got %+v", leftover)
	}
}

func TestContinuationWaitsOutDispatchAfter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mustNewBlock(t, s, []step.Spec{
		{Handler: "verify", Args: map[string]string{}},
		{Handler: "finalize", Args: map[string]string{}},
	})
	verify := claim(t, s)
	if err := step.ContinueFrom(ctx, s, verify, []step.Spec{
		{Handler: "recheck", Args: map[string]string{}, DispatchAfter: time.Now().Add(time.Hour)},
	}); err != nil {
		t.Fatalf("ContinueFrom: %v", err)
	}
	if err := s.Complete(ctx, verify.ID, nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	// 复查未到派发时间：收尾也必须等着，不能先行
	if st := claim(t, s); st != nil {
		t.Fatalf("finalize must wait for the pending recheck, got %+v", st)
	}
}

func TestRequeueStaleReclaimsDispatched(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mustNewBlock(t, s, []step.Spec{{Handler: "work", Args: map[string]string{}}})
	st := claim(t, s)
	if st == nil {
		t.Fatal("expected to claim work")
	}

	// 租约未到期：不回收
	n, err := s.RequeueStale(ctx, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("RequeueStale: %v", err)
	}
	if n != 0 {
		t.Fatalf("requeued got=%d want=0", n)
	}
	if other := claim(t, s); other != nil {
		t.Fatalf("claimed while still leased: %+v", other)
	}

	// 租约过期：回收后可被重新认领
	n, err = s.RequeueStale(ctx, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("RequeueStale: %v", err)
	}
	if n != 1 {
		t.Fatalf("requeued got=%d want=1", n)
	}
	again := claim(t, s)
	if again == nil || again.ID != st.ID {
		t.Fatalf("expected to reclaim %s, got %+v", st.ID, again)
	}
}

func TestSetChildBlock(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	blockUUID := mustNewBlock(t, s, []step.Spec{{Handler: "parent", Args: map[string]string{}}})
	steps, _ := s.StepsInBlock(ctx, blockUUID)

	childUUID, err := step.EnqueueChild(ctx, s, "default", &step.ChildBlock{
		Steps: []step.Spec{{Handler: "child", Args: map[string]string{}}},
	})
	if err != nil {
		t.Fatalf("EnqueueChild: %v", err)
	}
	if err := s.SetChildBlock(ctx, steps[0].ID, childUUID); err != nil {
		t.Fatalf("SetChildBlock: %v", err)
	}

	reloaded, _ := s.StepsInBlock(ctx, blockUUID)
	if reloaded[0].ChildBlockUUID != childUUID {
		t.Fatalf("child block got=%s want=%s", reloaded[0].ChildBlockUUID, childUUID)
	}
}
