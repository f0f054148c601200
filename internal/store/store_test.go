package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/futbot/gofut/internal/domain"
	"github.com/futbot/gofut/internal/ledger"
	"github.com/futbot/gofut/internal/repeater"
)

func TestPositionCASStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now()
	pos := &domain.Position{
		ID:         "pos-1",
		AccountID:  "main",
		Venue:      "binance",
		Symbol:     "BTCUSDT",
		Side:       domain.PositionSideLong,
		Leverage:   5,
		MarginMode: "isolated",
		Size:       decimal.NewFromInt(1),
		FilledSize: decimal.Zero,
		EntryPrice: decimal.Zero,
		Status:     domain.PositionStatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.CreatePosition(ctx, pos); err != nil {
		t.Fatalf("CreatePosition: %v", err)
	}

	ok, err := s.CASStatus(ctx, "pos-1", domain.PositionStatusActive, domain.PositionStatusClosing)
	if err != nil {
		t.Fatalf("CASStatus: %v", err)
	}
	if !ok {
		t.Fatal("first CAS must win")
	}

	// a competing workflow loses the race
	ok, err = s.CASStatus(ctx, "pos-1", domain.PositionStatusActive, domain.PositionStatusCanceling)
	if err != nil {
		t.Fatalf("CASStatus: %v", err)
	}
	if ok {
		t.Fatal("second CAS on stale status must lose")
	}

	got, err := s.GetPosition(ctx, "pos-1")
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if got.Status != domain.PositionStatusClosing {
		t.Fatalf("status got=%s want=closing", got.Status)
	}
}

func TestPositionUpdateFill(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now()
	pos := &domain.Position{
		ID: "pos-2", AccountID: "main", Venue: "binance", Symbol: "ETHUSDT",
		Side: domain.PositionSideShort, Leverage: 3, MarginMode: "cross",
		Size: decimal.NewFromInt(10), FilledSize: decimal.Zero, EntryPrice: decimal.Zero,
		Status: domain.PositionStatusOpening, CreatedAt: now, UpdatedAt: now,
	}
	if err := s.CreatePosition(ctx, pos); err != nil {
		t.Fatalf("CreatePosition: %v", err)
	}

	pos.AddFill(decimal.NewFromInt(4), decimal.NewFromInt(2000))
	pos.AddFill(decimal.NewFromInt(6), decimal.NewFromInt(2100))
	if err := s.UpdateFill(ctx, pos.ID, pos); err != nil {
		t.Fatalf("UpdateFill: %v", err)
	}

	got, err := s.GetPosition(ctx, pos.ID)
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if !got.FilledSize.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("filled got=%s want=10", got.FilledSize)
	}
	// (4*2000 + 6*2100) / 10 = 2060
	if !got.EntryPrice.Equal(decimal.NewFromInt(2060)) {
		t.Fatalf("entry got=%s want=2060", got.EntryPrice)
	}
}

func TestUpsertBanIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := ledger.BanRecord{
		Venue:      "binance",
		AccountID:  "main",
		IP:         "1.2.3.4",
		Type:       "ip-not-whitelisted",
		VendorCode: "-2015",
	}
	created, err := s.UpsertBan(ctx, rec)
	if err != nil {
		t.Fatalf("UpsertBan: %v", err)
	}
	if !created {
		t.Fatal("first upsert must report created")
	}
	created, err = s.UpsertBan(ctx, rec)
	if err != nil {
		t.Fatalf("UpsertBan: %v", err)
	}
	if created {
		t.Fatal("refresh of the same key must not report created")
	}

	bans, err := s.ListBans(ctx)
	if err != nil {
		t.Fatalf("ListBans: %v", err)
	}
	if len(bans) != 1 {
		t.Fatalf("bans got=%d want=1", len(bans))
	}
}

func TestActiveBansScoping(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// account level for "alice", server level (empty account) for the IP
	if _, err := s.UpsertBan(ctx, ledger.BanRecord{
		Venue: "bybit", AccountID: "alice", IP: "1.2.3.4", Type: "account-blocked",
	}); err != nil {
		t.Fatalf("UpsertBan: %v", err)
	}
	if _, err := s.UpsertBan(ctx, ledger.BanRecord{
		Venue: "okx", AccountID: "", IP: "1.2.3.4", Type: "ip-banned",
	}); err != nil {
		t.Fatalf("UpsertBan: %v", err)
	}

	// bob on bybit is unaffected by alice's account ban
	recs, err := s.ActiveBans(ctx, "bybit", "bob", "1.2.3.4")
	if err != nil {
		t.Fatalf("ActiveBans: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("bob should not be restricted, got %d records", len(recs))
	}

	// the server-level okx ban hits every account on that IP
	recs, err = s.ActiveBans(ctx, "okx", "bob", "1.2.3.4")
	if err != nil {
		t.Fatalf("ActiveBans: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("server-level ban should apply, got %d records", len(recs))
	}
}

func TestDeleteBan(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := ledger.BanRecord{Venue: "binance", AccountID: "main", IP: "1.2.3.4", Type: "ip-not-whitelisted"}
	if _, err := s.UpsertBan(ctx, rec); err != nil {
		t.Fatalf("UpsertBan: %v", err)
	}
	if err := s.DeleteBan(ctx, rec.Venue, rec.AccountID, rec.IP, rec.Type); err != nil {
		t.Fatalf("DeleteBan: %v", err)
	}
	bans, _ := s.ListBans(ctx)
	if len(bans) != 0 {
		t.Fatalf("bans got=%d want=0", len(bans))
	}
}

func TestRepeaterTaskDedup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now()
	task := &repeater.Task{
		ID: "task-1", Handler: "probe", DedupKey: "probe:binance:main",
		Args: []byte(`{}`), Strategy: repeater.StrategyFixed,
		Interval: time.Minute, MaxAttempts: 10,
		NextRunAt: now, CreatedAt: now, UpdatedAt: now,
	}
	created, err := s.CreateTask(ctx, task)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if !created {
		t.Fatal("first create must succeed")
	}

	dup := *task
	dup.ID = "task-2"
	created, err = s.CreateTask(ctx, &dup)
	if err != nil {
		t.Fatalf("CreateTask dup: %v", err)
	}
	if created {
		t.Fatal("same dedup key must not create a second task")
	}

	tasks, err := s.ListTasks(ctx)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("tasks got=%d want=1", len(tasks))
	}
}

func TestRepeaterDueTasksAndFiring(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now()
	task := &repeater.Task{
		ID: "task-1", Handler: "probe", DedupKey: "k1", Args: []byte(`{}`),
		Strategy: repeater.StrategyFixed, Interval: time.Minute, MaxAttempts: 3,
		NextRunAt: now.Add(-time.Second), CreatedAt: now, UpdatedAt: now,
	}
	if _, err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	due, err := s.DueTasks(ctx, now, 10)
	if err != nil {
		t.Fatalf("DueTasks: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("due got=%d want=1", len(due))
	}

	if err := s.UpdateAfterFiring(ctx, task.ID, 1, now.Add(time.Minute)); err != nil {
		t.Fatalf("UpdateAfterFiring: %v", err)
	}
	due, err = s.DueTasks(ctx, now, 10)
	if err != nil {
		t.Fatalf("DueTasks: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("task rescheduled to the future must not be due, got %d", len(due))
	}

	if err := s.DeleteTask(ctx, task.ID); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	tasks, _ := s.ListTasks(ctx)
	if len(tasks) != 0 {
		t.Fatalf("tasks got=%d want=0", len(tasks))
	}
}

func TestAudits(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, kind := range []string{"workflow_start", "workflow_failed"} {
		if err := s.AppendAudit(ctx, AuditRecord{
			Kind: kind, BlockUUID: "blk-1", Workflow: "futures.open", AccountID: "main",
		}); err != nil {
			t.Fatalf("AppendAudit: %v", err)
		}
	}
	if err := s.AppendAudit(ctx, AuditRecord{Kind: "workflow_start", BlockUUID: "blk-2"}); err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}

	recs, err := s.ListAudits(ctx, "blk-1", 10)
	if err != nil {
		t.Fatalf("ListAudits: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("audits got=%d want=2", len(recs))
	}
	// newest first
	if recs[0].Kind != "workflow_failed" {
		t.Fatalf("first audit got=%s want=workflow_failed", recs[0].Kind)
	}
}
