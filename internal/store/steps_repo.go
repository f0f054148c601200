package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/futbot/gofut/internal/step"
)

// steps_repo 实现 step.Store

const stepColumns = `id, handler, args_json, queue, block_uuid, child_block_uuid, step_index,
workflow_id, step_type, status, attempts, dispatch_after, response_json, venue, account_id,
created_at, updated_at`

func (s *Store) CreateSteps(ctx context.Context, steps []*step.WorkStep) error {
	if len(steps) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, st := range steps {
		var child, workflow *string
		if st.ChildBlockUUID != "" {
			child = &st.ChildBlockUUID
		}
		if st.WorkflowID != "" {
			workflow = &st.WorkflowID
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO work_steps (id, handler, args_json, queue, block_uuid, child_block_uuid, step_index,
  workflow_id, step_type, status, attempts, dispatch_after, venue, account_id, created_at, updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
`, st.ID, st.Handler, string(st.Args), st.Queue, st.BlockUUID, child, st.Index,
			workflow, string(st.Type), string(st.Status), st.Attempts, fmtTime(st.DispatchAfter),
			st.Venue, st.AccountID, fmtTime(st.CreatedAt), fmtTime(st.UpdatedAt))
		if err != nil {
			return fmt.Errorf("insert step %s: %w", st.Handler, err)
		}
	}
	return tx.Commit()
}

// ClaimNext 认领下一个可派发步骤
// 候选条件：
//   - 自身 pending 且 dispatch_after 已到
//   - 所在 block 内没有更早（index 更小，或同 index 先创建）的未完结步骤
//   - 所在 block 内没有正在执行（dispatched）的步骤——block 串行
//
// standby 的补偿步骤不算未完结：它只在 HaltBlock 提升后参与派发，
// 平时不能阻塞同 block 的 normal 步骤
//
// 多 worker 竞争用「UPDATE ... WHERE status='pending'」的 CAS 收尾，
// 抢不到就看下一个候选
func (s *Store) ClaimNext(ctx context.Context, queues []string, now time.Time) (*step.WorkStep, error) {
	var (
		args  []any
		where string
	)
	args = append(args, fmtTime(now))
	if len(queues) > 0 {
		where = fmt.Sprintf(" AND w.queue IN (%s)", placeholders(len(queues)))
		for _, q := range queues {
			args = append(args, q)
		}
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
SELECT %s FROM work_steps w
WHERE w.status='pending' AND w.dispatch_after<=?%s
AND NOT EXISTS (
  SELECT 1 FROM work_steps o
  WHERE o.block_uuid=w.block_uuid AND o.id<>w.id
    AND o.status NOT IN ('completed','skipped','failed','halted','standby')
    AND (
      o.status='dispatched'
      OR o.step_index < w.step_index
      OR (o.step_index = w.step_index AND o.created_at < w.created_at)
    )
)
ORDER BY w.dispatch_after, w.created_at
LIMIT 16
`, qualify(stepColumns, "w"), where), args...)
	if err != nil {
		return nil, err
	}
	candidates, err := scanSteps(rows)
	if err != nil {
		return nil, err
	}

	for _, cand := range candidates {
		res, err := s.db.ExecContext(ctx, `
UPDATE work_steps SET status='dispatched', updated_at=? WHERE id=? AND status='pending'
`, fmtTime(now), cand.ID)
		if err != nil {
			return nil, err
		}
		if n, _ := res.RowsAffected(); n == 1 {
			cand.Status = step.StatusDispatched
			return cand, nil
		}
		// 被别的 worker 抢走，看下一个
	}
	return nil, nil
}

func (s *Store) Reschedule(ctx context.Context, id string, at time.Time, attempts int) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE work_steps SET status='pending', dispatch_after=?, attempts=?, updated_at=? WHERE id=?
`, fmtTime(at), attempts, fmtTime(time.Now()), id)
	return err
}

func (s *Store) Complete(ctx context.Context, id string, response json.RawMessage) error {
	var resp *string
	if len(response) > 0 {
		v := string(response)
		resp = &v
	}
	_, err := s.db.ExecContext(ctx, `
UPDATE work_steps SET status='completed', response_json=?, updated_at=? WHERE id=?
`, resp, fmtTime(time.Now()), id)
	return err
}

func (s *Store) MarkSkipped(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE work_steps SET status='skipped', updated_at=? WHERE id=?
`, fmtTime(time.Now()), id)
	return err
}

func (s *Store) Fail(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE work_steps SET status='failed', updated_at=? WHERE id=?
`, fmtTime(time.Now()), id)
	return err
}

func (s *Store) HaltBlock(ctx context.Context, blockUUID string, promoteResolve bool) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	now := fmtTime(time.Now())

	// 未完结的 normal 步骤全部作废
	if _, err := tx.ExecContext(ctx, `
UPDATE work_steps SET status='halted', updated_at=?
WHERE block_uuid=? AND step_type='normal' AND status IN ('pending','dispatched')
`, now, blockUUID); err != nil {
		return false, err
	}

	hasResolve := false
	if promoteResolve {
		res, err := tx.ExecContext(ctx, `
UPDATE work_steps SET status='pending', dispatch_after=?, updated_at=?
WHERE block_uuid=? AND step_type='resolve-exception' AND status='standby'
`, now, now, blockUUID)
		if err != nil {
			return false, err
		}
		n, _ := res.RowsAffected()
		hasResolve = n > 0
	} else {
		if _, err := tx.ExecContext(ctx, `
UPDATE work_steps SET status='halted', updated_at=?
WHERE block_uuid=? AND step_type='resolve-exception' AND status='standby'
`, now, blockUUID); err != nil {
			return false, err
		}
	}

	return hasResolve, tx.Commit()
}

func (s *Store) SetChildBlock(ctx context.Context, stepID, childBlockUUID string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE work_steps SET child_block_uuid=?, updated_at=? WHERE id=?
`, childBlockUUID, fmtTime(time.Now()), stepID)
	return err
}

// RequeueStale 把更新时间早于 olderThan 的 dispatched 步骤放回 pending
// 认领方崩溃后的租约回收：没有它，残留的 dispatched 会卡死整个 block
func (s *Store) RequeueStale(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE work_steps SET status='pending', updated_at=? WHERE status='dispatched' AND updated_at<?
`, fmtTime(time.Now()), fmtTime(olderThan))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) StepsInBlock(ctx context.Context, blockUUID string) ([]*step.WorkStep, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
SELECT %s FROM work_steps WHERE block_uuid=? ORDER BY step_index, created_at
`, stepColumns), blockUUID)
	if err != nil {
		return nil, err
	}
	return scanSteps(rows)
}

// ListRecentSteps 管理面用：按创建时间倒序
func (s *Store) ListRecentSteps(ctx context.Context, limit int) ([]*step.WorkStep, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
SELECT %s FROM work_steps ORDER BY created_at DESC LIMIT ?
`, stepColumns), limit)
	if err != nil {
		return nil, err
	}
	return scanSteps(rows)
}

func scanSteps(rows *sql.Rows) ([]*step.WorkStep, error) {
	defer rows.Close()

	var out []*step.WorkStep
	for rows.Next() {
		var (
			st            step.WorkStep
			argsJSON      string
			child         sql.NullString
			workflow      sql.NullString
			stepType      string
			status        string
			dispatchAfter string
			respJSON      sql.NullString
			createdAt     string
			updatedAt     string
		)
		if err := rows.Scan(&st.ID, &st.Handler, &argsJSON, &st.Queue, &st.BlockUUID, &child,
			&st.Index, &workflow, &stepType, &status, &st.Attempts, &dispatchAfter, &respJSON,
			&st.Venue, &st.AccountID, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		st.Args = json.RawMessage(argsJSON)
		if child.Valid {
			st.ChildBlockUUID = child.String
		}
		if workflow.Valid {
			st.WorkflowID = workflow.String
		}
		st.Type = step.Type(stepType)
		st.Status = step.Status(status)
		st.DispatchAfter = parseTime(dispatchAfter)
		if respJSON.Valid {
			st.Response = json.RawMessage(respJSON.String)
		}
		st.CreatedAt = parseTime(createdAt)
		st.UpdatedAt = parseTime(updatedAt)
		out = append(out, &st)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// qualify 给列名加表别名前缀
func qualify(columns, alias string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
