package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/futbot/gofut/internal/repeater"
)

const repeaterColumns = `id, handler, dedup_key, args_json, strategy, interval_sec,
  max_attempts, attempts, next_run_at, created_at, updated_at`

// CreateTask 注册轮询任务；dedup_key 冲突视为已在册，不报错
func (s *Store) CreateTask(ctx context.Context, t *repeater.Task) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO repeater_tasks (`+repeaterColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(dedup_key) DO NOTHING`,
		t.ID, t.Handler, t.DedupKey, string(t.Args), string(t.Strategy),
		int64(t.Interval/time.Second), t.MaxAttempts, t.Attempts,
		fmtTime(t.NextRunAt), fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DueTasks 返回已到期的轮询任务
func (s *Store) DueTasks(ctx context.Context, now time.Time, limit int) ([]*repeater.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+repeaterColumns+` FROM repeater_tasks
WHERE next_run_at <= ?
ORDER BY next_run_at ASC
LIMIT ?`, fmtTime(now), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRepeaterTasks(rows)
}

// UpdateAfterFiring 记一次尝试并排下一次执行时间
func (s *Store) UpdateAfterFiring(ctx context.Context, id string, attempts int, next time.Time) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE repeater_tasks SET attempts = ?, next_run_at = ?, updated_at = ?
WHERE id = ?`, attempts, fmtTime(next), fmtTime(time.Now()), id)
	return err
}

// DeleteTask 移除轮询任务
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM repeater_tasks WHERE id = ?`, id)
	return err
}

// ListTasks 列出全部在册轮询任务
func (s *Store) ListTasks(ctx context.Context) ([]*repeater.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+repeaterColumns+` FROM repeater_tasks ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRepeaterTasks(rows)
}

func scanRepeaterTasks(rows *sql.Rows) ([]*repeater.Task, error) {
	var out []*repeater.Task
	for rows.Next() {
		var (
			t           repeater.Task
			args        string
			strategy    string
			intervalSec int64
			nextRun     string
			createdAt   string
			updatedAt   string
		)
		if err := rows.Scan(&t.ID, &t.Handler, &t.DedupKey, &args, &strategy,
			&intervalSec, &t.MaxAttempts, &t.Attempts, &nextRun, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		t.Args = json.RawMessage(args)
		t.Strategy = repeater.Strategy(strategy)
		t.Interval = time.Duration(intervalSec) * time.Second
		t.NextRunAt = parseTime(nextRun)
		t.CreatedAt = parseTime(createdAt)
		t.UpdatedAt = parseTime(updatedAt)
		out = append(out, &t)
	}
	return out, rows.Err()
}
