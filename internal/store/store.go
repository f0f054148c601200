package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store 编排核心的持久化层（sqlite）
// 步骤/封禁账本/轮询任务/仓位共用一个库文件，worker 与管理面各自打开
type Store struct {
	db *sql.DB
}

// Open 打开（或创建）数据库并执行迁移
func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB 暴露底层连接（管理面查询用）
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA foreign_keys=ON;`,
		`
CREATE TABLE IF NOT EXISTS work_steps (
  id TEXT PRIMARY KEY,
  handler TEXT NOT NULL,
  args_json TEXT NOT NULL,
  queue TEXT NOT NULL DEFAULT 'default',
  block_uuid TEXT NOT NULL,
  child_block_uuid TEXT,
  step_index INTEGER NOT NULL,
  workflow_id TEXT,
  step_type TEXT NOT NULL DEFAULT 'normal',    -- "normal" | "resolve-exception"
  status TEXT NOT NULL DEFAULT 'pending',
  attempts INTEGER NOT NULL DEFAULT 0,
  dispatch_after TEXT NOT NULL,
  response_json TEXT,
  venue TEXT NOT NULL DEFAULT '',
  account_id TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_work_steps_block ON work_steps(block_uuid, step_index);`,
		`CREATE INDEX IF NOT EXISTS idx_work_steps_eligible ON work_steps(status, dispatch_after);`,
		`
CREATE TABLE IF NOT EXISTS ban_records (
  venue TEXT NOT NULL,
  account_id TEXT NOT NULL DEFAULT '',  -- 空串 = 服务器级（影响该 IP 上所有账户）
  ip TEXT NOT NULL,
  ban_type TEXT NOT NULL,
  until_at TEXT,                        -- NULL = 无限期，需外部解除
  vendor_code TEXT,
  vendor_message TEXT,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  PRIMARY KEY (venue, account_id, ip, ban_type)
);`,
		`
CREATE TABLE IF NOT EXISTS repeater_tasks (
  id TEXT PRIMARY KEY,
  handler TEXT NOT NULL,
  dedup_key TEXT NOT NULL UNIQUE,
  args_json TEXT NOT NULL,
  strategy TEXT NOT NULL DEFAULT 'fixed',  -- "fixed" | "growing"
  interval_sec INTEGER NOT NULL,
  max_attempts INTEGER NOT NULL,
  attempts INTEGER NOT NULL DEFAULT 0,
  next_run_at TEXT NOT NULL,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_repeater_next_run ON repeater_tasks(next_run_at);`,
		`
CREATE TABLE IF NOT EXISTS positions (
  id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL,
  venue TEXT NOT NULL,
  symbol TEXT NOT NULL,
  side TEXT NOT NULL,
  leverage INTEGER NOT NULL DEFAULT 1,
  margin_mode TEXT NOT NULL DEFAULT 'isolated',
  size TEXT NOT NULL,         -- decimal 字符串
  filled_size TEXT NOT NULL DEFAULT '0',
  entry_price TEXT NOT NULL DEFAULT '0',
  status TEXT NOT NULL DEFAULT 'pending',
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_positions_account ON positions(account_id, status);`,
		`
CREATE TABLE IF NOT EXISTS job_audits (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  kind TEXT NOT NULL,        -- "workflow_start" | "workflow_failed" | "compensated"
  block_uuid TEXT NOT NULL,
  workflow TEXT,
  account_id TEXT,
  detail TEXT,
  created_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_job_audits_block ON job_audits(block_uuid);`,
	}

	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate exec failed: %w", err)
		}
	}
	return nil
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
