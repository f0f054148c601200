package store

import (
	"context"
	"time"

	"github.com/futbot/gofut/internal/step"
)

// AuditRecord 作业审计记录，管理面排障用
type AuditRecord struct {
	ID        int64
	Kind      string // workflow_start / workflow_failed / compensated
	BlockUUID string
	Workflow  string
	AccountID string
	Detail    string
	CreatedAt time.Time
}

// AppendAudit 追加一条审计记录
func (s *Store) AppendAudit(ctx context.Context, rec AuditRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO job_audits (kind, block_uuid, workflow, account_id, detail, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Kind, rec.BlockUUID, rec.Workflow, rec.AccountID, rec.Detail,
		fmtTime(time.Now()))
	return err
}

// AppendAuditEntry 实现 step.Auditor：Runner 的终态结果走这里落审计表
func (s *Store) AppendAuditEntry(ctx context.Context, e step.AuditEntry) error {
	return s.AppendAudit(ctx, AuditRecord{
		Kind:      e.Kind,
		BlockUUID: e.BlockUUID,
		Workflow:  e.Workflow,
		AccountID: e.AccountID,
		Detail:    e.Detail,
	})
}

// ListAudits 按时间倒序列出审计记录，blockUUID 为空时不过滤
func (s *Store) ListAudits(ctx context.Context, blockUUID string, limit int) ([]AuditRecord, error) {
	query := `SELECT id, kind, block_uuid, workflow, account_id, detail, created_at FROM job_audits`
	args := []any{}
	if blockUUID != "" {
		query += ` WHERE block_uuid = ?`
		args = append(args, blockUUID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		var (
			rec       AuditRecord
			workflow  string
			accountID string
			detail    string
			createdAt string
		)
		if err := rows.Scan(&rec.ID, &rec.Kind, &rec.BlockUUID, &workflow,
			&accountID, &detail, &createdAt); err != nil {
			return nil, err
		}
		rec.Workflow = workflow
		rec.AccountID = accountID
		rec.Detail = detail
		rec.CreatedAt = parseTime(createdAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}
