package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/futbot/gofut/internal/domain"
)

const positionColumns = `id, account_id, venue, symbol, side, leverage, margin_mode,
  size, filled_size, entry_price, status, created_at, updated_at`

// CreatePosition 落库一个新仓位
func (s *Store) CreatePosition(ctx context.Context, p *domain.Position) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO positions (`+positionColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.AccountID, p.Venue, p.Symbol, string(p.Side), p.Leverage, p.MarginMode,
		p.Size.String(), p.FilledSize.String(), p.EntryPrice.String(),
		string(p.Status), fmtTime(p.CreatedAt), fmtTime(p.UpdatedAt))
	return err
}

// GetPosition 按 ID 读取仓位，不存在时返回 sql.ErrNoRows
func (s *Store) GetPosition(ctx context.Context, id string) (*domain.Position, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE id = ?`, id)
	return scanPosition(row)
}

// CASStatus 仅当当前状态为 from 时置为 to
// 竞争的工作流靠这里串行化：谁 CAS 成功谁继续，失败方跳过
func (s *Store) CASStatus(ctx context.Context, id string, from, to domain.PositionStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE positions SET status = ?, updated_at = ?
WHERE id = ? AND status = ?`,
		string(to), fmtTime(time.Now()), id, string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetStatus 无条件置状态（终态收尾用）
func (s *Store) SetStatus(ctx context.Context, id string, to domain.PositionStatus) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE positions SET status = ?, updated_at = ?
WHERE id = ?`, string(to), fmtTime(time.Now()), id)
	return err
}

// UpdateFill 回写成交进度（已成数量与加权均价）
func (s *Store) UpdateFill(ctx context.Context, id string, p *domain.Position) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE positions SET filled_size = ?, entry_price = ?, updated_at = ?
WHERE id = ?`,
		p.FilledSize.String(), p.EntryPrice.String(), fmtTime(time.Now()), id)
	return err
}

// ListPositions 按账户列出仓位，accountID 为空时列出全部
func (s *Store) ListPositions(ctx context.Context, accountID string) ([]*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions`
	args := []any{}
	if accountID != "" {
		query += ` WHERE account_id = ?`
		args = append(args, accountID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(row rowScanner) (*domain.Position, error) {
	var (
		p          domain.Position
		side       string
		size       string
		filled     string
		entry      string
		status     string
		createdAt  string
		updatedAt  string
	)
	err := row.Scan(&p.ID, &p.AccountID, &p.Venue, &p.Symbol, &side, &p.Leverage,
		&p.MarginMode, &size, &filled, &entry, &status, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	p.Side = domain.PositionSide(side)
	p.Size, _ = decimal.NewFromString(size)
	p.FilledSize, _ = decimal.NewFromString(filled)
	p.EntryPrice, _ = decimal.NewFromString(entry)
	p.Status = domain.PositionStatus(status)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}
