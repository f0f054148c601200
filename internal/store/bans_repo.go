package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/futbot/gofut/internal/ledger"
)

// bans_repo 实现 ledger.Repo

// UpsertBan 同键覆盖：先 UPDATE，打不中再 INSERT
// 单连接模式下两步是串行的；跨进程竞态由 ON CONFLICT 兜底，
// 重复通知的窗口按规格允许（竞态双方各探测一次）
func (s *Store) UpsertBan(ctx context.Context, rec ledger.BanRecord) (bool, error) {
	now := fmtTime(time.Now())
	var until *string
	if rec.Until != nil {
		v := fmtTime(*rec.Until)
		until = &v
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE ban_records SET until_at=?, vendor_code=?, vendor_message=?, updated_at=?
WHERE venue=? AND account_id=? AND ip=? AND ban_type=?
`, until, rec.VendorCode, rec.VendorMessage, now, rec.Venue, rec.AccountID, rec.IP, rec.Type)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return false, nil
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO ban_records (venue, account_id, ip, ban_type, until_at, vendor_code, vendor_message, created_at, updated_at)
VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(venue, account_id, ip, ban_type) DO UPDATE SET
  until_at=excluded.until_at, vendor_code=excluded.vendor_code,
  vendor_message=excluded.vendor_message, updated_at=excluded.updated_at
`, rec.Venue, rec.AccountID, rec.IP, rec.Type, until, rec.VendorCode, rec.VendorMessage, now, now)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) ActiveBans(ctx context.Context, venueName, accountID, ip string) ([]ledger.BanRecord, error) {
	// 账户级：account_id 匹配；服务器级：account_id 为空串且 ip 匹配
	rows, err := s.db.QueryContext(ctx, `
SELECT venue, account_id, ip, ban_type, until_at, vendor_code, vendor_message, created_at, updated_at
FROM ban_records
WHERE venue=? AND (account_id=? OR (account_id='' AND ip=?))
`, venueName, accountID, ip)
	if err != nil {
		return nil, err
	}
	return scanBans(rows)
}

func (s *Store) DeleteBan(ctx context.Context, venueName, accountID, ip, banType string) error {
	_, err := s.db.ExecContext(ctx, `
DELETE FROM ban_records WHERE venue=? AND account_id=? AND ip=? AND ban_type=?
`, venueName, accountID, ip, banType)
	return err
}

func (s *Store) ListBans(ctx context.Context) ([]ledger.BanRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT venue, account_id, ip, ban_type, until_at, vendor_code, vendor_message, created_at, updated_at
FROM ban_records ORDER BY updated_at DESC
`)
	if err != nil {
		return nil, err
	}
	return scanBans(rows)
}

func scanBans(rows *sql.Rows) ([]ledger.BanRecord, error) {
	defer rows.Close()

	var out []ledger.BanRecord
	for rows.Next() {
		var (
			rec       ledger.BanRecord
			until     sql.NullString
			code      sql.NullString
			msg       sql.NullString
			createdAt string
			updatedAt string
		)
		if err := rows.Scan(&rec.Venue, &rec.AccountID, &rec.IP, &rec.Type, &until,
			&code, &msg, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if until.Valid {
			t := parseTime(until.String)
			rec.Until = &t
		}
		if code.Valid {
			rec.VendorCode = code.String
		}
		if msg.Valid {
			rec.VendorMessage = msg.String
		}
		rec.CreatedAt = parseTime(createdAt)
		rec.UpdatedAt = parseTime(updatedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}
