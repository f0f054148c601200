package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/futbot/gofut/internal/step"
)

// 封禁/限流账本：多 worker 共享的持久化限制记录
// 唯一键 (venue, account_id, ip, ban_type)；account_id 空串表示服务器级，
// 拦截该 IP 上的所有账户。只有首次创建发通知，刷新不重复打扰

// BanRecord 一条限制记录
type BanRecord struct {
	Venue         string
	AccountID     string // 空串 = 服务器级
	IP            string
	Type          string
	Until         *time.Time // nil = 无限期，需外部解除
	VendorCode    string
	VendorMessage string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Active 记录在 now 时刻是否仍然生效
func (r *BanRecord) Active(now time.Time) bool {
	return r.Until == nil || r.Until.After(now)
}

// Repo 账本持久化接口（sqlite 实现见 internal/store）
type Repo interface {
	// UpsertBan 创建或按唯一键覆盖；created 表示是否为首次创建
	UpsertBan(ctx context.Context, rec BanRecord) (created bool, err error)
	// ActiveBans 返回可能拦截 (venue, account, ip) 的记录：
	// 账户级匹配 account_id，服务器级匹配 ip
	ActiveBans(ctx context.Context, venueName, accountID, ip string) ([]BanRecord, error)
	// ListBans 管理面用：全部记录
	ListBans(ctx context.Context) ([]BanRecord, error)
	// DeleteBan 按唯一键移除记录
	DeleteBan(ctx context.Context, venueName, accountID, ip, banType string) error
}

// Service 账本服务，实现 step.RestrictionLedger
type Service struct {
	repo     Repo
	notifier step.Notifier
	onCreate func(ctx context.Context, rec BanRecord) // 首次创建钩子（挂条件轮询用）
	log      *logrus.Entry
}

// NewService 创建账本服务
func NewService(repo Repo, notifier step.Notifier) *Service {
	return &Service{
		repo:     repo,
		notifier: notifier,
		log:      logrus.WithField("component", "ban_ledger"),
	}
}

// SetOnCreate 注册首次创建钩子（启动期调用一次，非并发安全）
func (s *Service) SetOnCreate(fn func(ctx context.Context, rec BanRecord)) {
	s.onCreate = fn
}

// RecordRestriction 创建或刷新一条限制
// 幂等：同键覆盖不新增行；只有首次创建发一次通知
func (s *Service) RecordRestriction(ctx context.Context, rec step.RestrictionRecord) error {
	ban := BanRecord{
		Venue:         rec.Venue,
		AccountID:     rec.AccountID,
		IP:            rec.IP,
		Type:          rec.Type,
		Until:         rec.Until,
		VendorCode:    rec.VendorCode,
		VendorMessage: rec.VendorMessage,
	}
	created, err := s.repo.UpsertBan(ctx, ban)
	if err != nil {
		return errors.Wrap(err, "写入账本失败")
	}

	scope := "server"
	if rec.AccountID != "" {
		scope = "account:" + rec.AccountID
	}
	if created {
		s.log.Warnf("新限制生效: venue=%s scope=%s ip=%s type=%s code=%s",
			rec.Venue, scope, rec.IP, rec.Type, rec.VendorCode)
		if s.notifier != nil {
			msg := fmt.Sprintf("交易所限制生效: venue=%s scope=%s ip=%s type=%s vendor=%s %s",
				rec.Venue, scope, rec.IP, rec.Type, rec.VendorCode, rec.VendorMessage)
			dedup := fmt.Sprintf("ban:%s:%s:%s:%s", rec.Venue, rec.AccountID, rec.IP, rec.Type)
			s.notifier.Notify(ctx, "operator", msg, dedup)
		}
		if s.onCreate != nil {
			s.onCreate(ctx, ban)
		}
	} else {
		// 同一限制仍在持续，只刷新记录，不再通知
		s.log.Debugf("限制刷新: venue=%s scope=%s type=%s", rec.Venue, scope, rec.Type)
	}
	return nil
}

// ClearRestriction 解除一条限制（条件轮询探测到恢复、或人工解除时调用）
func (s *Service) ClearRestriction(ctx context.Context, venueName, accountID, ip, banType string) error {
	if err := s.repo.DeleteBan(ctx, venueName, accountID, ip, banType); err != nil {
		return errors.Wrap(err, "移除账本记录失败")
	}
	s.log.Infof("限制解除: venue=%s account=%s ip=%s type=%s", venueName, accountID, ip, banType)
	return nil
}

// IsRestricted 出站调用前的预检
// 服务器级记录拦截该 IP 上的所有账户；账户级记录只拦截该账户
func (s *Service) IsRestricted(ctx context.Context, venueName, accountID, ip string, now time.Time) (bool, error) {
	recs, err := s.repo.ActiveBans(ctx, venueName, accountID, ip)
	if err != nil {
		return false, errors.Wrap(err, "查询账本失败")
	}
	for i := range recs {
		if recs[i].Active(now) {
			return true, nil
		}
	}
	return false, nil
}
