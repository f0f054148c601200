package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/futbot/gofut/internal/classify"
	"github.com/futbot/gofut/internal/ledger"
	"github.com/futbot/gofut/internal/repeater"
	"github.com/futbot/gofut/internal/step"
	"github.com/futbot/gofut/internal/venue"
)

// IP 白名单恢复探测
// ip-not-whitelisted 这类限制没有解除时间，只能等人把 IP 加回白名单。
// 账本首次记账时挂一个条件轮询：定期发一次签名请求探测，通了就清账本；
// 轮询耗尽自行终止，之后完全交给人工

const (
	probeHandlerName = "ledger.probe_restriction"
	probeSymbol      = "BTCUSDT" // 各合约交易所都有的符号，只用来发签名请求

	probeInterval = time.Minute
	probeAttempts = 60
)

type probeArgs struct {
	Venue     string `json:"venue"`
	AccountID string `json:"account_id"`
	IP        string `json:"ip"`
	BanType   string `json:"ban_type"`
}

// RegisterRestrictionProbe 注册探测处理器并把账本创建钩子接到轮询器上
// 启动期调用一次
func RegisterRestrictionProbe(svc *ledger.Service, sched *repeater.Scheduler, trading step.TradingProvider) {
	repeater.RegisterHandler(probeHandlerName, func(ctx context.Context, raw json.RawMessage) (bool, error) {
		var args probeArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return false, errors.Wrap(err, "解析探测参数失败")
		}
		return probe(ctx, svc, trading, args)
	})

	svc.SetOnCreate(func(ctx context.Context, rec ledger.BanRecord) {
		// 有明确解除时间的限制靠过期即可，不必探测
		if rec.Until != nil {
			return
		}
		if rec.Type != string(classify.IPNotWhitelisted) && rec.Type != string(classify.IPBanned) {
			return
		}
		dedup := fmt.Sprintf("probe:%s:%s:%s:%s", rec.Venue, rec.AccountID, rec.IP, rec.Type)
		err := sched.Schedule(ctx, probeHandlerName, dedup, probeArgs{
			Venue:     rec.Venue,
			AccountID: rec.AccountID,
			IP:        rec.IP,
			BanType:   rec.Type,
		}, repeater.StrategyFixed, probeInterval, probeAttempts)
		if err != nil {
			logrus.Errorf("挂载限制探测失败: %v", err)
		}
	})
}

// probe 发一次签名请求试探限制是否已解除
func probe(ctx context.Context, svc *ledger.Service, trading step.TradingProvider, args probeArgs) (bool, error) {
	ops, err := trading(args.Venue, args.AccountID)
	if err != nil {
		return false, err
	}
	if _, err := ops.OpenOrders(ctx, probeSymbol); err != nil {
		var ce *venue.CallError
		if errors.As(err, &ce) {
			// 仍被拒：条件未解决，继续等
			return false, nil
		}
		// 网络抖动等按未解决处理
		return false, err
	}

	if err := svc.ClearRestriction(ctx, args.Venue, args.AccountID, args.IP, args.BanType); err != nil {
		return false, err
	}
	logrus.Infof("探测通过，限制已解除: venue=%s account=%s type=%s",
		args.Venue, args.AccountID, args.BanType)
	return true, nil
}
