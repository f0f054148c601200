package trading

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/futbot/gofut/internal/ports"
	"github.com/futbot/gofut/internal/step"
	"github.com/futbot/gofut/internal/venue/binance"
	"github.com/futbot/gofut/internal/venue/bybit"
	"github.com/futbot/gofut/pkg/config"
	"github.com/futbot/gofut/pkg/ratelimit"
	"github.com/futbot/gofut/pkg/secretstore"
)

// Provider 按（交易所, 账户）构造并缓存交易客户端
// 凭证从密钥库按需取出，限速器按交易所共享（一个出口 IP 一个配额）

type Provider struct {
	venues   map[string]config.VenueConfig
	secrets  *secretstore.Store
	limiters *ratelimit.Registry

	mu      sync.Mutex
	clients map[string]ports.TradingOps // "venue/account" -> client
}

// NewProvider 创建 Provider
func NewProvider(venues map[string]config.VenueConfig, secrets *secretstore.Store, limiters *ratelimit.Registry) *Provider {
	return &Provider{
		venues:   venues,
		secrets:  secrets,
		limiters: limiters,
		clients:  make(map[string]ports.TradingOps),
	}
}

// Get 实现 step.TradingProvider
func (p *Provider) Get(venueName, accountID string) (ports.TradingOps, error) {
	key := venueName + "/" + accountID
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[key]; ok {
		return c, nil
	}

	creds, found, err := p.secrets.GetCredentials(venueName, accountID)
	if err != nil {
		return nil, errors.Wrapf(err, "读取 %s/%s 凭证失败", venueName, accountID)
	}
	if !found {
		return nil, fmt.Errorf("账户 %s 在 %s 上没有配置凭证", accountID, venueName)
	}

	vcfg := p.venues[venueName]
	limiter := p.limiters.Get(venueName)

	var client ports.TradingOps
	switch venueName {
	case binance.Name:
		client = binance.NewClient(binance.ClientConfig{
			BaseURL:    vcfg.BaseURL,
			APIKey:     creds.APIKey,
			APISecret:  creds.APISecret,
			RecvWindow: vcfg.RecvWindow,
			Limiter:    limiter,
		})
	case bybit.Name:
		client = bybit.NewClient(bybit.ClientConfig{
			BaseURL:    vcfg.BaseURL,
			APIKey:     creds.APIKey,
			APISecret:  creds.APISecret,
			RecvWindow: vcfg.RecvWindow,
			Limiter:    limiter,
		})
	default:
		return nil, fmt.Errorf("不支持的交易所: %s", venueName)
	}

	p.clients[key] = client
	return client, nil
}

// AsStepProvider 以 step.TradingProvider 的形状导出
func (p *Provider) AsStepProvider() step.TradingProvider {
	return p.Get
}
