package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/futbot/gofut/internal/ledger"
	"github.com/futbot/gofut/internal/metrics"
	"github.com/futbot/gofut/internal/notify"
	"github.com/futbot/gofut/internal/repeater"
	"github.com/futbot/gofut/internal/step"
	"github.com/futbot/gofut/internal/store"
	"github.com/futbot/gofut/internal/trading"
	"github.com/futbot/gofut/internal/worker"
	"github.com/futbot/gofut/pkg/config"
	"github.com/futbot/gofut/pkg/logger"
	"github.com/futbot/gofut/pkg/ratelimit"
	"github.com/futbot/gofut/pkg/secretstore"
	"github.com/futbot/gofut/pkg/shutdown"

	"github.com/futbot/gofut/internal/lifecycle"
	// 导入交易所集合以触发 profile 的 init() 注册
	_ "github.com/futbot/gofut/internal/venue/binance"
	_ "github.com/futbot/gofut/internal/venue/bybit"
	_ "github.com/futbot/gofut/internal/venue/okx"
)

func main() {
	// 加载 .env（尽力而为，缺失时退回真实环境变量）
	_ = godotenv.Load()

	configPath := flag.String("config", "", "配置文件路径（.yaml）")
	flag.Parse()

	if *configPath != "" {
		config.SetConfigPath(*configPath)
	}
	cfg, err := config.LoadFromFile(config.GetConfigPath())
	if err != nil {
		panic(fmt.Sprintf("加载配置失败: %v", err))
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.OutputFile,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		panic(fmt.Sprintf("初始化日志失败: %v", err))
	}

	st, err := store.Open(cfg.Store.DBPath)
	if err != nil {
		logrus.Fatalf("打开存储失败: %v", err)
	}

	key, err := secretstore.ParseKey(os.Getenv(cfg.SecretStore.KeyEnv))
	if err != nil {
		logrus.Fatalf("解析密钥库主密钥失败: %v", err)
	}
	secrets, err := secretstore.Open(secretstore.OpenOptions{
		Path:          cfg.SecretStore.Path,
		EncryptionKey: key,
	})
	if err != nil {
		logrus.Fatalf("打开密钥库失败: %v", err)
	}

	limiters := ratelimit.NewRegistry(func(venueName string) ratelimit.RateLimiter {
		vcfg := cfg.Venues[venueName]
		if vcfg.RatePerSec <= 0 {
			return ratelimit.NewTokenBucket(20, 10, time.Second)
		}
		burst := vcfg.RateBurst
		if burst <= 0 {
			burst = vcfg.RatePerSec * 2
		}
		return ratelimit.NewTokenBucket(burst, vcfg.RatePerSec, time.Second)
	})
	provider := trading.NewProvider(cfg.Venues, secrets, limiters)

	var notifier step.Notifier = notify.LogNotifier{}
	if cfg.Notify.WebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.Notify.WebhookURL)
	}

	ledgerSvc := ledger.NewService(st, notifier)
	sched := repeater.NewScheduler(st)
	lifecycle.RegisterRestrictionProbe(ledgerSvc, sched, provider.AsStepProvider())

	runner := step.NewRunner(step.RunnerOptions{
		Store:       st,
		Ledger:      ledgerSvc,
		Notifier:    notifier,
		Trading:     provider.AsStepProvider(),
		Positions:   st,
		Audit:       st,
		ServerIP:    cfg.Worker.ServerIP,
		MaxAttempts: cfg.Worker.MaxAttempts,
	})

	w := worker.New(worker.Options{
		Store:        st,
		Runner:       runner,
		Repeater:     sched,
		Concurrency:  cfg.Worker.Concurrency,
		PollInterval: cfg.Worker.PollInterval,
		LeaseTTL:     cfg.Worker.LeaseTTL,
		Queues:       cfg.Worker.Queues,
	})

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)

	if cfg.Metrics.Listen != "" {
		if _, err := metrics.StartAsync(ctx, cfg.Metrics.Listen); err != nil {
			logrus.Errorf("启动 metrics 服务失败: %v", err)
		} else {
			logrus.Infof("metrics 服务监听 %s", cfg.Metrics.Listen)
		}
	}

	// 逆序执行：先停 worker，再关存储，最后关密钥库
	mgr := shutdown.NewManager()
	mgr.OnShutdown("secretstore", func(context.Context) error { return secrets.Close() })
	mgr.OnShutdown("store", func(context.Context) error { return st.Close() })
	mgr.OnShutdown("worker", func(context.Context) error {
		cancel()
		w.Wait()
		return nil
	})

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	<-stopCh

	logrus.Info("收到退出信号，开始优雅关闭")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	mgr.Shutdown(shutdownCtx)
	logrus.Info("worker 已退出")
}
