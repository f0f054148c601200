package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/futbot/gofut/internal/controlplane/server"
	"github.com/futbot/gofut/internal/store"
	"github.com/futbot/gofut/pkg/config"
	"github.com/futbot/gofut/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "", "配置文件路径（.yaml）")
	listenAddr := flag.String("listen", "", "HTTP 监听地址（覆盖配置）")
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
	defer st.Close()

	listen := cfg.Server.Listen
	if *listenAddr != "" {
		listen = *listenAddr
	}
	srv := server.New(server.Config{Listen: listen}, st)

	httpSrv := &http.Server{
		Addr:              srv.Listen(),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logrus.Infof("管理面监听 %s", srv.Listen())
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Errorf("HTTP 服务异常: %v", err)
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	<-stopCh

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	logrus.Info("管理面已退出")
}
