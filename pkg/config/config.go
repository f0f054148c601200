package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level"`
	OutputFile string `yaml:"output_file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// StoreConfig 存储配置（sqlite）
type StoreConfig struct {
	DBPath string `yaml:"db_path"`
}

// WorkerConfig 工作进程配置
type WorkerConfig struct {
	Concurrency  int           `yaml:"concurrency"`   // 并发执行的步骤数
	PollInterval time.Duration `yaml:"poll_interval"` // 轮询间隔
	Queues       []string      `yaml:"queues"`        // 监听的队列（空表示全部）
	LeaseTTL     time.Duration `yaml:"lease_ttl"`     // dispatched 步骤的租约：超过未更新即回收
	ServerIP     string        `yaml:"server_ip"`     // 本机出口 IP（封禁账本的 scope）
	MaxAttempts  int           `yaml:"max_attempts"`  // 未分类失败的重试预算
}

// NotifyConfig 通知配置
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url"` // 为空则只写日志
	Audience   string `yaml:"audience"`    // 默认通知对象（operator）
}

// VenueConfig 单个交易所配置
type VenueConfig struct {
	BaseURL    string `yaml:"base_url"`
	RecvWindow int64  `yaml:"recv_window"` // 签名时间窗口（毫秒），0 使用默认值
	RatePerSec int    `yaml:"rate_per_sec"`
	RateBurst  int    `yaml:"rate_burst"`
}

// SecretStoreConfig 密钥库配置
type SecretStoreConfig struct {
	Path   string `yaml:"path"`
	KeyEnv string `yaml:"key_env"` // 存放加密主密钥的环境变量名
}

// ServerConfig 管理面 API 配置
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// MetricsConfig 调试观测配置（expvar + pprof），为空则不启动
type MetricsConfig struct {
	Listen string `yaml:"listen"` // 如 127.0.0.1:6060，建议仅内网
}

// Config 应用配置
type Config struct {
	Log         LogConfig              `yaml:"log"`
	Store       StoreConfig            `yaml:"store"`
	Worker      WorkerConfig           `yaml:"worker"`
	Notify      NotifyConfig           `yaml:"notify"`
	Venues      map[string]VenueConfig `yaml:"venues"`
	SecretStore SecretStoreConfig      `yaml:"secret_store"`
	Server      ServerConfig           `yaml:"server"`
	Metrics     MetricsConfig          `yaml:"metrics"`
}

var configPath = "yml/config.yaml"

// SetConfigPath 设置配置文件路径
func SetConfigPath(p string) {
	if strings.TrimSpace(p) != "" {
		configPath = p
	}
}

// GetConfigPath 获取配置文件路径
func GetConfigPath() string {
	return configPath
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:      "info",
			OutputFile: "logs/gofut.log",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   true,
		},
		Store: StoreConfig{DBPath: "data/gofut.db"},
		Worker: WorkerConfig{
			Concurrency:  4,
			PollInterval: 2 * time.Second,
			MaxAttempts:  5,
			LeaseTTL:     5 * time.Minute,
		},
		SecretStore: SecretStoreConfig{
			Path:   "data/secrets",
			KeyEnv: "GOFUT_MASTER_KEY",
		},
		Server: ServerConfig{Listen: ":8720"},
		Venues: map[string]VenueConfig{},
	}
}

// LoadFromFile 从 YAML 文件加载配置（不存在时返回默认配置）
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				applyEnvOverrides(cfg)
				return cfg, nil
			}
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides 环境变量覆盖（部署时无需改配置文件）
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GOFUT_DB_PATH"); v != "" {
		cfg.Store.DBPath = v
	}
	if v := os.Getenv("GOFUT_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("GOFUT_SERVER_IP"); v != "" {
		cfg.Worker.ServerIP = v
	}
	if v := os.Getenv("GOFUT_LISTEN"); v != "" {
		cfg.Server.Listen = v
	}
	if v := os.Getenv("GOFUT_WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Worker.Concurrency = n
		}
	}
	if v := os.Getenv("GOFUT_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Worker.PollInterval = d
		}
	}
	if v := os.Getenv("GOFUT_NOTIFY_WEBHOOK"); v != "" {
		cfg.Notify.WebhookURL = v
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Store.DBPath) == "" {
		return fmt.Errorf("store.db_path 不能为空")
	}
	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = 1
	}
	if c.Worker.PollInterval <= 0 {
		c.Worker.PollInterval = 2 * time.Second
	}
	if c.Worker.MaxAttempts <= 0 {
		c.Worker.MaxAttempts = 5
	}
	if c.Worker.LeaseTTL <= 0 {
		c.Worker.LeaseTTL = 5 * time.Minute
	}
	return nil
}
