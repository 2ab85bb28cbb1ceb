package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Config 描述守护进程在启动阶段需要加载的核心配置。
type Config struct {
	Server  ServerConfig  `json:"server"`
	Metrics MetricsConfig `json:"metrics"`
	Logging LoggingConfig `json:"logging"`
	Feed    FeedConfig    `json:"feed"`
	Storage StorageConfig `json:"storage"`
	Notify  NotifyConfig  `json:"notify"`
	Market  MarketConfig  `json:"market"`
}

// ServerConfig 控制 API 服务的监听地址。
type ServerConfig struct {
	Address string `json:"address"`
}

// MetricsConfig 控制指标服务的监听地址，留空则不启动。
type MetricsConfig struct {
	Address string `json:"address"`
}

// LoggingConfig 控制日志输出与审计日志。
type LoggingConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	JournalPath string   `json:"journal_path"`
}

// FeedConfig 描述行情接入方式。
type FeedConfig struct {
	// Driver 可选 zmq、rabbitmq、memory，默认 zmq。
	Driver string `json:"driver"`
	// Host 是 MT4 ZeroMQ 服务器地址。
	Host string `json:"host"`
	// PushPort/PullPort/SubPort 是 ZeroMQ 三通道端口。
	PushPort int `json:"push_port"`
	PullPort int `json:"pull_port"`
	SubPort  int `json:"sub_port"`
	// AMQPURL 与 AMQPQueue 仅在 rabbitmq 驱动下使用。
	AMQPURL   string `json:"amqp_url"`
	AMQPQueue string `json:"amqp_queue"`
}

// StorageConfig 描述行情落盘方式。
type StorageConfig struct {
	Driver               string `json:"driver"`
	DataDir              string `json:"data_dir"`
	FlushIntervalSeconds int    `json:"flush_interval_seconds"`
	RetentionMonths      int    `json:"retention_months"`
	MySQLDSN             string `json:"mysql_dsn"`
}

// RedisConfig 描述 Redis 告警队列的连接参数。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Queue    string `json:"queue"`
}

// TelegramConfig 描述 Telegram 机器人凭据。
type TelegramConfig struct {
	Token          string `json:"token"`
	ChatID         string `json:"chat_id"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// NotifyConfig 描述告警通道与评分参数。
type NotifyConfig struct {
	// WatchFile 是跟踪品种清单（YAML），支持热更新。
	WatchFile string `json:"watch_file"`
	// FlushIntervalSeconds 是告警批次的最短刷出间隔，默认 15 秒。
	FlushIntervalSeconds int `json:"flush_interval_seconds"`
	CooldownUnits        int `json:"cooldown_units"`
	RetentionBuckets     int `json:"retention_buckets"`
	// QueueDriver 可选 memory、redis，默认 memory。
	QueueDriver string         `json:"queue_driver"`
	Redis       RedisConfig    `json:"redis"`
	Telegram    TelegramConfig `json:"telegram"`
}

// MarketConfig 描述行情处理参数。
type MarketConfig struct {
	// BrokerUTCOffsetHours 是经纪商服务器时区相对 UTC 的偏移，缺省为 +3。
	BrokerUTCOffsetHours *int `json:"broker_utc_offset_hours"`
	// FlatBarThreshold 是连续死线的容忍上限，默认 30。
	FlatBarThreshold int `json:"flat_bar_threshold"`
}

// BrokerOffset 返回经纪商时区偏移小时数。
func (c MarketConfig) BrokerOffset() int {
	if c.BrokerUTCOffsetHours == nil {
		return 3
	}
	return *c.BrokerUTCOffsetHours
}

// Load 解析指定路径的 JSON 配置文件。同目录下的 .env 文件与环境变量
// 可以覆盖敏感字段，从而避免把凭据写进配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	baseDir := filepath.Dir(path)
	// .env 不存在不算错误。
	_ = godotenv.Load(filepath.Join(baseDir, ".env"))
	cfg.applyEnv()
	cfg.applyDefaults(baseDir)

	return &cfg, nil
}

// applyEnv 用环境变量覆盖敏感字段。
func (c *Config) applyEnv() {
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		c.Notify.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Notify.Telegram.ChatID = v
	}
	if v := os.Getenv("MYSQL_DSN"); v != "" {
		c.Storage.MySQLDSN = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Notify.Redis.Password = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		c.Feed.AMQPURL = v
	}
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if len(c.Logging.OutputPaths) == 0 {
		c.Logging.OutputPaths = []string{"stdout"}
	}

	if c.Feed.Driver == "" {
		c.Feed.Driver = "zmq"
	}
	if c.Feed.Host == "" {
		c.Feed.Host = "127.0.0.1"
	}
	if c.Feed.PushPort == 0 {
		c.Feed.PushPort = 32768
	}
	if c.Feed.PullPort == 0 {
		c.Feed.PullPort = 32769
	}
	if c.Feed.SubPort == 0 {
		c.Feed.SubPort = 32770
	}
	if c.Feed.AMQPQueue == "" {
		c.Feed.AMQPQueue = "tickflow.marketdata"
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "csv"
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Storage.DataDir) {
		c.Storage.DataDir = filepath.Join(baseDir, c.Storage.DataDir)
	}
	if c.Storage.FlushIntervalSeconds <= 0 {
		c.Storage.FlushIntervalSeconds = 60
	}

	if c.Notify.WatchFile == "" {
		c.Notify.WatchFile = filepath.Join(baseDir, "symbols.yaml")
	} else if !filepath.IsAbs(c.Notify.WatchFile) {
		c.Notify.WatchFile = filepath.Join(baseDir, c.Notify.WatchFile)
	}
	if c.Notify.FlushIntervalSeconds <= 0 {
		c.Notify.FlushIntervalSeconds = 15
	}
	if c.Notify.QueueDriver == "" {
		c.Notify.QueueDriver = "memory"
	}

	if c.Market.FlatBarThreshold <= 0 {
		c.Market.FlatBarThreshold = 30
	}
}
