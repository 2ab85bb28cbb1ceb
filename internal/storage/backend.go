package storage

import (
	"context"
	"strings"
	"time"

	xerrors "TickFlow-Notifier/internal/errors"
	"TickFlow-Notifier/internal/market"
)

// TimeLayout 是行情数据落盘时使用的时间格式。
const TimeLayout = "2006-01-02 15:04:05.000000"

// Backend 定义行情数据的持久化接口。
type Backend interface {
	// LogTick 缓存一条报价记录，等待下一次 Flush 落盘。
	LogTick(symbol string, tick market.Tick) error
	// LogBar 缓存一条 K 线记录，等待下一次 Flush 落盘。
	LogBar(symbol, timeframe string, bar market.Bar) error
	// Flush 将缓存中的记录写入底层存储。
	Flush(ctx context.Context) error
	// Compress 归档已经结束的历史周期（例如上个月的 CSV 文件）。
	Compress(ctx context.Context, now time.Time) error
	// Cleanup 清理超出保留期限的历史数据。
	Cleanup(ctx context.Context, now time.Time) error
	// Close 刷新剩余缓存并释放资源。
	Close() error
}

// Config 描述存储层的配置。
type Config struct {
	// Driver 可选 csv、sqlite、mysql，默认 csv。
	Driver string `json:"driver"`
	// DataDir 是 CSV 与 SQLite 文件的根目录。
	DataDir string `json:"data_dir"`
	// FlushIntervalSeconds 是缓存落盘的周期，默认 60 秒。
	FlushIntervalSeconds int `json:"flush_interval_seconds"`
	// RetentionMonths 是历史数据的保留月数，0 表示永久保留。
	RetentionMonths int `json:"retention_months"`
	// MySQLDSN 仅在 mysql 驱动下使用。
	MySQLDSN string `json:"mysql_dsn"`
}

// FlushInterval 返回配置的落盘周期。
func (c Config) FlushInterval() time.Duration {
	if c.FlushIntervalSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.FlushIntervalSeconds) * time.Second
}

// NewBackend 根据配置创建对应的存储后端。
func NewBackend(cfg Config) (Backend, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "csv":
		return NewCSVBackend(cfg.DataDir, cfg.RetentionMonths)
	case "sqlite":
		return NewSQLiteBackend(cfg.DataDir, cfg.RetentionMonths)
	case "mysql":
		return NewMySQLBackend(cfg.MySQLDSN, cfg.RetentionMonths)
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的存储驱动: "+driver)
	}
}
