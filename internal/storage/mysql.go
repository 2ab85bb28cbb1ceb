package storage

import (
	"context"
	"database/sql"
	"io/fs"
	"sort"
	"strings"
	"sync"
	"time"

	"TickFlow-Notifier/deploy/migrations"
	xerrors "TickFlow-Notifier/internal/errors"
	"TickFlow-Notifier/internal/market"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLBackend 将行情数据写入 MySQL，适合多实例共享历史数据的部署。
type MySQLBackend struct {
	mu        sync.Mutex
	db        *sql.DB
	retention int
	ticks     []tickRow
	bars      []barRow
}

// NewMySQLBackend 创建 MySQL 存储后端。
func NewMySQLBackend(dsn string, retentionMonths int) (*MySQLBackend, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	backend := &MySQLBackend{db: db, retention: retentionMonths}
	if err := backend.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return backend, nil
}

// initSchema 按文件名顺序执行内嵌的迁移文件，每个文件一条语句。
func (b *MySQLBackend) initSchema() error {
	entries, err := fs.Glob(migrations.Files, "*.sql")
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "枚举迁移文件失败")
	}
	sort.Strings(entries)
	for _, name := range entries {
		stmt, err := fs.ReadFile(migrations.Files, name)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取迁移文件失败: "+name)
		}
		if _, err := b.db.Exec(string(stmt)); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行迁移失败: "+name)
		}
	}
	return nil
}

// LogTick 缓存一条报价记录。
func (b *MySQLBackend) LogTick(symbol string, tick market.Tick) error {
	if err := tick.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	b.ticks = append(b.ticks, tickRow{symbol: symbol, tick: tick})
	b.mu.Unlock()
	return nil
}

// LogBar 缓存一条 K 线记录。
func (b *MySQLBackend) LogBar(symbol, timeframe string, bar market.Bar) error {
	if err := bar.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	b.bars = append(b.bars, barRow{symbol: symbol, timeframe: timeframe, bar: bar})
	b.mu.Unlock()
	return nil
}

// Flush 在单个事务内写入缓存的记录。
func (b *MySQLBackend) Flush(ctx context.Context) error {
	b.mu.Lock()
	ticks := b.ticks
	bars := b.bars
	b.ticks = nil
	b.bars = nil
	b.mu.Unlock()

	if len(ticks) == 0 && len(bars) == 0 {
		return nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		b.requeue(ticks, bars)
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}
	if err := b.insertRows(ctx, tx, ticks, bars); err != nil {
		_ = tx.Rollback()
		b.requeue(ticks, bars)
		return err
	}
	if err := tx.Commit(); err != nil {
		b.requeue(ticks, bars)
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交事务失败")
	}
	return nil
}

func (b *MySQLBackend) requeue(ticks []tickRow, bars []barRow) {
	b.mu.Lock()
	b.ticks = append(ticks, b.ticks...)
	b.bars = append(bars, b.bars...)
	b.mu.Unlock()
}

func (b *MySQLBackend) insertRows(ctx context.Context, tx *sql.Tx, ticks []tickRow, bars []barRow) error {
	const tickStmt = `INSERT INTO market_ticks (symbol, ts, bid, ask) VALUES (?, ?, ?, ?)`
	for _, row := range ticks {
		if _, err := tx.ExecContext(ctx, tickStmt,
			row.symbol, row.tick.Time.Format(TimeLayout), row.tick.Bid, row.tick.Ask); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入报价失败")
		}
	}
	const barStmt = `INSERT INTO market_bars (symbol, timeframe, ts, open, high, low, close, volume) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	for _, row := range bars {
		if _, err := tx.ExecContext(ctx, barStmt,
			row.symbol, row.timeframe, row.bar.Time.Format(TimeLayout),
			row.bar.Open, row.bar.High, row.bar.Low, row.bar.Close, row.bar.Volume); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入K线失败")
		}
	}
	return nil
}

// Compress 对 MySQL 无需额外归档，由数据库自身管理存储。
func (b *MySQLBackend) Compress(ctx context.Context, now time.Time) error {
	return nil
}

// Cleanup 删除超出保留月数的历史记录。
func (b *MySQLBackend) Cleanup(ctx context.Context, now time.Time) error {
	if b.retention <= 0 {
		return nil
	}
	cutoff := now.AddDate(0, -b.retention, 0).Format(TimeLayout)
	if _, err := b.db.ExecContext(ctx, `DELETE FROM market_ticks WHERE ts < ?`, cutoff); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "清理历史报价失败")
	}
	if _, err := b.db.ExecContext(ctx, `DELETE FROM market_bars WHERE ts < ?`, cutoff); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "清理历史K线失败")
	}
	return nil
}

// Close 刷新剩余缓存并关闭连接。
func (b *MySQLBackend) Close() error {
	flushErr := b.Flush(context.Background())
	if err := b.db.Close(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "关闭 MySQL 连接失败")
	}
	return flushErr
}

var _ Backend = (*MySQLBackend)(nil)
