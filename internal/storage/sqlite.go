package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	xerrors "TickFlow-Notifier/internal/errors"
	"TickFlow-Notifier/internal/market"

	_ "modernc.org/sqlite"
)

type tickRow struct {
	symbol string
	tick   market.Tick
}

type barRow struct {
	symbol    string
	timeframe string
	bar       market.Bar
}

// SQLiteBackend 将行情数据写入本地 SQLite 数据库。
type SQLiteBackend struct {
	mu        sync.Mutex
	db        *sql.DB
	retention int
	ticks     []tickRow
	bars      []barRow
}

// NewSQLiteBackend 在数据目录下创建（或打开）ticks.db。
func NewSQLiteBackend(dataDir string, retentionMonths int) (*SQLiteBackend, error) {
	if strings.TrimSpace(dataDir) == "" {
		dataDir = "data"
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建数据目录失败")
	}

	db, err := sql.Open("sqlite", filepath.Join(dataDir, "ticks.db"))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开 SQLite 数据库失败")
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "启用 WAL 失败")
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "设置 busy_timeout 失败")
	}

	backend := &SQLiteBackend{db: db, retention: retentionMonths}
	if err := backend.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return backend, nil
}

func (b *SQLiteBackend) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS ticks (
        symbol TEXT NOT NULL,
        ts TEXT NOT NULL,
        bid REAL NOT NULL,
        ask REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ticks_symbol_ts ON ticks (symbol, ts);
CREATE TABLE IF NOT EXISTS bars (
        symbol TEXT NOT NULL,
        timeframe TEXT NOT NULL,
        ts TEXT NOT NULL,
        open REAL NOT NULL,
        high REAL NOT NULL,
        low REAL NOT NULL,
        close REAL NOT NULL,
        volume INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bars_symbol_tf_ts ON bars (symbol, timeframe, ts);`

	if _, err := b.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化行情表失败")
	}
	return nil
}

// LogTick 缓存一条报价记录。
func (b *SQLiteBackend) LogTick(symbol string, tick market.Tick) error {
	if err := tick.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	b.ticks = append(b.ticks, tickRow{symbol: symbol, tick: tick})
	b.mu.Unlock()
	return nil
}

// LogBar 缓存一条 K 线记录。
func (b *SQLiteBackend) LogBar(symbol, timeframe string, bar market.Bar) error {
	if err := bar.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	b.bars = append(b.bars, barRow{symbol: symbol, timeframe: timeframe, bar: bar})
	b.mu.Unlock()
	return nil
}

// Flush 在单个事务内写入缓存的记录。
func (b *SQLiteBackend) Flush(ctx context.Context) error {
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
	if err := insertRows(ctx, tx, ticks, bars); err != nil {
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

func (b *SQLiteBackend) requeue(ticks []tickRow, bars []barRow) {
	b.mu.Lock()
	b.ticks = append(ticks, b.ticks...)
	b.bars = append(bars, b.bars...)
	b.mu.Unlock()
}

func insertRows(ctx context.Context, tx *sql.Tx, ticks []tickRow, bars []barRow) error {
	const tickStmt = `INSERT INTO ticks (symbol, ts, bid, ask) VALUES (?, ?, ?, ?)`
	for _, row := range ticks {
		if _, err := tx.ExecContext(ctx, tickStmt,
			row.symbol, row.tick.Time.Format(TimeLayout), row.tick.Bid, row.tick.Ask); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入报价失败")
		}
	}
	const barStmt = `INSERT INTO bars (symbol, timeframe, ts, open, high, low, close, volume) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	for _, row := range bars {
		if _, err := tx.ExecContext(ctx, barStmt,
			row.symbol, row.timeframe, row.bar.Time.Format(TimeLayout),
			row.bar.Open, row.bar.High, row.bar.Low, row.bar.Close, row.bar.Volume); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入K线失败")
		}
	}
	return nil
}

// Compress 截断 WAL 日志，回收磁盘空间。
func (b *SQLiteBackend) Compress(ctx context.Context, now time.Time) error {
	if _, err := b.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "WAL checkpoint 失败")
	}
	return nil
}

// Cleanup 删除超出保留月数的历史记录。
func (b *SQLiteBackend) Cleanup(ctx context.Context, now time.Time) error {
	if b.retention <= 0 {
		return nil
	}
	cutoff := now.AddDate(0, -b.retention, 0).Format(TimeLayout)
	if _, err := b.db.ExecContext(ctx, `DELETE FROM ticks WHERE ts < ?`, cutoff); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "清理历史报价失败")
	}
	if _, err := b.db.ExecContext(ctx, `DELETE FROM bars WHERE ts < ?`, cutoff); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "清理历史K线失败")
	}
	return nil
}

// Close 刷新剩余缓存并关闭数据库。
func (b *SQLiteBackend) Close() error {
	flushErr := b.Flush(context.Background())
	if err := b.db.Close(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "关闭 SQLite 数据库失败")
	}
	return flushErr
}

var _ Backend = (*SQLiteBackend)(nil)
