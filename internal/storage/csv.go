package storage

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "TickFlow-Notifier/internal/errors"
	"TickFlow-Notifier/internal/market"
)

// TickKind 是报价文件在文件名中的类型标记。
const TickKind = "TICK"

const (
	tickHeader = "datetime,bid,ask"
	barHeader  = "datetime,open,high,low,close,volume"
)

type bufferKey struct {
	symbol string
	kind   string
	day    string
}

// CSVBackend 将行情数据写入按品种与月份分目录的 CSV 文件。
// 目录布局为 <dataDir>/<symbol>/<YYYY_MM>/<symbol>_<kind>_<YYYY-MM-DD>.csv。
type CSVBackend struct {
	mu        sync.Mutex
	dataDir   string
	retention int
	buffers   map[bufferKey][]string
}

// NewCSVBackend 创建 CSV 存储后端并确保数据目录存在。
func NewCSVBackend(dataDir string, retentionMonths int) (*CSVBackend, error) {
	if strings.TrimSpace(dataDir) == "" {
		dataDir = "data"
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建数据目录失败")
	}
	return &CSVBackend{
		dataDir:   dataDir,
		retention: retentionMonths,
		buffers:   make(map[bufferKey][]string),
	}, nil
}

// LogTick 缓存一条报价记录。
func (b *CSVBackend) LogTick(symbol string, tick market.Tick) error {
	if err := tick.Validate(); err != nil {
		return err
	}
	row := fmt.Sprintf("%s,%.5f,%.5f", tick.Time.Format(TimeLayout), tick.Bid, tick.Ask)
	b.append(symbol, TickKind, tick.Time, row)
	return nil
}

// LogBar 缓存一条 K 线记录。
func (b *CSVBackend) LogBar(symbol, timeframe string, bar market.Bar) error {
	if err := bar.Validate(); err != nil {
		return err
	}
	row := fmt.Sprintf("%s,%.5f,%.5f,%.5f,%.5f,%d",
		bar.Time.Format(TimeLayout), bar.Open, bar.High, bar.Low, bar.Close, bar.Volume)
	b.append(symbol, timeframe, bar.Time, row)
	return nil
}

func (b *CSVBackend) append(symbol, kind string, at time.Time, row string) {
	key := bufferKey{symbol: symbol, kind: kind, day: at.Format("2006-01-02")}
	b.mu.Lock()
	b.buffers[key] = append(b.buffers[key], row)
	b.mu.Unlock()
}

// Flush 将缓存中的记录追加到对应的日文件。
func (b *CSVBackend) Flush(ctx context.Context) error {
	b.mu.Lock()
	pending := b.buffers
	b.buffers = make(map[bufferKey][]string)
	b.mu.Unlock()

	var firstErr error
	for key, rows := range pending {
		if err := ctx.Err(); err != nil {
			b.requeue(key, rows)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := b.writeRows(key, rows); err != nil {
			b.requeue(key, rows)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (b *CSVBackend) requeue(key bufferKey, rows []string) {
	b.mu.Lock()
	b.buffers[key] = append(rows, b.buffers[key]...)
	b.mu.Unlock()
}

func (b *CSVBackend) writeRows(key bufferKey, rows []string) error {
	monthDir := filepath.Join(b.dataDir, key.symbol, strings.ReplaceAll(key.day[:7], "-", "_"))
	if err := os.MkdirAll(monthDir, 0o755); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建月份目录失败")
	}
	path := filepath.Join(monthDir, fmt.Sprintf("%s_%s_%s.csv", key.symbol, key.kind, key.day))

	_, statErr := os.Stat(path)
	needHeader := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开 CSV 文件失败")
	}
	defer f.Close()

	var sb strings.Builder
	if needHeader {
		if key.kind == TickKind {
			sb.WriteString(tickHeader)
		} else {
			sb.WriteString(barHeader)
		}
		sb.WriteByte('\n')
	}
	for _, row := range rows {
		sb.WriteString(row)
		sb.WriteByte('\n')
	}
	if _, err := f.WriteString(sb.String()); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入 CSV 文件失败")
	}
	return nil
}

// Compress 将已经结束的月份目录中的 CSV 文件打包为 zip 并删除原文件。
// 每个品种、每种记录类型各生成一个 <symbol>_<kind>_<YYYY_MM>.zip。
func (b *CSVBackend) Compress(ctx context.Context, now time.Time) error {
	currentMonth := now.Format("2006_01")

	symbols, err := os.ReadDir(b.dataDir)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取数据目录失败")
	}

	var firstErr error
	for _, sym := range symbols {
		if !sym.IsDir() {
			continue
		}
		symbolDir := filepath.Join(b.dataDir, sym.Name())
		months, err := os.ReadDir(symbolDir)
		if err != nil {
			if firstErr == nil {
				firstErr = xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取品种目录失败")
			}
			continue
		}
		for _, month := range months {
			if !month.IsDir() || month.Name() >= currentMonth {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := b.compressMonth(sym.Name(), filepath.Join(symbolDir, month.Name()), month.Name()); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (b *CSVBackend) compressMonth(symbol, monthDir, month string) error {
	entries, err := os.ReadDir(monthDir)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取月份目录失败")
	}

	byKind := make(map[string][]string)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".csv") {
			continue
		}
		// 文件名格式为 <symbol>_<kind>_<date>.csv。
		parts := strings.SplitN(strings.TrimSuffix(name, ".csv"), "_", 3)
		if len(parts) != 3 || parts[0] != symbol {
			continue
		}
		byKind[parts[1]] = append(byKind[parts[1]], name)
	}

	for kind, files := range byKind {
		sort.Strings(files)
		zipPath := filepath.Join(monthDir, fmt.Sprintf("%s_%s_%s.zip", symbol, kind, month))
		if err := writeZip(zipPath, monthDir, files); err != nil {
			return err
		}
		for _, name := range files {
			if err := os.Remove(filepath.Join(monthDir, name)); err != nil {
				return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除已归档 CSV 失败")
			}
		}
	}
	return nil
}

func writeZip(zipPath, dir string, files []string) error {
	out, err := os.Create(zipPath)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建归档文件失败")
	}
	zw := zip.NewWriter(out)

	for _, name := range files {
		src, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			zw.Close()
			out.Close()
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取待归档文件失败")
		}
		w, err := zw.Create(name)
		if err == nil {
			_, err = io.Copy(w, src)
		}
		src.Close()
		if err != nil {
			zw.Close()
			out.Close()
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入归档文件失败")
		}
	}
	if err := zw.Close(); err != nil {
		out.Close()
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "关闭归档文件失败")
	}
	if err := out.Close(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "关闭归档文件失败")
	}
	return nil
}

// Cleanup 删除超出保留月数的月份目录。
func (b *CSVBackend) Cleanup(ctx context.Context, now time.Time) error {
	if b.retention <= 0 {
		return nil
	}
	cutoff := now.AddDate(0, -b.retention, 0).Format("2006_01")

	symbols, err := os.ReadDir(b.dataDir)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取数据目录失败")
	}

	var firstErr error
	for _, sym := range symbols {
		if !sym.IsDir() {
			continue
		}
		symbolDir := filepath.Join(b.dataDir, sym.Name())
		months, err := os.ReadDir(symbolDir)
		if err != nil {
			continue
		}
		for _, month := range months {
			if !month.IsDir() || month.Name() >= cutoff {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := os.RemoveAll(filepath.Join(symbolDir, month.Name())); err != nil && firstErr == nil {
				firstErr = xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除过期月份目录失败")
			}
		}
	}
	return firstErr
}

// Close 刷新剩余缓存。
func (b *CSVBackend) Close() error {
	return b.Flush(context.Background())
}

var _ Backend = (*CSVBackend)(nil)
