package storage

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"TickFlow-Notifier/internal/market"
)

func testTick(at time.Time) market.Tick {
	return market.Tick{Time: at, Bid: 1.10010, Ask: 1.10020}
}

func testBar(at time.Time) market.Bar {
	return market.Bar{Time: at, Open: 1.1, High: 1.2, Low: 1.05, Close: 1.15, Volume: 42}
}

func TestCSVBackendFlushWritesDailyFiles(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewCSVBackend(dir, 0)
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}

	at := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	if err := backend.LogTick("EURUSD", testTick(at)); err != nil {
		t.Fatalf("log tick: %v", err)
	}
	if err := backend.LogBar("EURUSD", "M1", testBar(at)); err != nil {
		t.Fatalf("log bar: %v", err)
	}
	if err := backend.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}

	tickPath := filepath.Join(dir, "EURUSD", "2024_03", "EURUSD_TICK_2024-03-15.csv")
	data, err := os.ReadFile(tickPath)
	if err != nil {
		t.Fatalf("read tick file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header and one row, got %d lines", len(lines))
	}
	if lines[0] != "datetime,bid,ask" {
		t.Fatalf("unexpected tick header: %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "2024-03-15 10:30:00") {
		t.Fatalf("unexpected tick row: %q", lines[1])
	}

	barPath := filepath.Join(dir, "EURUSD", "2024_03", "EURUSD_M1_2024-03-15.csv")
	data, err = os.ReadFile(barPath)
	if err != nil {
		t.Fatalf("read bar file: %v", err)
	}
	if !strings.HasPrefix(string(data), "datetime,open,high,low,close,volume\n") {
		t.Fatalf("unexpected bar header: %q", string(data))
	}
}

func TestCSVBackendFlushAppendsWithoutDuplicateHeader(t *testing.T) {
	dir := t.TempDir()
	backend, _ := NewCSVBackend(dir, 0)
	at := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

	backend.LogTick("EURUSD", testTick(at))
	backend.Flush(context.Background())
	backend.LogTick("EURUSD", testTick(at.Add(time.Second)))
	backend.Flush(context.Background())

	data, err := os.ReadFile(filepath.Join(dir, "EURUSD", "2024_03", "EURUSD_TICK_2024-03-15.csv"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.Count(string(data), "datetime,bid,ask") != 1 {
		t.Fatalf("header written more than once:\n%s", data)
	}
	if lines := strings.Split(strings.TrimSpace(string(data)), "\n"); len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
}

func TestCSVBackendCompressArchivesFinishedMonths(t *testing.T) {
	dir := t.TempDir()
	backend, _ := NewCSVBackend(dir, 0)

	feb := time.Date(2024, 2, 10, 9, 0, 0, 0, time.UTC)
	mar := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	backend.LogTick("EURUSD", testTick(feb))
	backend.LogTick("EURUSD", testTick(mar))
	if err := backend.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if err := backend.Compress(context.Background(), mar); err != nil {
		t.Fatalf("compress: %v", err)
	}

	zipPath := filepath.Join(dir, "EURUSD", "2024_02", "EURUSD_TICK_2024_02.zip")
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		t.Fatalf("expected archive at %s: %v", zipPath, err)
	}
	defer reader.Close()
	if len(reader.File) != 1 || reader.File[0].Name != "EURUSD_TICK_2024-02-10.csv" {
		t.Fatalf("unexpected archive contents: %+v", reader.File)
	}

	// 原 CSV 被删除，当前月份保持不动。
	if _, err := os.Stat(filepath.Join(dir, "EURUSD", "2024_02", "EURUSD_TICK_2024-02-10.csv")); !os.IsNotExist(err) {
		t.Fatalf("archived csv should be removed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "EURUSD", "2024_03", "EURUSD_TICK_2024-03-01.csv")); err != nil {
		t.Fatalf("current month csv should stay: %v", err)
	}
}

func TestCSVBackendCleanupRemovesExpiredMonths(t *testing.T) {
	dir := t.TempDir()
	backend, _ := NewCSVBackend(dir, 3)

	old := time.Date(2023, 10, 5, 9, 0, 0, 0, time.UTC)
	recent := time.Date(2024, 2, 5, 9, 0, 0, 0, time.UTC)
	backend.LogTick("EURUSD", testTick(old))
	backend.LogTick("EURUSD", testTick(recent))
	backend.Flush(context.Background())

	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := backend.Cleanup(context.Background(), now); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "EURUSD", "2023_10")); !os.IsNotExist(err) {
		t.Fatalf("expired month should be removed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "EURUSD", "2024_02")); err != nil {
		t.Fatalf("retained month should stay: %v", err)
	}
}

func TestCSVBackendRejectsInvalidTick(t *testing.T) {
	backend, _ := NewCSVBackend(t.TempDir(), 0)
	bad := market.Tick{Time: time.Now(), Bid: 1.2, Ask: 1.1}
	if err := backend.LogTick("EURUSD", bad); err == nil {
		t.Fatal("expected validation error for crossed quote")
	}
}
