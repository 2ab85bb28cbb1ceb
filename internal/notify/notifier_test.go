package notify

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"TickFlow-Notifier/internal/market"
)

func testConfig() Config {
	return Config{
		CooldownUnits:    1,
		RetentionBuckets: 100,
		Symbols: map[string]map[string]Thresholds{
			"EURUSD": {"M1": {VolatilityPips: 10, ActivityTicks: 50}},
		},
	}
}

func newTestNotifier(t *testing.T) (*VolatilityNotifier, *MemoryQueue) {
	t.Helper()
	queue := NewMemoryQueue(16)
	manager := NewManager(queue, NewFanout())
	notifier, err := NewVolatilityNotifier(testConfig(), manager)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	return notifier, queue
}

func TestNotifierRoutesTicksToManager(t *testing.T) {
	notifier, queue := newTestNotifier(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	if err := notifier.HandleTick(ctx, "EURUSD", tickAt(base, 1.10000)); err != nil {
		t.Fatalf("handle tick: %v", err)
	}
	if err := notifier.HandleTick(ctx, "EURUSD", tickAt(base.Add(5*time.Second), 1.10150)); err != nil {
		t.Fatalf("handle tick: %v", err)
	}

	// 首次触发距零值 lastFlush 超过间隔，Enqueue 立即刷出。
	select {
	case alert := <-queue.ch:
		if !strings.Contains(alert.Message, "EURUSD") {
			t.Fatalf("alert does not mention symbol: %q", alert.Message)
		}
	default:
		t.Fatal("expected an alert in the queue")
	}
}

func TestNotifierIgnoresUntrackedSymbols(t *testing.T) {
	notifier, queue := newTestNotifier(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	notifier.HandleTick(ctx, "GBPUSD", tickAt(base, 1.26000))
	notifier.HandleTick(ctx, "GBPUSD", tickAt(base.Add(time.Second), 1.27000))

	select {
	case alert := <-queue.ch:
		t.Fatalf("untracked symbol produced alert: %q", alert.Message)
	default:
	}
}

func TestNotifierUpdateConfigAddsAndRemoves(t *testing.T) {
	notifier, _ := newTestNotifier(t)

	cfg := testConfig()
	cfg.Symbols["GBPUSD"] = map[string]Thresholds{"M5": {VolatilityPips: 15, ActivityTicks: 60}}
	delete(cfg.Symbols, "EURUSD")
	if err := notifier.UpdateConfig(cfg); err != nil {
		t.Fatalf("update config: %v", err)
	}

	symbols := notifier.Symbols()
	if _, ok := symbols["EURUSD"]; ok {
		t.Fatal("removed symbol still tracked")
	}
	frames, ok := symbols["GBPUSD"]
	if !ok || len(frames) != 1 || frames[0] != "M5" {
		t.Fatalf("added symbol not tracked: %v", symbols)
	}
}

func TestNotifierUpdateConfigPreservesHistory(t *testing.T) {
	notifier, _ := newTestNotifier(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 7; i++ {
		notifier.HandleTick(ctx, "EURUSD", tickAt(base.Add(time.Duration(i)*time.Second), 1.10000))
	}

	cfg := testConfig()
	cfg.Symbols["EURUSD"]["M1"] = Thresholds{VolatilityPips: 25, ActivityTicks: 90}
	if err := notifier.UpdateConfig(cfg); err != nil {
		t.Fatalf("update config: %v", err)
	}

	_, _, count, err := notifier.Range("EURUSD", "M1", 1)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if count != 7 {
		t.Fatalf("history lost on config update: count=%d", count)
	}
}

func TestNotifierUpdateConfigIsIdempotent(t *testing.T) {
	notifier, _ := newTestNotifier(t)
	for i := 0; i < 3; i++ {
		if err := notifier.UpdateConfig(testConfig()); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}
	if len(notifier.Symbols()) != 1 {
		t.Fatalf("repeated updates changed tracker set: %v", notifier.Symbols())
	}
}

func TestNotifierUpdateConfigRejectsInvalid(t *testing.T) {
	notifier, _ := newTestNotifier(t)

	cfg := testConfig()
	cfg.Symbols["FOOBAR"] = map[string]Thresholds{"M1": {VolatilityPips: 10, ActivityTicks: 50}}
	if err := notifier.UpdateConfig(cfg); err == nil {
		t.Fatal("expected error for unsupported symbol")
	}
	// 校验失败时原有配置保持不变。
	if _, ok := notifier.Symbols()["EURUSD"]; !ok {
		t.Fatal("failed update must not drop existing trackers")
	}
}

func TestNotifierAddAndRemoveSymbol(t *testing.T) {
	notifier, _ := newTestNotifier(t)

	if err := notifier.AddSymbol("USDJPY", []string{"M1", "M5"}); err != nil {
		t.Fatalf("add symbol: %v", err)
	}
	frames := notifier.Symbols()["USDJPY"]
	if len(frames) != 2 {
		t.Fatalf("expected two timeframes, got %v", frames)
	}

	if !notifier.RemoveSymbol("USDJPY") {
		t.Fatal("expected removal to report true")
	}
	if notifier.RemoveSymbol("USDJPY") {
		t.Fatal("second removal should report false")
	}
}

func TestNotifierConcurrentUpdateConfigAndAddSymbol(t *testing.T) {
	notifier, _ := newTestNotifier(t)

	// 热重载与 API 订阅在守护进程里并发执行，配置读写必须互斥。
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			if err := notifier.UpdateConfig(testConfig()); err != nil {
				t.Errorf("update config: %v", err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			if err := notifier.AddSymbol("GBPUSD", []string{"M1"}); err != nil {
				t.Errorf("add symbol: %v", err)
				return
			}
		}
	}()
	wg.Wait()
}

func TestNotifierHandleBarIsNoop(t *testing.T) {
	notifier, queue := newTestNotifier(t)
	bar := market.Bar{Time: time.Now(), Open: 1.1, High: 1.2, Low: 1.0, Close: 1.15, Volume: 5}
	if err := notifier.HandleBar(context.Background(), "EURUSD", "M1", bar); err != nil {
		t.Fatalf("handle bar: %v", err)
	}
	select {
	case <-queue.ch:
		t.Fatal("bar must not produce alerts")
	default:
	}
}
