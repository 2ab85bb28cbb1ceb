package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"TickFlow-Notifier/internal/feed"
	"TickFlow-Notifier/internal/market"
	"TickFlow-Notifier/internal/notify"
)

func newTestServer(t *testing.T) (*Server, *notify.VolatilityNotifier, *feed.MemoryFeed) {
	t.Helper()
	manager := notify.NewManager(notify.NewMemoryQueue(8), notify.NewFanout())
	notifier, err := notify.NewVolatilityNotifier(notify.Config{
		Symbols: map[string]map[string]notify.Thresholds{
			"EURUSD": {"M1": {VolatilityPips: 10, ActivityTicks: 50}},
		},
	}, manager)
	if err != nil {
		t.Fatalf("create notifier: %v", err)
	}
	f := feed.NewMemoryFeed(8)
	return NewServer(":0", notifier, f), notifier, f
}

func TestHealthz(t *testing.T) {
	server, _, _ := newTestServer(t)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestListSymbols(t *testing.T) {
	server, _, _ := newTestServer(t)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/symbols")
	if err != nil {
		t.Fatalf("list request failed: %v", err)
	}
	defer resp.Body.Close()

	var symbols map[string][]string
	if err := json.NewDecoder(resp.Body).Decode(&symbols); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	frames, ok := symbols["EURUSD"]
	if !ok || len(frames) != 1 || frames[0] != "M1" {
		t.Fatalf("unexpected symbols: %v", symbols)
	}
}

func TestSubscribeSymbol(t *testing.T) {
	server, notifier, f := newTestServer(t)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	body, _ := json.Marshal(map[string]any{
		"symbol":     "GBPUSD",
		"timeframes": []string{"M1", "H1"},
	})
	resp, err := http.Post(ts.URL+"/api/v1/symbols", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("subscribe request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	if _, ok := notifier.Symbols()["GBPUSD"]; !ok {
		t.Fatal("notifier should track GBPUSD after subscribe")
	}
	if !f.Subscribed("GBPUSD") {
		t.Fatal("feed should have been subscribed to GBPUSD")
	}
}

// brokenFeed 的 Subscribe 始终失败，用于验证订阅失败时的回滚。
type brokenFeed struct{}

func (brokenFeed) Subscribe(symbol string) error   { return errors.New("connector unavailable") }
func (brokenFeed) Unsubscribe(symbol string) error { return nil }
func (brokenFeed) TrackTicks(symbol string) error  { return nil }
func (brokenFeed) TrackBars(symbol string, timeframes []string) error {
	return nil
}
func (brokenFeed) Consume(ctx context.Context, handler feed.Handler) error { return nil }
func (brokenFeed) Close() error                                            { return nil }

func TestSubscribeFeedFailureRollsBackNewSymbol(t *testing.T) {
	server, notifier, _ := newTestServer(t)
	server.feed = brokenFeed{}
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	body, _ := json.Marshal(map[string]any{
		"symbol":     "GBPUSD",
		"timeframes": []string{"M1"},
	})
	resp, err := http.Post(ts.URL+"/api/v1/symbols", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("subscribe request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	if _, ok := notifier.Symbols()["GBPUSD"]; ok {
		t.Fatal("failed subscribe must not leave a new tracker behind")
	}
}

func TestSubscribeFeedFailureKeepsExistingSymbol(t *testing.T) {
	server, notifier, _ := newTestServer(t)
	server.feed = brokenFeed{}
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	// EURUSD 已在跟踪中，订阅失败不能删掉原有跟踪器。
	body, _ := json.Marshal(map[string]any{
		"symbol":     "EURUSD",
		"timeframes": []string{"M1", "M5"},
	})
	resp, err := http.Post(ts.URL+"/api/v1/symbols", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("subscribe request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	frames, ok := notifier.Symbols()["EURUSD"]
	if !ok {
		t.Fatal("EURUSD must remain tracked after a failed subscribe")
	}
	found := false
	for _, frame := range frames {
		if frame == "M1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("original M1 timeframe lost, got %v", frames)
	}
}

func TestSubscribeRejectsUnknownSymbol(t *testing.T) {
	server, _, _ := newTestServer(t)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	body, _ := json.Marshal(map[string]any{
		"symbol":     "NOPEUSD",
		"timeframes": []string{"M1"},
	})
	resp, err := http.Post(ts.URL+"/api/v1/symbols", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("subscribe request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestSubscribeRejectsBadTimeframe(t *testing.T) {
	server, _, _ := newTestServer(t)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	body, _ := json.Marshal(map[string]any{
		"symbol":     "GBPUSD",
		"timeframes": []string{"M7"},
	})
	resp, err := http.Post(ts.URL+"/api/v1/symbols", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("subscribe request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestUnsubscribeSymbol(t *testing.T) {
	server, notifier, f := newTestServer(t)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/symbols/EURUSD", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	if _, ok := notifier.Symbols()["EURUSD"]; ok {
		t.Fatal("EURUSD should no longer be tracked")
	}
	unsubs := f.Unsubscribed()
	if len(unsubs) != 1 || unsubs[0] != "EURUSD" {
		t.Fatalf("feed should have been unsubscribed, got %v", unsubs)
	}
}

func TestUnsubscribeUnknownSymbol(t *testing.T) {
	server, _, _ := newTestServer(t)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/symbols/USDJPY", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestRangeQuery(t *testing.T) {
	server, notifier, _ := newTestServer(t)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	// 喂三笔报价，让 M1 聚合器里有数据。
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	mids := []float64{1.1000, 1.1010, 1.1005}
	for i, mid := range mids {
		tick := market.Tick{Time: base.Add(time.Duration(i) * time.Second), Bid: mid - 0.00001, Ask: mid + 0.00001}
		if err := notifier.HandleTick(context.Background(), "EURUSD", tick); err != nil {
			t.Fatalf("handle tick: %v", err)
		}
	}

	resp, err := http.Get(ts.URL + "/api/v1/range?symbol=EURUSD&timeframe=M1&buckets=1")
	if err != nil {
		t.Fatalf("range request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var got rangeResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Count != 3 {
		t.Fatalf("expected count 3, got %d", got.Count)
	}
	if got.Min >= got.Max {
		t.Fatalf("expected min < max, got min=%v max=%v", got.Min, got.Max)
	}
	if got.Max-got.Min < 0.0009 || got.Max-got.Min > 0.0011 {
		t.Fatalf("unexpected spread: %v", got.Max-got.Min)
	}
}

func TestRangeUnknownSymbol(t *testing.T) {
	server, _, _ := newTestServer(t)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/range?symbol=USDCAD&timeframe=M1")
	if err != nil {
		t.Fatalf("range request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestRangeMissingParams(t *testing.T) {
	server, _, _ := newTestServer(t)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/range?symbol=EURUSD")
	if err != nil {
		t.Fatalf("range request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestStartShutsDownOnCancel(t *testing.T) {
	server, _, _ := newTestServer(t)
	server.addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Start(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}
