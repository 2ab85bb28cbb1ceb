package market

import (
	"context"
	"errors"
	"testing"
	"time"

	"TickFlow-Notifier/internal/feed"
)

type captureRecorder struct {
	ticks []Tick
	bars  []Bar
}

func (r *captureRecorder) LogTick(symbol string, tick Tick) error {
	r.ticks = append(r.ticks, tick)
	return nil
}

func (r *captureRecorder) LogBar(symbol, timeframe string, bar Bar) error {
	r.bars = append(r.bars, bar)
	return nil
}

type captureSink struct {
	ticks int
	bars  int
}

func (s *captureSink) HandleTick(ctx context.Context, symbol string, tick Tick) error {
	s.ticks++
	return nil
}

func (s *captureSink) HandleBar(ctx context.Context, symbol, timeframe string, bar Bar) error {
	s.bars++
	return nil
}

type captureUnsubscriber struct {
	symbols []string
}

func (u *captureUnsubscriber) Unsubscribe(symbol string) error {
	u.symbols = append(u.symbols, symbol)
	return nil
}

func TestHandlerRoutesTicks(t *testing.T) {
	recorder := &captureRecorder{}
	sink := &captureSink{}
	h := NewHandler(WithRecorder(recorder), WithSink(sink), WithBrokerUTCOffset(3))

	batch := feed.Batch{
		"EURUSD": {{Time: "2024-03-15 13:30:00.123456", Values: []float64{1.1000, 1.1002}}},
	}
	if err := h.Process(context.Background(), batch); err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(recorder.ticks) != 1 || sink.ticks != 1 {
		t.Fatalf("tick not routed: recorder=%d sink=%d", len(recorder.ticks), sink.ticks)
	}
	// 经纪商时间 UTC+3 被换算为 UTC。
	want := time.Date(2024, 3, 15, 10, 30, 0, 123456000, time.UTC)
	if !recorder.ticks[0].Time.Equal(want) {
		t.Fatalf("expected %v, got %v", want, recorder.ticks[0].Time)
	}
}

func TestHandlerRoutesBars(t *testing.T) {
	recorder := &captureRecorder{}
	sink := &captureSink{}
	h := NewHandler(WithRecorder(recorder), WithSink(sink))

	batch := feed.Batch{
		"GBPUSD_M1": {{Time: "2024-03-15 13:30:00.000000", Values: []float64{1.26, 1.27, 1.25, 1.265, 42}}},
	}
	if err := h.Process(context.Background(), batch); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(recorder.bars) != 1 || sink.bars != 1 {
		t.Fatalf("bar not routed: recorder=%d sink=%d", len(recorder.bars), sink.bars)
	}
	if recorder.bars[0].Volume != 42 {
		t.Fatalf("expected volume 42, got %d", recorder.bars[0].Volume)
	}
}

func TestHandlerDropsInvalidPoints(t *testing.T) {
	recorder := &captureRecorder{}
	h := NewHandler(WithRecorder(recorder))

	batch := feed.Batch{
		"FOOBAR":    {{Time: "2024-03-15 13:30:00.000000", Values: []float64{1, 2}}},
		"EURUSD":    {{Time: "not-a-time", Values: []float64{1.1, 1.2}}},
		"GBPUSD":    {{Time: "2024-03-15 13:30:00.000000", Values: []float64{1.2}}},
		"USDJPY_M1": {{Time: "2024-03-15 13:30:00.000000", Values: []float64{150, 149, 151, 150, 1}}},
	}
	if err := h.Process(context.Background(), batch); err != nil {
		t.Fatalf("process should swallow invalid points: %v", err)
	}
	if len(recorder.ticks) != 0 || len(recorder.bars) != 0 {
		t.Fatal("invalid points must not reach the recorder")
	}
}

func TestHandlerUnsubscribesAfterFlatStreak(t *testing.T) {
	unsub := &captureUnsubscriber{}
	h := NewHandler(WithUnsubscriber(unsub), WithFlatBarThreshold(3))

	flat := feed.Point{Time: "2024-03-15 13:30:00.000000", Values: []float64{1.1, 1.1, 1.1, 1.1, 0}}
	ctx := context.Background()

	// 阈值为 3 意味着第 3 根死线仍然容忍，第 4 根才触发。
	for i := 0; i < 3; i++ {
		if err := h.Process(ctx, feed.Batch{"EURUSD_M1": {flat}}); err != nil {
			t.Fatalf("streak at threshold should not error: %v", err)
		}
	}
	if len(unsub.symbols) != 0 {
		t.Fatal("unsubscribed before exceeding threshold")
	}

	err := h.Process(ctx, feed.Batch{"EURUSD_M1": {flat}})
	if err == nil {
		t.Fatal("expected flat bar error beyond threshold")
	}
	var flatErr *FlatBarError
	if !errors.As(err, &flatErr) {
		t.Fatalf("expected FlatBarError, got %v", err)
	}
	if flatErr.Count != 4 || flatErr.Symbol != "EURUSD" {
		t.Fatalf("unexpected flat error: %+v", flatErr)
	}
	if len(unsub.symbols) != 1 || unsub.symbols[0] != "EURUSD" {
		t.Fatalf("expected EURUSD unsubscribe, got %v", unsub.symbols)
	}
}

func TestHandlerFlatStreakResetsOnLiveBar(t *testing.T) {
	unsub := &captureUnsubscriber{}
	h := NewHandler(WithUnsubscriber(unsub), WithFlatBarThreshold(2))

	flat := feed.Point{Time: "2024-03-15 13:30:00.000000", Values: []float64{1.1, 1.1, 1.1, 1.1, 0}}
	live := feed.Point{Time: "2024-03-15 13:31:00.000000", Values: []float64{1.1, 1.2, 1.05, 1.15, 5}}
	ctx := context.Background()

	h.Process(ctx, feed.Batch{"EURUSD_M1": {flat}})
	h.Process(ctx, feed.Batch{"EURUSD_M1": {live}})
	if err := h.Process(ctx, feed.Batch{"EURUSD_M1": {flat}}); err != nil {
		t.Fatalf("streak should reset after live bar: %v", err)
	}
	if len(unsub.symbols) != 0 {
		t.Fatal("should not unsubscribe after reset")
	}
}
