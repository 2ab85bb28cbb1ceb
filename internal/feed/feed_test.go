package feed

import (
	"context"
	"testing"
	"time"
)

func TestParseFrameTick(t *testing.T) {
	channel, point, err := parseFrame("EURUSD_TICK 2026-03-02 10:15:30.123456;1.10015;1.10025")
	if err != nil {
		t.Fatalf("parse frame: %v", err)
	}
	if channel != "EURUSD_TICK" {
		t.Fatalf("unexpected channel: %s", channel)
	}
	if point.Time != "2026-03-02 10:15:30.123456" {
		t.Fatalf("unexpected time: %s", point.Time)
	}
	if len(point.Values) != 2 || point.Values[0] != 1.10015 || point.Values[1] != 1.10025 {
		t.Fatalf("unexpected values: %v", point.Values)
	}
}

func TestParseFrameBar(t *testing.T) {
	channel, point, err := parseFrame("GBPUSD_M1 2026-03-02 10:15:00;1.2700;1.2710;1.2695;1.2705;42")
	if err != nil {
		t.Fatalf("parse frame: %v", err)
	}
	if channel != "GBPUSD_M1" {
		t.Fatalf("unexpected channel: %s", channel)
	}
	if len(point.Values) != 5 {
		t.Fatalf("expected 5 values, got %v", point.Values)
	}
	if point.Values[4] != 42 {
		t.Fatalf("unexpected volume: %v", point.Values[4])
	}
}

func TestParseFrameMalformed(t *testing.T) {
	cases := []string{
		"",
		"EURUSD_TICK",
		"EURUSD_TICK ",
		" 2026-03-02 10:15:30;1.1",
		"EURUSD_TICK 2026-03-02-10:15:30",
		"EURUSD_TICK 2026-03-02 10:15:30;abc",
	}
	for _, frame := range cases {
		if _, _, err := parseFrame(frame); err == nil {
			t.Fatalf("expected error for frame %q", frame)
		}
	}
}

func TestMemoryFeedPublishConsume(t *testing.T) {
	f := NewMemoryFeed(4)
	defer f.Close()

	batch := Batch{
		"EURUSD_TICK": {{Time: "2026-03-02 10:15:30.123456", Values: []float64{1.1, 1.1001}}},
	}
	if err := f.Publish(context.Background(), batch); err != nil {
		t.Fatalf("publish: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	received := make(chan Batch, 1)
	go func() {
		_ = f.Consume(ctx, func(ctx context.Context, b Batch) error {
			received <- b
			cancel()
			return nil
		})
	}()

	select {
	case got := <-received:
		points, ok := got["EURUSD_TICK"]
		if !ok || len(points) != 1 {
			t.Fatalf("unexpected batch: %v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("batch was not consumed in time")
	}
}

func TestMemoryFeedSubscriptionBookkeeping(t *testing.T) {
	f := NewMemoryFeed(1)
	defer f.Close()

	if err := f.Subscribe("EURUSD"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := f.TrackTicks("EURUSD"); err != nil {
		t.Fatalf("track ticks: %v", err)
	}
	if err := f.TrackBars("EURUSD", []string{"M1", "H1"}); err != nil {
		t.Fatalf("track bars: %v", err)
	}
	if !f.Subscribed("EURUSD") {
		t.Fatal("EURUSD should be subscribed")
	}

	if err := f.Unsubscribe("EURUSD"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if f.Subscribed("EURUSD") {
		t.Fatal("EURUSD should no longer be subscribed")
	}
	unsubs := f.Unsubscribed()
	if len(unsubs) != 1 || unsubs[0] != "EURUSD" {
		t.Fatalf("unexpected unsubscribed list: %v", unsubs)
	}
}

func TestMemoryFeedPublishAfterClose(t *testing.T) {
	f := NewMemoryFeed(1)
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := f.Publish(context.Background(), Batch{}); err == nil {
		t.Fatal("expected error when publishing to a closed feed")
	}
}
