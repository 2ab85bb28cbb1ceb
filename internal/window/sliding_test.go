package window

import (
	"errors"
	"testing"
	"time"
)

func TestSlidingWindowMinMaxUpdates(t *testing.T) {
	w, err := NewSlidingWindowMinMax(time.Hour)
	if err != nil {
		t.Fatalf("new window: %v", err)
	}
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	values := []float64{10, 5, 12, 7}
	for i, v := range values {
		if err := w.Add(base.Add(time.Duration(i)*time.Minute), v); err != nil {
			t.Fatalf("add %f: %v", v, err)
		}
	}

	minPoint, err := w.Min()
	if err != nil {
		t.Fatalf("min: %v", err)
	}
	if minPoint.Value != 5 {
		t.Fatalf("expected min 5, got %f", minPoint.Value)
	}
	maxPoint, err := w.Max()
	if err != nil {
		t.Fatalf("max: %v", err)
	}
	if maxPoint.Value != 12 {
		t.Fatalf("expected max 12, got %f", maxPoint.Value)
	}
}

func TestSlidingWindowValuesExpire(t *testing.T) {
	w, _ := NewSlidingWindowMinMax(10 * time.Minute)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	if err := w.Add(base, 100); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := w.Add(base.Add(5*time.Minute), 50); err != nil {
		t.Fatalf("add: %v", err)
	}
	// 第一个点已超出窗口，应被淘汰。
	if err := w.Add(base.Add(11*time.Minute), 75); err != nil {
		t.Fatalf("add: %v", err)
	}

	maxPoint, err := w.Max()
	if err != nil {
		t.Fatalf("max: %v", err)
	}
	if maxPoint.Value != 75 {
		t.Fatalf("expected max 75 after expiry, got %f", maxPoint.Value)
	}
	minPoint, _ := w.Min()
	if minPoint.Value != 50 {
		t.Fatalf("expected min 50 after expiry, got %f", minPoint.Value)
	}
}

func TestSlidingWindowEmptyLookup(t *testing.T) {
	w, _ := NewSlidingWindowMinMax(time.Minute)
	if _, err := w.Min(); !errors.Is(err, ErrEmptyWindow) {
		t.Fatalf("expected ErrEmptyWindow, got %v", err)
	}
	if _, err := w.Max(); !errors.Is(err, ErrEmptyWindow) {
		t.Fatalf("expected ErrEmptyWindow, got %v", err)
	}
}

func TestSlidingWindowRejectsNonMonotonicTimestamps(t *testing.T) {
	w, _ := NewSlidingWindowMinMax(time.Minute)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	if err := w.Add(base, 1); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := w.Add(base.Add(-time.Second), 2); !errors.Is(err, ErrTimestampOrder) {
		t.Fatalf("expected ErrTimestampOrder, got %v", err)
	}
}

func TestSlidingWindowRejectsNonPositiveSpan(t *testing.T) {
	if _, err := NewSlidingWindowMinMax(0); err == nil {
		t.Fatal("expected error for zero window")
	}
}
