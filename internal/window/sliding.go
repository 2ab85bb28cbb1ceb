package window

import (
	"errors"
	"time"
)

// ErrEmptyWindow 表示窗口内没有任何数据点。
var ErrEmptyWindow = errors.New("window is empty")

// ErrTimestampOrder 表示时间戳出现回退。行情时间必须单调不减。
var ErrTimestampOrder = errors.New("timestamps must be non-decreasing")

// Point 是窗口内的一个数据点。
type Point struct {
	Time  time.Time
	Value float64
}

type windowEntry struct {
	seq   uint64
	point Point
}

// SlidingWindowMinMax 维护滚动时间窗口内的最值。
// 双端单调队列方案：每个点最多入队出队一次，均摊 O(1)，
// 取最值直接读队首，无需堆的 O(log n) 开销。
type SlidingWindowMinMax struct {
	window  time.Duration
	points  []windowEntry
	minCand []windowEntry
	maxCand []windowEntry
	nextSeq uint64
}

// NewSlidingWindowMinMax 创建滑动窗口，window 必须为正。
func NewSlidingWindowMinMax(window time.Duration) (*SlidingWindowMinMax, error) {
	if window <= 0 {
		return nil, errors.New("window must be positive")
	}
	return &SlidingWindowMinMax{window: window}, nil
}

// Add 追加一个数据点并淘汰过期点。
func (w *SlidingWindowMinMax) Add(timestamp time.Time, value float64) error {
	if n := len(w.points); n > 0 && timestamp.Before(w.points[n-1].point.Time) {
		return ErrTimestampOrder
	}
	entry := windowEntry{seq: w.nextSeq, point: Point{Time: timestamp, Value: value}}
	w.nextSeq++
	w.points = append(w.points, entry)

	for n := len(w.minCand); n > 0 && w.minCand[n-1].point.Value >= value; n-- {
		w.minCand = w.minCand[:n-1]
	}
	w.minCand = append(w.minCand, entry)

	for n := len(w.maxCand); n > 0 && w.maxCand[n-1].point.Value <= value; n-- {
		w.maxCand = w.maxCand[:n-1]
	}
	w.maxCand = append(w.maxCand, entry)

	w.expire(timestamp)
	return nil
}

// Min 返回窗口内的最小值点。
func (w *SlidingWindowMinMax) Min() (Point, error) {
	if len(w.minCand) == 0 {
		return Point{}, ErrEmptyWindow
	}
	return w.minCand[0].point, nil
}

// Max 返回窗口内的最大值点。
func (w *SlidingWindowMinMax) Max() (Point, error) {
	if len(w.maxCand) == 0 {
		return Point{}, ErrEmptyWindow
	}
	return w.maxCand[0].point, nil
}

// Len 返回窗口内的数据点数量。
func (w *SlidingWindowMinMax) Len() int {
	return len(w.points)
}

// Last 返回最近加入的数据点。
func (w *SlidingWindowMinMax) Last() (Point, error) {
	if len(w.points) == 0 {
		return Point{}, ErrEmptyWindow
	}
	return w.points[len(w.points)-1].point, nil
}

func (w *SlidingWindowMinMax) expire(now time.Time) {
	cutoff := now.Add(-w.window)
	for len(w.points) > 0 && !w.points[0].point.Time.After(cutoff) {
		expired := w.points[0]
		w.points = w.points[1:]
		if len(w.minCand) > 0 && w.minCand[0].seq == expired.seq {
			w.minCand = w.minCand[1:]
		}
		if len(w.maxCand) > 0 && w.maxCand[0].seq == expired.seq {
			w.maxCand = w.maxCand[1:]
		}
	}
}
