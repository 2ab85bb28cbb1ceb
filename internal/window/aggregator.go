package window

import (
	"errors"
	"math"
	"time"
)

// Bucket 是一个定长时间桶的聚合结果，由活跃窗口在跨桶时凝结而来。
type Bucket struct {
	Start time.Time
	End   time.Time
	Min   float64
	Max   float64
	Count int
}

// IsEmpty 判断桶内是否没有数据点。
func (b Bucket) IsEmpty() bool {
	return b.Count == 0
}

// BucketedSlidingAggregator 把 tick 聚合进时钟对齐的定长桶。
//
// 活跃桶用 SlidingWindowMinMax 做 O(1) 最值跟踪；历史桶以凝结后的聚合形式
// 保存；区间查询经由惰性重建的线段树完成。
//
// 复杂度：Add 均摊 O(1)，QueryMinMax O(log n)。
type BucketedSlidingAggregator struct {
	span      time.Duration
	maxWindow int

	buckets      []Bucket
	active       *SlidingWindowMinMax
	currentStart time.Time
	hasCurrent   bool

	tree      *SegmentTreeMinMax
	treeDirty bool
}

// activeSpan 是活跃窗口的保留时长。活跃窗口只承载当前桶内的点，
// 取一个远大于任何桶跨度的值即可。
const activeSpan = 24 * time.Hour

// NewBucketedSlidingAggregator 创建聚合器。
// span 是桶的时间跨度，maxWindow 是保留的历史桶数量上限（0 表示不限制）。
func NewBucketedSlidingAggregator(span time.Duration, maxWindow int) (*BucketedSlidingAggregator, error) {
	if span <= 0 {
		return nil, errors.New("bucket span must be positive")
	}
	if maxWindow < 0 {
		return nil, errors.New("max window must be non-negative")
	}
	active, err := NewSlidingWindowMinMax(activeSpan)
	if err != nil {
		return nil, err
	}
	return &BucketedSlidingAggregator{
		span:      span,
		maxWindow: maxWindow,
		active:    active,
		treeDirty: true,
	}, nil
}

// Span 返回桶的时间跨度。
func (a *BucketedSlidingAggregator) Span() time.Duration {
	return a.span
}

// Add 追加一个 tick，在跨越桶边界时把活跃窗口凝结为历史桶。
func (a *BucketedSlidingAggregator) Add(timestamp time.Time, value float64) error {
	if err := a.validateTimestamp(timestamp); err != nil {
		return err
	}

	bucketStart := a.alignToBucket(timestamp)

	if a.hasCurrent && !bucketStart.Equal(a.currentStart) {
		a.condense()
		a.currentStart = bucketStart
	}
	if !a.hasCurrent {
		a.currentStart = bucketStart
		a.hasCurrent = true
	}

	return a.active.Add(timestamp, value)
}

// QueryMinMax 查询活跃桶加上最近 numBuckets 个桶跨度内的最值。
// numBuckets 为 0 时仅查活跃桶；空洞桶自然被忽略；窗口为空时报错。
func (a *BucketedSlidingAggregator) QueryMinMax(numBuckets int) (float64, float64, error) {
	if numBuckets < 0 {
		return 0, 0, errors.New("num buckets must be non-negative")
	}

	minVal, maxVal := a.activeMinMax()

	if numBuckets > 0 {
		histMin, histMax := a.queryHistorical(numBuckets)
		minVal = math.Min(minVal, histMin)
		maxVal = math.Max(maxVal, histMax)
	}

	if math.IsInf(minVal, 1) {
		return 0, 0, ErrEmptyWindow
	}
	return minVal, maxVal, nil
}

// QueryCount 返回活跃桶加上最近 numBuckets 个桶跨度内的数据点总数。
func (a *BucketedSlidingAggregator) QueryCount(numBuckets int) (int, error) {
	if numBuckets < 0 {
		return 0, errors.New("num buckets must be non-negative")
	}
	count := a.active.Len()
	if numBuckets > 0 && a.hasCurrent {
		lookbackStart := a.currentStart.Add(-time.Duration(numBuckets) * a.span)
		if idx := a.firstBucketSince(lookbackStart); idx >= 0 {
			for i := idx; i < len(a.buckets); i++ {
				count += a.buckets[i].Count
			}
		}
	}
	return count, nil
}

// Last 返回最近一个数据点。
func (a *BucketedSlidingAggregator) Last() (Point, error) {
	return a.active.Last()
}

// BucketCount 返回已凝结的历史桶数量。
func (a *BucketedSlidingAggregator) BucketCount() int {
	return len(a.buckets)
}

func (a *BucketedSlidingAggregator) activeMinMax() (float64, float64) {
	minPoint, err := a.active.Min()
	if err != nil {
		return math.Inf(1), math.Inf(-1)
	}
	maxPoint, _ := a.active.Max()
	return minPoint.Value, maxPoint.Value
}

func (a *BucketedSlidingAggregator) condense() {
	if !a.hasCurrent {
		return
	}
	bucket := Bucket{
		Start: a.currentStart,
		End:   a.currentStart.Add(a.span),
		Min:   math.Inf(1),
		Max:   math.Inf(-1),
	}
	if a.active.Len() > 0 {
		minPoint, _ := a.active.Min()
		maxPoint, _ := a.active.Max()
		bucket.Min = minPoint.Value
		bucket.Max = maxPoint.Value
		bucket.Count = a.active.Len()
	}
	a.buckets = append(a.buckets, bucket)

	if a.maxWindow > 0 {
		for len(a.buckets) > a.maxWindow {
			a.buckets = a.buckets[1:]
		}
	}

	a.treeDirty = true
	a.active, _ = NewSlidingWindowMinMax(activeSpan)
}

func (a *BucketedSlidingAggregator) queryHistorical(numBuckets int) (float64, float64) {
	if len(a.buckets) == 0 || !a.hasCurrent {
		return math.Inf(1), math.Inf(-1)
	}

	if a.treeDirty {
		a.tree = NewSegmentTreeMinMax(a.buckets)
		a.treeDirty = false
	}

	lookbackStart := a.currentStart.Add(-time.Duration(numBuckets) * a.span)
	leftIdx := a.firstBucketSince(lookbackStart)
	if leftIdx < 0 || a.tree == nil {
		return math.Inf(1), math.Inf(-1)
	}

	minVal, maxVal, err := a.tree.Query(leftIdx, len(a.buckets)-1)
	if err != nil {
		return math.Inf(1), math.Inf(-1)
	}
	return minVal, maxVal
}

// firstBucketSince 二分查找第一个 Start >= lookbackStart 的桶下标。
func (a *BucketedSlidingAggregator) firstBucketSince(lookbackStart time.Time) int {
	left, right := 0, len(a.buckets)
	for left < right {
		mid := (left + right) / 2
		if a.buckets[mid].Start.Before(lookbackStart) {
			left = mid + 1
		} else {
			right = mid
		}
	}
	if left < len(a.buckets) {
		return left
	}
	return -1
}

// alignToBucket 把时间戳向下取整到桶边界（基于 Unix 纪元对齐）。
func (a *BucketedSlidingAggregator) alignToBucket(timestamp time.Time) time.Time {
	offset := timestamp.Sub(time.Unix(0, 0).UTC())
	aligned := offset - offset%a.span
	if offset < 0 && offset%a.span != 0 {
		aligned -= a.span
	}
	return time.Unix(0, 0).UTC().Add(aligned)
}

func (a *BucketedSlidingAggregator) validateTimestamp(timestamp time.Time) error {
	if n := len(a.buckets); n > 0 && timestamp.Before(a.buckets[n-1].End) {
		return ErrTimestampOrder
	}
	if last, err := a.active.Last(); err == nil && timestamp.Before(last.Time) {
		return ErrTimestampOrder
	}
	return nil
}
