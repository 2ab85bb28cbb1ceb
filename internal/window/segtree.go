package window

import (
	"fmt"
	"math"
)

// SegmentTreeMinMax 基于数组的线段树，对已凝结的桶做区间最值查询。
// 节点 i 的子节点是 2i+1 和 2i+2；空桶贡献 (+inf, -inf)，查询时自然被忽略。
// 构建 O(n)，查询 O(log n)，空间 O(n)。
type SegmentTreeMinMax struct {
	n    int
	mins []float64
	maxs []float64
}

// NewSegmentTreeMinMax 以 O(n) 时间从桶序列构建线段树。
func NewSegmentTreeMinMax(buckets []Bucket) *SegmentTreeMinMax {
	t := &SegmentTreeMinMax{n: len(buckets)}
	if t.n == 0 {
		return t
	}
	// 4n 足以容纳任意 n 的完整树。
	t.mins = make([]float64, 4*t.n)
	t.maxs = make([]float64, 4*t.n)
	for i := range t.mins {
		t.mins[i] = math.Inf(1)
		t.maxs[i] = math.Inf(-1)
	}
	t.build(buckets, 0, 0, t.n-1)
	return t
}

// Query 查询桶下标区间 [left, right] 上的最值。
func (t *SegmentTreeMinMax) Query(left, right int) (float64, float64, error) {
	if t.n == 0 {
		return math.Inf(1), math.Inf(-1), nil
	}
	if left < 0 || right >= t.n || left > right {
		return 0, 0, fmt.Errorf("invalid range [%d, %d] for tree size %d", left, right, t.n)
	}
	minVal, maxVal := t.query(0, 0, t.n-1, left, right)
	return minVal, maxVal, nil
}

func (t *SegmentTreeMinMax) build(buckets []Bucket, node, start, end int) {
	if start == end {
		// 叶子节点；空桶保持 (+inf, -inf)。
		if !buckets[start].IsEmpty() {
			t.mins[node] = buckets[start].Min
			t.maxs[node] = buckets[start].Max
		}
		return
	}
	mid := (start + end) / 2
	left, right := 2*node+1, 2*node+2
	t.build(buckets, left, start, mid)
	t.build(buckets, right, mid+1, end)
	t.mins[node] = math.Min(t.mins[left], t.mins[right])
	t.maxs[node] = math.Max(t.maxs[left], t.maxs[right])
}

func (t *SegmentTreeMinMax) query(node, nodeStart, nodeEnd, queryLeft, queryRight int) (float64, float64) {
	if queryRight < nodeStart || queryLeft > nodeEnd {
		return math.Inf(1), math.Inf(-1)
	}
	if queryLeft <= nodeStart && nodeEnd <= queryRight {
		return t.mins[node], t.maxs[node]
	}
	mid := (nodeStart + nodeEnd) / 2
	leftMin, leftMax := t.query(2*node+1, nodeStart, mid, queryLeft, queryRight)
	rightMin, rightMax := t.query(2*node+2, mid+1, nodeEnd, queryLeft, queryRight)
	return math.Min(leftMin, rightMin), math.Max(leftMax, rightMax)
}
