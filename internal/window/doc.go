// Package window implements the sliding-window containers behind
// volatility tracking: a monotonic-deque min/max window with O(1)
// amortized updates, an array-based segment tree for O(log n) range
// min/max queries, and a bucketed sliding aggregator that condenses ticks
// into clock-aligned buckets.
package window
