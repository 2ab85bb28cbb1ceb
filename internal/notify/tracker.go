package notify

import (
	"sort"
	"time"

	xerrors "TickFlow-Notifier/internal/errors"
	"TickFlow-Notifier/internal/market"
	"TickFlow-Notifier/internal/window"
)

// DefaultCooldownUnits 是默认冷却倍数：一个周期跨度内不重复告警。
const DefaultCooldownUnits = 1

// DefaultRetentionBuckets 是每个周期聚合器保留的历史桶数量。
const DefaultRetentionBuckets = 720

type timeframeState struct {
	timeframe  string
	span       time.Duration
	thresholds Thresholds
	agg        *window.BucketedSlidingAggregator

	lastLevel int
	lastEmit  time.Time
	hasEmit   bool
}

// SymbolTracker 跟踪单个品种在若干周期上的波动。调用方负责串行化访问。
type SymbolTracker struct {
	symbol    string
	pip       float64
	cooldown  int
	retention int
	frames    map[string]*timeframeState
}

// NewSymbolTracker 为品种创建跟踪器，thresholds 以周期代码为键。
func NewSymbolTracker(symbol string, thresholds map[string]Thresholds, cooldownUnits, retentionBuckets int) (*SymbolTracker, error) {
	if err := market.ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	if cooldownUnits <= 0 {
		cooldownUnits = DefaultCooldownUnits
	}
	if retentionBuckets <= 0 {
		retentionBuckets = DefaultRetentionBuckets
	}
	tracker := &SymbolTracker{
		symbol:    symbol,
		pip:       market.PipSize(symbol),
		cooldown:  cooldownUnits,
		retention: retentionBuckets,
		frames:    make(map[string]*timeframeState),
	}
	if err := tracker.UpdateThresholds(thresholds); err != nil {
		return nil, err
	}
	return tracker, nil
}

// UpdateThresholds 幂等地应用新的周期阈值：新增周期创建聚合器，
// 移除的周期连同历史一起丢弃，保留的周期仅原地更新阈值。
func (t *SymbolTracker) UpdateThresholds(thresholds map[string]Thresholds) error {
	if len(thresholds) == 0 {
		return xerrors.New(CodeNotifyConfig, "at least one timeframe is required for "+t.symbol)
	}
	for timeframe, th := range thresholds {
		if err := market.ValidateTimeframe(timeframe); err != nil {
			return err
		}
		if err := th.Validate(); err != nil {
			return err
		}
		if state, ok := t.frames[timeframe]; ok {
			state.thresholds = th
			continue
		}
		span, err := market.TimeframeDuration(timeframe)
		if err != nil {
			return err
		}
		agg, err := window.NewBucketedSlidingAggregator(span, t.retention)
		if err != nil {
			return xerrors.Wrap(CodeNotifyConfig, err, "create aggregator for "+t.symbol)
		}
		t.frames[timeframe] = &timeframeState{
			timeframe:  timeframe,
			span:       span,
			thresholds: th,
			agg:        agg,
		}
	}
	for timeframe := range t.frames {
		if _, ok := thresholds[timeframe]; !ok {
			delete(t.frames, timeframe)
		}
	}
	return nil
}

// Observe 送入一笔报价并返回本次触发的评分（可能为空）。
// 乱序的报价被静默跳过。
func (t *SymbolTracker) Observe(tick market.Tick) []Scores {
	mid := tick.Mid()
	var emitted []Scores

	for _, timeframe := range t.Timeframes() {
		state := t.frames[timeframe]
		if err := state.agg.Add(tick.Time, mid); err != nil {
			// 乱序报价直接跳过，不影响其它周期。
			continue
		}
		if scores, ok := t.score(state, tick.Time); ok {
			emitted = append(emitted, scores)
		}
	}
	return emitted
}

// score 对单个周期评分，并应用冷却与级别升级规则。
func (t *SymbolTracker) score(state *timeframeState, now time.Time) (Scores, bool) {
	min, max, err := state.agg.QueryMinMax(1)
	if err != nil {
		return Scores{}, false
	}
	count, err := state.agg.QueryCount(1)
	if err != nil {
		return Scores{}, false
	}

	rangePips := (max - min) / t.pip
	volatility := scoreLevel(rangePips, state.thresholds.VolatilityPips)
	if volatility < 1 {
		return Scores{}, false
	}
	activity := scoreLevel(float64(count), state.thresholds.ActivityTicks)

	// 冷却期内只有更高级别才再次触发。
	cooldown := time.Duration(t.cooldown) * state.span
	if state.hasEmit && now.Sub(state.lastEmit) < cooldown && volatility <= state.lastLevel {
		return Scores{}, false
	}

	direction, pipChange := t.direction(state, min, max)
	state.lastLevel = volatility
	state.lastEmit = now
	state.hasEmit = true

	return Scores{
		Symbol:     t.symbol,
		Timeframe:  state.timeframe,
		Span:       state.span,
		Volatility: volatility,
		Activity:   activity,
		Direction:  direction,
		PipChange:  pipChange,
		TickCount:  count,
		At:         now,
	}, true
}

// direction 依据最新价在区间中的位置判断方向：靠近最高价为 UP。
// PipChange 是相对另一端极值的点数变化，向下为负。
func (t *SymbolTracker) direction(state *timeframeState, min, max float64) (Direction, float64) {
	last, err := state.agg.Last()
	if err != nil {
		return DirectionUp, (max - min) / t.pip
	}
	if last.Value-min >= max-last.Value {
		return DirectionUp, (last.Value - min) / t.pip
	}
	return DirectionDown, (last.Value - max) / t.pip
}

// Timeframes 返回排序后的周期列表。
func (t *SymbolTracker) Timeframes() []string {
	frames := make([]string, 0, len(t.frames))
	for timeframe := range t.frames {
		frames = append(frames, timeframe)
	}
	sort.Strings(frames)
	return frames
}

// Range 查询某周期最近 buckets 个桶跨度内的极值与数据量。
func (t *SymbolTracker) Range(timeframe string, buckets int) (min, max float64, count int, err error) {
	state, ok := t.frames[timeframe]
	if !ok {
		return 0, 0, 0, xerrors.New(xerrors.CodeNotFound, "timeframe not tracked: "+timeframe)
	}
	min, max, err = state.agg.QueryMinMax(buckets)
	if err != nil {
		return 0, 0, 0, err
	}
	count, err = state.agg.QueryCount(buckets)
	if err != nil {
		return 0, 0, 0, err
	}
	return min, max, count, nil
}
