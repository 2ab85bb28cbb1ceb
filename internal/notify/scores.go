package notify

import (
	"fmt"
	"math"
	"strings"
	"time"

	xerrors "TickFlow-Notifier/internal/errors"
)

// 通知子系统的错误码。
const (
	CodeNotifyConfig xerrors.Code = "NOTIFY_CONFIG_INVALID"
)

func init() {
	xerrors.Register(CodeNotifyConfig, xerrors.Attributes{
		Message:   "volatility notifier configuration invalid",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
}

// Direction 表示价格运动方向。
type Direction string

const (
	DirectionUp   Direction = "UP"
	DirectionDown Direction = "DOWN"
)

// Thresholds 是某品种某周期的告警阈值。
type Thresholds struct {
	// VolatilityPips 是触发一级波动告警的点数区间，须大于 1。
	VolatilityPips float64 `json:"volatility_pips"`
	// ActivityTicks 是触发一级活跃度告警的 tick 数，须大于 1。
	ActivityTicks float64 `json:"activity_ticks"`
}

// Validate 校验阈值有效性。对数分级要求阈值大于 1。
func (t Thresholds) Validate() error {
	if t.VolatilityPips <= 1 {
		return xerrors.New(CodeNotifyConfig, "volatility_pips must be greater than 1")
	}
	if t.ActivityTicks <= 1 {
		return xerrors.New(CodeNotifyConfig, "activity_ticks must be greater than 1")
	}
	return nil
}

// Scores 是一次波动评分结果。Volatility 与 Activity 为对数级别：
// 级别 n 表示观测值达到阈值的 n 次幂。
type Scores struct {
	Symbol     string        `json:"symbol"`
	Timeframe  string        `json:"timeframe"`
	Span       time.Duration `json:"-"`
	Volatility int           `json:"volatility"`
	Activity   int           `json:"activity"`
	Direction  Direction     `json:"direction"`
	PipChange  float64       `json:"pip_change"`
	TickCount  int           `json:"tick_count"`
	At         time.Time     `json:"at"`
}

// Magnitude 是批量刷出时的排序权重。
func (s Scores) Magnitude() int {
	return s.Volatility * (s.Activity + 1)
}

// Headline 生成告警标题，感叹号数量对应波动级别。
func (s Scores) Headline() string {
	return fmt.Sprintf("%s %s %s", s.Symbol, s.Direction, strings.Repeat("!", s.Volatility))
}

// Detail 生成告警明细行。
func (s Scores) Detail() string {
	return fmt.Sprintf("%s %s %s %.1f pips (%d ticks) [V%d/A%d]",
		s.Symbol, s.Timeframe, s.Direction, math.Abs(s.PipChange), s.TickCount, s.Volatility, s.Activity)
}

// scoreLevel 按对数尺度计算级别：观测值达到 threshold^n 时级别为 n。
// 加上 1e-9 的容差，避免 log(threshold^n)/log(threshold) 因舍入落在 n 之下。
func scoreLevel(measure, threshold float64) int {
	if threshold <= 1 || measure < threshold {
		return 0
	}
	return int(math.Floor(math.Log(measure)/math.Log(threshold) + 1e-9))
}
