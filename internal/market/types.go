package market

import (
	"fmt"
	"time"

	xerrors "TickFlow-Notifier/internal/errors"
)

// Tick 表示一笔报价。
type Tick struct {
	Time time.Time `json:"time"`
	Bid  float64   `json:"bid"`
	Ask  float64   `json:"ask"`
}

// Mid 返回买卖中间价。
func (t Tick) Mid() float64 {
	return (t.Bid + t.Ask) / 2
}

// Validate 校验报价数据的不变量：bid 为正，ask 大于 bid。
func (t Tick) Validate() error {
	if t.Bid <= 0 {
		return xerrors.New(CodeMarketValidation, "bid must be positive")
	}
	if t.Ask <= t.Bid {
		return xerrors.New(CodeMarketValidation, "ask must be greater than bid")
	}
	return nil
}

// Bar 表示一根 OHLC K 线。
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Validate 校验 K 线不变量：价格为正，high/low 为极值，成交量非负。
func (b Bar) Validate() error {
	if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
		return xerrors.New(CodeMarketValidation, "prices must be positive")
	}
	if b.High < b.Low || b.High < b.Open || b.High < b.Close {
		return xerrors.New(CodeMarketValidation, "high must be the highest price")
	}
	if b.Low > b.Open || b.Low > b.Close {
		return xerrors.New(CodeMarketValidation, "low must be the lowest price")
	}
	if b.Volume < 0 {
		return xerrors.New(CodeMarketValidation, "volume must be non-negative")
	}
	return nil
}

// IsFlat 判断是否为四价相同的死线。MT4 服务器偶发推送这种无效数据。
func (b Bar) IsFlat() bool {
	return b.Open == b.High && b.Open == b.Low && b.Open == b.Close
}

// Message 是经过校验的行情消息。Timeframe 为空表示 tick 数据。
type Message struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe,omitempty"`
	Tick      *Tick  `json:"tick,omitempty"`
	Bar       *Bar   `json:"bar,omitempty"`
}

// FlatBarError 表示某品种某周期连续死线超过容忍阈值。
type FlatBarError struct {
	Symbol    string
	Timeframe string
	Count     int
	Bar       Bar
}

// Error 实现 error 接口。
func (e *FlatBarError) Error() string {
	return fmt.Sprintf("%d consecutive flat bars for %s (%s)", e.Count, e.Symbol, e.Timeframe)
}
