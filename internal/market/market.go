package market

import (
	"strings"
	"time"

	xerrors "TickFlow-Notifier/internal/errors"
)

// 支持的 MT4 交易品种。来自 Vantage MT4 服务器的行情频道。
var supportedSymbols = map[string]struct{}{
	"AUDUSD": {}, "EURUSD": {}, "GBPUSD": {}, "NZDUSD": {}, "USDCAD": {},
	"USDCHF": {}, "USDJPY": {}, "EURAUD": {}, "EURCAD": {}, "EURCHF": {},
	"EURGBP": {}, "EURJPY": {}, "EURNZD": {}, "GBPAUD": {}, "GBPCAD": {},
	"GBPCHF": {}, "GBPJPY": {}, "GBPNZD": {}, "AUDCAD": {}, "AUDCHF": {},
	"AUDJPY": {}, "AUDNZD": {}, "NZDCAD": {}, "NZDCHF": {}, "NZDJPY": {},
	"CADCHF": {}, "CADJPY": {}, "CHFJPY": {}, "BTCUSD": {}, "XAUUSD": {},
	"USOUSD": {},
}

// timeframeMinutes 将周期代码映射为分钟数。
var timeframeMinutes = map[string]int{
	"M1":  1,
	"M5":  5,
	"M15": 15,
	"M30": 30,
	"H1":  60,
	"H4":  240,
	"D1":  1440,
	"W1":  10080,
	"MN":  43200,
}

const (
	CodeMarketValidation xerrors.Code = "MARKET_VALIDATION_FAILED"
	CodeFlatBars         xerrors.Code = "MARKET_FLAT_BARS"
)

func init() {
	xerrors.Register(CodeMarketValidation, xerrors.Attributes{
		Message:   "market data validation failed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeFlatBars, xerrors.Attributes{
		Message:   "consecutive flat ohlc bars",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     true,
	})
}

// SupportedSymbols 返回所有支持的品种列表。
func SupportedSymbols() []string {
	symbols := make([]string, 0, len(supportedSymbols))
	for symbol := range supportedSymbols {
		symbols = append(symbols, symbol)
	}
	return symbols
}

// ValidateSymbol 校验品种是否在支持列表内。
func ValidateSymbol(symbol string) error {
	if _, ok := supportedSymbols[symbol]; !ok {
		return xerrors.New(CodeMarketValidation, "unsupported symbol: "+symbol)
	}
	return nil
}

// ValidateTimeframe 校验周期代码是否受支持。
func ValidateTimeframe(timeframe string) error {
	if _, ok := timeframeMinutes[timeframe]; !ok {
		return xerrors.New(CodeMarketValidation, "invalid timeframe: "+timeframe)
	}
	return nil
}

// TimeframeMinutes 返回周期对应的分钟数。
func TimeframeMinutes(timeframe string) (int, error) {
	minutes, ok := timeframeMinutes[timeframe]
	if !ok {
		return 0, xerrors.New(CodeMarketValidation, "unsupported timeframe: "+timeframe)
	}
	return minutes, nil
}

// TimeframeDuration 返回周期对应的时间跨度。
func TimeframeDuration(timeframe string) (time.Duration, error) {
	minutes, err := TimeframeMinutes(timeframe)
	if err != nil {
		return 0, err
	}
	return time.Duration(minutes) * time.Minute, nil
}

// ParseChannel 解析行情频道名。
// 纯品种名（如 EURUSD）是 tick 频道，带后缀（如 EURUSD_M1）是 K 线频道。
func ParseChannel(channel string) (symbol, timeframe string) {
	parts := strings.SplitN(channel, "_", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

// PipSize 返回品种的点值。报价变化除以点值得到 pip 数。
func PipSize(symbol string) float64 {
	switch {
	case strings.HasSuffix(symbol, "JPY"):
		return 0.01
	case symbol == "XAUUSD":
		return 0.1
	case symbol == "BTCUSD", symbol == "USOUSD":
		return 1.0
	default:
		return 0.0001
	}
}
