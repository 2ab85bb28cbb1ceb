package market

import (
	"context"
	"log/slog"
	"sync"
	"time"

	xerrors "TickFlow-Notifier/internal/errors"
	"TickFlow-Notifier/internal/feed"
	"TickFlow-Notifier/internal/observability/metrics"
	"TickFlow-Notifier/pkg/logger"
)

// DefaultFlatBarThreshold 是连续死线的容忍上限，超过后退订该品种。
const DefaultFlatBarThreshold = 30

// DefaultBrokerUTCOffset 是 MT4 经纪商服务器相对 UTC 的小时偏移。
const DefaultBrokerUTCOffset = 3

// Recorder 接收已校验的行情数据并负责持久化。
type Recorder interface {
	LogTick(symbol string, tick Tick) error
	LogBar(symbol, timeframe string, bar Bar) error
}

// Sink 接收已校验的行情数据并负责波动检测。
type Sink interface {
	HandleTick(ctx context.Context, symbol string, tick Tick) error
	HandleBar(ctx context.Context, symbol, timeframe string, bar Bar) error
}

// Unsubscriber 允许处理器在品种数据异常时将其退订。
type Unsubscriber interface {
	Unsubscribe(symbol string) error
}

type flatKey struct {
	symbol    string
	timeframe string
}

// Handler 将原始行情批次转换为校验后的 Tick/Bar，并路由给存储与通知。
// 同一品种同一周期连续收到 flatThreshold 根死线后整体退订该品种。
type Handler struct {
	recorder      Recorder
	sink          Sink
	unsubscriber  Unsubscriber
	brokerOffset  time.Duration
	flatThreshold int
	log           *slog.Logger

	mu         sync.Mutex
	flatCounts map[flatKey]int
}

// HandlerOption 配置 Handler。
type HandlerOption func(*Handler)

// WithRecorder 设置持久化出口。
func WithRecorder(recorder Recorder) HandlerOption {
	return func(h *Handler) { h.recorder = recorder }
}

// WithSink 设置波动检测出口。
func WithSink(sink Sink) HandlerOption {
	return func(h *Handler) { h.sink = sink }
}

// WithUnsubscriber 设置退订出口。
func WithUnsubscriber(unsubscriber Unsubscriber) HandlerOption {
	return func(h *Handler) { h.unsubscriber = unsubscriber }
}

// WithBrokerUTCOffset 设置经纪商时区偏移（小时）。
func WithBrokerUTCOffset(hours int) HandlerOption {
	return func(h *Handler) { h.brokerOffset = time.Duration(hours) * time.Hour }
}

// WithFlatBarThreshold 设置连续死线容忍上限。
func WithFlatBarThreshold(threshold int) HandlerOption {
	return func(h *Handler) {
		if threshold > 0 {
			h.flatThreshold = threshold
		}
	}
}

// NewHandler 创建行情处理器。
func NewHandler(opts ...HandlerOption) *Handler {
	h := &Handler{
		brokerOffset:  DefaultBrokerUTCOffset * time.Hour,
		flatThreshold: DefaultFlatBarThreshold,
		flatCounts:    make(map[flatKey]int),
		log:           logger.Named("market"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Process 处理一批原始行情数据。单个数据点失败不会中断整批，
// 校验失败的点被丢弃并计数。
func (h *Handler) Process(ctx context.Context, batch feed.Batch) error {
	start := time.Now()
	defer func() { metrics.ObserveBatch(time.Since(start)) }()

	var firstErr error
	for channel, points := range batch {
		symbol, timeframe := ParseChannel(channel)
		if err := ValidateSymbol(symbol); err != nil {
			h.log.Warn("收到未知频道的数据", "channel", channel)
			metrics.ObserveInvalid(symbol)
			continue
		}
		if timeframe != "" {
			if err := ValidateTimeframe(timeframe); err != nil {
				h.log.Warn("收到未知周期的数据", "channel", channel)
				metrics.ObserveInvalid(symbol)
				continue
			}
		}
		for _, point := range points {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := h.processPoint(ctx, symbol, timeframe, point); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (h *Handler) processPoint(ctx context.Context, symbol, timeframe string, point feed.Point) error {
	at, err := h.parseTime(point.Time)
	if err != nil {
		h.log.Warn("行情时间戳解析失败", "symbol", symbol, "time", point.Time, "error", err)
		metrics.ObserveInvalid(symbol)
		return nil
	}

	if timeframe == "" {
		return h.processTick(ctx, symbol, at, point)
	}
	return h.processBar(ctx, symbol, timeframe, at, point)
}

// parseTime 解析经纪商时间并换算为 UTC。
func (h *Handler) parseTime(raw string) (time.Time, error) {
	at, err := time.Parse(feed.TimeLayout, raw)
	if err != nil {
		return time.Time{}, xerrors.Wrap(CodeMarketValidation, err, "parse broker timestamp")
	}
	return at.Add(-h.brokerOffset), nil
}

func (h *Handler) processTick(ctx context.Context, symbol string, at time.Time, point feed.Point) error {
	if len(point.Values) < 2 {
		h.log.Warn("tick 数据字段不足", "symbol", symbol)
		metrics.ObserveInvalid(symbol)
		return nil
	}
	tick := Tick{Time: at, Bid: point.Values[0], Ask: point.Values[1]}
	if err := tick.Validate(); err != nil {
		h.log.Warn("tick 校验失败", "symbol", symbol, "error", err)
		metrics.ObserveInvalid(symbol)
		return nil
	}

	metrics.ObserveTick(symbol)

	var firstErr error
	if h.recorder != nil {
		if err := h.recorder.LogTick(symbol, tick); err != nil {
			firstErr = err
		}
	}
	if h.sink != nil {
		if err := h.sink.HandleTick(ctx, symbol, tick); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h *Handler) processBar(ctx context.Context, symbol, timeframe string, at time.Time, point feed.Point) error {
	if len(point.Values) < 5 {
		h.log.Warn("K线数据字段不足", "symbol", symbol, "timeframe", timeframe)
		metrics.ObserveInvalid(symbol)
		return nil
	}
	bar := Bar{
		Time:   at,
		Open:   point.Values[0],
		High:   point.Values[1],
		Low:    point.Values[2],
		Close:  point.Values[3],
		Volume: int64(point.Values[4]),
	}
	if err := bar.Validate(); err != nil {
		h.log.Warn("K线校验失败", "symbol", symbol, "timeframe", timeframe, "error", err)
		metrics.ObserveInvalid(symbol)
		return nil
	}

	if err := h.trackFlat(symbol, timeframe, bar); err != nil {
		return err
	}

	metrics.ObserveBar(symbol, timeframe)

	var firstErr error
	if h.recorder != nil {
		if err := h.recorder.LogBar(symbol, timeframe, bar); err != nil {
			firstErr = err
		}
	}
	if h.sink != nil {
		if err := h.sink.HandleBar(ctx, symbol, timeframe, bar); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// trackFlat 统计连续死线。到达阈值时退订品种并返回告警错误。
func (h *Handler) trackFlat(symbol, timeframe string, bar Bar) error {
	key := flatKey{symbol: symbol, timeframe: timeframe}

	h.mu.Lock()
	if !bar.IsFlat() {
		delete(h.flatCounts, key)
		h.mu.Unlock()
		return nil
	}
	h.flatCounts[key]++
	count := h.flatCounts[key]
	// 严格大于阈值才触发：第 threshold+1 根死线退订。
	if count > h.flatThreshold {
		delete(h.flatCounts, key)
	}
	h.mu.Unlock()

	if count <= h.flatThreshold {
		return nil
	}

	h.log.Warn("连续死线超过阈值，退订品种",
		"symbol", symbol, "timeframe", timeframe, "count", count)
	metrics.ObserveUnsubscribe(symbol)
	if h.unsubscriber != nil {
		if err := h.unsubscriber.Unsubscribe(symbol); err != nil {
			h.log.Error("退订品种失败", "symbol", symbol, "error", err)
		}
	}
	return xerrors.Wrap(CodeFlatBars,
		&FlatBarError{Symbol: symbol, Timeframe: timeframe, Count: count, Bar: bar},
		"flat bar streak for "+symbol)
}
