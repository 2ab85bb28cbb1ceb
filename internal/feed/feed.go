package feed

import (
	"context"
	"strconv"
	"strings"

	xerrors "TickFlow-Notifier/internal/errors"
)

// TimeLayout 是行情时间戳的线格式（UTC）。
const TimeLayout = "2006-01-02 15:04:05.999999"

// Point 是某频道上的一个原始数据点。
// tick 频道 Values 为 (bid, ask)，K 线频道为 (open, high, low, close, volume, ...)。
type Point struct {
	Time   string    `json:"time"`
	Values []float64 `json:"values"`
}

// Batch 将频道名映射为数据点序列，與 MT4 connector 的推送缓冲一致。
type Batch map[string][]Point

// Handler 处理一批原始行情数据。
type Handler func(ctx context.Context, batch Batch) error

// Feed 抽象行情接入通道。
type Feed interface {
	// Subscribe 在服务器上开通品种的行情频道。
	Subscribe(symbol string) error
	// Unsubscribe 退订品种。MT4 服务器不支持按子频道退订，只能整体退订。
	Unsubscribe(symbol string) error
	// TrackTicks 请求推送 tick 数据，须先 Subscribe。
	TrackTicks(symbol string) error
	// TrackBars 请求推送指定周期的 K 线，须先 Subscribe。
	TrackBars(symbol string, timeframes []string) error
	// Consume 阻塞消费行情数据直到上下文取消或出错。
	Consume(ctx context.Context, handler Handler) error
	// Close 释放连接资源。
	Close() error
}

// parseFrame 解析一条 SUB 帧："CHANNEL time;v1;v2;..."。
func parseFrame(frame string) (string, Point, error) {
	idx := strings.IndexByte(frame, ' ')
	if idx <= 0 || idx == len(frame)-1 {
		return "", Point{}, xerrors.New(xerrors.CodeFeedFailure, "malformed market data frame")
	}
	channel := frame[:idx]
	parts := strings.Split(frame[idx+1:], ";")
	if len(parts) < 2 {
		return "", Point{}, xerrors.New(xerrors.CodeFeedFailure, "frame payload too short")
	}
	point := Point{Time: parts[0], Values: make([]float64, 0, len(parts)-1)}
	for _, raw := range parts[1:] {
		value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return "", Point{}, xerrors.Wrap(xerrors.CodeFeedFailure, err, "parse frame value")
		}
		point.Values = append(point.Values, value)
	}
	return channel, point, nil
}
