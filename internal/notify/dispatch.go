package notify

import (
	"context"
	"errors"
	"fmt"

	"TickFlow-Notifier/internal/observability/metrics"
	"TickFlow-Notifier/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelTelegram Channel = "telegram"
	ChannelLog      Channel = "log"
)

// Backend 负责将告警发送到指定渠道。
type Backend interface {
	Channel() Channel
	Send(ctx context.Context, alert Alert) error
}

// FanoutDispatcher 将告警广播到多个通知渠道。
type FanoutDispatcher struct {
	backends map[Channel]Backend
}

// NewFanout 创建 FanoutDispatcher，nil 渠道被忽略。
func NewFanout(backends ...Backend) *FanoutDispatcher {
	set := make(map[Channel]Backend, len(backends))
	for _, b := range backends {
		if b == nil {
			continue
		}
		set[b.Channel()] = b
	}
	return &FanoutDispatcher{backends: set}
}

// Dispatch 将告警广播至所有注册渠道，聚合所有失败。
func (d *FanoutDispatcher) Dispatch(ctx context.Context, alert Alert) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, backend := range d.backends {
		err := backend.Send(ctx, alert)
		metrics.ObserveNotification(string(backend.Channel()), err == nil)
		if err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", backend.Channel(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Backends 返回已注册的渠道数量。
func (d *FanoutDispatcher) Backends() int {
	if d == nil {
		return 0
	}
	return len(d.backends)
}

// LogBackend 把告警写入审计日志，作为兜底渠道始终可用。
type LogBackend struct{}

// Channel 返回日志渠道。
func (LogBackend) Channel() Channel { return ChannelLog }

// Send 记录告警内容。
func (LogBackend) Send(ctx context.Context, alert Alert) error {
	logger.Journal().Info("volatility alert",
		"alert_id", alert.ID,
		"created_at", alert.CreatedAt,
		"message", alert.Message,
	)
	return nil
}
