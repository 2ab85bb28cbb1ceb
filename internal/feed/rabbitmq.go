package feed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "TickFlow-Notifier/internal/errors"
	"TickFlow-Notifier/pkg/logger"
)

// RabbitMQConfig 描述 RabbitMQ 行情源的连接参数。
// 用于桥接模式：MT4 侧的网关把行情批次以 JSON 形式投递到队列。
type RabbitMQConfig struct {
	URL        string
	Queue      string
	Prefetch   int
	Durable    bool
	AutoDelete bool
}

// RabbitMQFeed 从 RabbitMQ 队列消费行情批次。
// 订阅管理发生在网关一侧，本驱动的 Subscribe/Track 仅做记录。
type RabbitMQFeed struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NewRabbitMQFeed 创建 RabbitMQ 行情源实例。
func NewRabbitMQFeed(cfg RabbitMQConfig) (*RabbitMQFeed, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "tickflow.marketdata"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeFeedFailure, err, "连接 RabbitMQ 失败")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeFeedFailure, err, "创建 RabbitMQ channel 失败")
	}
	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			ch.Close()
			conn.Close()
			return nil, xerrors.Wrap(xerrors.CodeFeedFailure, err, "设置 RabbitMQ QOS 失败")
		}
	}
	if _, err := ch.QueueDeclare(queue, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeFeedFailure, err, "声明 RabbitMQ 队列失败")
	}
	return &RabbitMQFeed{conn: conn, ch: ch, queue: queue}, nil
}

// Subscribe 在桥接模式下由网关处理，这里仅记录意图。
func (f *RabbitMQFeed) Subscribe(symbol string) error {
	logger.L().Info("subscribe handled by gateway", slog.String("symbol", symbol))
	return nil
}

// Unsubscribe 在桥接模式下由网关处理。
func (f *RabbitMQFeed) Unsubscribe(symbol string) error {
	logger.L().Info("unsubscribe handled by gateway", slog.String("symbol", symbol))
	return nil
}

// TrackTicks 在桥接模式下为空操作。
func (f *RabbitMQFeed) TrackTicks(string) error { return nil }

// TrackBars 在桥接模式下为空操作。
func (f *RabbitMQFeed) TrackBars(string, []string) error { return nil }

// Consume 使用手动确认模式消费行情批次。
func (f *RabbitMQFeed) Consume(ctx context.Context, handler Handler) error {
	if f == nil || f.ch == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "RabbitMQ feed 未初始化")
	}
	msgs, err := f.ch.Consume(f.queue, "", false, false, false, false, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeFeedFailure, err, "订阅 RabbitMQ 队列失败")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return xerrors.New(xerrors.CodeFeedFailure, "RabbitMQ 消费通道已关闭")
			}
			var batch Batch
			if err := json.Unmarshal(msg.Body, &batch); err != nil {
				logger.L().Warn("dropping undecodable batch", slog.Any("error", err))
				_ = msg.Ack(false)
				continue
			}
			if err := handler(ctx, batch); err != nil {
				logger.L().Error("market data handler failed", slog.Any("error", err))
			}
			_ = msg.Ack(false)
		}
	}
}

// Close 关闭 RabbitMQ 连接。
func (f *RabbitMQFeed) Close() error {
	if f == nil {
		return nil
	}
	if f.ch != nil {
		_ = f.ch.Close()
	}
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}
