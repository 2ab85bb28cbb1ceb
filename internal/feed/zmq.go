package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-zeromq/zmq4"

	xerrors "TickFlow-Notifier/internal/errors"
	"TickFlow-Notifier/pkg/logger"
)

// ZMQConfig 描述 MT4 ZeroMQ connector 的连接参数。
type ZMQConfig struct {
	Host     string
	PushPort int
	PullPort int
	SubPort  int
	ClientID string
}

// ZMQFeed 通过 DWX 风格的三通道 ZeroMQ 协议接入 MT4 行情：
// PUSH 发送控制指令，PULL 接收指令响应，SUB 订阅行情推送。
type ZMQFeed struct {
	push zmq4.Socket
	pull zmq4.Socket
	sub  zmq4.Socket

	mu     sync.Mutex
	topics map[string]struct{}
}

// NewZMQFeed 建立与 MT4 connector 的三个 socket 连接。
func NewZMQFeed(ctx context.Context, cfg ZMQConfig) (*ZMQFeed, error) {
	if cfg.Host == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "ZMQ host 不能为空")
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "tickflow"
	}

	push := zmq4.NewPush(ctx, zmq4.WithID(zmq4.SocketIdentity(clientID)))
	if err := push.Dial(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.PushPort)); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeFeedFailure, err, "连接 PUSH socket 失败")
	}
	pull := zmq4.NewPull(ctx, zmq4.WithID(zmq4.SocketIdentity(clientID)))
	if err := pull.Dial(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.PullPort)); err != nil {
		push.Close()
		return nil, xerrors.Wrap(xerrors.CodeFeedFailure, err, "连接 PULL socket 失败")
	}
	sub := zmq4.NewSub(ctx, zmq4.WithID(zmq4.SocketIdentity(clientID)))
	if err := sub.Dial(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.SubPort)); err != nil {
		push.Close()
		pull.Close()
		return nil, xerrors.Wrap(xerrors.CodeFeedFailure, err, "连接 SUB socket 失败")
	}

	return &ZMQFeed{push: push, pull: pull, sub: sub, topics: make(map[string]struct{})}, nil
}

// Subscribe 订阅品种的行情主题。
func (f *ZMQFeed) Subscribe(symbol string) error {
	if f == nil || f.sub == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "ZMQ feed 未初始化")
	}
	if err := f.sub.SetOption(zmq4.OptionSubscribe, symbol); err != nil {
		return xerrors.Wrap(xerrors.CodeFeedFailure, err, "订阅行情主题失败")
	}
	f.mu.Lock()
	f.topics[symbol] = struct{}{}
	f.mu.Unlock()
	logger.L().Info("subscribed to market data", slog.String("symbol", symbol))
	return nil
}

// Unsubscribe 退订品种并通知服务器停止推送。
func (f *ZMQFeed) Unsubscribe(symbol string) error {
	if f == nil || f.sub == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "ZMQ feed 未初始化")
	}
	if err := f.sub.SetOption(zmq4.OptionUnsubscribe, symbol); err != nil {
		return xerrors.Wrap(xerrors.CodeFeedFailure, err, "退订行情主题失败")
	}
	f.mu.Lock()
	delete(f.topics, symbol)
	f.mu.Unlock()
	if err := f.sendCommand("UNSUBSCRIBE_MARKETDATA;" + symbol); err != nil {
		return err
	}
	logger.L().Info("unsubscribed from market data", slog.String("symbol", symbol))
	return nil
}

// TrackTicks 请求推送品种的 tick 数据。
func (f *ZMQFeed) TrackTicks(symbol string) error {
	return f.sendCommand("TRACK_PRICES;" + symbol)
}

// TrackBars 请求推送品种指定周期的 K 线。
// 指令格式：TRACK_RATES;channel;symbol;minutes;...
func (f *ZMQFeed) TrackBars(symbol string, timeframes []string) error {
	if len(timeframes) == 0 {
		return nil
	}
	parts := []string{"TRACK_RATES"}
	for _, tf := range timeframes {
		minutes, ok := timeframeMinutesFor(tf)
		if !ok {
			return xerrors.New(xerrors.CodeInvalidArgument, "unsupported timeframe: "+tf)
		}
		parts = append(parts, fmt.Sprintf("%s_%s;%s;%d", symbol, tf, symbol, minutes))
	}
	return f.sendCommand(strings.Join(parts, ";"))
}

func (f *ZMQFeed) sendCommand(command string) error {
	if f == nil || f.push == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "ZMQ feed 未初始化")
	}
	if err := f.push.Send(zmq4.NewMsgString(command)); err != nil {
		return xerrors.Wrap(xerrors.CodeFeedFailure, err, "发送控制指令失败")
	}
	return nil
}

// Consume 循环接收 SUB 帧并交给 handler。行情顺序必须保持，故单协程消费。
func (f *ZMQFeed) Consume(ctx context.Context, handler Handler) error {
	if f == nil || f.sub == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "ZMQ feed 未初始化")
	}

	// PULL 通道只承载指令响应，丢弃即可，但必须排空以免阻塞服务器。
	go f.drainResponses(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		msg, err := f.sub.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return xerrors.Wrap(xerrors.CodeFeedFailure, err, "接收行情帧失败")
		}
		for _, frame := range msg.Frames {
			channel, point, err := parseFrame(string(frame))
			if err != nil {
				logger.L().Warn("dropping malformed frame",
					slog.Any("error", err),
					slog.String("frame", string(frame)))
				continue
			}
			if err := handler(ctx, Batch{channel: []Point{point}}); err != nil {
				logger.L().Error("market data handler failed",
					slog.Any("error", err),
					slog.String("channel", channel))
			}
		}
	}
}

func (f *ZMQFeed) drainResponses(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := f.pull.Recv()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, context.Canceled) {
				logger.L().Debug("PULL socket closed", slog.Any("error", err))
			}
			return
		}
		logger.L().Debug("connector response", slog.String("payload", string(msg.Bytes())))
	}
}

// Close 关闭全部 socket。
func (f *ZMQFeed) Close() error {
	if f == nil {
		return nil
	}
	var err error
	if f.push != nil {
		err = errors.Join(err, f.push.Close())
	}
	if f.pull != nil {
		err = errors.Join(err, f.pull.Close())
	}
	if f.sub != nil {
		err = errors.Join(err, f.sub.Close())
	}
	return err
}

// timeframeMinutesFor 与 market 包的周期表保持一致。feed 不依赖 market，
// 避免 import 环，这里维护同一份映射。
func timeframeMinutesFor(timeframe string) (int, bool) {
	minutes, ok := map[string]int{
		"M1": 1, "M5": 5, "M15": 15, "M30": 30,
		"H1": 60, "H4": 240, "D1": 1440, "W1": 10080, "MN": 43200,
	}[timeframe]
	return minutes, ok
}
