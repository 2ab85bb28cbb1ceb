package feed

import (
	"context"
	"errors"
	"sync"
)

// MemoryFeed 使用 channel 模拟行情源，主要用于测试。
type MemoryFeed struct {
	ch     chan Batch
	mu     sync.Mutex
	closed bool

	subscribed   map[string]struct{}
	unsubscribed []string
	ticks        map[string]struct{}
	bars         map[string][]string
}

// NewMemoryFeed 创建一个内存行情源。
func NewMemoryFeed(size int) *MemoryFeed {
	if size <= 0 {
		size = 64
	}
	return &MemoryFeed{
		ch:         make(chan Batch, size),
		subscribed: make(map[string]struct{}),
		ticks:      make(map[string]struct{}),
		bars:       make(map[string][]string),
	}
}

// Publish 将一批行情投入通道，供 Consume 消费。
func (f *MemoryFeed) Publish(ctx context.Context, batch Batch) error {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return errors.New("行情源已关闭")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case f.ch <- batch:
		return nil
	}
}

// Subscribe 记录订阅的品种。
func (f *MemoryFeed) Subscribe(symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed[symbol] = struct{}{}
	return nil
}

// Unsubscribe 记录退订的品种。
func (f *MemoryFeed) Unsubscribe(symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subscribed, symbol)
	f.unsubscribed = append(f.unsubscribed, symbol)
	return nil
}

// Subscribed 报告某品种当前是否处于订阅状态，供测试断言。
func (f *MemoryFeed) Subscribed(symbol string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.subscribed[symbol]
	return ok
}

// Unsubscribed 返回已退订的品种列表，供测试断言。
func (f *MemoryFeed) Unsubscribed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.unsubscribed...)
}

// TrackTicks 记录 tick 跟踪请求。
func (f *MemoryFeed) TrackTicks(symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks[symbol] = struct{}{}
	return nil
}

// TrackBars 记录 K 线跟踪请求。
func (f *MemoryFeed) TrackBars(symbol string, timeframes []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bars[symbol] = append([]string(nil), timeframes...)
	return nil
}

// Consume 消费通道中的行情批次直到上下文取消。
func (f *MemoryFeed) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-f.ch:
			if !ok {
				return nil
			}
			_ = handler(ctx, batch)
		}
	}
}

// Close 关闭内存行情源。
func (f *MemoryFeed) Close() error {
	f.mu.Lock()
	if !f.closed {
		close(f.ch)
		f.closed = true
	}
	f.mu.Unlock()
	return nil
}
