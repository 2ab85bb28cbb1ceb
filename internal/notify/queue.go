package notify

import (
	"context"
	"sync"
	"time"

	xerrors "TickFlow-Notifier/internal/errors"

	"github.com/google/uuid"
)

// Alert 是一条待投递的告警消息。
type Alert struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// NewAlert 创建带唯一 ID 的告警。
func NewAlert(message string) Alert {
	return Alert{
		ID:        uuid.NewString(),
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
}

// AlertHandler 处理从队列中取出的告警。
type AlertHandler func(ctx context.Context, alert Alert) error

// Queue 是告警消息队列，解耦评分批次与实际投递。
type Queue interface {
	// Publish 将告警投递到队列。
	Publish(ctx context.Context, alert Alert) error
	// Consume 阻塞消费队列直到上下文取消。
	Consume(ctx context.Context, handler AlertHandler) error
	// Close 释放队列资源。
	Close() error
}

// MemoryQueue 使用 channel 模拟告警队列，主要用于测试与单机部署。
type MemoryQueue struct {
	ch     chan Alert
	mu     sync.Mutex
	closed bool
}

// NewMemoryQueue 创建内存告警队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan Alert, size)}
}

// Publish 将告警投递到队列。
func (q *MemoryQueue) Publish(ctx context.Context, alert Alert) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return xerrors.New(xerrors.CodeQueueFailure, "alert queue closed")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- alert:
		return nil
	}
}

// Consume 消费队列中的告警直到上下文取消。
func (q *MemoryQueue) Consume(ctx context.Context, handler AlertHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case alert, ok := <-q.ch:
			if !ok {
				return nil
			}
			_ = handler(ctx, alert)
		}
	}
}

// Close 关闭内存队列。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if !q.closed {
		close(q.ch)
		q.closed = true
	}
	q.mu.Unlock()
	return nil
}

var _ Queue = (*MemoryQueue)(nil)
