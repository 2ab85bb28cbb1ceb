package notify

import (
	"container/heap"
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"TickFlow-Notifier/pkg/logger"
)

// DefaultFlushInterval 是批量刷出的最短间隔。
const DefaultFlushInterval = 15 * time.Second

// scoreHeap 按 Magnitude 降序排序，权重相同时周期更长的优先。
type scoreHeap []Scores

func (h scoreHeap) Len() int { return len(h) }

func (h scoreHeap) Less(i, j int) bool {
	if h[i].Magnitude() != h[j].Magnitude() {
		return h[i].Magnitude() > h[j].Magnitude()
	}
	return h[i].Span > h[j].Span
}

func (h scoreHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scoreHeap) Push(x any) { *h = append(*h, x.(Scores)) }

func (h *scoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Manager 汇集各周期的评分并按优先级批量投递。
// 同一批次内评分按 Magnitude 降序排列，批次之间至少间隔 flushInterval。
type Manager struct {
	mu        sync.Mutex
	pending   scoreHeap
	lastFlush time.Time

	interval   time.Duration
	queue      Queue
	dispatcher *FanoutDispatcher
	log        *slog.Logger
	journal    *slog.Logger
}

// ManagerOption 配置 Manager。
type ManagerOption func(*Manager)

// WithFlushInterval 设置批量刷出间隔。
func WithFlushInterval(interval time.Duration) ManagerOption {
	return func(m *Manager) {
		if interval > 0 {
			m.interval = interval
		}
	}
}

// NewManager 创建通知管理器。
func NewManager(queue Queue, dispatcher *FanoutDispatcher, opts ...ManagerOption) *Manager {
	m := &Manager{
		interval:   DefaultFlushInterval,
		queue:      queue,
		dispatcher: dispatcher,
		log:        logger.Named("notify"),
		journal:    logger.Journal(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Enqueue 接收评分。距上次刷出超过间隔时立即刷出，否则留待定时器。
func (m *Manager) Enqueue(ctx context.Context, scores ...Scores) error {
	if len(scores) == 0 {
		return nil
	}
	m.mu.Lock()
	for _, s := range scores {
		heap.Push(&m.pending, s)
	}
	due := time.Since(m.lastFlush) >= m.interval
	m.mu.Unlock()

	if due {
		return m.Flush(ctx)
	}
	return nil
}

// Flush 将积压的评分格式化为一条告警投递到队列。
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.Lock()
	if m.pending.Len() == 0 {
		m.mu.Unlock()
		return nil
	}
	batch := make([]Scores, 0, m.pending.Len())
	for m.pending.Len() > 0 {
		batch = append(batch, heap.Pop(&m.pending).(Scores))
	}
	m.lastFlush = time.Now()
	m.mu.Unlock()

	alert := NewAlert(formatBatch(batch))
	if err := m.queue.Publish(ctx, alert); err != nil {
		m.log.Error("投递告警到队列失败", "alert_id", alert.ID, "error", err)
		return err
	}
	m.log.Info("告警批次已入队", "alert_id", alert.ID, "scores", len(batch))
	return nil
}

// Run 启动定时刷出与队列分发，阻塞直到上下文取消。
func (m *Manager) Run(ctx context.Context) error {
	go m.flushLoop(ctx)
	return m.queue.Consume(ctx, m.deliver)
}

func (m *Manager) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Flush(ctx); err != nil {
				m.log.Error("定时刷出告警失败", "error", err)
			}
		}
	}
}

// deliver 把队列中的告警广播给所有渠道并记录审计日志。
func (m *Manager) deliver(ctx context.Context, alert Alert) error {
	if err := m.dispatcher.Dispatch(ctx, alert); err != nil {
		m.log.Error("告警投递失败", "alert_id", alert.ID, "error", err)
		return err
	}
	m.journal.Info("alert delivered",
		"alert_id", alert.ID,
		"created_at", alert.CreatedAt,
		"channels", m.dispatcher.Backends(),
	)
	return nil
}

// formatBatch 生成批次消息：最高优先级的评分作为标题，其余逐行列出。
func formatBatch(batch []Scores) string {
	var sb strings.Builder
	sb.WriteString(batch[0].Headline())
	for _, s := range batch {
		sb.WriteByte('\n')
		sb.WriteString(s.Detail())
	}
	return sb.String()
}
