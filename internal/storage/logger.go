package storage

import (
	"context"
	"log/slog"
	"time"

	"TickFlow-Notifier/internal/observability/metrics"
	"TickFlow-Notifier/pkg/logger"
)

// Logger 在后台驱动存储后端：按周期 Flush，并在跨天时执行归档与清理。
type Logger struct {
	backend  Backend
	interval time.Duration
	log      *slog.Logger

	// maintenanceDay 记录上一次执行维护的日期（YYYY-MM-DD）。
	maintenanceDay string
}

// NewLogger 创建存储调度器。
func NewLogger(backend Backend, interval time.Duration) *Logger {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Logger{
		backend:  backend,
		interval: interval,
		log:      logger.Named("storage"),
	}
}

// Run 阻塞运行直到 ctx 取消，退出前做最后一次 Flush。
func (l *Logger) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.maintenanceDay = time.Now().Format("2006-01-02")

	for {
		select {
		case <-ctx.Done():
			if err := l.backend.Flush(context.Background()); err != nil {
				l.log.Error("退出前刷新存储失败", "error", err)
			}
			return ctx.Err()
		case now := <-ticker.C:
			err := l.backend.Flush(ctx)
			metrics.ObserveFlush(err == nil)
			if err != nil {
				l.log.Error("刷新存储失败", "error", err)
			}
			l.maybeMaintain(ctx, now)
		}
	}
}

// maybeMaintain 在日期变化时执行一次归档与清理。
func (l *Logger) maybeMaintain(ctx context.Context, now time.Time) {
	day := now.Format("2006-01-02")
	if day == l.maintenanceDay {
		return
	}
	l.maintenanceDay = day

	if err := l.backend.Compress(ctx, now); err != nil {
		l.log.Error("归档历史数据失败", "error", err)
	} else {
		l.log.Info("历史数据归档完成", "day", day)
	}
	if err := l.backend.Cleanup(ctx, now); err != nil {
		l.log.Error("清理历史数据失败", "error", err)
	}
}
