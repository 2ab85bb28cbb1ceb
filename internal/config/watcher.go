package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"TickFlow-Notifier/pkg/logger"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce 合并编辑器连续写入产生的事件风暴。
const reloadDebounce = 500 * time.Millisecond

// WatchReloader 监听品种清单文件，变更后重新解析并回调。
type WatchReloader struct {
	path     string
	onChange func(*WatchFile)
	log      *slog.Logger
}

// NewWatchReloader 创建热更新监听器。
func NewWatchReloader(path string, onChange func(*WatchFile)) *WatchReloader {
	return &WatchReloader{
		path:     path,
		onChange: onChange,
		log:      logger.Named("config"),
	}
}

// Run 阻塞监听直到上下文取消。监听清单所在目录而非文件本身，
// 以兼容编辑器原子替换（rename + create）的保存方式。
func (r *WatchReloader) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		return err
	}

	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(r.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				timerCh = timer.C
			} else {
				timer.Reset(reloadDebounce)
			}
		case <-timerCh:
			timer = nil
			timerCh = nil
			r.reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.log.Error("监听品种清单失败", "error", err)
		}
	}
}

func (r *WatchReloader) reload() {
	wf, err := LoadWatchFile(r.path)
	if err != nil {
		r.log.Error("重载品种清单失败", "path", r.path, "error", err)
		return
	}
	r.log.Info("品种清单已重载", "path", r.path, "symbols", len(wf.Symbols))
	r.onChange(wf)
}
