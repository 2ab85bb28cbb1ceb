package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"TickFlow-Notifier/internal/api"
	"TickFlow-Notifier/internal/config"
	"TickFlow-Notifier/internal/feed"
	"TickFlow-Notifier/internal/market"
	"TickFlow-Notifier/internal/notify"
	"TickFlow-Notifier/internal/observability/metrics"
	"TickFlow-Notifier/internal/storage"
	"TickFlow-Notifier/pkg/logger"
)

// main 是 tickflowd 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("tickflowd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("TICKFLOW_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "tickflow.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Journal: logger.JournalConfig{
			Enabled: cfg.Logging.JournalPath != "",
			Path:    cfg.Logging.JournalPath,
		},
	}); err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()
	mainLog := logger.Named("tickflowd")

	// 行情落盘后端。
	storageCfg := storage.Config{
		Driver:               cfg.Storage.Driver,
		DataDir:              cfg.Storage.DataDir,
		FlushIntervalSeconds: cfg.Storage.FlushIntervalSeconds,
		RetentionMonths:      cfg.Storage.RetentionMonths,
		MySQLDSN:             cfg.Storage.MySQLDSN,
	}
	backend, err := storage.NewBackend(storageCfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			mainLog.Error("关闭存储后端失败", "error", err)
		}
	}()
	storageLogger := storage.NewLogger(backend, storageCfg.FlushInterval())

	// 告警队列。
	var alertQueue notify.Queue
	switch cfg.Notify.QueueDriver {
	case "", "memory":
		alertQueue = notify.NewMemoryQueue(1024)
	case "redis":
		queue, err := notify.NewRedisQueue(notify.RedisQueueConfig{
			Address:  cfg.Notify.Redis.Address,
			Password: cfg.Notify.Redis.Password,
			DB:       cfg.Notify.Redis.DB,
			Queue:    cfg.Notify.Redis.Queue,
		})
		if err != nil {
			return err
		}
		alertQueue = queue
	default:
		return fmt.Errorf("未知的告警队列驱动: %s", cfg.Notify.QueueDriver)
	}
	defer func() {
		if err := alertQueue.Close(); err != nil {
			mainLog.Error("关闭告警队列失败", "error", err)
		}
	}()

	// 通知渠道：审计日志始终保留，Telegram 在配置了凭据时启用。
	backends := []notify.Backend{notify.LogBackend{}}
	if telegram := notify.NewTelegramBackend(notify.TelegramConfig{
		Token:          cfg.Notify.Telegram.Token,
		ChatID:         cfg.Notify.Telegram.ChatID,
		TimeoutSeconds: cfg.Notify.Telegram.TimeoutSeconds,
	}); telegram != nil {
		backends = append(backends, telegram)
	}
	dispatcher := notify.NewFanout(backends...)

	var managerOpts []notify.ManagerOption
	if cfg.Notify.FlushIntervalSeconds > 0 {
		managerOpts = append(managerOpts,
			notify.WithFlushInterval(time.Duration(cfg.Notify.FlushIntervalSeconds)*time.Second))
	}
	manager := notify.NewManager(alertQueue, dispatcher, managerOpts...)

	// 品种清单决定启动时跟踪哪些品种。
	watchFile, err := config.LoadWatchFile(cfg.Notify.WatchFile)
	if err != nil {
		return err
	}
	notifier, err := notify.NewVolatilityNotifier(buildNotifyConfig(cfg, watchFile), manager)
	if err != nil {
		return err
	}

	marketFeed, err := createFeed(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := marketFeed.Close(); err != nil {
			mainLog.Error("关闭行情源失败", "error", err)
		}
	}()

	handler := market.NewHandler(
		market.WithRecorder(backend),
		market.WithSink(notifier),
		market.WithUnsubscriber(marketFeed),
		market.WithBrokerUTCOffset(cfg.Market.BrokerOffset()),
		market.WithFlatBarThreshold(cfg.Market.FlatBarThreshold),
	)

	if err := subscribeSymbols(marketFeed, notifier.Symbols()); err != nil {
		return err
	}

	workerCtx, workerCancel := context.WithCancel(ctx)
	defer workerCancel()

	go func() {
		if err := storageLogger.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			mainLog.Error("存储调度器异常退出", "error", err)
		}
	}()
	go func() {
		if err := manager.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			mainLog.Error("告警管理器异常退出", "error", err)
		}
	}()
	go func() {
		if err := marketFeed.Consume(workerCtx, handler.Process); err != nil && !errors.Is(err, context.Canceled) {
			mainLog.Error("行情消费异常退出", "error", err)
		}
	}()

	// 品种清单热更新：文件变化时重建阈值配置并同步订阅。
	if cfg.Notify.WatchFile != "" {
		reloader := config.NewWatchReloader(cfg.Notify.WatchFile, func(updated *config.WatchFile) {
			previous := notifier.Symbols()
			if err := notifier.UpdateConfig(buildNotifyConfig(cfg, updated)); err != nil {
				mainLog.Error("应用品种清单失败", "error", err)
				return
			}
			syncSubscriptions(marketFeed, previous, notifier.Symbols(), mainLog)
		})
		go func() {
			if err := reloader.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				mainLog.Error("品种清单监听异常退出", "error", err)
			}
		}()
	}

	if cfg.Metrics.Address != "" {
		go func() {
			if err := metrics.StartServer(workerCtx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				mainLog.Error("指标服务异常退出", "error", err)
			}
		}()
	}

	mainLog.Info("tickflowd 已启动",
		"api", cfg.Server.Address,
		"feed", cfg.Feed.Driver,
		"storage", cfg.Storage.Driver,
		"symbols", len(notifier.Symbols()),
	)

	server := api.NewServer(cfg.Server.Address, notifier, marketFeed)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// createFeed 根据配置建立行情源连接。
func createFeed(ctx context.Context, cfg *config.Config) (feed.Feed, error) {
	switch cfg.Feed.Driver {
	case "", "zmq":
		return feed.NewZMQFeed(ctx, feed.ZMQConfig{
			Host:     cfg.Feed.Host,
			PushPort: cfg.Feed.PushPort,
			PullPort: cfg.Feed.PullPort,
			SubPort:  cfg.Feed.SubPort,
		})
	case "rabbitmq":
		return feed.NewRabbitMQFeed(feed.RabbitMQConfig{
			URL:     cfg.Feed.AMQPURL,
			Queue:   cfg.Feed.AMQPQueue,
			Durable: true,
		})
	case "memory":
		return feed.NewMemoryFeed(0), nil
	default:
		return nil, fmt.Errorf("未知的行情驱动: %s", cfg.Feed.Driver)
	}
}

// buildNotifyConfig 把品种清单的阈值映射成通知器配置。
func buildNotifyConfig(cfg *config.Config, wf *config.WatchFile) notify.Config {
	symbols := make(map[string]map[string]notify.Thresholds, len(wf.Symbols))
	for symbol, frames := range wf.Thresholds() {
		converted := make(map[string]notify.Thresholds, len(frames))
		for timeframe, spec := range frames {
			converted[timeframe] = notify.Thresholds{
				VolatilityPips: spec.VolatilityPips,
				ActivityTicks:  spec.ActivityTicks,
			}
		}
		symbols[symbol] = converted
	}
	return notify.Config{
		CooldownUnits:    cfg.Notify.CooldownUnits,
		RetentionBuckets: cfg.Notify.RetentionBuckets,
		DefaultThresholds: notify.Thresholds{
			VolatilityPips: wf.Defaults.VolatilityPips,
			ActivityTicks:  wf.Defaults.ActivityTicks,
		},
		Symbols: symbols,
	}
}

// subscribeSymbols 在行情服务器上订阅所有跟踪品种。
func subscribeSymbols(f feed.Feed, symbols map[string][]string) error {
	names := make([]string, 0, len(symbols))
	for symbol := range symbols {
		names = append(names, symbol)
	}
	sort.Strings(names)
	for _, symbol := range names {
		if err := f.Subscribe(symbol); err != nil {
			return err
		}
		if err := f.TrackTicks(symbol); err != nil {
			return err
		}
		if err := f.TrackBars(symbol, symbols[symbol]); err != nil {
			return err
		}
	}
	return nil
}

// syncSubscriptions 按新旧品种清单的差异调整行情订阅。
func syncSubscriptions(f feed.Feed, previous, current map[string][]string, log *slog.Logger) {
	for symbol, timeframes := range current {
		if err := f.Subscribe(symbol); err != nil {
			log.Error("订阅品种失败", "symbol", symbol, "error", err)
			continue
		}
		if err := f.TrackTicks(symbol); err != nil {
			log.Error("跟踪报价失败", "symbol", symbol, "error", err)
		}
		if err := f.TrackBars(symbol, timeframes); err != nil {
			log.Error("跟踪 K 线失败", "symbol", symbol, "error", err)
		}
	}
	for symbol := range previous {
		if _, ok := current[symbol]; ok {
			continue
		}
		if err := f.Unsubscribe(symbol); err != nil {
			log.Error("退订品种失败", "symbol", symbol, "error", err)
		}
	}
}
