package notify

import (
	"context"
	"log/slog"
	"sync"

	xerrors "TickFlow-Notifier/internal/errors"
	"TickFlow-Notifier/internal/market"
	"TickFlow-Notifier/pkg/logger"
)

// Config 描述波动通知器的完整配置。
type Config struct {
	// CooldownUnits 是冷却倍数：同级别告警在 N 个周期跨度内不重复。
	CooldownUnits int `json:"cooldown_units"`
	// RetentionBuckets 是每个聚合器保留的历史桶数量。
	RetentionBuckets int `json:"retention_buckets"`
	// DefaultThresholds 在新增品种未指定阈值时使用。
	DefaultThresholds Thresholds `json:"default_thresholds"`
	// Symbols 以品种为键、周期为子键给出告警阈值。
	Symbols map[string]map[string]Thresholds `json:"symbols"`
}

func (c *Config) applyDefaults() {
	if c.CooldownUnits <= 0 {
		c.CooldownUnits = DefaultCooldownUnits
	}
	if c.RetentionBuckets <= 0 {
		c.RetentionBuckets = DefaultRetentionBuckets
	}
	if c.DefaultThresholds == (Thresholds{}) {
		c.DefaultThresholds = Thresholds{VolatilityPips: 10, ActivityTicks: 50}
	}
}

// VolatilityNotifier 把报价路由给各品种的跟踪器，并将触发的评分交给 Manager。
// 实现 market.Sink。
type VolatilityNotifier struct {
	mu       sync.Mutex
	cfg      Config
	trackers map[string]*SymbolTracker
	manager  *Manager
	log      *slog.Logger
}

// NewVolatilityNotifier 创建波动通知器。
func NewVolatilityNotifier(cfg Config, manager *Manager) (*VolatilityNotifier, error) {
	if manager == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "manager 不能为空")
	}
	cfg.applyDefaults()
	n := &VolatilityNotifier{
		cfg:      cfg,
		trackers: make(map[string]*SymbolTracker),
		manager:  manager,
		log:      logger.Named("notify"),
	}
	if err := n.UpdateConfig(cfg); err != nil {
		return nil, err
	}
	return n, nil
}

// UpdateConfig 幂等地应用新配置：新增品种建跟踪器，移除的品种删除，
// 保留品种的聚合器历史不受影响，仅阈值原地更新。
func (n *VolatilityNotifier) UpdateConfig(cfg Config) error {
	cfg.applyDefaults()

	// 先做整体校验，失败时不留下半套状态。
	for symbol, thresholds := range cfg.Symbols {
		if err := market.ValidateSymbol(symbol); err != nil {
			return err
		}
		for timeframe, th := range thresholds {
			if err := market.ValidateTimeframe(timeframe); err != nil {
				return err
			}
			if err := th.Validate(); err != nil {
				return err
			}
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	for symbol, thresholds := range cfg.Symbols {
		if tracker, ok := n.trackers[symbol]; ok {
			if err := tracker.UpdateThresholds(thresholds); err != nil {
				return err
			}
			continue
		}
		tracker, err := NewSymbolTracker(symbol, thresholds, cfg.CooldownUnits, cfg.RetentionBuckets)
		if err != nil {
			return err
		}
		n.trackers[symbol] = tracker
		n.log.Info("开始跟踪品种", "symbol", symbol, "timeframes", tracker.Timeframes())
	}
	for symbol := range n.trackers {
		if _, ok := cfg.Symbols[symbol]; !ok {
			delete(n.trackers, symbol)
			n.log.Info("停止跟踪品种", "symbol", symbol)
		}
	}
	n.cfg = cfg
	return nil
}

// HandleTick 实现 market.Sink：送入报价并转发触发的评分。
func (n *VolatilityNotifier) HandleTick(ctx context.Context, symbol string, tick market.Tick) error {
	n.mu.Lock()
	tracker, ok := n.trackers[symbol]
	var scores []Scores
	if ok {
		scores = tracker.Observe(tick)
	}
	n.mu.Unlock()

	if len(scores) == 0 {
		return nil
	}
	return n.manager.Enqueue(ctx, scores...)
}

// HandleBar 实现 market.Sink。K 线只用于存储与死线检测，波动评分基于 tick。
func (n *VolatilityNotifier) HandleBar(ctx context.Context, symbol, timeframe string, bar market.Bar) error {
	return nil
}

// AddSymbol 动态加入品种。thresholds 为空时对所有配置周期使用默认阈值。
func (n *VolatilityNotifier) AddSymbol(symbol string, timeframes []string) error {
	if len(timeframes) == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "至少需要一个周期")
	}

	// n.cfg 会被 UpdateConfig 整体替换，读它也要持锁。
	n.mu.Lock()
	defer n.mu.Unlock()

	thresholds := make(map[string]Thresholds, len(timeframes))
	for _, timeframe := range timeframes {
		thresholds[timeframe] = n.cfg.DefaultThresholds
	}

	if tracker, ok := n.trackers[symbol]; ok {
		merged := make(map[string]Thresholds)
		for _, timeframe := range tracker.Timeframes() {
			merged[timeframe] = tracker.frames[timeframe].thresholds
		}
		for timeframe, th := range thresholds {
			if _, ok := merged[timeframe]; !ok {
				merged[timeframe] = th
			}
		}
		return tracker.UpdateThresholds(merged)
	}

	tracker, err := NewSymbolTracker(symbol, thresholds, n.cfg.CooldownUnits, n.cfg.RetentionBuckets)
	if err != nil {
		return err
	}
	n.trackers[symbol] = tracker
	n.log.Info("开始跟踪品种", "symbol", symbol, "timeframes", tracker.Timeframes())
	return nil
}

// RemoveSymbol 停止跟踪品种，返回品种此前是否在跟踪中。
func (n *VolatilityNotifier) RemoveSymbol(symbol string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.trackers[symbol]; !ok {
		return false
	}
	delete(n.trackers, symbol)
	n.log.Info("停止跟踪品种", "symbol", symbol)
	return true
}

// Symbols 返回当前跟踪的品种及其周期。
func (n *VolatilityNotifier) Symbols() map[string][]string {
	n.mu.Lock()
	defer n.mu.Unlock()
	result := make(map[string][]string, len(n.trackers))
	for symbol, tracker := range n.trackers {
		result[symbol] = tracker.Timeframes()
	}
	return result
}

// Range 查询品种某周期最近 buckets 个桶跨度内的极值与数据量。
func (n *VolatilityNotifier) Range(symbol, timeframe string, buckets int) (min, max float64, count int, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	tracker, ok := n.trackers[symbol]
	if !ok {
		return 0, 0, 0, xerrors.New(xerrors.CodeNotFound, "symbol not tracked: "+symbol)
	}
	return tracker.Range(timeframe, buckets)
}
