package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type tickKey struct {
	symbol string
}

type barKey struct {
	symbol    string
	timeframe string
}

type notifyKey struct {
	channel string
	outcome string
}

type marketCollector struct {
	mu           sync.Mutex
	ticks        map[tickKey]uint64
	bars         map[barKey]uint64
	invalid      map[tickKey]uint64
	unsubscribes map[tickKey]uint64
	notify       map[notifyKey]uint64
	flushes      map[string]uint64
	batch        *histogram
}

var market = &marketCollector{
	ticks:        make(map[tickKey]uint64),
	bars:         make(map[barKey]uint64),
	invalid:      make(map[tickKey]uint64),
	unsubscribes: make(map[tickKey]uint64),
	notify:       make(map[notifyKey]uint64),
	flushes:      make(map[string]uint64),
	batch:        newHistogram(),
}

// ObserveTick records one processed tick for a symbol.
func ObserveTick(symbol string) {
	market.mu.Lock()
	market.ticks[tickKey{symbol: symbol}]++
	market.mu.Unlock()
}

// ObserveBar records one processed bar for a symbol and timeframe.
func ObserveBar(symbol, timeframe string) {
	market.mu.Lock()
	market.bars[barKey{symbol: symbol, timeframe: timeframe}]++
	market.mu.Unlock()
}

// ObserveInvalid records one rejected market data point.
func ObserveInvalid(symbol string) {
	market.mu.Lock()
	market.invalid[tickKey{symbol: symbol}]++
	market.mu.Unlock()
}

// ObserveUnsubscribe records one forced unsubscribe (flat bar protection).
func ObserveUnsubscribe(symbol string) {
	market.mu.Lock()
	market.unsubscribes[tickKey{symbol: symbol}]++
	market.mu.Unlock()
}

// ObserveNotification records one delivery attempt on an alert channel.
func ObserveNotification(channel string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	market.mu.Lock()
	market.notify[notifyKey{channel: channel, outcome: outcome}]++
	market.mu.Unlock()
}

// ObserveFlush records one storage flush attempt.
func ObserveFlush(ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	market.mu.Lock()
	market.flushes[outcome]++
	market.mu.Unlock()
}

// ObserveBatch records the handling duration of one market data batch.
func ObserveBatch(duration time.Duration) {
	market.mu.Lock()
	market.batch.observe(duration.Seconds())
	market.mu.Unlock()
}

func (c *marketCollector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var builder strings.Builder
	builder.Grow(1024)

	builder.WriteString("# HELP tickflow_ticks_total Total number of ticks processed.\n")
	builder.WriteString("# TYPE tickflow_ticks_total counter\n")
	for _, key := range sortedTickKeys(c.ticks) {
		builder.WriteString(fmt.Sprintf("tickflow_ticks_total{symbol=\"%s\"} %d\n", escape(key.symbol), c.ticks[key]))
	}

	builder.WriteString("# HELP tickflow_bars_total Total number of OHLC bars processed.\n")
	builder.WriteString("# TYPE tickflow_bars_total counter\n")
	barKeys := make([]barKey, 0, len(c.bars))
	for key := range c.bars {
		barKeys = append(barKeys, key)
	}
	sort.Slice(barKeys, func(i, j int) bool {
		if barKeys[i].symbol == barKeys[j].symbol {
			return barKeys[i].timeframe < barKeys[j].timeframe
		}
		return barKeys[i].symbol < barKeys[j].symbol
	})
	for _, key := range barKeys {
		builder.WriteString(fmt.Sprintf("tickflow_bars_total{symbol=\"%s\",timeframe=\"%s\"} %d\n",
			escape(key.symbol), escape(key.timeframe), c.bars[key]))
	}

	builder.WriteString("# HELP tickflow_invalid_points_total Total number of rejected market data points.\n")
	builder.WriteString("# TYPE tickflow_invalid_points_total counter\n")
	for _, key := range sortedTickKeys(c.invalid) {
		builder.WriteString(fmt.Sprintf("tickflow_invalid_points_total{symbol=\"%s\"} %d\n", escape(key.symbol), c.invalid[key]))
	}

	builder.WriteString("# HELP tickflow_forced_unsubscribes_total Total number of symbols unsubscribed after flat bar streaks.\n")
	builder.WriteString("# TYPE tickflow_forced_unsubscribes_total counter\n")
	for _, key := range sortedTickKeys(c.unsubscribes) {
		builder.WriteString(fmt.Sprintf("tickflow_forced_unsubscribes_total{symbol=\"%s\"} %d\n", escape(key.symbol), c.unsubscribes[key]))
	}

	builder.WriteString("# HELP tickflow_notifications_total Total number of alert delivery attempts.\n")
	builder.WriteString("# TYPE tickflow_notifications_total counter\n")
	notifyKeys := make([]notifyKey, 0, len(c.notify))
	for key := range c.notify {
		notifyKeys = append(notifyKeys, key)
	}
	sort.Slice(notifyKeys, func(i, j int) bool {
		if notifyKeys[i].channel == notifyKeys[j].channel {
			return notifyKeys[i].outcome < notifyKeys[j].outcome
		}
		return notifyKeys[i].channel < notifyKeys[j].channel
	})
	for _, key := range notifyKeys {
		builder.WriteString(fmt.Sprintf("tickflow_notifications_total{channel=\"%s\",outcome=\"%s\"} %d\n",
			escape(key.channel), escape(key.outcome), c.notify[key]))
	}

	builder.WriteString("# HELP tickflow_storage_flushes_total Total number of storage flush attempts.\n")
	builder.WriteString("# TYPE tickflow_storage_flushes_total counter\n")
	flushOutcomes := make([]string, 0, len(c.flushes))
	for outcome := range c.flushes {
		flushOutcomes = append(flushOutcomes, outcome)
	}
	sort.Strings(flushOutcomes)
	for _, outcome := range flushOutcomes {
		builder.WriteString(fmt.Sprintf("tickflow_storage_flushes_total{outcome=\"%s\"} %d\n",
			escape(outcome), c.flushes[outcome]))
	}

	builder.WriteString("# HELP tickflow_batch_duration_seconds Market data batch handling duration in seconds.\n")
	builder.WriteString("# TYPE tickflow_batch_duration_seconds histogram\n")
	for idx, bound := range c.batch.buckets {
		builder.WriteString(fmt.Sprintf("tickflow_batch_duration_seconds_bucket{le=\"%s\"} %d\n",
			formatFloat(bound), c.batch.counts[idx]))
	}
	builder.WriteString(fmt.Sprintf("tickflow_batch_duration_seconds_bucket{le=\"+Inf\"} %d\n", c.batch.count))
	builder.WriteString(fmt.Sprintf("tickflow_batch_duration_seconds_sum %s\n", formatFloat(c.batch.sum)))
	builder.WriteString(fmt.Sprintf("tickflow_batch_duration_seconds_count %d\n", c.batch.count))

	return builder.String()
}

func sortedTickKeys(m map[tickKey]uint64) []tickKey {
	keys := make([]tickKey, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].symbol < keys[j].symbol })
	return keys
}
