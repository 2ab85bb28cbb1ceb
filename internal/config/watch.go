package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ThresholdSpec 是 YAML 清单中单个周期的阈值。字段为零时回落到 defaults。
type ThresholdSpec struct {
	VolatilityPips float64 `yaml:"volatility_pips"`
	ActivityTicks  float64 `yaml:"activity_ticks"`
}

// WatchFile 是跟踪品种清单。symbols 以品种为键、周期代码为子键；
// 周期条目可以为空，表示完全使用 defaults。
type WatchFile struct {
	Defaults ThresholdSpec                       `yaml:"defaults"`
	Symbols  map[string]map[string]ThresholdSpec `yaml:"symbols"`
}

// LoadWatchFile 解析 YAML 品种清单。
func LoadWatchFile(path string) (*WatchFile, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取品种清单失败: %w", err)
	}
	var wf WatchFile
	if err := yaml.Unmarshal(content, &wf); err != nil {
		return nil, fmt.Errorf("解析品种清单失败: %w", err)
	}
	wf.applyDefaults()
	return &wf, nil
}

func (w *WatchFile) applyDefaults() {
	if w.Defaults.VolatilityPips <= 0 {
		w.Defaults.VolatilityPips = 10
	}
	if w.Defaults.ActivityTicks <= 0 {
		w.Defaults.ActivityTicks = 50
	}
	for symbol, frames := range w.Symbols {
		for timeframe, spec := range frames {
			if spec.VolatilityPips <= 0 {
				spec.VolatilityPips = w.Defaults.VolatilityPips
			}
			if spec.ActivityTicks <= 0 {
				spec.ActivityTicks = w.Defaults.ActivityTicks
			}
			w.Symbols[symbol][timeframe] = spec
		}
	}
}

// Thresholds 返回补全默认值后的品种阈值表。
func (w *WatchFile) Thresholds() map[string]map[string]ThresholdSpec {
	return w.Symbols
}
