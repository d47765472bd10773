package market

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// binanceIntervals 为交易所 kline 支持的周期（key 即 REST/WS 的 interval 参数）。
var binanceIntervals = map[string]time.Duration{
	"1s":  time.Second,
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"3d":  72 * time.Hour,
	"1w":  7 * 24 * time.Hour,
}

// ParseInterval 解析 "1m"/"4h"/"1d" 等周期；非交易所周期退回 time.ParseDuration（如 "5s"）。
// "0" 或空串表示不重采样（数据已按桶整理）。
func ParseInterval(input string) (time.Duration, error) {
	key := strings.ToLower(strings.TrimSpace(input))
	if key == "" || key == "0" || key == "raw" {
		return 0, nil
	}
	if d, ok := binanceIntervals[key]; ok {
		return d, nil
	}
	d, err := time.ParseDuration(key)
	if err != nil {
		return 0, fmt.Errorf("不支持的周期: %s", input)
	}
	if d < 0 {
		return 0, fmt.Errorf("周期不能为负: %s", input)
	}
	return d, nil
}

// ExchangeInterval 返回与 d 对应的交易所 interval key。
func ExchangeInterval(d time.Duration) (string, bool) {
	for k, v := range binanceIntervals {
		if v == d {
			return k, true
		}
	}
	return "", false
}

// SupportedIntervals 返回所有交易所周期 key（按时长排序）。
func SupportedIntervals() []string {
	keys := make([]string, 0, len(binanceIntervals))
	for k := range binanceIntervals {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return binanceIntervals[keys[i]] < binanceIntervals[keys[j]] })
	return keys
}

// AlignDown 将 t 对齐到 interval 网格（UTC 纪元起点）。
func AlignDown(t time.Time, interval time.Duration) time.Time {
	if interval <= 0 {
		return t
	}
	return t.Truncate(interval)
}

// ExpectedBars 计算 [start, end] 闭区间内应有的 bar 数。
func ExpectedBars(start, end time.Time, interval time.Duration) int64 {
	if interval <= 0 || end.Before(start) {
		return 0
	}
	return int64(AlignDown(end, interval).Sub(AlignDown(start, interval))/interval) + 1
}
