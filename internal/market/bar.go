package market

import (
	"math"
	"slices"
	"time"
)

// Bar 是某个时间桶的收盘价（桶起始时间作为 Time）。
type Bar struct {
	Time  time.Time `json:"time"`
	Close float64   `json:"close"`
}

// Event 是实时行情推送：Closed 表示该桶已收盘（is_bar_closed）。
type Event struct {
	Time   time.Time `json:"time"`
	Price  float64   `json:"price"`
	Closed bool      `json:"closed"`
}

// Return 为相邻两根 bar 之间的对数收益；跨越缺口时 Valid=false（缺失而非 0）。
type Return struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
	Valid bool      `json:"valid"`
}

// Closes 提取收盘价序列。
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// BarEvents 把历史 bar 转换为逐根收盘事件，供模拟实时回放使用。
func BarEvents(bars []Bar) []Event {
	out := make([]Event, len(bars))
	for i, b := range bars {
		out[i] = Event{Time: b.Time, Price: b.Close, Closed: true}
	}
	return out
}

// Aggregate 把任意粒度的 bar 归并到 interval 桶：每桶取时间戳最新的有效价格，Time 为桶起始。
// 桶内没有有效价格时保留最新的原始样本，由下游按非法价格处理。
// interval<=0 时原样返回。
func Aggregate(bars []Bar, interval time.Duration) []Bar {
	if interval <= 0 || len(bars) == 0 {
		return bars
	}
	type pick struct {
		ts    time.Time
		close float64
		valid bool
	}
	buckets := make(map[int64]pick, len(bars))
	keys := make([]int64, 0, len(bars))
	for _, b := range bars {
		key := AlignDown(b.Time, interval).UnixNano()
		cand := pick{ts: b.Time, close: b.Close, valid: validPrice(b.Close)}
		cur, ok := buckets[key]
		switch {
		case !ok:
			keys = append(keys, key)
			buckets[key] = cand
		case cand.valid && (!cur.valid || !cand.ts.Before(cur.ts)):
			buckets[key] = cand
		case !cand.valid && !cur.valid && !cand.ts.Before(cur.ts):
			buckets[key] = cand
		}
	}
	slices.Sort(keys)
	out := make([]Bar, len(keys))
	for i, key := range keys {
		out[i] = Bar{Time: time.Unix(0, key).UTC(), Close: buckets[key].close}
	}
	return out
}

func validPrice(p float64) bool {
	return p > 0 && !math.IsNaN(p) && !math.IsInf(p, 0)
}
