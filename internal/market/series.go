package market

import (
	"iter"
	"math"
	"slices"
	"sort"
	"time"
)

type sample struct {
	ts    time.Time
	price float64
}

// PriceSeries 按时间桶保存 (timestamp, price) 样本；同桶内时间戳最新的样本胜出，
// 因此重采样结果与写入顺序无关。
type PriceSeries struct {
	interval time.Duration
	capacity int

	keys    []int64
	buckets map[int64]sample
}

type SeriesOption func(*PriceSeries)

// WithCapacity 限制保留的桶数量（实时模式防止无限增长），0 表示不限制。
func WithCapacity(n int) SeriesOption {
	return func(s *PriceSeries) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// NewPriceSeries interval=0 表示保留原始时间戳（历史数据已分桶）。
func NewPriceSeries(interval time.Duration, opts ...SeriesOption) *PriceSeries {
	if interval < 0 {
		interval = 0
	}
	s := &PriceSeries{
		interval: interval,
		buckets:  make(map[int64]sample),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *PriceSeries) Interval() time.Duration { return s.interval }

// Len 返回当前桶数量。
func (s *PriceSeries) Len() int { return len(s.keys) }

func (s *PriceSeries) bucketKey(ts time.Time) int64 {
	return AlignDown(ts, s.interval).UnixNano()
}

// Append 写入或更新 ts 所在桶。
func (s *PriceSeries) Append(ts time.Time, price float64) error {
	if !validPrice(price) {
		return &InvalidPriceError{Time: ts, Price: price}
	}
	key := s.bucketKey(ts)
	if cur, ok := s.buckets[key]; ok {
		if !ts.Before(cur.ts) {
			s.buckets[key] = sample{ts: ts, price: price}
		}
		return nil
	}
	s.buckets[key] = sample{ts: ts, price: price}
	n := len(s.keys)
	if n == 0 || key > s.keys[n-1] {
		s.keys = append(s.keys, key)
	} else {
		idx := sort.Search(n, func(i int) bool { return s.keys[i] >= key })
		s.keys = slices.Insert(s.keys, idx, key)
	}
	s.trim()
	return nil
}

func (s *PriceSeries) trim() {
	if s.capacity <= 0 || len(s.keys) <= s.capacity {
		return
	}
	drop := len(s.keys) - s.capacity
	for _, k := range s.keys[:drop] {
		delete(s.buckets, k)
	}
	s.keys = append(s.keys[:0:0], s.keys[drop:]...)
}

func (s *PriceSeries) barAt(idx int) Bar {
	key := s.keys[idx]
	smp := s.buckets[key]
	return Bar{Time: time.Unix(0, key).UTC(), Close: smp.price}
}

// First 返回最早的桶。
func (s *PriceSeries) First() (Bar, bool) {
	if len(s.keys) == 0 {
		return Bar{}, false
	}
	return s.barAt(0), true
}

// Last 返回最新的桶（可能仍在形成中）。
func (s *PriceSeries) Last() (Bar, bool) {
	if len(s.keys) == 0 {
		return Bar{}, false
	}
	return s.barAt(len(s.keys) - 1), true
}

// Resample 以 interval 重采样整个序列；结果惰性生成，可重复遍历。
func (s *PriceSeries) Resample(interval time.Duration) iter.Seq[Bar] {
	return s.resample(interval, 0, time.Time{}, time.Time{})
}

// ResampleBetween 只输出 [from, to] 内的 bar，缺口判定仍参考 from 之前的一个桶。
func (s *PriceSeries) ResampleBetween(interval time.Duration, from, to time.Time) iter.Seq[Bar] {
	start := 0
	if !from.IsZero() && len(s.keys) > 0 {
		lookback := AlignDown(from, interval)
		if interval > 0 {
			lookback = lookback.Add(-interval)
		}
		key := AlignDown(lookback, s.interval).UnixNano()
		start = sort.Search(len(s.keys), func(i int) bool { return s.keys[i] >= key })
	}
	return s.resample(interval, start, from, to)
}

// Bars 收集按序列自身周期重采样后的全部 bar。
func (s *PriceSeries) Bars() []Bar {
	return slices.Collect(s.Resample(s.interval))
}

func (s *PriceSeries) resample(interval time.Duration, start int, from, to time.Time) iter.Seq[Bar] {
	if interval < 0 {
		interval = 0
	}
	return func(yield func(Bar) bool) {
		emit := func(b Bar) (cont bool, done bool) {
			if !from.IsZero() && b.Time.Before(from) {
				return true, false
			}
			if !to.IsZero() && b.Time.After(to) {
				return false, true
			}
			return yield(b), false
		}
		var (
			curBucket time.Time
			curSample sample
			have      bool
			prevReal  time.Time
			prevPrice float64
			havePrev  bool
		)
		flush := func() bool {
			if havePrev && interval > 0 {
				gap := curBucket.Sub(prevReal)/interval - 1
				if gap >= 1 {
					// 只向前填充一个周期，更长的缺口保持缺失
					if cont, _ := emit(Bar{Time: prevReal.Add(interval), Close: prevPrice}); !cont {
						return false
					}
				}
			}
			cont, _ := emit(Bar{Time: curBucket, Close: curSample.price})
			prevReal, prevPrice, havePrev = curBucket, curSample.price, true
			return cont
		}
		for i := start; i < len(s.keys); i++ {
			smp := s.buckets[s.keys[i]]
			bucket := time.Unix(0, s.keys[i]).UTC()
			if interval > 0 {
				bucket = AlignDown(smp.ts, interval).UTC()
			}
			if !have {
				curBucket, curSample, have = bucket, smp, true
				continue
			}
			if bucket.Equal(curBucket) {
				if !smp.ts.Before(curSample.ts) {
					curSample = smp
				}
				continue
			}
			if !flush() {
				return
			}
			curBucket, curSample = bucket, smp
		}
		if have {
			flush()
		}
	}
}

// Returns 与 Resample(series interval) 对齐，少一个元素。
func (s *PriceSeries) Returns() iter.Seq[Return] {
	return func(yield func(Return) bool) {
		var prev Bar
		first := true
		for b := range s.Resample(s.interval) {
			if first {
				prev, first = b, false
				continue
			}
			if !yield(logReturn(prev, b, s.interval)) {
				return
			}
			prev = b
		}
	}
}

// LogReturns 计算 bars 相邻两两之间的对数收益（len-1 个）。
func LogReturns(bars []Bar, interval time.Duration) []Return {
	if len(bars) < 2 {
		return nil
	}
	out := make([]Return, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		out = append(out, logReturn(bars[i-1], bars[i], interval))
	}
	return out
}

// Adjacent 判断 next 是否紧接 prev（interval=0 时总是相邻）。
func Adjacent(prev, next Bar, interval time.Duration) bool {
	if interval <= 0 {
		return next.Time.After(prev.Time)
	}
	return next.Time.Sub(prev.Time) == interval
}

func logReturn(prev, cur Bar, interval time.Duration) Return {
	r := Return{Time: cur.Time}
	if !Adjacent(prev, cur, interval) || prev.Close <= 0 || cur.Close <= 0 {
		return r
	}
	r.Value = math.Log(cur.Close / prev.Close)
	r.Valid = true
	return r
}
