package market

import (
	"math"
	"math/rand"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)

func minute(n int) time.Time { return t0.Add(time.Duration(n) * time.Minute) }

func TestPriceSeries_AppendRejectsInvalidPrice(t *testing.T) {
	s := NewPriceSeries(time.Minute)
	for _, p := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		err := s.Append(t0, p)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidPrice)
		var ipe *InvalidPriceError
		assert.ErrorAs(t, err, &ipe)
	}
	assert.Equal(t, 0, s.Len())

	require.NoError(t, s.Append(t0, 10))
	assert.Equal(t, 1, s.Len())
}

func TestPriceSeries_LastWriteWinsWithinBucket(t *testing.T) {
	s := NewPriceSeries(time.Minute)
	require.NoError(t, s.Append(t0.Add(5*time.Second), 100))
	require.NoError(t, s.Append(t0.Add(40*time.Second), 101))
	require.NoError(t, s.Append(t0.Add(20*time.Second), 99)) // older tick arriving late

	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, t0, last.Time)
	assert.Equal(t, 101.0, last.Close)
	assert.Equal(t, 1, s.Len())
}

func TestPriceSeries_ResampleIsIngestionOrderIndependent(t *testing.T) {
	type tick struct {
		ts    time.Time
		price float64
	}
	var ticks []tick
	for i := 0; i < 300; i++ {
		ticks = append(ticks, tick{ts: t0.Add(time.Duration(i*7) * time.Second), price: 100 + float64(i%13)})
	}
	build := func(order []tick) []Bar {
		s := NewPriceSeries(time.Second)
		for _, tk := range order {
			require.NoError(t, s.Append(tk.ts, tk.price))
		}
		return slices.Collect(s.Resample(time.Minute))
	}
	expected := build(ticks)
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 5; round++ {
		shuffled := append([]tick(nil), ticks...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		assert.Equal(t, expected, build(shuffled))
	}
	// 每个桶取时间最晚的样本
	require.NotEmpty(t, expected)
	assert.Equal(t, t0, expected[0].Time)
	assert.Equal(t, 100+float64(8%13), expected[0].Close) // 56s 的 tick 是第一分钟最后一个
}

func TestPriceSeries_ResampleGapHandling(t *testing.T) {
	s := NewPriceSeries(time.Minute)
	require.NoError(t, s.Append(minute(0), 10))
	require.NoError(t, s.Append(minute(1), 11))
	// 缺 minute(2) 一个周期 → 前值填充
	require.NoError(t, s.Append(minute(3), 13))
	// 缺 minute(4..6) 三个周期 → 只填充 minute(4)
	require.NoError(t, s.Append(minute(7), 17))

	bars := slices.Collect(s.Resample(time.Minute))
	want := []Bar{
		{Time: minute(0), Close: 10},
		{Time: minute(1), Close: 11},
		{Time: minute(2), Close: 11},
		{Time: minute(3), Close: 13},
		{Time: minute(4), Close: 13},
		{Time: minute(7), Close: 17},
	}
	assert.Equal(t, want, bars)

	// 可重复遍历
	assert.Equal(t, want, slices.Collect(s.Resample(time.Minute)))
}

func TestPriceSeries_ReturnsSkipGaps(t *testing.T) {
	s := NewPriceSeries(time.Minute)
	require.NoError(t, s.Append(minute(0), 10))
	require.NoError(t, s.Append(minute(1), 20))
	require.NoError(t, s.Append(minute(5), 40))

	bars := slices.Collect(s.Resample(time.Minute))
	rets := slices.Collect(s.Returns())
	require.Len(t, bars, 4) // 0, 1, 2(前值填充), 5
	require.Len(t, rets, len(bars)-1)

	assert.True(t, rets[0].Valid)
	assert.InDelta(t, math.Log(2), rets[0].Value, 1e-12)
	assert.True(t, rets[1].Valid)
	assert.Zero(t, rets[1].Value)
	assert.False(t, rets[2].Valid)
	assert.Equal(t, minute(5), rets[2].Time)
}

func TestPriceSeries_ReturnsAlignment(t *testing.T) {
	s := NewPriceSeries(time.Minute)
	for i, p := range []float64{100, 110, 99} {
		require.NoError(t, s.Append(minute(i), p))
	}
	rets := slices.Collect(s.Returns())
	require.Len(t, rets, 2)
	assert.True(t, rets[0].Valid)
	assert.Equal(t, minute(1), rets[0].Time)
	assert.InDelta(t, math.Log(110.0/100.0), rets[0].Value, 1e-12)
	assert.InDelta(t, math.Log(99.0/110.0), rets[1].Value, 1e-12)
}

func TestLogReturns_InvalidAcrossGap(t *testing.T) {
	bars := []Bar{
		{Time: minute(0), Close: 10},
		{Time: minute(1), Close: 11},
		{Time: minute(4), Close: 12},
		{Time: minute(5), Close: 13},
	}
	rets := LogReturns(bars, time.Minute)
	require.Len(t, rets, 3)
	assert.True(t, rets[0].Valid)
	assert.False(t, rets[1].Valid)
	assert.Zero(t, rets[1].Value)
	assert.True(t, rets[2].Valid)
}

func TestPriceSeries_ResampleBetween(t *testing.T) {
	s := NewPriceSeries(time.Minute)
	for i := 0; i < 10; i++ {
		if i == 5 {
			continue
		}
		require.NoError(t, s.Append(minute(i), float64(100+i)))
	}
	got := slices.Collect(s.ResampleBetween(time.Minute, minute(5), minute(7)))
	want := []Bar{
		{Time: minute(5), Close: 104}, // carried from minute(4)
		{Time: minute(6), Close: 106},
		{Time: minute(7), Close: 107},
	}
	assert.Equal(t, want, got)
}

func TestPriceSeries_CoarserResample(t *testing.T) {
	s := NewPriceSeries(time.Minute)
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Append(minute(i), float64(i+1)))
	}
	got := slices.Collect(s.Resample(5 * time.Minute))
	assert.Equal(t, []Bar{
		{Time: minute(0), Close: 5},
		{Time: minute(5), Close: 10},
	}, got)
}

func TestPriceSeries_RawIntervalKeepsTimestamps(t *testing.T) {
	s := NewPriceSeries(0)
	ts := []time.Time{t0, t0.Add(90 * time.Second), t0.Add(10 * time.Minute)}
	for i, tt := range ts {
		require.NoError(t, s.Append(tt, float64(i+1)))
	}
	bars := s.Bars()
	require.Len(t, bars, 3)
	assert.Equal(t, ts[1], bars[1].Time)
	rets := slices.Collect(s.Returns())
	require.Len(t, rets, 2)
	assert.True(t, rets[1].Valid)
}

func TestPriceSeries_Capacity(t *testing.T) {
	s := NewPriceSeries(time.Minute, WithCapacity(3))
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(minute(i), float64(i+1)))
	}
	assert.Equal(t, 3, s.Len())
	first, ok := s.First()
	require.True(t, ok)
	assert.Equal(t, minute(2), first.Time)
}

func TestAggregate_TakesLastValidPricePerBucket(t *testing.T) {
	in := []Bar{
		{Time: minute(61), Close: 161},
		{Time: minute(0), Close: 100},
		{Time: minute(59), Close: 159},
		{Time: minute(30), Close: 130},
		{Time: minute(60), Close: 160},
		{Time: minute(119), Close: math.NaN()},
		{Time: minute(180), Close: -1},
	}
	out := Aggregate(in, time.Hour)
	require.Len(t, out, 3)
	assert.Equal(t, Bar{Time: t0, Close: 159}, out[0])
	assert.Equal(t, Bar{Time: t0.Add(time.Hour), Close: 161}, out[1])
	// 桶内只有非法价格时保留样本，交给 Append 拒绝
	assert.Equal(t, t0.Add(3*time.Hour), out[2].Time)
	assert.Equal(t, -1.0, out[2].Close)

	same := []Bar{{Time: minute(0), Close: 1}, {Time: minute(1), Close: 2}}
	assert.Equal(t, same, Aggregate(same, time.Minute))
	assert.Equal(t, same, Aggregate(same, 0))
}
