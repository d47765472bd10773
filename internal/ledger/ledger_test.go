package ledger

import (
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ts0 = time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)

func newLedger(t *testing.T, mode Mode) *Ledger {
	t.Helper()
	l, err := New(Config{InitialCash: 10000, Mode: mode})
	require.NoError(t, err)
	return l
}

func TestNew_RejectsNonPositiveCash(t *testing.T) {
	for _, c := range []float64{0, -5, math.NaN()} {
		_, err := New(Config{InitialCash: c})
		assert.Error(t, err)
	}
}

func TestLedger_BuySellAccounting(t *testing.T) {
	l := newLedger(t, LongOnly)
	require.NoError(t, l.ApplyFill(Fill{Time: ts0, Side: Buy, Quantity: 10, Price: 100, FixedCost: 1, ProportionalRate: 0.001}))
	st := l.State()
	assert.InDelta(t, 10000-(1000*1.001+1), st.Cash, 1e-9)
	assert.Equal(t, 10.0, st.Units)
	assert.Equal(t, Long, st.Position)
	assert.Equal(t, 1, st.Trades)

	require.NoError(t, l.ApplyFill(Fill{Time: ts0, Side: Sell, Quantity: 10, Price: 110, FixedCost: 1, ProportionalRate: 0.001}))
	st = l.State()
	assert.InDelta(t, 10000-(1000*1.001+1)+(1100*0.999-1), st.Cash, 1e-9)
	assert.Equal(t, Flat, st.Position)
	assert.Equal(t, 2, st.Trades)
	assert.Len(t, l.Fills(), 2)
}

func TestLedger_LongOnlyRejectsShort(t *testing.T) {
	l := newLedger(t, LongOnly)
	err := l.ApplyFill(Fill{Time: ts0, Side: Sell, Quantity: 1, Price: 100})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLedger)
	assert.Equal(t, State{Cash: 10000, Position: Flat}, l.State())
}

func TestLedger_LongShortAllowsShort(t *testing.T) {
	l := newLedger(t, LongShort)
	require.NoError(t, l.ApplyFill(Fill{Time: ts0, Side: Sell, Quantity: 5, Price: 100}))
	st := l.State()
	assert.Equal(t, Short, st.Position)
	assert.Equal(t, -5.0, st.Units)
	assert.Equal(t, 10500.0, st.Cash)
	// 价格上涨，空头亏损
	assert.Equal(t, 10500.0-5*120, l.NetWealth(120))
}

func TestLedger_InvalidFillLeavesStateUnchanged(t *testing.T) {
	l := newLedger(t, LongShort)
	bad := []Fill{
		{Side: Buy, Quantity: 0, Price: 100},
		{Side: Buy, Quantity: 1, Price: 0},
		{Side: Buy, Quantity: 1, Price: 100, FixedCost: -1},
		{Side: Buy, Quantity: 1, Price: 100, ProportionalRate: -0.1},
		{Quantity: 1, Price: 100},
	}
	for _, f := range bad {
		assert.ErrorIs(t, l.ApplyFill(f), ErrLedger)
	}
	assert.Equal(t, 0, l.Trades())
	assert.Equal(t, 10000.0, l.Cash())
}

func TestLedger_SolvencyCheck(t *testing.T) {
	l, err := New(Config{InitialCash: 1000, Mode: LongShort, CheckSolvency: true})
	require.NoError(t, err)
	err = l.ApplyFill(Fill{Side: Buy, Quantity: 11, Price: 100})
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, 1000.0, l.Cash())

	// 默认关闭时允许透支
	l2 := newLedger(t, LongOnly)
	assert.NoError(t, l2.ApplyFill(Fill{Side: Buy, Quantity: 200, Price: 100}))
	assert.Less(t, l2.Cash(), 0.0)
}

func TestLedger_CloseOut(t *testing.T) {
	l := newLedger(t, LongShort)
	_, ok, err := l.CloseOut(ts0, 100)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, l.Trades())

	require.NoError(t, l.ApplyFill(Fill{Side: Sell, Quantity: 3, Price: 100, ProportionalRate: 0.01}))
	f, ok, err := l.CloseOut(ts0.Add(time.Hour), 90)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Buy, f.Side)
	assert.Equal(t, 3.0, f.Quantity)
	assert.Zero(t, f.Cost())
	assert.Equal(t, Flat, l.Position())
	assert.InDelta(t, 10000+300*0.99-270, l.Cash(), 1e-9)
}

func TestLedger_ZeroCostRoundTripConservesWealth(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		l := newLedger(t, LongShort)
		price := 100.0
		for i := 0; i < 40; i++ {
			price *= 1 + (rng.Float64()-0.5)*0.05
			side := Buy
			if rng.Intn(2) == 0 {
				side = Sell
			}
			require.NoError(t, l.ApplyFill(Fill{Side: side, Quantity: 1 + rng.Float64()*10, Price: price}))
		}
		// 平价成交不改变净值
		before := l.NetWealth(price)
		_, _, err := l.CloseOut(ts0, price)
		require.NoError(t, err)
		assert.InDelta(t, before, l.Cash(), 1e-6)
		assert.Equal(t, Flat, l.Position())
	}
}

func TestLedger_TradesCountMatchesAcceptedFills(t *testing.T) {
	l := newLedger(t, LongOnly)
	fills := []Fill{
		{Side: Buy, Quantity: 1, Price: 10},
		{Side: Sell, Quantity: 2, Price: 10}, // rejected
		{Side: Sell, Quantity: 1, Price: 11},
		{Side: Buy, Quantity: 0, Price: 11}, // rejected
	}
	accepted := 0
	for _, f := range fills {
		if l.ApplyFill(f) == nil {
			accepted++
		}
	}
	assert.Equal(t, 2, accepted)
	assert.Equal(t, accepted, l.Trades())
	assert.Len(t, l.Fills(), accepted)
}

func TestLedger_EpsilonSnapsToFlat(t *testing.T) {
	l := newLedger(t, LongOnly)
	require.NoError(t, l.ApplyFill(Fill{Side: Buy, Quantity: 0.3, Price: 10}))
	require.NoError(t, l.ApplyFill(Fill{Side: Sell, Quantity: 0.1, Price: 10}))
	require.NoError(t, l.ApplyFill(Fill{Side: Sell, Quantity: 0.2, Price: 10}))
	assert.Equal(t, Flat, l.Position())
	assert.Zero(t, l.Units())
}

func TestLedger_ConcurrentReads(t *testing.T) {
	l := newLedger(t, LongShort)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if i%2 == 0 {
					_ = l.ApplyFill(Fill{Side: Buy, Quantity: 1, Price: 10})
				} else {
					_ = l.NetWealth(10)
					_ = l.State()
				}
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 400, l.Trades())
	assert.InDelta(t, 10000.0, l.NetWealth(10), 1e-6)
}

func TestSizer_Units(t *testing.T) {
	assert.Equal(t, 99.0, Sizer{}.Units(10000, 100.5))
	assert.Equal(t, 98.5074, Sizer{Precision: 4, Reserve: 100}.Units(10000, 100.5))
	assert.Zero(t, Sizer{Reserve: 100}.Units(50, 10))
	assert.Zero(t, Sizer{}.Units(100, 0))
	assert.Zero(t, Sizer{}.Units(5, 10))
	assert.Equal(t, 1.2345, Sizer{Precision: 4}.Round(1.23459))
}

func TestParseHelpers(t *testing.T) {
	m, ok := ParseMode("long-short")
	assert.True(t, ok)
	assert.Equal(t, LongShort, m)
	_, ok = ParseMode("hedge")
	assert.False(t, ok)
	s, ok := ParseSide("SELL")
	assert.True(t, ok)
	assert.Equal(t, Sell, s)
}
