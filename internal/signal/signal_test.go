package signal

import (
	"math"
	"testing"
	"time"

	"crossbot/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)

func history(closes ...float64) History {
	bars := make([]market.Bar, len(closes))
	for i, c := range closes {
		bars[i] = market.Bar{Time: t0.Add(time.Duration(i) * time.Hour), Close: c}
	}
	return History{Bars: bars, Interval: time.Hour}
}

func TestNewSMACrossover_InvalidParameters(t *testing.T) {
	cases := []struct{ short, long int }{
		{0, 5},
		{-1, 5},
		{5, 5},
		{10, 5},
	}
	for _, tc := range cases {
		g, err := NewSMACrossover(tc.short, tc.long)
		assert.Nil(t, g)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidParameter)
	}
}

func TestNewMomentum_InvalidWindow(t *testing.T) {
	_, err := NewMomentum(0)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestSMACrossover_Signals(t *testing.T) {
	g, err := NewSMACrossover(2, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, g.Lookback())

	assert.Equal(t, Insufficient, g.Signal(history(1, 2, 3)))
	assert.Equal(t, Long, g.Signal(history(1, 2, 3, 4)))
	assert.Equal(t, Short, g.Signal(history(4, 3, 2, 1)))
	assert.Equal(t, Hold, g.Signal(history(5, 5, 5, 5)))
	// 只看最后 long 根
	assert.Equal(t, Short, g.Signal(history(1, 2, 3, 4, 10, 10, 9, 8)))
}

func TestSMACrossover_GapMeansInsufficient(t *testing.T) {
	g, err := NewSMACrossover(2, 3)
	require.NoError(t, err)
	h := history(1, 2, 3, 4)
	h.Bars[3].Time = h.Bars[3].Time.Add(2 * time.Hour)
	assert.Equal(t, Insufficient, g.Signal(h))

	// 缺口在窗口之外不影响
	h = history(1, 2, 3, 4, 5)
	for i := 1; i < len(h.Bars); i++ {
		h.Bars[i].Time = h.Bars[i].Time.Add(time.Hour)
	}
	assert.Equal(t, Long, g.Signal(h))
}

func TestSMACrossover_Deterministic(t *testing.T) {
	g, err := NewSMACrossover(3, 7)
	require.NoError(t, err)
	closes := make([]float64, 50)
	for i := range closes {
		closes[i] = 100 + 10*math.Sin(float64(i)/3)
	}
	h := history(closes...)
	first := g.Signal(h)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, g.Signal(h))
	}
}

func TestMomentum_Signals(t *testing.T) {
	g, err := NewMomentum(3)
	require.NoError(t, err)
	assert.Equal(t, 4, g.Lookback())

	assert.Equal(t, Insufficient, g.Signal(history(1, 2, 3)))
	assert.Equal(t, Long, g.Signal(history(1, 2, 3, 4)))
	assert.Equal(t, Short, g.Signal(history(4, 3, 2, 1)))
	assert.Equal(t, Hold, g.Signal(history(7, 7, 7, 7)))
	// 只看最后 w 个收益
	assert.Equal(t, Short, g.Signal(history(1, 50, 40, 30, 20)))
}

func TestMomentum_GapMeansInsufficient(t *testing.T) {
	g, err := NewMomentum(2)
	require.NoError(t, err)
	h := history(1, 2, 3)
	h.Bars[1].Time = h.Bars[1].Time.Add(30 * time.Minute)
	assert.Equal(t, Insufficient, g.Signal(h))
}

func TestEvaluate_Insufficient(t *testing.T) {
	g, err := NewMomentum(5)
	require.NoError(t, err)
	sig, err := Evaluate(g, history(1, 2))
	assert.Equal(t, Insufficient, sig)
	assert.ErrorIs(t, err, ErrInsufficientData)
	var ide *InsufficientDataError
	require.ErrorAs(t, err, &ide)
	assert.Equal(t, 6, ide.Need)
	assert.Equal(t, 2, ide.Have)

	sig, err = Evaluate(g, history(1, 2, 3, 4, 5, 6))
	require.NoError(t, err)
	assert.Equal(t, Long, sig)
}

func TestNew_Factory(t *testing.T) {
	g, err := New(Params{Kind: "SMA", Short: 3, Long: 9})
	require.NoError(t, err)
	assert.Equal(t, "sma(3,9)", g.Name())

	g, err = New(Params{Kind: "momentum", Window: 4})
	require.NoError(t, err)
	assert.Equal(t, "momentum(4)", g.Name())

	_, err = New(Params{Kind: "rsi"})
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestSignal_String(t *testing.T) {
	assert.Equal(t, "long", Long.String())
	assert.Equal(t, "short", Short.String())
	assert.Equal(t, "hold", Hold.String())
	assert.Equal(t, "insufficient", Insufficient.String())
}
