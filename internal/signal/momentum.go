package signal

import (
	"fmt"

	"crossbot/internal/market"
)

// Momentum 取最近 w 个对数收益均值的符号。
type Momentum struct {
	window int
}

func NewMomentum(window int) (*Momentum, error) {
	if window < 1 {
		return nil, &InvalidParameterError{Param: "window", Reason: fmt.Sprintf("must be >= 1, got %d", window)}
	}
	return &Momentum{window: window}, nil
}

func (g *Momentum) Name() string { return fmt.Sprintf("momentum(%d)", g.window) }

func (g *Momentum) Lookback() int { return g.window + 1 }

func (g *Momentum) Window() int { return g.window }

func (g *Momentum) Signal(h History) Signal {
	tail, ok := h.Tail(g.window + 1)
	if !ok {
		return Insufficient
	}
	rets := market.LogReturns(tail, h.Interval)
	values := make([]float64, 0, len(rets))
	for _, r := range rets {
		if !r.Valid {
			return Insufficient
		}
		values = append(values, r.Value)
	}
	mean := lastMean(values, g.window)
	switch {
	case mean > 0:
		return Long
	case mean < 0:
		return Short
	default:
		return Hold
	}
}
