package signal

import (
	"fmt"

	"crossbot/internal/market"

	talib "github.com/markcheno/go-talib"
)

// SMACrossover 短均线在长均线上方做多，下方做空（只做多模式下即离场），相等保持。
type SMACrossover struct {
	short int
	long  int
}

func NewSMACrossover(short, long int) (*SMACrossover, error) {
	if short < 1 {
		return nil, &InvalidParameterError{Param: "short", Reason: fmt.Sprintf("must be >= 1, got %d", short)}
	}
	if short >= long {
		return nil, &InvalidParameterError{Param: "short", Reason: fmt.Sprintf("short (%d) must be < long (%d)", short, long)}
	}
	return &SMACrossover{short: short, long: long}, nil
}

func (g *SMACrossover) Name() string { return fmt.Sprintf("sma(%d,%d)", g.short, g.long) }

func (g *SMACrossover) Lookback() int { return g.long }

func (g *SMACrossover) Windows() (int, int) { return g.short, g.long }

func (g *SMACrossover) Signal(h History) Signal {
	tail, ok := h.Tail(g.long)
	if !ok {
		return Insufficient
	}
	closes := market.Closes(tail)
	shortMean := lastMean(closes, g.short)
	longMean := lastMean(closes, g.long)
	switch {
	case shortMean > longMean:
		return Long
	case shortMean < longMean:
		return Short
	default:
		return Hold
	}
}

// lastMean 返回最后 period 个值的均值。
func lastMean(values []float64, period int) float64 {
	window := values[len(values)-period:]
	out := talib.Sma(window, period)
	return out[len(out)-1]
}
