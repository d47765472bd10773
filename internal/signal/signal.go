package signal

import (
	"fmt"
	"strings"
	"time"

	"crossbot/internal/market"
)

// Signal 是方向建议。
type Signal int

const (
	Insufficient Signal = iota
	Hold
	Long
	Short
)

func (s Signal) String() string {
	switch s {
	case Hold:
		return "hold"
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return "insufficient"
	}
}

// History 是已收盘 bar 的序列（按时间升序）以及它们的周期，用于判断是否连续。
type History struct {
	Bars     []market.Bar
	Interval time.Duration
}

// Tail 返回最后 n 根 bar；若不足 n 根或其中存在缺口，ok=false。
func (h History) Tail(n int) ([]market.Bar, bool) {
	if n <= 0 || len(h.Bars) < n {
		return nil, false
	}
	tail := h.Bars[len(h.Bars)-n:]
	for i := 1; i < len(tail); i++ {
		if !market.Adjacent(tail[i-1], tail[i], h.Interval) {
			return nil, false
		}
	}
	return tail, true
}

// Generator 为纯函数式信号源：相同的 History 必须得到相同的 Signal。
type Generator interface {
	Signal(h History) Signal
	// Lookback 是产生首个信号所需的最少 bar 数。
	Lookback() int
	Name() string
}

// Evaluate 将 Insufficient 转换为 *InsufficientDataError，供需要错误语义的调用方使用。
func Evaluate(g Generator, h History) (Signal, error) {
	sig := g.Signal(h)
	if sig == Insufficient {
		return sig, &InsufficientDataError{Need: g.Lookback(), Have: len(h.Bars)}
	}
	return sig, nil
}

const (
	KindSMA      = "sma"
	KindMomentum = "momentum"
)

// Params 为配置层传入的策略参数。
type Params struct {
	Kind   string `json:"kind" yaml:"kind" mapstructure:"kind"`
	Short  int    `json:"short,omitempty" yaml:"short,omitempty" mapstructure:"short"`
	Long   int    `json:"long,omitempty" yaml:"long,omitempty" mapstructure:"long"`
	Window int    `json:"window,omitempty" yaml:"window,omitempty" mapstructure:"window"`
}

// New 按 Kind 构造信号源。
func New(p Params) (Generator, error) {
	switch strings.ToLower(strings.TrimSpace(p.Kind)) {
	case KindSMA, "sma_crossover":
		return NewSMACrossover(p.Short, p.Long)
	case KindMomentum, "mom":
		return NewMomentum(p.Window)
	default:
		return nil, &InvalidParameterError{Param: "kind", Reason: fmt.Sprintf("unknown strategy %q", p.Kind)}
	}
}
