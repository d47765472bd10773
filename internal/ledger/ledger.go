package ledger

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Epsilon 以下的持仓视为 0，避免浮点残留导致的伪持仓。
const Epsilon = 1e-9

type Config struct {
	InitialCash float64
	Mode        Mode
	// CheckSolvency 开启后买入导致现金为负会被拒绝。
	CheckSolvency bool
}

// Ledger 记录现金、持仓数量与成交次数；所有方法并发安全。
type Ledger struct {
	mu sync.RWMutex

	initial  float64
	mode     Mode
	solvency bool

	cash   float64
	units  float64
	trades int
	fills  []Fill
}

func New(cfg Config) (*Ledger, error) {
	if math.IsNaN(cfg.InitialCash) || math.IsInf(cfg.InitialCash, 0) || cfg.InitialCash <= 0 {
		return nil, fmt.Errorf("initial cash 必须为正数: %v", cfg.InitialCash)
	}
	return &Ledger{
		initial:  cfg.InitialCash,
		mode:     cfg.Mode,
		solvency: cfg.CheckSolvency,
		cash:     cfg.InitialCash,
	}, nil
}

func (l *Ledger) Mode() Mode { return l.mode }

func (l *Ledger) InitialCash() float64 { return l.initial }

func positionOf(units float64) Position {
	switch {
	case units > 0:
		return Long
	case units < 0:
		return Short
	default:
		return Flat
	}
}

func snap(units float64) float64 {
	if math.Abs(units) < Epsilon {
		return 0
	}
	return units
}

func validFill(f Fill) string {
	switch {
	case f.Side != Buy && f.Side != Sell:
		return "unknown side"
	case math.IsNaN(f.Quantity) || math.IsInf(f.Quantity, 0) || f.Quantity <= 0:
		return "quantity must be positive"
	case math.IsNaN(f.Price) || math.IsInf(f.Price, 0) || f.Price <= 0:
		return "price must be positive"
	case f.FixedCost < 0 || math.IsNaN(f.FixedCost):
		return "fixed cost must be non-negative"
	case f.ProportionalRate < 0 || math.IsNaN(f.ProportionalRate):
		return "proportional rate must be non-negative"
	}
	return ""
}

// ApplyFill 原子地更新现金与持仓；被拒绝时账本不变。
func (l *Ledger) ApplyFill(f Fill) error {
	if reason := validFill(f); reason != "" {
		return &LedgerError{Fill: f, Reason: reason}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.applyLocked(f, l.solvency)
}

func (l *Ledger) applyLocked(f Fill, solvency bool) error {
	units := snap(l.units + f.UnitsDelta())
	if l.mode == LongOnly && units < 0 {
		return &LedgerError{Fill: f, Reason: fmt.Sprintf("long-only ledger cannot hold %.8g units", units)}
	}
	cash := l.cash + f.CashDelta()
	if solvency && f.Side == Buy && cash < 0 {
		return &InsufficientFundsError{Need: -f.CashDelta(), Available: l.cash}
	}
	l.cash = cash
	l.units = units
	l.trades++
	l.fills = append(l.fills, f)
	return nil
}

// CloseOut 以 price 无成本平掉全部持仓；空仓时不做任何事。
func (l *Ledger) CloseOut(ts time.Time, price float64) (Fill, bool, error) {
	return l.CloseOutWithReason(ts, price, "close_out")
}

// CloseOutWithReason 同 CloseOut，成交记录使用指定 reason（如交易所精度以下的零头）。
func (l *Ledger) CloseOutWithReason(ts time.Time, price float64, reason string) (Fill, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.units == 0 {
		return Fill{}, false, nil
	}
	f := Fill{Time: ts, Quantity: math.Abs(l.units), Price: price, Reason: reason}
	if l.units > 0 {
		f.Side = Sell
	} else {
		f.Side = Buy
	}
	if reason := validFill(f); reason != "" {
		return Fill{}, false, &LedgerError{Fill: f, Reason: reason}
	}
	// 平仓不受资金检查约束
	if err := l.applyLocked(f, false); err != nil {
		return Fill{}, false, err
	}
	return f, true, nil
}

// NetWealth 按 price 估值：cash + units*price。
func (l *Ledger) NetWealth(price float64) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cash + l.units*price
}

func (l *Ledger) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return State{Cash: l.cash, Units: l.units, Position: positionOf(l.units), Trades: l.trades}
}

func (l *Ledger) Position() Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return positionOf(l.units)
}

func (l *Ledger) Cash() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cash
}

func (l *Ledger) Units() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.units
}

func (l *Ledger) Trades() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.trades
}

// Fills 返回成交记录副本。
func (l *Ledger) Fills() []Fill {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Fill(nil), l.fills...)
}
