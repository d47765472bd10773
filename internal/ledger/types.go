package ledger

import (
	"strings"
	"time"
)

// Position 由 units 的符号推导，不单独存储。
type Position int

const (
	Flat Position = iota
	Long
	Short
)

func (p Position) String() string {
	switch p {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return "flat"
	}
}

type Side int

const (
	Buy Side = iota + 1
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// ParseSide 接受 buy/sell（大小写不敏感）。
func ParseSide(s string) (Side, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy":
		return Buy, true
	case "sell":
		return Sell, true
	default:
		return 0, false
	}
}

// Mode 决定是否允许负的 units。
type Mode int

const (
	LongOnly Mode = iota
	LongShort
)

func (m Mode) String() string {
	if m == LongShort {
		return "long_short"
	}
	return "long_only"
}

func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "long_only", "long-only", "longonly":
		return LongOnly, true
	case "long_short", "long-short", "longshort":
		return LongShort, true
	default:
		return LongOnly, false
	}
}

// Fill 是一笔已成交的记录。
type Fill struct {
	Time             time.Time `json:"time"`
	Side             Side      `json:"side"`
	Quantity         float64   `json:"quantity"`
	Price            float64   `json:"price"`
	FixedCost        float64   `json:"fixed_cost"`
	ProportionalRate float64   `json:"proportional_rate"`
	Reason           string    `json:"reason,omitempty"`
	OrderID          string    `json:"order_id,omitempty"`
}

// Notional 不含成本的成交额。
func (f Fill) Notional() float64 { return f.Quantity * f.Price }

// Cost 本笔成交的总交易成本。
func (f Fill) Cost() float64 { return f.Quantity*f.Price*f.ProportionalRate + f.FixedCost }

// CashDelta 本笔成交对现金的影响（买入为负）。
func (f Fill) CashDelta() float64 {
	switch f.Side {
	case Buy:
		return -(f.Quantity*f.Price*(1+f.ProportionalRate) + f.FixedCost)
	case Sell:
		return f.Quantity*f.Price*(1-f.ProportionalRate) - f.FixedCost
	default:
		return 0
	}
}

// UnitsDelta 本笔成交对持仓数量的影响。
func (f Fill) UnitsDelta() float64 {
	if f.Side == Sell {
		return -f.Quantity
	}
	return f.Quantity
}

// State 是账本快照。
type State struct {
	Cash     float64  `json:"cash"`
	Units    float64  `json:"units"`
	Position Position `json:"position"`
	Trades   int      `json:"trades"`
}
