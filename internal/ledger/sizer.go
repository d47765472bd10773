package ledger

import (
	"github.com/shopspring/decimal"
)

// Sizer 将可用现金换算为下单数量：(cash - reserve) / price，按 Precision 位小数向下截断。
type Sizer struct {
	Precision int32
	Reserve   float64
}

// Units 返回可买入数量，不足最小精度时为 0。
func (s Sizer) Units(cash, price float64) float64 {
	if price <= 0 {
		return 0
	}
	avail := decimal.NewFromFloat(cash).Sub(decimal.NewFromFloat(s.Reserve))
	if !avail.IsPositive() {
		return 0
	}
	qty := avail.Div(decimal.NewFromFloat(price)).Truncate(s.Precision)
	if !qty.IsPositive() {
		return 0
	}
	return qty.InexactFloat64()
}

// Round 将已有持仓数量截断到交易所精度。
func (s Sizer) Round(units float64) float64 {
	return decimal.NewFromFloat(units).Truncate(s.Precision).InexactFloat64()
}
