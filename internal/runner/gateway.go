package runner

import (
	"context"
	"time"

	"crossbot/internal/ledger"
)

// FillConfirmation 是交易所返回的成交回报。Fee 以计价资产计。
type FillConfirmation struct {
	OrderID  string
	Side     ledger.Side
	Quantity float64
	Price    float64
	Fee      float64
	Time     time.Time
}

// Fill 将回报转换为账本成交；手续费作为固定成本计入。
func (c FillConfirmation) Fill(o Order) ledger.Fill {
	ts := c.Time
	if ts.IsZero() {
		ts = o.Time
	}
	side := c.Side
	if side == 0 {
		side = o.Side
	}
	return ledger.Fill{
		Time:      ts,
		Side:      side,
		Quantity:  c.Quantity,
		Price:     c.Price,
		FixedCost: c.Fee,
		Reason:    o.Reason,
		OrderID:   c.OrderID,
	}
}

// OrderGateway 是交易所下单与余额查询接口。
type OrderGateway interface {
	PlaceMarketOrder(ctx context.Context, side ledger.Side, quantity float64) (FillConfirmation, error)
	AvailableBalance(ctx context.Context, asset string) (float64, error)
}
