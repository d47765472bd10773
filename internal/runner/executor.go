package runner

import (
	"context"
	"fmt"
	"math"
	"time"

	"crossbot/internal/ledger"
	"crossbot/internal/logger"
)

// Order 是尚未执行的下单决策。
type Order struct {
	Time     time.Time
	Side     ledger.Side
	Quantity float64
	Price    float64
	Reason   string
}

// Executor 负责把 Order 变成 Fill 并写入账本；失败时账本保持不变。
type Executor interface {
	Execute(ctx context.Context, l *ledger.Ledger, o Order) (ledger.Fill, error)
	Liquidate(ctx context.Context, l *ledger.Ledger, ts time.Time, price float64) (ledger.Fill, bool, error)
}

// SimExecutor 以参考价成交并计入固定 + 比例成本（回测）。
type SimExecutor struct {
	FixedCost        float64
	ProportionalRate float64
}

func (e SimExecutor) Execute(_ context.Context, l *ledger.Ledger, o Order) (ledger.Fill, error) {
	f := ledger.Fill{
		Time:             o.Time,
		Side:             o.Side,
		Quantity:         o.Quantity,
		Price:            o.Price,
		FixedCost:        e.FixedCost,
		ProportionalRate: e.ProportionalRate,
		Reason:           o.Reason,
	}
	if err := l.ApplyFill(f); err != nil {
		return ledger.Fill{}, err
	}
	return f, nil
}

// Liquidate 无成本平仓，与历史回测脚本的 close_out 一致。
func (e SimExecutor) Liquidate(_ context.Context, l *ledger.Ledger, ts time.Time, price float64) (ledger.Fill, bool, error) {
	return l.CloseOut(ts, price)
}

// GatewayExecutor 通过交易所市价单成交，成交回报确认后才修改账本。
type GatewayExecutor struct {
	Gateway OrderGateway
	Timeout time.Duration
	Sizer   ledger.Sizer
}

func (e GatewayExecutor) place(ctx context.Context, o Order) (FillConfirmation, error) {
	if e.Gateway == nil {
		return FillConfirmation{}, &OrderError{Order: o, Err: fmt.Errorf("order gateway 未配置")}
	}
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}
	conf, err := e.Gateway.PlaceMarketOrder(ctx, o.Side, o.Quantity)
	if err != nil {
		return FillConfirmation{}, &OrderError{Order: o, Err: err}
	}
	if conf.Quantity <= 0 || conf.Price <= 0 {
		return FillConfirmation{}, &OrderError{Order: o, Err: fmt.Errorf("invalid confirmation qty=%v price=%v", conf.Quantity, conf.Price)}
	}
	return conf, nil
}

func (e GatewayExecutor) Execute(ctx context.Context, l *ledger.Ledger, o Order) (ledger.Fill, error) {
	o.Quantity = e.Sizer.Round(o.Quantity)
	if o.Quantity <= 0 {
		return ledger.Fill{}, &OrderError{Order: o, Err: fmt.Errorf("quantity below exchange precision")}
	}
	conf, err := e.place(ctx, o)
	if err != nil {
		return ledger.Fill{}, err
	}
	f := conf.Fill(o)
	if err := l.ApplyFill(f); err != nil {
		return ledger.Fill{}, err
	}
	if closing(o.Reason) {
		if err := e.sweepDust(l, f.Time, f.Price); err != nil {
			return f, err
		}
	}
	return f, nil
}

// Liquidate 只按交易所确认的数量记账；剩余不足精度的零头在本地以 reason=dust 平掉，
// 部分成交留下的可交易数量保留在账本中。
func (e GatewayExecutor) Liquidate(ctx context.Context, l *ledger.Ledger, ts time.Time, price float64) (ledger.Fill, bool, error) {
	units := l.Units()
	if units == 0 {
		return ledger.Fill{}, false, nil
	}
	o := Order{Time: ts, Side: ledger.Sell, Quantity: e.Sizer.Round(math.Abs(units)), Price: price, Reason: "close_out"}
	if units < 0 {
		o.Side = ledger.Buy
	}
	if o.Quantity <= 0 {
		return l.CloseOutWithReason(ts, price, dustReason)
	}
	conf, err := e.place(ctx, o)
	if err != nil {
		return ledger.Fill{}, false, err
	}
	f := conf.Fill(o)
	if err := l.ApplyFill(f); err != nil {
		return ledger.Fill{}, false, err
	}
	if err := e.sweepDust(l, f.Time, f.Price); err != nil {
		return f, true, err
	}
	if rest := l.Units(); rest != 0 {
		logger.Warnf("[runner] 平仓部分成交，剩余 %.8f 未平", rest)
	}
	return f, true, nil
}

const dustReason = "dust"

func closing(reason string) bool {
	switch reason {
	case "close_long", "close_short", "close_out":
		return true
	}
	return false
}

// sweepDust 平仓单成交后，若剩余持仓低于交易所精度则只在本地账本归零。
func (e GatewayExecutor) sweepDust(l *ledger.Ledger, ts time.Time, price float64) error {
	units := l.Units()
	if units == 0 || e.Sizer.Round(math.Abs(units)) > 0 {
		return nil
	}
	_, _, err := l.CloseOutWithReason(ts, price, dustReason)
	return err
}
