package binance

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"crossbot/internal/ledger"
	"crossbot/internal/logger"
	"crossbot/internal/runner"

	gobinance "github.com/adshao/go-binance/v2"
)

// OrderGateway 现货市价单实现 runner.OrderGateway。
type OrderGateway struct {
	client *Client
	symbol string
	base   string
	quote  string
}

func NewOrderGateway(c *Client, symbol, baseAsset, quoteAsset string) (*OrderGateway, error) {
	if c == nil {
		return nil, fmt.Errorf("binance client 不能为空")
	}
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return nil, fmt.Errorf("实盘下单需要 api key/secret")
	}
	sym := NormalizeSymbol(symbol)
	if sym == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	return &OrderGateway{
		client: c,
		symbol: sym,
		base:   strings.ToUpper(strings.TrimSpace(baseAsset)),
		quote:  strings.ToUpper(strings.TrimSpace(quoteAsset)),
	}, nil
}

func (g *OrderGateway) PlaceMarketOrder(ctx context.Context, side ledger.Side, quantity float64) (runner.FillConfirmation, error) {
	var st gobinance.SideType
	switch side {
	case ledger.Buy:
		st = gobinance.SideTypeBuy
	case ledger.Sell:
		st = gobinance.SideTypeSell
	default:
		return runner.FillConfirmation{}, fmt.Errorf("unknown side %v", side)
	}
	resp, err := g.client.client.NewCreateOrderService().
		Symbol(g.symbol).
		Side(st).
		Type(gobinance.OrderTypeMarket).
		Quantity(formatQuantity(quantity)).
		Do(ctx)
	if err != nil {
		return runner.FillConfirmation{}, err
	}
	conf := confirmationFromResponse(resp, side, g.base, g.quote)
	logger.Infof("[binance] %s %s %s 成交 qty=%.8f avg=%.8f fee=%.8f", g.symbol, side, conf.OrderID, conf.Quantity, conf.Price, conf.Fee)
	return conf, nil
}

// confirmationFromResponse 汇总成交：均价 = 累计成交额 / 成交量；手续费折算为计价资产。
func confirmationFromResponse(resp *gobinance.CreateOrderResponse, side ledger.Side, base, quote string) runner.FillConfirmation {
	conf := runner.FillConfirmation{Side: side}
	if resp == nil {
		return conf
	}
	conf.OrderID = strconv.FormatInt(resp.OrderID, 10)
	if resp.TransactTime > 0 {
		conf.Time = time.UnixMilli(resp.TransactTime).UTC()
	}
	qty := parseFloat(resp.ExecutedQuantity)
	quoteQty := parseFloat(resp.CummulativeQuoteQuantity)
	var fillQty, fillNotional float64
	for _, f := range resp.Fills {
		if f == nil {
			continue
		}
		q, p := parseFloat(f.Quantity), parseFloat(f.Price)
		fillQty += q
		fillNotional += q * p
	}
	if qty <= 0 {
		qty = fillQty
	}
	if quoteQty <= 0 {
		quoteQty = fillNotional
	}
	var baseFee float64
	for _, f := range resp.Fills {
		if f == nil {
			continue
		}
		commission := parseFloat(f.Commission)
		switch strings.ToUpper(f.CommissionAsset) {
		case quote:
			conf.Fee += commission
		case base:
			baseFee += commission
		default:
			if commission > 0 {
				logger.Debugf("[binance] 忽略 %s 计价的手续费 %.8f", f.CommissionAsset, commission)
			}
		}
	}
	conf.Quantity = qty
	if side == ledger.Buy && baseFee > 0 && baseFee < qty {
		// 买入手续费从到账数量中扣除：账本记录净数量与等效成交价
		conf.Quantity = qty - baseFee
	} else if qty > 0 && baseFee > 0 {
		conf.Fee += baseFee * quoteQty / qty
	}
	if conf.Quantity > 0 {
		conf.Price = quoteQty / conf.Quantity
	}
	return conf
}

// AvailableBalance 返回钱包中 asset 的可用余额。
func (g *OrderGateway) AvailableBalance(ctx context.Context, asset string) (float64, error) {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if asset == "" {
		asset = g.quote
	}
	acct, err := g.client.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, err
	}
	for _, b := range acct.Balances {
		if strings.EqualFold(b.Asset, asset) {
			return parseFloat(b.Free), nil
		}
	}
	return 0, nil
}
