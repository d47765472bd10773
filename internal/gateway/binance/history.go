package binance

import (
	"context"
	"fmt"
	"time"

	"crossbot/internal/logger"
	"crossbot/internal/market"
)

// KlineSource 按页拉取历史 K 线，实现 market.HistoricalSource。
type KlineSource struct {
	client   *Client
	interval time.Duration
	now      func() time.Time
}

func NewKlineSource(c *Client, interval time.Duration) (*KlineSource, error) {
	if c == nil {
		return nil, fmt.Errorf("binance client 不能为空")
	}
	if _, ok := market.ExchangeInterval(interval); !ok {
		return nil, fmt.Errorf("binance 不支持的周期: %s", interval)
	}
	return &KlineSource{client: c, interval: interval, now: time.Now}, nil
}

func (s *KlineSource) Name() string { return "binance" }

// Bars 返回 [start, end) 内已收盘的 K 线，以开盘时间作为 bar 时间。
func (s *KlineSource) Bars(ctx context.Context, symbol string, start, end time.Time) ([]market.Bar, error) {
	sym := NormalizeSymbol(symbol)
	if sym == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if !end.After(start) {
		return nil, fmt.Errorf("end 必须晚于 start")
	}
	iv, _ := market.ExchangeInterval(s.interval)
	limit := s.client.cfg.PageLimit
	step := s.interval.Milliseconds()
	cursor := start.UnixMilli()
	endMs := end.UnixMilli()
	nowMs := s.now().UnixMilli()

	var out []market.Bar
	for page := 0; cursor < endMs; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		kls, err := s.client.client.NewKlinesService().
			Symbol(sym).
			Interval(iv).
			StartTime(cursor).
			EndTime(endMs - 1).
			Limit(limit).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("拉取 %s %s klines 失败 (page %d): %w", sym, iv, page, err)
		}
		if len(kls) == 0 {
			break
		}
		last := cursor
		for _, kl := range kls {
			if kl == nil {
				continue
			}
			last = kl.OpenTime
			if kl.OpenTime < cursor || kl.OpenTime >= endMs || kl.CloseTime >= nowMs {
				continue
			}
			price := parseFloat(kl.Close)
			if price <= 0 {
				continue
			}
			out = append(out, market.Bar{Time: time.UnixMilli(kl.OpenTime).UTC(), Close: price})
		}
		logger.Debugf("[binance] %s %s page %d: %d 条", sym, iv, page, len(kls))
		if len(kls) < limit {
			break
		}
		cursor = last + step
	}
	logger.Infof("[binance] %s %s 共拉取 %d 根 K 线", sym, iv, len(out))
	return out, nil
}
