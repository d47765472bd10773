package config

import (
	"fmt"
	"strings"
	"time"

	"crossbot/internal/gateway/binance"
	"crossbot/internal/ledger"
	"crossbot/internal/market"
	"crossbot/internal/signal"
)

func (s StrategyConfig) Params() signal.Params {
	return signal.Params{Kind: s.Kind, Short: s.Short, Long: s.Long, Window: s.Window}
}

func (l LedgerConfig) ModeValue() ledger.Mode {
	m, _ := ledger.ParseMode(l.Mode)
	return m
}

func (l LedgerConfig) LedgerConfig() ledger.Config {
	return ledger.Config{InitialCash: l.InitialCash, Mode: l.ModeValue(), CheckSolvency: l.CheckSolvency}
}

func (l LedgerConfig) Sizer() ledger.Sizer {
	return ledger.Sizer{Precision: int32(l.Precision), Reserve: l.Reserve}
}

// LiveSizer 沿用 ledger 精度，reserve 取 live.reserve。
func (c *Config) LiveSizer() ledger.Sizer {
	s := c.Ledger.Sizer()
	s.Reserve = c.Live.Reserve
	return s
}

// IntervalDuration 已在 validate 中校验，这里忽略错误。
func (b BacktestConfig) IntervalDuration() time.Duration {
	d, _ := market.ParseInterval(b.Interval)
	return d
}

// Range 解析 start/end；end 为空时取当前时间。
func (b BacktestConfig) Range() (time.Time, time.Time, error) {
	var start, end time.Time
	if strings.TrimSpace(b.Start) != "" {
		t, err := market.ParseTimestamp(b.Start)
		if err != nil {
			return start, end, fmt.Errorf("backtest.start: %w", err)
		}
		start = t
	}
	if strings.TrimSpace(b.End) != "" {
		t, err := market.ParseTimestamp(b.End)
		if err != nil {
			return start, end, fmt.Errorf("backtest.end: %w", err)
		}
		end = t
	} else {
		end = time.Now().UTC()
	}
	if !start.IsZero() && !end.After(start) {
		return start, end, fmt.Errorf("backtest.end must be after backtest.start")
	}
	return start, end, nil
}

func (l LiveConfig) IntervalDuration() time.Duration {
	d, _ := market.ParseInterval(l.Interval)
	return d
}

func (b BinanceConfig) ClientConfig() binance.Config {
	return binance.Config{
		APIKey:        b.APIKey,
		APISecret:     b.APISecret,
		Testnet:       b.Testnet,
		RESTBaseURL:   b.RESTBaseURL,
		WSBaseURL:     b.WSBaseURL,
		HTTPTimeout:   b.HTTPTimeout,
		PageLimit:     b.PageLimit,
		MaxReconnects: b.MaxReconnects,
		Buffer:        b.Buffer,
		ProxyEnabled:  b.ProxyEnabled,
		RESTProxyURL:  b.RESTProxyURL,
		WSProxyURL:    b.WSProxyURL,
	}
}
