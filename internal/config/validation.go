package config

import (
	"errors"
	"fmt"
	"strings"

	"crossbot/internal/ledger"
	"crossbot/internal/market"
	"crossbot/internal/signal"
)

// validate 对配置进行基础校验，所有问题合并为一个错误返回。
func validate(c *Config) error {
	return errors.Join(
		c.Strategy.validate(),
		c.Ledger.validate(),
		c.Backtest.validate(),
		c.Live.validate(),
		c.Binance.validate(),
		c.Telemetry.validate(),
		c.HTTP.validate(),
		c.Optimize.validate(),
	)
}

func (s *StrategyConfig) validate() error {
	if _, err := signal.New(s.Params()); err != nil {
		return fmt.Errorf("strategy: %w", err)
	}
	return nil
}

func (l *LedgerConfig) validate() error {
	var errs []error
	if l.InitialCash <= 0 {
		errs = append(errs, fmt.Errorf("ledger.initial_cash must be > 0"))
	}
	if _, ok := ledger.ParseMode(l.Mode); !ok {
		errs = append(errs, fmt.Errorf("ledger.mode must be long_only or long_short, got %q", l.Mode))
	}
	if l.FixedCost < 0 {
		errs = append(errs, fmt.Errorf("ledger.fixed_cost must be >= 0"))
	}
	if l.ProportionalRate < 0 || l.ProportionalRate >= 1 {
		errs = append(errs, fmt.Errorf("ledger.proportional_rate must be in [0, 1)"))
	}
	if l.Reserve < 0 {
		errs = append(errs, fmt.Errorf("ledger.reserve must be >= 0"))
	}
	if l.Precision < 0 || l.Precision > 12 {
		errs = append(errs, fmt.Errorf("ledger.precision must be in [0, 12]"))
	}
	return errors.Join(errs...)
}

func (b *BacktestConfig) validate() error {
	var errs []error
	if b.Symbol == "" {
		errs = append(errs, fmt.Errorf("backtest.symbol is required"))
	}
	if d, err := market.ParseInterval(b.Interval); err != nil {
		errs = append(errs, fmt.Errorf("backtest.interval: %w", err))
	} else if d <= 0 {
		errs = append(errs, fmt.Errorf("backtest.interval must be a fixed bar interval"))
	}
	switch b.Source {
	case "binance", "cache":
	case "csv":
		if strings.TrimSpace(b.CSVPath) == "" {
			errs = append(errs, fmt.Errorf("backtest.csv_path is required when source=csv"))
		}
	default:
		errs = append(errs, fmt.Errorf("backtest.source must be binance, cache or csv, got %q", b.Source))
	}
	if _, _, err := b.Range(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (l *LiveConfig) validate() error {
	var errs []error
	if d, err := market.ParseInterval(l.Interval); err != nil {
		errs = append(errs, fmt.Errorf("live.interval: %w", err))
	} else if d <= 0 {
		errs = append(errs, fmt.Errorf("live.interval must be a fixed bar interval"))
	}
	if l.Budget < 0 {
		errs = append(errs, fmt.Errorf("live.budget must be >= 0"))
	}
	if l.Capacity < 0 {
		errs = append(errs, fmt.Errorf("live.capacity must be >= 0"))
	}
	if l.Reserve < 0 {
		errs = append(errs, fmt.Errorf("live.reserve must be >= 0"))
	}
	return errors.Join(errs...)
}

func (b *BinanceConfig) validate() error {
	if b.PageLimit < 0 || b.PageLimit > 1000 {
		return fmt.Errorf("binance.page_limit must be in [0, 1000]")
	}
	if b.MaxReconnects < 0 {
		return fmt.Errorf("binance.max_reconnects must be >= 0")
	}
	if b.ProxyEnabled && strings.TrimSpace(b.RESTProxyURL) == "" && strings.TrimSpace(b.WSProxyURL) == "" {
		return fmt.Errorf("binance.proxy_enabled requires rest_proxy_url or ws_proxy_url")
	}
	return nil
}

func (t *TelemetryConfig) validate() error {
	tg := t.Telegram
	if tg.Enabled && (strings.TrimSpace(tg.BotToken) == "" || strings.TrimSpace(tg.ChatID) == "") {
		return fmt.Errorf("telemetry.telegram.enabled requires bot_token and chat_id")
	}
	return nil
}

func (h *HTTPConfig) validate() error {
	if h.MaxConcurrentRuns <= 0 {
		return fmt.Errorf("http.max_concurrent_runs must be > 0")
	}
	return nil
}

func (o *OptimizeConfig) validate() error {
	switch o.Kind {
	case signal.KindSMA, "sma_crossover":
		if len(o.Short.Values()) == 0 || len(o.Long.Values()) == 0 {
			return fmt.Errorf("optimize.short/long ranges are empty")
		}
	case signal.KindMomentum, "mom":
		if len(o.Window.Values()) == 0 {
			return fmt.Errorf("optimize.window range is empty")
		}
	default:
		return fmt.Errorf("optimize.kind must be sma or momentum, got %q", o.Kind)
	}
	if o.Workers < 0 {
		return fmt.Errorf("optimize.workers must be >= 0")
	}
	return nil
}

// Validate 在命令行覆盖配置后重新校验。
func (c *Config) Validate() error {
	return validate(c)
}
