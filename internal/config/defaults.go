package config

import (
	"strings"
	"time"

	"crossbot/internal/optimize"
	"crossbot/internal/pkg/symbol"
)

// 默认值常量
const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAppLogFormat      = "text"
	defaultStrategyKind      = "sma"
	defaultSMAShort          = 42
	defaultSMALong           = 252
	defaultMomentumWindow    = 3
	defaultInitialCash       = 10000
	defaultLedgerMode        = "long_only"
	defaultPrecision         = 4
	defaultSymbol            = "BTCUSDT"
	defaultInterval          = "1m"
	defaultBacktestSource    = "binance"
	defaultOrderTimeout      = 10 * time.Second
	defaultCloseTimeout      = 30 * time.Second
	defaultLiveReserve       = 100
	defaultQuoteAsset        = "USDT"
	defaultDataDir           = "data/candles"
	defaultResultsPath       = "data/results.db"
	defaultTelemetryBuffer   = 256
	defaultHTTPAddr          = ":9991"
	defaultMaxConcurrentRuns = 2
	defaultReportDir         = "data/reports"
)

// Default 返回只包含默认值的配置（配置文件缺失时使用）。
func Default() *Config {
	var cfg Config
	cfg.applyDefaults(nil)
	return &cfg
}

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Strategy.applyDefaults(keys)
	c.Ledger.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
	c.Live.applyDefaults(keys, c.Backtest)
	c.Store.applyDefaults(keys)
	c.Telemetry.applyDefaults(keys)
	c.HTTP.applyDefaults(keys)
	c.Optimize.applyDefaults(keys)
	c.Report.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
	)
}

func (s *StrategyConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("strategy.kind", &s.Kind, defaultStrategyKind),
		intFieldDefault("strategy.short", &s.Short, defaultSMAShort),
		intFieldDefault("strategy.long", &s.Long, defaultSMALong),
		intFieldDefault("strategy.window", &s.Window, defaultMomentumWindow),
	)
	s.Kind = strings.ToLower(strings.TrimSpace(s.Kind))
}

func (l *LedgerConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "ledger.initial_cash",
			need:  func() bool { return l.InitialCash == 0 },
			apply: func() { l.InitialCash = defaultInitialCash },
		},
		stringFieldDefault("ledger.mode", &l.Mode, defaultLedgerMode),
		intFieldDefault("ledger.precision", &l.Precision, defaultPrecision),
	)
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("backtest.symbol", &b.Symbol, defaultSymbol),
		stringFieldDefault("backtest.interval", &b.Interval, defaultInterval),
		stringFieldDefault("backtest.source", &b.Source, defaultBacktestSource),
	)
	b.Symbol = symbol.ToBinance(b.Symbol)
	b.Source = strings.ToLower(strings.TrimSpace(b.Source))
}

// live 未配置 symbol/interval 时沿用 backtest 的设置；quote/base 由 symbol 推导。
func (l *LiveConfig) applyDefaults(keys keySet, bt BacktestConfig) {
	applyFieldDefaults(keys,
		stringFieldDefault("live.symbol", &l.Symbol, bt.Symbol),
		stringFieldDefault("live.interval", &l.Interval, bt.Interval),
		durationFieldDefault("live.order_timeout", &l.OrderTimeout, defaultOrderTimeout),
		durationFieldDefault("live.close_timeout", &l.CloseTimeout, defaultCloseTimeout),
		floatFieldDefault("live.reserve", &l.Reserve, defaultLiveReserve),
	)
	l.Symbol = symbol.ToBinance(l.Symbol)
	quote := defaultQuoteAsset
	if parsed := symbol.Parse(l.Symbol); parsed.Quote != "" {
		quote = parsed.Quote
	}
	applyFieldDefaults(keys, stringFieldDefault("live.quote_asset", &l.QuoteAsset, quote))
	l.QuoteAsset = strings.ToUpper(strings.TrimSpace(l.QuoteAsset))
	if strings.TrimSpace(l.BaseAsset) == "" {
		l.BaseAsset = symbol.ParseWithQuote(l.Symbol, l.QuoteAsset).Base
	}
	l.BaseAsset = strings.ToUpper(strings.TrimSpace(l.BaseAsset))
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("store.data_dir", &s.DataDir, defaultDataDir),
		stringFieldDefault("store.results_path", &s.ResultsPath, defaultResultsPath),
		boolFieldDefault("store.cache", &s.Cache, true),
	)
}

func (t *TelemetryConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("telemetry.buffer", &t.Buffer, defaultTelemetryBuffer),
		boolFieldDefault("telemetry.log_sink", &t.LogSink, true),
	)
}

func (h *HTTPConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("http.addr", &h.Addr, defaultHTTPAddr),
		intFieldDefault("http.max_concurrent_runs", &h.MaxConcurrentRuns, defaultMaxConcurrentRuns),
	)
}

func (o *OptimizeConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("optimize.kind", &o.Kind, defaultStrategyKind),
		rangeFieldDefault("optimize.short", &o.Short, optimize.Range{Start: 20, End: 61, Step: 4}),
		rangeFieldDefault("optimize.long", &o.Long, optimize.Range{Start: 180, End: 281, Step: 10}),
		rangeFieldDefault("optimize.window", &o.Window, optimize.Range{Start: 1, End: 11, Step: 1}),
	)
	o.Kind = strings.ToLower(strings.TrimSpace(o.Kind))
}

func (r *ReportConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("report.dir", &r.Dir, defaultReportDir),
	)
}

// Helper functions

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && *target <= 0 },
		apply: func() { *target = def },
	}
}

func durationFieldDefault(key string, target *time.Duration, def time.Duration) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && *target <= 0 },
		apply: func() { *target = def },
	}
}

// float 字段：0 是合法值，所以只看是否显式设置。
func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil },
		apply: func() { *target = def },
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

// range 字段：只要子键都未设置就整体使用默认值。
func rangeFieldDefault(key string, target *optimize.Range, def optimize.Range) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && target.End <= target.Start },
		apply: func() { *target = def },
	}
}
