package config

import (
	"strings"
	"time"

	"crossbot/internal/optimize"
)

// Config 是 crossbot 的主配置载体。
type Config struct {
	App       AppConfig       `yaml:"app"`
	Strategy  StrategyConfig  `yaml:"strategy"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Backtest  BacktestConfig  `yaml:"backtest"`
	Live      LiveConfig      `yaml:"live"`
	Binance   BinanceConfig   `yaml:"binance"`
	Store     StoreConfig     `yaml:"store"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	HTTP      HTTPConfig      `yaml:"http"`
	Optimize  OptimizeConfig  `yaml:"optimize"`
	Report    ReportConfig    `yaml:"report"`
}

type AppConfig struct {
	Env       string `yaml:"env"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogPath   string `yaml:"log_path"`
}

// StrategyConfig kind=sma 使用 short/long，kind=momentum 使用 window。
type StrategyConfig struct {
	Kind   string `yaml:"kind"`
	Short  int    `yaml:"short"`
	Long   int    `yaml:"long"`
	Window int    `yaml:"window"`
}

type LedgerConfig struct {
	InitialCash      float64 `yaml:"initial_cash"`
	Mode             string  `yaml:"mode"`
	CheckSolvency    bool    `yaml:"check_solvency"`
	FixedCost        float64 `yaml:"fixed_cost"`
	ProportionalRate float64 `yaml:"proportional_rate"`
	// Precision 为下单数量保留的小数位（截断）。
	Precision int `yaml:"precision"`
	// Reserve 为开仓时保留不用的计价资产数量（绝对值）。
	Reserve float64 `yaml:"reserve"`
}

type BacktestConfig struct {
	Symbol   string `yaml:"symbol"`
	Interval string `yaml:"interval"`
	Start    string `yaml:"start"`
	End      string `yaml:"end"`
	// Source: binance / csv / cache
	Source  string `yaml:"source"`
	CSVPath string `yaml:"csv_path"`
}

type LiveConfig struct {
	Symbol       string        `yaml:"symbol"`
	Interval     string        `yaml:"interval"`
	BaseAsset    string        `yaml:"base_asset"`
	QuoteAsset   string        `yaml:"quote_asset"`
	Budget       float64       `yaml:"budget"`
	Reserve      float64       `yaml:"reserve"`
	DryRun       bool          `yaml:"dry_run"`
	OrderTimeout time.Duration `yaml:"order_timeout"`
	CloseTimeout time.Duration `yaml:"close_timeout"`
	Capacity     int           `yaml:"capacity"`
}

type BinanceConfig struct {
	APIKey        string        `yaml:"api_key"`
	APISecret     string        `yaml:"api_secret"`
	Testnet       bool          `yaml:"testnet"`
	RESTBaseURL   string        `yaml:"rest_base_url"`
	WSBaseURL     string        `yaml:"ws_base_url"`
	HTTPTimeout   time.Duration `yaml:"http_timeout"`
	PageLimit     int           `yaml:"page_limit"`
	MaxReconnects int           `yaml:"max_reconnects"`
	Buffer        int           `yaml:"buffer"`
	ProxyEnabled  bool          `yaml:"proxy_enabled"`
	RESTProxyURL  string        `yaml:"rest_proxy_url"`
	WSProxyURL    string        `yaml:"ws_proxy_url"`
}

type StoreConfig struct {
	DataDir     string `yaml:"data_dir"`
	ResultsPath string `yaml:"results_path"`
	Cache       bool   `yaml:"cache"`
}

type TelemetryConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Buffer   int            `yaml:"buffer"`
	LogSink  bool           `yaml:"log_sink"`
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig 实盘成交 / 平仓 / 错误推送。
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

type HTTPConfig struct {
	Addr              string `yaml:"addr"`
	MaxConcurrentRuns int    `yaml:"max_concurrent_runs"`
}

type OptimizeConfig struct {
	Kind    string         `yaml:"kind"`
	Short   optimize.Range `yaml:"short"`
	Long    optimize.Range `yaml:"long"`
	Window  optimize.Range `yaml:"window"`
	Workers int            `yaml:"workers"`
}

type ReportConfig struct {
	Dir string `yaml:"dir"`
	PNG bool   `yaml:"png"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}
