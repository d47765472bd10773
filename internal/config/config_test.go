package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"crossbot/internal/ledger"
	"crossbot/internal/signal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoad_DefaultsApplied(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.yaml", "app:\n  log_level: debug\n")
	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, "text", cfg.App.LogFormat)
	assert.Equal(t, signal.KindSMA, cfg.Strategy.Kind)
	assert.Equal(t, 42, cfg.Strategy.Short)
	assert.Equal(t, 252, cfg.Strategy.Long)
	assert.Equal(t, 10000.0, cfg.Ledger.InitialCash)
	assert.Equal(t, ledger.LongOnly, cfg.Ledger.ModeValue())
	assert.Equal(t, "BTCUSDT", cfg.Live.Symbol)
	assert.Equal(t, "BTC", cfg.Live.BaseAsset)
	assert.Equal(t, "USDT", cfg.Live.QuoteAsset)
	assert.Equal(t, 10*time.Second, cfg.Live.OrderTimeout)
	assert.True(t, cfg.Store.Cache)
	assert.Equal(t, time.Minute, cfg.Backtest.IntervalDuration())
}

func TestLoad_ExplicitValuesWin(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.yaml", `
strategy:
  kind: momentum
  window: 5
ledger:
  initial_cash: 500
  mode: long_short
  proportional_rate: 0.001
store:
  cache: false
live:
  interval: 1h
  order_timeout: 3s
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, signal.Params{Kind: "momentum", Short: 42, Long: 252, Window: 5}, cfg.Strategy.Params())
	assert.Equal(t, ledger.LongShort, cfg.Ledger.ModeValue())
	assert.Equal(t, 0.001, cfg.Ledger.ProportionalRate)
	assert.False(t, cfg.Store.Cache)
	assert.Equal(t, time.Hour, cfg.Live.IntervalDuration())
	assert.Equal(t, 3*time.Second, cfg.Live.OrderTimeout)
	assert.Equal(t, ledger.Config{InitialCash: 500, Mode: ledger.LongShort}, cfg.Ledger.LedgerConfig())
}

func TestLoad_IncludesMergeInOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "backtest:\n  symbol: ethusdt\n  interval: 1h\nledger:\n  initial_cash: 200\n")
	p := writeFile(t, dir, "config.yaml", "include:\n  - base.yaml\nledger:\n  initial_cash: 300\n")
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", cfg.Backtest.Symbol)
	assert.Equal(t, 300.0, cfg.Ledger.InitialCash)
}

func TestLoad_IncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include:\n  - b.yaml\n")
	p := writeFile(t, dir, "b.yaml", "include:\n  - a.yaml\n")
	_, err := Load(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include cycle")
}

func TestLoad_ValidationAggregatesErrors(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.yaml", `
strategy:
  kind: sma
  short: 50
  long: 10
ledger:
  mode: sideways
backtest:
  source: ftp
`)
	_, err := Load(p)
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "strategy")
	assert.Contains(t, msg, "ledger.mode")
	assert.Contains(t, msg, "backtest.source")
}

func TestLoad_SecretsFromEnv(t *testing.T) {
	t.Setenv("CROSSBOT_BINANCE_API_KEY", "k-env")
	t.Setenv("CROSSBOT_BINANCE_API_SECRET", "s-env")
	dir := t.TempDir()
	p := writeFile(t, dir, "config.yaml", "binance:\n  api_key: from-file\n  testnet: true\n")
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "k-env", cfg.Binance.APIKey)
	assert.Equal(t, "s-env", cfg.Binance.APISecret)
	assert.True(t, cfg.Binance.ClientConfig().Testnet)
}

func TestLoad_LiveAssetsFromSymbol(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.yaml", "live:\n  symbol: eth/btc\n")
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "ETHBTC", cfg.Live.Symbol)
	assert.Equal(t, "ETH", cfg.Live.BaseAsset)
	assert.Equal(t, "BTC", cfg.Live.QuoteAsset)
}

func TestLoad_TelegramRequiresCredentials(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.yaml", "telemetry:\n  telegram:\n    enabled: true\n    chat_id: \"1\"\n")
	_, err := Load(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telemetry.telegram")

	t.Setenv("CROSSBOT_TELEGRAM_BOT_TOKEN", "tok")
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "tok", cfg.Telemetry.Telegram.BotToken)
}

func TestLoad_ReserveIsQuoteAmount(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.yaml", "ledger:\n  reserve: 100\n  precision: 4\n")
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 100.0, cfg.Ledger.Reserve)
	assert.Equal(t, ledger.Sizer{Precision: 4, Reserve: 100}, cfg.Ledger.Sizer())
	assert.Equal(t, 100.0, cfg.Live.Reserve)
	assert.Equal(t, 100.0, cfg.LiveSizer().Reserve)

	p = writeFile(t, dir, "zero.yaml", "live:\n  reserve: 0\n")
	cfg, err = Load(p)
	require.NoError(t, err)
	assert.Zero(t, cfg.Live.Reserve)
	assert.Zero(t, cfg.Ledger.Reserve)

	p = writeFile(t, dir, "neg.yaml", "ledger:\n  reserve: -1\nlive:\n  reserve: -5\n")
	_, err = Load(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger.reserve must be >= 0")
	assert.Contains(t, err.Error(), "live.reserve must be >= 0")
}

func TestLoad_ExampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 100.0, cfg.Live.Reserve)
	assert.Equal(t, 20, cfg.Optimize.Short.Start)
}

func TestBacktestRange(t *testing.T) {
	b := BacktestConfig{Start: "2022-01-01", End: "2022-02-01"}
	start, end, err := b.Range()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2022, 2, 1, 0, 0, 0, 0, time.UTC), end)

	_, _, err = BacktestConfig{Start: "2022-02-01", End: "2022-01-01"}.Range()
	assert.Error(t, err)
}

func TestResolvePath(t *testing.T) {
	t.Setenv(EnvPath, "")
	assert.Equal(t, DefaultPath, ResolvePath(""))
	t.Setenv(EnvPath, "/etc/crossbot.yaml")
	assert.Equal(t, "/etc/crossbot.yaml", ResolvePath(""))
	assert.Equal(t, "x.yaml", ResolvePath("x.yaml"))
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, validate(Default()))
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.yaml", "app:\n  log_level: info\n")
	var seen atomic.Value
	w, err := Watch(p, func(cfg *Config) { seen.Store(cfg.App.LogLevel) })
	require.NoError(t, err)
	assert.Equal(t, "info", w.Current().App.LogLevel)

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(p, []byte("app:\n  log_level: warn\n"), 0o644))
	require.Eventually(t, func() bool {
		v, _ := seen.Load().(string)
		return v == "warn"
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "warn", w.Current().App.LogLevel)
}

func TestLoad_IncludeMustBeList(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "ledger:\n  initial_cash: 100\n")
	p := writeFile(t, dir, "config.yaml", "include: base.yaml\n")
	_, err := Load(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include must be a string array")
}
