package app

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"crossbot/internal/config"
	"crossbot/internal/market"
	"crossbot/internal/signal"
	"crossbot/internal/store"
	"crossbot/internal/telemetry"
	apihttp "crossbot/internal/transport/http/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)

func writeSineCSV(t *testing.T, path string, n int) {
	t.Helper()
	bars := make([]market.Bar, n)
	for i := range bars {
		bars[i] = market.Bar{
			Time:  t0.Add(time.Duration(i) * time.Hour),
			Close: 100 + 10*math.Sin(float64(i)/8),
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, market.WriteCSV(f, bars))
	require.NoError(t, f.Close())
}

func testApp(t *testing.T) *App {
	t.Helper()
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "prices.csv")
	writeSineCSV(t, csvPath, 200)

	cfg := config.Default()
	cfg.Strategy = config.StrategyConfig{Kind: signal.KindSMA, Short: 3, Long: 10}
	cfg.Backtest.Symbol = "BTCUSDT"
	cfg.Backtest.Interval = "1h"
	cfg.Backtest.Source = "csv"
	cfg.Backtest.CSVPath = csvPath
	cfg.Backtest.Start = t0.Format(time.RFC3339)
	cfg.Backtest.End = t0.Add(200 * time.Hour).Format(time.RFC3339)
	cfg.Store.DataDir = filepath.Join(dir, "candles")
	cfg.Store.ResultsPath = filepath.Join(dir, "results.db")
	cfg.Report.Dir = filepath.Join(dir, "reports")
	cfg.Telemetry.LogSink = false
	cfg.Optimize.Kind = signal.KindSMA

	a, err := NewAppBuilder(cfg).Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestApp_BacktestPersistsAndReports(t *testing.T) {
	a := testApp(t)
	res, err := a.Backtest(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Valuations, 200)
	assert.NotEmpty(t, res.Fills)
	assert.Equal(t, 0.0, res.Final.Units)
	assert.Equal(t, res.Summary.FinalBalance, res.Valuations[len(res.Valuations)-1].NetWealth)

	runs, err := a.results.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.RunStatusDone, runs[0].Status)
	assert.Equal(t, "backtest", runs[0].Kind)

	entries, err := os.ReadDir(a.cfg.Report.Dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestApp_OptimizeRanksGrid(t *testing.T) {
	a := testApp(t)
	a.cfg.Optimize.Short.Start, a.cfg.Optimize.Short.End, a.cfg.Optimize.Short.Step = 2, 5, 1
	a.cfg.Optimize.Long.Start, a.cfg.Optimize.Long.End, a.cfg.Optimize.Long.Step = 6, 9, 1
	out, err := a.Optimize(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, out, 9)
	for i := 1; i < len(out); i++ {
		assert.GreaterOrEqual(t, out[i-1].NetPerformance, out[i].NetPerformance)
	}
}

func TestApp_FetchWritesCSV(t *testing.T) {
	a := testApp(t)
	out := filepath.Join(t.TempDir(), "out", "btc.csv")
	n, err := a.Fetch(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, 200, n)

	bars, err := market.NewCSVSource(out).Bars(context.Background(), "BTCUSDT", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, bars, 200)
}

func TestBacktestService_RequestOverrides(t *testing.T) {
	a := testApp(t)
	res, err := a.backtests.Backtest(context.Background(), "req-1", apihttp.RunRequest{
		Symbol:      "btc/usdt",
		Interval:    "1h",
		Start:       t0.Format(time.RFC3339),
		End:         t0.Add(50 * time.Hour).Format(time.RFC3339),
		Strategy:    signal.Params{Kind: signal.KindMomentum, Window: 2},
		InitialCash: 500,
		Mode:        "long_short",
	})
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", res.Symbol)
	assert.Equal(t, "momentum(2)", res.Strategy)
	assert.Len(t, res.Valuations, 50)
	assert.Equal(t, 500.0, res.Summary.InitialBalance)

	_, err = a.backtests.Backtest(context.Background(), "req-2", apihttp.RunRequest{
		Symbol:   "BTCUSDT",
		Interval: "bogus",
		Strategy: signal.Params{Kind: signal.KindSMA, Short: 2, Long: 3},
	})
	assert.Error(t, err)
}

func TestLiveService_StatusBeforeStart(t *testing.T) {
	a := testApp(t)
	_, ok := a.live.Status()
	assert.False(t, ok)
}

func TestStartupSummary(t *testing.T) {
	s := buildStartupSummary(config.Default())
	out := s.String()
	assert.Contains(t, out, "STARTUP SUMMARY")
	assert.Contains(t, out, "sma short=42 long=252")
}

func TestBuild_TelegramSinkOnlyForLive(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Store.DataDir = filepath.Join(dir, "candles")
	cfg.Store.ResultsPath = filepath.Join(dir, "results.db")
	cfg.Telemetry.Telegram = config.TelegramConfig{Enabled: true, BotToken: "tok", ChatID: "1"}

	a, err := NewAppBuilder(cfg).Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	require.NotNil(t, a.notify)
	assert.IsType(t, telemetry.Fanout{}, a.live.sink)
	assert.NotEqual(t, a.live.sink, a.backtests.sink)
}
