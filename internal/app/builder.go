package app

import (
	"context"
	"fmt"

	"crossbot/internal/config"
	"crossbot/internal/gateway/binance"
	"crossbot/internal/gateway/notifier"
	"crossbot/internal/logger"
	"crossbot/internal/report"
	"crossbot/internal/runner"
	"crossbot/internal/store"
	"crossbot/internal/telemetry"
)

type AppBuilder struct {
	cfg *config.Config

	clientFn      func(config.BinanceConfig) (*binance.Client, error)
	candleStoreFn func(config.StoreConfig) (*store.CandleStore, error)
	resultStoreFn func(config.StoreConfig) (*store.ResultStore, error)
}

type AppBuilderOption func(*AppBuilder)

// WithResultStore 覆盖结果存储（测试使用）。
func WithResultStore(rs *store.ResultStore) AppBuilderOption {
	return func(b *AppBuilder) {
		b.resultStoreFn = func(config.StoreConfig) (*store.ResultStore, error) { return rs, nil }
	}
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:           cfg,
		clientFn:      buildBinanceClient,
		candleStoreFn: buildCandleStore,
		resultStoreFn: buildResultStore,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if b == nil || b.cfg == nil {
		return nil, fmt.Errorf("app builder 未初始化")
	}
	cfg := b.cfg
	client, err := b.clientFn(cfg.Binance)
	if err != nil {
		return nil, fmt.Errorf("初始化 binance 客户端失败: %w", err)
	}
	candles, err := b.candleStoreFn(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("初始化 candle 缓存失败: %w", err)
	}
	results, err := b.resultStoreFn(cfg.Store)
	if err != nil {
		if candles != nil {
			_ = candles.Close()
		}
		return nil, fmt.Errorf("初始化结果存储失败: %w", err)
	}

	var (
		hub   *telemetry.Hub
		sinks telemetry.Fanout
	)
	if cfg.Telemetry.Enabled {
		hub = telemetry.NewHub(cfg.Telemetry.Buffer)
		sinks = append(sinks, hub)
	}
	if cfg.Telemetry.LogSink {
		sinks = append(sinks, telemetry.NewLogSink())
	}
	var sink runner.MetricsSink = runner.NopSink
	if len(sinks) > 0 {
		sink = sinks
	}

	var notify *telemetry.NotifySink
	if tg := cfg.Telemetry.Telegram; tg.Enabled {
		notify = telemetry.NewNotifySink(notifier.NewTelegram(tg.BotToken, tg.ChatID), cfg.Telemetry.Buffer)
	}
	liveSink := sink
	if notify != nil {
		liveSink = telemetry.Fanout{sink, notify}
	}

	backtests := &BacktestService{
		cfg:     cfg,
		client:  client,
		candles: candles,
		sink:    sink,
	}
	app := &App{
		cfg:       cfg,
		client:    client,
		candles:   candles,
		results:   results,
		hub:       hub,
		notify:    notify,
		sink:      sink,
		reports:   report.Writer{Dir: cfg.Report.Dir, PNG: cfg.Report.PNG},
		backtests: backtests,
		live: &LiveService{
			cfg:    cfg,
			client: client,
			sink:   liveSink,
		},
		Summary: buildStartupSummary(cfg),
	}
	logger.Debugf("app 构建完成 (env=%s)", cfg.App.Env)
	return app, nil
}

func buildBinanceClient(cfg config.BinanceConfig) (*binance.Client, error) {
	return binance.New(cfg.ClientConfig())
}

func buildCandleStore(cfg config.StoreConfig) (*store.CandleStore, error) {
	if !cfg.Cache {
		return nil, nil
	}
	return store.NewCandleStore(cfg.DataDir)
}

func buildResultStore(cfg config.StoreConfig) (*store.ResultStore, error) {
	return store.NewResultStore(cfg.ResultsPath)
}
