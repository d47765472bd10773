package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"crossbot/internal/config"
	"crossbot/internal/gateway/binance"
	"crossbot/internal/ledger"
	"crossbot/internal/logger"
	"crossbot/internal/market"
	"crossbot/internal/runner"
	"crossbot/internal/signal"
)

// LiveService 以 websocket K 线流驱动 runner；dry_run 时用模拟成交。
type LiveService struct {
	cfg    *config.Config
	client *binance.Client
	sink   runner.MetricsSink

	mu     sync.RWMutex
	runner *runner.Runner
}

// Status 返回当前 runner 的快照。
func (l *LiveService) Status() (runner.Status, bool) {
	if l == nil {
		return runner.Status{}, false
	}
	l.mu.RLock()
	r := l.runner
	l.mu.RUnlock()
	if r == nil {
		return runner.Status{}, false
	}
	return r.Snapshot(), true
}

func (l *LiveService) executor(ctx context.Context, budget float64) (runner.Executor, error) {
	lc := l.cfg.Live
	if lc.DryRun {
		logger.Infof("[live] dry_run 模式，使用模拟成交")
		return runner.SimExecutor{FixedCost: l.cfg.Ledger.FixedCost, ProportionalRate: l.cfg.Ledger.ProportionalRate}, nil
	}
	gw, err := binance.NewOrderGateway(l.client, lc.Symbol, lc.BaseAsset, lc.QuoteAsset)
	if err != nil {
		return nil, err
	}
	if err := runner.CheckBudget(ctx, gw, lc.QuoteAsset, budget); err != nil {
		return nil, fmt.Errorf("预算检查失败: %w", err)
	}
	return runner.GatewayExecutor{Gateway: gw, Timeout: lc.OrderTimeout, Sizer: l.cfg.LiveSizer()}, nil
}

// Run 阻塞直到 ctx 取消或行情断开；两种情况都会先尝试平仓。
func (l *LiveService) Run(ctx context.Context, runID string) (runner.Result, error) {
	lc := l.cfg.Live
	interval := lc.IntervalDuration()
	gen, err := signal.New(l.cfg.Strategy.Params())
	if err != nil {
		return runner.Result{}, err
	}
	budget := lc.Budget
	if budget <= 0 {
		budget = l.cfg.Ledger.InitialCash
	}
	if budget <= lc.Reserve {
		return runner.Result{}, fmt.Errorf("live budget %.2f 不大于 reserve %.2f，无法开仓", budget, lc.Reserve)
	}
	exec, err := l.executor(ctx, budget)
	if err != nil {
		return runner.Result{}, err
	}
	ledCfg := l.cfg.Ledger.LedgerConfig()
	ledCfg.InitialCash = budget
	led, err := ledger.New(ledCfg)
	if err != nil {
		return runner.Result{}, err
	}
	r, err := runner.New(runner.Config{
		RunID:        runID,
		Symbol:       lc.Symbol,
		Interval:     interval,
		Generator:    gen,
		Ledger:       led,
		Executor:     exec,
		Sizer:        l.cfg.LiveSizer(),
		Sink:         l.sink,
		Capacity:     lc.Capacity,
		CloseTimeout: lc.CloseTimeout,
	})
	if err != nil {
		return runner.Result{}, err
	}
	l.preload(ctx, r, gen, interval)

	feed, err := binance.NewKlineStream(l.client.Config(), lc.Symbol, interval)
	if err != nil {
		return runner.Result{}, err
	}
	l.mu.Lock()
	l.runner = r
	l.mu.Unlock()

	logger.Infof("[live] %s %s 开始运行 strategy=%s budget=%.2f", lc.Symbol, interval, gen.Name(), budget)
	return r.RunLive(ctx, feed)
}

// preload 拉取最近的收盘 bar 作为回看窗口，失败只告警。
func (l *LiveService) preload(ctx context.Context, r *runner.Runner, gen signal.Generator, interval time.Duration) {
	if l.client == nil {
		return
	}
	end := market.AlignDown(time.Now().UTC(), interval)
	start := end.Add(-time.Duration(gen.Lookback()+1) * interval)
	src, err := binance.NewKlineSource(l.client, interval)
	if err != nil {
		logger.Warnf("[live] 预热数据源不可用: %v", err)
		return
	}
	bars, err := src.Bars(ctx, l.cfg.Live.Symbol, start, end)
	if err != nil {
		logger.Warnf("[live] 预热失败，将从空窗口开始: %v", err)
		return
	}
	if err := r.Preload(bars); err != nil {
		logger.Warnf("[live] 预热失败: %v", err)
		return
	}
	logger.Infof("[live] 预热 %d 根 bar", len(bars))
}
