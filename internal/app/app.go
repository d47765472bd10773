package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"crossbot/internal/config"
	"crossbot/internal/gateway/binance"
	"crossbot/internal/logger"
	"crossbot/internal/market"
	"crossbot/internal/optimize"
	"crossbot/internal/report"
	"crossbot/internal/runner"
	"crossbot/internal/signal"
	"crossbot/internal/store"
	"crossbot/internal/telemetry"
	apihttp "crossbot/internal/transport/http/api"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：配置 → 依赖 → 回测 / 优化 / 拉取 / 实盘 / HTTP 服务。
type App struct {
	cfg       *config.Config
	client    *binance.Client
	candles   *store.CandleStore
	results   *store.ResultStore
	hub       *telemetry.Hub
	notify    *telemetry.NotifySink
	sink      runner.MetricsSink
	reports   report.Writer
	backtests *BacktestService
	live      *LiveService
	Summary   *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.SetFormat(cfg.App.LogFormat)
	return buildAppWithWire(context.Background(), cfg)
}

func (a *App) Config() *config.Config { return a.cfg }

// Close 释放存储资源。
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.results != nil {
		errs = append(errs, a.results.Close())
	}
	if a.candles != nil {
		errs = append(errs, a.candles.Close())
	}
	return errors.Join(errs...)
}

// Backtest 按配置回测一次：打印报告、写入结果库并导出图表。
func (a *App) Backtest(ctx context.Context) (runner.Result, error) {
	p, err := a.backtests.ParamsFromConfig()
	if err != nil {
		return runner.Result{}, err
	}
	runID := uuid.NewString()
	run := &store.RunModel{
		ID:             runID,
		Kind:           "backtest",
		Symbol:         p.Symbol,
		Strategy:       p.Strategy.Kind,
		Mode:           p.Ledger.Mode.String(),
		Interval:       a.cfg.Backtest.Interval,
		StartTS:        p.Start.UnixMilli(),
		EndTS:          p.End.UnixMilli(),
		InitialBalance: p.Ledger.InitialCash,
		Status:         store.RunStatusRunning,
	}
	if err := a.results.CreateRun(ctx, run, p.Strategy); err != nil {
		return runner.Result{}, err
	}
	res, err := a.backtests.Run(ctx, runID, p)
	if err != nil {
		a.failRun(runID, err)
		return res, err
	}
	a.finish(ctx, runID, a.cfg.Backtest.Interval, res)
	return res, nil
}

// finish 输出报告并持久化结果；持久化失败只记录日志。
func (a *App) finish(ctx context.Context, runID, interval string, res runner.Result) {
	logger.InfoBlock(res.Summary.Render())
	if err := a.results.SaveResult(context.WithoutCancel(ctx), runID, res); err != nil {
		logger.Errorf("保存结果失败 run=%s: %v", runID, err)
	}
	doc := report.NewSummaryDoc(runID, res.Symbol, res.Strategy, interval, res.Summary)
	arts, err := a.reports.WriteBacktest(ctx, doc, res.Summary)
	if err != nil {
		logger.Warnf("导出报告失败: %v", err)
		return
	}
	logger.Infof("报告已导出: summary=%s chart=%s png=%s", arts.Summary, arts.HTML, arts.PNG)
}

func (a *App) failRun(runID string, cause error) {
	if err := a.results.UpdateRunStatus(context.Background(), runID, store.RunStatusFailed, cause.Error()); err != nil {
		logger.Errorf("更新运行状态失败 run=%s: %v", runID, err)
	}
}

// Optimize 在同一份数据上并行回测参数网格，输出排名前列的组合。
func (a *App) Optimize(ctx context.Context, top int) ([]optimize.Outcome, error) {
	p, err := a.backtests.ParamsFromConfig()
	if err != nil {
		return nil, err
	}
	oc := a.cfg.Optimize
	var grid []signal.Params
	switch oc.Kind {
	case signal.KindMomentum, "mom":
		grid = optimize.MomentumGrid(oc.Window)
	default:
		grid = optimize.SMAGrid(oc.Short, oc.Long)
	}
	bars, err := a.backtests.LoadBars(ctx, p.Symbol, p.Interval, p.Start, p.End)
	if err != nil {
		return nil, err
	}
	outcomes, err := optimize.Run(ctx, optimize.Config{
		Symbol:           p.Symbol,
		Interval:         p.Interval,
		InitialCash:      p.Ledger.InitialCash,
		Mode:             p.Ledger.Mode,
		Sizer:            p.Sizer,
		FixedCost:        p.FixedCost,
		ProportionalRate: p.ProportionalRate,
		Workers:          oc.Workers,
	}, bars, grid)
	if err != nil {
		return nil, err
	}
	if top <= 0 || top > len(outcomes) {
		top = len(outcomes)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "参数优化 %s %s (%d 组)\n", p.Symbol, a.cfg.Backtest.Interval, len(outcomes))
	for i, o := range outcomes[:top] {
		fmt.Fprintf(&b, "%3d. %-16s net=%8.2f%% rel=%8.2f%% maxdd=%6.2f%% trades=%d\n",
			i+1, o.Strategy, o.NetPerformance, o.RelativePerformance, o.MaxDrawdown, o.Trades)
	}
	logger.InfoBlock(b.String())
	name := fmt.Sprintf("%s_%s_%s", strings.ToLower(p.Symbol), a.cfg.Backtest.Interval, oc.Kind)
	if path, err := a.reports.WriteOutcomes(name, outcomes); err != nil {
		logger.Warnf("导出优化结果失败: %v", err)
	} else {
		logger.Infof("优化结果已导出: %s", path)
	}
	return outcomes, nil
}

// Fetch 拉取历史数据（经缓存）并可选写出 CSV。
func (a *App) Fetch(ctx context.Context, out string) (int, error) {
	p, err := a.backtests.ParamsFromConfig()
	if err != nil {
		return 0, err
	}
	bars, err := a.backtests.LoadBars(ctx, p.Symbol, p.Interval, p.Start, p.End)
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(out) == "" {
		return len(bars), nil
	}
	if dir := filepath.Dir(out); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, err
		}
	}
	f, err := os.Create(out)
	if err != nil {
		return 0, err
	}
	if err := market.WriteCSV(f, bars); err != nil {
		f.Close()
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, err
	}
	logger.Infof("已写出 %d 根 bar 到 %s", len(bars), out)
	return len(bars), nil
}

// Live 运行实盘；启用 telemetry 时同时提供 HTTP 状态与 /ws 推送。
func (a *App) Live(ctx context.Context) (runner.Result, error) {
	runID := uuid.NewString()
	lc := a.cfg.Live
	run := &store.RunModel{
		ID:             runID,
		Kind:           "live",
		Symbol:         lc.Symbol,
		Strategy:       a.cfg.Strategy.Kind,
		Mode:           a.cfg.Ledger.ModeValue().String(),
		Interval:       lc.Interval,
		InitialBalance: a.cfg.Ledger.InitialCash,
		Status:         store.RunStatusRunning,
	}
	if err := a.results.CreateRun(ctx, run, a.cfg.Strategy.Params()); err != nil {
		return runner.Result{}, err
	}

	group, gctx := errgroup.WithContext(ctx)
	httpCtx, stopHTTP := context.WithCancel(gctx)
	defer stopHTTP()
	if a.hub != nil {
		srv, err := a.httpServer()
		if err != nil {
			return runner.Result{}, err
		}
		group.Go(func() error {
			a.hub.Run(httpCtx)
			return nil
		})
		group.Go(func() error { return srv.Start(httpCtx) })
	}
	if a.notify != nil {
		group.Go(func() error {
			a.notify.Run(httpCtx)
			return nil
		})
	}

	var res runner.Result
	group.Go(func() error {
		defer stopHTTP()
		var err error
		res, err = a.live.Run(gctx, runID)
		return err
	})
	err := group.Wait()
	if len(res.Valuations) > 0 {
		a.finish(ctx, runID, lc.Interval, res)
	}
	if err != nil {
		a.failRun(runID, err)
	}
	return res, err
}

// Serve 启动 HTTP API，直到 ctx 取消。
func (a *App) Serve(ctx context.Context) error {
	srv, err := a.httpServer()
	if err != nil {
		return err
	}
	group, gctx := errgroup.WithContext(ctx)
	if a.hub != nil {
		group.Go(func() error {
			a.hub.Run(gctx)
			return nil
		})
	}
	group.Go(func() error { return srv.Start(gctx) })
	return group.Wait()
}

func (a *App) httpServer() (*apihttp.Server, error) {
	cfg := apihttp.Config{
		Addr:              a.cfg.HTTP.Addr,
		Results:           a.results,
		Backtester:        a.backtests,
		Live:              a.live.Status,
		MaxConcurrentRuns: a.cfg.HTTP.MaxConcurrentRuns,
	}
	if a.hub != nil {
		cfg.Metrics = a.hub
	}
	return apihttp.NewServer(cfg)
}
