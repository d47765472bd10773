package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"crossbot/internal/config"
	"crossbot/internal/gateway/binance"
	"crossbot/internal/ledger"
	"crossbot/internal/logger"
	"crossbot/internal/market"
	"crossbot/internal/runner"
	"crossbot/internal/signal"
	"crossbot/internal/store"
	apihttp "crossbot/internal/transport/http/api"
)

// 未指定 start 时回看的 bar 数量。
const defaultHistoryBars = 1000

// BacktestParams 是一次回测的完整参数，由配置或 HTTP 请求合成。
type BacktestParams struct {
	Symbol           string
	Interval         time.Duration
	Start            time.Time
	End              time.Time
	Strategy         signal.Params
	Ledger           ledger.Config
	Sizer            ledger.Sizer
	FixedCost        float64
	ProportionalRate float64
}

// BacktestService 负责取数并驱动 runner 回放。
type BacktestService struct {
	cfg     *config.Config
	client  *binance.Client
	candles *store.CandleStore
	sink    runner.MetricsSink
}

// ParamsFromConfig 根据配置文件组装回测参数。
func (s *BacktestService) ParamsFromConfig() (BacktestParams, error) {
	start, end, err := s.cfg.Backtest.Range()
	if err != nil {
		return BacktestParams{}, err
	}
	return BacktestParams{
		Symbol:           s.cfg.Backtest.Symbol,
		Interval:         s.cfg.Backtest.IntervalDuration(),
		Start:            start,
		End:              end,
		Strategy:         s.cfg.Strategy.Params(),
		Ledger:           s.cfg.Ledger.LedgerConfig(),
		Sizer:            s.cfg.Ledger.Sizer(),
		FixedCost:        s.cfg.Ledger.FixedCost,
		ProportionalRate: s.cfg.Ledger.ProportionalRate,
	}, nil
}

// paramsFromRequest 以配置为底，请求中出现的字段覆盖之。
func (s *BacktestService) paramsFromRequest(req apihttp.RunRequest) (BacktestParams, error) {
	p, err := s.ParamsFromConfig()
	if err != nil {
		return BacktestParams{}, err
	}
	p.Symbol = binance.NormalizeSymbol(req.Symbol)
	p.Strategy = req.Strategy
	if req.Interval != "" {
		d, err := market.ParseInterval(req.Interval)
		if err != nil {
			return BacktestParams{}, err
		}
		if d <= 0 {
			return BacktestParams{}, fmt.Errorf("interval 必须为固定周期")
		}
		p.Interval = d
	}
	if req.Start != "" {
		t, err := market.ParseTimestamp(req.Start)
		if err != nil {
			return BacktestParams{}, fmt.Errorf("start: %w", err)
		}
		p.Start = t
	}
	if req.End != "" {
		t, err := market.ParseTimestamp(req.End)
		if err != nil {
			return BacktestParams{}, fmt.Errorf("end: %w", err)
		}
		p.End = t
	}
	if req.InitialCash > 0 {
		p.Ledger.InitialCash = req.InitialCash
	}
	if req.Mode != "" {
		mode, ok := ledger.ParseMode(req.Mode)
		if !ok {
			return BacktestParams{}, fmt.Errorf("未知 mode: %s", req.Mode)
		}
		p.Ledger.Mode = mode
	}
	if req.FixedCost > 0 {
		p.FixedCost = req.FixedCost
	}
	if req.ProportionalRate > 0 {
		p.ProportionalRate = req.ProportionalRate
	}
	return p, nil
}

// Backtest 供 HTTP 接口调用。
func (s *BacktestService) Backtest(ctx context.Context, runID string, req apihttp.RunRequest) (runner.Result, error) {
	p, err := s.paramsFromRequest(req)
	if err != nil {
		return runner.Result{}, err
	}
	return s.Run(ctx, runID, p)
}

// Source 按配置选择历史数据源；启用缓存时 binance 数据会写入本地 sqlite。
func (s *BacktestService) Source(interval time.Duration) (market.HistoricalSource, error) {
	switch strings.ToLower(s.cfg.Backtest.Source) {
	case "csv":
		return market.NewCSVSource(s.cfg.Backtest.CSVPath), nil
	case "cache":
		if s.candles == nil {
			return nil, fmt.Errorf("source=cache 需要开启 store.cache")
		}
		return store.NewCachedSource(s.candles, nil, interval)
	default:
		if s.client == nil {
			return nil, fmt.Errorf("binance 客户端未初始化")
		}
		remote, err := binance.NewKlineSource(s.client, interval)
		if err != nil {
			return nil, err
		}
		if s.candles == nil {
			return remote, nil
		}
		return store.NewCachedSource(s.candles, remote, interval)
	}
}

// LoadBars 拉取 [start, end) 的收盘价；start 为空时回看 defaultHistoryBars 根。
func (s *BacktestService) LoadBars(ctx context.Context, symbol string, interval time.Duration, start, end time.Time) ([]market.Bar, error) {
	if end.IsZero() {
		end = time.Now().UTC()
	}
	if start.IsZero() {
		start = market.AlignDown(end, interval).Add(-defaultHistoryBars * interval)
	}
	src, err := s.Source(interval)
	if err != nil {
		return nil, err
	}
	bars, err := src.Bars(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}
	logger.Infof("[backtest] %s 从 %s 载入 %d 根 %s bar (%s ~ %s)", symbol, src.Name(), len(bars), interval,
		start.Format(time.RFC3339), end.Format(time.RFC3339))
	return bars, nil
}

// Run 载入数据并完整回放一次，结束时强制平仓。
func (s *BacktestService) Run(ctx context.Context, runID string, p BacktestParams) (runner.Result, error) {
	gen, err := signal.New(p.Strategy)
	if err != nil {
		return runner.Result{}, err
	}
	bars, err := s.LoadBars(ctx, p.Symbol, p.Interval, p.Start, p.End)
	if err != nil {
		return runner.Result{}, err
	}
	if len(bars) == 0 {
		return runner.Result{}, fmt.Errorf("%s 在区间内没有数据", p.Symbol)
	}
	return s.replay(ctx, runID, p, gen, bars)
}

func (s *BacktestService) replay(ctx context.Context, runID string, p BacktestParams, gen signal.Generator, bars []market.Bar) (runner.Result, error) {
	led, err := ledger.New(p.Ledger)
	if err != nil {
		return runner.Result{}, err
	}
	r, err := runner.New(runner.Config{
		RunID:     runID,
		Symbol:    p.Symbol,
		Interval:  p.Interval,
		Generator: gen,
		Ledger:    led,
		Executor:  runner.SimExecutor{FixedCost: p.FixedCost, ProportionalRate: p.ProportionalRate},
		Sizer:     p.Sizer,
		Sink:      s.sink,
	})
	if err != nil {
		return runner.Result{}, err
	}
	return r.RunBacktest(ctx, bars)
}
