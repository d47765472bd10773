package optimize

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"crossbot/internal/ledger"
	"crossbot/internal/logger"
	"crossbot/internal/market"
	"crossbot/internal/runner"
	"crossbot/internal/signal"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Range 为左闭右开区间 [Start, End)，步长 Step。
type Range struct {
	Start int `mapstructure:"start" json:"start" yaml:"start"`
	End   int `mapstructure:"end" json:"end" yaml:"end"`
	Step  int `mapstructure:"step" json:"step" yaml:"step"`
}

func (r Range) Values() []int {
	step := r.Step
	if step <= 0 {
		step = 1
	}
	var out []int
	for v := r.Start; v < r.End; v += step {
		out = append(out, v)
	}
	return out
}

// SMAGrid 生成所有 short < long 的组合。
func SMAGrid(short, long Range) []signal.Params {
	var out []signal.Params
	for _, s := range short.Values() {
		for _, l := range long.Values() {
			if s < 1 || s >= l {
				continue
			}
			out = append(out, signal.Params{Kind: signal.KindSMA, Short: s, Long: l})
		}
	}
	return out
}

func MomentumGrid(window Range) []signal.Params {
	var out []signal.Params
	for _, w := range window.Values() {
		if w < 1 {
			continue
		}
		out = append(out, signal.Params{Kind: signal.KindMomentum, Window: w})
	}
	return out
}

type Config struct {
	Symbol           string
	Interval         time.Duration
	InitialCash      float64
	Mode             ledger.Mode
	Sizer            ledger.Sizer
	FixedCost        float64
	ProportionalRate float64
	Workers          int
}

// Outcome 是单组参数的回测结果。
type Outcome struct {
	RunID               string        `json:"run_id" yaml:"run_id"`
	Params              signal.Params `json:"params" yaml:"params"`
	Strategy            string        `json:"strategy" yaml:"strategy"`
	FinalBalance        float64       `json:"final_balance" yaml:"final_balance"`
	NetPerformance      float64       `json:"net_performance_pct" yaml:"net_performance_pct"`
	RelativePerformance float64       `json:"relative_performance_pct" yaml:"relative_performance_pct"`
	MaxDrawdown         float64       `json:"max_drawdown_pct" yaml:"max_drawdown_pct"`
	Trades              int           `json:"trades" yaml:"trades"`
}

// Run 并行回测每组参数，结果按净收益降序排列；各 runner 互不共享状态。
func Run(ctx context.Context, cfg Config, bars []market.Bar, candidates []signal.Params) ([]Outcome, error) {
	if len(bars) == 0 {
		return nil, fmt.Errorf("没有可用于优化的历史数据")
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("参数网格为空")
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	sweepID := uuid.NewString()
	logger.Infof("[optimize] sweep %s: %d 组参数, %d 根 bar, workers=%d", sweepID, len(candidates), len(bars), workers)

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(workers)
	var (
		mu  sync.Mutex
		out = make([]Outcome, 0, len(candidates))
	)
	for i, params := range candidates {
		group.Go(func() error {
			res, err := runOne(gctx, cfg, fmt.Sprintf("%s-%d", sweepID[:8], i), bars, params)
			if err != nil {
				return err
			}
			mu.Lock()
			out = append(out, res)
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	Rank(out)
	return out, nil
}

func runOne(ctx context.Context, cfg Config, runID string, bars []market.Bar, params signal.Params) (Outcome, error) {
	gen, err := signal.New(params)
	if err != nil {
		return Outcome{}, err
	}
	led, err := ledger.New(ledger.Config{InitialCash: cfg.InitialCash, Mode: cfg.Mode})
	if err != nil {
		return Outcome{}, err
	}
	r, err := runner.New(runner.Config{
		RunID:     runID,
		Symbol:    cfg.Symbol,
		Interval:  cfg.Interval,
		Generator: gen,
		Ledger:    led,
		Executor:  runner.SimExecutor{FixedCost: cfg.FixedCost, ProportionalRate: cfg.ProportionalRate},
		Sizer:     cfg.Sizer,
	})
	if err != nil {
		return Outcome{}, err
	}
	res, err := r.RunBacktest(ctx, bars)
	if err != nil {
		return Outcome{}, fmt.Errorf("%s: %w", gen.Name(), err)
	}
	return Outcome{
		RunID:               runID,
		Params:              params,
		Strategy:            gen.Name(),
		FinalBalance:        res.Summary.FinalBalance,
		NetPerformance:      res.Summary.NetPerformance,
		RelativePerformance: res.Summary.RelativePerformance,
		MaxDrawdown:         res.Summary.MaxDrawdown,
		Trades:              res.Summary.Trades,
	}, nil
}

// Rank 按净收益降序，收益相同时按策略名排序以保证结果稳定。
func Rank(out []Outcome) {
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].NetPerformance != out[j].NetPerformance {
			return out[i].NetPerformance > out[j].NetPerformance
		}
		return out[i].Strategy < out[j].Strategy
	})
}
