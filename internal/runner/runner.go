package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"crossbot/internal/ledger"
	"crossbot/internal/logger"
	"crossbot/internal/market"
	"crossbot/internal/performance"
	"crossbot/internal/signal"
)

// State 是 runner 生命周期：Idle → Running → Closed。
type State int

const (
	Idle State = iota
	Running
	Closed
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Closed:
		return "closed"
	default:
		return "idle"
	}
}

type Config struct {
	RunID     string
	Symbol    string
	Interval  time.Duration
	Generator signal.Generator
	Ledger    *ledger.Ledger
	Executor  Executor
	Sizer     ledger.Sizer
	Sink      MetricsSink
	// Capacity 为价格序列保留的桶数量，0 时按 Lookback 推导。
	Capacity int
	// CloseTimeout 限制关停时平仓下单的耗时。
	CloseTimeout time.Duration
}

// Runner 将信号、账本与执行器串起来；回测与实时共享同一套 OnEvent 逻辑。
type Runner struct {
	mu sync.Mutex

	runID    string
	symbol   string
	interval time.Duration
	gen      signal.Generator
	led      *ledger.Ledger
	exec     Executor
	sizer    ledger.Sizer
	sink     MetricsSink
	timeout  time.Duration
	log      *slog.Logger

	series     *market.PriceSeries
	state      State
	lastPrice  float64
	lastTime   time.Time
	lastClosed time.Time
	lastSignal signal.Signal

	points []performance.ValuationPoint
	prices []float64
	errs   []error
}

func New(cfg Config) (*Runner, error) {
	if cfg.Generator == nil {
		return nil, fmt.Errorf("generator 不能为空")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger 不能为空")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("bar interval 必须为正: %s", cfg.Interval)
	}
	exec := cfg.Executor
	if exec == nil {
		exec = SimExecutor{}
	}
	sink := cfg.Sink
	if sink == nil {
		sink = NopSink
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = max(cfg.Generator.Lookback()*4, 256)
	}
	timeout := cfg.CloseTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Runner{
		runID:    cfg.RunID,
		symbol:   cfg.Symbol,
		interval: cfg.Interval,
		gen:      cfg.Generator,
		led:      cfg.Ledger,
		exec:     exec,
		sizer:    cfg.Sizer,
		sink:     sink,
		timeout:  timeout,
		log:      logger.With("component", "runner", "symbol", cfg.Symbol, "run_id", cfg.RunID, "strategy", cfg.Generator.Name()),
		series:   market.NewPriceSeries(cfg.Interval, market.WithCapacity(capacity)),
	}, nil
}

func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// OnEvent 处理一条行情事件。非法价格会被记录并丢弃（返回 *market.InvalidPriceError），runner 继续运行。
func (r *Runner) OnEvent(ctx context.Context, ev market.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Closed {
		return ErrClosed
	}
	if err := r.series.Append(ev.Time, ev.Price); err != nil {
		r.log.Warn("丢弃非法价格", "time", ev.Time, "price", ev.Price, "error", err)
		return err
	}
	if r.state == Idle {
		r.state = Running
		r.log.Info("runner 开始运行", "first_bar", ev.Time)
	}
	r.lastPrice, r.lastTime = ev.Price, ev.Time

	bar := market.AlignDown(ev.Time, r.interval)
	if !ev.Closed || (!r.lastClosed.IsZero() && !bar.After(r.lastClosed)) {
		r.publish(RecordTick, ev.Time, "")
		return nil
	}
	r.lastClosed = bar

	sig := r.gen.Signal(r.history(bar))
	r.lastSignal = sig
	r.decide(ctx, sig, bar, ev.Price)

	st := r.led.State()
	r.points = append(r.points, performance.ValuationPoint{
		Time:      bar,
		NetWealth: st.Cash + st.Units*ev.Price,
		Position:  st.Position,
	})
	r.prices = append(r.prices, ev.Price)
	r.publishState(RecordBar, bar, st, sig.String())
	return nil
}

// Preload 在启动前灌入历史收盘 bar 作为信号回看窗口，不产生交易与估值点。
func (r *Runner) Preload(bars []market.Bar) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Idle {
		return fmt.Errorf("preload 只能在 runner 启动前调用 (state=%s)", r.state)
	}
	for _, b := range bars {
		if err := r.series.Append(b.Time, b.Close); err != nil {
			r.log.Warn("预热数据丢弃非法价格", "time", b.Time, "price", b.Close)
			continue
		}
		if bar := market.AlignDown(b.Time, r.interval); bar.After(r.lastClosed) {
			r.lastClosed = bar
		}
	}
	return nil
}

// history 返回 bar 之前（不含 bar 本身）的已收盘 bar，始终使用上一根收盘 bar 产生信号。
func (r *Runner) history(bar time.Time) signal.History {
	lookback := r.gen.Lookback()
	from := bar.Add(-time.Duration(lookback) * r.interval)
	to := bar.Add(-r.interval)
	return signal.History{
		Bars:     slices.Collect(r.series.ResampleBetween(r.interval, from, to)),
		Interval: r.interval,
	}
}

// decide 实现滞后规则：只在空仓或反向持仓时开新方向，Hold/Insufficient 不交易。
func (r *Runner) decide(ctx context.Context, sig signal.Signal, ts time.Time, price float64) {
	pos := r.led.Position()
	switch sig {
	case signal.Long:
		if pos == ledger.Long {
			return
		}
		if pos == ledger.Short {
			if !r.execute(ctx, Order{Time: ts, Side: ledger.Buy, Quantity: math.Abs(r.led.Units()), Price: price, Reason: "close_short"}) {
				return
			}
		}
		r.open(ctx, ledger.Buy, ts, price, "go_long")
	case signal.Short:
		if pos == ledger.Short {
			return
		}
		if pos == ledger.Long {
			if !r.execute(ctx, Order{Time: ts, Side: ledger.Sell, Quantity: r.led.Units(), Price: price, Reason: "close_long"}) {
				return
			}
		}
		if r.led.Mode() == ledger.LongShort {
			r.open(ctx, ledger.Sell, ts, price, "go_short")
		}
	}
}

func (r *Runner) open(ctx context.Context, side ledger.Side, ts time.Time, price float64, reason string) {
	qty := r.sizer.Units(r.led.Cash(), price)
	if qty <= 0 {
		r.log.Warn("可用资金不足，跳过开仓", "reason", reason, "cash", r.led.Cash(), "price", price)
		return
	}
	r.execute(ctx, Order{Time: ts, Side: side, Quantity: qty, Price: price, Reason: reason})
}

func (r *Runner) execute(ctx context.Context, o Order) bool {
	fill, err := r.exec.Execute(ctx, r.led, o)
	if err != nil {
		r.errs = append(r.errs, err)
		r.log.Error("下单失败，持仓保持不变", "side", o.Side.String(), "qty", o.Quantity, "reason", o.Reason, "error", err)
		r.publishMessage(RecordError, o.Time, err.Error())
		return false
	}
	r.log.Info("成交", "side", fill.Side.String(), "qty", fill.Quantity, "price", fill.Price, "reason", fill.Reason)
	r.publishMessage(RecordFill, fill.Time, fmt.Sprintf("%s %.8g @ %.8g (%s)", fill.Side, fill.Quantity, fill.Price, fill.Reason))
	return true
}

// Close 结束运行并以最后价格强制平仓；可重复调用。平仓失败会返回错误但不重试。
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Closed {
		return nil
	}
	prev := r.state
	r.state = Closed
	if prev == Idle || r.lastPrice <= 0 {
		r.log.Info("runner 关闭（未处理任何行情）")
		return nil
	}
	bar := market.AlignDown(r.lastTime, r.interval)
	fill, ok, err := r.exec.Liquidate(ctx, r.led, bar, r.lastPrice)
	if err != nil {
		err = fmt.Errorf("强制平仓失败: %w", err)
		r.errs = append(r.errs, err)
		r.log.Error("强制平仓失败", "error", err)
		r.publishMessage(RecordError, bar, err.Error())
		return err
	}
	st := r.led.State()
	if ok {
		r.log.Info("强制平仓", "qty", fill.Quantity, "price", fill.Price, "cash", st.Cash)
		point := performance.ValuationPoint{Time: bar, NetWealth: st.Cash + st.Units*r.lastPrice, Position: st.Position}
		if n := len(r.points); n > 0 && r.points[n-1].Time.Equal(bar) {
			r.points[n-1] = point
			r.prices[n-1] = r.lastPrice
		} else {
			r.points = append(r.points, point)
			r.prices = append(r.prices, r.lastPrice)
		}
	}
	r.publishState(RecordClose, bar, st, "")
	return nil
}

// Result 在 Closed 之后移交估值序列，runner 不再持有它们。
func (r *Runner) Result() (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Closed {
		return Result{}, ErrNotClosed
	}
	points, prices := r.points, r.prices
	r.points, r.prices = nil, nil
	st := r.led.State()
	return Result{
		RunID:      r.runID,
		Symbol:     r.symbol,
		Strategy:   r.gen.Name(),
		Valuations: points,
		Prices:     prices,
		Fills:      r.led.Fills(),
		Final:      st,
		Errors:     append([]error(nil), r.errs...),
		Summary:    performance.Summarize(points, prices, st.Trades, r.led.InitialCash()),
	}, nil
}

// Snapshot 返回当前状态，供 HTTP 状态接口读取。
func (r *Runner) Snapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.led.State()
	return Status{
		RunID:      r.runID,
		Symbol:     r.symbol,
		Strategy:   r.gen.Name(),
		State:      r.state.String(),
		LastPrice:  r.lastPrice,
		LastTime:   r.lastTime,
		LastSignal: r.lastSignal.String(),
		Bars:       len(r.points),
		Ledger:     st,
		NetWealth:  st.Cash + st.Units*r.lastPrice,
	}
}

func (r *Runner) publish(kind string, ts time.Time, sig string) {
	r.publishState(kind, ts, r.led.State(), sig)
}

func (r *Runner) publishState(kind string, ts time.Time, st ledger.State, sig string) {
	r.sink.Publish(Record{
		RunID:     r.runID,
		Symbol:    r.symbol,
		Kind:      kind,
		Time:      ts,
		Price:     r.lastPrice,
		Position:  st.Position,
		Units:     st.Units,
		Cash:      st.Cash,
		NetWealth: st.Cash + st.Units*r.lastPrice,
		Signal:    sig,
	})
}

func (r *Runner) publishMessage(kind string, ts time.Time, msg string) {
	st := r.led.State()
	r.sink.Publish(Record{
		RunID:     r.runID,
		Symbol:    r.symbol,
		Kind:      kind,
		Time:      ts,
		Price:     r.lastPrice,
		Position:  st.Position,
		Units:     st.Units,
		Cash:      st.Cash,
		NetWealth: st.Cash + st.Units*r.lastPrice,
		Message:   msg,
	})
}

// Result 是一次运行的完整产出。
type Result struct {
	RunID      string                       `json:"run_id"`
	Symbol     string                       `json:"symbol"`
	Strategy   string                       `json:"strategy"`
	Valuations []performance.ValuationPoint `json:"valuations"`
	Prices     []float64                    `json:"prices"`
	Fills      []ledger.Fill                `json:"fills"`
	Final      ledger.State                 `json:"final"`
	Errors     []error                      `json:"-"`
	Summary    performance.Summary          `json:"summary"`
}

// Status 是运行中的快照。
type Status struct {
	RunID      string       `json:"run_id"`
	Symbol     string       `json:"symbol"`
	Strategy   string       `json:"strategy"`
	State      string       `json:"state"`
	LastPrice  float64      `json:"last_price"`
	LastTime   time.Time    `json:"last_time"`
	LastSignal string       `json:"last_signal"`
	Bars       int          `json:"bars"`
	Ledger     ledger.State `json:"ledger"`
	NetWealth  float64      `json:"net_wealth"`
}

// RunBacktest 同步回放历史 bar，结束后强制平仓。
// 输入先按 runner 周期归并，比周期更细的数据以桶内最后一个价格收盘。
func (r *Runner) RunBacktest(ctx context.Context, bars []market.Bar) (Result, error) {
	var runErr error
	replay := market.Aggregate(bars, r.interval)
	if len(replay) != len(bars) {
		r.log.Info("历史数据按周期归并", "input", len(bars), "bars", len(replay), "interval", r.interval)
	}
	for _, ev := range market.BarEvents(replay) {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if err := r.OnEvent(ctx, ev); err != nil && !errors.Is(err, market.ErrInvalidPrice) {
			runErr = err
			break
		}
	}
	if err := r.Close(context.WithoutCancel(ctx)); err != nil && runErr == nil {
		runErr = err
	}
	res, err := r.Result()
	if err != nil {
		return Result{}, err
	}
	return res, runErr
}
