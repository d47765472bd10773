package performance

import (
	"fmt"
	"math"
	"strings"
	"time"

	"crossbot/internal/ledger"

	"github.com/shopspring/decimal"
)

// ValuationPoint 每根已收盘 bar 记录一次净值。
type ValuationPoint struct {
	Time      time.Time       `json:"time"`
	NetWealth float64         `json:"net_wealth"`
	Position  ledger.Position `json:"position"`
}

// Row 是统计表中的一行，与 ValuationPoint 一一对应。
type Row struct {
	Time        time.Time       `json:"time"`
	Position    ledger.Position `json:"position"`
	Price       float64         `json:"price"`
	NetWealth   float64         `json:"net_wealth"`
	Return      float64         `json:"return"`
	Strategy    float64         `json:"strategy"`
	CumReturns  float64         `json:"cum_returns"`
	CumStrategy float64         `json:"cum_strategy"`
	CumMax      float64         `json:"cum_max"`
	Drawdown    float64         `json:"drawdown"`
}

// Summary 由估值序列推导，不保存额外状态。百分比均保留两位小数。
type Summary struct {
	InitialBalance      float64       `json:"initial_balance"`
	FinalBalance        float64       `json:"final_balance"`
	NetPerformance      float64       `json:"net_performance_pct"`
	SymbolPerformance   float64       `json:"symbol_performance_pct"`
	RelativePerformance float64       `json:"relative_performance_pct"`
	Trades              int           `json:"trades"`
	MaxDrawdown         float64       `json:"max_drawdown_pct"`
	LongestDrawdown     time.Duration `json:"longest_drawdown"`
	Rows                []Row         `json:"-"`
}

// Round2 按两位小数四舍五入（远离零）。
func Round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// GrossRate (final - initial) / initial。
func GrossRate(initial, final float64) float64 {
	if initial == 0 {
		return 0
	}
	return (final - initial) / initial
}

// Summarize 是纯函数：prices 与 points 按下标对齐，长度不一致时取较短者。
func Summarize(points []ValuationPoint, prices []float64, trades int, initial float64) Summary {
	s := Summary{InitialBalance: initial, FinalBalance: initial, Trades: trades}
	n := len(points)
	if len(prices) < n {
		n = len(prices)
	}
	if n == 0 {
		return s
	}
	points, prices = points[:n], prices[:n]

	s.FinalBalance = points[n-1].NetWealth
	net := GrossRate(initial, s.FinalBalance) * 100
	sym := GrossRate(prices[0], prices[n-1]) * 100
	s.NetPerformance = Round2(net)
	s.SymbolPerformance = Round2(sym)
	s.RelativePerformance = Round2(net - sym)

	rows := make([]Row, n)
	cum := make([]float64, n)
	var sumRet, sumStrat float64
	for i := range points {
		r := Row{
			Time:      points[i].Time,
			Position:  points[i].Position,
			Price:     prices[i],
			NetWealth: points[i].NetWealth,
		}
		if i > 0 {
			r.Return = logRatio(prices[i-1], prices[i])
			r.Strategy = logRatio(points[i-1].NetWealth, points[i].NetWealth)
		}
		sumRet += r.Return
		sumStrat += r.Strategy
		r.CumReturns = math.Exp(sumRet)
		r.CumStrategy = math.Exp(sumStrat)
		cum[i] = r.CumStrategy
		rows[i] = r
	}
	cumMax, dd := Drawdown(cum)
	times := make([]time.Time, n)
	for i := range rows {
		rows[i].CumMax = cumMax[i]
		rows[i].Drawdown = dd[i]
		times[i] = rows[i].Time
	}
	s.Rows = rows
	s.MaxDrawdown = Round2(MaxOf(dd) * 100)
	s.LongestDrawdown = LongestDrawdown(times, dd)
	return s
}

// logRatio 非正值时对数收益无定义，按 0 计入累计和。
func logRatio(prev, cur float64) float64 {
	if prev <= 0 || cur <= 0 {
		return 0
	}
	return math.Log(cur / prev)
}

// Drawdown 返回累计最高值与回撤序列：drawdown = cum_max - cum_strategy。
func Drawdown(cum []float64) (cumMax, drawdown []float64) {
	cumMax = make([]float64, len(cum))
	drawdown = make([]float64, len(cum))
	peak := math.Inf(-1)
	for i, v := range cum {
		if v > peak {
			peak = v
		}
		cumMax[i] = peak
		drawdown[i] = peak - v
	}
	return cumMax, drawdown
}

func MaxOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// LongestDrawdown 为相邻两个 drawdown==0（处于净值新高）时间点之间的最大间隔。
func LongestDrawdown(times []time.Time, drawdown []float64) time.Duration {
	var (
		longest  time.Duration
		prev     time.Time
		havePrev bool
	)
	for i, d := range drawdown {
		if i >= len(times) {
			break
		}
		if d != 0 {
			continue
		}
		if havePrev {
			if gap := times[i].Sub(prev); gap > longest {
				longest = gap
			}
		}
		prev, havePrev = times[i], true
	}
	return longest
}

// Render 输出与历史回测报告一致的文本块。
func (s Summary) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Initial balance [$] %.2f\n", s.InitialBalance)
	fmt.Fprintf(&b, "Final balance   [$] %.2f\n", s.FinalBalance)
	fmt.Fprintf(&b, "Net Performance [%%] %.2f\n", s.NetPerformance)
	fmt.Fprintf(&b, "Sym Performance [%%] %.2f\n", s.SymbolPerformance)
	fmt.Fprintf(&b, "VS Sym Perform. [%%] %.2f\n", s.RelativePerformance)
	fmt.Fprintf(&b, "Trades Executed [#] %d\n", s.Trades)
	fmt.Fprintf(&b, "Max drawdown     [%%] %.2f\n", s.MaxDrawdown)
	fmt.Fprintf(&b, "Longest drawdown [t] %s\n", s.LongestDrawdown)
	b.WriteString(strings.Repeat("=", 55))
	return b.String()
}
