package report

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"crossbot/internal/ledger"
	"crossbot/internal/performance"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorLong          = "#34d399"
	colorShort         = "#f87171"
	colorCumReturns    = "#3b82f6"
	colorCumStrategy   = "#fbbf24"
	colorCumMax        = "#f472b6"

	chartWidthPx     = 1600
	equityHeightPx   = 600
	positionHeightPx = 200
)

// ChartInput 描述一张净值曲线图。
type ChartInput struct {
	Symbol   string
	Strategy string
	Summary  performance.Summary
}

// BuildChartHTML 绘制 cum_returns / cum_strategy / cum_max 三条曲线，下方为持仓方向。
func BuildChartHTML(in ChartInput) ([]byte, error) {
	rows := in.Summary.Rows
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s 没有可绘制的估值数据", in.Symbol)
	}
	xAxis := make([]string, len(rows))
	cumRet := make([]opts.LineData, len(rows))
	cumStrat := make([]opts.LineData, len(rows))
	cumMax := make([]opts.LineData, len(rows))
	pos := make([]opts.BarData, len(rows))
	for i, r := range rows {
		xAxis[i] = r.Time.UTC().Format("2006-01-02 15:04")
		cumRet[i] = opts.LineData{Value: round(r.CumReturns, 4)}
		cumStrat[i] = opts.LineData{Value: round(r.CumStrategy, 4)}
		cumMax[i] = opts.LineData{Value: round(r.CumMax, 4)}
		pos[i] = positionBar(r.Position)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", equityHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:         fmt.Sprintf("%s | %s", strings.ToUpper(in.Symbol), in.Strategy),
			Subtitle:      subtitle(in.Summary),
			Left:          "left",
			Top:           "10",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	line.SetXAxis(xAxis)
	line.AddSeries("cum_returns", cumRet,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorCumReturns, Width: 2}))
	line.AddSeries("cum_strategy", cumStrat,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorCumStrategy, Width: 2}))
	line.AddSeries("cum_max", cumMax,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorCumMax, Width: 1}))

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", positionHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{Title: "Position", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Show: opts.Bool(false)}}),
		charts.WithYAxisOpts(opts.YAxis{
			Min:       -1,
			Max:       1,
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary},
		}),
	)
	bar.SetXAxis(xAxis)
	bar.AddSeries("position", pos)

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(line, bar)
	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func positionBar(p ledger.Position) opts.BarData {
	switch p {
	case ledger.Long:
		return opts.BarData{Value: 1, ItemStyle: &opts.ItemStyle{Color: colorLong, Opacity: opts.Float(0.7)}}
	case ledger.Short:
		return opts.BarData{Value: -1, ItemStyle: &opts.ItemStyle{Color: colorShort, Opacity: opts.Float(0.7)}}
	default:
		return opts.BarData{Value: 0}
	}
}

func subtitle(s performance.Summary) string {
	return fmt.Sprintf("Net %.2f%% | Symbol %.2f%% | MaxDD %.2f%% | Trades %d",
		s.NetPerformance, s.SymbolPerformance, s.MaxDrawdown, s.Trades)
}

func round(val float64, decimals int) float64 {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return 0
	}
	p := math.Pow(10, float64(decimals))
	return math.Round(val*p) / p
}
