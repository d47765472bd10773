package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"crossbot/internal/logger"
	"crossbot/internal/optimize"
	"crossbot/internal/performance"

	"gopkg.in/yaml.v3"
)

// SummaryDoc 是回测汇总的 YAML 形态。
type SummaryDoc struct {
	RunID               string    `yaml:"run_id"`
	Symbol              string    `yaml:"symbol"`
	Strategy            string    `yaml:"strategy"`
	Interval            string    `yaml:"interval"`
	Start               time.Time `yaml:"start"`
	End                 time.Time `yaml:"end"`
	InitialBalance      float64   `yaml:"initial_balance"`
	FinalBalance        float64   `yaml:"final_balance"`
	NetPerformance      float64   `yaml:"net_performance_pct"`
	SymbolPerformance   float64   `yaml:"symbol_performance_pct"`
	RelativePerformance float64   `yaml:"relative_performance_pct"`
	Trades              int       `yaml:"trades"`
	MaxDrawdown         float64   `yaml:"max_drawdown_pct"`
	LongestDrawdown     string    `yaml:"longest_drawdown"`
}

func NewSummaryDoc(runID, symbol, strategy, interval string, s performance.Summary) SummaryDoc {
	doc := SummaryDoc{
		RunID:               runID,
		Symbol:              symbol,
		Strategy:            strategy,
		Interval:            interval,
		InitialBalance:      s.InitialBalance,
		FinalBalance:        s.FinalBalance,
		NetPerformance:      s.NetPerformance,
		SymbolPerformance:   s.SymbolPerformance,
		RelativePerformance: s.RelativePerformance,
		Trades:              s.Trades,
		MaxDrawdown:         s.MaxDrawdown,
		LongestDrawdown:     s.LongestDrawdown.String(),
	}
	if n := len(s.Rows); n > 0 {
		doc.Start = s.Rows[0].Time
		doc.End = s.Rows[n-1].Time
	}
	return doc
}

// Writer 把报告写入 dir，文件名以 run id 为前缀。
type Writer struct {
	Dir string
	PNG bool
}

type Artifacts struct {
	Summary string `json:"summary,omitempty"`
	HTML    string `json:"html,omitempty"`
	PNG     string `json:"png,omitempty"`
}

func (w Writer) path(name string) (string, error) {
	if strings.TrimSpace(w.Dir) == "" {
		return "", fmt.Errorf("report dir 不能为空")
	}
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(w.Dir, name), nil
}

// WriteBacktest 写出 YAML 汇总与 HTML 图表；PNG 失败只记录警告。
func (w Writer) WriteBacktest(ctx context.Context, doc SummaryDoc, s performance.Summary) (Artifacts, error) {
	var out Artifacts
	summaryPath, err := w.path(doc.RunID + "_summary.yaml")
	if err != nil {
		return out, err
	}
	if err := writeYAML(summaryPath, doc); err != nil {
		return out, err
	}
	out.Summary = summaryPath
	if len(s.Rows) == 0 {
		return out, nil
	}
	html, err := BuildChartHTML(ChartInput{Symbol: doc.Symbol, Strategy: doc.Strategy, Summary: s})
	if err != nil {
		return out, err
	}
	htmlPath, _ := w.path(doc.RunID + "_chart.html")
	if err := os.WriteFile(htmlPath, html, 0o644); err != nil {
		return out, err
	}
	out.HTML = htmlPath
	if !w.PNG {
		return out, nil
	}
	png, err := RenderPNG(ctx, html)
	if err != nil {
		logger.Warnf("[report] PNG 渲染失败（可能缺少 Chrome）: %v", err)
		return out, nil
	}
	pngPath, _ := w.path(doc.RunID + "_chart.png")
	if err := os.WriteFile(pngPath, png, 0o644); err != nil {
		return out, err
	}
	out.PNG = pngPath
	return out, nil
}

// WriteOutcomes 导出参数优化结果（已排序）。
func (w Writer) WriteOutcomes(name string, outcomes []optimize.Outcome) (string, error) {
	p, err := w.path(name + "_optimize.yaml")
	if err != nil {
		return "", err
	}
	if err := writeYAML(p, map[string]any{"outcomes": outcomes}); err != nil {
		return "", err
	}
	return p, nil
}

func writeYAML(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		f.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
