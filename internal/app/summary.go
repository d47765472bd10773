package app

import (
	"fmt"
	"strings"

	"crossbot/internal/config"
)

type StartupSummary struct {
	Env       string
	Strategy  string
	Ledger    string
	Backtest  string
	Live      string
	Store     string
	Telemetry string
	HTTPAddr  string
}

func buildStartupSummary(cfg *config.Config) *StartupSummary {
	p := cfg.Strategy.Params()
	strategy := fmt.Sprintf("%s short=%d long=%d", p.Kind, p.Short, p.Long)
	if p.Kind == "momentum" || p.Kind == "mom" {
		strategy = fmt.Sprintf("%s window=%d", p.Kind, p.Window)
	}
	telemetry := "关闭"
	if cfg.Telemetry.Enabled {
		telemetry = fmt.Sprintf("websocket /ws (buffer=%d)", cfg.Telemetry.Buffer)
	}
	return &StartupSummary{
		Env:      cfg.App.Env,
		Strategy: strategy,
		Ledger: fmt.Sprintf("cash=%.2f mode=%s fixed=%.4f rate=%.4f precision=%d",
			cfg.Ledger.InitialCash, cfg.Ledger.ModeValue(), cfg.Ledger.FixedCost, cfg.Ledger.ProportionalRate, cfg.Ledger.Precision),
		Backtest: fmt.Sprintf("%s %s source=%s [%s, %s)",
			cfg.Backtest.Symbol, cfg.Backtest.Interval, cfg.Backtest.Source, orDash(cfg.Backtest.Start), orDash(cfg.Backtest.End)),
		Live: fmt.Sprintf("%s %s dry_run=%t budget=%.2f %s/%s",
			cfg.Live.Symbol, cfg.Live.Interval, cfg.Live.DryRun, cfg.Live.Budget, cfg.Live.BaseAsset, cfg.Live.QuoteAsset),
		Store:     fmt.Sprintf("cache=%t data=%s results=%s", cfg.Store.Cache, cfg.Store.DataDir, cfg.Store.ResultsPath),
		Telemetry: telemetry,
		HTTPAddr:  cfg.HTTP.Addr,
	}
}

func (s *StartupSummary) String() string {
	var b strings.Builder
	line := strings.Repeat("=", 80)
	b.WriteString(line + "\n")
	title := "启动配置摘要 (STARTUP SUMMARY)"
	fmt.Fprintf(&b, "%*s\n", 40+len(title)/2, title)
	b.WriteString(line + "\n")
	fmt.Fprintf(&b, "  环境:     %s\n", s.Env)
	fmt.Fprintf(&b, "  策略:     %s\n", s.Strategy)
	fmt.Fprintf(&b, "  账本:     %s\n", s.Ledger)
	fmt.Fprintf(&b, "  回测:     %s\n", s.Backtest)
	fmt.Fprintf(&b, "  实盘:     %s\n", s.Live)
	fmt.Fprintf(&b, "  存储:     %s\n", s.Store)
	fmt.Fprintf(&b, "  指标推送: %s\n", s.Telemetry)
	fmt.Fprintf(&b, "  HTTP:     %s\n", s.HTTPAddr)
	b.WriteString(line + "\n")
	return b.String()
}

func (s *StartupSummary) Print() {
	if s == nil {
		return
	}
	fmt.Print(s.String())
}

func orDash(v string) string {
	if strings.TrimSpace(v) == "" {
		return "-"
	}
	return v
}
