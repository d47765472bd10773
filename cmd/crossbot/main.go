package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"crossbot/internal/app"
	"crossbot/internal/config"
	"crossbot/internal/logger"
	"crossbot/internal/pkg/symbol"

	"github.com/urfave/cli/v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cliApp := &cli.App{
		Name:  "crossbot",
		Usage: "SMA / momentum 单币种回测与实盘执行",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "配置文件路径（默认读取 $CROSSBOT_CONFIG 或 configs/config.yaml）",
			},
			&cli.StringFlag{Name: "log-level", Usage: "覆盖 app.log_level"},
		},
		Commands: []*cli.Command{
			backtestCommand,
			optimizeCommand,
			fetchCommand,
			liveCommand,
			serveCommand,
		},
	}
	if err := cliApp.RunContext(ctx, os.Args); err != nil {
		log.Fatalf("运行失败: %v", err)
	}
}

var marketFlags = []cli.Flag{
	&cli.StringFlag{Name: "symbol", Usage: "交易对，例如 BTCUSDT"},
	&cli.StringFlag{Name: "interval", Usage: "bar 周期，例如 1m / 1h / 1d"},
	&cli.StringFlag{Name: "start", Usage: "开始时间（RFC3339 / 2006-01-02 / unix ms）"},
	&cli.StringFlag{Name: "end", Usage: "结束时间（不含）"},
	&cli.StringFlag{Name: "source", Usage: "数据源 binance / cache / csv"},
	&cli.StringFlag{Name: "csv", Usage: "source=csv 时的文件路径"},
}

var strategyFlags = []cli.Flag{
	&cli.StringFlag{Name: "strategy", Usage: "sma / momentum"},
	&cli.IntFlag{Name: "short", Usage: "SMA 短周期"},
	&cli.IntFlag{Name: "long", Usage: "SMA 长周期"},
	&cli.IntFlag{Name: "window", Usage: "momentum 窗口"},
	&cli.StringFlag{Name: "mode", Usage: "long_only / long_short"},
}

var backtestCommand = &cli.Command{
	Name:  "backtest",
	Usage: "用历史数据回测一次并输出报告",
	Flags: append(append([]cli.Flag{}, marketFlags...), strategyFlags...),
	Action: func(c *cli.Context) error {
		a, err := setup(c)
		if err != nil {
			return err
		}
		defer a.Close()
		_, err = a.Backtest(c.Context)
		return err
	},
}

var optimizeCommand = &cli.Command{
	Name:  "optimize",
	Usage: "在参数网格上并行回测并排序",
	Flags: append(append([]cli.Flag{}, marketFlags...),
		&cli.StringFlag{Name: "kind", Usage: "sma / momentum"},
		&cli.IntFlag{Name: "top", Value: 10, Usage: "输出前 N 组"},
		&cli.IntFlag{Name: "workers", Usage: "并发回测数量"},
	),
	Action: func(c *cli.Context) error {
		a, err := setup(c)
		if err != nil {
			return err
		}
		defer a.Close()
		_, err = a.Optimize(c.Context, c.Int("top"))
		return err
	},
}

var fetchCommand = &cli.Command{
	Name:  "fetch",
	Usage: "分页下载历史 K 线到本地缓存，可选导出 CSV",
	Flags: append(append([]cli.Flag{}, marketFlags...),
		&cli.StringFlag{Name: "out", Usage: "CSV 输出路径"},
	),
	Action: func(c *cli.Context) error {
		a, err := setup(c)
		if err != nil {
			return err
		}
		defer a.Close()
		n, err := a.Fetch(c.Context, c.String("out"))
		if err != nil {
			return err
		}
		fmt.Printf("fetched %d bars\n", n)
		return nil
	},
}

var liveCommand = &cli.Command{
	Name:  "live",
	Usage: "订阅实时行情并执行策略，Ctrl+C 时平仓退出",
	Flags: append(append([]cli.Flag{}, strategyFlags...),
		&cli.StringFlag{Name: "symbol", Usage: "交易对"},
		&cli.StringFlag{Name: "interval", Usage: "bar 周期"},
		&cli.Float64Flag{Name: "budget", Usage: "实盘预算（quote 资产）"},
		&cli.BoolFlag{Name: "dry-run", Usage: "模拟成交，不下真实订单"},
	),
	Action: func(c *cli.Context) error {
		a, err := setup(c)
		if err != nil {
			return err
		}
		defer a.Close()
		watchConfig(c)
		_, err = a.Live(c.Context)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "启动 HTTP API（回测任务、运行结果、/ws 指标推送）",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "addr", Usage: "监听地址"},
	},
	Action: func(c *cli.Context) error {
		a, err := setup(c)
		if err != nil {
			return err
		}
		defer a.Close()
		watchConfig(c)
		return a.Serve(c.Context)
	},
}

// setup 加载配置、应用命令行覆盖并构建 App。
func setup(c *cli.Context) (*app.App, error) {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return nil, err
	}
	applyOverrides(c, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := setupLogOutput(cfg.App.LogPath); err != nil {
		return nil, fmt.Errorf("初始化日志文件失败: %w", err)
	}
	a, err := app.NewApp(cfg)
	if err != nil {
		return nil, fmt.Errorf("初始化应用失败: %w", err)
	}
	a.Summary.Print()
	return a, nil
}

func loadConfig(flagPath string) (*config.Config, error) {
	path := config.ResolvePath(flagPath)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && flagPath == "" && os.Getenv(config.EnvPath) == "" {
		logger.Warnf("未找到配置文件 %s，使用默认配置", path)
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}
	logger.Infof("✓ 配置加载成功（环境=%s，path=%s）", cfg.App.Env, path)
	return cfg, nil
}

func applyOverrides(c *cli.Context, cfg *config.Config) {
	setString := func(flag string, dst *string) {
		if c.IsSet(flag) {
			*dst = strings.TrimSpace(c.String(flag))
		}
	}
	setInt := func(flag string, dst *int) {
		if c.IsSet(flag) {
			*dst = c.Int(flag)
		}
	}
	setString("log-level", &cfg.App.LogLevel)
	setString("symbol", &cfg.Backtest.Symbol)
	setString("interval", &cfg.Backtest.Interval)
	setString("start", &cfg.Backtest.Start)
	setString("end", &cfg.Backtest.End)
	setString("source", &cfg.Backtest.Source)
	setString("csv", &cfg.Backtest.CSVPath)
	setString("strategy", &cfg.Strategy.Kind)
	setInt("short", &cfg.Strategy.Short)
	setInt("long", &cfg.Strategy.Long)
	setInt("window", &cfg.Strategy.Window)
	setString("mode", &cfg.Ledger.Mode)
	setString("kind", &cfg.Optimize.Kind)
	setInt("workers", &cfg.Optimize.Workers)
	setString("addr", &cfg.HTTP.Addr)
	setString("symbol", &cfg.Live.Symbol)
	setString("interval", &cfg.Live.Interval)
	if c.IsSet("budget") {
		cfg.Live.Budget = c.Float64("budget")
	}
	if c.IsSet("dry-run") {
		cfg.Live.DryRun = c.Bool("dry-run")
	}
	cfg.Backtest.Symbol = symbol.ToBinance(cfg.Backtest.Symbol)
	if c.IsSet("symbol") {
		cfg.Live.Symbol = symbol.ToBinance(cfg.Live.Symbol)
		cfg.Live.BaseAsset = symbol.ParseWithQuote(cfg.Live.Symbol, cfg.Live.QuoteAsset).Base
	}
}

// watchConfig 在 live/serve 模式下热更新日志级别。
func watchConfig(c *cli.Context) {
	path := config.ResolvePath(c.String("config"))
	if _, err := os.Stat(path); err != nil {
		return
	}
	if _, err := config.Watch(path, config.LogLevelListener); err != nil {
		logger.Warnf("配置热更新未启用: %v", err)
	}
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
