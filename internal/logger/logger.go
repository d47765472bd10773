package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	levelVar   slog.LevelVar
	loggerMu   sync.RWMutex
	baseLogger *slog.Logger
	output     io.Writer = os.Stdout
	format               = "text"
)

func init() {
	levelVar.Set(slog.LevelInfo)
	baseLogger = newLogger(output, format)
}

func newLogger(w io.Writer, f string) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: &levelVar}
	var handler slog.Handler
	if f == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// SetOutput 切换日志输出（cmd 会传入 stdout + 日志文件的 MultiWriter）。
func SetOutput(w io.Writer) {
	loggerMu.Lock()
	output = w
	baseLogger = newLogger(output, format)
	loggerMu.Unlock()
}

// SetFormat 支持 text / json 两种 handler，未知值回退到 text。
func SetFormat(f string) {
	f = strings.ToLower(strings.TrimSpace(f))
	if f != "json" {
		f = "text"
	}
	loggerMu.Lock()
	format = f
	baseLogger = newLogger(output, format)
	loggerMu.Unlock()
}

// SetLevel 可在运行期调用（配置热更新），LevelVar 保证已派生的 logger 同步生效。
func SetLevel(level string) {
	levelVar.Set(ParseLevel(level))
}

// Level 返回当前日志级别。
func Level() slog.Level {
	return levelVar.Level()
}

// ParseLevel 将配置中的字符串转换为 slog.Level。
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func activeLogger() *slog.Logger {
	loggerMu.RLock()
	l := baseLogger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if baseLogger == nil {
		baseLogger = newLogger(output, format)
	}
	return baseLogger
}

// With 返回携带固定属性的结构化 logger，供 runner 等组件按 symbol/run_id 打点。
func With(args ...any) *slog.Logger {
	return activeLogger().With(args...)
}

func Debugf(format string, v ...any) {
	activeLogger().Debug(fmt.Sprintf(format, v...))
}

func Infof(format string, v ...any) {
	activeLogger().Info(fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	activeLogger().Warn(fmt.Sprintf(format, v...))
}

func Errorf(format string, v ...any) {
	activeLogger().Error(fmt.Sprintf(format, v...))
}

// InfoBlock 逐行输出多行文本（回测报告）。
func InfoBlock(block string) {
	block = strings.TrimSpace(block)
	if block == "" {
		return
	}
	for _, line := range strings.Split(block, "\n") {
		Infof("%s", line)
	}
}
