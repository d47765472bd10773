package telemetry

import (
	"log/slog"

	"crossbot/internal/logger"
	"crossbot/internal/runner"
)

// LogSink 将 fill/error/close 记录写入结构化日志，tick 只在 debug 级别输出。
type LogSink struct {
	log *slog.Logger
}

func NewLogSink() *LogSink {
	return &LogSink{log: logger.With("component", "telemetry")}
}

func (s *LogSink) Publish(rec runner.Record) {
	attrs := []any{
		"run_id", rec.RunID,
		"symbol", rec.Symbol,
		"time", rec.Time,
		"price", rec.Price,
		"position", rec.Position.String(),
		"net_wealth", rec.NetWealth,
	}
	switch rec.Kind {
	case runner.RecordFill, runner.RecordClose:
		s.log.Info(rec.Kind, append(attrs, "units", rec.Units, "balance", rec.Cash, "message", rec.Message)...)
	case runner.RecordError:
		s.log.Warn(rec.Kind, append(attrs, "message", rec.Message)...)
	case runner.RecordBar:
		s.log.Debug(rec.Kind, append(attrs, "signal", rec.Signal)...)
	default:
		s.log.Debug(rec.Kind, attrs...)
	}
}

// Fanout 依次转发到多个 sink，各 sink 自身须非阻塞。
type Fanout []runner.MetricsSink

func (f Fanout) Publish(rec runner.Record) {
	for _, s := range f {
		if s != nil {
			s.Publish(rec)
		}
	}
}
