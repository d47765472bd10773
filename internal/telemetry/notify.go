package telemetry

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"crossbot/internal/gateway/notifier"
	"crossbot/internal/logger"
	"crossbot/internal/pkg/circuit"
	"crossbot/internal/runner"
)

const (
	notifyFailureThreshold = 3
	notifyCooldown         = 5 * time.Minute
	notifySendTimeout      = 20 * time.Second
)

// NotifySink 把 fill / close / error 记录异步推送给 TextNotifier。
// 队列满或熔断打开时直接丢弃，Publish 永不阻塞 runner。
type NotifySink struct {
	notifier notifier.TextNotifier
	queue    chan runner.Record
	breaker  *circuit.Breaker
	dropped  atomic.Uint64
}

func NewNotifySink(n notifier.TextNotifier, buffer int) *NotifySink {
	if buffer <= 0 {
		buffer = 32
	}
	return &NotifySink{
		notifier: n,
		queue:    make(chan runner.Record, buffer),
		breaker:  circuit.New("notifier", notifyFailureThreshold, notifyCooldown),
	}
}

func (s *NotifySink) Publish(rec runner.Record) {
	switch rec.Kind {
	case runner.RecordFill, runner.RecordClose, runner.RecordError:
	default:
		return
	}
	select {
	case s.queue <- rec:
	default:
		s.dropped.Add(1)
	}
}

func (s *NotifySink) Dropped() uint64 { return s.dropped.Load() }

// Run 消费队列直到 ctx 取消；退出前尽量发完已排队的记录（平仓通知在最后）。
func (s *NotifySink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.drain(context.WithoutCancel(ctx))
			return
		case rec := <-s.queue:
			s.send(ctx, rec)
		}
	}
}

func (s *NotifySink) drain(ctx context.Context) {
	for {
		select {
		case rec := <-s.queue:
			s.send(ctx, rec)
		default:
			return
		}
	}
}

func (s *NotifySink) send(ctx context.Context, rec runner.Record) {
	if !s.breaker.Allow() {
		s.dropped.Add(1)
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, notifySendTimeout)
	defer cancel()
	if err := s.notifier.SendText(sendCtx, FormatRecord(rec)); err != nil {
		s.breaker.RecordFailure()
		logger.Warnf("通知发送失败 run=%s kind=%s: %v", rec.RunID, rec.Kind, err)
		return
	}
	s.breaker.RecordSuccess()
}

// FormatRecord 渲染一条记录为 Markdown 通知。
func FormatRecord(rec runner.Record) string {
	icon := "🔔"
	switch rec.Kind {
	case runner.RecordFill:
		icon = "🟢"
	case runner.RecordClose:
		icon = "🏁"
	case runner.RecordError:
		icon = "⚠️"
	}
	lines := []string{
		fmt.Sprintf("price: %.4f", rec.Price),
		fmt.Sprintf("position: %s", rec.Position.String()),
		fmt.Sprintf("units: %.6f", rec.Units),
		fmt.Sprintf("balance: %.2f", rec.Cash),
		fmt.Sprintf("net_wealth: %.2f", rec.NetWealth),
	}
	msg := notifier.Message{
		Icon:     icon,
		Title:    fmt.Sprintf("%s %s", rec.Symbol, rec.Kind),
		Sections: []notifier.Section{{Title: "run " + rec.RunID, Lines: lines}},
		Time:     rec.Time,
	}
	if rec.Message != "" {
		msg.Sections = append(msg.Sections, notifier.Section{Lines: []string{rec.Message}})
	}
	return msg.Markdown()
}
