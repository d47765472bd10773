package market

import (
	"context"
	"time"
)

// HistoricalSource 提供有限、有序、可重放的历史 bar（CSV / sqlite 缓存 / 交易所 REST）。
type HistoricalSource interface {
	Bars(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error)
	Name() string
}

// LiveFeed 是实时订阅：返回的 channel 在连接断开或 ctx 取消时关闭，
// 调用方据此触发强制平仓。Err 返回导致关闭的原因（主动关闭时为 nil）。
type LiveFeed interface {
	Subscribe(ctx context.Context) (<-chan Event, error)
	Err() error
	Close() error
}

// SliceFeed 将内存中的事件按序推送，用于模拟实时回放与测试。
type SliceFeed struct {
	events []Event
	err    error
}

func NewSliceFeed(events []Event) *SliceFeed {
	return &SliceFeed{events: append([]Event(nil), events...)}
}

// FailWith 让回放结束时表现为连接断开（Err 返回 err）。
func (f *SliceFeed) FailWith(err error) *SliceFeed {
	f.err = err
	return f
}

func (f *SliceFeed) Subscribe(ctx context.Context) (<-chan Event, error) {
	out := make(chan Event)
	go func() {
		defer close(out)
		for _, ev := range f.events {
			select {
			case <-ctx.Done():
				return
			case out <- ev:
			}
		}
	}()
	return out, nil
}

func (f *SliceFeed) Err() error { return f.err }

func (f *SliceFeed) Close() error { return nil }
