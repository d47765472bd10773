package runner

import (
	"time"

	"crossbot/internal/ledger"
)

const (
	RecordTick  = "tick"
	RecordBar   = "bar"
	RecordFill  = "fill"
	RecordError = "error"
	RecordClose = "close"
)

// Record 是推送给外部观察者的指标记录。
type Record struct {
	RunID     string          `json:"run_id"`
	Symbol    string          `json:"symbol"`
	Kind      string          `json:"kind"`
	Time      time.Time       `json:"time"`
	Price     float64         `json:"price"`
	Position  ledger.Position `json:"position"`
	Units     float64         `json:"units"`
	Cash      float64         `json:"balance"`
	NetWealth float64         `json:"net_wealth"`
	Signal    string          `json:"signal,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// MetricsSink 必须是非阻塞的；满了就丢弃。
type MetricsSink interface {
	Publish(rec Record)
}

type nopSink struct{}

func (nopSink) Publish(Record) {}

// NopSink 丢弃全部记录。
var NopSink MetricsSink = nopSink{}
