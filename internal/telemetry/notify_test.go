package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"crossbot/internal/ledger"
	"crossbot/internal/pkg/circuit"
	"crossbot/internal/runner"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) SendText(ctx context.Context, text string) error {
	return m.Called(text).Error(0)
}

func TestNotifySink_ForwardsTradeRecords(t *testing.T) {
	n := new(mockNotifier)
	sent := make(chan string, 4)
	n.On("SendText", mock.AnythingOfType("string")).Run(func(args mock.Arguments) {
		sent <- args.String(0)
	}).Return(nil)

	sink := NewNotifySink(n, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sink.Run(ctx)

	sink.Publish(runner.Record{Kind: runner.RecordTick, Symbol: "BTCUSDT"})
	sink.Publish(runner.Record{Kind: runner.RecordBar, Symbol: "BTCUSDT"})
	sink.Publish(runner.Record{Kind: runner.RecordFill, Symbol: "BTCUSDT", RunID: "r1", Price: 101.5, Position: ledger.Long})

	select {
	case text := <-sent:
		assert.Contains(t, text, "BTCUSDT fill")
		assert.Contains(t, text, "price: 101.5000")
		assert.Contains(t, text, "run r1")
	case <-time.After(2 * time.Second):
		t.Fatal("notification not sent")
	}
	assert.Never(t, func() bool { return len(sent) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
	n.AssertNumberOfCalls(t, "SendText", 1)
}

func TestNotifySink_DropsWhenFull(t *testing.T) {
	sink := NewNotifySink(new(mockNotifier), 1)
	for i := 0; i < 5; i++ {
		sink.Publish(runner.Record{Kind: runner.RecordError})
	}
	assert.EqualValues(t, 4, sink.Dropped())
}

func TestNotifySink_BreakerStopsSending(t *testing.T) {
	n := new(mockNotifier)
	n.On("SendText", mock.Anything).Return(errors.New("boom"))
	sink := NewNotifySink(n, 8)
	ctx := context.Background()
	for i := 0; i < notifyFailureThreshold+2; i++ {
		sink.send(ctx, runner.Record{Kind: runner.RecordError, Message: "x"})
	}
	assert.Equal(t, circuit.StateOpen, sink.breaker.State())
	n.AssertNumberOfCalls(t, "SendText", notifyFailureThreshold)
	assert.EqualValues(t, 2, sink.Dropped())
}
