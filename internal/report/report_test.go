package report

import (
	"context"
	"os"
	"testing"
	"time"

	"crossbot/internal/ledger"
	"crossbot/internal/optimize"
	"crossbot/internal/performance"
	"crossbot/internal/signal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

var t0 = time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)

func sampleSummary() performance.Summary {
	points := []performance.ValuationPoint{
		{Time: t0, NetWealth: 1000, Position: ledger.Flat},
		{Time: t0.Add(time.Hour), NetWealth: 1000, Position: ledger.Long},
		{Time: t0.Add(2 * time.Hour), NetWealth: 1100, Position: ledger.Long},
		{Time: t0.Add(3 * time.Hour), NetWealth: 1050, Position: ledger.Short},
	}
	return performance.Summarize(points, []float64{100, 100, 110, 105}, 3, 1000)
}

func TestBuildChartHTML(t *testing.T) {
	html, err := BuildChartHTML(ChartInput{Symbol: "btcusdt", Strategy: "sma(2,3)", Summary: sampleSummary()})
	require.NoError(t, err)
	body := string(html)
	assert.Contains(t, body, "cum_strategy")
	assert.Contains(t, body, "cum_max")
	assert.Contains(t, body, "BTCUSDT")

	_, err = BuildChartHTML(ChartInput{Symbol: "x"})
	assert.Error(t, err)
}

func TestWriter_WriteBacktest(t *testing.T) {
	w := Writer{Dir: t.TempDir()}
	sum := sampleSummary()
	doc := NewSummaryDoc("run-1", "BTCUSDT", "sma(2,3)", "1h", sum)
	assert.Equal(t, t0, doc.Start)
	assert.Equal(t, t0.Add(3*time.Hour), doc.End)

	arts, err := w.WriteBacktest(context.Background(), doc, sum)
	require.NoError(t, err)
	assert.FileExists(t, arts.Summary)
	assert.FileExists(t, arts.HTML)
	assert.Empty(t, arts.PNG)

	raw, err := os.ReadFile(arts.Summary)
	require.NoError(t, err)
	var back SummaryDoc
	require.NoError(t, yaml.Unmarshal(raw, &back))
	assert.Equal(t, "run-1", back.RunID)
	assert.Equal(t, sum.FinalBalance, back.FinalBalance)
	assert.Equal(t, 3, back.Trades)
}

func TestWriter_WriteOutcomes(t *testing.T) {
	w := Writer{Dir: t.TempDir()}
	p, err := w.WriteOutcomes("sweep", []optimize.Outcome{
		{Strategy: "sma(5,20)", Params: signal.Params{Kind: "sma", Short: 5, Long: 20}, NetPerformance: 12.5},
	})
	require.NoError(t, err)
	raw, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "sma(5,20)")
	assert.Contains(t, string(raw), "net_performance_pct: 12.5")
}

func TestWriter_RequiresDir(t *testing.T) {
	_, err := Writer{}.WriteOutcomes("x", nil)
	assert.Error(t, err)
}
