package apihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"crossbot/internal/ledger"
	"crossbot/internal/performance"
	"crossbot/internal/runner"
	"crossbot/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)

type fakeBacktester struct {
	calls atomic.Int32
	err   error
}

func (f *fakeBacktester) Backtest(_ context.Context, runID string, req RunRequest) (runner.Result, error) {
	f.calls.Add(1)
	if f.err != nil {
		return runner.Result{}, f.err
	}
	return runner.Result{
		RunID:    runID,
		Symbol:   req.Symbol,
		Strategy: "sma(2,3)",
		Valuations: []performance.ValuationPoint{
			{Time: t0, NetWealth: 1000, Position: ledger.Flat},
			{Time: t0.Add(time.Hour), NetWealth: 1020, Position: ledger.Long},
		},
		Prices: []float64{100, 102},
		Fills:  []ledger.Fill{{Time: t0, Side: ledger.Buy, Quantity: 10, Price: 100, Reason: "go_long"}},
		Summary: performance.Summary{
			InitialBalance: 1000, FinalBalance: 1020, NetPerformance: 2, Trades: 1,
		},
	}, nil
}

func newTestServer(t *testing.T, bt Backtester, live LiveStatus) (*Server, *store.ResultStore) {
	t.Helper()
	rs, err := store.NewResultStore(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	s, err := NewServer(Config{Results: rs, Backtester: bt, Live: live, MaxConcurrentRuns: 1})
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Close()
		rs.Close()
	})
	return s, rs
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch v := body.(type) {
		case string:
			buf.WriteString(v)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(v))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	out := map[string]any{}
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func TestRunStart_ValidatesSchema(t *testing.T) {
	s, _ := newTestServer(t, &fakeBacktester{}, nil)
	cases := map[string]string{
		"not json":         `{`,
		"missing strategy": `{"symbol":"BTCUSDT"}`,
		"unknown kind":     `{"symbol":"BTCUSDT","strategy":{"kind":"rsi"}}`,
		"negative cash":    `{"symbol":"BTCUSDT","initial_cash":-1,"strategy":{"kind":"sma","short":2,"long":5}}`,
		"extra field":      `{"symbol":"BTCUSDT","leverage":10,"strategy":{"kind":"sma","short":2,"long":5}}`,
		"short >= long":    `{"symbol":"BTCUSDT","strategy":{"kind":"sma","short":5,"long":5}}`,
		"bad mode":         `{"symbol":"BTCUSDT","mode":"hedge","strategy":{"kind":"momentum","window":3}}`,
		"zero window":      `{"symbol":"BTCUSDT","strategy":{"kind":"momentum","window":0}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec, out := doJSON(t, s.Handler(), http.MethodPost, "/api/runs", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, out["error"])
		})
	}
}

func TestRunStart_PersistsResult(t *testing.T) {
	bt := &fakeBacktester{}
	s, rs := newTestServer(t, bt, nil)
	rec, out := doJSON(t, s.Handler(), http.MethodPost, "/api/runs", map[string]any{
		"symbol":   "btcusdt",
		"interval": "1h",
		"strategy": map[string]any{"kind": "sma", "short": 2, "long": 3},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	run, ok := out["run"].(map[string]any)
	require.True(t, ok)
	id, _ := run["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "BTCUSDT", run["symbol"])

	require.Eventually(t, func() bool {
		r, err := rs.GetRun(context.Background(), id)
		return err == nil && r.Status == store.RunStatusDone
	}, 5*time.Second, 20*time.Millisecond)

	rec, out = doJSON(t, s.Handler(), http.MethodGet, "/api/runs/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := out["run"].(map[string]any)
	assert.Equal(t, 1020.0, detail["final_balance"])

	rec, out = doJSON(t, s.Handler(), http.MethodGet, "/api/runs/"+id+"/fills", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, out["fills"], 1)

	rec, out = doJSON(t, s.Handler(), http.MethodGet, "/api/runs/"+id+"/valuations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, out["valuations"], 2)

	rec, out = doJSON(t, s.Handler(), http.MethodGet, "/api/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, out["runs"], 1)
}

func TestRunStart_FailureRecorded(t *testing.T) {
	bt := &fakeBacktester{err: errors.New("no data")}
	s, rs := newTestServer(t, bt, nil)
	rec, out := doJSON(t, s.Handler(), http.MethodPost, "/api/runs", map[string]any{
		"symbol":   "BTCUSDT",
		"strategy": map[string]any{"kind": "momentum", "window": 3},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	id := out["run"].(map[string]any)["id"].(string)
	require.Eventually(t, func() bool {
		r, err := rs.GetRun(context.Background(), id)
		return err == nil && r.Status == store.RunStatusFailed && r.Message == "no data"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestRunDetail_NotFound(t *testing.T) {
	s, _ := newTestServer(t, &fakeBacktester{}, nil)
	rec, _ := doJSON(t, s.Handler(), http.MethodGet, "/api/runs/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLiveStatus(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)
	rec, _ := doJSON(t, s.Handler(), http.MethodGet, "/api/live/status", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	s, _ = newTestServer(t, nil, func() (runner.Status, bool) {
		return runner.Status{Symbol: "BTCUSDT", State: "running", LastPrice: 101}, true
	})
	rec, out := doJSON(t, s.Handler(), http.MethodGet, "/api/live/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := out["status"].(map[string]any)
	assert.Equal(t, "running", st["state"])
	assert.Equal(t, 101.0, st["last_price"])

	rec, _ = doJSON(t, s.Handler(), http.MethodPost, "/api/runs", `{"symbol":"BTCUSDT","strategy":{"kind":"sma","short":2,"long":3}}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
