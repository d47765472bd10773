package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_Markdown(t *testing.T) {
	msg := Message{
		Icon:  "🟢",
		Title: "BTCUSDT fill",
		Sections: []Section{
			{Title: "成交", Lines: []string{"price=100", "", "units=``` 1"}},
			{Title: "空段落", Lines: []string{" "}},
		},
		Time: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC),
	}
	out := msg.Markdown()
	assert.True(t, strings.HasPrefix(out, "🟢 BTCUSDT fill\n\n```\n成交\n- price=100\n- units=''' 1\n```"))
	assert.NotContains(t, out, "空段落")
	assert.True(t, strings.HasSuffix(out, "时间：2024-01-01 08:00:00 UTC"))
}

func TestMessage_Truncates(t *testing.T) {
	msg := Message{Title: strings.Repeat("x", maxMessageLen+100)}
	out := msg.Markdown()
	assert.Len(t, out, maxMessageLen+3)
}

func TestTelegram_SendText(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		assert.Equal(t, "/bottoken/sendMessage", r.URL.Path)
		var payload map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "42", payload["chat_id"])
		assert.Equal(t, "hello", payload["text"])
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tg := NewTelegram("token", "42")
	tg.BaseURL = srv.URL
	require.NoError(t, tg.SendText(context.Background(), "hello"))
	assert.EqualValues(t, 2, calls.Load())
}

func TestTelegram_IncompleteConfig(t *testing.T) {
	err := NewTelegram("", "42").SendText(context.Background(), "x")
	assert.Error(t, err)
}
