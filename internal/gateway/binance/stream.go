package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"crossbot/internal/logger"
	"crossbot/internal/market"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

// StreamStats 记录订阅的连接情况。
type StreamStats struct {
	Connects        int    `json:"connects"`
	Reconnects      int    `json:"reconnects"`
	SubscribeErrors int    `json:"subscribe_errors"`
	Dropped         int    `json:"dropped"`
	LastError       string `json:"last_error,omitempty"`
}

// KlineStream 订阅 <symbol>@kline_<interval>，实现 market.LiveFeed。
// 断线且重连次数用尽时关闭 channel，Err 返回断线原因。
type KlineStream struct {
	cfg    Config
	url    string
	dialer *websocket.Dialer

	mu     sync.Mutex
	cancel context.CancelFunc
	err    error
	stats  StreamStats
}

func NewKlineStream(cfg Config, symbol string, interval time.Duration) (*KlineStream, error) {
	final := cfg.withDefaults()
	sym := strings.ToLower(NormalizeSymbol(symbol))
	if sym == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	iv, ok := market.ExchangeInterval(interval)
	if !ok {
		return nil, fmt.Errorf("binance 不支持的周期: %s", interval)
	}
	dialer := *websocket.DefaultDialer
	if final.ProxyEnabled {
		proxy := final.WSProxyURL
		if proxy == "" {
			proxy = final.RESTProxyURL
		}
		if proxy != "" {
			u, err := url.Parse(proxy)
			if err != nil {
				return nil, fmt.Errorf("invalid ws proxy url: %w", err)
			}
			dialer.Proxy = http.ProxyURL(u)
		}
	}
	return &KlineStream{
		cfg:    final,
		url:    fmt.Sprintf("%s/%s@kline_%s", final.WSBaseURL, sym, iv),
		dialer: &dialer,
	}, nil
}

func (s *KlineStream) URL() string { return s.url }

func (s *KlineStream) Subscribe(ctx context.Context) (<-chan market.Event, error) {
	subCtx, cancel := context.WithCancel(ctx)
	conn, err := s.dial(subCtx)
	if err != nil {
		cancel()
		return nil, err
	}
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	s.err = nil
	s.mu.Unlock()

	out := make(chan market.Event, s.cfg.Buffer)
	go func() {
		defer close(out)
		s.run(subCtx, conn, out)
	}()
	return out, nil
}

func (s *KlineStream) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		s.recordError(err, true)
		return nil, fmt.Errorf("连接 %s 失败: %w", s.url, err)
	}
	s.mu.Lock()
	s.stats.Connects++
	s.mu.Unlock()
	logger.Infof("[binance] ws 已连接 %s", s.url)
	return conn, nil
}

func (s *KlineStream) run(ctx context.Context, conn *websocket.Conn, out chan<- market.Event) {
	delay := defaultReconnectDelay
	attempts := 0
	for {
		err := s.readLoop(ctx, conn, out)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		s.recordError(err, false)
		logger.Warnf("[binance] ws 断开: %v", err)
		for {
			if attempts >= s.cfg.MaxReconnects {
				s.setErr(err)
				return
			}
			attempts++
			if !sleepWithContext(ctx, delay) {
				return
			}
			delay = nextDelay(delay)
			next, dialErr := s.dial(ctx)
			if dialErr == nil {
				conn = next
				s.mu.Lock()
				s.stats.Reconnects++
				s.mu.Unlock()
				delay = defaultReconnectDelay
				break
			}
			err = dialErr
		}
	}
}

func (s *KlineStream) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- market.Event) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		ev, ok, perr := ParseKlineMessage(data)
		if perr != nil {
			logger.Debugf("[binance] 忽略无法解析的消息: %v", perr)
			continue
		}
		if !ok {
			continue
		}
		if err := s.deliver(ctx, out, ev); err != nil {
			return err
		}
	}
}

// deliver 投递事件。通道满时只丢弃未收盘的 tick，收盘事件阻塞等待消费或 ctx 结束。
func (s *KlineStream) deliver(ctx context.Context, out chan<- market.Event, ev market.Event) error {
	if ev.Closed {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- ev:
			return nil
		}
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- ev:
	default:
		s.mu.Lock()
		s.stats.Dropped++
		s.mu.Unlock()
		logger.Debugf("[binance] kline channel full, drop tick %s", ev.Time)
	}
	return nil
}

// ParseKlineMessage 解析 kline 推送（兼容 combined stream 的 data 包装）。
// 以 k.t（开盘时间）作为事件时间，保证收盘事件落在所属的桶内。
func ParseKlineMessage(data []byte) (market.Event, bool, error) {
	if !gjson.ValidBytes(data) {
		return market.Event{}, false, errors.New("invalid json")
	}
	root := gjson.ParseBytes(data)
	if inner := root.Get("data"); inner.Exists() {
		root = inner
	}
	if et := root.Get("e"); et.Exists() && et.String() != "kline" {
		return market.Event{}, false, nil
	}
	k := root.Get("k")
	if !k.Exists() {
		return market.Event{}, false, nil
	}
	ts := k.Get("t").Int()
	if ts <= 0 {
		ts = root.Get("E").Int()
	}
	if ts <= 0 {
		return market.Event{}, false, errors.New("missing kline time")
	}
	closeField := k.Get("c")
	if !closeField.Exists() {
		return market.Event{}, false, errors.New("missing close price")
	}
	price := closeField.Float()
	return market.Event{
		Time:   time.UnixMilli(ts).UTC(),
		Price:  price,
		Closed: k.Get("x").Bool(),
	}, true, nil
}

func (s *KlineStream) recordError(err error, subscribe bool) {
	if err == nil {
		return
	}
	s.mu.Lock()
	if subscribe {
		s.stats.SubscribeErrors++
	}
	s.stats.LastError = err.Error()
	s.mu.Unlock()
}

func (s *KlineStream) setErr(err error) {
	if err == nil {
		err = errors.New("connection closed")
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Err 返回导致订阅结束的原因；主动关闭时为 nil。
func (s *KlineStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *KlineStream) Stats() StreamStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *KlineStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	return nil
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextDelay(current time.Duration) time.Duration {
	if current <= 0 {
		return time.Second
	}
	next := current * 2
	if next > 30*time.Second {
		next = 30 * time.Second
	}
	return next
}
