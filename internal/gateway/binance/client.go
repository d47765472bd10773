package binance

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"crossbot/internal/pkg/symbol"

	gobinance "github.com/adshao/go-binance/v2"
)

// Client 封装 go-binance 现货 REST 客户端，提供历史 K 线、市价下单与余额查询。
type Client struct {
	cfg    Config
	client *gobinance.Client
}

func New(cfg Config) (*Client, error) {
	final := cfg.withDefaults()
	client := gobinance.NewClient(final.APIKey, final.APISecret)
	client.BaseURL = final.RESTBaseURL
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyEnabled && final.RESTProxyURL != "" {
		proxyURL, err := url.Parse(final.RESTProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	return &Client{cfg: final, client: client}, nil
}

func (c *Client) Config() Config { return c.cfg }

// NormalizeSymbol BTC/USDT、btc-usdt → BTCUSDT。
func NormalizeSymbol(sym string) string {
	return symbol.ToBinance(sym)
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}

func formatQuantity(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}
