package binance

import (
	"strings"
	"time"
)

const (
	defaultRESTBaseURL    = "https://api.binance.com"
	defaultWSBaseURL      = "wss://stream.binance.com:9443/ws"
	testnetRESTBaseURL    = "https://testnet.binance.vision"
	testnetWSBaseURL      = "wss://testnet.binance.vision/ws"
	defaultPageLimit      = 1000
	defaultReconnectDelay = time.Second
)

type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool

	RESTBaseURL string
	WSBaseURL   string
	HTTPTimeout time.Duration

	// PageLimit 为单次 klines 请求数量（交易所上限 1000）。
	PageLimit int
	// MaxReconnects 为断线后的重连次数；0 表示断线即结束订阅（触发强制平仓）。
	MaxReconnects int
	Buffer        int

	ProxyEnabled bool
	RESTProxyURL string
	WSProxyURL   string
}

func (c *Config) withDefaults() Config {
	out := *c
	out.APIKey = strings.TrimSpace(out.APIKey)
	out.APISecret = strings.TrimSpace(out.APISecret)
	out.RESTBaseURL = strings.TrimRight(strings.TrimSpace(out.RESTBaseURL), "/")
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = defaultRESTBaseURL
		if out.Testnet {
			out.RESTBaseURL = testnetRESTBaseURL
		}
	}
	out.WSBaseURL = strings.TrimRight(strings.TrimSpace(out.WSBaseURL), "/")
	if out.WSBaseURL == "" {
		out.WSBaseURL = defaultWSBaseURL
		if out.Testnet {
			out.WSBaseURL = testnetWSBaseURL
		}
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	if out.PageLimit <= 0 || out.PageLimit > defaultPageLimit {
		out.PageLimit = defaultPageLimit
	}
	if out.MaxReconnects < 0 {
		out.MaxReconnects = 0
	}
	if out.Buffer <= 0 {
		out.Buffer = 512
	}
	out.RESTProxyURL = strings.TrimSpace(out.RESTProxyURL)
	out.WSProxyURL = strings.TrimSpace(out.WSProxyURL)
	return out
}
