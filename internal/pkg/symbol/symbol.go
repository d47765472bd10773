package symbol

import (
	"strings"
)

// 未显式给出 quote 时按后缀匹配的候选，较长的优先。
var quoteCurrencies = []string{"FDUSD", "USDT", "BUSD", "USDC", "TUSD", "BTC", "ETH", "BNB"}

type Symbol struct {
	Base  string
	Quote string
}

func (s Symbol) Internal() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + "/" + s.Quote
}

func (s Symbol) Binance() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + s.Quote
}

// Parse 支持 BTC/USDT、BTCUSDT、BTC/USDT:USDT 三种写法。
func Parse(s string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Symbol{}
	}
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	if base, quote, ok := strings.Cut(s, "/"); ok {
		return Symbol{Base: strings.TrimSpace(base), Quote: strings.TrimSpace(quote)}
	}
	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Symbol{Base: s[:len(s)-len(quote)], Quote: quote}
		}
	}
	return Symbol{}
}

// ParseWithQuote 已知 quote 资产时拆出 base。
func ParseWithQuote(s, quote string) Symbol {
	quote = strings.ToUpper(strings.TrimSpace(quote))
	raw := ToBinance(s)
	if quote != "" && strings.HasSuffix(raw, quote) && len(raw) > len(quote) {
		return Symbol{Base: strings.TrimSuffix(raw, quote), Quote: quote}
	}
	return Parse(s)
}

// ToBinance 转为交易所格式：BTC/USDT、btc-usdt、BTC/USDT:USDT → BTCUSDT。
func ToBinance(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	return separators.Replace(s)
}

var separators = strings.NewReplacer("/", "", "-", "", "_", "")

func IsValid(s string) bool {
	sym := Parse(s)
	return sym.Base != "" && sym.Quote != ""
}
