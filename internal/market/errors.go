package market

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPrice 用于 errors.Is 判断。
var ErrInvalidPrice = errors.New("invalid price")

// InvalidPriceError 表示 NaN/Inf/非正价格；该样本被丢弃，序列继续。
type InvalidPriceError struct {
	Time  time.Time
	Price float64
}

func (e *InvalidPriceError) Error() string {
	return fmt.Sprintf("invalid price %v at %s", e.Price, e.Time.UTC().Format(time.RFC3339))
}

func (e *InvalidPriceError) Is(target error) bool {
	return target == ErrInvalidPrice
}
