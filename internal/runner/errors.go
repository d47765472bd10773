package runner

import (
	"errors"
	"fmt"
)

var (
	ErrOrder      = errors.New("order failed")
	ErrClosed     = errors.New("runner closed")
	ErrNotClosed  = errors.New("runner still running")
	ErrFeedClosed = errors.New("live feed disconnected")
)

// OrderError 包装交易所下单失败；账本不会被修改。
type OrderError struct {
	Order Order
	Err   error
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("order %s %.8g (%s) failed: %v", e.Order.Side, e.Order.Quantity, e.Order.Reason, e.Err)
}

func (e *OrderError) Unwrap() error { return e.Err }

func (e *OrderError) Is(target error) bool { return target == ErrOrder }
