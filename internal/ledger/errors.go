package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrLedger            = errors.New("ledger rejected fill")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// LedgerError 表示成交违反了账本约束，账本保持不变。
type LedgerError struct {
	Fill   Fill
	Reason string
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("ledger: %s %.8g @ %.8g rejected: %s", e.Fill.Side, e.Fill.Quantity, e.Fill.Price, e.Reason)
}

func (e *LedgerError) Is(target error) bool { return target == ErrLedger }

// InsufficientFundsError 仅在开启 CheckSolvency 时返回。
type InsufficientFundsError struct {
	Need      float64
	Available float64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: need %.8f, available %.8f", e.Need, e.Available)
}

func (e *InsufficientFundsError) Is(target error) bool { return target == ErrInsufficientFunds }
