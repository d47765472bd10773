package signal

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParameter = errors.New("invalid strategy parameter")
	ErrInsufficientData = errors.New("insufficient data")
)

// InvalidParameterError 在构造期返回，运行期不会出现。
type InvalidParameterError struct {
	Param  string
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Param, e.Reason)
}

func (e *InvalidParameterError) Is(target error) bool { return target == ErrInvalidParameter }

// InsufficientDataError 表示历史不足；runner 将其视为 Hold。
type InsufficientDataError struct {
	Need int
	Have int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: need %d contiguous bars, have %d", e.Need, e.Have)
}

func (e *InsufficientDataError) Is(target error) bool { return target == ErrInsufficientData }
