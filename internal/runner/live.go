package runner

import (
	"context"
	"errors"
	"fmt"

	"crossbot/internal/ledger"
	"crossbot/internal/market"
)

// CheckBudget 实盘启动前确认预算不超过钱包可用余额。
func CheckBudget(ctx context.Context, gw OrderGateway, asset string, budget float64) error {
	if gw == nil {
		return fmt.Errorf("order gateway 未配置")
	}
	avail, err := gw.AvailableBalance(ctx, asset)
	if err != nil {
		return fmt.Errorf("查询 %s 余额失败: %w", asset, err)
	}
	if budget > avail {
		return &ledger.InsufficientFundsError{Need: budget, Available: avail}
	}
	return nil
}

// RunLive 在单个 goroutine 中消费实时行情。
//   - channel 关闭视为连接断开：强制平仓后结束，若 feed 报告了错误则返回 ErrFeedClosed。
//   - ctx 取消视为关停：使用脱离取消的 ctx 尽力平仓一次。
func (r *Runner) RunLive(ctx context.Context, feed market.LiveFeed) (Result, error) {
	events, err := feed.Subscribe(ctx)
	if err != nil {
		_ = r.Close(context.WithoutCancel(ctx))
		res, _ := r.Result()
		return res, fmt.Errorf("订阅行情失败: %w", err)
	}
	defer feed.Close()

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			r.log.Info("收到关停信号，准备平仓")
			break loop
		case ev, ok := <-events:
			if !ok {
				if ferr := feed.Err(); ferr != nil {
					r.log.Warn("行情连接断开，强制平仓", "error", ferr)
					runErr = fmt.Errorf("%w: %v", ErrFeedClosed, ferr)
				} else {
					r.log.Info("行情流结束")
				}
				break loop
			}
			if err := r.OnEvent(ctx, ev); err != nil && !errors.Is(err, market.ErrInvalidPrice) {
				runErr = err
				break loop
			}
		}
	}

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := r.Close(closeCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	res, err := r.Result()
	if err != nil {
		return Result{}, err
	}
	return res, runErr
}
