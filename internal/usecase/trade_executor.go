package usecase

import (
	"context"
	"fmt"

	"github.com/vitos/option_trade_exit/internal/domain"
)

// TradeExecutor routes exit instructions to the broker collaborator.
type TradeExecutor struct {
	broker domain.OrderExecutor
}

func NewTradeExecutor(broker domain.OrderExecutor) *TradeExecutor {
	return &TradeExecutor{broker: broker}
}

func (e *TradeExecutor) ExitFull(ctx context.Context, symbol string, quantity int, price float64) error {
	if quantity <= 0 {
		return fmt.Errorf("invalid exit quantity: %d", quantity)
	}
	return e.broker.ClosePosition(ctx, symbol, quantity, price)
}

func (e *TradeExecutor) ExitPartial(ctx context.Context, symbol string, quantity int, price float64) error {
	if quantity <= 0 {
		return fmt.Errorf("invalid partial exit quantity: %d", quantity)
	}
	return e.broker.ReducePosition(ctx, symbol, quantity, price)
}
