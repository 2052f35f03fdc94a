package domain

import (
	"context"
)

// TradeJournal durably records one ClosedTradeRecord per exited trade.
// The journal owns P&L and duration computation.
type TradeJournal interface {
	RecordClosedTrade(ctx context.Context, entry EntrySnapshot, exit ExitSnapshot, reason string, quantity int) (*ClosedTradeRecord, error)
	ListClosedTrades(ctx context.Context, limit int) ([]*ClosedTradeRecord, error)
	SessionSummary(ctx context.Context) (*SessionSummary, error)
}

// ReversalInput carries the open-interest and Greeks scalars the
// reversal/exhaustion detector is allowed to see.
type ReversalInput struct {
	CEOpenInterest  float64
	PEOpenInterest  float64
	Price           float64
	Delta           float64
	Gamma           float64
	Side            OptionSide
	CheckReversal   bool
	CheckExhaustion bool
}

// ReversalDetector flags smart-money reversal or trend exhaustion.
// Implementations supply their own confidence values.
type ReversalDetector interface {
	Detect(in ReversalInput) (ExitSignal, error)
}

// OrderExecutor is the broker-side collaborator. Order placement,
// confirmation and retry policy live behind this interface, off the
// tick path.
type OrderExecutor interface {
	ClosePosition(ctx context.Context, symbol string, quantity int, price float64) error
	ReducePosition(ctx context.Context, symbol string, quantity int, price float64) error
}

// TickFeed delivers validated option-chain updates. Market data reaches
// the orchestrator only through the registered callback, never by direct
// state mutation.
type TickFeed interface {
	OnTick(callback func(MarketTick))
	Subscribe(symbols []string) error
	Snapshot(ctx context.Context, symbol string) (*MarketTick, error)
	Close() error
}
